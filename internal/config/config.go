package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken    string           `yaml:"discord_token"`
	BotName         string           `yaml:"bot_name"`
	Version         string           `yaml:"version"`
	Prefix          string           `yaml:"prefix"`
	AllowedChannels []string         `yaml:"allowed_channels"`
	OwnerIDs        []string         `yaml:"owner_ids"`
	DevMode         bool             `yaml:"dev_mode"`
	LogLevel        string           `yaml:"log_level"`
	RetentionDays   int              `yaml:"retention_days"`
	Database        DatabaseConfig   `yaml:"database"`
	Health          HealthConfig     `yaml:"health"`
	Classifier      ClassifierConfig `yaml:"classifier"`
	Presence        PresenceConfig   `yaml:"presence"`
	Actions         ActionConfig     `yaml:"actions"`
	Notifications   NotifyConfig     `yaml:"notifications"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type ClassifierConfig struct {
	Backend           string              `yaml:"backend"`
	ModelPath         string              `yaml:"model_path"`
	VocabPath         string              `yaml:"vocab_path"`
	LibraryPath       string              `yaml:"library_path"`
	Labels            []string            `yaml:"labels"`
	DefaultThreshold  float64             `yaml:"default_threshold"`
	MaxSequenceLength int                 `yaml:"max_sequence_length"`
	Keywords          map[string][]string `yaml:"keywords"`
}

type PresenceConfig struct {
	IntervalMinutes int    `yaml:"interval_minutes"`
	DefaultType     string `yaml:"default_type"`
	DefaultText     string `yaml:"default_text"`
}

type ActionConfig struct {
	Default        []string         `yaml:"default"`
	ModLogChannel  string           `yaml:"mod_log_channel"`
	TimeoutMinutes int              `yaml:"timeout_minutes"`
	Escalation     EscalationConfig `yaml:"escalation"`
}

type EscalationConfig struct {
	Count         int    `yaml:"count"`
	WindowMinutes int    `yaml:"window_minutes"`
	Action        string `yaml:"action"`
}

type NotifyConfig struct {
	AuditToChannel bool        `yaml:"audit_to_channel"`
	EmbedColors    EmbedColors `yaml:"embed_colors"`
}

type EmbedColors struct {
	Action  int `yaml:"action"`
	Warning int `yaml:"warning"`
	Error   int `yaml:"error"`
}

func DefaultConfig() Config {
	return Config{
		BotName:       "ToxiGuard",
		Version:       "1.0.0",
		Prefix:        "!",
		LogLevel:      "info",
		RetentionDays: 90,
		Database:      DatabaseConfig{Driver: "sqlite", DSN: "/data/toxiguard.db"},
		Health:        HealthConfig{Enabled: false, Addr: ":8080"},
		Classifier: ClassifierConfig{
			Backend:           "keyword",
			Labels:            DefaultLabels(),
			DefaultThreshold:  9,
			MaxSequenceLength: 128,
		},
		Presence: PresenceConfig{IntervalMinutes: 15, DefaultType: "watching", DefaultText: "the chat"},
		Actions: ActionConfig{
			Default:        []string{"delete", "warn", "notify"},
			TimeoutMinutes: 10,
			Escalation:     EscalationConfig{Count: 3, WindowMinutes: 10, Action: "timeout"},
		},
		Notifications: NotifyConfig{
			AuditToChannel: false,
			EmbedColors: EmbedColors{
				Action:  0xF59E0B,
				Warning: 0xEF4444,
				Error:   0xF97316,
			},
		},
	}
}

// ActionNames lists the moderation actions in execution order: messages go
// out before the original is deleted and the member is removed.
func ActionNames() []string {
	return []string{"log", "notify", "warn", "dm", "delete", "timeout", "kick", "ban"}
}

// DefaultLabels is the category set of the toxicity model.
func DefaultLabels() []string {
	return []string{"identity_attack", "insult", "obscene", "severe_toxicity", "sexual_explicit", "threat", "toxicity"}
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}
	if cfg.Prefix == "" {
		return Config{}, errors.New("PREFIX must not be empty")
	}
	if len(cfg.Classifier.Labels) == 0 {
		cfg.Classifier.Labels = DefaultLabels()
	}
	if err := validate(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.DevMode {
		cfg.LogLevel = "debug"
	}

	return cfg, nil
}

// validate normalizes enumerated settings and rejects values the bot cannot
// run with.
func validate(cfg *Config) error {
	driver, err := normalizeDriver(cfg.Database.Driver)
	if err != nil {
		return err
	}
	cfg.Database.Driver = driver

	backend, err := normalizeBackend(cfg.Classifier.Backend)
	if err != nil {
		return err
	}
	cfg.Classifier.Backend = backend

	threshold := cfg.Classifier.DefaultThreshold
	if math.IsNaN(threshold) || threshold <= 0 || threshold > 10 {
		return fmt.Errorf("classifier threshold must be greater than 0 and at most 10, got %v", threshold)
	}

	for i, name := range cfg.Actions.Default {
		name = strings.ToLower(strings.TrimSpace(name))
		if !knownAction(name) {
			return fmt.Errorf("unknown default action %q", name)
		}
		cfg.Actions.Default[i] = name
	}
	if cfg.Actions.Escalation.Action != "" {
		name := strings.ToLower(strings.TrimSpace(cfg.Actions.Escalation.Action))
		if !knownAction(name) {
			return fmt.Errorf("unknown escalation action %q", name)
		}
		cfg.Actions.Escalation.Action = name
	}
	return nil
}

func knownAction(name string) bool {
	for _, candidate := range ActionNames() {
		if candidate == name {
			return true
		}
	}
	return false
}

func applyEnv(cfg *Config) error {
	cfg.DiscordToken = envString("DISCORD_TOKEN", envString("TOKEN", cfg.DiscordToken))
	cfg.BotName = envString("BOT_NAME", cfg.BotName)
	cfg.Version = envString("VERSION", cfg.Version)
	cfg.Prefix = envString("PREFIX", cfg.Prefix)
	cfg.AllowedChannels = envList("ALLOWED_CHANNELS", cfg.AllowedChannels)
	cfg.OwnerIDs = envList("OWNER_IDS", cfg.OwnerIDs)
	cfg.DevMode = envBool("DEV_MODE", cfg.DevMode)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.RetentionDays = envInt("LOG_RETENTION_DAYS", cfg.RetentionDays)
	cfg.Database.Driver = envString("DATABASE_DRIVER", cfg.Database.Driver)
	cfg.Database.DSN = envString("DATABASE_DSN", cfg.Database.DSN)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Classifier.Backend = envString("CLASSIFIER_BACKEND", cfg.Classifier.Backend)
	cfg.Classifier.ModelPath = envString("CLASSIFIER_MODEL_PATH", cfg.Classifier.ModelPath)
	cfg.Classifier.VocabPath = envString("CLASSIFIER_VOCAB_PATH", cfg.Classifier.VocabPath)
	cfg.Classifier.LibraryPath = envString("CLASSIFIER_LIBRARY_PATH", cfg.Classifier.LibraryPath)
	threshold, err := envFloat("CLASSIFIER_THRESHOLD", cfg.Classifier.DefaultThreshold)
	if err != nil {
		return err
	}
	cfg.Classifier.DefaultThreshold = threshold
	cfg.Presence.IntervalMinutes = envInt("PRESENCE_INTERVAL_MINUTES", cfg.Presence.IntervalMinutes)
	cfg.Actions.Default = envList("ACTIONS_DEFAULT", cfg.Actions.Default)
	cfg.Actions.ModLogChannel = envString("MOD_LOG_CHANNEL", cfg.Actions.ModLogChannel)
	cfg.Actions.TimeoutMinutes = envInt("ACTIONS_TIMEOUT_MINUTES", cfg.Actions.TimeoutMinutes)
	cfg.Actions.Escalation.Count = envInt("ESCALATION_COUNT", cfg.Actions.Escalation.Count)
	cfg.Actions.Escalation.WindowMinutes = envInt("ESCALATION_WINDOW_MINUTES", cfg.Actions.Escalation.WindowMinutes)
	cfg.Actions.Escalation.Action = envString("ESCALATION_ACTION", cfg.Actions.Escalation.Action)
	cfg.Notifications.AuditToChannel = envBool("AUDIT_TO_CHANNEL", cfg.Notifications.AuditToChannel)
	cfg.Notifications.EmbedColors.Action = envInt("EMBED_COLOR_ACTION", cfg.Notifications.EmbedColors.Action)
	cfg.Notifications.EmbedColors.Warning = envInt("EMBED_COLOR_WARNING", cfg.Notifications.EmbedColors.Warning)
	cfg.Notifications.EmbedColors.Error = envInt("EMBED_COLOR_ERROR", cfg.Notifications.EmbedColors.Error)
	return nil
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(strings.ToLower(level)))

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return 0, fmt.Errorf("%s must be a number, got %q", key, value)
	}
	return parsed, nil
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}

// envList reads a comma separated list; blank entries are dropped.
func envList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func normalizeDriver(value string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "sqlite", "sqlite3":
		return "sqlite", nil
	case "postgres", "postgresql", "pgx":
		return "postgres", nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", value)
	}
}

func normalizeBackend(value string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "keyword":
		return "keyword", nil
	case "onnx":
		return "onnx", nil
	default:
		return "", fmt.Errorf("unsupported classifier backend %q", value)
	}
}
