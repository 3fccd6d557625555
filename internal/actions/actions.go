// Package actions runs the configured moderation reactions for flagged
// messages.
package actions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"toxiguard/internal/audit"
	"toxiguard/internal/classifier"
	"toxiguard/internal/config"
	"toxiguard/internal/storage"
	"toxiguard/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	Log     = "log"
	Notify  = "notify"
	Warn    = "warn"
	DM      = "dm"
	Delete  = "delete"
	Timeout = "timeout"
	Kick    = "kick"
	Ban     = "ban"
)

const (
	StatusOK        = "ok"
	StatusFailed    = "failed"
	StatusSimulated = "simulated"
	StatusSkipped   = "skipped"
)

var (
	ErrInvalidAction   = errors.New("unknown action")
	ErrInvalidCategory = errors.New("unknown category")
)

// order is also the execution order.
var order = config.ActionNames()

// enforcing actions are simulated in dev mode.
var enforcing = map[string]bool{Delete: true, Timeout: true, Kick: true, Ban: true}

func Names() []string {
	return append([]string(nil), order...)
}

func Valid(name string) bool {
	return rank(name) >= 0
}

func rank(name string) int {
	for i, candidate := range order {
		if candidate == name {
			return i
		}
	}
	return -1
}

// Session is the slice of the Discord REST API the manager needs.
type Session interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	GuildMemberTimeout(guildID, userID string, until *time.Time, options ...discordgo.RequestOption) error
	GuildMemberDeleteWithReason(guildID, userID, reason string, options ...discordgo.RequestOption) error
	GuildBanCreateWithReason(guildID, userID, reason string, days int, options ...discordgo.RequestOption) error
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
}

type Params struct {
	Message *discordgo.Message
	Result  classifier.Result
}

// Outcome is one executed action.
type Outcome struct {
	Action string
	Status string
	Err    error
}

type Manager struct {
	cfg     config.ActionConfig
	colors  config.EmbedColors
	botName string
	labels  []string
	devMode bool
	store   *storage.Store
	audit   *audit.Logger
	logger  *zap.Logger
	windows *utils.KeyedWindows
	now     func() time.Time

	mu      sync.RWMutex
	session Session
}

func NewManager(cfg config.Config, store *storage.Store, auditLogger *audit.Logger, logger *zap.Logger) *Manager {
	window := time.Duration(cfg.Actions.Escalation.WindowMinutes) * time.Minute
	if window <= 0 {
		window = 10 * time.Minute
	}
	return &Manager{
		cfg:     cfg.Actions,
		colors:  cfg.Notifications.EmbedColors,
		botName: cfg.BotName,
		labels:  cfg.Classifier.Labels,
		devMode: cfg.DevMode,
		store:   store,
		audit:   auditLogger,
		logger:  logger,
		windows: utils.NewKeyedWindows(window),
		now:     time.Now,
	}
}

func (m *Manager) SetSession(session Session) {
	m.mu.Lock()
	m.session = session
	m.mu.Unlock()
}

func (m *Manager) getSession() Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// Respond runs every action selected for the flagged categories of
// p.Result. A failing action does not stop the others; failures are
// returned joined.
func (m *Manager) Respond(ctx context.Context, p Params) ([]Outcome, error) {
	if p.Message == nil || p.Message.Author == nil || !p.Result.Flagged {
		return nil, nil
	}
	categories := flaggedCategories(p.Result)
	selected, err := m.Select(ctx, categories)
	if err != nil {
		return nil, err
	}

	userID := p.Message.Author.ID
	if m.cfg.Escalation.Count > 0 && m.cfg.Escalation.Action != "" {
		if hits := m.windows.Hit(userID, m.now()); hits >= m.cfg.Escalation.Count {
			m.windows.Reset(userID)
			selected = merge(selected, []string{m.cfg.Escalation.Action})
			m.logger.Info("escalating repeat offender",
				zap.String("user_id", userID),
				zap.Int("flags", hits),
				zap.String("action", m.cfg.Escalation.Action),
			)
		}
	}

	outcomes := make([]Outcome, 0, len(selected))
	var errs []error
	for _, action := range selected {
		outcome := m.execute(ctx, action, p.Message, categories, selected)
		outcomes = append(outcomes, outcome)
		m.record(ctx, p.Message, outcome, categories)
		if outcome.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", action, outcome.Err))
		}
	}

	if m.audit != nil {
		m.audit.Log(ctx, audit.LevelWarn, audit.EventAction, fmt.Sprintf("user=%s channel=%s categories=%s actions=%s",
			userID, p.Message.ChannelID, strings.Join(categories, ","), summarize(outcomes)))
	}
	return outcomes, errors.Join(errs...)
}

// Select returns the ordered action list for categories: a stored rule per
// category where one exists, else the configured default.
func (m *Manager) Select(ctx context.Context, categories []string) ([]string, error) {
	rules, err := m.store.ListActionRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load action rules: %w", err)
	}
	byCategory := make(map[string][]string, len(rules))
	for _, rule := range rules {
		byCategory[rule.Category] = rule.Actions
	}

	var selected []string
	for _, category := range categories {
		if actions, ok := byCategory[category]; ok {
			selected = merge(selected, actions)
			continue
		}
		selected = merge(selected, m.cfg.Default)
	}
	return selected, nil
}

func (m *Manager) execute(ctx context.Context, action string, msg *discordgo.Message, categories, selected []string) Outcome {
	if m.devMode && enforcing[action] {
		return Outcome{Action: action, Status: StatusSimulated}
	}
	if action == Log {
		return Outcome{Action: action, Status: StatusOK}
	}

	session := m.getSession()
	if session == nil {
		return Outcome{Action: action, Status: StatusSkipped}
	}

	userID := msg.Author.ID
	reason := fmt.Sprintf("%s: flagged for %s", m.botName, strings.Join(categories, ", "))
	var err error
	switch action {
	case Notify:
		if m.cfg.ModLogChannel == "" {
			return Outcome{Action: action, Status: StatusSkipped}
		}
		_, err = session.ChannelMessageSendEmbed(m.cfg.ModLogChannel, m.buildActionEmbed(msg, categories, selected))
	case Warn:
		_, err = session.ChannelMessageSend(msg.ChannelID, fmt.Sprintf("<@%s>, your message was flagged for %s.", userID, strings.Join(categories, ", ")))
	case DM:
		var channel *discordgo.Channel
		channel, err = session.UserChannelCreate(userID)
		if err == nil {
			_, err = session.ChannelMessageSendEmbed(channel.ID, m.buildUserWarningEmbed(msg, categories))
		}
	case Delete:
		err = session.ChannelMessageDelete(msg.ChannelID, msg.ID)
	case Timeout:
		if msg.GuildID == "" {
			return Outcome{Action: action, Status: StatusSkipped}
		}
		minutes := m.cfg.TimeoutMinutes
		if minutes <= 0 {
			minutes = 10
		}
		until := m.now().Add(time.Duration(minutes) * time.Minute)
		err = session.GuildMemberTimeout(msg.GuildID, userID, &until)
	case Kick:
		if msg.GuildID == "" {
			return Outcome{Action: action, Status: StatusSkipped}
		}
		err = session.GuildMemberDeleteWithReason(msg.GuildID, userID, reason)
	case Ban:
		if msg.GuildID == "" {
			return Outcome{Action: action, Status: StatusSkipped}
		}
		err = session.GuildBanCreateWithReason(msg.GuildID, userID, reason, 0)
	default:
		err = fmt.Errorf("%w: %s", ErrInvalidAction, action)
	}

	if err != nil {
		m.logger.Warn("moderation action failed",
			zap.String("action", action),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return Outcome{Action: action, Status: StatusFailed, Err: err}
	}
	return Outcome{Action: action, Status: StatusOK}
}

func (m *Manager) record(ctx context.Context, msg *discordgo.Message, outcome Outcome, categories []string) {
	details := strings.Join(categories, ",")
	if outcome.Err != nil {
		details += ": " + outcome.Err.Error()
	}
	if err := m.store.AddActionLog(ctx, storage.ActionLog{
		UserID:    msg.Author.ID,
		ChannelID: msg.ChannelID,
		MessageID: msg.ID,
		Action:    outcome.Action,
		Status:    outcome.Status,
		Details:   details,
		CreatedAt: m.now(),
	}); err != nil {
		m.logger.Warn("action log write failed", zap.Error(err))
	}
	if outcome.Status == StatusOK || outcome.Status == StatusSimulated {
		if err := m.store.IncrementCount(ctx, "actions_"+outcome.Action); err != nil {
			m.logger.Warn("action counter failed", zap.String("action", outcome.Action), zap.Error(err))
		}
	}
}

// SetRule overrides the default actions for one category. An empty list
// disables every action for it.
func (m *Manager) SetRule(ctx context.Context, category string, names []string) error {
	category = strings.ToLower(strings.TrimSpace(category))
	if !m.knownCategory(category) {
		return fmt.Errorf("%w: %s", ErrInvalidCategory, category)
	}
	normalized := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || name == "none" {
			continue
		}
		if !Valid(name) {
			return fmt.Errorf("%w: %s", ErrInvalidAction, name)
		}
		normalized = merge(normalized, []string{name})
	}
	return m.store.SetActionRule(ctx, storage.ActionRule{Category: category, Actions: normalized})
}

// ResetRule restores the default actions for category.
func (m *Manager) ResetRule(ctx context.Context, category string) (bool, error) {
	return m.store.RemoveActionRule(ctx, strings.ToLower(strings.TrimSpace(category)))
}

func (m *Manager) ListRules(ctx context.Context) ([]storage.ActionRule, error) {
	return m.store.ListActionRules(ctx)
}

func (m *Manager) Defaults() []string {
	return merge(nil, m.cfg.Default)
}

func (m *Manager) knownCategory(category string) bool {
	for _, label := range m.labels {
		if label == category {
			return true
		}
	}
	return false
}

func (m *Manager) buildActionEmbed(msg *discordgo.Message, categories, selected []string) *discordgo.MessageEmbed {
	mode := "enforced"
	if m.devMode {
		mode = "simulated"
	}
	return &discordgo.MessageEmbed{
		Title:       "Message flagged",
		Description: excerpt(msg.Content, 1000),
		Color:       m.colors.Action,
		Author:      &discordgo.MessageEmbedAuthor{Name: m.botName},
		Timestamp:   m.now().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "User", Value: "<@" + msg.Author.ID + ">", Inline: true},
			{Name: "Channel", Value: "<#" + msg.ChannelID + ">", Inline: true},
			{Name: "Mode", Value: mode, Inline: true},
			{Name: "Categories", Value: strings.Join(categories, ", "), Inline: false},
			{Name: "Actions", Value: strings.Join(selected, ", "), Inline: false},
		},
	}
}

func (m *Manager) buildUserWarningEmbed(msg *discordgo.Message, categories []string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "Your message was flagged",
		Description: fmt.Sprintf("A message you sent in <#%s> was flagged for %s. Please keep the conversation respectful.", msg.ChannelID, strings.Join(categories, ", ")),
		Color:       m.colors.Warning,
		Footer:      &discordgo.MessageEmbedFooter{Text: m.botName},
		Timestamp:   m.now().Format(time.RFC3339),
	}
}

func flaggedCategories(result classifier.Result) []string {
	var out []string
	for category, matched := range result.Categories {
		if matched {
			out = append(out, category)
		}
	}
	sort.Strings(out)
	return out
}

// merge appends the unseen names of extra to base and keeps the result in
// execution order.
func merge(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, name := range append(append([]string(nil), base...), extra...) {
		if _, ok := seen[name]; ok || !Valid(name) {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.SliceStable(out, func(i, j int) bool { return rank(out[i]) < rank(out[j]) })
	return out
}

func summarize(outcomes []Outcome) string {
	parts := make([]string, 0, len(outcomes))
	for _, outcome := range outcomes {
		parts = append(parts, outcome.Action+":"+outcome.Status)
	}
	return strings.Join(parts, ",")
}

func excerpt(content string, limit int) string {
	runes := []rune(content)
	if len(runes) <= limit {
		return content
	}
	return string(runes[:limit-1]) + "…"
}
