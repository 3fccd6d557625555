package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"toxiguard/internal/actions"
	"toxiguard/internal/analytics"
	"toxiguard/internal/audit"
	"toxiguard/internal/bypass"
	"toxiguard/internal/classifier"
	"toxiguard/internal/commands"
	"toxiguard/internal/config"
	"toxiguard/internal/permissions"
	"toxiguard/internal/presence"
	"toxiguard/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// Deps are the long-lived services the bot routes events to.
type Deps struct {
	Store       *storage.Store
	Audit       *audit.Logger
	Classifier  *classifier.Classifier
	Permissions *permissions.Manager
	Bypass      *bypass.Manager
	Actions     *actions.Manager
	Presence    *presence.Manager
	Analytics   *analytics.Service
}

// Counter and the interfaces below are what handleMessage needs; the
// concrete services in Deps satisfy them.
type Counter interface {
	IncrementCount(ctx context.Context, name string) error
}

type UserLogger interface {
	AddUserLog(ctx context.Context, log storage.UserLog) error
}

type SystemLogger interface {
	Log(ctx context.Context, level, event, details string)
}

type MessageClassifier interface {
	Classify(ctx context.Context, text string) (classifier.Result, error)
}

type BypassChecker interface {
	Check(ctx context.Context, msg *discordgo.Message) bool
}

type Responder interface {
	Respond(ctx context.Context, p actions.Params) ([]actions.Outcome, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, req commands.Request) error
}

type Bot struct {
	cfg     config.Config
	logger  *zap.Logger
	deps    Deps
	session *discordgo.Session
	started time.Time
	allowed map[string]struct{}

	counters   Counter
	userLogs   UserLogger
	system     SystemLogger
	classifier MessageClassifier
	bypass     BypassChecker
	actions    Responder
	dispatcher Dispatcher
	handler    *commands.Handler

	ctx      context.Context
	cancel   context.CancelFunc
	rotation sync.Once
}

func New(cfg config.Config, logger *zap.Logger, deps Deps) (*Bot, error) {
	if deps.Store == nil || deps.Audit == nil || deps.Classifier == nil || deps.Permissions == nil || deps.Bypass == nil || deps.Actions == nil {
		return nil, errors.New("bot: store, audit, classifier, permissions, bypass and actions are required")
	}
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsMessageContent

	handler := commands.NewHandler(commands.HandlerConfig{
		Prefix:  cfg.Prefix,
		Color:   cfg.Notifications.EmbedColors.Action,
		BotName: cfg.BotName,
	}, deps.Permissions, logger)
	handler.SetSender(session)

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bot{
		cfg:        cfg,
		logger:     logger,
		deps:       deps,
		session:    session,
		started:    time.Now(),
		allowed:    channelSet(cfg.AllowedChannels),
		counters:   deps.Store,
		userLogs:   deps.Store,
		system:     deps.Audit,
		classifier: deps.Classifier,
		bypass:     deps.Bypass,
		actions:    deps.Actions,
		dispatcher: handler,
		handler:    handler,
		ctx:        ctx,
		cancel:     cancel,
	}

	deps.Actions.SetSession(session)
	if deps.Presence != nil {
		deps.Presence.SetUpdater(session)
	}
	deps.Audit.SetNotifier(func(ctx context.Context, entry storage.SystemLog) {
		if !b.cfg.Notifications.AuditToChannel {
			return
		}
		b.notifyAudit(entry)
	})

	return b, nil
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)

	if err := b.session.Open(); err != nil {
		return err
	}

	b.startMaintenance()
	return nil
}

func (b *Bot) Close(ctx context.Context) {
	_ = ctx
	b.cancel()
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.loadCommands()

	if b.deps.Presence != nil {
		if err := b.deps.Presence.SetRandom(b.ctx); err != nil {
			b.logger.Warn("initial presence failed", zap.Error(err))
		}
	}

	user := ""
	if event.User != nil {
		user = event.User.String()
	}
	b.logger.Info("discord ready", zap.String("user", user), zap.Int("guilds", len(event.Guilds)))
	b.system.Log(b.ctx, audit.LevelInfo, audit.EventStartup, "Bot started")

	if b.deps.Presence != nil {
		b.rotation.Do(func() {
			interval := time.Duration(b.cfg.Presence.IntervalMinutes) * time.Minute
			b.deps.Presence.ChangeOnInterval(b.ctx, interval)
		})
	}
}

// startMaintenance prunes logs older than the retention window once a day.
func (b *Bot) startMaintenance() {
	if b.cfg.RetentionDays <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			if err := b.deps.Store.CleanupLogs(b.ctx, b.cfg.RetentionDays); err != nil && b.ctx.Err() == nil {
				b.logger.Warn("log cleanup failed", zap.Error(err))
			}
			select {
			case <-b.ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// notifyAudit mirrors system events to the moderator channel. Commands and
// actions are left out: actions already post their own embed.
func (b *Bot) notifyAudit(entry storage.SystemLog) {
	channelID := b.cfg.Actions.ModLogChannel
	if channelID == "" || entry.Event == audit.EventCommand || entry.Event == audit.EventAction {
		return
	}
	color := b.cfg.Notifications.EmbedColors.Action
	switch entry.Level {
	case audit.LevelWarn:
		color = b.cfg.Notifications.EmbedColors.Warning
	case audit.LevelCrit:
		color = b.cfg.Notifications.EmbedColors.Error
	}
	embed := &discordgo.MessageEmbed{
		Title:       entry.Event,
		Description: entry.Details,
		Color:       color,
		Footer:      &discordgo.MessageEmbedFooter{Text: b.cfg.BotName + " | " + entry.Level},
		Timestamp:   entry.CreatedAt.Format(time.RFC3339),
	}
	if _, err := b.session.ChannelMessageSendEmbed(channelID, embed); err != nil {
		b.logger.Debug("audit notification failed", zap.Error(err))
	}
}

func channelSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
