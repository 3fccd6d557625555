package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"toxiguard/internal/actions"
	"toxiguard/internal/analytics"
	"toxiguard/internal/audit"
	"toxiguard/internal/bypass"
	"toxiguard/internal/commands"
	"toxiguard/internal/config"
	"toxiguard/internal/permissions"
	"toxiguard/internal/presence"
	"toxiguard/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type fakeTimer struct{}

func (fakeTimer) Stop() bool { return true }

type fakeClock struct {
	mu        sync.Mutex
	intervals []time.Duration
}

func (c *fakeClock) Now() time.Time { return time.Unix(1_700_000_000, 0) }

func (c *fakeClock) AfterFunc(d time.Duration, f func()) presence.Timer {
	c.mu.Lock()
	c.intervals = append(c.intervals, d)
	c.mu.Unlock()
	return fakeTimer{}
}

func (c *fakeClock) armed() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.intervals...)
}

type fakeStatusUpdater struct {
	mu      sync.Mutex
	updates []discordgo.UpdateStatusData
}

func (f *fakeStatusUpdater) UpdateStatusComplex(usd discordgo.UpdateStatusData) error {
	f.mu.Lock()
	f.updates = append(f.updates, usd)
	f.mu.Unlock()
	return nil
}

func (f *fakeStatusUpdater) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

func TestOnReady(t *testing.T) {
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Presence.IntervalMinutes = 5
	logger := zap.NewNop()
	auditLogger := audit.NewLogger(store, logger)
	perms := permissions.NewManager(store, nil)

	clock := &fakeClock{}
	updater := &fakeStatusUpdater{}
	presences := presence.NewManager(store, storage.PresenceEntry{Type: "watching", Text: "the chat"}, logger)
	presences.WithClock(clock)
	presences.SetUpdater(updater)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	handler := commands.NewHandler(commands.HandlerConfig{Prefix: cfg.Prefix, BotName: cfg.BotName}, perms, logger)
	b := &Bot{
		cfg:    cfg,
		logger: logger,
		deps: Deps{
			Store:       store,
			Audit:       auditLogger,
			Permissions: perms,
			Bypass:      bypass.NewManager(store, logger),
			Actions:     actions.NewManager(cfg, store, auditLogger, logger),
			Presence:    presences,
			Analytics:   analytics.New(store),
		},
		system:  auditLogger,
		handler: handler,
		ctx:     ctx,
	}

	ready := &discordgo.Ready{User: &discordgo.User{ID: "self", Username: "toxiguard"}}
	b.onReady(nil, ready)
	b.onReady(nil, ready)

	for _, name := range []string{"help", "ping", "info", "threshold", "classify", "perm", "bypass", "action", "stats", "presence"} {
		if _, ok := handler.Get(name); !ok {
			t.Fatalf("command %s not loaded", name)
		}
	}
	if got := len(handler.Commands()); got != 10 {
		t.Fatalf("expected 10 commands after repeated ready events, got %d", got)
	}

	if got := updater.count(); got != 2 {
		t.Fatalf("expected an initial presence per ready event, got %d", got)
	}
	if current := presences.Current(); current == nil || current.Name != "the chat" {
		t.Fatalf("expected fallback presence, got %+v", current)
	}

	if armed := clock.armed(); len(armed) != 1 || armed[0] != 5*time.Minute {
		t.Fatalf("expected one rotation armed at 5m, got %v", armed)
	}

	logs, err := store.ListSystemLogs(context.Background(), time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("system logs: %v", err)
	}
	startups := 0
	for _, log := range logs {
		if log.Event == audit.EventStartup && log.Details == "Bot started" {
			startups++
		}
	}
	if startups != 2 {
		t.Fatalf("expected a STARTUP event per ready, got %+v", logs)
	}
}
