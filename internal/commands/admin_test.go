package commands

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"toxiguard/internal/analytics"
	"toxiguard/internal/bypass"
	"toxiguard/internal/presence"
	"toxiguard/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

func newCommandStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestBypassCommand(t *testing.T) {
	rules := bypass.NewManager(newCommandStore(t), zap.NewNop())
	h, sender := newTestHandler(fakeAuthorizer{"mod:*": true})
	h.Load(Bypass{Rules: rules})
	ctx := context.Background()

	if err := h.Dispatch(ctx, request("!bypass add user <@!42>", "mod")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sender.lastText() != "Added user bypass `<@!42>`." {
		t.Fatalf("unexpected reply %q", sender.lastText())
	}
	if err := h.Dispatch(ctx, request("!bypass add pattern ^!!.*", "mod")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	err := h.Dispatch(ctx, request("!bypass add pattern (", "mod"))
	if !errors.Is(err, bypass.ErrInvalidRule) {
		t.Fatalf("expected invalid rule error, got %v", err)
	}
	if !strings.HasPrefix(sender.lastText(), "Error:") {
		t.Fatalf("expected error reply, got %q", sender.lastText())
	}

	if err := h.Dispatch(ctx, request("!bypass list", "mod")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	listing := sender.embeds[len(sender.embeds)-1].Description
	if !strings.Contains(listing, "`user` <@42>") || !strings.Contains(listing, "`pattern` `^!!.*`") {
		t.Fatalf("unexpected listing %q", listing)
	}

	if err := h.Dispatch(ctx, request("!bypass remove user 42", "mod")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !strings.HasPrefix(sender.lastText(), "Removed user bypass") {
		t.Fatalf("unexpected reply %q", sender.lastText())
	}
	if err := h.Dispatch(ctx, request("!bypass remove user 42", "mod")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sender.lastText() != "No such bypass rule." {
		t.Fatalf("unexpected reply %q", sender.lastText())
	}

	for _, usage := range []string{"!bypass", "!bypass add user", "!bypass frobnicate"} {
		if err := h.Dispatch(ctx, request(usage, "mod")); err != nil {
			t.Fatalf("dispatch %q: %v", usage, err)
		}
		if !strings.HasPrefix(sender.lastText(), "Usage:") {
			t.Fatalf("expected usage reply for %q, got %q", usage, sender.lastText())
		}
	}
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

func TestPresenceCommand(t *testing.T) {
	presences := presence.NewManager(newCommandStore(t), storage.PresenceEntry{Type: "watching", Text: "the chat"}, zap.NewNop())
	updater := &fakeStatusUpdater{}
	presences.SetUpdater(updater)
	h, sender := newTestHandler(fakeAuthorizer{"mod:*": true})
	h.Load(Presence{Presences: presences, ParseType: presence.ParseType})
	ctx := context.Background()

	if err := h.Dispatch(ctx, request("!presence list", "mod")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sender.lastText() != "No presences stored, the default is used." {
		t.Fatalf("unexpected reply %q", sender.lastText())
	}

	if err := h.Dispatch(ctx, request("!presence add Playing with fire", "mod")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sender.lastText() != "Added presence: playing with fire" {
		t.Fatalf("unexpected reply %q", sender.lastText())
	}
	if err := h.Dispatch(ctx, request("!presence add dancing badly", "mod")); !errors.Is(err, presence.ErrInvalidPresence) {
		t.Fatalf("expected invalid presence error, got %v", err)
	}

	if err := h.Dispatch(ctx, request("!presence list", "mod")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got := sender.embeds[len(sender.embeds)-1].Description; got != "`1` playing with fire\n" {
		t.Fatalf("unexpected listing %q", got)
	}

	if err := h.Dispatch(ctx, request("!presence set listening the rain", "mod")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	current := presences.Current()
	if current == nil || current.Name != "the rain" || current.Type != discordgo.ActivityTypeListening {
		t.Fatalf("unexpected presence %+v", current)
	}

	if err := h.Dispatch(ctx, request("!presence random", "mod")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if current := presences.Current(); current == nil || current.Name != "with fire" {
		t.Fatalf("expected the only stored presence, got %+v", current)
	}
	if len(updater.updates) != 2 {
		t.Fatalf("expected two gateway updates, got %d", len(updater.updates))
	}

	if err := h.Dispatch(ctx, request("!presence remove abc", "mod")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !strings.HasPrefix(sender.lastText(), "Usage:") {
		t.Fatalf("expected usage reply, got %q", sender.lastText())
	}
	if err := h.Dispatch(ctx, request("!presence remove 7", "mod")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sender.lastText() != "No presence with id 7." {
		t.Fatalf("unexpected reply %q", sender.lastText())
	}
	if err := h.Dispatch(ctx, request("!presence remove 1", "mod")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sender.lastText() != "Removed presence 1." {
		t.Fatalf("unexpected reply %q", sender.lastText())
	}
}

type fakeReporter struct {
	report analytics.Report
	since  []time.Time
}

func (f *fakeReporter) Report(ctx context.Context, since time.Time) (analytics.Report, error) {
	f.since = append(f.since, since)
	return f.report, nil
}

func embedField(embed *discordgo.MessageEmbed, name string) string {
	for _, field := range embed.Fields {
		if field.Name == name {
			return field.Value
		}
	}
	return ""
}

func TestStatsCommand(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	reporter := &fakeReporter{report: analytics.Report{
		Checked:  8,
		Flagged:  2,
		Commands: 3,
		Actions:  map[string]int64{"warn": 2, "delete": 2},
		Recent:   4,
		ByStatus: map[string]int{"ok": 3, "failed": 1},
		ByUser:   map[string]int{"u1": 3, "u2": 1},
		LogLevel: map[string]int{"INFO": 5, "CRIT": 1},
	}}
	h, sender := newTestHandler(fakeAuthorizer{"mod:*": true})
	h.Load(Stats{Reporter: reporter, Now: func() time.Time { return now }})
	ctx := context.Background()

	if err := h.Dispatch(ctx, request("!stats 6", "mod")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(reporter.since) != 1 || !reporter.since[0].Equal(now.Add(-6*time.Hour)) {
		t.Fatalf("unexpected report window %v", reporter.since)
	}
	embed := sender.embeds[len(sender.embeds)-1]
	checks := map[string]string{
		"Checked":       "8",
		"Flagged":       "2 (25.0%)",
		"Actions":       "delete: 2\nwarn: 2",
		"Last 6h":       "4 actions, 1 failed",
		"Most actioned": "<@u1> (3), <@u2> (1)",
		"System events": "CRIT: 1, INFO: 5",
	}
	for name, want := range checks {
		if got := embedField(embed, name); got != want {
			t.Fatalf("field %s: expected %q, got %q", name, want, got)
		}
	}

	for _, bad := range []string{"abc", "0", "-1"} {
		if err := h.Dispatch(ctx, request("!stats "+bad, "mod")); err != nil {
			t.Fatalf("dispatch %s: %v", bad, err)
		}
		if !strings.HasPrefix(sender.lastText(), "Usage:") {
			t.Fatalf("expected usage reply for %q, got %q", bad, sender.lastText())
		}
	}
	if len(reporter.since) != 1 {
		t.Fatalf("invalid hours must not query the report")
	}

	h, _ = newTestHandler(fakeAuthorizer{})
	h.Load(Stats{Reporter: reporter})
	if err := h.Dispatch(ctx, request("!stats", "guest")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(reporter.since) != 1 {
		t.Fatalf("stats must require the view_stats privilege")
	}
}

type fixedThreshold float64

func (f fixedThreshold) Threshold() float64 { return float64(f) }

func TestInfoCommand(t *testing.T) {
	h, sender := newTestHandler(nil)
	h.Load(Info{
		BotName:    "ToxiGuard",
		Version:    "1.2.3",
		Backend:    "keyword",
		DevMode:    true,
		Started:    time.Now().Add(-time.Hour),
		Classifier: fixedThreshold(0.9),
	})

	if err := h.Dispatch(context.Background(), request("!info", "anyone")); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(sender.embeds) != 1 {
		t.Fatalf("expected one embed, got %d", len(sender.embeds))
	}
	embed := sender.embeds[0]
	if embed.Title != "ToxiGuard" {
		t.Fatalf("unexpected title %q", embed.Title)
	}
	checks := map[string]string{
		"Version":   "1.2.3",
		"Mode":      "dev (enforcement simulated)",
		"Model":     "keyword",
		"Threshold": "9 (0.90)",
	}
	for name, want := range checks {
		if got := embedField(embed, name); got != want {
			t.Fatalf("field %s: expected %q, got %q", name, want, got)
		}
	}
	if uptime := embedField(embed, "Uptime"); !strings.HasPrefix(uptime, "1h0m") {
		t.Fatalf("unexpected uptime %q", uptime)
	}
}
