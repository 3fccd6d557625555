package actions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"toxiguard/internal/audit"
	"toxiguard/internal/classifier"
	"toxiguard/internal/config"
	"toxiguard/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type fakeSession struct {
	mu        sync.Mutex
	calls     []string
	deleteErr error
}

func (f *fakeSession) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeSession) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.record("send:" + channelID)
	return &discordgo.Message{}, nil
}

func (f *fakeSession) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.record("embed:" + channelID)
	return &discordgo.Message{}, nil
}

func (f *fakeSession) ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error {
	f.record("delete:" + messageID)
	return f.deleteErr
}

func (f *fakeSession) GuildMemberTimeout(guildID, userID string, until *time.Time, options ...discordgo.RequestOption) error {
	f.record("timeout:" + userID)
	return nil
}

func (f *fakeSession) GuildMemberDeleteWithReason(guildID, userID, reason string, options ...discordgo.RequestOption) error {
	f.record("kick:" + userID)
	return nil
}

func (f *fakeSession) GuildBanCreateWithReason(guildID, userID, reason string, days int, options ...discordgo.RequestOption) error {
	f.record("ban:" + userID)
	return nil
}

func (f *fakeSession) UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.record("dm:" + recipientID)
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}

func newTestManager(t *testing.T, mutate func(*config.Config)) (*Manager, *storage.Store, *fakeSession) {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Actions.ModLogChannel = "modlog"
	if mutate != nil {
		mutate(&cfg)
	}
	m := NewManager(cfg, store, audit.NewLogger(store, zap.NewNop()), zap.NewNop())
	session := &fakeSession{}
	m.SetSession(session)
	return m, store, session
}

func flagged(categories ...string) classifier.Result {
	result := classifier.Result{Categories: map[string]bool{}}
	for _, label := range config.DefaultLabels() {
		result.Categories[label] = false
	}
	for _, category := range categories {
		result.Categories[category] = true
		result.Flagged = true
	}
	return result
}

func testMessage() *discordgo.Message {
	return &discordgo.Message{ID: "m1", ChannelID: "c1", GuildID: "g1", Content: "you idiot", Author: &discordgo.User{ID: "u1"}}
}

func TestRespondDefaultActions(t *testing.T) {
	m, store, session := newTestManager(t, nil)
	ctx := context.Background()

	outcomes, err := m.Respond(ctx, Params{Message: testMessage(), Result: flagged("insult", "toxicity")})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	want := []string{"embed:modlog", "send:c1", "delete:m1"}
	if len(session.calls) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, session.calls)
	}
	for i := range want {
		if session.calls[i] != want[i] {
			t.Fatalf("expected calls %v, got %v", want, session.calls)
		}
	}
	if len(outcomes) != 3 {
		t.Fatalf("expected three outcomes, got %+v", outcomes)
	}

	if count, _ := store.GetCount(ctx, "actions_delete"); count != 1 {
		t.Fatalf("expected actions_delete=1, got %d", count)
	}
	logs, err := store.ListActionLogs(ctx, time.Now().Add(-time.Minute))
	if err != nil || len(logs) != 3 {
		t.Fatalf("expected three action logs, got %d (%v)", len(logs), err)
	}
}

func TestRespondIgnoresCleanResult(t *testing.T) {
	m, store, session := newTestManager(t, nil)
	outcomes, err := m.Respond(context.Background(), Params{Message: testMessage(), Result: flagged()})
	if err != nil || outcomes != nil {
		t.Fatalf("expected no-op, got %+v %v", outcomes, err)
	}
	if len(session.calls) != 0 {
		t.Fatalf("expected no discord calls, got %v", session.calls)
	}
	if counters, _ := store.ListCounters(context.Background()); len(counters) != 0 {
		t.Fatalf("expected no counters, got %+v", counters)
	}
}

func TestCategoryRuleOverridesDefault(t *testing.T) {
	m, _, session := newTestManager(t, nil)
	ctx := context.Background()
	if err := m.SetRule(ctx, "threat", []string{"ban", "log"}); err != nil {
		t.Fatalf("set rule: %v", err)
	}
	if err := m.SetRule(ctx, "obscene", []string{"none"}); err != nil {
		t.Fatalf("set rule: %v", err)
	}

	if _, err := m.Respond(ctx, Params{Message: testMessage(), Result: flagged("threat", "obscene")}); err != nil {
		t.Fatalf("respond: %v", err)
	}
	if len(session.calls) != 1 || session.calls[0] != "ban:u1" {
		t.Fatalf("expected only a ban, got %v", session.calls)
	}

	removed, err := m.ResetRule(ctx, "threat")
	if err != nil || !removed {
		t.Fatalf("reset: %v %v", removed, err)
	}
	selected, _ := m.Select(ctx, []string{"threat"})
	if len(selected) != 3 || selected[0] != Notify || selected[2] != Delete {
		t.Fatalf("expected defaults after reset, got %v", selected)
	}
}

func TestSetRuleValidation(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	ctx := context.Background()
	if err := m.SetRule(ctx, "threat", []string{"explode"}); !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
	if err := m.SetRule(ctx, "rudeness", []string{"warn"}); !errors.Is(err, ErrInvalidCategory) {
		t.Fatalf("expected ErrInvalidCategory, got %v", err)
	}
}

func TestFailedActionDoesNotStopOthers(t *testing.T) {
	m, store, session := newTestManager(t, func(cfg *config.Config) {
		cfg.Actions.Default = []string{"delete", "timeout"}
	})
	session.deleteErr = errors.New("missing access")
	ctx := context.Background()

	outcomes, err := m.Respond(ctx, Params{Message: testMessage(), Result: flagged("insult")})
	if err == nil {
		t.Fatalf("expected joined failure")
	}
	if len(outcomes) != 2 || outcomes[0].Status != StatusFailed || outcomes[1].Status != StatusOK {
		t.Fatalf("unexpected outcomes %+v", outcomes)
	}
	if count, _ := store.GetCount(ctx, "actions_delete"); count != 0 {
		t.Fatalf("failed delete must not count, got %d", count)
	}
	if count, _ := store.GetCount(ctx, "actions_timeout"); count != 1 {
		t.Fatalf("expected actions_timeout=1, got %d", count)
	}
}

func TestDevModeSimulatesEnforcement(t *testing.T) {
	m, _, session := newTestManager(t, func(cfg *config.Config) {
		cfg.DevMode = true
		cfg.Actions.Default = []string{"delete", "warn"}
	})
	outcomes, err := m.Respond(context.Background(), Params{Message: testMessage(), Result: flagged("insult")})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if len(session.calls) != 1 || session.calls[0] != "send:c1" {
		t.Fatalf("expected only the warning to be sent, got %v", session.calls)
	}
	if outcomes[1].Action != Delete || outcomes[1].Status != StatusSimulated {
		t.Fatalf("expected simulated delete, got %+v", outcomes)
	}
}

func TestEscalation(t *testing.T) {
	m, _, session := newTestManager(t, func(cfg *config.Config) {
		cfg.Actions.Default = []string{"log"}
		cfg.Actions.Escalation = config.EscalationConfig{Count: 3, WindowMinutes: 10, Action: "timeout"}
	})
	now := time.Unix(1_700_000_000, 0)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := m.Respond(ctx, Params{Message: testMessage(), Result: flagged("insult")}); err != nil {
			t.Fatalf("respond: %v", err)
		}
	}
	if len(session.calls) != 0 {
		t.Fatalf("did not expect escalation yet, got %v", session.calls)
	}
	if _, err := m.Respond(ctx, Params{Message: testMessage(), Result: flagged("insult")}); err != nil {
		t.Fatalf("respond: %v", err)
	}
	if len(session.calls) != 1 || session.calls[0] != "timeout:u1" {
		t.Fatalf("expected timeout on third flag, got %v", session.calls)
	}

	for i := 0; i < 2; i++ {
		if _, err := m.Respond(ctx, Params{Message: testMessage(), Result: flagged("insult")}); err != nil {
			t.Fatalf("respond: %v", err)
		}
	}
	if len(session.calls) != 1 {
		t.Fatalf("escalation must start counting again, got %v", session.calls)
	}
	if _, err := m.Respond(ctx, Params{Message: testMessage(), Result: flagged("insult")}); err != nil {
		t.Fatalf("respond: %v", err)
	}
	if len(session.calls) != 2 {
		t.Fatalf("expected a second timeout on the sixth flag, got %v", session.calls)
	}
}

func TestDMAndSkippedNotify(t *testing.T) {
	m, _, session := newTestManager(t, func(cfg *config.Config) {
		cfg.Actions.ModLogChannel = ""
		cfg.Actions.Default = []string{"notify", "dm"}
	})
	outcomes, err := m.Respond(context.Background(), Params{Message: testMessage(), Result: flagged("insult")})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if outcomes[0].Status != StatusSkipped {
		t.Fatalf("expected notify skipped without a channel, got %+v", outcomes[0])
	}
	if len(session.calls) != 2 || session.calls[0] != "dm:u1" || session.calls[1] != "embed:dm-u1" {
		t.Fatalf("unexpected calls %v", session.calls)
	}
}

func TestNamesFollowExecutionOrder(t *testing.T) {
	want := []string{Log, Notify, Warn, DM, Delete, Timeout, Kick, Ban}
	got := Names()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] || !Valid(want[i]) {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if Valid("mute") {
		t.Fatalf("mute must not be a known action")
	}
}
