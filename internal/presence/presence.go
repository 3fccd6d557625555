// Package presence picks and rotates the bot's activity status.
package presence

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"toxiguard/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

var ErrInvalidPresence = errors.New("invalid presence")

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type realClock struct{}

type realTimer struct{ t *time.Timer }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{t: time.AfterFunc(d, f)}
}

func (t realTimer) Stop() bool { return t.t.Stop() }

// StatusUpdater is satisfied by *discordgo.Session.
type StatusUpdater interface {
	UpdateStatusComplex(usd discordgo.UpdateStatusData) (err error)
}

var activityTypes = map[string]discordgo.ActivityType{
	"playing":   discordgo.ActivityTypeGame,
	"listening": discordgo.ActivityTypeListening,
	"watching":  discordgo.ActivityTypeWatching,
	"competing": discordgo.ActivityTypeCompeting,
}

// ParseType maps a presence type name to its activity type.
func ParseType(name string) (discordgo.ActivityType, error) {
	kind, ok := activityTypes[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("%w: unknown type %q", ErrInvalidPresence, name)
	}
	return kind, nil
}

func TypeNames() []string {
	return []string{"playing", "listening", "watching", "competing"}
}

type Manager struct {
	store    *storage.Store
	logger   *zap.Logger
	fallback storage.PresenceEntry
	clock    Clock
	pick     func(n int) int

	mu      sync.Mutex
	updater StatusUpdater
	current *discordgo.Activity
	timer   Timer
}

// NewManager uses fallback whenever no presence entries are stored.
func NewManager(store *storage.Store, fallback storage.PresenceEntry, logger *zap.Logger) *Manager {
	if _, err := ParseType(fallback.Type); err != nil {
		fallback.Type = "watching"
	}
	return &Manager{
		store:    store,
		logger:   logger,
		fallback: fallback,
		clock:    realClock{},
		pick:     rand.IntN,
	}
}

func (m *Manager) WithClock(clock Clock) {
	m.clock = clock
}

func (m *Manager) SetUpdater(updater StatusUpdater) {
	m.mu.Lock()
	m.updater = updater
	m.mu.Unlock()
}

// GetRandom returns a random stored presence, or the fallback when none is
// stored or the store cannot be read.
func (m *Manager) GetRandom(ctx context.Context) *discordgo.Activity {
	entries, err := m.store.ListPresences(ctx)
	if err != nil {
		m.logger.Warn("presence list failed", zap.Error(err))
	}
	if len(entries) == 0 {
		return toActivity(m.fallback)
	}
	return toActivity(entries[m.pick(len(entries))])
}

func (m *Manager) Set(ctx context.Context, activity *discordgo.Activity) error {
	if activity == nil {
		return fmt.Errorf("%w: nil activity", ErrInvalidPresence)
	}
	m.mu.Lock()
	updater := m.updater
	m.mu.Unlock()
	if updater == nil {
		return errors.New("presence: no gateway session")
	}
	if err := updater.UpdateStatusComplex(discordgo.UpdateStatusData{
		Activities: []*discordgo.Activity{activity},
		Status:     "online",
	}); err != nil {
		return fmt.Errorf("update presence: %w", err)
	}
	m.mu.Lock()
	m.current = activity
	m.mu.Unlock()
	return nil
}

func (m *Manager) SetRandom(ctx context.Context) error {
	return m.Set(ctx, m.GetRandom(ctx))
}

func (m *Manager) Current() *discordgo.Activity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// ChangeOnInterval sets a random presence every interval until ctx is done.
// Calling it again replaces the running rotation.
func (m *Manager) ChangeOnInterval(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	var tick func()
	tick = func() {
		if ctx.Err() != nil {
			return
		}
		if err := m.SetRandom(ctx); err != nil {
			m.logger.Warn("presence rotation failed", zap.Error(err))
		}
		m.arm(ctx, interval, tick)
	}
	m.arm(ctx, interval, tick)

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		if m.timer != nil {
			m.timer.Stop()
			m.timer = nil
		}
		m.mu.Unlock()
	}()
}

func (m *Manager) arm(ctx context.Context, interval time.Duration, tick func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = m.clock.AfterFunc(interval, tick)
}

func (m *Manager) Add(ctx context.Context, kind, text string) error {
	if _, err := ParseType(kind); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("%w: empty text", ErrInvalidPresence)
	}
	return m.store.AddPresence(ctx, storage.PresenceEntry{Type: strings.ToLower(strings.TrimSpace(kind)), Text: text})
}

func (m *Manager) Remove(ctx context.Context, id int64) (bool, error) {
	return m.store.RemovePresence(ctx, id)
}

func (m *Manager) List(ctx context.Context) ([]storage.PresenceEntry, error) {
	return m.store.ListPresences(ctx)
}

func toActivity(entry storage.PresenceEntry) *discordgo.Activity {
	kind, err := ParseType(entry.Type)
	if err != nil {
		kind = discordgo.ActivityTypeWatching
	}
	return &discordgo.Activity{Name: entry.Text, Type: kind}
}
