// Package bypass decides which messages skip classification.
package bypass

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"toxiguard/internal/storage"
	"toxiguard/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	KindUser    = "user"
	KindChannel = "channel"
	KindRole    = "role"
	KindPattern = "pattern"
	KindDomain  = "domain"
)

var ErrInvalidRule = errors.New("invalid bypass rule")

func Kinds() []string {
	return []string{KindUser, KindChannel, KindRole, KindPattern, KindDomain}
}

type ruleSet struct {
	users    map[string]struct{}
	channels map[string]struct{}
	roles    map[string]struct{}
	domains  map[string]struct{}
	patterns []*regexp.Regexp
}

func newRuleSet() *ruleSet {
	return &ruleSet{
		users:    make(map[string]struct{}),
		channels: make(map[string]struct{}),
		roles:    make(map[string]struct{}),
		domains:  make(map[string]struct{}),
	}
}

// Manager keeps the stored rules in memory. Every mutation reloads the cache.
type Manager struct {
	store  *storage.Store
	logger *zap.Logger
	now    func() time.Time

	mu     sync.RWMutex
	rules  *ruleSet
	loaded bool
}

func NewManager(store *storage.Store, logger *zap.Logger) *Manager {
	return &Manager{store: store, logger: logger, now: time.Now, rules: newRuleSet()}
}

// Reload replaces the cache with the stored rules. Stored patterns that no
// longer compile are skipped.
func (m *Manager) Reload(ctx context.Context) error {
	stored, err := m.store.ListBypassRules(ctx)
	if err != nil {
		return fmt.Errorf("load bypass rules: %w", err)
	}
	set := newRuleSet()
	for _, rule := range stored {
		switch rule.Kind {
		case KindUser:
			set.users[rule.Value] = struct{}{}
		case KindChannel:
			set.channels[rule.Value] = struct{}{}
		case KindRole:
			set.roles[rule.Value] = struct{}{}
		case KindDomain:
			set.domains[rule.Value] = struct{}{}
		case KindPattern:
			re, err := compilePattern(rule.Value)
			if err != nil {
				m.logger.Warn("skipping bypass pattern", zap.String("pattern", rule.Value), zap.Error(err))
				continue
			}
			set.patterns = append(set.patterns, re)
		}
	}

	m.mu.Lock()
	m.rules = set
	m.loaded = true
	m.mu.Unlock()
	return nil
}

// Check reports whether msg is exempt from classification. Lookup failures
// are logged and treated as not bypassed.
func (m *Manager) Check(ctx context.Context, msg *discordgo.Message) bool {
	if msg == nil {
		return false
	}
	m.mu.RLock()
	loaded := m.loaded
	m.mu.RUnlock()
	if !loaded {
		if err := m.Reload(ctx); err != nil {
			m.logger.Error("bypass check failed", zap.Error(err))
			return false
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	set := m.rules

	if msg.Author != nil {
		if _, ok := set.users[msg.Author.ID]; ok {
			return true
		}
	}
	if _, ok := set.channels[msg.ChannelID]; ok {
		return true
	}
	if msg.Member != nil {
		for _, role := range msg.Member.Roles {
			if _, ok := set.roles[role]; ok {
				return true
			}
		}
	}
	for _, re := range set.patterns {
		if re.MatchString(msg.Content) {
			return true
		}
	}
	return linksOnlyTo(msg.Content, set.domains)
}

// linksOnlyTo reports whether content carries at least one link and every
// link points at a listed domain.
func linksOnlyTo(content string, domains map[string]struct{}) bool {
	if len(domains) == 0 {
		return false
	}
	urls := utils.ExtractURLs(content)
	if len(urls) == 0 {
		return false
	}
	for _, raw := range urls {
		host, err := utils.URLHost(raw)
		if err != nil || !utils.DomainMatch(host, domains) {
			return false
		}
	}
	return true
}

func (m *Manager) Add(ctx context.Context, kind, value, createdBy string) error {
	kind, value, err := normalize(kind, value)
	if err != nil {
		return err
	}
	if err := m.store.AddBypassRule(ctx, storage.BypassRule{
		Kind:      kind,
		Value:     value,
		CreatedBy: createdBy,
		CreatedAt: m.now(),
	}); err != nil {
		return err
	}
	return m.Reload(ctx)
}

// Remove reports whether a matching rule existed.
func (m *Manager) Remove(ctx context.Context, kind, value string) (bool, error) {
	kind, value, err := normalize(kind, value)
	if err != nil && !errors.Is(err, errBadPattern) {
		return false, err
	}
	removed, err := m.store.RemoveBypassRule(ctx, kind, value)
	if err != nil {
		return false, err
	}
	if removed {
		if err := m.Reload(ctx); err != nil {
			return true, err
		}
	}
	return removed, nil
}

func (m *Manager) List(ctx context.Context) ([]storage.BypassRule, error) {
	return m.store.ListBypassRules(ctx)
}

var errBadPattern = fmt.Errorf("%w: pattern does not compile", ErrInvalidRule)

func normalize(kind, value string) (string, string, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	value = strings.TrimSpace(value)
	if value == "" {
		return "", "", fmt.Errorf("%w: empty value", ErrInvalidRule)
	}
	switch kind {
	case KindUser, KindChannel, KindRole:
		return kind, utils.MentionID(value), nil
	case KindDomain:
		host, err := utils.URLHost(value)
		if err != nil || host == "" {
			return "", "", fmt.Errorf("%w: bad domain %q", ErrInvalidRule, value)
		}
		return kind, host, nil
	case KindPattern:
		if _, err := compilePattern(value); err != nil {
			return kind, value, errBadPattern
		}
		return kind, value, nil
	default:
		return "", "", fmt.Errorf("%w: unknown kind %q", ErrInvalidRule, kind)
	}
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + pattern)
}
