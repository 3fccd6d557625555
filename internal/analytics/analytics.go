package analytics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"toxiguard/internal/storage"
)

type Service struct {
	store *storage.Store
}

func New(store *storage.Store) *Service {
	return &Service{store: store}
}

// Report aggregates the lifetime counters and the moderation activity since
// a point in time.
type Report struct {
	Checked  int64
	Commands int64
	Flagged  int64
	Actions  map[string]int64
	Since    time.Time
	Recent   int
	ByStatus map[string]int
	ByUser   map[string]int
	LogLevel map[string]int
}

// FlagRate is the share of checked messages that were flagged.
func (r Report) FlagRate() float64 {
	if r.Checked == 0 {
		return 0
	}
	return float64(r.Flagged) / float64(r.Checked)
}

// TopUsers returns up to limit user ids ordered by recent action count.
func (r Report) TopUsers(limit int) []string {
	users := make([]string, 0, len(r.ByUser))
	for user := range r.ByUser {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		if r.ByUser[users[i]] != r.ByUser[users[j]] {
			return r.ByUser[users[i]] > r.ByUser[users[j]]
		}
		return users[i] < users[j]
	})
	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	return users
}

func (s *Service) Report(ctx context.Context, since time.Time) (Report, error) {
	counters, err := s.store.ListCounters(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list counters: %w", err)
	}
	report := Report{
		Since:    since,
		Actions:  make(map[string]int64),
		ByStatus: make(map[string]int),
		ByUser:   make(map[string]int),
		LogLevel: make(map[string]int),
	}
	for _, counter := range counters {
		switch {
		case counter.Name == storage.CounterMessagesChecked:
			report.Checked = counter.Count
		case counter.Name == storage.CounterMessagesCommand:
			report.Commands = counter.Count
		case counter.Name == storage.CounterMessagesFlagged:
			report.Flagged = counter.Count
		case strings.HasPrefix(counter.Name, "actions_"):
			report.Actions[strings.TrimPrefix(counter.Name, "actions_")] = counter.Count
		}
	}

	logs, err := s.store.ListActionLogs(ctx, since)
	if err != nil {
		return Report{}, fmt.Errorf("list action logs: %w", err)
	}
	for _, log := range logs {
		report.Recent++
		report.ByStatus[log.Status]++
		report.ByUser[log.UserID]++
	}

	system, err := s.store.ListSystemLogs(ctx, since)
	if err != nil {
		return Report{}, fmt.Errorf("list system logs: %w", err)
	}
	for _, log := range system {
		report.LogLevel[log.Level]++
	}
	return report, nil
}
