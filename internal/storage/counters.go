package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const (
	CounterMessagesChecked = "messages_checked"
	CounterMessagesCommand = "messages_command"
	CounterMessagesFlagged = "messages_flagged"
)

type Counter struct {
	Name      string
	Count     int64
	UpdatedAt time.Time
}

// IncrementCount bumps a named counter by one in a single statement so
// concurrent handlers never lose an increment.
func (s *Store) IncrementCount(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO counters (name, count, updated_at) VALUES (?, 1, ?)
		ON CONFLICT(name) DO UPDATE SET
			count = counters.count + 1,
			updated_at = excluded.updated_at
	`), name, time.Now().Unix())
	return err
}

func (s *Store) GetCount(ctx context.Context, name string) (int64, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT count FROM counters WHERE name = ?`), name)
	var count int64
	if err := row.Scan(&count); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}

func (s *Store) ListCounters(ctx context.Context) ([]Counter, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, count, updated_at FROM counters ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counters []Counter
	for rows.Next() {
		var counter Counter
		var updated int64
		if err := rows.Scan(&counter.Name, &counter.Count, &updated); err != nil {
			return nil, err
		}
		counter.UpdatedAt = time.Unix(updated, 0)
		counters = append(counters, counter)
	}
	return counters, rows.Err()
}
