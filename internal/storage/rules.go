package storage

import (
	"context"
	"strings"
	"time"
)

type BypassRule struct {
	ID        int64
	Kind      string
	Value     string
	CreatedBy string
	CreatedAt time.Time
}

type PresenceEntry struct {
	ID   int64
	Type string
	Text string
}

type ActionRule struct {
	Category string
	Actions  []string
}

type ActionLog struct {
	ID        int64
	UserID    string
	ChannelID string
	MessageID string
	Action    string
	Status    string
	Details   string
	CreatedAt time.Time
}

func (s *Store) AddBypassRule(ctx context.Context, rule BypassRule) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO bypass_rules (kind, value, created_by, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(kind, value) DO NOTHING
	`), rule.Kind, rule.Value, rule.CreatedBy, rule.CreatedAt.Unix())
	return err
}

func (s *Store) RemoveBypassRule(ctx context.Context, kind, value string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM bypass_rules WHERE kind = ? AND value = ?`), kind, value)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected > 0, err
}

func (s *Store) ListBypassRules(ctx context.Context) ([]BypassRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, kind, value, created_by, created_at FROM bypass_rules ORDER BY kind, value`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []BypassRule
	for rows.Next() {
		var rule BypassRule
		var created int64
		if err := rows.Scan(&rule.ID, &rule.Kind, &rule.Value, &rule.CreatedBy, &created); err != nil {
			return nil, err
		}
		rule.CreatedAt = time.Unix(created, 0)
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (s *Store) AddPresence(ctx context.Context, entry PresenceEntry) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO presences (type, text) VALUES (?, ?)
		ON CONFLICT(type, text) DO NOTHING
	`), entry.Type, entry.Text)
	return err
}

func (s *Store) RemovePresence(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM presences WHERE id = ?`), id)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected > 0, err
}

func (s *Store) ListPresences(ctx context.Context) ([]PresenceEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, type, text FROM presences ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []PresenceEntry
	for rows.Next() {
		var entry PresenceEntry
		if err := rows.Scan(&entry.ID, &entry.Type, &entry.Text); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) SetActionRule(ctx context.Context, rule ActionRule) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO action_rules (category, actions) VALUES (?, ?)
		ON CONFLICT(category) DO UPDATE SET actions = excluded.actions
	`), rule.Category, strings.Join(rule.Actions, ","))
	return err
}

func (s *Store) RemoveActionRule(ctx context.Context, category string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM action_rules WHERE category = ?`), category)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	return affected > 0, err
}

func (s *Store) ListActionRules(ctx context.Context) ([]ActionRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT category, actions FROM action_rules ORDER BY category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []ActionRule
	for rows.Next() {
		var rule ActionRule
		var actions string
		if err := rows.Scan(&rule.Category, &actions); err != nil {
			return nil, err
		}
		if actions != "" {
			rule.Actions = strings.Split(actions, ",")
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (s *Store) AddActionLog(ctx context.Context, log ActionLog) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO action_logs (user_id, channel_id, message_id, action, status, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), log.UserID, log.ChannelID, log.MessageID, log.Action, log.Status, log.Details, log.CreatedAt.Unix())
	return err
}

func (s *Store) ListActionLogs(ctx context.Context, since time.Time) ([]ActionLog, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, user_id, channel_id, message_id, action, status, details, created_at
		FROM action_logs
		WHERE created_at >= ?
		ORDER BY created_at DESC, id DESC
	`), since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []ActionLog
	for rows.Next() {
		var log ActionLog
		var created int64
		if err := rows.Scan(&log.ID, &log.UserID, &log.ChannelID, &log.MessageID, &log.Action, &log.Status, &log.Details, &created); err != nil {
			return nil, err
		}
		log.CreatedAt = time.Unix(created, 0)
		logs = append(logs, log)
	}
	return logs, rows.Err()
}
