package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store is the bot's persistence layer. Queries are written with `?`
// placeholders and rebound for postgres.
type Store struct {
	db      *sql.DB
	dialect string
}

type SystemLog struct {
	ID        int64
	Level     string
	Event     string
	Details   string
	CreatedAt time.Time
}

type UserLog struct {
	ID         int64
	UserID     string
	ChannelID  string
	MessageID  string
	Content    string
	Categories string
	CreatedAt  time.Time
}

// New opens a sqlite store at dbPath.
func New(dbPath string) (*Store, error) {
	return Open(DriverSQLite, dbPath)
}

func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		// A single connection keeps :memory: databases shared and serializes writers.
		db.SetMaxOpenConns(1)
		return &Store{db: db, dialect: DriverSQLite}, nil
	case DriverPostgres:
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, err
		}
		return &Store{db: db, dialect: DriverPostgres}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Migrate() error {
	dir := path.Join("migrations", s.dialect)
	entries, err := migrations.ReadDir(dir)
	if err != nil {
		return err
	}

	var files []string
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := migrations.ReadFile(path.Join(dir, file))
		if err != nil {
			return err
		}
		for _, stmt := range splitStatements(string(content)) {
			if _, err := s.db.Exec(stmt); err != nil {
				if isIgnorableMigrationError(err) {
					continue
				}
				return fmt.Errorf("migration %s failed: %w", file, err)
			}
		}
	}
	return nil
}

func (s *Store) AddSystemLog(ctx context.Context, log SystemLog) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO system_logs (level, event, details, created_at)
		VALUES (?, ?, ?, ?)
	`), log.Level, log.Event, log.Details, log.CreatedAt.Unix())
	return err
}

func (s *Store) ListSystemLogs(ctx context.Context, since time.Time) ([]SystemLog, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, level, event, details, created_at
		FROM system_logs
		WHERE created_at >= ?
		ORDER BY created_at DESC, id DESC
	`), since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []SystemLog
	for rows.Next() {
		var log SystemLog
		var created int64
		if err := rows.Scan(&log.ID, &log.Level, &log.Event, &log.Details, &created); err != nil {
			return nil, err
		}
		log.CreatedAt = time.Unix(created, 0)
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func (s *Store) AddUserLog(ctx context.Context, log UserLog) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO user_logs (user_id, channel_id, message_id, content, categories, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`), log.UserID, log.ChannelID, log.MessageID, log.Content, log.Categories, log.CreatedAt.Unix())
	return err
}

func (s *Store) ListUserLogs(ctx context.Context, userID string, since time.Time) ([]UserLog, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, user_id, channel_id, message_id, content, categories, created_at
		FROM user_logs
		WHERE user_id = ? AND created_at >= ?
		ORDER BY created_at DESC, id DESC
	`), userID, since.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []UserLog
	for rows.Next() {
		var log UserLog
		var created int64
		if err := rows.Scan(&log.ID, &log.UserID, &log.ChannelID, &log.MessageID, &log.Content, &log.Categories, &created); err != nil {
			return nil, err
		}
		log.CreatedAt = time.Unix(created, 0)
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func (s *Store) CleanupLogs(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays).Unix()
	for _, table := range []string{"system_logs", "user_logs", "action_logs"} {
		if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM `+table+` WHERE created_at < ?`), cutoff); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT value FROM settings WHERE key = ?`), key)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return value, true, nil
}

func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`), key, value)
	return err
}

const thresholdKey = "classifier_threshold"

// GetThreshold returns the raw classifier threshold, or fallback when unset.
func (s *Store) GetThreshold(ctx context.Context, fallback float64) (float64, error) {
	value, ok, err := s.GetSetting(ctx, thresholdKey)
	if err != nil || !ok {
		return fallback, err
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback, fmt.Errorf("stored threshold %q: %w", value, err)
	}
	return parsed, nil
}

func (s *Store) SetThreshold(ctx context.Context, raw float64) error {
	return s.SetSetting(ctx, thresholdKey, strconv.FormatFloat(raw, 'f', -1, 64))
}

func (s *Store) rebind(query string) string {
	if s.dialect != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func splitStatements(content string) []string {
	var out []string
	for _, stmt := range strings.Split(content, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

func isIgnorableMigrationError(err error) bool {
	if err == nil {
		return false
	}
	message := err.Error()
	return strings.Contains(message, "duplicate column name") || strings.Contains(message, "already exists")
}
