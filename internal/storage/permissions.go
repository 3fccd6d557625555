package storage

import (
	"context"
	"strings"
	"time"
)

type Permission struct {
	UserID    string
	Privilege string
	GrantedBy string
	CreatedAt time.Time
}

func (s *Store) AddPermission(ctx context.Context, perm Permission) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO permissions (user_id, privilege, granted_by, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, privilege) DO NOTHING
	`), perm.UserID, perm.Privilege, perm.GrantedBy, perm.CreatedAt.Unix())
	return err
}

// RemovePermission reports whether a record was deleted.
func (s *Store) RemovePermission(ctx context.Context, userID, privilege string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM permissions WHERE user_id = ? AND privilege = ?`), userID, privilege)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) HasAnyPermission(ctx context.Context, userID string, privileges ...string) (bool, error) {
	if len(privileges) == 0 {
		return false, nil
	}
	query := `SELECT COUNT(*) FROM permissions WHERE user_id = ? AND privilege IN (?` + strings.Repeat(", ?", len(privileges)-1) + `)`
	args := make([]any, 0, len(privileges)+1)
	args = append(args, userID)
	for _, privilege := range privileges {
		args = append(args, privilege)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, s.rebind(query), args...).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListPermissions returns every record, or only userID's when it is not empty.
func (s *Store) ListPermissions(ctx context.Context, userID string) ([]Permission, error) {
	query := `SELECT user_id, privilege, granted_by, created_at FROM permissions`
	var args []any
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY user_id, privilege`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var perm Permission
		var created int64
		if err := rows.Scan(&perm.UserID, &perm.Privilege, &perm.GrantedBy, &created); err != nil {
			return nil, err
		}
		perm.CreatedAt = time.Unix(created, 0)
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}
