// Package permissions answers whether a user may run a privileged command.
package permissions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"toxiguard/internal/storage"
)

const (
	Admin             = "admin"
	ManagePermissions = "manage_permissions"
	ManageBypass      = "manage_bypass"
	ManageThreshold   = "manage_threshold"
	ManagePresence    = "manage_presence"
	ManageActions     = "manage_actions"
	ViewStats         = "view_stats"
)

var ErrUnknownPrivilege = errors.New("unknown privilege")

// All lists every grantable privilege.
func All() []string {
	return []string{Admin, ManagePermissions, ManageBypass, ManageThreshold, ManagePresence, ManageActions, ViewStats}
}

func Valid(privilege string) bool {
	for _, p := range All() {
		if p == privilege {
			return true
		}
	}
	return false
}

type Manager struct {
	store  *storage.Store
	owners map[string]struct{}
	now    func() time.Time
}

// NewManager treats every id in owners as holding all privileges.
func NewManager(store *storage.Store, owners []string) *Manager {
	set := make(map[string]struct{}, len(owners))
	for _, id := range owners {
		if id = strings.TrimSpace(id); id != "" {
			set[id] = struct{}{}
		}
	}
	return &Manager{store: store, owners: set, now: time.Now}
}

func (m *Manager) IsOwner(userID string) bool {
	_, ok := m.owners[userID]
	return ok
}

// Has reports whether userID holds privilege. An empty privilege is open to
// everyone and the admin privilege implies every other one.
func (m *Manager) Has(ctx context.Context, userID, privilege string) (bool, error) {
	if privilege == "" || m.IsOwner(userID) {
		return true, nil
	}
	ok, err := m.store.HasAnyPermission(ctx, userID, privilege, Admin)
	if err != nil {
		return false, fmt.Errorf("permission lookup: %w", err)
	}
	return ok, nil
}

func (m *Manager) Grant(ctx context.Context, userID, privilege, grantedBy string) error {
	privilege = strings.ToLower(privilege)
	if !Valid(privilege) {
		return fmt.Errorf("%w: %s", ErrUnknownPrivilege, privilege)
	}
	return m.store.AddPermission(ctx, storage.Permission{
		UserID:    userID,
		Privilege: privilege,
		GrantedBy: grantedBy,
		CreatedAt: m.now(),
	})
}

// Revoke reports whether the user held the privilege.
func (m *Manager) Revoke(ctx context.Context, userID, privilege string) (bool, error) {
	privilege = strings.ToLower(privilege)
	if !Valid(privilege) {
		return false, fmt.Errorf("%w: %s", ErrUnknownPrivilege, privilege)
	}
	return m.store.RemovePermission(ctx, userID, privilege)
}

// List returns stored grants for userID, or all grants when userID is empty.
// Owners are not stored and are not listed.
func (m *Manager) List(ctx context.Context, userID string) ([]storage.Permission, error) {
	return m.store.ListPermissions(ctx, userID)
}

