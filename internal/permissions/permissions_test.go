package permissions

import (
	"context"
	"errors"
	"testing"

	"toxiguard/internal/storage"
)

func newTestManager(t *testing.T, owners ...string) *Manager {
	t.Helper()
	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewManager(store, owners)
}

func TestOwnerHoldsEverything(t *testing.T) {
	m := newTestManager(t, "owner", " ")
	ok, err := m.Has(context.Background(), "owner", ManageThreshold)
	if err != nil || !ok {
		t.Fatalf("expected owner access, got %v %v", ok, err)
	}
	if !m.IsOwner("owner") || m.IsOwner(" ") || m.IsOwner("") {
		t.Fatalf("blank owner ids must be dropped")
	}
}

func TestGrantRevoke(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if ok, _ := m.Has(ctx, "u1", ManageBypass); ok {
		t.Fatalf("expected no access before grant")
	}
	if err := m.Grant(ctx, "u1", "MANAGE_BYPASS", "owner"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if ok, _ := m.Has(ctx, "u1", ManageBypass); !ok {
		t.Fatalf("expected access after grant")
	}
	if ok, _ := m.Has(ctx, "u1", ManageThreshold); ok {
		t.Fatalf("grant leaked to another privilege")
	}

	removed, err := m.Revoke(ctx, "u1", ManageBypass)
	if err != nil || !removed {
		t.Fatalf("revoke: %v %v", removed, err)
	}
	if removed, _ := m.Revoke(ctx, "u1", ManageBypass); removed {
		t.Fatalf("second revoke should report nothing removed")
	}
}

func TestAdminImpliesAll(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	if err := m.Grant(ctx, "u2", Admin, "owner"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	for _, privilege := range All() {
		if ok, _ := m.Has(ctx, "u2", privilege); !ok {
			t.Fatalf("admin should hold %s", privilege)
		}
	}
	perms, err := m.List(ctx, "u2")
	if err != nil || len(perms) != 1 || perms[0].GrantedBy != "owner" {
		t.Fatalf("unexpected list %+v %v", perms, err)
	}
}

func TestUnknownPrivilege(t *testing.T) {
	m := newTestManager(t)
	if err := m.Grant(context.Background(), "u1", "root", "owner"); !errors.Is(err, ErrUnknownPrivilege) {
		t.Fatalf("expected ErrUnknownPrivilege, got %v", err)
	}
	if ok, _ := m.Has(context.Background(), "anyone", ""); !ok {
		t.Fatalf("empty privilege should be open")
	}
}
