package session

import (
	"testing"

	"github.com/communityvi/communityvi-sub000/internal/identity"
)

func TestSequenceIsDenseAndMonotonic(t *testing.T) {
	var seq Sequence
	if seq.Next() != 0 || seq.Next() != 1 || seq.Next() != 2 {
		t.Fatal("expected dense monotonic ids starting at 0")
	}
}

func mustUser(t *testing.T, name string) identity.User {
	t.Helper()
	u, ok := identity.New(name)
	if !ok {
		t.Fatalf("expected %q to be a valid name", name)
	}
	return u
}

func TestRepositoryAddAndGet(t *testing.T) {
	repo := NewRepository(10)
	alice := mustUser(t, "Alice")
	s, err := repo.Add(0, alice, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, ok := repo.Get(0)
	if !ok || got != s {
		t.Fatal("expected Get to return the added session")
	}
}

func TestRepositoryRejectsDuplicateName(t *testing.T) {
	repo := NewRepository(10)
	alice := mustUser(t, "Alice")
	if _, err := repo.Add(0, alice, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := repo.Add(1, alice, 10); err != ErrNameAlreadyInUse {
		t.Fatalf("expected ErrNameAlreadyInUse, got %v", err)
	}
}

func TestRepositoryEnforcesMaxSessions(t *testing.T) {
	repo := NewRepository(1)
	alice := mustUser(t, "Alice")
	bob := mustUser(t, "Bob")
	if _, err := repo.Add(0, alice, 10); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := repo.Add(1, bob, 10); err != ErrRoomFull {
		t.Fatalf("expected ErrRoomFull, got %v", err)
	}
}

func TestRepositoryRemoveIsIdempotent(t *testing.T) {
	repo := NewRepository(10)
	alice := mustUser(t, "Alice")
	repo.Add(0, alice, 10)

	if _, ok := repo.Remove(0); !ok {
		t.Fatal("expected first remove to succeed")
	}
	if _, ok := repo.Remove(0); ok {
		t.Fatal("expected second remove to be a no-op")
	}
	if repo.Len() != 0 {
		t.Fatalf("expected empty repository, got len=%d", repo.Len())
	}
}

func TestRepositoryNameFreedAfterRemove(t *testing.T) {
	repo := NewRepository(10)
	alice := mustUser(t, "Alice")
	repo.Add(0, alice, 10)
	repo.Remove(0)

	if _, err := repo.Add(1, alice, 10); err != nil {
		t.Fatalf("expected name to be reusable after removal, got %v", err)
	}
}

func TestRepositorySnapshotPreservesOrder(t *testing.T) {
	repo := NewRepository(10)
	repo.Add(0, mustUser(t, "Alice"), 10)
	repo.Add(1, mustUser(t, "Bob"), 10)
	repo.Add(2, mustUser(t, "Carol"), 10)

	snapshot := repo.Snapshot()
	if len(snapshot) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(snapshot))
	}
	names := []string{snapshot[0].User.DisplayName, snapshot[1].User.DisplayName, snapshot[2].User.DisplayName}
	if names[0] != "Alice" || names[1] != "Bob" || names[2] != "Carol" {
		t.Fatalf("expected registration order, got %v", names)
	}
}
