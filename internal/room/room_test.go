package room

import (
	"testing"

	"github.com/communityvi/communityvi-sub000/internal/broadcast"
	"github.com/communityvi/communityvi-sub000/internal/clock"
	"github.com/communityvi/communityvi-sub000/internal/medium"
	"github.com/communityvi/communityvi-sub000/internal/protocol"
)

func TestRegisterWhitespaceOnlyNameIsInvalidFormat(t *testing.T) {
	r := New(10, clock.NewVirtual())
	_, _, _, err := r.AddSession("\t ")
	if err == nil || err.Kind != protocol.ErrorInvalidFormat {
		t.Fatalf("expected invalid_format, got %+v", err)
	}
	if err.Message != "Name was empty or whitespace-only." {
		t.Fatalf("unexpected message: %q", err.Message)
	}
}

func TestRegisterDuplicateNameIsInvalidOperation(t *testing.T) {
	r := New(10, clock.NewVirtual())
	if _, _, _, err := r.AddSession("Ferris"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, _, _, err := r.AddSession("Ferris")
	if err == nil || err.Kind != protocol.ErrorInvalidOperation {
		t.Fatalf("expected invalid_operation, got %+v", err)
	}
	if err.Message != "Client name is already in use." {
		t.Fatalf("unexpected message: %q", err.Message)
	}
}

func TestInsertMediumThenPlayWithNegativeStartTime(t *testing.T) {
	r := New(10, clock.NewVirtual())
	s, _, _, err := r.AddSession("Alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// drain the session's own client_joined broadcast first.
	if _, ok := s.Buffer.Dequeue(); !ok {
		t.Fatal("expected client_joined in buffer")
	}

	fixed, ferr := medium.NewFixedLength("Metropolis", 9_180_000)
	if ferr != nil {
		t.Fatalf("unexpected error: %v", ferr)
	}
	v, err := r.InsertMedium(s.ID, s.User.DisplayName, fixed, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Version != 1 || v.Medium.Playback.Kind != medium.Paused || v.Medium.Playback.AtPositionMs != 0 {
		t.Fatalf("unexpected versioned medium after insert: %+v", v)
	}
	if _, ok := s.Buffer.Dequeue(); !ok {
		t.Fatal("expected medium_state_changed in buffer after insert")
	}

	v2, err := r.PlayMedium(s.ID, s.User.DisplayName, -1024, true, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v2.Version != 2 || v2.Medium.Playback.Kind != medium.Playing || v2.Medium.Playback.StartTimeMs != -1024 {
		t.Fatalf("unexpected versioned medium after play: %+v", v2)
	}
}

func TestPlayWithStaleVersionIsIncorrectMediumVersion(t *testing.T) {
	r := New(10, clock.NewVirtual())
	s, _, _, _ := r.AddSession("Alice")
	fixed, _ := medium.NewFixedLength("Metropolis", 9_180_000)
	if _, err := r.InsertMedium(s.ID, s.User.DisplayName, fixed, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := r.PlayMedium(s.ID, s.User.DisplayName, 0, false, 0)
	if err == nil || err.Kind != protocol.ErrorIncorrectMediumVersion {
		t.Fatalf("expected incorrect_medium_version, got %+v", err)
	}
	want := "Medium version is incorrect. Request had 0 but current version is 1."
	if err.Message != want {
		t.Fatalf("expected %q, got %q", want, err.Message)
	}
}

func TestJoiningFullRoomIsInvalidOperation(t *testing.T) {
	r := New(1, clock.NewVirtual())
	if _, _, _, err := r.AddSession("Alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, _, _, err := r.AddSession("Bob")
	if err == nil || err.Kind != protocol.ErrorInvalidOperation {
		t.Fatalf("expected invalid_operation, got %+v", err)
	}
	if err.Message != "Can't join, room is already full." {
		t.Fatalf("unexpected message: %q", err.Message)
	}
}

func TestPlayPauseOnEmptyMediumIsNoMedium(t *testing.T) {
	r := New(10, clock.NewVirtual())
	s, _, _, _ := r.AddSession("Alice")
	_, err := r.PlayMedium(s.ID, s.User.DisplayName, 0, false, 0)
	if err == nil || err.Kind != protocol.ErrorNoMedium {
		t.Fatalf("expected no_medium, got %+v", err)
	}
}

func TestSendChatRejectsBlankMessage(t *testing.T) {
	r := New(10, clock.NewVirtual())
	s, _, _, _ := r.AddSession("Alice")
	_, err := r.SendChat(s.ID, s.User.DisplayName, "   ")
	if err == nil || err.Kind != protocol.ErrorEmptyChatMessage {
		t.Fatalf("expected empty_chat_message, got %+v", err)
	}
}

func TestThreeClientsEndToEndScenario(t *testing.T) {
	r := New(10, clock.NewVirtual())

	alice, _, _, err := r.AddSession("Alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bob, _, _, err := r.AddSession("Bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	carol, _, _, err := r.AddSession("Carol")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fixed, _ := medium.NewFixedLength("Metropolis", 9_180_000)
	if _, err := r.InsertMedium(alice.ID, alice.User.DisplayName, fixed, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.PlayMedium(bob.ID, bob.User.DisplayName, 0, false, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	finalVersion, err := r.PauseMedium(carol.ID, carol.User.DisplayName, 500, false, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if finalVersion.Version != 3 {
		t.Fatalf("expected final version 3, got %d", finalVersion.Version)
	}

	// Every client observed exactly three medium_state_changed broadcasts,
	// in order insert, play, pause, ending at the same final version.
	for _, buf := range []*broadcast.Buffer{alice.Buffer, bob.Buffer, carol.Buffer} {
		var versions []uint64
		for {
			msg, ok := buf.Dequeue()
			if !ok {
				break
			}
			if msg.Kind == broadcast.MediumStateChanged {
				versions = append(versions, msg.Version)
			}
		}
		if len(versions) != 3 {
			t.Fatalf("expected 3 medium_state_changed broadcasts, got %d: %v", len(versions), versions)
		}
		if versions[0] != 1 || versions[1] != 2 || versions[2] != 3 {
			t.Fatalf("expected versions [1 2 3] in order, got %v", versions)
		}
	}
}
