// Package room implements the Room: the single-mutex owner of the versioned
// medium, the session repository, the broadcast sequence and the chat
// counter. Every successful mutation assigns the next broadcast number and
// enqueues the resulting broadcast into every session's buffer before
// releasing the lock, which is what gives every session's buffer the same
// total order of broadcasts.
package room

import (
	"fmt"
	"strings"
	"sync"

	"github.com/communityvi/communityvi-sub000/internal/broadcast"
	"github.com/communityvi/communityvi-sub000/internal/clock"
	"github.com/communityvi/communityvi-sub000/internal/identity"
	"github.com/communityvi/communityvi-sub000/internal/medium"
	"github.com/communityvi/communityvi-sub000/internal/protocol"
	"github.com/communityvi/communityvi-sub000/internal/session"
)

// Error is returned by Room operations that fail; Kind maps directly to
// the wire error kinds so the lifecycle layer never has to re-derive it.
type Error struct {
	Kind    protocol.ErrorKind
	Message string
}

func (e *Error) Error() string { return e.Message }

func errInvalidFormat(msg string) *Error    { return &Error{Kind: protocol.ErrorInvalidFormat, Message: msg} }
func errInvalidOperation(msg string) *Error { return &Error{Kind: protocol.ErrorInvalidOperation, Message: msg} }

// Room owns the medium, the session roster, the broadcast sequence and the
// chat counter behind one mutex covering "decide the mutation, assign the
// sequence number, enqueue into every buffer" as a single atomic step.
type Room struct {
	mu                sync.Mutex
	medium            medium.Versioned
	sessions          *session.Repository
	sequence          session.Sequence
	broadcastSequence uint64
	chatCounter       uint64
	maxSessions       int
	clock             clock.Clock
}

// New constructs an empty Room bounded at maxSessions concurrent sessions,
// timestamped by clk.
func New(maxSessions int, clk clock.Clock) *Room {
	return &Room{
		sessions:    session.NewRepository(maxSessions),
		maxSessions: maxSessions,
		clock:       clk,
	}
}

// ReferenceTimeMs returns the room's current reference clock reading.
func (r *Room) ReferenceTimeMs() int64 {
	return r.clock.ElapsedMilliseconds()
}

// AddSession validates and registers a newly claimed display name,
// returning the new session, a roster snapshot of the other sessions at
// registration time, and the current versioned medium. The resulting
// client_joined broadcast (including to the new session itself) is
// enqueued into every buffer before this call returns.
func (r *Room) AddSession(rawName string) (*session.Session, []protocol.ClientInfo, medium.Versioned, *Error) {
	user, ok := identity.New(rawName)
	if !ok {
		if strings.TrimSpace(rawName) == "" {
			return nil, nil, medium.Versioned{}, errInvalidFormat("Name was empty or whitespace-only.")
		}
		return nil, nil, medium.Versioned{}, errInvalidFormat("Name exceeds the maximum length of 256 bytes.")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	others := r.sessions.Snapshot()
	roster := make([]protocol.ClientInfo, 0, len(others))
	for _, s := range others {
		roster = append(roster, protocol.ClientInfo{ID: uint64(s.ID), Name: s.User.DisplayName})
	}

	if err := r.sessions.CanAdd(user); err != nil {
		switch err {
		case session.ErrRoomFull:
			return nil, nil, medium.Versioned{}, errInvalidOperation("Can't join, room is already full.")
		case session.ErrNameAlreadyInUse:
			return nil, nil, medium.Versioned{}, errInvalidOperation("Client name is already in use.")
		default:
			return nil, nil, medium.Versioned{}, errInvalidOperation(err.Error())
		}
	}

	id := r.sequence.Next()
	newSession, err := r.sessions.Add(id, user, r.maxSessions)
	if err != nil {
		// CanAdd already passed under the same lock, so Add cannot fail here.
		return nil, nil, medium.Versioned{}, errInvalidOperation(err.Error())
	}

	payload, encodeErr := protocol.EncodeClientJoined(uint64(id), user.DisplayName)
	if encodeErr != nil {
		panic(encodeErr)
	}
	r.broadcastLocked(broadcast.Message{Kind: broadcast.ClientJoined, ClientID: uint64(id), Payload: payload})

	return newSession, roster, r.medium, nil
}

// Snapshot returns the current roster and versioned medium without
// registering anyone; it backs the read-only REST room view.
func (r *Room) Snapshot() ([]protocol.ClientInfo, medium.Versioned) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := r.sessions.Snapshot()
	roster := make([]protocol.ClientInfo, 0, len(sessions))
	for _, s := range sessions {
		roster = append(roster, protocol.ClientInfo{ID: uint64(s.ID), Name: s.User.DisplayName})
	}
	return roster, r.medium
}

// RemoveSession deregisters id, idempotently, and broadcasts client_left
// with the given reason. It is a no-op if the session is already gone,
// which lets multiple racing lifecycle sub-tasks each call it safely.
func (r *Room) RemoveSession(id session.ID, reason protocol.LeftReason) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions.Remove(id)
	if !ok {
		return
	}

	payload, err := protocol.EncodeClientLeft(uint64(id), s.User.DisplayName, reason)
	if err != nil {
		panic(err)
	}
	r.broadcastLocked(broadcast.Message{Kind: broadcast.ClientLeft, ClientID: uint64(id), Payload: payload})
}

// InsertMedium replaces the room's medium entirely, guarded by an
// optimistic concurrency check against previousVersion.
func (r *Room) InsertMedium(requesterID session.ID, requesterName string, m medium.Medium, previousVersion uint64) (medium.Versioned, *Error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	next, ok := r.medium.Insert(m, previousVersion)
	if !ok {
		return medium.Versioned{}, r.incorrectVersionLocked(previousVersion)
	}
	r.medium = next
	r.broadcastMediumChangeLocked(requesterID, requesterName, false)
	return r.medium, nil
}

// PlayMedium starts or resumes playback at startTimeMs, guarded by
// previousVersion. Fails with no_medium if the room currently holds no
// medium at all.
func (r *Room) PlayMedium(requesterID session.ID, requesterName string, startTimeMs int64, skipped bool, previousVersion uint64) (medium.Versioned, *Error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.medium.Medium.Kind == medium.Empty {
		return medium.Versioned{}, &Error{Kind: protocol.ErrorNoMedium, Message: "There is no medium to apply this operation to."}
	}
	next, ok := r.medium.Play(startTimeMs, r.clock.ElapsedMilliseconds(), previousVersion)
	if !ok {
		return medium.Versioned{}, r.incorrectVersionLocked(previousVersion)
	}
	r.medium = next
	r.broadcastMediumChangeLocked(requesterID, requesterName, skipped)
	return r.medium, nil
}

// PauseMedium stops playback at positionMs, guarded by previousVersion.
func (r *Room) PauseMedium(requesterID session.ID, requesterName string, positionMs uint64, skipped bool, previousVersion uint64) (medium.Versioned, *Error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.medium.Medium.Kind == medium.Empty {
		return medium.Versioned{}, &Error{Kind: protocol.ErrorNoMedium, Message: "There is no medium to apply this operation to."}
	}
	next, ok := r.medium.Pause(int64(positionMs), previousVersion)
	if !ok {
		return medium.Versioned{}, r.incorrectVersionLocked(previousVersion)
	}
	r.medium = next
	r.broadcastMediumChangeLocked(requesterID, requesterName, skipped)
	return r.medium, nil
}

// SendChat validates and broadcasts a chat message, assigning the next
// chat counter.
func (r *Room) SendChat(senderID session.ID, senderName, message string) (uint64, *Error) {
	if strings.TrimSpace(message) == "" {
		return 0, &Error{Kind: protocol.ErrorEmptyChatMessage, Message: "Chat message was empty or whitespace-only."}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	counter := r.chatCounter
	r.chatCounter++

	payload, err := protocol.EncodeChat(uint64(senderID), senderName, message, counter)
	if err != nil {
		panic(err)
	}
	r.broadcastLocked(broadcast.Message{Kind: broadcast.Chat, ClientID: uint64(senderID), Counter: counter, Payload: payload})
	return counter, nil
}

func (r *Room) incorrectVersionLocked(previousVersion uint64) *Error {
	return &Error{
		Kind: protocol.ErrorIncorrectMediumVersion,
		Message: fmt.Sprintf(
			"Medium version is incorrect. Request had %d but current version is %d.",
			previousVersion, r.medium.Version,
		),
	}
}

// broadcastMediumChangeLocked encodes and fans out a medium_state_changed
// broadcast for the room's current medium. Must be called with r.mu held.
func (r *Room) broadcastMediumChangeLocked(requesterID session.ID, requesterName string, skipped bool) {
	payload, err := protocol.EncodeMediumStateChanged(uint64(requesterID), requesterName, r.medium, skipped)
	if err != nil {
		panic(err)
	}
	r.broadcastLocked(broadcast.Message{
		Kind:     broadcast.MediumStateChanged,
		ClientID: uint64(requesterID),
		Version:  r.medium.Version,
		Payload:  payload,
	})
}

// broadcastLocked assigns the next broadcast sequence number and enqueues
// msg, with that number, into every currently registered session's
// buffer. Must be called with r.mu held so the sequence assignment and the
// fan-out are atomic with respect to every other mutation.
func (r *Room) broadcastLocked(msg broadcast.Message) {
	msg.BroadcastNumber = r.broadcastSequence
	r.broadcastSequence++

	for _, s := range r.sessions.Snapshot() {
		s.Buffer.Enqueue(msg)
	}
}
