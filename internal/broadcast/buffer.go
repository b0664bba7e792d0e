// Package broadcast implements the per-session broadcast buffer: a bounded
// FIFO of messages the Room multicasts to every session, compacted by a
// semantic garbage collector instead of a plain drop-oldest policy. This is
// the component a late-joining broadcast pump depends on to still observe
// the latest medium state, the last ten chats, and every still-relevant
// join/leave — ported deliberately close to its original algorithm.
package broadcast

import (
	"context"
	"fmt"
	"sync"
)

// ChatMessageBufferLimit bounds how many chat messages the garbage
// collector retains per buffer.
const ChatMessageBufferLimit = 10

// Kind discriminates the semantic meaning of a buffered message; it
// controls how the garbage collector marks and sweeps, independent of the
// message's already-encoded wire bytes.
type Kind int

const (
	// ClientJoined announces a session's registration.
	ClientJoined Kind = iota
	// ClientLeft announces a session's removal.
	ClientLeft
	// Chat carries a chat broadcast.
	Chat
	// MediumStateChanged carries an updated VersionedMedium.
	MediumStateChanged
)

// Message is one entry in a session's broadcast buffer. ClientID is the
// session associated with the message: the joiner/leaver for
// ClientJoined/ClientLeft, the sender for Chat, the mutator for
// MediumStateChanged. Version and Counter are populated only for
// MediumStateChanged and Chat respectively, and drive the drop-stale and
// garbage-collection rules. Payload is the already-encoded wire bytes,
// identical for every session's copy of the message.
type Message struct {
	Kind            Kind
	BroadcastNumber uint64
	ClientID        uint64
	Version         uint64
	Counter         uint64
	Payload         []byte
}

// WorstCaseRetention is the upper bound on how many messages a buffer must
// keep after garbage collection: every other session's paired join/leave,
// plus up to three generations of the bounded chat/medium windows.
func WorstCaseRetention(maxSessions int) int {
	return (maxSessions - 1) + 3*ChatMessageBufferLimit + 3
}

// Buffer is a per-session bounded FIFO of broadcast messages.
type Buffer struct {
	mu                sync.Mutex
	messages          []Message
	hasExpected       bool
	nextExpected      uint64
	nextMediumVersion uint64
	nextChatCounter   uint64
	maxSessions       int
	notify            chan struct{}
}

// New creates an empty buffer. maxSessions is the room's session cap, used
// only to size the garbage-collection threshold.
func New(maxSessions int) *Buffer {
	return &Buffer{maxSessions: maxSessions, notify: make(chan struct{}, 1)}
}

// Enqueue appends msg to the buffer. It panics if msg.BroadcastNumber does
// not equal the broadcast number expected next: this is a distributor bug,
// not a client-triggerable condition, so it is not reported as an error.
// Stale medium/chat updates (a version or counter lower than one already
// observed) are silently dropped instead of appended. When the buffer
// exceeds 1.5x its worst-case retention size, a garbage-collection pass
// runs before returning.
func (b *Buffer) Enqueue(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.hasExpected && msg.BroadcastNumber != b.nextExpected {
		panic(fmt.Sprintf("broadcast: expected broadcast number %d, got %d", b.nextExpected, msg.BroadcastNumber))
	}
	b.hasExpected = true
	b.nextExpected = msg.BroadcastNumber + 1

	switch msg.Kind {
	case MediumStateChanged:
		if msg.Version < b.nextMediumVersion {
			return
		}
		b.nextMediumVersion = msg.Version + 1
	case Chat:
		if msg.Counter < b.nextChatCounter {
			return
		}
		b.nextChatCounter = msg.Counter + 1
	}

	b.messages = append(b.messages, msg)

	threshold := int(1.5 * float64(WorstCaseRetention(b.maxSessions)))
	if len(b.messages) > threshold {
		b.collectGarbage()
	}

	b.notifyWaiter()
}

// Dequeue pops the head of the buffer, returning false if it is empty.
func (b *Buffer) Dequeue() (Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.messages) == 0 {
		return Message{}, false
	}
	msg := b.messages[0]
	b.messages = b.messages[1:]
	return msg, true
}

// Len reports the current number of buffered messages.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

// WaitForBroadcast cooperatively suspends until the buffer is non-empty,
// then dequeues and returns the head. It returns false if ctx is cancelled
// before a message arrives.
func (b *Buffer) WaitForBroadcast(ctx context.Context) (Message, bool) {
	for {
		if msg, ok := b.Dequeue(); ok {
			return msg, true
		}
		select {
		case <-b.notify:
			continue
		case <-ctx.Done():
			return Message{}, false
		}
	}
}

// notifyWaiter wakes at most one waiter. Repeated notifies without a
// waiter present coalesce into a single pending wake, matching an
// edge-triggered notification primitive.
func (b *Buffer) notifyWaiter() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// collectGarbage rebuilds b.messages in place, applying the mark/sweep
// rules described in the package doc. Must be called with b.mu held.
func (b *Buffer) collectGarbage() {
	joined := make(map[uint64]bool)
	left := make(map[uint64]bool)
	chatIndices := make([]int, 0)
	lastMediumIndex := -1

	for i, msg := range b.messages {
		switch msg.Kind {
		case ClientJoined:
			joined[msg.ClientID] = true
		case ClientLeft:
			left[msg.ClientID] = true
		case Chat:
			chatIndices = append(chatIndices, i)
		case MediumStateChanged:
			lastMediumIndex = i
		}
	}

	survivingChat := make(map[int]bool)
	keepAlive := make(map[uint64]bool)
	start := 0
	if len(chatIndices) > ChatMessageBufferLimit {
		start = len(chatIndices) - ChatMessageBufferLimit
	}
	for _, idx := range chatIndices[start:] {
		survivingChat[idx] = true
		keepAlive[b.messages[idx].ClientID] = true
	}
	if lastMediumIndex >= 0 {
		keepAlive[b.messages[lastMediumIndex].ClientID] = true
	}

	kept := b.messages[:0:0]
	for i, msg := range b.messages {
		switch msg.Kind {
		case ClientJoined:
			if !left[msg.ClientID] || keepAlive[msg.ClientID] {
				kept = append(kept, msg)
			}
		case ClientLeft:
			if !joined[msg.ClientID] || keepAlive[msg.ClientID] {
				kept = append(kept, msg)
			}
		case Chat:
			if survivingChat[i] {
				kept = append(kept, msg)
			}
		case MediumStateChanged:
			if i == lastMediumIndex {
				kept = append(kept, msg)
			}
		}
	}
	b.messages = kept
}
