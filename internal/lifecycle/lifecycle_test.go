package lifecycle

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/communityvi/communityvi-sub000/internal/clock"
	"github.com/communityvi/communityvi-sub000/internal/room"
)

// fakeTransport is a hand-rolled test double recording every frame sent and
// letting the test drive incoming requests/pongs/pings.
type fakeTransport struct {
	requests chan []byte
	pongs    chan []byte

	mu    sync.Mutex
	sent  [][]byte
	pings [][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		requests: make(chan []byte, 16),
		pongs:    make(chan []byte, 16),
	}
}

func (f *fakeTransport) transport() Transport {
	return Transport{
		Requests: f.requests,
		Pongs:    f.pongs,
		Send: func(data []byte) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.sent = append(f.sent, data)
			return nil
		},
		SendPing: func(payload []byte) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.pings = append(f.pings, payload)
			return nil
		},
	}
}

func (f *fakeTransport) sentFrames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	copy(out, f.sent)
	return out
}

func decodeType(t *testing.T, frame []byte) string {
	t.Helper()
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatalf("unexpected unmarshal error: %v", err)
	}
	return env.Type
}

func TestRegistrationSuccessSendsHello(t *testing.T) {
	r := room.New(10, clock.NewVirtual())
	ft := newFakeTransport()
	ft.requests <- []byte(`{"type":"register","request_id":1,"name":"Ferris"}`)

	done := make(chan struct{})
	go func() {
		Run(context.Background(), r, ft.transport())
		close(done)
	}()

	waitForFrames(t, ft, 1)
	close(ft.requests)
	<-done

	frames := ft.sentFrames()
	if decodeType(t, frames[0]) != "success" {
		t.Fatalf("expected success reply, got %s", string(frames[0]))
	}
}

func TestRegistrationWithWrongFirstRequestEndsSession(t *testing.T) {
	r := room.New(10, clock.NewVirtual())
	ft := newFakeTransport()
	ft.requests <- []byte(`{"type":"chat","request_id":1,"message":"hi"}`)

	done := make(chan struct{})
	go func() {
		Run(context.Background(), r, ft.transport())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to return promptly on bad first frame")
	}

	frames := ft.sentFrames()
	if len(frames) != 1 || decodeType(t, frames[0]) != "error" {
		t.Fatalf("expected a single error reply, got %v", frames)
	}
}

func TestHeartbeatTimeoutRemovesSessionWithTimeoutReason(t *testing.T) {
	origInterval, origTimeout, origMisses := heartbeatInterval, heartbeatTimeout, maxMissedBeats
	heartbeatInterval = 5 * time.Millisecond
	heartbeatTimeout = 5 * time.Millisecond
	maxMissedBeats = 2
	defer func() {
		heartbeatInterval, heartbeatTimeout, maxMissedBeats = origInterval, origTimeout, origMisses
	}()

	r := room.New(10, clock.NewVirtual())

	// A bystander session that stays registered for the whole test, so
	// there is someone left in the room to observe the client_left
	// broadcast once the timed-out session is removed.
	observer, _, _, err := r.AddSession("Observer")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ft := newFakeTransport()
	ft.requests <- []byte(`{"type":"register","request_id":1,"name":"Ferris"}`)

	done := make(chan struct{})
	go func() {
		Run(context.Background(), r, ft.transport())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected Run to return after heartbeat timeout")
	}

	var sawClientLeftTimeout bool
	for {
		msg, ok := observer.Buffer.Dequeue()
		if !ok {
			break
		}
		var env struct {
			Type    string `json:"type"`
			Message struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"message"`
		}
		if err := json.Unmarshal(msg.Payload, &env); err != nil {
			continue
		}
		if env.Type == "broadcast" && env.Message.Type == "client_left" && env.Message.Reason == "timeout" {
			sawClientLeftTimeout = true
		}
	}
	if !sawClientLeftTimeout {
		t.Fatal("expected a client_left broadcast with reason=timeout in the observer's buffer")
	}
}

func waitForFrames(t *testing.T, ft *fakeTransport, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(ft.sentFrames()) >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d sent frames", n)
}
