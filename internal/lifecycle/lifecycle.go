// Package lifecycle implements the per-connection session lifecycle: the
// registration handshake followed by three cooperating sub-tasks (request
// handler, broadcast pump, heartbeat watchdog) raced against each other so
// that the session ends the moment any one of them completes.
package lifecycle

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/communityvi/communityvi-sub000/internal/medium"
	"github.com/communityvi/communityvi-sub000/internal/protocol"
	"github.com/communityvi/communityvi-sub000/internal/room"
	"github.com/communityvi/communityvi-sub000/internal/session"
)

const maxParseFailures = 10

// heartbeatInterval, heartbeatTimeout and maxMissedBeats are variables
// rather than constants so tests can shrink the real-time waits involved
// in exercising the heartbeat watchdog.
var (
	heartbeatInterval = 2 * time.Second
	heartbeatTimeout  = 2 * time.Second
	maxMissedBeats    = 3
)

// Transport is the boundary the lifecycle drives; the websocket transport
// adapter is the production implementation. Requests delivers the raw
// bytes of incoming text frames, which Run decodes (ping/pong frames never
// appear here: the adapter routes them straight to Pongs instead). Run
// serializes its calls to Send, which the request handler and the
// broadcast pump share; SendPing is called only by the heartbeat watchdog
// and is not wrapped, so it must be safe to call concurrently with Send.
type Transport struct {
	Requests <-chan []byte
	Pongs    <-chan []byte
	Send     func(data []byte) error
	SendPing func(payload []byte) error
}

// Run drives one connection's full lifecycle to completion: the
// registration handshake, then the raced request-handler/broadcast-pump/
// heartbeat-watchdog trio, then deregistration. It returns once the
// session has been fully torn down.
func Run(parent context.Context, r *room.Room, t Transport) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var sendMu sync.Mutex
	send := func(data []byte) error {
		sendMu.Lock()
		defer sendMu.Unlock()
		return t.Send(data)
	}

	sess := registerSession(ctx, r, t, send)
	if sess == nil {
		return
	}

	limiter := rate.NewLimiter(rate.Limit(1), 10)
	pongs := make(chan []byte, 4)
	go forwardPongs(ctx, t.Pongs, pongs)

	done := make(chan struct{}, 3)
	var reasonMu sync.Mutex
	leaveReason := protocol.LeftReasonClosed
	setReason := func(reason protocol.LeftReason) {
		reasonMu.Lock()
		leaveReason = reason
		reasonMu.Unlock()
	}

	go func() {
		runRequestHandler(ctx, r, sess, t.Requests, limiter, send)
		done <- struct{}{}
	}()
	go func() {
		runBroadcastPump(ctx, sess, send)
		done <- struct{}{}
	}()
	go func() {
		if !runHeartbeatWatchdog(ctx, t, pongs) {
			setReason(protocol.LeftReasonTimeout)
		}
		done <- struct{}{}
	}()

	<-done
	cancel()

	reasonMu.Lock()
	reason := leaveReason
	reasonMu.Unlock()
	r.RemoveSession(sess.ID, reason)
}

func forwardPongs(ctx context.Context, in <-chan []byte, out chan<- []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-in:
			if !ok {
				return
			}
			select {
			case out <- payload:
			case <-ctx.Done():
				return
			}
		}
	}
}

// registerSession implements state NEW: it reads exactly one request and
// either returns a freshly registered session or ends the connection.
func registerSession(ctx context.Context, r *room.Room, t Transport, send func([]byte) error) *session.Session {
	var frame []byte
	select {
	case <-ctx.Done():
		return nil
	case data, ok := <-t.Requests:
		if !ok {
			return nil
		}
		frame = data
	}

	req, err := protocol.Decode(frame)
	if err != nil {
		sendDecodeError(send, err)
		return nil
	}

	reg, ok := req.(protocol.RegisterRequest)
	if !ok {
		id := req.RequestID()
		data, _ := protocol.EncodeError(&id, protocol.ErrorInvalidOperation, "The first message on a connection must be a register request.")
		send(data)
		return nil
	}

	sess, roster, currentMedium, roomErr := r.AddSession(reg.Name)
	if roomErr != nil {
		data, _ := protocol.EncodeError(&reg.ID, roomErr.Kind, roomErr.Message)
		send(data)
		return nil
	}

	data, _ := protocol.EncodeHello(reg.ID, protocol.HelloPayload{
		ID:            uint64(sess.ID),
		Clients:       roster,
		CurrentMedium: currentMedium,
	})
	if sendErr := send(data); sendErr != nil {
		r.RemoveSession(sess.ID, protocol.LeftReasonClosed)
		return nil
	}
	return sess
}

func sendDecodeError(send func([]byte) error, err error) {
	var requestID *uint64
	if decodeErr, ok := err.(*protocol.DecodeError); ok && decodeErr.HasRequest {
		id := decodeErr.RequestID
		requestID = &id
	}
	data, _ := protocol.EncodeError(requestID, protocol.ErrorInvalidFormat, err.Error())
	send(data)
}

// runRequestHandler implements the request-handler sub-task: receive,
// rate-limit, dispatch, reply. It returns when the request stream closes,
// the context is cancelled, or too many consecutive frames fail to parse.
func runRequestHandler(ctx context.Context, r *room.Room, sess *session.Session, requests <-chan []byte, limiter *rate.Limiter, send func([]byte) error) {
	consecutiveFailures := 0
	for {
		var frame []byte
		select {
		case <-ctx.Done():
			return
		case data, ok := <-requests:
			if !ok {
				return
			}
			frame = data
		}

		req, err := protocol.Decode(frame)
		if err != nil {
			consecutiveFailures++
			sendDecodeError(send, err)
			if consecutiveFailures >= maxParseFailures {
				return
			}
			continue
		}
		consecutiveFailures = 0

		if err := limiter.Wait(ctx); err != nil {
			return
		}

		dispatch(r, sess, req, send)
	}
}

func dispatch(r *room.Room, sess *session.Session, req protocol.Request, send func([]byte) error) {
	switch v := req.(type) {
	case protocol.RegisterRequest:
		data, _ := protocol.EncodeError(&v.ID, protocol.ErrorInvalidOperation, "Already registered.")
		send(data)

	case protocol.ChatRequest:
		_, roomErr := r.SendChat(sess.ID, sess.User.DisplayName, v.Message)
		replyAckOrError(send, v.ID, roomErr)

	case protocol.GetReferenceTimeRequest:
		data, _ := protocol.EncodeReferenceTime(v.ID, protocol.ReferenceTimePayload{Milliseconds: r.ReferenceTimeMs()})
		send(data)

	case protocol.InsertMediumRequest:
		m, convErr := mediumFromRequest(v.Medium)
		if convErr != nil {
			data, _ := protocol.EncodeError(&v.ID, protocol.ErrorInvalidFormat, convErr.Error())
			send(data)
			return
		}
		_, roomErr := r.InsertMedium(sess.ID, sess.User.DisplayName, m, v.PreviousVersion)
		replyAckOrError(send, v.ID, roomErr)

	case protocol.PlayRequest:
		_, roomErr := r.PlayMedium(sess.ID, sess.User.DisplayName, v.StartTimeMs, v.Skipped, v.PreviousVersion)
		replyAckOrError(send, v.ID, roomErr)

	case protocol.PauseRequest:
		_, roomErr := r.PauseMedium(sess.ID, sess.User.DisplayName, v.PositionMs, v.Skipped, v.PreviousVersion)
		replyAckOrError(send, v.ID, roomErr)
	}
}

func replyAckOrError(send func([]byte) error, requestID uint64, roomErr *room.Error) {
	if roomErr != nil {
		data, _ := protocol.EncodeError(&requestID, roomErr.Kind, roomErr.Message)
		send(data)
		return
	}
	data, _ := protocol.EncodeAck(requestID)
	send(data)
}

func mediumFromRequest(m protocol.MediumRequest) (medium.Medium, error) {
	switch m.Kind {
	case protocol.MediumRequestEmpty:
		return medium.NewEmpty(), nil
	case protocol.MediumRequestFixedLength:
		return medium.NewFixedLength(m.Name, int64(m.LengthMs))
	default:
		return medium.Medium{}, fmt.Errorf("unknown medium request kind")
	}
}

// runBroadcastPump implements the broadcast-pump sub-task: drain the
// session's buffer and forward every message until the sink fails or the
// context is cancelled.
func runBroadcastPump(ctx context.Context, sess *session.Session, send func([]byte) error) {
	for {
		msg, ok := sess.Buffer.WaitForBroadcast(ctx)
		if !ok {
			return
		}
		if err := send(msg.Payload); err != nil {
			return
		}
	}
}

// runHeartbeatWatchdog implements the heartbeat-watchdog sub-task. It
// returns true if it exits because of external cancellation or a failed
// ping send, and false if it exits because of maxMissedBeats (by default
// three) consecutive missed pongs (a session timeout).
func runHeartbeatWatchdog(ctx context.Context, t Transport, pongs <-chan []byte) bool {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	var counter uint64
	misses := 0

	for {
		select {
		case <-ctx.Done():
			return true
		case <-ticker.C:
			payload := make([]byte, 8)
			binary.BigEndian.PutUint64(payload, counter)
			if err := t.SendPing(payload); err != nil {
				return true
			}

			if waitForMatchingPong(ctx, pongs, payload, heartbeatTimeout) {
				misses = 0
			} else {
				if ctx.Err() != nil {
					return true
				}
				misses++
				if misses >= maxMissedBeats {
					return false
				}
			}
			counter++
		}
	}
}

func waitForMatchingPong(ctx context.Context, pongs <-chan []byte, expected []byte, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case payload := <-pongs:
			if bytesEqual(payload, expected) {
				return true
			}
			// A pong that doesn't match the current counter is not
			// counted as a miss by lateness; it simply isn't the match
			// we're waiting for, so keep waiting until the deadline.
		}
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
