// Package websocket adapts a gorilla/websocket connection to the
// lifecycle package's Transport: it forwards text frames, forwards
// ping/pong payloads opaquely, and turns a close frame into a clean
// shutdown of the request stream.
package websocket

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/communityvi/communityvi-sub000/internal/lifecycle"
	"github.com/communityvi/communityvi-sub000/internal/room"
)

// Upgrader is shared across connections; CheckOrigin is permissive because
// this server has no cookie-based session to protect against CSRF-style
// cross-origin upgrades, matching the teacher's stance for its own
// WebSocket upgrade path.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// frameSizeLimit bounds a single request frame, per the wire limits.
const frameSizeLimit = 10 * 1024

// Handle upgrades r to a WebSocket connection and drives the full session
// lifecycle over it, blocking until the session ends. Any upgrade failure
// is logged and the function returns immediately.
func Handle(w http.ResponseWriter, r *http.Request, rm *room.Room) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "err", err)
		return
	}
	traceID := uuid.New().String()
	slog.Info("websocket connection opened", "trace_id", traceID)
	defer func() {
		conn.Close()
		slog.Info("websocket connection closed", "trace_id", traceID)
	}()

	conn.SetReadLimit(frameSizeLimit)

	requests := make(chan []byte)
	pongs := make(chan []byte, 4)
	closed := make(chan struct{})

	conn.SetPongHandler(func(payload string) error {
		select {
		case pongs <- []byte(payload):
		case <-closed:
		default:
			// A full pong channel means the watchdog isn't keeping up;
			// drop rather than block the read loop.
		}
		return nil
	})

	go readLoop(conn, requests, closed, traceID)

	transport := lifecycle.Transport{
		Requests: requests,
		Pongs:    pongs,
		Send: func(data []byte) error {
			return conn.WriteMessage(websocket.TextMessage, data)
		},
		SendPing: func(payload []byte) error {
			return conn.WriteControl(websocket.PingMessage, payload, time.Now().Add(time.Second))
		},
	}

	lifecycle.Run(r.Context(), rm, transport)
	close(closed)
}

// readLoop forwards the raw bytes of incoming text frames to requests
// (non-text data frames are skipped; the lifecycle decodes the JSON) until
// the connection errors or receives a close frame, at which point it
// closes requests so the lifecycle's request handler sees end-of-stream.
func readLoop(conn *websocket.Conn, requests chan<- []byte, closed <-chan struct{}, traceID string) {
	defer close(requests)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("websocket closed by peer", "trace_id", traceID)
			} else {
				slog.Debug("websocket read error", "trace_id", traceID, "err", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		select {
		case requests <- data:
		case <-closed:
			return
		}
	}
}
