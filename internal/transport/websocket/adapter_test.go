package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/communityvi/communityvi-sub000/internal/clock"
	"github.com/communityvi/communityvi-sub000/internal/room"
)

func TestHandleRegistrationRoundTrip(t *testing.T) {
	rm := room.New(10, clock.NewVirtual())
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Handle(w, r, rm)
	}))
	defer server.Close()

	wsURL := "ws" + server.URL[len("http"):]
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"register","request_id":1,"name":"Ferris"}`)); err != nil {
		t.Fatalf("unexpected write error: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("unexpected read error: %v", err)
	}

	var env struct {
		Type    string `json:"type"`
		Message struct {
			Type string `json:"type"`
			ID   uint64 `json:"id"`
		} `json:"message"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unexpected unmarshal error: %v", err)
	}
	if env.Type != "success" || env.Message.Type != "hello" {
		t.Fatalf("expected success/hello, got %s", string(data))
	}
}
