package protocol

import (
	"encoding/json"

	"github.com/communityvi/communityvi-sub000/internal/medium"
)

// ErrorKind enumerates the wire's error discriminants.
type ErrorKind string

const (
	ErrorInvalidFormat          ErrorKind = "invalid_format"
	ErrorInvalidOperation       ErrorKind = "invalid_operation"
	ErrorNoMedium               ErrorKind = "no_medium"
	ErrorIncorrectMediumVersion ErrorKind = "incorrect_medium_version"
	ErrorEmptyChatMessage       ErrorKind = "empty_chat_message"
	ErrorInternalServer         ErrorKind = "internal_server_error"
)

// ClientInfo is a roster entry as seen in the hello payload.
type ClientInfo struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

// HelloPayload is the success payload replying to a register request.
type HelloPayload struct {
	ID            uint64
	Clients       []ClientInfo
	CurrentMedium medium.Versioned
}

// ReferenceTimePayload is the success payload replying to
// get_reference_time.
type ReferenceTimePayload struct {
	Milliseconds int64
}

// successWire is the outer envelope for every successful reply:
// {type:"success", request_id, message:{...}}.
type successWire struct {
	Type      string          `json:"type"`
	RequestID uint64          `json:"request_id"`
	Message   json.RawMessage `json:"message"`
}

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// Every payload type here is built from known-good fields; a
		// marshal failure indicates a programming error, not bad input.
		panic(err)
	}
	return data
}

// EncodeHello encodes the Success{Hello{...}} reply to a register request.
func EncodeHello(requestID uint64, p HelloPayload) ([]byte, error) {
	inner := struct {
		Type          string                  `json:"type"`
		ID            uint64                  `json:"id"`
		Clients       []ClientInfo            `json:"clients"`
		CurrentMedium VersionedMediumResponse `json:"current_medium"`
	}{
		Type:          "hello",
		ID:            p.ID,
		Clients:       p.Clients,
		CurrentMedium: VersionedMediumResponse{Version: p.CurrentMedium.Version, Medium: p.CurrentMedium.Medium},
	}
	return json.Marshal(successWire{Type: "success", RequestID: requestID, Message: mustMarshal(inner)})
}

// EncodeReferenceTime encodes the Success{ReferenceTime{...}} reply to a
// get_reference_time request.
func EncodeReferenceTime(requestID uint64, p ReferenceTimePayload) ([]byte, error) {
	inner := struct {
		Type         string `json:"type"`
		Milliseconds int64  `json:"milliseconds"`
	}{Type: "reference_time", Milliseconds: p.Milliseconds}
	return json.Marshal(successWire{Type: "success", RequestID: requestID, Message: mustMarshal(inner)})
}

// EncodeAck encodes the plain Success acknowledgement used by chat,
// insert_medium, play and pause replies.
func EncodeAck(requestID uint64) ([]byte, error) {
	inner := struct {
		Type string `json:"type"`
	}{Type: "success"}
	return json.Marshal(successWire{Type: "success", RequestID: requestID, Message: mustMarshal(inner)})
}

// errorWire is the outer envelope for an error reply:
// {type:"error", request_id, message:{error, message}}.
type errorWire struct {
	Type      string        `json:"type"`
	RequestID *uint64       `json:"request_id"`
	Message   errorBodyWire `json:"message"`
}

type errorBodyWire struct {
	Error   ErrorKind `json:"error"`
	Message string    `json:"message"`
}

// EncodeError encodes an error reply. requestID is a pointer because the
// wire allows null when even best-effort extraction of the id failed.
func EncodeError(requestID *uint64, kind ErrorKind, message string) ([]byte, error) {
	return json.Marshal(errorWire{
		Type:      "error",
		RequestID: requestID,
		Message:   errorBodyWire{Error: kind, Message: message},
	})
}

// LeftReason records why a session was removed, carried on client_left.
type LeftReason string

const (
	LeftReasonClosed  LeftReason = "closed"
	LeftReasonTimeout LeftReason = "timeout"
)

// broadcastWire is the outer envelope for every broadcast:
// {type:"broadcast", message:{...}}.
type broadcastWire struct {
	Type    string          `json:"type"`
	Message json.RawMessage `json:"message"`
}

// EncodeClientJoined encodes a client_joined broadcast.
func EncodeClientJoined(id uint64, name string) ([]byte, error) {
	inner := struct {
		Type string `json:"type"`
		ID   uint64 `json:"id"`
		Name string `json:"name"`
	}{Type: "client_joined", ID: id, Name: name}
	return json.Marshal(broadcastWire{Type: "broadcast", Message: mustMarshal(inner)})
}

// EncodeClientLeft encodes a client_left broadcast.
func EncodeClientLeft(id uint64, name string, reason LeftReason) ([]byte, error) {
	inner := struct {
		Type   string     `json:"type"`
		ID     uint64     `json:"id"`
		Name   string     `json:"name"`
		Reason LeftReason `json:"reason"`
	}{Type: "client_left", ID: id, Name: name, Reason: reason}
	return json.Marshal(broadcastWire{Type: "broadcast", Message: mustMarshal(inner)})
}

// EncodeChat encodes a chat broadcast.
func EncodeChat(senderID uint64, senderName, message string, counter uint64) ([]byte, error) {
	inner := struct {
		Type       string `json:"type"`
		SenderID   uint64 `json:"sender_id"`
		SenderName string `json:"sender_name"`
		Message    string `json:"message"`
		Counter    uint64 `json:"counter"`
	}{Type: "chat", SenderID: senderID, SenderName: senderName, Message: message, Counter: counter}
	return json.Marshal(broadcastWire{Type: "broadcast", Message: mustMarshal(inner)})
}

// EncodeMediumStateChanged encodes a medium_state_changed broadcast: the
// versioned medium flattened inline alongside who changed it and whether
// the change was a discontinuous skip.
func EncodeMediumStateChanged(changedByID uint64, changedByName string, v medium.Versioned, playbackSkipped bool) ([]byte, error) {
	inner := struct {
		Type            string `json:"type"`
		ChangedByID     uint64 `json:"changed_by_id"`
		ChangedByName   string `json:"changed_by_name"`
		Version         uint64 `json:"version"`
		PlaybackSkipped bool   `json:"playback_skipped"`
		broadcastMediumFields
	}{
		Type:                  "medium_state_changed",
		ChangedByID:           changedByID,
		ChangedByName:         changedByName,
		Version:               v.Version,
		PlaybackSkipped:       playbackSkipped,
		broadcastMediumFields: renderBroadcastMediumFields(v.Medium),
	}
	return json.Marshal(broadcastWire{Type: "broadcast", Message: mustMarshal(inner)})
}
