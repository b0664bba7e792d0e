// Package protocol implements the wire codec: JSON-over-WebSocket requests,
// success replies, error replies and broadcasts, all tagged by a "type"
// discriminant in snake_case as described by the synchronization protocol.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Request type discriminants, as they appear on the wire.
const (
	TypeRegister         = "register"
	TypeChat             = "chat"
	TypeGetReferenceTime = "get_reference_time"
	TypeInsertMedium     = "insert_medium"
	TypePlay             = "play"
	TypePause            = "pause"
)

// Request is satisfied by every decoded request variant; RequestID
// extracts the client-assigned correlation id every variant carries.
type Request interface {
	RequestID() uint64
}

type requestEnvelope struct {
	Type      string `json:"type"`
	RequestID uint64 `json:"request_id"`
}

// RegisterRequest claims a display name for the connection.
type RegisterRequest struct {
	ID   uint64
	Name string
}

// RequestID implements Request.
func (r RegisterRequest) RequestID() uint64 { return r.ID }

// ChatRequest sends a chat message to the room.
type ChatRequest struct {
	ID      uint64
	Message string
}

// RequestID implements Request.
func (r ChatRequest) RequestID() uint64 { return r.ID }

// GetReferenceTimeRequest asks for the server's reference clock reading.
type GetReferenceTimeRequest struct {
	ID uint64
}

// RequestID implements Request.
func (r GetReferenceTimeRequest) RequestID() uint64 { return r.ID }

// MediumRequestKind discriminates MediumRequest.
type MediumRequestKind int

const (
	// MediumRequestEmpty requests an empty medium.
	MediumRequestEmpty MediumRequestKind = iota
	// MediumRequestFixedLength requests a fixed-length medium.
	MediumRequestFixedLength
)

// MediumRequest is the client-supplied medium description for
// insert_medium: {type:"empty"} | {type:"fixed_length", name, length_in_milliseconds}.
type MediumRequest struct {
	Kind     MediumRequestKind
	Name     string
	LengthMs uint64
}

// InsertMediumRequest replaces the room's medium, guarded by an optimistic
// concurrency check against previous_version.
type InsertMediumRequest struct {
	ID              uint64
	PreviousVersion uint64
	Medium          MediumRequest
}

// RequestID implements Request.
func (r InsertMediumRequest) RequestID() uint64 { return r.ID }

// PlayRequest starts or resumes playback from start_time_ms relative to the
// reference clock, guarded by previous_version. Skipped records whether the
// client's playhead moved discontinuously (used only for broadcast fidelity,
// never for server-side decisions).
type PlayRequest struct {
	ID              uint64
	PreviousVersion uint64
	Skipped         bool
	StartTimeMs     int64
}

// RequestID implements Request.
func (r PlayRequest) RequestID() uint64 { return r.ID }

// PauseRequest stops playback at position_ms, guarded by previous_version.
type PauseRequest struct {
	ID              uint64
	PreviousVersion uint64
	Skipped         bool
	PositionMs      uint64
}

// RequestID implements Request.
func (r PauseRequest) RequestID() uint64 { return r.ID }

// DecodeError is returned by Decode on malformed frames. RequestID is the
// best-effort extracted request_id (0 if even that could not be recovered),
// matching the wire's requirement that error replies correlate when
// possible even to otherwise-invalid frames.
type DecodeError struct {
	RequestID  uint64
	HasRequest bool
	Message    string
}

func (e *DecodeError) Error() string { return e.Message }

// Decode parses one JSON text frame into a concrete Request variant.
func Decode(data []byte) (Request, error) {
	var env requestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Message: fmt.Sprintf("malformed request frame: %v", err)}
	}

	switch env.Type {
	case TypeRegister:
		var body struct {
			RequestID uint64 `json:"request_id"`
			Name      string `json:"name"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, &DecodeError{RequestID: env.RequestID, HasRequest: true, Message: "malformed register request"}
		}
		return RegisterRequest{ID: body.RequestID, Name: body.Name}, nil

	case TypeChat:
		var body struct {
			RequestID uint64 `json:"request_id"`
			Message   string `json:"message"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, &DecodeError{RequestID: env.RequestID, HasRequest: true, Message: "malformed chat request"}
		}
		return ChatRequest{ID: body.RequestID, Message: body.Message}, nil

	case TypeGetReferenceTime:
		return GetReferenceTimeRequest{ID: env.RequestID}, nil

	case TypeInsertMedium:
		var body struct {
			RequestID       uint64          `json:"request_id"`
			PreviousVersion uint64          `json:"previous_version"`
			Medium          json.RawMessage `json:"medium"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, &DecodeError{RequestID: env.RequestID, HasRequest: true, Message: "malformed insert_medium request"}
		}
		mediumReq, err := decodeMediumRequest(body.Medium)
		if err != nil {
			return nil, &DecodeError{RequestID: env.RequestID, HasRequest: true, Message: err.Error()}
		}
		return InsertMediumRequest{ID: body.RequestID, PreviousVersion: body.PreviousVersion, Medium: mediumReq}, nil

	case TypePlay:
		var body struct {
			RequestID       uint64 `json:"request_id"`
			PreviousVersion uint64 `json:"previous_version"`
			Skipped         bool   `json:"skipped"`
			StartTimeMs     int64  `json:"start_time_in_milliseconds"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, &DecodeError{RequestID: env.RequestID, HasRequest: true, Message: "malformed play request"}
		}
		return PlayRequest{ID: body.RequestID, PreviousVersion: body.PreviousVersion, Skipped: body.Skipped, StartTimeMs: body.StartTimeMs}, nil

	case TypePause:
		var body struct {
			RequestID       uint64 `json:"request_id"`
			PreviousVersion uint64 `json:"previous_version"`
			Skipped         bool   `json:"skipped"`
			PositionMs      uint64 `json:"position_in_milliseconds"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, &DecodeError{RequestID: env.RequestID, HasRequest: true, Message: "malformed pause request"}
		}
		return PauseRequest{ID: body.RequestID, PreviousVersion: body.PreviousVersion, Skipped: body.Skipped, PositionMs: body.PositionMs}, nil

	default:
		return nil, &DecodeError{RequestID: env.RequestID, HasRequest: true, Message: fmt.Sprintf("unknown request type %q", env.Type)}
	}
}

func decodeMediumRequest(data json.RawMessage) (MediumRequest, error) {
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &tag); err != nil {
		return MediumRequest{}, fmt.Errorf("malformed medium: %w", err)
	}
	switch tag.Type {
	case "empty":
		return MediumRequest{Kind: MediumRequestEmpty}, nil
	case "fixed_length":
		var body struct {
			Name     string `json:"name"`
			LengthMs uint64 `json:"length_in_milliseconds"`
		}
		if err := json.Unmarshal(data, &body); err != nil {
			return MediumRequest{}, fmt.Errorf("malformed fixed_length medium: %w", err)
		}
		return MediumRequest{Kind: MediumRequestFixedLength, Name: body.Name, LengthMs: body.LengthMs}, nil
	default:
		return MediumRequest{}, fmt.Errorf("unknown medium type %q", tag.Type)
	}
}
