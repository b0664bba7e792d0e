package protocol

import (
	"encoding/json"

	"github.com/communityvi/communityvi-sub000/internal/medium"
)

// playbackStateWire renders a medium.Playback as the wire's
// playback_state: {type:"playing", start_time_in_milliseconds} |
// {type:"paused", position_in_milliseconds}.
type playbackStateWire struct {
	Type        string `json:"type"`
	StartTimeMs *int64 `json:"start_time_in_milliseconds,omitempty"`
	PositionMs  *int64 `json:"position_in_milliseconds,omitempty"`
}

func renderPlayback(p medium.Playback) playbackStateWire {
	if p.Kind == medium.Playing {
		startTimeMs := p.StartTimeMs
		return playbackStateWire{Type: "playing", StartTimeMs: &startTimeMs}
	}
	positionMs := p.AtPositionMs
	return playbackStateWire{Type: "paused", PositionMs: &positionMs}
}

// mediumFields holds the fields shared by VersionedMediumResponse and the
// medium_state_changed broadcast, both of which flatten a medium.Medium
// inline rather than nesting it under a "medium" key.
type mediumFields struct {
	Type          string             `json:"type"`
	Name          string             `json:"name,omitempty"`
	LengthMs      uint64             `json:"length_in_milliseconds,omitempty"`
	PlaybackState *playbackStateWire `json:"playback_state,omitempty"`
}

func renderMediumFields(m medium.Medium) mediumFields {
	if m.Kind == medium.Empty {
		return mediumFields{Type: "empty"}
	}
	playback := renderPlayback(m.Playback)
	return mediumFields{
		Type:          "fixed_length",
		Name:          m.Name,
		LengthMs:      uint64(m.LengthMs),
		PlaybackState: &playback,
	}
}

// VersionedMediumResponse is {version, ...flattened medium}, used by the
// hello payload and the REST room snapshot.
type VersionedMediumResponse struct {
	Version uint64
	Medium  medium.Medium
}

// MarshalJSON flattens Version alongside the medium's discriminated fields.
func (v VersionedMediumResponse) MarshalJSON() ([]byte, error) {
	fields := renderMediumFields(v.Medium)
	return json.Marshal(struct {
		Version uint64 `json:"version"`
		mediumFields
	}{Version: v.Version, mediumFields: fields})
}

// broadcastMediumFields is the medium_state_changed shape of mediumFields:
// the broadcast's own "type" key is the message discriminant
// ("medium_state_changed"), so the medium's empty/fixed_length tag is
// carried under "medium_type" instead to avoid colliding with it.
type broadcastMediumFields struct {
	MediumType    string             `json:"medium_type"`
	Name          string             `json:"name,omitempty"`
	LengthMs      uint64             `json:"length_in_milliseconds,omitempty"`
	PlaybackState *playbackStateWire `json:"playback_state,omitempty"`
}

func renderBroadcastMediumFields(m medium.Medium) broadcastMediumFields {
	fields := renderMediumFields(m)
	return broadcastMediumFields{
		MediumType:    fields.Type,
		Name:          fields.Name,
		LengthMs:      fields.LengthMs,
		PlaybackState: fields.PlaybackState,
	}
}
