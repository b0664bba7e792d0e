// Package medium implements the pure medium state machine: an empty slot or
// a fixed-length medium with versioned playback state. Every mutation here
// is a pure function over a value type; the Room is responsible for
// sequencing and broadcasting the results.
package medium

import (
	"errors"
	"time"
)

// MaxLengthMilliseconds bounds how long a fixed-length medium may claim to
// be, used as a sanity check at insertion time (spec: "must not exceed one
// year").
const MaxLengthMilliseconds = int64(365 * 24 * time.Hour / time.Millisecond)

// ErrLengthTooLong is returned by NewFixedLength when lengthMs exceeds
// MaxLengthMilliseconds.
var ErrLengthTooLong = errors.New("medium: length exceeds one year")

// Kind discriminates the Medium tagged union.
type Kind int

const (
	// Empty means no medium is loaded.
	Empty Kind = iota
	// FixedLength means a medium of a known duration is loaded.
	FixedLength
)

// PlaybackKind discriminates the Playback tagged union.
type PlaybackKind int

const (
	// Paused means playback is stopped at a fixed position.
	Paused PlaybackKind = iota
	// Playing means playback is progressing from a start time relative to
	// the reference clock.
	Playing
)

// Playback is the playback sub-state of a FixedLength medium: either
// Paused at a position, or Playing from a start time.
type Playback struct {
	Kind         PlaybackKind
	AtPositionMs int64 // valid when Kind == Paused
	StartTimeMs  int64 // valid when Kind == Playing; may be negative
}

// PausedAt constructs a Paused playback state.
func PausedAt(positionMs int64) Playback {
	return Playback{Kind: Paused, AtPositionMs: positionMs}
}

// PlayingFrom constructs a Playing playback state.
func PlayingFrom(startTimeMs int64) Playback {
	return Playback{Kind: Playing, StartTimeMs: startTimeMs}
}

// Medium is the tagged union Empty | FixedLength{name, length_ms, playback}.
type Medium struct {
	Kind     Kind
	Name     string
	LengthMs int64
	Playback Playback
}

// NewEmpty constructs the Empty medium.
func NewEmpty() Medium {
	return Medium{Kind: Empty}
}

// NewFixedLength constructs a FixedLength medium, paused at position 0, as
// required right after insertion. lengthMs must not exceed
// MaxLengthMilliseconds.
func NewFixedLength(name string, lengthMs int64) (Medium, error) {
	if lengthMs > MaxLengthMilliseconds {
		return Medium{}, ErrLengthTooLong
	}
	return Medium{
		Kind:     FixedLength,
		Name:     name,
		LengthMs: lengthMs,
		Playback: PausedAt(0),
	}, nil
}

// Play transitions a FixedLength medium to Playing from startTimeMs, unless
// the medium has already ended by referenceNowMs, in which case it becomes
// Paused at the end of the medium. Calling Play on an Empty medium is a
// no-op: the Room never calls this unless a medium is present.
func (m Medium) Play(startTimeMs, referenceNowMs int64) Medium {
	if m.Kind != FixedLength {
		return m
	}
	if startTimeMs+m.LengthMs < referenceNowMs {
		m.Playback = PausedAt(m.LengthMs)
		return m
	}
	m.Playback = PlayingFrom(startTimeMs)
	return m
}

// Pause transitions a FixedLength medium to Paused at atPositionMs, clamped
// to [0, LengthMs]. Calling Pause on an Empty medium is a no-op.
func (m Medium) Pause(atPositionMs int64) Medium {
	if m.Kind != FixedLength {
		return m
	}
	if atPositionMs < 0 {
		atPositionMs = 0
	}
	if atPositionMs > m.LengthMs {
		atPositionMs = m.LengthMs
	}
	m.Playback = PausedAt(atPositionMs)
	return m
}

// Versioned pairs a Medium with its optimistic-concurrency version.
// Version starts at 0 and increments by 1 on every successful mutation; it
// never decreases and is not expected to wrap in practice.
type Versioned struct {
	Version uint64
	Medium  Medium
}

// NewVersioned constructs the initial VersionedMedium: version 0, Empty.
func NewVersioned() Versioned {
	return Versioned{Version: 0, Medium: NewEmpty()}
}

// Insert replaces the medium entirely if previousVersion matches the
// current version, returning the new VersionedMedium and true. Otherwise
// returns the zero value and false, leaving v unchanged at the call site
// (Versioned is a value type; callers must assign the result back).
func (v Versioned) Insert(m Medium, previousVersion uint64) (Versioned, bool) {
	if previousVersion != v.Version {
		return Versioned{}, false
	}
	return Versioned{Version: v.Version + 1, Medium: m}, true
}

// Play applies Medium.Play if previousVersion matches the current version.
func (v Versioned) Play(startTimeMs, referenceNowMs int64, previousVersion uint64) (Versioned, bool) {
	if previousVersion != v.Version {
		return Versioned{}, false
	}
	return Versioned{Version: v.Version + 1, Medium: v.Medium.Play(startTimeMs, referenceNowMs)}, true
}

// Pause applies Medium.Pause if previousVersion matches the current version.
func (v Versioned) Pause(atPositionMs int64, previousVersion uint64) (Versioned, bool) {
	if previousVersion != v.Version {
		return Versioned{}, false
	}
	return Versioned{Version: v.Version + 1, Medium: v.Medium.Pause(atPositionMs)}, true
}
