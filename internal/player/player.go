// Package player defines the media player control surface consumed by the
// playback coordinator, and an mpv-backed implementation of it. The
// coordinator owns two instances: one for on-demand episodes and one for the
// live stream.
package player

import "time"

// State is the playback engine state.
type State int

const (
	StateIdle State = iota
	StateBuffering
	StateReady
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuffering:
		return "buffering"
	case StateReady:
		return "ready"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Listener receives player events. Callbacks for one player are invoked
// sequentially, in the order the engine emits them. Any field may be nil.
type Listener struct {
	OnIsPlayingChanged func(playing bool)
	OnStateChanged     func(state State)
	OnError            func(err error)
}

// Player is an opaque audio engine with a known control surface.
type Player interface {
	// Load prepares a source, paused, at the given start position.
	Load(uri string, startPos time.Duration) error
	Play() error
	Pause() error
	Stop() error
	SeekTo(pos time.Duration) error
	Position() time.Duration
	Duration() time.Duration
	State() State
	IsPlaying() bool
	SetVolume(v float64) error
	SetListener(l Listener)
	// Close releases the engine. The player is unusable afterwards.
	Close() error
}
