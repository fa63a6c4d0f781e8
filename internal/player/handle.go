// Package player defines the per-item player handle the activation controller
// drives, and a remote implementation that forwards commands to the browser
// adapter hosting the actual video engine.
package player

import (
	"github.com/stwalsh4118/stories/internal/models"
)

// State is the playback state reported by a handle.
type State int

const (
	// StateIdle means the player exists but nothing is loaded or started.
	StateIdle State = iota
	// StateBuffering means the player is waiting for media data.
	StateBuffering
	// StatePlaying means media is playing.
	StatePlaying
	// StatePaused means playback is paused and can be resumed.
	StatePaused
	// StateError means the engine reported a fatal error.
	StateError
	// StateComplete means playback reached the end of the media.
	StateComplete
)

// String returns the engine's name for the state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuffering:
		return "buffering"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateError:
		return "error"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// EventKind names a lifecycle event emitted by a handle
type EventKind string

// Lifecycle event kinds
const (
	EventReady        EventKind = "ready"
	EventTime         EventKind = "time"
	EventBuffer       EventKind = "buffer"
	EventComplete     EventKind = "complete"
	EventError        EventKind = "error"
	EventPlay         EventKind = "play"
	EventPause        EventKind = "pause"
	EventLevels       EventKind = "levels"
	EventCaptionsList EventKind = "captionsList"
)

// IsValid reports whether k is a known event kind
func (k EventKind) IsValid() bool {
	switch k {
	case EventReady, EventTime, EventBuffer, EventComplete, EventError,
		EventPlay, EventPause, EventLevels, EventCaptionsList:
		return true
	default:
		return false
	}
}

// QualityLevel is one rendition the engine can switch to
type QualityLevel struct {
	Label   string `json:"label"`
	Bitrate int    `json:"bitrate"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
}

// Event is a lifecycle notification from the engine.
type Event struct {
	Kind          EventKind      `json:"type"`
	Position      float64        `json:"position,omitempty"`
	Duration      float64        `json:"duration,omitempty"`
	BufferPercent float64        `json:"buffer_percent,omitempty"`
	Message       string         `json:"message,omitempty"`
	Levels        []QualityLevel `json:"levels,omitempty"`
}

// Config is passed to Setup
type Config struct {
	MediaID           string          `json:"media_id"`
	Title             string          `json:"title,omitempty"`
	Sources           []models.Source `json:"sources"`
	Tracks            []models.Track  `json:"tracks,omitempty"`
	Mute              bool            `json:"mute"`
	Autostart         bool            `json:"autostart"`
	Preload           string          `json:"preload"`
	Controls          bool            `json:"controls"`
	Stretching        string          `json:"stretching"`
	BandwidthEstimate float64         `json:"bandwidth_estimate,omitempty"`

	// StartQuality is "high" or "auto"
	StartQuality string `json:"start_quality"`

	// StartLevel is a rendition index to start on, -1 lets the engine choose
	StartLevel int `json:"start_level"`
}

// Handle is the capability set of one player instance. Operations issued
// before the engine signals ready are deferred until it does. Remove is
// idempotent; every operation after it is a no-op.
type Handle interface {
	Setup(cfg Config)
	Load()
	Play()
	Pause()
	Seek(seconds float64)
	SetMute(muted bool)
	SetBandwidthEstimate(bps float64)
	SetCurrentQuality(index int)

	State() State
	Position() float64
	Duration() float64
	QualityLevels() []QualityLevel

	// Subscribe registers fn for every lifecycle event and returns a func
	// that detaches it.
	Subscribe(fn func(Event)) func()
	Remove()
}

// Factory creates a handle for a media item
type Factory func(mediaID string) Handle
