package player

import (
	"errors"
	"sync"

	"github.com/stwalsh4118/stories/internal/logger"
)

// Op is a command sent to the browser-side engine
type Op string

// Command operations
const (
	OpSetup     Op = "setup"
	OpLoad      Op = "load"
	OpPlay      Op = "play"
	OpPause     Op = "pause"
	OpSeek      Op = "seek"
	OpMute      Op = "mute"
	OpBandwidth Op = "bandwidth"
	OpQuality   Op = "quality"
	OpRemove    Op = "remove"
)

// ErrUnknownHandle is returned when an event targets a handle that does not exist
var ErrUnknownHandle = errors.New("unknown player handle")

// Command is one instruction for the engine hosting mediaID.
type Command struct {
	MediaID   string  `json:"media_id"`
	Op        Op      `json:"op"`
	Config    *Config `json:"config,omitempty"`
	Seconds   float64 `json:"seconds,omitempty"`
	Muted     bool    `json:"muted"`
	Bandwidth float64 `json:"bandwidth,omitempty"`
	Quality   int     `json:"quality,omitempty"`
}

// Sink receives commands in issue order
type Sink interface {
	SendCommand(cmd Command)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(cmd Command)

// SendCommand calls f(cmd)
func (f SinkFunc) SendCommand(cmd Command) {
	f(cmd)
}

// Remote is a Handle whose engine lives in the browser. Commands go out
// through a Sink; events come back through Dispatch.
type Remote struct {
	mediaID  string
	sink     Sink
	onRemove func()

	mu       sync.Mutex
	state    State
	ready    bool
	removed  bool
	position float64
	duration float64
	levels   []QualityLevel
	pending  []Command
	subs     map[int]func(Event)
	nextSub  int
}

// NewRemote creates a remote handle for mediaID
func NewRemote(mediaID string, sink Sink) *Remote {
	return &Remote{
		mediaID: mediaID,
		sink:    sink,
		state:   StateIdle,
		subs:    make(map[int]func(Event)),
	}
}

// MediaID returns the media item this handle plays
func (r *Remote) MediaID() string {
	return r.mediaID
}

// Setup is sent immediately; it is what creates the engine instance.
func (r *Remote) Setup(cfg Config) {
	cfg.MediaID = r.mediaID
	r.mu.Lock()
	if r.removed {
		r.mu.Unlock()
		return
	}
	r.ready = false
	r.state = StateIdle
	r.pending = nil
	r.mu.Unlock()

	r.sink.SendCommand(Command{MediaID: r.mediaID, Op: OpSetup, Config: &cfg})
}

// Load asks the engine to start fetching media
func (r *Remote) Load() {
	r.send(Command{Op: OpLoad})
}

// Play starts playback. The handle reports buffering until the engine
// confirms with a play or time event, so a silent engine reads as stalled.
func (r *Remote) Play() {
	r.mu.Lock()
	if !r.removed && r.state != StatePlaying {
		r.state = StateBuffering
	}
	r.mu.Unlock()
	r.send(Command{Op: OpPlay})
}

// Pause pauses playback
func (r *Remote) Pause() {
	r.send(Command{Op: OpPause})
}

// Seek moves the playhead. The cached position follows immediately so a
// reset is visible before the engine echoes a time event.
func (r *Remote) Seek(seconds float64) {
	r.mu.Lock()
	if !r.removed {
		r.position = seconds
	}
	r.mu.Unlock()
	r.send(Command{Op: OpSeek, Seconds: seconds})
}

// SetMute mutes or unmutes the engine
func (r *Remote) SetMute(muted bool) {
	r.send(Command{Op: OpMute, Muted: muted})
}

// SetBandwidthEstimate passes a bandwidth hint in bits per second
func (r *Remote) SetBandwidthEstimate(bps float64) {
	r.send(Command{Op: OpBandwidth, Bandwidth: bps})
}

// SetCurrentQuality selects a rendition by index into QualityLevels
func (r *Remote) SetCurrentQuality(index int) {
	r.send(Command{Op: OpQuality, Quality: index})
}

// State returns the last reported playback state
func (r *Remote) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Position returns the last reported position in seconds
func (r *Remote) Position() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.position
}

// Duration returns the last reported duration in seconds
func (r *Remote) Duration() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.duration
}

// QualityLevels returns the renditions reported by the last levels event
func (r *Remote) QualityLevels() []QualityLevel {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]QualityLevel, len(r.levels))
	copy(out, r.levels)
	return out
}

// Ready reports whether the engine has signalled ready since the last Setup
func (r *Remote) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ready
}

// Subscribe registers fn for lifecycle events
func (r *Remote) Subscribe(fn func(Event)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.removed {
		return func() {}
	}
	id := r.nextSub
	r.nextSub++
	r.subs[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

// Remove tears the engine down. Safe to call more than once.
func (r *Remote) Remove() {
	r.mu.Lock()
	if r.removed {
		r.mu.Unlock()
		return
	}
	r.removed = true
	r.pending = nil
	r.subs = make(map[int]func(Event))
	onRemove := r.onRemove
	r.mu.Unlock()

	r.sink.SendCommand(Command{MediaID: r.mediaID, Op: OpRemove})
	if onRemove != nil {
		onRemove()
	}
}

// Dispatch applies an event reported by the engine and fans it out to
// subscribers. A ready event flushes commands deferred before it.
func (r *Remote) Dispatch(ev Event) {
	r.mu.Lock()
	if r.removed {
		r.mu.Unlock()
		return
	}

	var flush []Command
	switch ev.Kind {
	case EventReady:
		r.ready = true
		flush = r.pending
		r.pending = nil
	case EventTime:
		r.position = ev.Position
		if ev.Duration > 0 {
			r.duration = ev.Duration
		}
		if r.state == StateBuffering || r.state == StateIdle {
			r.state = StatePlaying
		}
	case EventBuffer:
		r.state = StateBuffering
	case EventPlay:
		r.state = StatePlaying
	case EventPause:
		r.state = StatePaused
	case EventComplete:
		r.state = StateComplete
	case EventError:
		r.state = StateError
	case EventLevels:
		r.levels = append([]QualityLevel(nil), ev.Levels...)
	}

	subs := make([]func(Event), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.mu.Unlock()

	if len(flush) > 0 {
		logger.Log.Debug().
			Str("media_id", r.mediaID).
			Int("commands", len(flush)).
			Msg("Flushing deferred player commands")
	}
	for _, cmd := range flush {
		r.sink.SendCommand(cmd)
	}
	for _, fn := range subs {
		fn(ev)
	}
}

func (r *Remote) send(cmd Command) {
	cmd.MediaID = r.mediaID

	r.mu.Lock()
	if r.removed {
		r.mu.Unlock()
		return
	}
	if !r.ready {
		r.pending = append(r.pending, cmd)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.sink.SendCommand(cmd)
}

// Remotes tracks the remote handles of one widget so browser events can
// be routed to the right one.
type Remotes struct {
	sink Sink

	mu      sync.RWMutex
	handles map[string]*Remote
}

// NewRemotes creates an empty handle set that sends commands to sink
func NewRemotes(sink Sink) *Remotes {
	return &Remotes{
		sink:    sink,
		handles: make(map[string]*Remote),
	}
}

// New creates a handle for mediaID, replacing any previous one
func (s *Remotes) New(mediaID string) Handle {
	r := NewRemote(mediaID, s.sink)
	r.onRemove = func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.handles[mediaID] == r {
			delete(s.handles, mediaID)
		}
	}

	s.mu.Lock()
	s.handles[mediaID] = r
	s.mu.Unlock()
	return r
}

// Factory returns s.New as a Factory
func (s *Remotes) Factory() Factory {
	return s.New
}

// Get returns the live handle for mediaID
func (s *Remotes) Get(mediaID string) (*Remote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.handles[mediaID]
	return r, ok
}

// Dispatch routes an engine event to the handle for mediaID
func (s *Remotes) Dispatch(mediaID string, ev Event) error {
	r, ok := s.Get(mediaID)
	if !ok {
		return ErrUnknownHandle
	}
	r.Dispatch(ev)
	return nil
}

// Len returns the number of live handles
func (s *Remotes) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handles)
}
