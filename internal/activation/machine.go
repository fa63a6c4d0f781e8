// Package activation decides, for an ordered list of stories, which player
// exists, which one plays, how mute propagates and when failed items retry.
package activation

// Phase is the lifecycle phase of one media item
type Phase string

// Lifecycle phases
const (
	PhaseUnregistered Phase = "unregistered" // Known id, nothing started
	PhaseFetching     Phase = "fetching"     // Metadata request in flight
	PhaseConfigured   Phase = "configured"   // Player set up, waiting for ready
	PhaseReady        Phase = "ready"        // Player ready, not the active item
	PhasePlaying      Phase = "playing"      // Active and playing
	PhasePaused       Phase = "paused"       // Active and paused by the user
	PhaseError        Phase = "error"        // Failed, retry pending or possible
	PhaseExhausted    Phase = "exhausted"    // Failed, needs a manual retry
	PhaseDisposed     Phase = "disposed"     // Player released
)

// String returns the string representation of the phase
func (p Phase) String() string {
	return string(p)
}

// IsValid checks if the phase is a known value
func (p Phase) IsValid() bool {
	switch p {
	case PhaseUnregistered, PhaseFetching, PhaseConfigured, PhaseReady,
		PhasePlaying, PhasePaused, PhaseError, PhaseExhausted, PhaseDisposed:
		return true
	default:
		return false
	}
}

// HasPlayer reports whether a player handle exists in this phase
func (p Phase) HasPlayer() bool {
	switch p {
	case PhaseConfigured, PhaseReady, PhasePlaying, PhasePaused:
		return true
	default:
		return false
	}
}

// CanTransitionTo checks if a transition from p to next is valid
func (p Phase) CanTransitionTo(next Phase) bool {
	if next == PhaseDisposed {
		return p != PhaseDisposed
	}
	switch p {
	case PhaseUnregistered, PhaseDisposed:
		return next == PhaseFetching
	case PhaseFetching:
		return next == PhaseConfigured || next == PhaseError || next == PhaseExhausted
	case PhaseConfigured:
		return next == PhaseReady || next == PhasePlaying || next == PhaseError || next == PhaseExhausted
	case PhaseReady:
		return next == PhasePlaying || next == PhaseError || next == PhaseExhausted
	case PhasePlaying:
		return next == PhasePaused || next == PhaseReady || next == PhaseError || next == PhaseExhausted
	case PhasePaused:
		return next == PhasePlaying || next == PhaseReady || next == PhaseError || next == PhaseExhausted
	case PhaseError:
		return next == PhaseFetching || next == PhaseExhausted
	case PhaseExhausted:
		return next == PhaseFetching
	default:
		return false
	}
}

// ItemState is the per-item player state owned by the controller
type ItemState struct {
	ID         string   `json:"id"`
	Index      int      `json:"index"`
	Phase      Phase    `json:"phase"`
	Active     bool     `json:"active"`
	Position   float64  `json:"position"`
	Duration   float64  `json:"duration"`
	Muted      bool     `json:"muted"`
	UserPaused bool     `json:"user_paused"`
	Buffering  bool     `json:"buffering"`
	Attempts   int      `json:"attempts"`
	LastError  *Failure `json:"last_error,omitempty"`
}

// EventKind identifies an input to Step
type EventKind int

// Step inputs
const (
	EvActivate EventKind = iota
	EvDeactivate
	EvPrefetch
	EvMetadataLoaded
	EvMetadataFailed
	EvReady
	EvTime
	EvBuffer
	EvPlay
	EvComplete
	EvPlayerError
	EvStallTimeout
	EvRetryDue
	EvManualRetry
	EvUserPause
	EvUserResume
	EvSeek
	EvApplyMute
	EvUnmuteDue
	EvExitViewport
	EvEvict
)

// Event is one input to Step. Only the fields relevant to Kind are read.
type Event struct {
	Kind      EventKind
	Position  float64
	Duration  float64
	Buffering bool
	Failure   *Failure

	// Fresh marks an activation that follows a change of active item
	Fresh bool
}

// Env carries the controller-wide facts a transition depends on
type Env struct {
	Mobile      bool
	Muted       bool
	MaxAttempts int

	// EverUnmuted is set once the user has unmuted explicitly; until then
	// the first item is set up muted so it may autostart
	EverUnmuted bool

	// ResetMinPosition is how far into an item playback must be before
	// leaving the viewport rewinds it
	ResetMinPosition float64
}

// EffectKind identifies a side effect requested by Step
type EffectKind int

// Side effects
const (
	EffFetchMetadata EffectKind = iota
	EffSetup
	EffPlay
	EffPause
	EffSeek
	EffSetMute
	EffArmStall
	EffDisarmStall
	EffScheduleRetry
	EffCancelRetry
	EffScheduleUnmute
	EffCancelUnmute
	EffRelease
	EffDispose
	EffScrollNext
	EffReportFailure
)

// Effect is a side effect for the controller to execute, in order
type Effect struct {
	Kind     EffectKind
	Mute     bool
	Position float64
}

// Step is the pure transition function: it returns the next state and the
// effects the controller must run. It never mutates s.
func Step(s ItemState, ev Event, env Env) (ItemState, []Effect) {
	switch ev.Kind {
	case EvActivate:
		return activate(s, ev.Fresh, env)

	case EvDeactivate:
		s.Active = false
		switch s.Phase {
		case PhasePlaying, PhasePaused:
			s.Phase = PhaseReady
			s.Buffering = false
			return s, []Effect{{Kind: EffPause}, {Kind: EffDisarmStall}, {Kind: EffCancelUnmute}}
		case PhaseError:
			return s, []Effect{{Kind: EffCancelRetry}}
		}
		return s, nil

	case EvPrefetch:
		if s.Phase == PhaseUnregistered || s.Phase == PhaseDisposed {
			s.Phase = PhaseFetching
			return s, []Effect{{Kind: EffFetchMetadata}}
		}
		return s, nil

	case EvMetadataLoaded:
		if s.Phase != PhaseFetching {
			return s, nil
		}
		s.Phase = PhaseConfigured
		s.Muted = (s.Index == 0 && !env.EverUnmuted) || env.Mobile || env.Muted
		return s, []Effect{{Kind: EffSetup, Mute: s.Muted}}

	case EvMetadataFailed:
		if s.Phase != PhaseFetching {
			return s, nil
		}
		return fail(s, ev.Failure, env)

	case EvReady:
		if s.Phase != PhaseConfigured {
			return s, nil
		}
		s.Phase = PhaseReady
		if s.Active {
			return startPlayback(s, env)
		}
		return s, nil

	case EvTime:
		s.Position = ev.Position
		if ev.Duration > 0 {
			s.Duration = ev.Duration
		}
		if ev.Position <= 0 {
			return s, nil
		}
		// progress ends a failure streak
		s.Attempts = 0
		s.LastError = nil
		s.Buffering = false
		if s.Phase == PhasePlaying {
			return s, []Effect{{Kind: EffDisarmStall}}
		}
		return s, nil

	case EvBuffer:
		s.Buffering = true
		return s, nil

	case EvPlay:
		s.Buffering = false
		return s, nil

	case EvComplete:
		if s.Duration > 0 {
			s.Position = s.Duration
		}
		if s.Active && s.Phase == PhasePlaying {
			return s, []Effect{{Kind: EffScrollNext}}
		}
		return s, nil

	case EvPlayerError:
		if !s.Phase.HasPlayer() {
			return s, nil
		}
		return fail(s, ev.Failure, env)

	case EvStallTimeout:
		if s.Phase == PhasePlaying && ev.Buffering && ev.Position == 0 {
			return fail(s, ev.Failure, env)
		}
		return s, nil

	case EvRetryDue:
		if s.Phase == PhaseError && s.Active {
			s.Phase = PhaseFetching
			return s, []Effect{{Kind: EffFetchMetadata}}
		}
		return s, nil

	case EvManualRetry:
		if s.Phase != PhaseError && s.Phase != PhaseExhausted {
			return s, nil
		}
		s.Attempts = 0
		s.LastError = nil
		s.Phase = PhaseFetching
		return s, []Effect{{Kind: EffCancelRetry}, {Kind: EffFetchMetadata}}

	case EvUserPause:
		if s.Phase != PhasePlaying {
			return s, nil
		}
		s.Phase = PhasePaused
		s.UserPaused = true
		return s, []Effect{{Kind: EffPause}, {Kind: EffDisarmStall}}

	case EvUserResume:
		if s.Phase != PhasePaused {
			return s, nil
		}
		s.Phase = PhasePlaying
		s.UserPaused = false
		return s, []Effect{{Kind: EffPlay}}

	case EvSeek:
		switch s.Phase {
		case PhaseReady, PhasePlaying, PhasePaused:
			s.Position = ev.Position
			return s, []Effect{{Kind: EffSeek, Position: ev.Position}}
		}
		return s, nil

	case EvApplyMute:
		if !s.Phase.HasPlayer() {
			return s, nil
		}
		if env.Mobile && s.Phase == PhasePlaying && !env.Muted {
			s.Muted = true
			return s, []Effect{{Kind: EffSetMute, Mute: true}, {Kind: EffScheduleUnmute}}
		}
		s.Muted = env.Muted
		return s, []Effect{{Kind: EffCancelUnmute}, {Kind: EffSetMute, Mute: env.Muted}}

	case EvUnmuteDue:
		if s.Phase == PhasePlaying && !env.Muted {
			s.Muted = false
			return s, []Effect{{Kind: EffSetMute, Mute: false}}
		}
		return s, nil

	case EvExitViewport:
		if s.Active || !s.Phase.HasPlayer() || s.Position <= env.ResetMinPosition {
			return s, nil
		}
		s.Position = 0
		return s, []Effect{{Kind: EffSeek, Position: 0}}

	case EvEvict:
		if s.Phase == PhaseDisposed {
			return s, nil
		}
		s.Phase = PhaseDisposed
		s.Active = false
		return s, []Effect{
			{Kind: EffCancelRetry},
			{Kind: EffDisarmStall},
			{Kind: EffCancelUnmute},
			{Kind: EffDispose},
		}
	}
	return s, nil
}

func activate(s ItemState, fresh bool, env Env) (ItemState, []Effect) {
	s.Active = true
	if fresh {
		s.UserPaused = false
	}

	switch s.Phase {
	case PhaseUnregistered, PhaseDisposed:
		s.Phase = PhaseFetching
		return s, []Effect{{Kind: EffFetchMetadata}}
	case PhaseReady:
		return startPlayback(s, env)
	case PhasePlaying:
		if fresh {
			return startPlayback(s, env)
		}
	case PhasePaused:
		if !s.UserPaused {
			return startPlayback(s, env)
		}
	case PhaseError:
		if s.Attempts >= env.MaxAttempts {
			return exhaust(s)
		}
		s.Attempts++
		s.Phase = PhaseFetching
		return s, []Effect{{Kind: EffCancelRetry}, {Kind: EffFetchMetadata}}
	}
	return s, nil
}

// startPlayback rewinds, applies the mute policy and plays. On mobile the
// player always starts muted; an unmuted preference is applied after a delay.
func startPlayback(s ItemState, env Env) (ItemState, []Effect) {
	s.Phase = PhasePlaying
	s.Position = 0
	s.UserPaused = false

	effects := []Effect{{Kind: EffSeek, Position: 0}}
	if env.Mobile {
		s.Muted = true
		effects = append(effects, Effect{Kind: EffSetMute, Mute: true}, Effect{Kind: EffPlay})
		if !env.Muted {
			effects = append(effects, Effect{Kind: EffScheduleUnmute})
		}
	} else {
		s.Muted = env.Muted
		effects = append(effects, Effect{Kind: EffSetMute, Mute: env.Muted}, Effect{Kind: EffPlay})
	}
	return s, append(effects, Effect{Kind: EffArmStall})
}

// fail records f and either schedules an automatic retry (active items,
// attempts left) or parks the item.
func fail(s ItemState, f *Failure, env Env) (ItemState, []Effect) {
	s.LastError = f
	s.Buffering = false
	if s.Attempts >= env.MaxAttempts {
		return exhaust(s)
	}

	s.Phase = PhaseError
	effects := []Effect{
		{Kind: EffDisarmStall},
		{Kind: EffCancelUnmute},
		{Kind: EffRelease},
		{Kind: EffReportFailure},
	}
	if s.Active {
		s.Attempts++
		effects = append(effects, Effect{Kind: EffScheduleRetry})
	}
	return s, effects
}

func exhaust(s ItemState) (ItemState, []Effect) {
	s.Phase = PhaseExhausted
	s.LastError = s.LastError.terminal()
	return s, []Effect{
		{Kind: EffDisarmStall},
		{Kind: EffCancelUnmute},
		{Kind: EffCancelRetry},
		{Kind: EffRelease},
		{Kind: EffReportFailure},
	}
}
