package activation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var desktopEnv = Env{Muted: true, MaxAttempts: 3, ResetMinPosition: 0.5}

func kinds(effects []Effect) []EffectKind {
	out := make([]EffectKind, len(effects))
	for i, e := range effects {
		out[i] = e.Kind
	}
	return out
}

func TestPhase_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from Phase
		to   Phase
		want bool
	}{
		{PhaseUnregistered, PhaseFetching, true},
		{PhaseUnregistered, PhasePlaying, false},
		{PhaseFetching, PhaseConfigured, true},
		{PhaseFetching, PhaseError, true},
		{PhaseConfigured, PhaseReady, true},
		{PhaseReady, PhasePlaying, true},
		{PhasePlaying, PhasePaused, true},
		{PhasePaused, PhasePlaying, true},
		{PhasePlaying, PhaseReady, true},
		{PhaseError, PhaseFetching, true},
		{PhaseError, PhasePlaying, false},
		{PhaseExhausted, PhaseFetching, true},
		{PhaseExhausted, PhaseReady, false},
		{PhasePlaying, PhaseDisposed, true},
		{PhaseDisposed, PhaseDisposed, false},
		{Phase("bogus"), PhaseFetching, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestPhase_IsValid(t *testing.T) {
	assert.True(t, PhaseExhausted.IsValid())
	assert.False(t, Phase("bogus").IsValid())
}

func TestStep_ActivateUnregisteredFetches(t *testing.T) {
	s, effects := Step(ItemState{ID: "a", Phase: PhaseUnregistered}, Event{Kind: EvActivate, Fresh: true}, desktopEnv)

	assert.Equal(t, PhaseFetching, s.Phase)
	assert.True(t, s.Active)
	assert.Equal(t, []EffectKind{EffFetchMetadata}, kinds(effects))
}

func TestStep_SetupMute(t *testing.T) {
	tests := []struct {
		name  string
		index int
		env   Env
		want  bool
	}{
		{"first item muted before any unmute", 0, Env{Muted: false}, true},
		{"first item follows preference once unmuted", 0, Env{Muted: false, EverUnmuted: true}, false},
		{"first item re-muted", 0, Env{Muted: true, EverUnmuted: true}, true},
		{"later item follows preference", 2, Env{Muted: false}, false},
		{"later item muted preference", 2, Env{Muted: true}, true},
		{"mobile always muted", 2, Env{Muted: false, Mobile: true}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, effects := Step(ItemState{Index: tt.index, Phase: PhaseFetching}, Event{Kind: EvMetadataLoaded}, tt.env)
			assert.Equal(t, PhaseConfigured, s.Phase)
			require.Len(t, effects, 1)
			assert.Equal(t, EffSetup, effects[0].Kind)
			assert.Equal(t, tt.want, effects[0].Mute)
		})
	}
}

func TestStep_ReadyWhileActiveStartsPlayback(t *testing.T) {
	s := ItemState{Phase: PhaseConfigured, Active: true, Position: 3}
	env := Env{Muted: false, MaxAttempts: 3}

	s, effects := Step(s, Event{Kind: EvReady}, env)

	assert.Equal(t, PhasePlaying, s.Phase)
	assert.Zero(t, s.Position)
	assert.False(t, s.Muted)
	assert.Equal(t, []EffectKind{EffSeek, EffSetMute, EffPlay, EffArmStall}, kinds(effects))
	assert.False(t, effects[1].Mute)
}

func TestStep_ReadyWhileInactiveWaits(t *testing.T) {
	s, effects := Step(ItemState{Phase: PhaseConfigured}, Event{Kind: EvReady}, desktopEnv)
	assert.Equal(t, PhaseReady, s.Phase)
	assert.Empty(t, effects)
}

func TestStep_MobileStartsMutedThenDefersUnmute(t *testing.T) {
	env := Env{Mobile: true, Muted: false, MaxAttempts: 3}

	s, effects := Step(ItemState{Phase: PhaseReady}, Event{Kind: EvActivate, Fresh: true}, env)

	assert.Equal(t, PhasePlaying, s.Phase)
	assert.True(t, s.Muted)
	assert.Equal(t, []EffectKind{EffSeek, EffSetMute, EffPlay, EffScheduleUnmute, EffArmStall}, kinds(effects))
	assert.True(t, effects[1].Mute)

	s, effects = Step(s, Event{Kind: EvUnmuteDue}, env)
	assert.False(t, s.Muted)
	require.Len(t, effects, 1)
	assert.Equal(t, Effect{Kind: EffSetMute, Mute: false}, effects[0])
}

func TestStep_MobileMutedPreferenceSkipsUnmute(t *testing.T) {
	env := Env{Mobile: true, Muted: true, MaxAttempts: 3}
	_, effects := Step(ItemState{Phase: PhaseReady}, Event{Kind: EvActivate, Fresh: true}, env)
	assert.NotContains(t, kinds(effects), EffScheduleUnmute)
}

func TestStep_ApplyMute(t *testing.T) {
	playing := ItemState{Phase: PhasePlaying, Active: true, Muted: true}

	t.Run("mobile unmute goes through muted confirmation", func(t *testing.T) {
		s, effects := Step(playing, Event{Kind: EvApplyMute}, Env{Mobile: true, Muted: false})
		assert.True(t, s.Muted)
		assert.Equal(t, []Effect{{Kind: EffSetMute, Mute: true}, {Kind: EffScheduleUnmute}}, effects)
	})

	t.Run("desktop unmute is immediate", func(t *testing.T) {
		s, effects := Step(playing, Event{Kind: EvApplyMute}, Env{Muted: false})
		assert.False(t, s.Muted)
		assert.Equal(t, []Effect{{Kind: EffCancelUnmute}, {Kind: EffSetMute, Mute: false}}, effects)
	})

	t.Run("mute cancels pending unmute", func(t *testing.T) {
		s, effects := Step(playing, Event{Kind: EvApplyMute}, Env{Mobile: true, Muted: true})
		assert.True(t, s.Muted)
		assert.Equal(t, []EffectKind{EffCancelUnmute, EffSetMute}, kinds(effects))
	})

	t.Run("no player no effect", func(t *testing.T) {
		_, effects := Step(ItemState{Phase: PhaseFetching}, Event{Kind: EvApplyMute}, Env{})
		assert.Empty(t, effects)
	})
}

func TestStep_UnmuteDueIgnoredWhenNoLongerPlaying(t *testing.T) {
	s, effects := Step(ItemState{Phase: PhaseReady, Muted: true}, Event{Kind: EvUnmuteDue}, Env{Mobile: true})
	assert.True(t, s.Muted)
	assert.Empty(t, effects)
}

func TestStep_UserPauseSurvivesSameActivation(t *testing.T) {
	s := ItemState{Phase: PhasePlaying, Active: true}

	s, effects := Step(s, Event{Kind: EvUserPause}, desktopEnv)
	assert.Equal(t, PhasePaused, s.Phase)
	assert.True(t, s.UserPaused)
	assert.Equal(t, []EffectKind{EffPause, EffDisarmStall}, kinds(effects))

	// same item re-reported as dominant: pause is respected
	s, effects = Step(s, Event{Kind: EvActivate, Fresh: false}, desktopEnv)
	assert.Equal(t, PhasePaused, s.Phase)
	assert.Empty(t, effects)

	// re-entered fresh: pause cleared, restart from zero
	s, effects = Step(s, Event{Kind: EvActivate, Fresh: true}, desktopEnv)
	assert.Equal(t, PhasePlaying, s.Phase)
	assert.False(t, s.UserPaused)
	assert.Contains(t, kinds(effects), EffPlay)
}

func TestStep_UserResume(t *testing.T) {
	s, effects := Step(ItemState{Phase: PhasePaused, UserPaused: true, Active: true}, Event{Kind: EvUserResume}, desktopEnv)
	assert.Equal(t, PhasePlaying, s.Phase)
	assert.False(t, s.UserPaused)
	assert.Equal(t, []EffectKind{EffPlay}, kinds(effects))
}

func TestStep_DeactivatePauses(t *testing.T) {
	s, effects := Step(ItemState{Phase: PhasePlaying, Active: true}, Event{Kind: EvDeactivate}, desktopEnv)
	assert.Equal(t, PhaseReady, s.Phase)
	assert.False(t, s.Active)
	assert.Equal(t, []EffectKind{EffPause, EffDisarmStall, EffCancelUnmute}, kinds(effects))
}

func TestStep_BoundedRetry(t *testing.T) {
	env := desktopEnv
	s := ItemState{Phase: PhasePlaying, Active: true}
	failure := NewFailure(FailurePlayback, "decode error", nil)

	retries := 0
	for i := 0; i < 10 && s.Phase != PhaseExhausted; i++ {
		var effects []Effect
		s, effects = Step(s, Event{Kind: EvPlayerError, Failure: failure}, env)
		if s.Phase == PhaseExhausted {
			break
		}
		require.Equal(t, PhaseError, s.Phase)
		require.Contains(t, kinds(effects), EffScheduleRetry)
		retries++

		s, effects = Step(s, Event{Kind: EvRetryDue}, env)
		require.Equal(t, PhaseFetching, s.Phase)
		require.Equal(t, []EffectKind{EffFetchMetadata}, kinds(effects))

		s, _ = Step(s, Event{Kind: EvMetadataLoaded}, env)
		s, _ = Step(s, Event{Kind: EvReady}, env)
		require.Equal(t, PhasePlaying, s.Phase)
	}

	assert.Equal(t, 3, retries)
	assert.Equal(t, PhaseExhausted, s.Phase)
	require.NotNil(t, s.LastError)
	assert.False(t, s.LastError.Recoverable)
	assert.True(t, failure.Recoverable, "input failure must not be mutated")

	// stays exhausted on timers and re-activation
	s2, effects := Step(s, Event{Kind: EvRetryDue}, env)
	assert.Equal(t, PhaseExhausted, s2.Phase)
	assert.Empty(t, effects)
	s2, _ = Step(s, Event{Kind: EvActivate, Fresh: true}, env)
	assert.Equal(t, PhaseExhausted, s2.Phase)

	// manual retry starts a new streak
	s, effects = Step(s, Event{Kind: EvManualRetry}, env)
	assert.Equal(t, PhaseFetching, s.Phase)
	assert.Zero(t, s.Attempts)
	assert.Nil(t, s.LastError)
	assert.Equal(t, []EffectKind{EffCancelRetry, EffFetchMetadata}, kinds(effects))
}

func TestStep_InactiveFailureWaitsForActivation(t *testing.T) {
	failure := NewFailure(FailureNetwork, "metadata fetch failed", nil)

	s, effects := Step(ItemState{Phase: PhaseFetching}, Event{Kind: EvMetadataFailed, Failure: failure}, desktopEnv)
	assert.Equal(t, PhaseError, s.Phase)
	assert.Zero(t, s.Attempts)
	assert.NotContains(t, kinds(effects), EffScheduleRetry)

	s, effects = Step(s, Event{Kind: EvActivate, Fresh: true}, desktopEnv)
	assert.Equal(t, PhaseFetching, s.Phase)
	assert.Equal(t, 1, s.Attempts)
	assert.Equal(t, []EffectKind{EffCancelRetry, EffFetchMetadata}, kinds(effects))
}

func TestStep_Stall(t *testing.T) {
	playing := ItemState{Phase: PhasePlaying, Active: true}
	stall := NewFailure(FailureStall, "no playback progress", nil)

	s, _ := Step(playing, Event{Kind: EvStallTimeout, Buffering: true, Position: 0, Failure: stall}, desktopEnv)
	assert.Equal(t, PhaseError, s.Phase)
	require.NotNil(t, s.LastError)
	assert.Equal(t, FailureStall, s.LastError.Kind)

	s, effects := Step(playing, Event{Kind: EvStallTimeout, Buffering: true, Position: 1.2, Failure: stall}, desktopEnv)
	assert.Equal(t, PhasePlaying, s.Phase)
	assert.Empty(t, effects)

	s, _ = Step(playing, Event{Kind: EvStallTimeout, Buffering: false, Failure: stall}, desktopEnv)
	assert.Equal(t, PhasePlaying, s.Phase)
}

func TestStep_TimeProgressEndsFailureStreak(t *testing.T) {
	s := ItemState{Phase: PhasePlaying, Active: true, Attempts: 2, Buffering: true}

	s, effects := Step(s, Event{Kind: EvTime, Position: 0.25, Duration: 30}, desktopEnv)
	assert.Zero(t, s.Attempts)
	assert.False(t, s.Buffering)
	assert.Equal(t, 30.0, s.Duration)
	assert.Equal(t, []EffectKind{EffDisarmStall}, kinds(effects))

	s.Attempts = 1
	s, effects = Step(s, Event{Kind: EvTime, Position: 0}, desktopEnv)
	assert.Equal(t, 1, s.Attempts)
	assert.Empty(t, effects)
}

func TestStep_ExitViewportRewinds(t *testing.T) {
	tests := []struct {
		name    string
		state   ItemState
		rewinds bool
	}{
		{"watched inactive item", ItemState{Phase: PhaseReady, Position: 4}, true},
		{"barely started", ItemState{Phase: PhaseReady, Position: 0.4}, false},
		{"active item", ItemState{Phase: PhasePlaying, Active: true, Position: 4}, false},
		{"no player", ItemState{Phase: PhaseError, Position: 4}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, effects := Step(tt.state, Event{Kind: EvExitViewport}, desktopEnv)
			if tt.rewinds {
				assert.Zero(t, s.Position)
				assert.Equal(t, []Effect{{Kind: EffSeek, Position: 0}}, effects)
			} else {
				assert.Equal(t, tt.state.Position, s.Position)
				assert.Empty(t, effects)
			}
		})
	}
}

func TestStep_CompleteScrollsToNext(t *testing.T) {
	s, effects := Step(ItemState{Phase: PhasePlaying, Active: true, Duration: 20}, Event{Kind: EvComplete}, desktopEnv)
	assert.Equal(t, 20.0, s.Position)
	assert.Equal(t, []EffectKind{EffScrollNext}, kinds(effects))

	_, effects = Step(ItemState{Phase: PhaseReady}, Event{Kind: EvComplete}, desktopEnv)
	assert.Empty(t, effects)
}

func TestStep_Evict(t *testing.T) {
	s, effects := Step(ItemState{Phase: PhasePlaying, Active: true}, Event{Kind: EvEvict}, desktopEnv)
	assert.Equal(t, PhaseDisposed, s.Phase)
	assert.False(t, s.Active)
	assert.Equal(t, EffDispose, effects[len(effects)-1].Kind)

	_, effects = Step(s, Event{Kind: EvEvict}, desktopEnv)
	assert.Empty(t, effects)
}

func TestStep_SeekOnlyWithPlayer(t *testing.T) {
	s, effects := Step(ItemState{Phase: PhasePaused}, Event{Kind: EvSeek, Position: 7}, desktopEnv)
	assert.Equal(t, 7.0, s.Position)
	assert.Equal(t, []Effect{{Kind: EffSeek, Position: 7}}, effects)

	_, effects = Step(ItemState{Phase: PhaseFetching}, Event{Kind: EvSeek, Position: 7}, desktopEnv)
	assert.Empty(t, effects)
}

func TestStep_StaleEventsIgnored(t *testing.T) {
	tests := []struct {
		name  string
		state ItemState
		ev    Event
	}{
		{"metadata after evict", ItemState{Phase: PhaseDisposed}, Event{Kind: EvMetadataLoaded}},
		{"ready twice", ItemState{Phase: PhasePlaying}, Event{Kind: EvReady}},
		{"error without player", ItemState{Phase: PhaseFetching}, Event{Kind: EvPlayerError}},
		{"retry for inactive", ItemState{Phase: PhaseError}, Event{Kind: EvRetryDue}},
		{"manual retry while playing", ItemState{Phase: PhasePlaying}, Event{Kind: EvManualRetry}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, effects := Step(tt.state, tt.ev, desktopEnv)
			assert.Equal(t, tt.state.Phase, s.Phase)
			assert.Empty(t, effects)
		})
	}
}

func TestSeekTarget(t *testing.T) {
	assert.Equal(t, 15.0, SeekTarget(0.5, 30))
	assert.Equal(t, 0.0, SeekTarget(-1, 30))
	assert.Equal(t, 30.0, SeekTarget(1.5, 30))
	assert.Equal(t, 0.0, SeekTarget(0.5, 0))
}

func TestFailure(t *testing.T) {
	f := NewFailure(FailureNetwork, "metadata fetch failed", assert.AnError)
	assert.True(t, f.Recoverable)
	assert.ErrorIs(t, f, assert.AnError)
	assert.Contains(t, f.Error(), "network: metadata fetch failed")

	text, err := FailureStall.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "stall", string(text))
	assert.Equal(t, "unknown", FailureKind(99).String())
}
