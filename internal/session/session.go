// Package session holds one activation controller per browser widget and
// expires widgets that stop talking to the service.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/stwalsh4118/stories/internal/activation"
	"github.com/stwalsh4118/stories/internal/netquality"
	"github.com/stwalsh4118/stories/internal/overlay"
	"github.com/stwalsh4118/stories/internal/player"
)

// Session is one widget instance: a controller, its remote players and the
// outbox the browser drains
type Session struct {
	ID        string
	CreatedAt time.Time
	Platform  netquality.Platform

	controller *activation.Controller
	remotes    *player.Remotes
	outbox     *Outbox
	overlay    overlay.Options
	clock      clockwork.Clock
	cancel     context.CancelFunc

	mu         sync.RWMutex
	lastAccess time.Time
	streams    int
	closed     bool
}

func newSession(platform netquality.Platform, ov overlay.Options, clock clockwork.Clock) *Session {
	now := clock.Now().UTC()
	id := uuid.New().String()
	outbox := NewOutbox(id, DefaultOutboxCapacity)
	return &Session{
		ID:         id,
		CreatedAt:  now,
		Platform:   platform,
		remotes:    player.NewRemotes(outbox),
		outbox:     outbox,
		overlay:    ov,
		clock:      clock,
		lastAccess: now,
	}
}

// Controller returns the session's activation controller
func (s *Session) Controller() *activation.Controller {
	return s.controller
}

// Outbox returns the queue of messages bound for the browser
func (s *Session) Outbox() *Outbox {
	return s.outbox
}

// View renders the current snapshot
func (s *Session) View() overlay.View {
	return s.RenderView(s.controller.Snapshot())
}

// RenderView renders snap with the session's overlay options
func (s *Session) RenderView(snap activation.Snapshot) overlay.View {
	return overlay.Render(snap, s.overlay)
}

// DispatchPlayerEvent feeds a browser-reported player event to the handle
// for mediaID
func (s *Session) DispatchPlayerEvent(mediaID string, ev player.Event) error {
	if !ev.Kind.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidEvent, ev.Kind)
	}
	return s.remotes.Dispatch(mediaID, ev)
}

// Touch records client activity
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAccess = s.clock.Now().UTC()
}

// AttachStream marks an open event stream; the returned func detaches it.
// Sessions with an attached stream never expire.
func (s *Session) AttachStream() func() {
	s.mu.Lock()
	s.streams++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.streams--
			s.lastAccess = s.clock.Now().UTC()
		})
	}
}

// IdleDuration returns how long ago the client was last seen
func (s *Session) IdleDuration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clock.Now().UTC().Sub(s.lastAccess)
}

// ShouldCleanup reports whether the session has been idle longer than timeout
func (s *Session) ShouldCleanup(timeout time.Duration) bool {
	s.mu.RLock()
	streams := s.streams
	s.mu.RUnlock()
	return streams == 0 && s.IdleDuration() > timeout
}

// Close stops the controller, releasing every player, and closes the outbox
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	if s.controller != nil {
		_ = s.controller.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.outbox.Close()
}
