package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/stwalsh4118/stories/internal/activation"
	"github.com/stwalsh4118/stories/internal/catalog"
	"github.com/stwalsh4118/stories/internal/logger"
	"github.com/stwalsh4118/stories/internal/netquality"
	"github.com/stwalsh4118/stories/internal/overlay"
)

// Common errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrManagerStopped  = errors.New("session manager has been stopped")
	ErrInvalidEvent    = errors.New("invalid player event")
)

// IsSessionNotFound checks if the error is a session not found error
func IsSessionNotFound(err error) bool {
	return errors.Is(err, ErrSessionNotFound)
}

// Defaults for session lifetime
const (
	DefaultIdleTimeout     = 10 * time.Minute
	DefaultCleanupInterval = 30 * time.Second
)

// PlaylistLoader resolves a feed request into media ids
type PlaylistLoader interface {
	Load(ctx context.Context, req catalog.Request) ([]string, error)
}

// Options configures a Manager
type Options struct {
	Settings activation.Settings
	Catalog  activation.Catalog
	Loader   PlaylistLoader
	Advisor  *netquality.Advisor
	Overlay  overlay.Options

	DefaultPlaylistID string
	DefaultMediaID    string

	IdleTimeout     time.Duration
	CleanupInterval time.Duration
	Clock           clockwork.Clock
}

// CreateRequest describes the widget asking for a session
type CreateRequest struct {
	PlaylistID string
	MediaID    string
	// PriorityMediaID comes from the page's mediaid query parameter and
	// takes precedence over MediaID
	PriorityMediaID string
	UserAgent       string
	ViewportWidth   int
	Connection      *netquality.ConnectionInfo
}

// Manager owns every live session and expires idle ones
type Manager struct {
	opts Options

	sessions map[string]*Session
	mu       sync.RWMutex
	stopped  bool
	started  bool

	stopChan    chan struct{}
	cleanupDone chan struct{}
}

// NewManager creates a Manager. Call Start to begin idle cleanup.
func NewManager(opts Options) *Manager {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = DefaultCleanupInterval
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Advisor == nil {
		opts.Advisor = netquality.NewAdvisor(0, 0)
	}
	return &Manager{
		opts:        opts,
		sessions:    make(map[string]*Session),
		stopChan:    make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
}

// Start launches the background cleanup loop
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ErrManagerStopped
	}
	if m.started {
		return nil
	}
	m.started = true

	ticker := m.opts.Clock.NewTicker(m.opts.CleanupInterval)
	go m.runCleanupLoop(ticker)

	logger.Log.Info().
		Dur("cleanup_interval", m.opts.CleanupInterval).
		Dur("idle_timeout", m.opts.IdleTimeout).
		Msg("Session manager started")
	return nil
}

// Stop ends the cleanup loop and closes every session
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	started := m.started
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	logger.Log.Info().Msg("Stopping session manager...")

	close(m.stopChan)
	if started {
		<-m.cleanupDone
	}

	for _, s := range sessions {
		s.Close()
	}

	logger.Log.Info().
		Int("closed_sessions", len(sessions)).
		Msg("Session manager stopped")
}

// Create starts a session: its controller runs immediately and the playlist
// loads in the background
func (m *Manager) Create(req CreateRequest) (*Session, error) {
	playlistID := req.PlaylistID
	mediaID := req.MediaID
	if playlistID == "" && mediaID == "" {
		playlistID = m.opts.DefaultPlaylistID
		mediaID = m.opts.DefaultMediaID
	}
	if req.PriorityMediaID != "" {
		mediaID = req.PriorityMediaID
	}
	if playlistID == "" && mediaID == "" {
		return nil, catalog.ErrNoPlaylist
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil, ErrManagerStopped
	}

	platform := netquality.DetectPlatform(req.UserAgent, req.ViewportWidth)
	s := newSession(platform, m.opts.Overlay, m.opts.Clock)

	s.controller = activation.New(activation.Options{
		Settings:   m.opts.Settings,
		Catalog:    m.opts.Catalog,
		Factory:    s.remotes.Factory(),
		Clock:      m.opts.Clock,
		Platform:   platform,
		Advisor:    m.opts.Advisor,
		Connection: req.Connection,
		OnScroll:   s.outbox.SendScroll,
		SessionID:  s.ID,
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() {
		if err := s.controller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Log.Error().Err(err).Str("session_id", s.ID).Msg("Controller stopped with error")
		}
	}()
	go m.loadPlaylist(ctx, s, catalog.Request{PlaylistID: playlistID, MediaID: mediaID})

	m.sessions[s.ID] = s

	logger.Log.Info().
		Str("session_id", s.ID).
		Str("playlist_id", playlistID).
		Str("media_id", mediaID).
		Bool("mobile", platform.Mobile).
		Bool("in_app", platform.InApp).
		Msg("Session created")

	return s, nil
}

func (m *Manager) loadPlaylist(ctx context.Context, s *Session, req catalog.Request) {
	ids, err := m.opts.Loader.Load(ctx, req)
	if err != nil {
		if ctx.Err() == nil {
			logger.Log.Error().Err(err).Str("session_id", s.ID).Msg("Playlist unavailable")
		}
		return
	}
	if err := s.controller.Load(ids); err != nil && !activation.IsControllerClosed(err) {
		logger.Log.Error().Err(err).Str("session_id", s.ID).Msg("Failed to load playlist into controller")
	}
}

// SetOverlay replaces the overlay options used by sessions created from now on
func (m *Manager) SetOverlay(opts overlay.Options) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opts.Overlay = opts
}

// Get returns the session and records client activity
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.Touch()
	return s, nil
}

// Delete closes and removes a session
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	s.Close()
	logger.Log.Info().Str("session_id", id).Msg("Session closed")
	return nil
}

// List returns all live sessions
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// Len returns the number of live sessions
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) runCleanupLoop(ticker clockwork.Ticker) {
	defer close(m.cleanupDone)
	defer ticker.Stop()

	logger.Log.Debug().Msg("Cleanup loop started")

	for {
		select {
		case <-m.stopChan:
			logger.Log.Debug().Msg("Cleanup loop stopping")
			return
		case <-ticker.Chan():
			m.performCleanup()
		}
	}
}

func (m *Manager) performCleanup() {
	sessions := m.List()

	closed := 0
	for _, s := range sessions {
		if !s.ShouldCleanup(m.opts.IdleTimeout) {
			continue
		}
		logger.Log.Info().
			Str("session_id", s.ID).
			Dur("idle_duration", s.IdleDuration()).
			Msg("Cleaning up idle session")

		if err := m.Delete(s.ID); err == nil {
			closed++
		}
	}

	if closed > 0 {
		logger.Log.Info().
			Int("closed_count", closed).
			Int("active_count", len(sessions)-closed).
			Msg("Cleanup cycle completed")
	}
}
