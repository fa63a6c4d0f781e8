package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stwalsh4118/stories/internal/activation"
	"github.com/stwalsh4118/stories/internal/catalog"
	"github.com/stwalsh4118/stories/internal/models"
	"github.com/stwalsh4118/stories/internal/netquality"
	"github.com/stwalsh4118/stories/internal/overlay"
	"github.com/stwalsh4118/stories/internal/player"
)

const (
	iPhoneUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	desktopUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

type fakeLoader struct {
	mu       sync.Mutex
	requests []catalog.Request
	ids      []string
}

func (l *fakeLoader) Load(ctx context.Context, req catalog.Request) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.requests = append(l.requests, req)
	if req.PlaylistID == "" {
		return []string{req.MediaID}, nil
	}
	return l.ids, nil
}

func (l *fakeLoader) last() catalog.Request {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.requests) == 0 {
		return catalog.Request{}
	}
	return l.requests[len(l.requests)-1]
}

func staticCatalog() activation.Catalog {
	return activation.CatalogFunc(func(ctx context.Context, id string) (*activation.Metadata, error) {
		return &activation.Metadata{Item: models.MediaItem{
			ID:      id,
			Title:   "Title " + id,
			Sources: []models.Source{{File: "https://cdn.example.com/" + id + ".m3u8"}},
		}}, nil
	})
}

func newTestManager(t *testing.T, clock clockwork.Clock) (*Manager, *fakeLoader) {
	t.Helper()
	loader := &fakeLoader{ids: []string{"a", "b", "c"}}
	m := NewManager(Options{
		Settings:        activation.DefaultSettings(),
		Catalog:         staticCatalog(),
		Loader:          loader,
		Overlay:         overlay.Options{TopText: "Stories", TitleDisplayTime: 4, CtaDisplayTime: 5},
		IdleTimeout:     time.Minute,
		CleanupInterval: 10 * time.Second,
		Clock:           clock,
	})
	t.Cleanup(m.Stop)
	return m, loader
}

func waitItems(t *testing.T, s *Session, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(s.Controller().Snapshot().Items) == n
	}, 2*time.Second, 5*time.Millisecond)
}

func commandsFor(msgs []Message, mediaID string) []player.Op {
	var ops []player.Op
	for _, m := range msgs {
		if cmd, ok := m.Data.(player.Command); ok && cmd.MediaID == mediaID {
			ops = append(ops, cmd.Op)
		}
	}
	return ops
}

func TestManager_CreateRequiresFeed(t *testing.T) {
	m, _ := newTestManager(t, clockwork.NewFakeClock())

	_, err := m.Create(CreateRequest{})
	assert.ErrorIs(t, err, catalog.ErrNoPlaylist)
	assert.Zero(t, m.Len())
}

func TestManager_CreateUsesDefaults(t *testing.T) {
	loader := &fakeLoader{ids: []string{"x", "y"}}
	m := NewManager(Options{
		Settings:          activation.DefaultSettings(),
		Catalog:           staticCatalog(),
		Loader:            loader,
		DefaultPlaylistID: "default-pl",
		Clock:             clockwork.NewFakeClock(),
	})
	t.Cleanup(m.Stop)

	s, err := m.Create(CreateRequest{})
	require.NoError(t, err)
	waitItems(t, s, 2)
	assert.Equal(t, catalog.Request{PlaylistID: "default-pl"}, loader.last())
}

func TestManager_CreateLoadsPlaylist(t *testing.T) {
	m, loader := newTestManager(t, clockwork.NewFakeClock())

	s, err := m.Create(CreateRequest{
		PlaylistID:      "pl",
		MediaID:         "b",
		PriorityMediaID: "c",
		UserAgent:       desktopUA,
		ViewportWidth:   1280,
	})
	require.NoError(t, err)
	require.NotEmpty(t, s.ID)

	waitItems(t, s, 3)
	assert.Equal(t, catalog.Request{PlaylistID: "pl", MediaID: "c"}, loader.last())
	assert.False(t, s.Platform.Mobile)

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)
}

func TestManager_SingleMedia(t *testing.T) {
	m, _ := newTestManager(t, clockwork.NewFakeClock())

	s, err := m.Create(CreateRequest{MediaID: "solo", UserAgent: iPhoneUA})
	require.NoError(t, err)
	assert.True(t, s.Platform.Mobile)

	waitItems(t, s, 1)
	assert.Equal(t, "solo", s.Controller().Snapshot().Items[0].ID)
	assert.False(t, s.View().Controls.ShowNavigation)
}

func TestSession_CommandsFlowThroughOutbox(t *testing.T) {
	m, _ := newTestManager(t, clockwork.NewFakeClock())

	s, err := m.Create(CreateRequest{PlaylistID: "pl", UserAgent: desktopUA})
	require.NoError(t, err)
	waitItems(t, s, 3)

	require.NoError(t, s.Controller().Signals(activation.ViewportSignal{ID: "a", Intersecting: true, Ratio: 1}))

	var msgs []Message
	require.Eventually(t, func() bool {
		msgs = append(msgs, s.Outbox().Drain()...)
		return len(commandsFor(msgs, "a")) > 0 && len(commandsFor(msgs, "b")) > 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []player.Op{player.OpSetup}, commandsFor(msgs, "a"))

	// ready flushes queued commands and starts playback of the active item
	require.NoError(t, s.DispatchPlayerEvent("a", player.Event{Kind: player.EventReady}))
	require.Eventually(t, func() bool {
		it, _ := s.Controller().Snapshot().Item("a")
		return it.Phase == activation.PhasePlaying
	}, 2*time.Second, 5*time.Millisecond)

	msgs = s.Outbox().Drain()
	assert.Equal(t, []player.Op{player.OpSeek, player.OpMute, player.OpPlay}, commandsFor(msgs, "a"))

	view := s.View()
	require.Len(t, view.Items, 3)
	assert.Equal(t, "Title a", view.Items[0].Title)
	assert.Equal(t, "Stories", view.TopBar.Text)
}

func TestSession_DispatchPlayerEventErrors(t *testing.T) {
	m, _ := newTestManager(t, clockwork.NewFakeClock())
	s, err := m.Create(CreateRequest{MediaID: "solo"})
	require.NoError(t, err)

	err = s.DispatchPlayerEvent("solo", player.Event{Kind: "explode"})
	assert.ErrorIs(t, err, ErrInvalidEvent)

	err = s.DispatchPlayerEvent("nobody", player.Event{Kind: player.EventTime})
	assert.ErrorIs(t, err, player.ErrUnknownHandle)
}

func TestManager_Delete(t *testing.T) {
	m, _ := newTestManager(t, clockwork.NewFakeClock())
	s, err := m.Create(CreateRequest{MediaID: "solo"})
	require.NoError(t, err)

	require.NoError(t, m.Delete(s.ID))
	assert.True(t, IsSessionNotFound(m.Delete(s.ID)))

	_, err = m.Get(s.ID)
	assert.True(t, IsSessionNotFound(err))

	select {
	case <-s.Controller().Done():
	case <-time.After(2 * time.Second):
		t.Fatal("controller still running")
	}
	assert.True(t, s.Outbox().Closed())
}

func TestSession_ShouldCleanup(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newSession(netquality.Platform{}, overlay.Options{}, clock)

	assert.False(t, s.ShouldCleanup(time.Minute))

	clock.Advance(2 * time.Minute)
	assert.True(t, s.ShouldCleanup(time.Minute))

	s.Touch()
	assert.False(t, s.ShouldCleanup(time.Minute))

	detach := s.AttachStream()
	clock.Advance(2 * time.Minute)
	assert.False(t, s.ShouldCleanup(time.Minute), "attached stream keeps the session alive")

	detach()
	detach()
	assert.False(t, s.ShouldCleanup(time.Minute))
	clock.Advance(2 * time.Minute)
	assert.True(t, s.ShouldCleanup(time.Minute))
}

func TestManager_IdleCleanup(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m, _ := newTestManager(t, clock)
	require.NoError(t, m.Start())

	idle, err := m.Create(CreateRequest{MediaID: "idle"})
	require.NoError(t, err)
	busy, err := m.Create(CreateRequest{MediaID: "busy"})
	require.NoError(t, err)
	detach := busy.AttachStream()
	defer detach()

	// Get would count as activity, so look the session up through List
	live := func(id string) bool {
		for _, s := range m.List() {
			if s.ID == id {
				return true
			}
		}
		return false
	}

	require.Eventually(t, func() bool {
		clock.Advance(10 * time.Second)
		return !live(idle.ID)
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, live(busy.ID))
}

func TestManager_Stop(t *testing.T) {
	m, _ := newTestManager(t, clockwork.NewFakeClock())
	require.NoError(t, m.Start())

	s, err := m.Create(CreateRequest{MediaID: "solo"})
	require.NoError(t, err)

	m.Stop()
	m.Stop()

	assert.Zero(t, m.Len())
	assert.True(t, s.Outbox().Closed())
	assert.ErrorIs(t, m.Start(), ErrManagerStopped)

	_, err = m.Create(CreateRequest{MediaID: "solo"})
	assert.ErrorIs(t, err, ErrManagerStopped)
}

func TestManager_SetOverlay(t *testing.T) {
	m, _ := newTestManager(t, clockwork.NewFakeClock())

	before, err := m.Create(CreateRequest{MediaID: "solo"})
	require.NoError(t, err)

	m.SetOverlay(overlay.Options{TopText: "Reloaded"})
	after, err := m.Create(CreateRequest{MediaID: "solo"})
	require.NoError(t, err)

	assert.Equal(t, "Stories", before.View().TopBar.Text)
	assert.Equal(t, "Reloaded", after.View().TopBar.Text)
}
