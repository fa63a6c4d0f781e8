package catalog

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/stwalsh4118/stories/internal/logger"
)

// DefaultReloadInterval is the wait between failed playlist loads
const DefaultReloadInterval = 5 * time.Second

// PlaylistSource resolves a playlist id to ordered media ids
type PlaylistSource interface {
	FetchPlaylist(ctx context.Context, playlistID, priorityID string) ([]string, error)
}

// Request describes which feed a widget shows
type Request struct {
	PlaylistID string
	// MediaID is shown first, or alone when there is no playlist
	MediaID string
}

// Loader resolves a Request into media ids, retrying playlist failures at a
// fixed interval until it succeeds or ctx is cancelled
type Loader struct {
	source   PlaylistSource
	interval time.Duration
	clock    clockwork.Clock
}

// NewLoader creates a Loader
func NewLoader(source PlaylistSource, interval time.Duration, clock clockwork.Clock) *Loader {
	if interval <= 0 {
		interval = DefaultReloadInterval
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Loader{source: source, interval: interval, clock: clock}
}

// Load returns the ordered media ids for req
func (l *Loader) Load(ctx context.Context, req Request) ([]string, error) {
	if req.PlaylistID == "" {
		if req.MediaID == "" {
			return nil, ErrNoPlaylist
		}
		return []string{req.MediaID}, nil
	}

	for attempt := 1; ; attempt++ {
		ids, err := l.source.FetchPlaylist(ctx, req.PlaylistID, req.MediaID)
		if err == nil {
			return ids, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		logger.Log.Error().
			Err(err).
			Str("playlist_id", req.PlaylistID).
			Int("attempt", attempt).
			Dur("retry_in", l.interval).
			Msg("Playlist load failed")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-l.clock.After(l.interval):
		}
	}
}
