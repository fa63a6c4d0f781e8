// Package catalog talks to the playlist and media-detail services and turns
// their responses into the metadata the activation controller needs.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/stwalsh4118/stories/internal/activation"
	"github.com/stwalsh4118/stories/internal/captions"
	"github.com/stwalsh4118/stories/internal/fetch"
	"github.com/stwalsh4118/stories/internal/logger"
	"github.com/stwalsh4118/stories/internal/models"
	"github.com/stwalsh4118/stories/internal/netquality"
	"github.com/stwalsh4118/stories/internal/player"
)

// Catalog errors
var (
	ErrEmptyMedia = errors.New("media response contains no items")
	ErrNoPlaylist = errors.New("neither playlist id nor media id given")
)

// IsEmptyMedia checks if the error is an empty media response
func IsEmptyMedia(err error) bool {
	return errors.Is(err, ErrEmptyMedia)
}

type sourceEntry struct {
	File    string `json:"file"`
	Type    string `json:"type"`
	Label   string `json:"label"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Bitrate int    `json:"bitrate"`
}

type trackEntry struct {
	File  string `json:"file"`
	Kind  string `json:"kind"`
	Label string `json:"label"`
}

// playlistEntry is one item of a playlist or media response. Per-item CTA
// and disclaimer come from custom parameters set in the CMS.
type playlistEntry struct {
	MediaID    string        `json:"mediaid"`
	Title      string        `json:"title"`
	Sources    []sourceEntry `json:"sources"`
	Tracks     []trackEntry  `json:"tracks"`
	CtaText    string        `json:"cta_text"`
	CtaLink    string        `json:"cta_link"`
	CtaImage   string        `json:"cta_image"`
	Disclaimer string        `json:"disclaimer"`
}

type playlistResponse struct {
	Title    string          `json:"title"`
	Playlist []playlistEntry `json:"playlist"`
}

// Options configures a Client
type Options struct {
	PlaylistServiceURL string
	MediaServiceURL    string
	Fetcher            *fetch.Fetcher
	Breaker            *Breaker
}

// Client fetches playlists, media details and captions
type Client struct {
	playlistURL string
	mediaURL    string
	fetcher     *fetch.Fetcher
	breaker     *Breaker
}

// NewClient creates a Client
func NewClient(opts Options) *Client {
	if opts.Fetcher == nil {
		opts.Fetcher = fetch.New(fetch.Options{Cache: true})
	}
	if opts.Breaker == nil {
		opts.Breaker = NewBreaker(0, 0, nil)
	}
	return &Client{
		playlistURL: strings.TrimRight(opts.PlaylistServiceURL, "/"),
		mediaURL:    strings.TrimRight(opts.MediaServiceURL, "/"),
		fetcher:     opts.Fetcher,
		breaker:     opts.Breaker,
	}
}

// FetchPlaylist returns the playlist's media ids in order, with priorityID
// moved to the front when present
func (c *Client) FetchPlaylist(ctx context.Context, playlistID, priorityID string) ([]string, error) {
	var resp playlistResponse
	u := c.playlistURL + "/" + url.PathEscape(playlistID)
	if err := c.fetcher.JSON(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("fetch playlist %s: %w", playlistID, err)
	}
	// playlists are edited in the CMS; only media details stay cached
	c.fetcher.Forget(u)

	ids := make([]string, 0, len(resp.Playlist))
	for _, item := range resp.Playlist {
		ids = append(ids, item.MediaID)
	}

	ordered, found := Prioritize(ids, priorityID)
	if priorityID != "" && !found {
		logger.Log.Warn().
			Str("playlist_id", playlistID).
			Str("media_id", priorityID).
			Msg("Priority media id not found in playlist")
	}

	logger.Log.Info().
		Str("playlist_id", playlistID).
		Int("items", len(ordered)).
		Msg("Playlist fetched")
	return ordered, nil
}

// Prioritize moves the first occurrence of id to the front. It reports
// whether id was found.
func Prioritize(ids []string, id string) ([]string, bool) {
	out := append([]string(nil), ids...)
	if id == "" {
		return out, false
	}
	for i, v := range out {
		if v == id {
			copy(out[1:i+1], out[:i])
			out[0] = id
			return out, true
		}
	}
	return out, false
}

// FetchMedia returns the details of one media item
func (c *Client) FetchMedia(ctx context.Context, mediaID string) (*models.MediaItem, error) {
	var resp playlistResponse
	err := c.breaker.Call(func() error {
		return c.fetcher.JSON(ctx, c.mediaURL+"/"+url.PathEscape(mediaID), &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch media %s: %w", mediaID, err)
	}
	if len(resp.Playlist) == 0 {
		return nil, fmt.Errorf("fetch media %s: %w", mediaID, ErrEmptyMedia)
	}
	return toMediaItem(mediaID, resp.Playlist[0]), nil
}

// FetchCaptions downloads and parses the item's caption track. Items
// without one yield an empty track.
func (c *Client) FetchCaptions(ctx context.Context, item *models.MediaItem) (captions.Track, error) {
	if item.CaptionTrack == nil || item.CaptionTrack.File == "" {
		return nil, nil
	}
	track, err := c.FetchCaptionsURL(ctx, item.CaptionTrack.File)
	if err != nil {
		return nil, fmt.Errorf("fetch captions for %s: %w", item.ID, err)
	}
	return track, nil
}

// FetchCaptionsURL downloads and parses a subtitle file
func (c *Client) FetchCaptionsURL(ctx context.Context, captionsURL string) (captions.Track, error) {
	raw, err := c.fetcher.Text(ctx, captionsURL)
	if err != nil {
		return nil, err
	}
	return captions.Parse(raw), nil
}

// Media implements activation.Catalog. Caption and manifest failures are
// logged and do not fail the item.
func (c *Client) Media(ctx context.Context, mediaID string) (*activation.Metadata, error) {
	item, err := c.FetchMedia(ctx, mediaID)
	if err != nil {
		return nil, err
	}
	meta := &activation.Metadata{Item: *item}

	track, err := c.FetchCaptions(ctx, item)
	if err != nil {
		logger.Log.Warn().Err(err).Str("media_id", mediaID).Msg("Captions unavailable")
	}
	meta.Captions = track

	if src, ok := item.HLSSource(); ok {
		levels, err := c.renditions(ctx, src.File)
		if err != nil {
			logger.Log.Debug().Err(err).Str("media_id", mediaID).Msg("Could not read HLS renditions")
		}
		meta.Renditions = levels
	}

	return meta, nil
}

func (c *Client) renditions(ctx context.Context, manifestURL string) ([]player.QualityLevel, error) {
	body, err := c.fetcher.Text(ctx, manifestURL)
	if err != nil {
		return nil, err
	}
	return netquality.RenditionsFromManifest(strings.NewReader(body))
}

func toMediaItem(requestedID string, e playlistEntry) *models.MediaItem {
	item := &models.MediaItem{
		ID:         e.MediaID,
		Title:      e.Title,
		Disclaimer: e.Disclaimer,
	}
	if item.ID == "" {
		item.ID = requestedID
	}

	for _, s := range e.Sources {
		item.Sources = append(item.Sources, models.Source(s))
	}
	for _, t := range e.Tracks {
		track := models.Track(t)
		item.Tracks = append(item.Tracks, track)
		if item.CaptionTrack == nil && (t.Kind == models.TrackKindCaptions || t.Kind == models.TrackKindSubtitles) {
			captionTrack := track
			item.CaptionTrack = &captionTrack
		}
	}

	if e.CtaText != "" {
		item.CTA = &models.CallToAction{Text: e.CtaText, Link: e.CtaLink, ImageURL: e.CtaImage}
	}
	return item
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
