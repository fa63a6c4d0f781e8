package models

import "strings"

// Source is one playable rendition of a media item
type Source struct {
	File    string `json:"file"`
	Type    string `json:"type,omitempty"`
	Label   string `json:"label,omitempty"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Bitrate int    `json:"bitrate,omitempty"`
}

// IsHLS reports whether the source is an HLS manifest
func (s Source) IsHLS() bool {
	return s.Type == MimeHLS || strings.HasSuffix(strings.ToLower(s.File), ".m3u8")
}

// Track is a side-loaded text track (captions, chapters, thumbnails)
type Track struct {
	File  string `json:"file"`
	Kind  string `json:"kind,omitempty"`
	Label string `json:"label,omitempty"`
}

// CallToAction overrides the configured CTA for a single item
type CallToAction struct {
	Text     string `json:"text"`
	Link     string `json:"link,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// MediaItem is one story in the feed. It is immutable once fetched.
type MediaItem struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Sources      []Source      `json:"sources"`
	Tracks       []Track       `json:"tracks,omitempty"`
	CaptionTrack *Track        `json:"caption_track,omitempty"`
	CTA          *CallToAction `json:"cta,omitempty"`
	Disclaimer   string        `json:"disclaimer,omitempty"`
}

// HLSSource returns the first HLS source, if any
func (m *MediaItem) HLSSource() (Source, bool) {
	for _, s := range m.Sources {
		if s.IsHLS() {
			return s, true
		}
	}
	return Source{}, false
}
