package netquality

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Eyevinn/hls-m3u8/m3u8"

	"github.com/stwalsh4118/stories/internal/player"
)

// ErrNotMasterPlaylist is returned when a manifest has no variant streams
var ErrNotMasterPlaylist = errors.New("not an HLS master playlist")

// RenditionsFromManifest reads an HLS master playlist and returns its
// variant streams as quality levels, in manifest order.
func RenditionsFromManifest(r io.Reader) ([]player.QualityLevel, error) {
	playlist, _, err := m3u8.DecodeFrom(r, false)
	if err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	master, ok := playlist.(*m3u8.MasterPlaylist)
	if !ok || len(master.Variants) == 0 {
		return nil, ErrNotMasterPlaylist
	}

	levels := make([]player.QualityLevel, 0, len(master.Variants))
	for _, v := range master.Variants {
		if v == nil {
			continue
		}
		width, height := parseResolution(v.Resolution)
		levels = append(levels, player.QualityLevel{
			Label:   levelLabel(height, int(v.Bandwidth)),
			Bitrate: int(v.Bandwidth),
			Width:   width,
			Height:  height,
		})
	}
	if len(levels) == 0 {
		return nil, ErrNotMasterPlaylist
	}
	return levels, nil
}

// parseResolution splits "1920x1080"; malformed values yield zeros
func parseResolution(res string) (int, int) {
	w, h, ok := strings.Cut(strings.ToLower(res), "x")
	if !ok {
		return 0, 0
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return 0, 0
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return 0, 0
	}
	return width, height
}

func levelLabel(height, bandwidth int) string {
	if height > 0 {
		return fmt.Sprintf("%dp", height)
	}
	return fmt.Sprintf("%d kbps", bandwidth/1000)
}
