// Package captions parses SRT-style subtitle payloads into timed cues.
package captions

import (
	"io"
	"regexp"
	"strconv"
	"strings"
)

// Tolerance widens each cue on both sides when looking up the active cue,
// absorbing jitter in how often playback position is sampled.
const Tolerance = 0.1

var timeRange = regexp.MustCompile(
	`(\d{1,2}):(\d{2}):(\d{2})[,.](\d{1,3})\s*-->\s*(\d{1,2}):(\d{2}):(\d{2})[,.](\d{1,3})`,
)

// Cue is one caption entry. Start and End are seconds from the start of the media.
type Cue struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Track is an ordered list of cues
type Track []Cue

// Parse converts raw subtitle text into cues. Blocks without a parsable
// time range are skipped; the rest of the track is still returned.
func Parse(raw string) Track {
	normalized := strings.ReplaceAll(raw, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	var cues Track
	for _, block := range splitBlocks(normalized) {
		if cue, ok := parseBlock(block); ok {
			cues = append(cues, cue)
		}
	}
	return cues
}

// ParseReader reads r fully and parses it
func ParseReader(r io.Reader) (Track, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Parse(string(data)), nil
}

// At returns the cue covering position, if any
func (t Track) At(position float64) (Cue, bool) {
	for _, c := range t {
		if position >= c.Start-Tolerance && position <= c.End+Tolerance {
			return c, true
		}
	}
	return Cue{}, false
}

// TextAt returns the caption text for position, or "" when nothing is showing
func (t Track) TextAt(position float64) string {
	c, ok := t.At(position)
	if !ok {
		return ""
	}
	return c.Text
}

func splitBlocks(s string) [][]string {
	var blocks [][]string
	var current []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) == "" {
			if len(current) > 0 {
				blocks = append(blocks, current)
				current = nil
			}
			continue
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		blocks = append(blocks, current)
	}
	return blocks
}

func parseBlock(lines []string) (Cue, bool) {
	for i, line := range lines {
		m := timeRange.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		start, ok := toSeconds(m[1], m[2], m[3], m[4])
		if !ok {
			return Cue{}, false
		}
		end, ok := toSeconds(m[5], m[6], m[7], m[8])
		if !ok || end < start {
			return Cue{}, false
		}
		text := make([]string, 0, len(lines)-i-1)
		for _, l := range lines[i+1:] {
			text = append(text, strings.TrimRight(l, " \t"))
		}
		return Cue{Start: start, End: end, Text: strings.Join(text, "\n")}, true
	}
	return Cue{}, false
}

func toSeconds(h, m, s, ms string) (float64, bool) {
	hours, err := strconv.Atoi(h)
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.Atoi(m)
	if err != nil || minutes > 59 {
		return 0, false
	}
	seconds, err := strconv.Atoi(s)
	if err != nil || seconds > 59 {
		return 0, false
	}
	// "5" means 500ms, "05" means 50ms
	for len(ms) < 3 {
		ms += "0"
	}
	millis, err := strconv.Atoi(ms)
	if err != nil {
		return 0, false
	}
	return float64(hours*3600+minutes*60+seconds) + float64(millis)/1000, true
}
