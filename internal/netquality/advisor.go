// Package netquality turns browser connection hints into playback quality
// advice and detects the client platform.
package netquality

import (
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/stwalsh4118/stories/internal/logger"
	"github.com/stwalsh4118/stories/internal/models"
	"github.com/stwalsh4118/stories/internal/player"
)

const (
	// DefaultBandwidth is used when no downlink estimate is available (bps)
	DefaultBandwidth = 3_000_000
	// DefaultHighQualityDownlink is the downlink (Mbps) above which a connection counts as high quality
	DefaultHighQualityDownlink = 1.5
)

// ConnectionInfo mirrors the browser's Network Information API
type ConnectionInfo struct {
	Type          string  `json:"type,omitempty"`
	EffectiveType string  `json:"effective_type,omitempty"`
	Downlink      float64 `json:"downlink,omitempty"` // Mbps
	RTT           int     `json:"rtt,omitempty"`
}

// Advice is the quality hint applied to player setup
type Advice struct {
	HighQuality       bool    `json:"high_quality"`
	BandwidthEstimate float64 `json:"bandwidth_estimate"`
}

// StartQuality returns the setup start-quality hint for the advice
func (a Advice) StartQuality() string {
	if a.HighQuality {
		return models.QualityHigh
	}
	return models.QualityAuto
}

// Advisor computes Advice from connection info
type Advisor struct {
	defaultBandwidth float64
	highDownlink     float64
}

// NewAdvisor creates an Advisor. Non-positive arguments fall back to defaults.
func NewAdvisor(defaultBandwidth, highQualityDownlink float64) *Advisor {
	if defaultBandwidth <= 0 {
		defaultBandwidth = DefaultBandwidth
	}
	if highQualityDownlink <= 0 {
		highQualityDownlink = DefaultHighQualityDownlink
	}
	return &Advisor{
		defaultBandwidth: defaultBandwidth,
		highDownlink:     highQualityDownlink,
	}
}

// Advise never fails. Without connection info, desktop is assumed to be
// high quality and mobile is not.
func (a *Advisor) Advise(conn *ConnectionInfo, platform Platform) Advice {
	if conn == nil {
		return Advice{
			HighQuality:       !platform.Mobile,
			BandwidthEstimate: a.defaultBandwidth,
		}
	}

	connType := strings.ToLower(conn.Type)
	high := connType == "wifi" ||
		connType == "ethernet" ||
		strings.EqualFold(conn.EffectiveType, "4g") ||
		conn.Downlink > a.highDownlink

	bandwidth := a.defaultBandwidth
	if conn.Downlink > 0 {
		bandwidth = conn.Downlink * 1_000_000
	}

	logger.Log.Debug().
		Str("type", conn.Type).
		Str("effective_type", conn.EffectiveType).
		Str("bandwidth", humanize.SI(bandwidth, "bps")).
		Bool("high_quality", high).
		Msg("Network conditions evaluated")

	return Advice{HighQuality: high, BandwidthEstimate: bandwidth}
}

// HighestQuality returns the index of the level with the highest bitrate,
// or -1 when levels is empty. Ties keep the first.
func HighestQuality(levels []player.QualityLevel) int {
	best := -1
	for i, l := range levels {
		if best == -1 || l.Bitrate > levels[best].Bitrate {
			best = i
		}
	}
	return best
}
