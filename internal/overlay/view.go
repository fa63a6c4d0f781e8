// Package overlay renders controller snapshots into the view model the
// browser adapter draws: titles, CTA, time labels, indicators and controls.
package overlay

import (
	"fmt"
	"math"

	"github.com/stwalsh4118/stories/internal/activation"
	"github.com/stwalsh4118/stories/internal/config"
	"github.com/stwalsh4118/stories/internal/models"
	"github.com/stwalsh4118/stories/internal/netquality"
)

const ctaDisabled = "none"

// Options holds the editor-configured presentation settings
type Options struct {
	TopText  string
	LogoURL  string
	LogoLink string
	CTA      models.CallToAction

	// TitleDisplayTime hides the title after this many seconds; 0 never shows it
	TitleDisplayTime float64
	// CtaDisplayTime shows the CTA from this many seconds on; 0 never shows it
	CtaDisplayTime float64

	Captions       bool
	Disclaimer     bool
	DisclaimerText string
}

// FromConfig builds Options from the overlay and feature sections
func FromConfig(o config.OverlayConfig, f config.FeaturesConfig) Options {
	return Options{
		TopText:          o.TopText,
		LogoURL:          o.LogoURL,
		LogoLink:         o.LogoLink,
		CTA:              models.CallToAction{Text: o.CtaText, Link: o.CtaLink, ImageURL: o.CtaImageURL},
		TitleDisplayTime: o.TitleDisplayTime,
		CtaDisplayTime:   o.CtaDisplayTime,
		Captions:         f.Captions,
		Disclaimer:       f.Disclaimer,
		DisclaimerText:   f.DisclaimerText,
	}
}

// TopBar is the header shown above the feed
type TopBar struct {
	Text     string `json:"text,omitempty"`
	LogoURL  string `json:"logo_url,omitempty"`
	LogoLink string `json:"logo_link,omitempty"`
}

// Controls is the floating control column
type Controls struct {
	Muted          bool `json:"muted"`
	UnmuteHint     bool `json:"unmute_hint"`
	ShowNavigation bool `json:"show_navigation"`
	CanPrev        bool `json:"can_prev"`
	CanNext        bool `json:"can_next"`
}

// Layout holds bottom offsets in CSS pixels. The in-app shell draws its own
// toolbar over the bottom of the page.
type Layout struct {
	OverlayBottom      int `json:"overlay_bottom"`
	ControlsBottom     int `json:"controls_bottom"`
	SeekbarBottom      int `json:"seekbar_bottom"`
	SeekbarWidthOffset int `json:"seekbar_width_offset"`
}

var (
	browserLayout = Layout{OverlayBottom: 25, ControlsBottom: 30, SeekbarBottom: 15, SeekbarWidthOffset: 40}
	inAppLayout   = Layout{OverlayBottom: 110, ControlsBottom: 160, SeekbarBottom: 100, SeekbarWidthOffset: 110}
)

// LayoutFor returns the offsets for the platform
func LayoutFor(p netquality.Platform) Layout {
	if p.InApp {
		return inAppLayout
	}
	return browserLayout
}

// FailureView is the failure panel of an item that needs a manual retry
type FailureView struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// ItemView is everything drawn on top of one player
type ItemView struct {
	ID          string               `json:"id"`
	Index       int                  `json:"index"`
	Active      bool                 `json:"active"`
	Phase       string               `json:"phase"`
	Title       string               `json:"title,omitempty"`
	CTA         *models.CallToAction `json:"cta,omitempty"`
	TimeLabel   string               `json:"time_label"`
	SeekPercent float64              `json:"seek_percent"`
	Caption     string               `json:"caption,omitempty"`
	Disclaimer  string               `json:"disclaimer,omitempty"`
	Loading     bool                 `json:"loading"`
	Paused      bool                 `json:"paused"`
	Failure     *FailureView         `json:"failure,omitempty"`
}

// View is the full widget view model
type View struct {
	Version     uint64     `json:"version"`
	ActiveIndex int        `json:"active_index"`
	TopBar      TopBar     `json:"top_bar"`
	Controls    Controls   `json:"controls"`
	Layout      Layout     `json:"layout"`
	Items       []ItemView `json:"items"`
}

// Render derives the view model from a snapshot
func Render(snap activation.Snapshot, opts Options) View {
	v := View{
		Version:     snap.Version,
		ActiveIndex: snap.ActiveIndex,
		TopBar: TopBar{
			Text:     opts.TopText,
			LogoURL:  opts.LogoURL,
			LogoLink: opts.LogoLink,
		},
		Controls: Controls{
			Muted:          snap.Preferences.Muted,
			UnmuteHint:     snap.Preferences.UnmuteHint && snap.Preferences.Muted,
			ShowNavigation: !snap.Platform.Mobile,
			CanPrev:        snap.ActiveIndex > 0,
			CanNext:        snap.ActiveIndex >= 0 && snap.ActiveIndex < len(snap.Items)-1,
		},
		Layout: LayoutFor(snap.Platform),
		Items:  make([]ItemView, 0, len(snap.Items)),
	}

	for _, it := range snap.Items {
		v.Items = append(v.Items, renderItem(it, opts))
	}
	return v
}

func renderItem(it activation.ItemSnapshot, opts Options) ItemView {
	iv := ItemView{
		ID:          it.ID,
		Index:       it.Index,
		Active:      it.Active,
		Phase:       it.Phase.String(),
		TimeLabel:   FormatTime(it.Position) + " / " + FormatTime(it.Duration),
		SeekPercent: SeekPercent(it.Position, it.Duration),
		Paused:      it.Phase == activation.PhasePaused && it.UserPaused,
	}

	if opts.TitleDisplayTime > 0 && it.Position <= opts.TitleDisplayTime {
		iv.Title = it.Title
	}
	if cta := ctaFor(it, opts); cta != nil && opts.CtaDisplayTime > 0 && it.Position >= opts.CtaDisplayTime {
		iv.CTA = cta
	}

	if opts.Captions {
		iv.Caption = it.Caption
	}
	if opts.Disclaimer {
		iv.Disclaimer = it.Disclaimer
		if iv.Disclaimer == "" {
			iv.Disclaimer = opts.DisclaimerText
		}
	}

	switch it.Phase {
	case activation.PhaseUnregistered, activation.PhaseFetching, activation.PhaseConfigured, activation.PhaseDisposed:
		iv.Loading = true
	case activation.PhasePlaying:
		iv.Loading = it.Active && it.Buffering
	case activation.PhaseError:
		// an automatic retry is pending
		iv.Loading = it.Active
	case activation.PhaseExhausted:
		iv.Failure = &FailureView{Retryable: true}
		if it.LastError != nil {
			iv.Failure.Kind = it.LastError.Kind.String()
			iv.Failure.Message = it.LastError.Message
		}
	}

	return iv
}

// ctaFor returns the item's own CTA, falling back to the configured one
func ctaFor(it activation.ItemSnapshot, opts Options) *models.CallToAction {
	cta := opts.CTA
	if it.CTA != nil && it.CTA.Text != "" {
		cta = *it.CTA
	}
	if cta.Text == "" || cta.Text == ctaDisabled {
		return nil
	}
	return &cta
}

// FormatTime renders seconds as m:ss
func FormatTime(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		seconds = 0
	}
	total := int(math.Floor(seconds))
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// SeekPercent returns the progress bar width, 0..100
func SeekPercent(position, duration float64) float64 {
	if duration <= 0 || position <= 0 {
		return 0
	}
	return math.Min(position/duration*100, 100)
}
