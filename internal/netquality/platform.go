package netquality

import (
	"strings"

	"github.com/mssola/useragent"
)

const (
	// MobileMaxWidth is the widest viewport still treated as mobile
	MobileMaxWidth = 768

	inAppMarker = "DNApp"
)

// Platform describes the client hosting the widget
type Platform struct {
	Mobile bool `json:"mobile"`
	// InApp is set when the widget runs inside the publisher's native app shell
	InApp bool `json:"in_app"`
}

// DetectPlatform classifies a client from its user agent and viewport width.
// A width of 0 means unknown and defers to the user agent.
func DetectPlatform(userAgent string, viewportWidth int) Platform {
	ua := useragent.New(userAgent)

	mobile := ua.Mobile()
	if viewportWidth > 0 && viewportWidth <= MobileMaxWidth {
		mobile = true
	}

	return Platform{
		Mobile: mobile,
		InApp:  strings.Contains(userAgent, inAppMarker),
	}
}
