package media

import (
	"context"
	"strings"

	"github.com/pion/webrtc/v3"
)

// SurfaceKind is the kind of screen source the capture device negotiated.
type SurfaceKind string

const (
	SurfaceMonitor    SurfaceKind = "monitor"
	SurfaceWindow     SurfaceKind = "window"
	SurfaceBrowserTab SurfaceKind = "browser"
)

// SurfaceInfo describes the capture surface of the first video track.
type SurfaceInfo struct {
	Kind        SurfaceKind
	WindowTitle string
}

// Capture is one acquired screen-capture stream.
type Capture interface {
	Tracks() []webrtc.TrackLocal
	Surface() SurfaceInfo
	// TrackLive reports whether the capture track is still producing frames;
	// Muted reports the track's muted state. Both feed the pause detector.
	TrackLive() bool
	Muted() bool
	// OnEnded registers a callback invoked once when the capture track ends
	// for good (the sharer stopped it from the browser or OS chrome). Stop
	// does not fire it.
	OnEnded(fn func())
	Stop()
}

// Capturer acquires the screen stream. The actual capture device is a
// platform collaborator; tests and embedders provide implementations.
type Capturer interface {
	Start(ctx context.Context) (Capture, error)
}

// SurfaceRisk classifies a capture surface for the sharer-side validation.
type SurfaceRisk int

const (
	// SurfaceOK: entire screen or a non-browser window, proceed silently.
	SurfaceOK SurfaceRisk = iota
	// SurfaceWarn: a browser window; sharing proceeds behind a risk banner.
	SurfaceWarn
	// SurfaceBlock: a browser tab; the share must not start at all.
	SurfaceBlock
)

var browserProcessNames = []string{
	"google chrome",
	"chrome",
	"chromium",
	"firefox",
	"mozilla firefox",
	"safari",
	"microsoft edge",
	"edge",
	"opera",
	"brave",
}

// AssessSurface applies the capture-surface rules: tab capture is blocked
// outright, a browser window gets a warning, everything else passes.
func AssessSurface(info SurfaceInfo) SurfaceRisk {
	if info.Kind == SurfaceBrowserTab {
		return SurfaceBlock
	}
	if info.Kind == SurfaceWindow && titleMatchesBrowser(info.WindowTitle) {
		return SurfaceWarn
	}
	return SurfaceOK
}

func titleMatchesBrowser(title string) bool {
	t := strings.ToLower(title)
	for _, name := range browserProcessNames {
		if strings.Contains(t, name) {
			return true
		}
	}
	return false
}
