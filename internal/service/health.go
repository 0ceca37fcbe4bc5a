package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/truckdesk/screenshare/internal/media"
)

const (
	defaultHealthInterval = time.Second
	// Two consecutive bad capture ticks mark the share frozen (~2s).
	sharerFreezeTicks = 2
	// Three consecutive non-advancing playback ticks mark the viewer frozen.
	viewerStallTicks = 3
	// Freeze events before the viewer may request a re-share.
	reshareUnlockThreshold = 3
	// Minimum per-tick playback progress counted as forward motion.
	progressEpsilon = 0.001
)

// Playback is the viewer-side video element the stall detector polls.
type Playback interface {
	Position() float64
	Paused() bool
	Buffered() bool
}

// HealthMonitor runs the two freeze heuristics. Ticks are exported so tests
// drive them directly; Run drives them from a wall clock.
type HealthMonitor struct {
	log      *slog.Logger
	interval time.Duration

	mu sync.Mutex

	capture    media.Capture
	badTicks   int
	trackMuted bool
	frozen     bool

	playback     Playback
	lastPos      float64
	missTicks    int
	viewerFrozen bool
	freezeEvents int
}

func NewHealthMonitor(interval time.Duration, log *slog.Logger) *HealthMonitor {
	if interval <= 0 {
		interval = defaultHealthInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &HealthMonitor{log: log, interval: interval}
}

// WatchCapture points the pause detector at the sharer's live capture.
// Passing nil stops the detector.
func (m *HealthMonitor) WatchCapture(c media.Capture) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.capture = c
	m.badTicks = 0
	if c == nil {
		m.frozen = false
	}
}

// WatchPlayback points the stall detector at the viewer's playback surface.
func (m *HealthMonitor) WatchPlayback(p Playback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playback = p
	m.missTicks = 0
	m.lastPos = 0
}

// SetTrackMuted mirrors the native mute/unmute track events, which toggle the
// frozen flag immediately, independent of the tick heuristic.
func (m *HealthMonitor) SetTrackMuted(muted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trackMuted = muted
	m.frozen = muted
	if !muted {
		m.badTicks = 0
	}
}

// TickSharer polls the capture track once. Two consecutive bad ticks set the
// frozen flag; a single good tick clears it.
func (m *HealthMonitor) TickSharer() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.capture == nil {
		return
	}

	if m.capture.Muted() || !m.capture.TrackLive() {
		m.badTicks++
		if m.badTicks >= sharerFreezeTicks && !m.frozen {
			m.frozen = true
			m.log.Warn("sharing appears frozen")
		}
		return
	}

	m.badTicks = 0
	if m.frozen && !m.trackMuted {
		m.frozen = false
		m.log.Info("sharing resumed")
	}
}

// TickViewer compares playback position against the previous tick. Ticks are
// skipped while paused or unbuffered. Three consecutive misses after playback
// has actually started set the frozen flag and count one freeze event.
func (m *HealthMonitor) TickViewer() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.playback == nil || m.playback.Paused() || !m.playback.Buffered() {
		return
	}

	pos := m.playback.Position()
	delta := pos - m.lastPos

	if delta < progressEpsilon {
		if m.lastPos > 0 {
			m.missTicks++
			if m.missTicks >= viewerStallTicks && !m.viewerFrozen {
				m.viewerFrozen = true
				m.freezeEvents++
				m.log.Warn("viewer playback stalled", slog.Int("freeze_events", m.freezeEvents))
			}
		}
		return
	}

	m.missTicks = 0
	m.viewerFrozen = false
	m.lastPos = pos
}

func (m *HealthMonitor) SharingFrozen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frozen
}

func (m *HealthMonitor) ViewerFrozen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewerFrozen
}

func (m *HealthMonitor) FreezeEvents() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.freezeEvents
}

// CanRequestReshare unlocks the viewer's re-share affordance once enough
// freeze events accumulated. Deliberate hysteresis: one transient stall must
// not trigger a disruptive support action.
func (m *HealthMonitor) CanRequestReshare() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.freezeEvents >= reshareUnlockThreshold
}

// Reset clears every flag and counter, used across a re-share.
func (m *HealthMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.badTicks = 0
	m.frozen = false
	m.trackMuted = false
	m.missTicks = 0
	m.viewerFrozen = false
	m.lastPos = 0
}

// Run polls both detectors until the context ends.
func (m *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.TickSharer()
			m.TickViewer()
		}
	}
}
