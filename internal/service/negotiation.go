package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/truckdesk/screenshare/internal/domain"
	"github.com/truckdesk/screenshare/internal/media"
	"github.com/truckdesk/screenshare/internal/repository"
	"github.com/truckdesk/screenshare/lib/logger/sl"
)

// ErrSurfaceBlocked is the designed rejection for tab capture. The message is
// the remediation shown to the sharer.
var ErrSurfaceBlocked = errors.New("sharing a browser tab is not supported; re-share and pick Entire Screen")

type NegotiationState int

const (
	StateIdle NegotiationState = iota
	StateOffering
	StateAnswering
	StateConnected
	StateTornDown
)

func (s NegotiationState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOffering:
		return "offering"
	case StateAnswering:
		return "answering"
	case StateConnected:
		return "connected"
	case StateTornDown:
		return "torn-down"
	default:
		return "unknown"
	}
}

var negotiationTransitions = map[NegotiationState][]NegotiationState{
	StateIdle:      {StateOffering, StateAnswering, StateTornDown},
	StateOffering:  {StateConnected, StateIdle, StateTornDown},
	StateAnswering: {StateConnected, StateIdle, StateTornDown},
	StateConnected: {StateIdle, StateTornDown},
	StateTornDown:  {},
}

// NegotiationEngine owns the local peer connection for one session instance.
// The role is fixed at construction: client shares and offers, admin views
// and answers. Change-feed snapshots arrive through HandleSessionUpdate,
// serialized by the signaling channel; the internal mutex only shields state
// from peer-connection callbacks, which fire on transport goroutines.
type NegotiationEngine struct {
	sessionID uuid.UUID
	role      domain.Role
	sessions  repository.SessionRepository
	newPeer   media.PeerFactory
	capturer  media.Capturer
	log       *slog.Logger

	mu              sync.Mutex
	state           NegotiationState
	pc              media.PeerConnection
	capture         media.Capture
	answerCreated   bool
	remoteSet       bool
	hasRemoteStream bool
	surfaceWarning  bool
	seen            map[string]struct{}
	pending         []webrtc.ICECandidateInit
}

func NewNegotiationEngine(
	sessionID uuid.UUID,
	role domain.Role,
	sessions repository.SessionRepository,
	newPeer media.PeerFactory,
	capturer media.Capturer,
	log *slog.Logger,
) *NegotiationEngine {
	if log == nil {
		log = slog.Default()
	}
	return &NegotiationEngine{
		sessionID: sessionID,
		role:      role,
		sessions:  sessions,
		newPeer:   newPeer,
		capturer:  capturer,
		log: log.With(
			slog.String("session_id", sessionID.String()),
			slog.String("role", string(role)),
		),
		state: StateIdle,
		seen:  make(map[string]struct{}),
	}
}

func (e *NegotiationEngine) Role() domain.Role { return e.role }

func (e *NegotiationEngine) State() NegotiationState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SurfaceWarning reports whether the current share runs behind the
// browser-window risk banner.
func (e *NegotiationEngine) SurfaceWarning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.surfaceWarning
}

// HasRemoteStream reports whether the viewer has received the shared track.
func (e *NegotiationEngine) HasRemoteStream() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasRemoteStream
}

// CaptureStatus exposes the live capture for the health monitor's pause
// detector. Nil while not sharing.
func (e *NegotiationEngine) CaptureStatus() media.Capture {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.capture
}

// StartSharing runs the sharer path: acquire capture, validate the surface,
// attach tracks, create the offer and persist it.
func (e *NegotiationEngine) StartSharing(ctx context.Context) error {
	if !e.role.IsSharer() {
		return fmt.Errorf("role %s cannot share", e.role)
	}

	capture, err := e.capturer.Start(ctx)
	if err != nil {
		return fmt.Errorf("acquire capture: %w", err)
	}

	switch media.AssessSurface(capture.Surface()) {
	case media.SurfaceBlock:
		// Hard block: tear down everything half-built and null the signaling
		// fields so a stale viewer never resumes against a dead offer.
		capture.Stop()
		e.mu.Lock()
		if e.pc != nil {
			_ = e.pc.Close()
			e.pc = nil
		}
		e.mu.Unlock()
		if err := e.sessions.ResetSignaling(ctx, e.sessionID); err != nil {
			e.log.Error("failed to reset signaling after blocked surface", sl.Err(err))
		}
		return ErrSurfaceBlocked
	case media.SurfaceWarn:
		e.mu.Lock()
		e.surfaceWarning = true
		e.mu.Unlock()
		e.log.Warn("capturing a browser window", slog.String("title", capture.Surface().WindowTitle))
	}

	pc, err := e.newPeer()
	if err != nil {
		capture.Stop()
		return fmt.Errorf("create peer connection: %w", err)
	}
	e.wireCallbacks(pc)

	for _, track := range capture.Tracks() {
		if err := pc.AddTrack(track); err != nil {
			capture.Stop()
			_ = pc.Close()
			return fmt.Errorf("add track: %w", err)
		}
	}

	offer, err := pc.CreateOffer()
	if err != nil {
		capture.Stop()
		_ = pc.Close()
		return fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		capture.Stop()
		_ = pc.Close()
		return fmt.Errorf("set local description: %w", err)
	}

	// Install the connection before the offer hits the store: the answer can
	// come back through the feed the moment the offer is visible.
	e.mu.Lock()
	e.capture = capture
	e.pc = pc
	e.transitionLocked(StateOffering)
	e.mu.Unlock()

	capture.OnEnded(func() { e.handleCaptureEnded(capture) })

	if err := e.sessions.SetOffer(ctx, e.sessionID, offer.SDP); err != nil {
		e.mu.Lock()
		e.capture = nil
		e.pc = nil
		e.transitionLocked(StateIdle)
		e.mu.Unlock()
		capture.Stop()
		_ = pc.Close()
		return fmt.Errorf("persist offer: %w", err)
	}

	e.log.Info("offer persisted")
	return nil
}

// HandleSessionUpdate processes one change-feed snapshot. It is idempotent:
// redelivered snapshots never produce a second answer and never re-apply a
// candidate.
func (e *NegotiationEngine) HandleSessionUpdate(ctx context.Context, sess *domain.Session) error {
	if sess == nil || sess.ID != e.sessionID {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == StateTornDown {
		return nil
	}

	if sess.Status == domain.SessionStatusEnded {
		e.teardownLocked()
		return nil
	}

	if e.role == domain.RoleAdmin {
		if err := e.handleViewerUpdateLocked(ctx, sess); err != nil {
			return err
		}
	} else if sess.ClientAnswer != "" && !e.remoteSet && e.pc != nil {
		answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sess.ClientAnswer}
		if err := e.pc.SetRemoteDescription(answer); err != nil {
			return fmt.Errorf("apply answer: %w", err)
		}
		e.remoteSet = true
		e.flushPendingLocked()
		e.log.Info("answer applied")
	}

	e.ingestCandidatesLocked(sess)
	return nil
}

func (e *NegotiationEngine) handleViewerUpdateLocked(ctx context.Context, sess *domain.Session) error {
	// The sharer reset the signaling fields. No dedicated message exists; the
	// empty offer is the teardown signal, so drop the old peer connection and
	// the guards and wait for the fresh offer. Candidates buffered before any
	// offer arrived belong to the dead generation too and must not leak into
	// the next one.
	if sess.AdminOffer == "" {
		if e.answerCreated || e.remoteSet || e.pc != nil || len(e.pending) > 0 || len(e.seen) > 0 {
			e.resetNegotiationLocked()
			e.log.Info("offer cleared by sharer, viewer reset")
		}
		return nil
	}

	if e.answerCreated {
		return nil
	}
	e.answerCreated = true

	if e.pc == nil {
		pc, err := e.newPeer()
		if err != nil {
			e.answerCreated = false
			return fmt.Errorf("create peer connection: %w", err)
		}
		e.wireCallbacks(pc)
		e.pc = pc
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sess.AdminOffer}
	if err := e.pc.SetRemoteDescription(offer); err != nil {
		e.answerCreated = false
		return fmt.Errorf("apply offer: %w", err)
	}
	e.remoteSet = true
	e.flushPendingLocked()

	answer, err := e.pc.CreateAnswer()
	if err != nil {
		e.answerCreated = false
		return fmt.Errorf("create answer: %w", err)
	}
	if err := e.pc.SetLocalDescription(answer); err != nil {
		e.answerCreated = false
		return fmt.Errorf("set local description: %w", err)
	}
	if err := e.sessions.SetAnswer(ctx, e.sessionID, answer.SDP); err != nil {
		e.answerCreated = false
		return fmt.Errorf("persist answer: %w", err)
	}

	e.transitionLocked(StateAnswering)
	e.log.Info("answer persisted")
	return nil
}

// ingestCandidatesLocked walks the counter-role's full candidate sequence.
// The feed redelivers the whole array on every update; the dedup set keeps
// each candidate applied at most once, in original order.
func (e *NegotiationEngine) ingestCandidatesLocked(sess *domain.Session) {
	for _, raw := range sess.Candidates(e.role.Counter()) {
		if _, ok := e.seen[raw]; ok {
			continue
		}
		e.seen[raw] = struct{}{}

		candidate, err := domain.DecodeCandidate(raw)
		if err != nil {
			e.log.Warn("dropping malformed candidate", sl.Err(err))
			continue
		}

		if e.remoteSet && e.pc != nil {
			if err := e.pc.AddICECandidate(candidate); err != nil {
				e.log.Warn("failed to apply candidate", sl.Err(err))
			}
			continue
		}
		e.pending = append(e.pending, candidate)
	}
}

func (e *NegotiationEngine) flushPendingLocked() {
	for _, candidate := range e.pending {
		if err := e.pc.AddICECandidate(candidate); err != nil {
			e.log.Warn("failed to apply queued candidate", sl.Err(err))
		}
	}
	e.pending = nil
}

func (e *NegotiationEngine) wireCallbacks(pc media.PeerConnection) {
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		raw, err := domain.EncodeCandidate(c.ToJSON())
		if err != nil {
			e.log.Warn("failed to encode local candidate", sl.Err(err))
			return
		}
		// Own-role sequence only, via the store's atomic append.
		if err := e.sessions.AppendCandidate(context.Background(), e.sessionID, e.role, raw); err != nil {
			e.log.Warn("failed to append local candidate", sl.Err(err))
		}
	})

	pc.OnTrack(func() {
		e.mu.Lock()
		e.hasRemoteStream = true
		e.mu.Unlock()
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state != webrtc.PeerConnectionStateConnected {
			return
		}
		e.mu.Lock()
		moved := e.transitionLocked(StateConnected)
		e.mu.Unlock()
		if moved {
			if err := e.sessions.MarkConnected(context.Background(), e.sessionID); err != nil {
				e.log.Warn("failed to mark connected", sl.Err(err))
			}
			e.log.Info("peer connection established")
		}
	})
}

// handleCaptureEnded ends the session when the live capture's track ends.
// A callback from a capture already replaced by a re-share is stale and
// ignored.
func (e *NegotiationEngine) handleCaptureEnded(capture media.Capture) {
	e.mu.Lock()
	current := e.capture == capture && e.state != StateTornDown
	e.mu.Unlock()
	if !current {
		return
	}

	e.log.Info("capture track ended, ending session")
	if err := e.sessions.End(context.Background(), e.sessionID); err != nil {
		e.log.Warn("failed to end session after track end", sl.Err(err))
	}
}

// ResetForReshare clears every local guard and resource so the sharer path
// can restart from capture acquisition. Store-side reset is the recovery
// controller's job.
func (e *NegotiationEngine) ResetForReshare() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetNegotiationLocked()
	e.surfaceWarning = false
}

func (e *NegotiationEngine) resetNegotiationLocked() {
	if e.capture != nil {
		e.capture.Stop()
		e.capture = nil
	}
	if e.pc != nil {
		_ = e.pc.Close()
		e.pc = nil
	}
	e.answerCreated = false
	e.remoteSet = false
	e.hasRemoteStream = false
	e.seen = make(map[string]struct{})
	e.pending = nil
	e.transitionLocked(StateIdle)
}

// Teardown releases everything; the engine is dead afterwards.
func (e *NegotiationEngine) Teardown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.teardownLocked()
}

func (e *NegotiationEngine) teardownLocked() {
	if e.capture != nil {
		e.capture.Stop()
		e.capture = nil
	}
	if e.pc != nil {
		_ = e.pc.Close()
		e.pc = nil
	}
	e.pending = nil
	e.seen = make(map[string]struct{})
	e.state = StateTornDown
}

func (e *NegotiationEngine) transitionLocked(to NegotiationState) bool {
	for _, allowed := range negotiationTransitions[e.state] {
		if allowed == to {
			e.state = to
			return true
		}
	}
	if e.state != to {
		e.log.Debug("rejected state transition",
			slog.String("from", e.state.String()),
			slog.String("to", to.String()))
	}
	return false
}
