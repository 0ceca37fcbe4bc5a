package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/truckdesk/screenshare/internal/repository"
)

// RecoveryController runs the sharer-triggered re-share: local teardown,
// atomic store-side signaling reset, then a fresh sharer path. The session
// identity survives; the viewer reacts to the emptied-then-refilled offer
// through its own idempotent engine logic.
type RecoveryController struct {
	sessions repository.SessionRepository
	engine   *NegotiationEngine
	monitor  *HealthMonitor
	log      *slog.Logger
}

func NewRecoveryController(sessions repository.SessionRepository, engine *NegotiationEngine, monitor *HealthMonitor, log *slog.Logger) *RecoveryController {
	if log == nil {
		log = slog.Default()
	}
	return &RecoveryController{
		sessions: sessions,
		engine:   engine,
		monitor:  monitor,
		log:      log,
	}
}

// Reshare tears down and restarts the share. The store reset is the
// synchronization point: if it fails the re-share is aborted with the error
// surfaced, never silently retried against inconsistent signaling state.
func (r *RecoveryController) Reshare(ctx context.Context) error {
	r.engine.ResetForReshare()
	if r.monitor != nil {
		r.monitor.WatchCapture(nil)
		r.monitor.Reset()
	}

	if err := r.sessions.ResetSignaling(ctx, r.engine.sessionID); err != nil {
		return fmt.Errorf("reset signaling state: %w", err)
	}

	if err := r.engine.StartSharing(ctx); err != nil {
		return err
	}

	if r.monitor != nil {
		r.monitor.WatchCapture(r.engine.CaptureStatus())
	}
	r.log.Info("re-share completed", slog.String("session_id", r.engine.sessionID.String()))
	return nil
}
