package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/truckdesk/screenshare/internal/domain"
	"github.com/truckdesk/screenshare/internal/repository"
	"github.com/truckdesk/screenshare/lib/logger/sl"
)

const defaultHeartbeatInterval = 15 * time.Second

// HeartbeatWriter refreshes the session's liveness fields on a fixed
// interval. Presence only: staleness policy lives in an external sweep.
type HeartbeatWriter struct {
	sessions  repository.SessionRepository
	sessionID uuid.UUID
	by        domain.Role
	interval  time.Duration
	log       *slog.Logger
	now       func() time.Time
}

func NewHeartbeatWriter(sessions repository.SessionRepository, sessionID uuid.UUID, by domain.Role, interval time.Duration, log *slog.Logger) *HeartbeatWriter {
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &HeartbeatWriter{
		sessions:  sessions,
		sessionID: sessionID,
		by:        by,
		interval:  interval,
		log:       log.With(slog.String("session_id", sessionID.String())),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run writes one heartbeat immediately, then on every interval until the
// context ends. Write failures are best-effort and only logged.
func (w *HeartbeatWriter) Run(ctx context.Context) {
	w.write(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.write(ctx)
		}
	}
}

func (w *HeartbeatWriter) write(ctx context.Context) {
	if err := w.sessions.Heartbeat(ctx, w.sessionID, w.by, w.now()); err != nil {
		w.log.Debug("heartbeat write failed", sl.Err(err))
	}
}
