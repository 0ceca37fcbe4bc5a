package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/truckdesk/screenshare/internal/domain"
	"github.com/truckdesk/screenshare/internal/repository"
	"github.com/truckdesk/screenshare/lib/logger/sl"
)

// SignalingChannel binds one session's change-feed subscription to a
// negotiation engine. Dispatch is a single goroutine: each snapshot is
// handled to completion before the next, so the engine needs no ordering
// logic of its own.
type SignalingChannel struct {
	sessionID uuid.UUID
	engine    *NegotiationEngine
	log       *slog.Logger

	events <-chan domain.SessionEvent
	cancel func()
	done   chan struct{}
}

func NewSignalingChannel(feed *repository.Feed, sessionID uuid.UUID, engine *NegotiationEngine, log *slog.Logger) *SignalingChannel {
	if log == nil {
		log = slog.Default()
	}
	events, cancel := feed.SubscribeSession(sessionID)
	return &SignalingChannel{
		sessionID: sessionID,
		engine:    engine,
		log:       log.With(slog.String("session_id", sessionID.String())),
		events:    events,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Run dispatches snapshots until the context ends or the channel is closed.
func (c *SignalingChannel) Run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-c.events:
			if !ok {
				return
			}
			if err := c.engine.HandleSessionUpdate(ctx, ev.Session); err != nil {
				// Negotiation errors are retried by the next snapshot; the
				// engine has already reset its guards.
				c.log.Warn("failed to handle session update", sl.Err(err))
			}
		}
	}
}

// Close cancels the subscription and waits for the dispatch loop to drain.
func (c *SignalingChannel) Close() {
	c.cancel()
	<-c.done
}
