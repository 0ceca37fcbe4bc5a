package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/truckdesk/screenshare/internal/domain"
)

// SessionInteractor is what the HTTP layer needs from the session directory.
type SessionInteractor interface {
	Create(ctx context.Context, tenantID, creator uuid.UUID, initiatedBy domain.Role) (*domain.Session, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Session, error)
	ListLive(ctx context.Context) ([]*domain.Session, error)
	Claim(ctx context.Context, code string, claimant uuid.UUID) (*domain.Session, domain.Role, error)
	End(ctx context.Context, id uuid.UUID) error
	Heartbeat(ctx context.Context, id uuid.UUID, by domain.Role) error
}
