package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/truckdesk/screenshare/internal/domain"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrCodeNotFound    = errors.New("no pending session with that code")
	ErrSessionNotLive  = errors.New("session is no longer live")
	ErrSessionClaimed  = errors.New("session already claimed")
	ErrSelfClaim       = errors.New("cannot claim your own session")
	ErrCodeExists      = errors.New("share code already in use")
)

// SessionRepository is the persisted session store plus its two atomic
// server-side procedures (claim-by-code and candidate append). Every mutation
// publishes a fresh snapshot on the change feed.
type SessionRepository interface {
	Create(ctx context.Context, session *domain.Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Session, error)
	ListLive(ctx context.Context) ([]*domain.Session, error)

	// ClaimByCode atomically binds claimant to the pending session with the
	// given (normalized) code, activates it and returns the claimant's role.
	// Two concurrent claims of one code cannot both succeed.
	ClaimByCode(ctx context.Context, code string, claimant uuid.UUID) (*domain.Session, domain.Role, error)

	SetOffer(ctx context.Context, id uuid.UUID, sdp string) error
	SetAnswer(ctx context.Context, id uuid.UUID, sdp string) error

	// AppendCandidate appends to the given role's candidate sequence as a
	// single store-side operation; read-modify-write is forbidden here.
	AppendCandidate(ctx context.Context, id uuid.UUID, role domain.Role, candidate string) error

	// ResetSignaling clears offer, answer and both candidate sequences in one
	// atomic multi-field write. Session identity and status are untouched.
	ResetSignaling(ctx context.Context, id uuid.UUID) error

	MarkConnected(ctx context.Context, id uuid.UUID) error
	End(ctx context.Context, id uuid.UUID) error
	Heartbeat(ctx context.Context, id uuid.UUID, by domain.Role, at time.Time) error
}
