package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/truckdesk/screenshare/internal/domain"
)

// InMemorySessionRepository backs local development and tests. A single mutex
// makes the claim and the candidate append atomic the same way the postgres
// store does with its transaction and jsonb append.
type InMemorySessionRepository struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*domain.Session
	feed     *Feed
}

func NewInMemorySessionRepository(feed *Feed) *InMemorySessionRepository {
	return &InMemorySessionRepository{
		sessions: make(map[uuid.UUID]*domain.Session),
		feed:     feed,
	}
}

func (r *InMemorySessionRepository) Create(ctx context.Context, session *domain.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if session == nil {
		return errors.New("session is nil")
	}

	r.mu.Lock()
	for _, s := range r.sessions {
		if s.Live() && s.Code == session.Code {
			r.mu.Unlock()
			return ErrCodeExists
		}
	}
	r.sessions[session.ID] = session.Clone()
	snapshot := session.Clone()
	r.mu.Unlock()

	r.feed.Publish(snapshot)
	return nil
}

func (r *InMemorySessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

func (r *InMemorySessionRepository) ListLive(ctx context.Context) ([]*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	out := make([]*domain.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.Live() {
			out = append(out, s.Clone())
		}
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *InMemorySessionRepository) ClaimByCode(ctx context.Context, code string, claimant uuid.UUID) (*domain.Session, domain.Role, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	r.mu.Lock()

	var target *domain.Session
	for _, s := range r.sessions {
		if s.Live() && s.Code == code {
			target = s
			break
		}
	}
	if target == nil {
		r.mu.Unlock()
		return nil, "", ErrCodeNotFound
	}
	if target.Status != domain.SessionStatusPending {
		r.mu.Unlock()
		return nil, "", ErrSessionClaimed
	}
	if _, isParty := target.RoleOf(claimant); isParty {
		r.mu.Unlock()
		return nil, "", ErrSelfClaim
	}

	role := target.ClaimantRole()
	if role == domain.RoleAdmin {
		target.AdminUserID = &claimant
	} else {
		target.ClientUserID = &claimant
	}
	target.Status = domain.SessionStatusActive
	snapshot := target.Clone()
	r.mu.Unlock()

	r.feed.Publish(snapshot)
	return snapshot, role, nil
}

func (r *InMemorySessionRepository) SetOffer(ctx context.Context, id uuid.UUID, sdp string) error {
	return r.mutate(ctx, id, func(s *domain.Session) { s.AdminOffer = sdp })
}

func (r *InMemorySessionRepository) SetAnswer(ctx context.Context, id uuid.UUID, sdp string) error {
	return r.mutate(ctx, id, func(s *domain.Session) { s.ClientAnswer = sdp })
}

func (r *InMemorySessionRepository) AppendCandidate(ctx context.Context, id uuid.UUID, role domain.Role, candidate string) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", role)
	}
	return r.mutate(ctx, id, func(s *domain.Session) {
		if role == domain.RoleAdmin {
			s.AdminCandidates = append(s.AdminCandidates, candidate)
		} else {
			s.ClientCandidates = append(s.ClientCandidates, candidate)
		}
	})
}

func (r *InMemorySessionRepository) ResetSignaling(ctx context.Context, id uuid.UUID) error {
	return r.mutate(ctx, id, func(s *domain.Session) {
		s.AdminOffer = ""
		s.ClientAnswer = ""
		s.AdminCandidates = nil
		s.ClientCandidates = nil
	})
}

func (r *InMemorySessionRepository) MarkConnected(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	return r.mutate(ctx, id, func(s *domain.Session) { s.ConnectedAt = &now })
}

func (r *InMemorySessionRepository) End(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	return r.mutate(ctx, id, func(s *domain.Session) {
		s.Status = domain.SessionStatusEnded
		s.EndedAt = &now
	})
}

func (r *InMemorySessionRepository) Heartbeat(ctx context.Context, id uuid.UUID, by domain.Role, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.LastHeartbeatAt = &at
	s.LastHeartbeatBy = by
	return nil
}

func (r *InMemorySessionRepository) mutate(ctx context.Context, id uuid.UUID, fn func(*domain.Session)) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	fn(s)
	snapshot := s.Clone()
	r.mu.Unlock()

	r.feed.Publish(snapshot)
	return nil
}
