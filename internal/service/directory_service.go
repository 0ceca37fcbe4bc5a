package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/truckdesk/screenshare/internal/domain"
	"github.com/truckdesk/screenshare/internal/repository"
)

var ErrInvalidCode = errors.New("invalid share code")

// DirectoryService lists and creates support sessions and runs the claim
// protocol. The live feed keeps both the session list and the creator's
// auto-entry current.
type DirectoryService struct {
	sessions repository.SessionRepository
	feed     *repository.Feed
	log      *slog.Logger
}

func NewDirectoryService(sessions repository.SessionRepository, feed *repository.Feed, log *slog.Logger) *DirectoryService {
	if log == nil {
		log = slog.Default()
	}
	return &DirectoryService{sessions: sessions, feed: feed, log: log}
}

// Create builds a pending session with a fresh code, retrying on the rare
// collision with another live session's code.
func (s *DirectoryService) Create(ctx context.Context, tenantID, creator uuid.UUID, initiatedBy domain.Role) (*domain.Session, error) {
	if creator == uuid.Nil {
		return nil, errors.New("creator is required")
	}
	if !initiatedBy.Valid() {
		return nil, fmt.Errorf("invalid role %q", initiatedBy)
	}

	for {
		sess := domain.NewSession(tenantID, creator, initiatedBy)
		if err := s.sessions.Create(ctx, sess); err != nil {
			if errors.Is(err, repository.ErrCodeExists) {
				continue
			}
			return nil, err
		}
		s.log.Info("session created",
			slog.String("session_id", sess.ID.String()),
			slog.String("code", sess.Code),
			slog.String("initiated_by", string(initiatedBy)))
		return sess, nil
	}
}

func (s *DirectoryService) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	return s.sessions.GetByID(ctx, id)
}

func (s *DirectoryService) ListLive(ctx context.Context) ([]*domain.Session, error) {
	return s.sessions.ListLive(ctx)
}

// Claim turns a human-entered code into an atomic role assignment. Codes are
// case-insensitive; every failure is terminal for the attempt and leaves the
// session untouched.
func (s *DirectoryService) Claim(ctx context.Context, code string, claimant uuid.UUID) (*domain.Session, domain.Role, error) {
	normalized := domain.NormalizeCode(code)
	if !domain.ValidateCode(normalized) {
		return nil, "", ErrInvalidCode
	}

	sess, role, err := s.sessions.ClaimByCode(ctx, normalized, claimant)
	if err != nil {
		return nil, "", err
	}

	s.log.Info("session claimed",
		slog.String("session_id", sess.ID.String()),
		slog.String("claimant_role", string(role)))
	return sess, role, nil
}

func (s *DirectoryService) End(ctx context.Context, id uuid.UUID) error {
	return s.sessions.End(ctx, id)
}

func (s *DirectoryService) Heartbeat(ctx context.Context, id uuid.UUID, by domain.Role) error {
	return s.sessions.Heartbeat(ctx, id, by, time.Now().UTC())
}

// WatchOwned observes the live feed for sessions owned by ownerID. When one
// of them turns active because the other side claimed the code, the owner is
// auto-promoted into their fixed role without a second claim; onActive fires
// with the owner's resolved role (viewer entry when the role is admin).
// Blocks until ctx ends.
func (s *DirectoryService) WatchOwned(ctx context.Context, ownerID uuid.UUID, onActive func(sess *domain.Session, role domain.Role)) {
	events, cancel := s.feed.SubscribeLive()
	defer cancel()

	w := newOwnedWatcher(ownerID)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if role, fire := w.observe(ev.Session); fire {
				onActive(ev.Session, role)
			}
		}
	}
}

// ownedWatcher remembers which owned sessions already fired their activation
// callback. Entries for sessions that left the live set are pruned so a
// long-lived watcher does not accumulate dead ids.
type ownedWatcher struct {
	ownerID  uuid.UUID
	notified map[uuid.UUID]struct{}
}

func newOwnedWatcher(ownerID uuid.UUID) *ownedWatcher {
	return &ownedWatcher{ownerID: ownerID, notified: make(map[uuid.UUID]struct{})}
}

func (w *ownedWatcher) observe(sess *domain.Session) (domain.Role, bool) {
	if !sess.Live() {
		delete(w.notified, sess.ID)
		return "", false
	}
	if sess.Status != domain.SessionStatusActive {
		return "", false
	}
	role, isParty := sess.RoleOf(w.ownerID)
	if !isParty || role != sess.InitiatedBy {
		return "", false
	}
	if _, done := w.notified[sess.ID]; done {
		return "", false
	}
	w.notified[sess.ID] = struct{}{}
	return role, true
}
