package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/truckdesk/screenshare/internal/domain"
	"github.com/truckdesk/screenshare/internal/repository/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostgresSessionRepository struct {
	db   *gorm.DB
	feed *Feed
}

func NewPostgresSessionRepository(db *gorm.DB, feed *Feed) *PostgresSessionRepository {
	return &PostgresSessionRepository{db: db, feed: feed}
}

func (r *PostgresSessionRepository) Create(ctx context.Context, session *domain.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if session == nil {
		return errors.New("session is nil")
	}

	ent, err := toModelSession(session)
	if err != nil {
		return err
	}

	if err := r.db.WithContext(ctx).Create(ent).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrCodeExists
		}
		return err
	}

	r.feed.Publish(session)
	return nil
}

func (r *PostgresSessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ent model.Session
	if err := r.db.WithContext(ctx).First(&ent, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return toDomainSession(&ent)
}

func (r *PostgresSessionRepository) ListLive(ctx context.Context) ([]*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var ents []model.Session
	err := r.db.WithContext(ctx).
		Where("status IN ?", []string{string(domain.SessionStatusPending), string(domain.SessionStatusActive)}).
		Order("created_at DESC").
		Find(&ents).Error
	if err != nil {
		return nil, err
	}

	out := make([]*domain.Session, 0, len(ents))
	for i := range ents {
		s, err := toDomainSession(&ents[i])
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// ClaimByCode runs the whole claim inside one transaction with the session
// row locked, so a second concurrent claimant blocks on the lock and then
// fails the pending-status check.
func (r *PostgresSessionRepository) ClaimByCode(ctx context.Context, code string, claimant uuid.UUID) (*domain.Session, domain.Role, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	var claimed *domain.Session
	var role domain.Role

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ent model.Session
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("code = ? AND status IN ?", code,
				[]string{string(domain.SessionStatusPending), string(domain.SessionStatusActive)}).
			First(&ent).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCodeNotFound
			}
			return err
		}

		if ent.Status != string(domain.SessionStatusPending) {
			return ErrSessionClaimed
		}
		if (ent.AdminUserID != nil && *ent.AdminUserID == claimant) ||
			(ent.ClientUserID != nil && *ent.ClientUserID == claimant) {
			return ErrSelfClaim
		}

		sess, err := toDomainSession(&ent)
		if err != nil {
			return err
		}
		role = sess.ClaimantRole()

		updates := map[string]any{"status": string(domain.SessionStatusActive)}
		if role == domain.RoleAdmin {
			updates["admin_user_id"] = claimant
		} else {
			updates["client_user_id"] = claimant
		}
		if err := tx.Model(&model.Session{}).Where("id = ?", ent.ID).Updates(updates).Error; err != nil {
			return err
		}

		sess.Status = domain.SessionStatusActive
		if role == domain.RoleAdmin {
			sess.AdminUserID = &claimant
		} else {
			sess.ClientUserID = &claimant
		}
		claimed = sess
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	r.feed.Publish(claimed)
	return claimed, role, nil
}

func (r *PostgresSessionRepository) SetOffer(ctx context.Context, id uuid.UUID, sdp string) error {
	return r.updateAndPublish(ctx, id, map[string]any{"admin_offer": sdp})
}

func (r *PostgresSessionRepository) SetAnswer(ctx context.Context, id uuid.UUID, sdp string) error {
	return r.updateAndPublish(ctx, id, map[string]any{"client_answer": sdp})
}

// AppendCandidate pushes the append into a single jsonb concatenation so two
// writers on the same role's column can never lose each other's candidates.
func (r *PostgresSessionRepository) AppendCandidate(ctx context.Context, id uuid.UUID, role domain.Role, candidate string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !role.Valid() {
		return fmt.Errorf("invalid role %q", role)
	}

	column := "client_ice_candidates"
	if role == domain.RoleAdmin {
		column = "admin_ice_candidates"
	}

	element, err := json.Marshal([]string{candidate})
	if err != nil {
		return err
	}

	res := r.db.WithContext(ctx).Model(&model.Session{}).
		Where("id = ?", id).
		Update(column, gorm.Expr(column+" || ?::jsonb", string(element)))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}

	return r.publishCurrent(ctx, id)
}

func (r *PostgresSessionRepository) ResetSignaling(ctx context.Context, id uuid.UUID) error {
	return r.updateAndPublish(ctx, id, map[string]any{
		"admin_offer":           "",
		"client_answer":         "",
		"admin_ice_candidates":  gorm.Expr("'[]'::jsonb"),
		"client_ice_candidates": gorm.Expr("'[]'::jsonb"),
	})
}

func (r *PostgresSessionRepository) MarkConnected(ctx context.Context, id uuid.UUID) error {
	return r.updateAndPublish(ctx, id, map[string]any{"connected_at": time.Now().UTC()})
}

func (r *PostgresSessionRepository) End(ctx context.Context, id uuid.UUID) error {
	return r.updateAndPublish(ctx, id, map[string]any{
		"status":   string(domain.SessionStatusEnded),
		"ended_at": time.Now().UTC(),
	})
}

func (r *PostgresSessionRepository) Heartbeat(ctx context.Context, id uuid.UUID, by domain.Role, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Heartbeats are presence only; no feed publish, subscribers do not care.
	res := r.db.WithContext(ctx).Model(&model.Session{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_heartbeat_at": at,
			"last_heartbeat_by": string(by),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *PostgresSessionRepository) updateAndPublish(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	res := r.db.WithContext(ctx).Model(&model.Session{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}

	return r.publishCurrent(ctx, id)
}

func (r *PostgresSessionRepository) publishCurrent(ctx context.Context, id uuid.UUID) error {
	sess, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	r.feed.Publish(sess)
	return nil
}

func toModelSession(s *domain.Session) (*model.Session, error) {
	adminICE, err := json.Marshal(orEmpty(s.AdminCandidates))
	if err != nil {
		return nil, err
	}
	clientICE, err := json.Marshal(orEmpty(s.ClientCandidates))
	if err != nil {
		return nil, err
	}

	return &model.Session{
		ID:                  s.ID,
		TenantID:            s.TenantID,
		Code:                s.Code,
		Status:              string(s.Status),
		InitiatedBy:         string(s.InitiatedBy),
		AdminUserID:         s.AdminUserID,
		ClientUserID:        s.ClientUserID,
		AdminOffer:          s.AdminOffer,
		ClientAnswer:        s.ClientAnswer,
		AdminICECandidates:  adminICE,
		ClientICECandidates: clientICE,
		LastHeartbeatAt:     s.LastHeartbeatAt,
		LastHeartbeatBy:     string(s.LastHeartbeatBy),
		CreatedAt:           s.CreatedAt,
		ConnectedAt:         s.ConnectedAt,
		EndedAt:             s.EndedAt,
	}, nil
}

func toDomainSession(ent *model.Session) (*domain.Session, error) {
	var adminICE, clientICE []string
	if len(ent.AdminICECandidates) > 0 {
		if err := json.Unmarshal(ent.AdminICECandidates, &adminICE); err != nil {
			return nil, err
		}
	}
	if len(ent.ClientICECandidates) > 0 {
		if err := json.Unmarshal(ent.ClientICECandidates, &clientICE); err != nil {
			return nil, err
		}
	}

	return &domain.Session{
		ID:               ent.ID,
		TenantID:         ent.TenantID,
		Code:             ent.Code,
		Status:           domain.SessionStatus(ent.Status),
		InitiatedBy:      domain.Role(ent.InitiatedBy),
		AdminUserID:      ent.AdminUserID,
		ClientUserID:     ent.ClientUserID,
		AdminOffer:       ent.AdminOffer,
		ClientAnswer:     ent.ClientAnswer,
		AdminCandidates:  adminICE,
		ClientCandidates: clientICE,
		LastHeartbeatAt:  ent.LastHeartbeatAt,
		LastHeartbeatBy:  domain.Role(ent.LastHeartbeatBy),
		CreatedAt:        ent.CreatedAt,
		ConnectedAt:      ent.ConnectedAt,
		EndedAt:          ent.EndedAt,
	}, nil
}

func orEmpty(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
