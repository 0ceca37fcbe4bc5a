package converter

import (
	"time"

	"github.com/google/uuid"
	"github.com/truckdesk/screenshare/internal/domain"
)

type SessionResponse struct {
	ID              uuid.UUID            `json:"id"`
	TenantID        uuid.UUID            `json:"tenant_id"`
	Code            string               `json:"code"`
	Status          domain.SessionStatus `json:"status"`
	InitiatedBy     domain.Role          `json:"initiated_by"`
	AdminUserID     *uuid.UUID           `json:"admin_user_id,omitempty"`
	ClientUserID    *uuid.UUID           `json:"client_user_id,omitempty"`
	HasOffer        bool                 `json:"has_offer"`
	HasAnswer       bool                 `json:"has_answer"`
	LastHeartbeatAt *time.Time           `json:"last_heartbeat_at,omitempty"`
	LastHeartbeatBy domain.Role          `json:"last_heartbeat_by,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
	ConnectedAt     *time.Time           `json:"connected_at,omitempty"`
	EndedAt         *time.Time           `json:"ended_at,omitempty"`
}

// FeedEvent is one change-feed delivery pushed over the session websocket.
// The SDP blobs and candidate arrays ride along in full; the feed redelivers
// entire arrays, consumers dedup.
type FeedEvent struct {
	Session          *SessionResponse `json:"session"`
	AdminOffer       string           `json:"admin_offer"`
	ClientAnswer     string           `json:"client_answer"`
	AdminCandidates  []string         `json:"admin_ice_candidates"`
	ClientCandidates []string         `json:"client_ice_candidates"`
}

func SessionToApi(s *domain.Session) *SessionResponse {
	return &SessionResponse{
		ID:              s.ID,
		TenantID:        s.TenantID,
		Code:            s.Code,
		Status:          s.Status,
		InitiatedBy:     s.InitiatedBy,
		AdminUserID:     s.AdminUserID,
		ClientUserID:    s.ClientUserID,
		HasOffer:        s.AdminOffer != "",
		HasAnswer:       s.ClientAnswer != "",
		LastHeartbeatAt: s.LastHeartbeatAt,
		LastHeartbeatBy: s.LastHeartbeatBy,
		CreatedAt:       s.CreatedAt,
		ConnectedAt:     s.ConnectedAt,
		EndedAt:         s.EndedAt,
	}
}

func SessionToFeedEvent(s *domain.Session) *FeedEvent {
	return &FeedEvent{
		Session:          SessionToApi(s),
		AdminOffer:       s.AdminOffer,
		ClientAnswer:     s.ClientAnswer,
		AdminCandidates:  s.AdminCandidates,
		ClientCandidates: s.ClientCandidates,
	}
}
