package domain

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionStatusPending SessionStatus = "pending"
	SessionStatusActive  SessionStatus = "active"
	SessionStatusEnded   SessionStatus = "ended"
)

// Role is a behavioral assignment, not a statement about who created the
// session: client always shares the screen and creates the SDP offer, admin
// always views and creates the SDP answer.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleClient Role = "client"
)

// Counter returns the opposite role.
func (r Role) Counter() Role {
	if r == RoleAdmin {
		return RoleClient
	}
	return RoleAdmin
}

// IsSharer reports whether this role owns the capture stream and the offer.
func (r Role) IsSharer() bool { return r == RoleClient }

func (r Role) Valid() bool { return r == RoleAdmin || r == RoleClient }

// Session is the persisted support-session record shared by both parties.
// The offer/candidate fields are named by role: admin_offer is written by the
// sharer for the admin to consume, client_answer by the viewer for the client.
type Session struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Code        string
	Status      SessionStatus
	InitiatedBy Role

	AdminUserID  *uuid.UUID
	ClientUserID *uuid.UUID

	AdminOffer   string
	ClientAnswer string

	AdminCandidates  []string
	ClientCandidates []string

	LastHeartbeatAt *time.Time
	LastHeartbeatBy Role

	CreatedAt   time.Time
	ConnectedAt *time.Time
	EndedAt     *time.Time
}

// NewSession constructs a pending session with a fresh share code. Exactly one
// party column is filled at creation; the other is bound later by the claim.
func NewSession(tenantID, creator uuid.UUID, initiatedBy Role) *Session {
	s := &Session{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Code:        GenerateCode(),
		Status:      SessionStatusPending,
		InitiatedBy: initiatedBy,
		CreatedAt:   time.Now().UTC(),
	}
	if initiatedBy == RoleAdmin {
		s.AdminUserID = &creator
	} else {
		s.ClientUserID = &creator
	}
	return s
}

// Live reports whether the session still occupies its code.
func (s *Session) Live() bool {
	return s.Status == SessionStatusPending || s.Status == SessionStatusActive
}

// ClaimantRole resolves the role a second participant receives when claiming
// this session: always the counter-role of the creator.
func (s *Session) ClaimantRole() Role { return s.InitiatedBy.Counter() }

// UserID returns the participant bound to the given role, if any.
func (s *Session) UserID(role Role) *uuid.UUID {
	if role == RoleAdmin {
		return s.AdminUserID
	}
	return s.ClientUserID
}

// Candidates returns the ICE sequence owned by the given role.
func (s *Session) Candidates(role Role) []string {
	if role == RoleAdmin {
		return s.AdminCandidates
	}
	return s.ClientCandidates
}

// RoleOf returns the role a known participant plays in this session.
func (s *Session) RoleOf(userID uuid.UUID) (Role, bool) {
	if s.AdminUserID != nil && *s.AdminUserID == userID {
		return RoleAdmin, true
	}
	if s.ClientUserID != nil && *s.ClientUserID == userID {
		return RoleClient, true
	}
	return "", false
}

// Clone returns a deep copy safe to hand to feed subscribers.
func (s *Session) Clone() *Session {
	out := *s
	if s.AdminUserID != nil {
		id := *s.AdminUserID
		out.AdminUserID = &id
	}
	if s.ClientUserID != nil {
		id := *s.ClientUserID
		out.ClientUserID = &id
	}
	if s.LastHeartbeatAt != nil {
		t := *s.LastHeartbeatAt
		out.LastHeartbeatAt = &t
	}
	if s.ConnectedAt != nil {
		t := *s.ConnectedAt
		out.ConnectedAt = &t
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	out.AdminCandidates = append([]string(nil), s.AdminCandidates...)
	out.ClientCandidates = append([]string(nil), s.ClientCandidates...)
	return &out
}

const codeLength = 6

// Ambiguous characters (0/O, 1/I) are excluded so codes survive being read
// out loud over the phone.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var (
	codeRngMu sync.Mutex
	codeRng   = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// GenerateCode creates a 6-character share code. Uniqueness among live
// sessions is enforced by the store, not here.
func GenerateCode() string {
	codeRngMu.Lock()
	defer codeRngMu.Unlock()
	b := make([]byte, codeLength)
	for i := range b {
		b[i] = codeAlphabet[codeRng.Intn(len(codeAlphabet))]
	}
	return string(b)
}

// NormalizeCode folds user input to the stored form. Codes are
// case-insensitive.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidateCode checks the share-code shape before hitting the store.
func ValidateCode(code string) bool {
	if len(code) != codeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if !strings.ContainsRune(codeAlphabet+"01IO", rune(code[i])) {
			return false
		}
	}
	return true
}
