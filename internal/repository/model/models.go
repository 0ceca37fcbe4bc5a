package model

import (
	"time"

	"github.com/google/uuid"
)

// Session is the GORM entity behind domain.Session. Candidate sequences are
// stored as JSONB arrays so the store can append server-side without a
// read-modify-write cycle.
type Session struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	TenantID    uuid.UUID `gorm:"type:uuid;not null;index"`
	Code        string    `gorm:"size:6;not null;uniqueIndex:idx_sessions_live_code,where:status IN ('pending','active')"`
	Status      string    `gorm:"size:16;not null;index"`
	InitiatedBy string    `gorm:"size:16;not null"`

	AdminUserID  *uuid.UUID `gorm:"type:uuid"`
	ClientUserID *uuid.UUID `gorm:"type:uuid"`

	AdminOffer   string `gorm:"type:text;not null;default:''"`
	ClientAnswer string `gorm:"type:text;not null;default:''"`

	AdminICECandidates  []byte `gorm:"type:jsonb;not null;default:'[]'"`
	ClientICECandidates []byte `gorm:"type:jsonb;not null;default:'[]'"`

	LastHeartbeatAt *time.Time
	LastHeartbeatBy string `gorm:"size:16;not null;default:''"`

	CreatedAt   time.Time `gorm:"not null"`
	ConnectedAt *time.Time
	EndedAt     *time.Time
}

func (Session) TableName() string { return "support_sessions" }
