package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type FormPageModel struct {
	ID         string         `gorm:"primaryKey"`
	Slug       string         `gorm:"uniqueIndex;not null"`
	Title      string         `gorm:"not null"`
	Definition datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt  time.Time      `gorm:"not null"`
	UpdatedAt  time.Time
}

// SessionSubmissionModel holds in-progress form answers. Exactly one of
// UserID / SessionToken is set; the partial unique indexes allow multiple
// NULLs while keeping at most one live submission per (page, identity).
type SessionSubmissionModel struct {
	ID             string         `gorm:"primaryKey"`
	PageID         string         `gorm:"not null;index;uniqueIndex:uniq_session_submission_page_user;uniqueIndex:uniq_session_submission_page_token"`
	UserID         *string        `gorm:"uniqueIndex:uniq_session_submission_page_user"`
	SessionToken   *string        `gorm:"uniqueIndex:uniq_session_submission_page_token"`
	FormData       datatypes.JSON `gorm:"type:jsonb;not null"`
	Status         string         `gorm:"not null"`
	SubmitTime     time.Time      `gorm:"not null"`
	LastModifiedAt time.Time      `gorm:"not null"`
}

type SubmissionModel struct {
	ID         string         `gorm:"primaryKey"`
	PageID     string         `gorm:"not null;index"`
	FormData   datatypes.JSON `gorm:"type:jsonb;not null"`
	SubmitTime time.Time      `gorm:"not null;index"`
}

type SubmissionRevisionModel struct {
	ID          string         `gorm:"primaryKey"`
	Type        string         `gorm:"not null"`
	SubjectType string         `gorm:"not null;index:idx_submission_revision_subject"`
	SubjectID   string         `gorm:"not null;index:idx_submission_revision_subject"`
	Data        datatypes.JSON `gorm:"type:jsonb;not null"`
	Summary     string         `gorm:"type:text;not null"`
	CreatedAt   time.Time      `gorm:"not null;index"`
}
