package models

import (
	"time"
)

type DraftStatus string

const (
	DraftPending   DraftStatus = "pending"
	DraftApprovedA DraftStatus = "approved_a"
	DraftApprovedB DraftStatus = "approved_b"
	DraftEdited    DraftStatus = "edited"
	DraftSkipped   DraftStatus = "skipped"
	DraftPosted    DraftStatus = "posted"
	DraftFailed    DraftStatus = "failed"
	DraftExpired   DraftStatus = "expired"
)

// Approved reports whether the draft is waiting for the poster.
func (s DraftStatus) Approved() bool {
	return s == DraftApprovedA || s == DraftApprovedB || s == DraftEdited
}

// Terminal reports whether no further transition is possible.
func (s DraftStatus) Terminal() bool {
	switch s {
	case DraftSkipped, DraftPosted, DraftFailed, DraftExpired:
		return true
	}
	return false
}

// Draft holds the two candidate replies generated for a post and tracks their approval.
//
// A post gets at most one draft over its lifetime, whatever that draft's outcome; the unique
// post_id index enforces it. ActivePostID mirrors PostID while the draft is not terminal and is
// NULL afterwards.
type Draft struct {
	ID           string      `gorm:"primaryKey;size:36" json:"id"`
	PostID       string      `gorm:"size:64;not null;uniqueIndex:idx_drafts_post_once" json:"post_id"`
	RunID        string      `gorm:"size:36;index" json:"run_id"`
	TextA        string      `gorm:"type:text;not null" json:"text_a"`
	TextB        string      `gorm:"type:text;not null" json:"text_b"`
	EditedText   string      `gorm:"type:text" json:"edited_text"`
	Status       DraftStatus `gorm:"size:20;not null;index" json:"status"`
	Score        float64     `gorm:"default:0" json:"score"`
	ActivePostID *string     `gorm:"size:64;uniqueIndex" json:"-"`
	GeneratedAt  time.Time   `gorm:"not null" json:"generated_at"`
	DispatchedAt *time.Time  `json:"dispatched_at"`
	DecidedAt    *time.Time  `json:"decided_at"`
	ClosedAt     *time.Time  `json:"closed_at"`
	CreatedAt    time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time   `gorm:"autoUpdateTime" json:"updated_at"`

	Post *Post `gorm:"foreignKey:PostID" json:"post,omitempty"`
}

// ApprovedText returns the text the approver picked, or "" when the draft is not approved.
func (d *Draft) ApprovedText() string {
	switch d.Status {
	case DraftApprovedA:
		return d.TextA
	case DraftApprovedB:
		return d.TextB
	case DraftEdited:
		return d.EditedText
	}
	return ""
}

// ApprovalEvent records the single decision applied to a draft.
type ApprovalEvent struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	DraftID    string    `gorm:"size:36;not null;uniqueIndex" json:"draft_id"`
	Decision   string    `gorm:"size:20;not null" json:"decision"`
	EditedText string    `gorm:"type:text" json:"edited_text"`
	Source     string    `gorm:"size:20" json:"source"` // telegram, api
	ArrivedAt  time.Time `gorm:"not null" json:"arrived_at"`
}

// PostResult is the outcome of publishing an approved draft.
type PostResult struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	DraftID        string    `gorm:"size:36;not null;uniqueIndex" json:"draft_id"`
	Success        bool      `gorm:"not null" json:"success"`
	PlatformPostID string    `gorm:"size:64" json:"platform_post_id"`
	PublishedText  string    `gorm:"type:text" json:"published_text"`
	ErrorCategory  string    `gorm:"size:50" json:"error_category"`
	ErrorMessage   string    `gorm:"type:text" json:"error_message"`
	Attempts       int       `gorm:"default:0" json:"attempts"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
}
