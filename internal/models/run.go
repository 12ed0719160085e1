package models

import (
	"time"
)

const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunCancelled = "cancelled"
	RunFailed    = "failed"
)

// Run is one orchestrator invocation and its counters.
type Run struct {
	ID                 string     `gorm:"primaryKey;size:36" json:"id"`
	Holder             string     `gorm:"size:200" json:"holder"`
	Status             string     `gorm:"size:20;not null;index" json:"status"`
	StartedAt          time.Time  `gorm:"not null;index" json:"started_at"`
	FinishedAt         *time.Time `json:"finished_at"`
	Queries            int        `gorm:"default:0" json:"queries"`
	FeedFailures       int        `gorm:"default:0" json:"feed_failures"`
	Fetched            int        `gorm:"default:0" json:"fetched"`
	UniquePosts        int        `gorm:"default:0" json:"unique_posts"`
	Selected           int        `gorm:"default:0" json:"selected"`
	Submitted          int        `gorm:"default:0" json:"submitted"`
	GenerationFailures int        `gorm:"default:0" json:"generation_failures"`
	DispatchFailures   int        `gorm:"default:0" json:"dispatch_failures"`
	AlreadyDrafted     int        `gorm:"default:0" json:"already_drafted"`
	Error              string     `gorm:"type:text" json:"error"`
}

// RunLock keeps two orchestrators from running at the same time.
type RunLock struct {
	Name       string    `gorm:"primaryKey;size:50" json:"name"`
	Holder     string    `gorm:"size:200;not null" json:"holder"`
	RunID      string    `gorm:"size:36" json:"run_id"`
	AcquiredAt time.Time `gorm:"not null" json:"acquired_at"`
	ExpiresAt  time.Time `gorm:"not null" json:"expires_at"`
}

const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// WatchedAccount is an author whose timeline is checked every CheckEveryHours.
type WatchedAccount struct {
	Handle          string     `gorm:"primaryKey;size:100" json:"handle"`
	Priority        string     `gorm:"size:20;default:'medium'" json:"priority"`
	CheckEveryHours int        `gorm:"default:6" json:"check_every_hours"`
	LastCheckedAt   *time.Time `json:"last_checked_at"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// PriorityBoost is the flat score addition for posts found by monitoring this account.
func (a *WatchedAccount) PriorityBoost() float64 {
	switch a.Priority {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 1
	}
	return 0
}

// Due reports whether the account should be checked at now.
func (a *WatchedAccount) Due(now time.Time) bool {
	if a.LastCheckedAt == nil {
		return true
	}
	every := a.CheckEveryHours
	if every <= 0 {
		every = 6
	}
	return !now.Before(a.LastCheckedAt.Add(time.Duration(every) * time.Hour))
}
