package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

const (
	SourceTopicSearch    = "topic_search"
	SourceAccountMonitor = "account_monitor"
)

// StringArray is stored as a JSON array in a text column so it works on both postgres and sqlite.
type StringArray []string

// Scan implements the sql.Scanner interface
func (s *StringArray) Scan(value interface{}) error {
	if value == nil {
		*s = StringArray{}
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("cannot scan %T into StringArray", value)
	}

	if len(raw) == 0 {
		*s = StringArray{}
		return nil
	}

	var arr []string
	if err := json.Unmarshal(raw, &arr); err != nil {
		return fmt.Errorf("failed to decode StringArray: %w", err)
	}
	*s = arr
	return nil
}

// Value implements the driver.Valuer interface
func (s StringArray) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Contains reports whether v is already in the array.
func (s StringArray) Contains(v string) bool {
	for _, item := range s {
		if item == v {
			return true
		}
	}
	return false
}

// Post is a social-media post discovered by the feed. Rows are never updated after insert.
type Post struct {
	ID              string      `gorm:"primaryKey;size:64" json:"id"`
	URL             string      `gorm:"size:500" json:"url"`
	AuthorHandle    string      `gorm:"size:100;index" json:"author_handle"`
	AuthorName      string      `gorm:"size:200" json:"author_name"`
	AuthorFollowers int64       `gorm:"default:0" json:"author_followers"`
	AuthorVerified  bool        `gorm:"default:false" json:"author_verified"`
	Text            string      `gorm:"type:text" json:"text"`
	Views           int64       `gorm:"default:0" json:"views"`
	Likes           int64       `gorm:"default:0" json:"likes"`
	Reposts         int64       `gorm:"default:0" json:"reposts"`
	Replies         int64       `gorm:"default:0" json:"replies"`
	PostedAt        *time.Time  `gorm:"index" json:"posted_at"`
	DiscoveredAt    time.Time   `gorm:"not null;index" json:"discovered_at"`
	Source          string      `gorm:"size:50" json:"source"`
	Queries         StringArray `gorm:"type:text" json:"queries"`
	PriorityBoost   float64     `gorm:"default:0" json:"priority_boost"`
}

// RecencyTime is PostedAt when the feed reported it, DiscoveredAt otherwise.
func (p *Post) RecencyTime() time.Time {
	if p.PostedAt != nil && !p.PostedAt.IsZero() {
		return *p.PostedAt
	}
	return p.DiscoveredAt
}
