package models

import (
	"time"
)

// DailyStats 每日流水线统计 (按日汇总)
type DailyStats struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Date         time.Time `gorm:"uniqueIndex;not null" json:"date"`
	Runs         int       `gorm:"default:0" json:"runs"`
	Discovered   int       `gorm:"default:0" json:"discovered"`
	Drafted      int       `gorm:"default:0" json:"drafted"`
	Approved     int       `gorm:"default:0" json:"approved"`
	Posted       int       `gorm:"default:0" json:"posted"`
	Failed       int       `gorm:"default:0" json:"failed"`
	Skipped      int       `gorm:"default:0" json:"skipped"`
	Expired      int       `gorm:"default:0" json:"expired"`
	Pending      int       `gorm:"default:0" json:"pending"`
	ApprovalRate float64   `gorm:"default:0" json:"approval_rate"` // 已决定草稿中被批准的比例
	ErrorCount   int       `gorm:"default:0" json:"error_count"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ErrorLog 错误日志表
type ErrorLog struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	Level      string     `gorm:"size:20;not null;index" json:"level"`   // ERROR, WARN, INFO
	Source     string     `gorm:"size:100;not null;index" json:"source"` // feed, generator, poster, orchestrator等
	DraftID    *string    `gorm:"size:36;index" json:"draft_id"`         // 相关的草稿ID
	PostID     *string    `gorm:"size:64;index" json:"post_id"`          // 相关的帖子ID
	RunID      *string    `gorm:"size:36;index" json:"run_id"`           // 相关的运行ID
	Title      string     `gorm:"size:500;not null" json:"title"`        // 错误标题
	Message    string     `gorm:"type:text;not null" json:"message"`     // 错误信息
	Context    string     `gorm:"type:text" json:"context"`              // 额外上下文信息 (JSON)
	Resolved   bool       `gorm:"default:false;index" json:"resolved"`   // 是否已解决
	ResolvedAt *time.Time `json:"resolved_at"`
	CreatedAt  time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// MetricsSample 指标采样数据
type MetricsSample struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	MetricName string    `gorm:"size:100;not null;index" json:"metric_name"` // 指标名称
	MetricType string    `gorm:"size:50;not null" json:"metric_type"`        // gauge, counter, histogram
	Value      float64   `gorm:"not null" json:"value"`                      // 指标值
	Tags       string    `gorm:"type:text" json:"tags"`                      // 标签信息 (JSON)
	Timestamp  time.Time `gorm:"not null;index" json:"timestamp"`            // 采样时间戳
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// AllModels lists every table the service migrates.
func AllModels() []interface{} {
	return []interface{}{
		&Post{},
		&Draft{},
		&ApprovalEvent{},
		&PostResult{},
		&Run{},
		&RunLock{},
		&WatchedAccount{},
		&DailyStats{},
		&ErrorLog{},
		&MetricsSample{},
	}
}
