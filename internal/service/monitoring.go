package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ifuryst/riposte/internal/models"
)

type MonitoringService struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

func NewMonitoringService(db *gorm.DB, logger *zap.Logger) *MonitoringService {
	return &MonitoringService{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// RecordError 记录错误日志
func (m *MonitoringService) RecordError(level, source, title, message string, options ...ErrorLogOption) error {
	errorLog := &models.ErrorLog{
		Level:   level,
		Source:  source,
		Title:   title,
		Message: message,
	}

	// 应用选项
	for _, option := range options {
		option(errorLog)
	}

	return m.db.Create(errorLog).Error
}

// RecordDraftError 记录与草稿相关的错误
func (m *MonitoringService) RecordDraftError(source string, draft *models.Draft, title, message string) error {
	options := []ErrorLogOption{WithDraft(draft.ID), WithPost(draft.PostID)}
	if draft.RunID != "" {
		options = append(options, WithRun(draft.RunID))
	}
	return m.RecordError("ERROR", source, title, message, options...)
}

// ErrorLogOption 错误日志选项
type ErrorLogOption func(*models.ErrorLog)

// WithDraft 设置草稿ID
func WithDraft(draftID string) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.DraftID = &draftID
	}
}

// WithPost 设置帖子ID
func WithPost(postID string) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.PostID = &postID
	}
}

// WithRun 设置运行ID
func WithRun(runID string) ErrorLogOption {
	return func(e *models.ErrorLog) {
		e.RunID = &runID
	}
}

// WithContext 设置上下文信息
func WithContext(context map[string]interface{}) ErrorLogOption {
	return func(e *models.ErrorLog) {
		if contextBytes, err := json.Marshal(context); err == nil {
			e.Context = string(contextBytes)
		}
	}
}

// RecordMetric 记录指标数据
func (m *MonitoringService) RecordMetric(name, metricType string, value float64, tags map[string]interface{}) error {
	var tagsJSON string
	if tags != nil {
		if tagsBytes, err := json.Marshal(tags); err == nil {
			tagsJSON = string(tagsBytes)
		}
	}

	metric := &models.MetricsSample{
		MetricName: name,
		MetricType: metricType,
		Value:      value,
		Tags:       tagsJSON,
		Timestamp:  m.now(),
	}

	return m.db.Create(metric).Error
}

// RecordRunMetrics 把一次运行的计数器写入指标采样表
func (m *MonitoringService) RecordRunMetrics(run *models.Run) error {
	tags := map[string]interface{}{"run_id": run.ID, "status": run.Status}
	samples := []struct {
		name  string
		value int
	}{
		{"run.queries", run.Queries},
		{"run.feed_failures", run.FeedFailures},
		{"run.fetched", run.Fetched},
		{"run.unique", run.UniquePosts},
		{"run.selected", run.Selected},
		{"run.submitted", run.Submitted},
		{"run.generation_failures", run.GenerationFailures},
		{"run.dispatch_failures", run.DispatchFailures},
		{"run.already_drafted", run.AlreadyDrafted},
	}

	var errs []error
	for _, s := range samples {
		if err := m.RecordMetric(s.name, "counter", float64(s.value), tags); err != nil {
			errs = append(errs, err)
		}
	}
	if run.FinishedAt != nil {
		if err := m.RecordMetric("run.duration_seconds", "gauge", run.FinishedAt.Sub(run.StartedAt).Seconds(), tags); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func startOfDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

// UpdateDailyStats 计算某天的统计数据并写入 daily_stats
func (m *MonitoringService) UpdateDailyStats(ctx context.Context, day time.Time) (*models.DailyStats, error) {
	from := startOfDay(day)
	to := from.Add(24 * time.Hour)
	db := m.db.WithContext(ctx)

	// 查询各种统计数据
	var runs, discovered, drafted, approved, skipped, posted, failed, expired, pending, errorCount int64
	counts := []struct {
		dest  *int64
		query *gorm.DB
	}{
		{&runs, db.Model(&models.Run{}).Where("started_at >= ? AND started_at < ?", from, to)},
		{&discovered, db.Model(&models.Post{}).Where("discovered_at >= ? AND discovered_at < ?", from, to)},
		{&drafted, db.Model(&models.Draft{}).Where("generated_at >= ? AND generated_at < ?", from, to)},
		{&approved, db.Model(&models.ApprovalEvent{}).Where("arrived_at >= ? AND arrived_at < ? AND decision <> ?", from, to, "skip")},
		{&skipped, db.Model(&models.ApprovalEvent{}).Where("arrived_at >= ? AND arrived_at < ? AND decision = ?", from, to, "skip")},
		{&posted, db.Model(&models.PostResult{}).Where("created_at >= ? AND created_at < ? AND success = ?", from, to, true)},
		{&failed, db.Model(&models.PostResult{}).Where("created_at >= ? AND created_at < ? AND success = ?", from, to, false)},
		{&expired, db.Model(&models.Draft{}).Where("closed_at >= ? AND closed_at < ? AND status = ?", from, to, models.DraftExpired)},
		{&pending, db.Model(&models.Draft{}).Where("status = ?", models.DraftPending)},
		{&errorCount, db.Model(&models.ErrorLog{}).Where("created_at >= ? AND created_at < ?", from, to)},
	}
	for _, c := range counts {
		if err := c.query.Count(c.dest).Error; err != nil {
			return nil, fmt.Errorf("failed to count daily stats: %w", err)
		}
	}

	// 批准率 = 批准 / (批准 + 跳过 + 过期)
	var rate float64
	if decided := approved + skipped + expired; decided > 0 {
		rate = float64(approved) / float64(decided)
	}

	stats := models.DailyStats{
		Date:         from,
		Runs:         int(runs),
		Discovered:   int(discovered),
		Drafted:      int(drafted),
		Approved:     int(approved),
		Posted:       int(posted),
		Failed:       int(failed),
		Skipped:      int(skipped),
		Expired:      int(expired),
		Pending:      int(pending),
		ApprovalRate: rate,
		ErrorCount:   int(errorCount),
	}

	// 按日期 upsert, 并发刷新同一天时只保留一行
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"runs", "discovered", "drafted", "approved", "posted", "failed",
			"skipped", "expired", "pending", "approval_rate", "error_count", "updated_at",
		}),
	}).Create(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to save daily stats: %w", err)
	}

	// 重新读取以拿到已有行的 ID 和创建时间
	var saved models.DailyStats
	if err := db.Where("date = ?", from).First(&saved).Error; err != nil {
		return nil, fmt.Errorf("failed to load daily stats: %w", err)
	}

	return &saved, nil
}

// Today 返回今天的统计数据
func (m *MonitoringService) Today(ctx context.Context) (*models.DailyStats, error) {
	return m.UpdateDailyStats(ctx, m.now())
}

// FormatReport 生成每日报告文本, html 为 true 时使用 Telegram HTML 格式
func FormatReport(s *models.DailyStats, html bool) string {
	bold := func(v string) string {
		if html {
			return "<b>" + v + "</b>"
		}
		return v
	}
	rate := "N/A"
	if s.Approved+s.Skipped+s.Expired > 0 {
		rate = fmt.Sprintf("%.1f%%", s.ApprovalRate*100)
	}

	lines := []string{
		fmt.Sprintf("📊 %s", bold("Stats for "+s.Date.Format("2006-01-02"))),
		"",
		fmt.Sprintf("🔍 Discovered: %d", s.Discovered),
		fmt.Sprintf("📝 Drafted: %d", s.Drafted),
		fmt.Sprintf("✅ Approved: %d", s.Approved),
		fmt.Sprintf("📤 Posted: %d", s.Posted),
		fmt.Sprintf("❌ Failed: %d", s.Failed),
		fmt.Sprintf("🔴 Skipped: %d", s.Skipped),
		fmt.Sprintf("⌛ Expired: %d", s.Expired),
		fmt.Sprintf("⏳ Pending: %d", s.Pending),
		fmt.Sprintf("📈 Approval rate: %s", rate),
	}
	if s.ErrorCount > 0 {
		lines = append(lines, fmt.Sprintf("⚠️ Errors: %d", s.ErrorCount))
	}
	return strings.Join(lines, "\n")
}

// GetRecentErrors 获取最近的错误日志
func (m *MonitoringService) GetRecentErrors(limit int) ([]models.ErrorLog, error) {
	var errs []models.ErrorLog
	err := m.db.Order("created_at desc").
		Limit(limit).
		Find(&errs).Error
	return errs, err
}

// CleanupOldData 清理旧数据
func (m *MonitoringService) CleanupOldData(daysToKeep int) error {
	cutoffDate := m.now().AddDate(0, 0, -daysToKeep)

	// 清理旧的指标数据
	if err := m.db.Where("timestamp < ?", cutoffDate).Delete(&models.MetricsSample{}).Error; err != nil {
		return fmt.Errorf("failed to cleanup metrics samples: %w", err)
	}

	// 清理旧的每日统计数据
	if err := m.db.Where("date < ?", cutoffDate).Delete(&models.DailyStats{}).Error; err != nil {
		return fmt.Errorf("failed to cleanup daily stats: %w", err)
	}

	// 清理已解决的旧错误日志
	if err := m.db.Where("created_at < ? AND resolved = ?", cutoffDate, true).Delete(&models.ErrorLog{}).Error; err != nil {
		return fmt.Errorf("failed to cleanup resolved errors: %w", err)
	}

	return nil
}
