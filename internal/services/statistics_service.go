package services

import (
	"context"
	"fmt"
	"time"

	"sampark/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const maxStatsDays = 90

// StatisticsService 客服与自动化统计
type StatisticsService struct {
	db     *gorm.DB
	logger *logrus.Logger
	now    func() time.Time
}

// NewStatisticsService 创建统计服务
func NewStatisticsService(db *gorm.DB, logger *logrus.Logger) *StatisticsService {
	if logger == nil {
		logger = logrus.New()
	}
	return &StatisticsService{db: db, logger: logger, now: time.Now}
}

// SupportOverview 总体统计
type SupportOverview struct {
	TotalConversations   int64   `json:"total_conversations"`
	NewConversations     int64   `json:"new_conversations"`
	OpenConversations    int64   `json:"open_conversations"`
	TotalCustomers       int64   `json:"total_customers"`
	NewCustomers         int64   `json:"new_customers"`
	TotalMessages        int64   `json:"total_messages"`
	AgentMessages        int64   `json:"agent_messages"`
	AvgMessages          float64 `json:"avg_messages"`
	AvgResolutionSeconds float64 `json:"avg_resolution_seconds"`
}

// CountBy 分组计数
type CountBy struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// Distribution 会话分布
type Distribution struct {
	ByStatus   []CountBy `json:"by_status"`
	ByChannel  []CountBy `json:"by_channel"`
	ByPriority []CountBy `json:"by_priority"`
}

// RuleActivity 规则执行次数
type RuleActivity struct {
	RuleID     string `json:"rule_id"`
	Name       string `json:"name"`
	Executions int64  `json:"executions"`
}

// AutomationActivity 自动化执行统计
type AutomationActivity struct {
	Executions   int64          `json:"executions"`
	EnabledRules int64          `json:"enabled_rules"`
	TopRules     []RuleActivity `json:"top_rules"`
}

// DailyCount 每日统计
type DailyCount struct {
	Date          string `json:"date"`
	Conversations int64  `json:"conversations"`
	Messages      int64  `json:"messages"`
	Executions    int64  `json:"executions"`
}

// SupportStats 统计面板数据
type SupportStats struct {
	Since        time.Time          `json:"since"`
	Days         int                `json:"days"`
	Overview     SupportOverview    `json:"overview"`
	Distribution Distribution       `json:"distribution"`
	Automation   AutomationActivity `json:"automation"`
	Daily        []DailyCount       `json:"daily"`
}

// GetSupportStats 统计最近 days 天（含今天）的数据
func (s *StatisticsService) GetSupportStats(ctx context.Context, days int) (*SupportStats, error) {
	if days <= 0 {
		days = 30
	}
	if days > maxStatsDays {
		days = maxStatsDays
	}
	today := s.now().UTC().Truncate(24 * time.Hour)
	since := today.AddDate(0, 0, -(days - 1))
	db := s.db.WithContext(ctx)

	stats := &SupportStats{Since: since, Days: days}
	if err := s.overview(db, since, &stats.Overview); err != nil {
		return nil, fmt.Errorf("failed to get overview: %w", err)
	}
	for _, g := range []struct {
		column string
		dst    *[]CountBy
	}{
		{"status", &stats.Distribution.ByStatus},
		{"channel", &stats.Distribution.ByChannel},
		{"priority", &stats.Distribution.ByPriority},
	} {
		if err := db.Model(&models.Conversation{}).
			Select(g.column + " AS label, COUNT(*) AS count").
			Group(g.column).
			Order("count DESC").
			Scan(g.dst).Error; err != nil {
			return nil, fmt.Errorf("failed to get %s distribution: %w", g.column, err)
		}
	}
	if err := s.automation(db, since, &stats.Automation); err != nil {
		return nil, fmt.Errorf("failed to get automation stats: %w", err)
	}

	// 按天统计
	for day := since; !day.After(today); day = day.Add(24 * time.Hour) {
		next := day.Add(24 * time.Hour)
		d := DailyCount{Date: day.Format("2006-01-02")}
		if err := db.Model(&models.Conversation{}).Where("created_at >= ? AND created_at < ?", day, next).Count(&d.Conversations).Error; err != nil {
			return nil, err
		}
		if err := db.Model(&models.Message{}).Where("created_at >= ? AND created_at < ?", day, next).Count(&d.Messages).Error; err != nil {
			return nil, err
		}
		if err := db.Model(&models.AutomationOutcome{}).Where("executed_at >= ? AND executed_at < ?", day, next).Count(&d.Executions).Error; err != nil {
			return nil, err
		}
		stats.Daily = append(stats.Daily, d)
	}
	return stats, nil
}

func (s *StatisticsService) overview(db *gorm.DB, since time.Time, o *SupportOverview) error {
	counts := []struct {
		q   *gorm.DB
		dst *int64
	}{
		{db.Model(&models.Conversation{}), &o.TotalConversations},
		{db.Model(&models.Conversation{}).Where("created_at >= ?", since), &o.NewConversations},
		{db.Model(&models.Conversation{}).Where("status <> ?", "closed"), &o.OpenConversations},
		{db.Model(&models.Customer{}), &o.TotalCustomers},
		{db.Model(&models.Customer{}).Where("created_at >= ?", since), &o.NewCustomers},
		{db.Model(&models.Message{}), &o.TotalMessages},
		{db.Model(&models.Message{}).Where("sender = ?", "agent"), &o.AgentMessages},
	}
	for _, c := range counts {
		if err := c.q.Count(c.dst).Error; err != nil {
			return err
		}
	}
	if o.TotalConversations > 0 {
		o.AvgMessages = float64(o.TotalMessages) / float64(o.TotalConversations)
	}

	// 平均解决时长，按关闭时间落在区间内的会话计算
	var closed []struct {
		CreatedAt time.Time
		ClosedAt  time.Time
	}
	if err := db.Model(&models.Conversation{}).
		Select("created_at, closed_at").
		Where("closed_at IS NOT NULL AND closed_at >= ?", since).
		Scan(&closed).Error; err != nil {
		return err
	}
	if len(closed) > 0 {
		var total time.Duration
		for _, c := range closed {
			total += c.ClosedAt.Sub(c.CreatedAt)
		}
		o.AvgResolutionSeconds = total.Seconds() / float64(len(closed))
	}
	return nil
}

func (s *StatisticsService) automation(db *gorm.DB, since time.Time, a *AutomationActivity) error {
	if err := db.Model(&models.AutomationOutcome{}).Where("executed_at >= ?", since).Count(&a.Executions).Error; err != nil {
		return err
	}
	if err := db.Model(&models.AutomationRule{}).Where("status = ?", "enabled").Count(&a.EnabledRules).Error; err != nil {
		return err
	}
	return db.Table("automation_outcomes AS o").
		Select("o.rule_id AS rule_id, r.name AS name, COUNT(*) AS executions").
		Joins("LEFT JOIN automation_rules r ON r.id = o.rule_id").
		Where("o.executed_at >= ?", since).
		Group("o.rule_id, r.name").
		Order("executions DESC").
		Limit(5).
		Scan(&a.TopRules).Error
}
