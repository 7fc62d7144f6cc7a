package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sampark/internal/automation"
	"sampark/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	ErrRuleNotFound      = errors.New("rule not found")
	ErrInvalidTransition = errors.New("invalid rule status transition")
)

// transitions lists the allowed rule lifecycle moves.
var transitions = map[automation.RuleStatus][]automation.RuleStatus{
	automation.StatusDraft:    {automation.StatusEnabled, automation.StatusDeleted},
	automation.StatusEnabled:  {automation.StatusDisabled, automation.StatusDeleted},
	automation.StatusDisabled: {automation.StatusEnabled, automation.StatusDeleted},
}

// CanTransition reports whether a rule may move from one status to another.
func CanTransition(from, to automation.RuleStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// RuleChangeNotifier is told about every committed rule change, e.g. to fan it out to other instances.
type RuleChangeNotifier interface {
	RuleChanged(ctx context.Context, ruleID string) error
}

// RuleRequest 创建规则的请求
type RuleRequest struct {
	Name        string              `json:"name" binding:"required,max=200"`
	Description string              `json:"description" binding:"max=2000"`
	Trigger     automation.Trigger  `json:"trigger"`
	Actions     []automation.Action `json:"actions" binding:"required,min=1"`
	Enabled     *bool               `json:"enabled"`
}

// RuleUpdateRequest 更新规则的请求，未提供的字段保持不变
type RuleUpdateRequest struct {
	Name        *string             `json:"name" binding:"omitempty,max=200"`
	Description *string             `json:"description" binding:"omitempty,max=2000"`
	Trigger     *automation.Trigger `json:"trigger"`
	Actions     []automation.Action `json:"actions" binding:"omitempty,min=1"`
}

// RuleFilter 规则列表过滤条件
type RuleFilter struct {
	Enabled     *bool
	TriggerType automation.EventType
}

// RuleService persists automation rules and keeps the engine's rule set current.
type RuleService struct {
	db        *gorm.DB
	rules     *automation.RuleSet
	validator automation.Validator
	notifier  RuleChangeNotifier
	logger    *logrus.Logger
	now       func() time.Time
}

func NewRuleService(db *gorm.DB, rules *automation.RuleSet, validator automation.Validator, logger *logrus.Logger) *RuleService {
	if logger == nil {
		logger = logrus.New()
	}
	return &RuleService{db: db, rules: rules, validator: validator, logger: logger, now: time.Now}
}

// WithNotifier broadcasts rule changes after they are committed.
func (s *RuleService) WithNotifier(n RuleChangeNotifier) *RuleService {
	s.notifier = n
	return s
}

// Load 从数据库加载全部未删除的规则到内存索引
func (s *RuleService) Load(ctx context.Context) error {
	var rows []models.AutomationRule
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	rules := make([]automation.Rule, 0, len(rows))
	for _, row := range rows {
		r, err := toRule(row)
		if err != nil {
			s.logger.WithField("rule_id", row.ID).Warnf("automation: skipping unreadable rule: %v", err)
			continue
		}
		rules = append(rules, r)
	}
	s.rules.Replace(rules)
	s.logger.Infof("automation: loaded %d rules", len(rules))
	return nil
}

// Refresh reloads a single rule into the index, removing it when it no longer exists.
func (s *RuleService) Refresh(ctx context.Context, id string) error {
	r, err := s.Get(ctx, id)
	if errors.Is(err, ErrRuleNotFound) {
		s.rules.Remove(id)
		return nil
	}
	if err != nil {
		return err
	}
	s.rules.Upsert(*r)
	return nil
}

// List 返回规则列表，按创建时间倒序
func (s *RuleService) List(ctx context.Context, f RuleFilter) ([]automation.Rule, error) {
	q := s.db.WithContext(ctx).Model(&models.AutomationRule{})
	if f.Enabled != nil {
		q = q.Where("enabled = ?", *f.Enabled)
	}
	if f.TriggerType != "" {
		q = q.Where("trigger_type = ?", string(f.TriggerType))
	}
	var rows []models.AutomationRule
	if err := q.Order("created_at DESC").Order("id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]automation.Rule, 0, len(rows))
	for _, row := range rows {
		r, err := toRule(row)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Get 获取单个规则
func (s *RuleService) Get(ctx context.Context, id string) (*automation.Rule, error) {
	var row models.AutomationRule
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	r, err := toRule(row)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Create 新建规则
func (s *RuleService) Create(ctx context.Context, req *RuleRequest) (*automation.Rule, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	now := s.now().UTC()
	rule := automation.Rule{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		Trigger:     req.Trigger,
		Actions:     req.Actions,
		Status:      automation.StatusEnabled,
		Enabled:     true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.Enabled != nil && !*req.Enabled {
		rule.Status = automation.StatusDraft
		rule.Enabled = false
	}
	if err := s.validator.ValidateRule(rule); err != nil {
		return nil, err
	}

	row, err := toRow(rule)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, err
	}
	s.committed(ctx, rule)
	return &rule, nil
}

// Update 更新规则内容，状态不变
func (s *RuleService) Update(ctx context.Context, id string, req *RuleUpdateRequest) (*automation.Rule, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	rule, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.Description != nil {
		rule.Description = *req.Description
	}
	if req.Trigger != nil {
		rule.Trigger = *req.Trigger
	}
	if req.Actions != nil {
		rule.Actions = req.Actions
	}
	if err := s.validator.ValidateRule(*rule); err != nil {
		return nil, err
	}
	rule.UpdatedAt = s.now().UTC()

	row, err := toRow(*rule)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(&models.AutomationRule{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"name":         row.Name,
			"description":  row.Description,
			"trigger_type": row.TriggerType,
			"conditions":   row.Conditions,
			"actions":      row.Actions,
			"updated_at":   row.UpdatedAt,
		}).Error; err != nil {
		return nil, err
	}
	s.committed(ctx, *rule)
	return rule, nil
}

// Enable 启用规则
func (s *RuleService) Enable(ctx context.Context, id string) (*automation.Rule, error) {
	return s.Transition(ctx, id, automation.StatusEnabled)
}

// Disable 停用规则
func (s *RuleService) Disable(ctx context.Context, id string) (*automation.Rule, error) {
	return s.Transition(ctx, id, automation.StatusDisabled)
}

// Toggle 在启用与停用之间切换；草稿规则切换为启用
func (s *RuleService) Toggle(ctx context.Context, id string) (*automation.Rule, error) {
	rule, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule.Status == automation.StatusEnabled {
		return s.Transition(ctx, id, automation.StatusDisabled)
	}
	return s.Transition(ctx, id, automation.StatusEnabled)
}

// Delete 删除规则（软删除，执行记录保留）
func (s *RuleService) Delete(ctx context.Context, id string) error {
	_, err := s.Transition(ctx, id, automation.StatusDeleted)
	return err
}

// Transition moves a rule through its lifecycle. The new status takes effect for the next event.
func (s *RuleService) Transition(ctx context.Context, id string, to automation.RuleStatus) (*automation.Rule, error) {
	var rule *automation.Rule
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.AutomationRule
		if err := tx.First(&row, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRuleNotFound
			}
			return err
		}
		from := automation.RuleStatus(row.Status)
		if !CanTransition(from, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		}

		now := s.now().UTC()
		updates := map[string]interface{}{
			"status":     string(to),
			"enabled":    to == automation.StatusEnabled,
			"updated_at": now,
		}
		if err := tx.Model(&models.AutomationRule{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		if to == automation.StatusDeleted {
			if err := tx.Delete(&models.AutomationRule{}, "id = ?", id).Error; err != nil {
				return err
			}
		}

		r, err := toRule(row)
		if err != nil {
			return err
		}
		r.Status = to
		r.Enabled = to == automation.StatusEnabled
		r.UpdatedAt = now
		rule = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.committed(ctx, *rule)
	s.logger.WithField("rule_id", id).Infof("automation: rule status -> %s", to)
	return rule, nil
}

func (s *RuleService) committed(ctx context.Context, r automation.Rule) {
	if r.Status == automation.StatusDeleted {
		s.rules.Remove(r.ID)
	} else {
		s.rules.Upsert(r)
	}
	if s.notifier != nil {
		if err := s.notifier.RuleChanged(ctx, r.ID); err != nil {
			s.logger.WithField("rule_id", r.ID).Warnf("automation: broadcast rule change failed: %v", err)
		}
	}
}

func toRow(r automation.Rule) (models.AutomationRule, error) {
	conds := r.Trigger.Conditions
	if conds == nil {
		conds = []automation.Condition{}
	}
	condJSON, err := json.Marshal(conds)
	if err != nil {
		return models.AutomationRule{}, fmt.Errorf("invalid conditions: %w", err)
	}
	actJSON, err := json.Marshal(r.Actions)
	if err != nil {
		return models.AutomationRule{}, fmt.Errorf("invalid actions: %w", err)
	}
	return models.AutomationRule{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		TriggerType: string(r.Trigger.Type),
		Conditions:  string(condJSON),
		Actions:     string(actJSON),
		Enabled:     r.Enabled,
		Status:      string(r.Status),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}

func toRule(row models.AutomationRule) (automation.Rule, error) {
	r := automation.Rule{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Description,
		Trigger:     automation.Trigger{Type: automation.EventType(row.TriggerType)},
		Enabled:     row.Enabled,
		Status:      automation.RuleStatus(row.Status),
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if row.Conditions != "" {
		if err := json.Unmarshal([]byte(row.Conditions), &r.Trigger.Conditions); err != nil {
			return r, fmt.Errorf("rule %s: invalid conditions: %w", row.ID, err)
		}
	}
	if row.Actions != "" {
		if err := json.Unmarshal([]byte(row.Actions), &r.Actions); err != nil {
			return r, fmt.Errorf("rule %s: invalid actions: %w", row.ID, err)
		}
	}
	return r, nil
}
