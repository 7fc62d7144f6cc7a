package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sampark/internal/automation"
	"sampark/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var ErrConversationNotFound = errors.New("conversation not found")

// teamPrefix marks an assignee that names a team instead of an agent.
const teamPrefix = "team:"

// ConversationRequest 创建会话的请求
type ConversationRequest struct {
	CustomerID string `json:"customer_id" binding:"required"`
	Channel    string `json:"channel" binding:"omitempty,oneof=web email whatsapp"`
	Subject    string `json:"subject" binding:"max=255"`
}

// ConversationListRequest 会话列表请求
type ConversationListRequest struct {
	Page       int    `form:"page,default=1" binding:"min=1"`
	PageSize   int    `form:"page_size,default=20" binding:"min=1,max=100"`
	Status     string `form:"status" binding:"omitempty,oneof=open pending closed"`
	Priority   string `form:"priority" binding:"omitempty,oneof=LOW MEDIUM HIGH URGENT"`
	Channel    string `form:"channel" binding:"omitempty,oneof=web email whatsapp"`
	CustomerID string `form:"customer_id"`
}

// ConversationUpdateRequest is an operator edit. An empty assignee unassigns.
type ConversationUpdateRequest struct {
	Status   *string `json:"status" binding:"omitempty,oneof=open pending closed"`
	Priority *string `json:"priority" binding:"omitempty,oneof=LOW MEDIUM HIGH URGENT"`
	Assignee *string `json:"assignee"`
}

// ConversationService manages conversations and implements the
// conversation side of automation actions.
type ConversationService struct {
	db     *gorm.DB
	logger *logrus.Logger
	now    func() time.Time
}

func NewConversationService(db *gorm.DB, logger *logrus.Logger) *ConversationService {
	if logger == nil {
		logger = logrus.New()
	}
	return &ConversationService{db: db, logger: logger, now: time.Now}
}

var _ automation.ConversationService = (*ConversationService)(nil)

// Create 新建会话
func (s *ConversationService) Create(ctx context.Context, req *ConversationRequest) (*models.Conversation, error) {
	if req == nil {
		return nil, fmt.Errorf("request required")
	}
	var customer models.Customer
	if err := s.db.WithContext(ctx).First(&customer, "id = ?", req.CustomerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	channel := req.Channel
	if channel == "" {
		channel = "web"
	}
	conv := &models.Conversation{
		ID:         uuid.NewString(),
		CustomerID: customer.ID,
		Channel:    channel,
		Subject:    req.Subject,
		Status:     "open",
		Priority:   string(automation.PriorityMedium),
	}
	if err := s.db.WithContext(ctx).Create(conv).Error; err != nil {
		return nil, err
	}
	return conv, nil
}

// Get 获取会话
func (s *ConversationService) Get(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := s.db.WithContext(ctx).Preload("Customer").First(&conv, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return &conv, nil
}

// List 会话列表，最近更新的在前
func (s *ConversationService) List(ctx context.Context, req *ConversationListRequest) ([]models.Conversation, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Conversation{})
	if req.Status != "" {
		q = q.Where("status = ?", req.Status)
	}
	if req.Priority != "" {
		q = q.Where("priority = ?", req.Priority)
	}
	if req.Channel != "" {
		q = q.Where("channel = ?", req.Channel)
	}
	if req.CustomerID != "" {
		q = q.Where("customer_id = ?", req.CustomerID)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var convs []models.Conversation
	if err := q.Preload("Customer").Order("updated_at DESC").
		Offset((req.Page - 1) * req.PageSize).Limit(req.PageSize).
		Find(&convs).Error; err != nil {
		return nil, 0, err
	}
	return convs, total, nil
}

// Update applies an operator edit. A manual priority goes through the same
// stale-write guard as rule actions, stamped with the time of the edit.
func (s *ConversationService) Update(ctx context.Context, id string, req *ConversationUpdateRequest) (*models.Conversation, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request required", ErrInvalidInput)
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	target := automation.Target{Kind: automation.TargetConversation, ID: id}

	if req.Priority != nil {
		if err := s.SetConversationPriority(ctx, target, automation.Priority(*req.Priority), s.now()); err != nil {
			return nil, err
		}
	}
	if req.Assignee != nil {
		if assignee := strings.TrimSpace(*req.Assignee); assignee != "" {
			if err := s.AssignConversation(ctx, target, assignee); err != nil {
				return nil, err
			}
		} else if err := s.db.WithContext(ctx).Model(&models.Conversation{}).Where("id = ?", id).
			Updates(map[string]interface{}{"assignee_type": "", "assignee_id": nil}).Error; err != nil {
			return nil, err
		}
	}
	if req.Status != nil {
		updates := map[string]interface{}{"status": *req.Status, "closed_at": nil}
		if *req.Status == "closed" {
			updates["closed_at"] = s.now().UTC()
		}
		if err := s.db.WithContext(ctx).Model(&models.Conversation{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return s.Get(ctx, id)
}

// AssignConversation 分配会话给客服（用户名）或团队（team:名称）
func (s *ConversationService) AssignConversation(ctx context.Context, target automation.Target, assignee string) error {
	convID, err := s.resolve(ctx, target)
	if err != nil {
		return &automation.AssignmentError{Assignee: assignee, Reason: err.Error()}
	}

	var (
		kind string
		id   uint
	)
	if name, ok := strings.CutPrefix(assignee, teamPrefix); ok {
		var team models.Team
		if err := s.db.WithContext(ctx).First(&team, "name = ?", name).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &automation.AssignmentError{Assignee: assignee, Reason: "team not found"}
			}
			return err
		}
		kind, id = "team", team.ID
	} else {
		var agent models.Agent
		if err := s.db.WithContext(ctx).First(&agent, "username = ?", assignee).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &automation.AssignmentError{Assignee: assignee, Reason: "agent not found"}
			}
			return err
		}
		if agent.Status == "disabled" {
			return &automation.AssignmentError{Assignee: assignee, Reason: "agent is disabled"}
		}
		kind, id = "agent", agent.ID
	}

	return s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", convID).
		Updates(map[string]interface{}{"assignee_type": kind, "assignee_id": id}).Error
}

// SetConversationPriority 设置优先级；asOf 早于上次写入时忽略
func (s *ConversationService) SetConversationPriority(ctx context.Context, target automation.Target, priority automation.Priority, asOf time.Time) error {
	if !priority.Valid() {
		return &automation.InvalidPriorityError{Value: string(priority)}
	}
	convID, err := s.resolve(ctx, target)
	if err != nil {
		return err
	}
	asOf = asOf.UTC()
	res := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ? AND (priority_set_at IS NULL OR priority_set_at <= ?)", convID, asOf).
		Updates(map[string]interface{}{"priority": string(priority), "priority_set_at": asOf})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		s.logger.WithFields(logrus.Fields{
			"conversation_id": convID,
			"priority":        priority,
			"as_of":           asOf,
		}).Info("automation: stale priority write ignored")
	}
	return nil
}

// resolve maps a target to a conversation id. Customer targets use the
// customer's most recent open conversation.
func (s *ConversationService) resolve(ctx context.Context, target automation.Target) (string, error) {
	var conv models.Conversation
	q := s.db.WithContext(ctx).Select("id")
	switch target.Kind {
	case automation.TargetCustomer:
		q = q.Where("customer_id = ? AND status <> ?", target.ID, "closed").Order("created_at DESC")
	default:
		q = q.Where("id = ?", target.ID)
	}
	if err := q.First(&conv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrConversationNotFound
		}
		return "", err
	}
	return conv.ID, nil
}
