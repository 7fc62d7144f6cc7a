package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sampark/internal/automation"
	"sampark/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	ErrCustomerNotFound = errors.New("customer not found")
	ErrCustomerExists   = errors.New("email already exists")
)

// CustomerCreateRequest 创建客户请求
type CustomerCreateRequest struct {
	Name    string `json:"name" binding:"required,max=200"`
	Email   string `json:"email" binding:"required,email"`
	Phone   string `json:"phone" binding:"omitempty,e164"`
	Company string `json:"company"`
	Source  string `json:"source" binding:"omitempty,oneof=web referral marketing email whatsapp"`
}

// CustomerUpdateRequest 更新客户请求，仅修改非空字段
type CustomerUpdateRequest struct {
	Name    *string `json:"name" binding:"omitempty,min=1,max=200"`
	Email   *string `json:"email" binding:"omitempty,email"`
	Phone   *string `json:"phone" binding:"omitempty,e164"`
	Company *string `json:"company"`
}

// CustomerListRequest 客户列表请求
type CustomerListRequest struct {
	Page     int    `form:"page,default=1" binding:"min=1"`
	PageSize int    `form:"page_size,default=20" binding:"min=1,max=100"`
	Search   string `form:"search"`
}

// CustomerService 客户管理服务
type CustomerService struct {
	db      *gorm.DB
	emitter automation.Emitter
	logger  *logrus.Logger
}

// NewCustomerService 创建客户服务；emitter 为空时不产生自动化事件
func NewCustomerService(db *gorm.DB, emitter automation.Emitter, logger *logrus.Logger) *CustomerService {
	if logger == nil {
		logger = logrus.New()
	}
	return &CustomerService{db: db, emitter: emitter, logger: logger}
}

// CreateCustomer 创建客户并触发 customer_created 事件
func (s *CustomerService) CreateCustomer(ctx context.Context, req *CustomerCreateRequest) (*models.Customer, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Customer{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, ErrCustomerExists
	}

	customer := &models.Customer{
		ID:      uuid.NewString(),
		Name:    req.Name,
		Email:   email,
		Phone:   req.Phone,
		Company: req.Company,
		Source:  req.Source,
	}
	if customer.Source == "" {
		customer.Source = "web"
	}
	if err := s.db.WithContext(ctx).Create(customer).Error; err != nil {
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}
	s.logger.Infof("Created customer %s (%s)", customer.ID, customer.Email)

	if s.emitter != nil {
		raw := automation.RawOccurrence{
			ID:         "customer:" + customer.ID,
			Type:       string(automation.EventCustomerCreated),
			SubjectID:  customer.ID,
			OccurredAt: customer.CreatedAt,
			Fields: map[string]interface{}{
				"name":    customer.Name,
				"email":   customer.Email,
				"company": customer.Company,
				"source":  customer.Source,
			},
		}
		if err := s.emitter.Emit(ctx, raw); err != nil {
			return customer, fmt.Errorf("customer created but event not published: %w", err)
		}
	}
	return customer, nil
}

// GetCustomer 获取客户
func (s *CustomerService) GetCustomer(ctx context.Context, id string) (*models.Customer, error) {
	var customer models.Customer
	if err := s.db.WithContext(ctx).First(&customer, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	return &customer, nil
}

// UpdateCustomer 更新客户资料
func (s *CustomerService) UpdateCustomer(ctx context.Context, id string, req *CustomerUpdateRequest) (*models.Customer, error) {
	customer, err := s.GetCustomer(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		customer.Name = strings.TrimSpace(*req.Name)
	}
	if req.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*req.Email))
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.Customer{}).
			Where("email = ? AND id <> ?", email, id).Count(&count).Error; err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, ErrCustomerExists
		}
		customer.Email = email
	}
	if req.Phone != nil {
		customer.Phone = *req.Phone
	}
	if req.Company != nil {
		customer.Company = strings.TrimSpace(*req.Company)
	}
	if customer.Name == "" {
		return nil, fmt.Errorf("%w: name required", ErrInvalidInput)
	}
	if err := s.db.WithContext(ctx).Save(customer).Error; err != nil {
		return nil, fmt.Errorf("failed to update customer: %w", err)
	}
	return customer, nil
}

// ListCustomers 客户列表
func (s *CustomerService) ListCustomers(ctx context.Context, req *CustomerListRequest) ([]models.Customer, int64, error) {
	q := s.db.WithContext(ctx).Model(&models.Customer{})
	if req.Search != "" {
		like := "%" + strings.ToLower(req.Search) + "%"
		q = q.Where("LOWER(name) LIKE ? OR email LIKE ? OR LOWER(company) LIKE ?", like, like, like)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var customers []models.Customer
	if err := q.Order("created_at DESC").
		Offset((req.Page - 1) * req.PageSize).Limit(req.PageSize).
		Find(&customers).Error; err != nil {
		return nil, 0, err
	}
	return customers, total, nil
}

// ResolveEmail returns the customer email behind an action target.
func (s *CustomerService) ResolveEmail(ctx context.Context, target automation.Target) (string, error) {
	customerID := target.ID
	if target.Kind == automation.TargetConversation {
		var conv models.Conversation
		if err := s.db.WithContext(ctx).Select("customer_id").First(&conv, "id = ?", target.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return "", ErrConversationNotFound
			}
			return "", err
		}
		customerID = conv.CustomerID
	}
	c, err := s.GetCustomer(ctx, customerID)
	if err != nil {
		return "", err
	}
	if c.Email == "" {
		return "", fmt.Errorf("customer %s has no email", c.ID)
	}
	return c.Email, nil
}
