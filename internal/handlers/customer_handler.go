package handlers

import (
	"errors"
	"net/http"

	"sampark/internal/automation"
	"sampark/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// CustomerHandler 客户管理处理器
type CustomerHandler struct {
	customerService *services.CustomerService
	logger          *logrus.Logger
}

// NewCustomerHandler 创建客户处理器
func NewCustomerHandler(customerService *services.CustomerService, logger *logrus.Logger) *CustomerHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &CustomerHandler{
		customerService: customerService,
		logger:          logger,
	}
}

// CreateCustomer 创建客户
// @Summary 创建客户
// @Description 创建新的客户，并触发 customer_created 自动化事件
// @Tags 客户管理
// @Accept json
// @Produce json
// @Param customer body services.CustomerCreateRequest true "客户信息"
// @Success 201 {object} models.Customer
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/customers [post]
func (h *CustomerHandler) CreateCustomer(c *gin.Context) {
	var req services.CustomerCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}

	customer, err := h.customerService.CreateCustomer(c.Request.Context(), &req)
	if err != nil {
		if customer != nil && !errors.Is(err, services.ErrCustomerExists) {
			// stored, only the automation event is missing
			h.logger.Warnf("Customer %s created without automation event: %v", customer.ID, err)
			c.JSON(http.StatusCreated, customer)
			return
		}
		if !errors.Is(err, services.ErrCustomerExists) {
			h.logger.Errorf("Failed to create customer: %v", err)
		}
		respondError(c, "Failed to create customer", err)
		return
	}

	c.JSON(http.StatusCreated, customer)
}

// GetCustomer 获取客户详情
// @Summary 获取客户详情
// @Tags 客户管理
// @Produce json
// @Param id path string true "客户ID"
// @Success 200 {object} models.Customer
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/customers/{id} [get]
func (h *CustomerHandler) GetCustomer(c *gin.Context) {
	customer, err := h.customerService.GetCustomer(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "Customer not found", err)
		return
	}
	c.JSON(http.StatusOK, customer)
}

// UpdateCustomer 更新客户资料
// @Summary 更新客户资料
// @Tags 客户管理
// @Accept json
// @Produce json
// @Param id path string true "客户ID"
// @Param customer body services.CustomerUpdateRequest true "待修改字段"
// @Success 200 {object} models.Customer
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/customers/{id} [patch]
func (h *CustomerHandler) UpdateCustomer(c *gin.Context) {
	var req services.CustomerUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	customer, err := h.customerService.UpdateCustomer(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		respondError(c, "Failed to update customer", err)
		return
	}
	c.JSON(http.StatusOK, customer)
}

// ListCustomers 获取客户列表
// @Summary 获取客户列表
// @Description 获取客户列表，支持分页和搜索
// @Tags 客户管理
// @Produce json
// @Param page query int false "页码"
// @Param page_size query int false "每页大小"
// @Param search query string false "搜索关键词"
// @Success 200 {object} PaginatedResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/customers [get]
func (h *CustomerHandler) ListCustomers(c *gin.Context) {
	var req services.CustomerListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "Invalid query parameters", err)
		return
	}

	customers, total, err := h.customerService.ListCustomers(c.Request.Context(), &req)
	if err != nil {
		h.logger.Errorf("Failed to list customers: %v", err)
		respondError(c, "Failed to list customers", err)
		return
	}

	c.JSON(http.StatusOK, PaginatedResponse{
		Data:     customers,
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Pages:    pages(total, req.PageSize),
	})
}

// GetCustomerTags 获取客户标签
func (h *CustomerHandler) GetCustomerTags(tags *services.TagService) gin.HandlerFunc {
	return func(c *gin.Context) {
		names, err := tags.TagsFor(c.Request.Context(), automation.Target{Kind: automation.TargetCustomer, ID: c.Param("id")})
		if err != nil {
			respondError(c, "Failed to list tags", err)
			return
		}
		c.JSON(http.StatusOK, names)
	}
}

// RegisterCustomerRoutes 注册客户路由
func RegisterCustomerRoutes(r *gin.RouterGroup, h *CustomerHandler, tags *services.TagService) {
	customers := r.Group("/customers")
	{
		customers.GET("", h.ListCustomers)
		customers.POST("", h.CreateCustomer)
		customers.GET("/:id", h.GetCustomer)
		customers.PATCH("/:id", h.UpdateCustomer)
		customers.GET("/:id/tags", h.GetCustomerTags(tags))
	}
}
