package handlers

import (
	"net/http"

	"sampark/internal/automation"
	"sampark/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ConversationHandler 会话与消息处理器
type ConversationHandler struct {
	conversations *services.ConversationService
	messages      *services.MessageService
	tags          *services.TagService
	logger        *logrus.Logger
}

func NewConversationHandler(conversations *services.ConversationService, messages *services.MessageService, tags *services.TagService, logger *logrus.Logger) *ConversationHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &ConversationHandler{conversations: conversations, messages: messages, tags: tags, logger: logger}
}

// CreateConversation 创建会话
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	var req services.ConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	conv, err := h.conversations.Create(c.Request.Context(), &req)
	if err != nil {
		respondError(c, "Failed to create conversation", err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

// ListConversations 会话列表，支持按状态、优先级、渠道、客户过滤
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	var req services.ConversationListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "Invalid query parameters", err)
		return
	}
	convs, total, err := h.conversations.List(c.Request.Context(), &req)
	if err != nil {
		h.logger.Errorf("Failed to list conversations: %v", err)
		respondError(c, "Failed to list conversations", err)
		return
	}
	c.JSON(http.StatusOK, PaginatedResponse{
		Data:     convs,
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Pages:    pages(total, req.PageSize),
	})
}

// UpdateConversation 客服修改状态、优先级或负责人
func (h *ConversationHandler) UpdateConversation(c *gin.Context) {
	var req services.ConversationUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	conv, err := h.conversations.Update(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		respondError(c, "Failed to update conversation", err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// GetConversation 获取会话详情（含标签）
func (h *ConversationHandler) GetConversation(c *gin.Context) {
	ctx := c.Request.Context()
	conv, err := h.conversations.Get(ctx, c.Param("id"))
	if err != nil {
		respondError(c, "Conversation not found", err)
		return
	}
	tags, err := h.tags.TagsFor(ctx, automation.Target{Kind: automation.TargetConversation, ID: conv.ID})
	if err != nil {
		respondError(c, "Failed to load tags", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": conv, "tags": tags})
}

// PostMessage 新消息，同时产生自动化事件
func (h *ConversationHandler) PostMessage(c *gin.Context) {
	var req services.MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	msg, err := h.messages.Ingest(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		if msg != nil {
			h.logger.Warnf("Message %d stored without automation events: %v", msg.ID, err)
			c.JSON(http.StatusCreated, msg)
			return
		}
		respondError(c, "Failed to post message", err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// RegisterConversationRoutes 注册会话路由
func RegisterConversationRoutes(r *gin.RouterGroup, h *ConversationHandler) {
	conv := r.Group("/conversations")
	{
		conv.GET("", h.ListConversations)
		conv.POST("", h.CreateConversation)
		conv.GET("/:id", h.GetConversation)
		conv.PATCH("/:id", h.UpdateConversation)
		conv.POST("/:id/messages", h.PostMessage)
	}
}
