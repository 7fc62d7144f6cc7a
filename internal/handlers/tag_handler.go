package handlers

import (
	"net/http"

	"sampark/internal/services"

	"github.com/gin-gonic/gin"
)

// TagHandler 标签处理器
type TagHandler struct {
	tags *services.TagService
}

func NewTagHandler(tags *services.TagService) *TagHandler {
	return &TagHandler{tags: tags}
}

// ListTags 标签列表
func (h *TagHandler) ListTags(c *gin.Context) {
	tags, err := h.tags.ListTags(c.Request.Context())
	if err != nil {
		respondError(c, "Failed to list tags", err)
		return
	}
	c.JSON(http.StatusOK, tags)
}

// CreateTag 新建标签
func (h *TagHandler) CreateTag(c *gin.Context) {
	var req services.TagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	tag, err := h.tags.CreateTag(c.Request.Context(), &req)
	if err != nil {
		respondError(c, "Failed to create tag", err)
		return
	}
	c.JSON(http.StatusCreated, tag)
}

func RegisterTagRoutes(r *gin.RouterGroup, h *TagHandler) {
	r.GET("/tags", h.ListTags)
	r.POST("/tags", h.CreateTag)
}
