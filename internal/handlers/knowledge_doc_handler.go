package handlers

import (
	"net/http"
	"strconv"

	"sampark/internal/services"

	"github.com/gin-gonic/gin"
)

// KnowledgeDocHandler 知识库文章处理器
type KnowledgeDocHandler struct {
	service *services.KnowledgeDocService
}

func NewKnowledgeDocHandler(service *services.KnowledgeDocService) *KnowledgeDocHandler {
	return &KnowledgeDocHandler{service: service}
}

func (h *KnowledgeDocHandler) List(c *gin.Context) {
	var req services.KnowledgeDocListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		badRequest(c, "Invalid query parameters", err)
		return
	}
	docs, total, err := h.service.List(c.Request.Context(), &req)
	if err != nil {
		respondError(c, "Failed to list articles", err)
		return
	}
	c.JSON(http.StatusOK, PaginatedResponse{
		Data:     docs,
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Pages:    pages(total, req.PageSize),
	})
}

// Get 读取文章并计数
func (h *KnowledgeDocHandler) Get(c *gin.Context) {
	id, ok := docID(c)
	if !ok {
		return
	}
	doc, err := h.service.View(c.Request.Context(), id)
	if err != nil {
		respondError(c, "Article not found", err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *KnowledgeDocHandler) Create(c *gin.Context) {
	var req services.KnowledgeDocCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request", err)
		return
	}
	doc, err := h.service.Create(c.Request.Context(), &req)
	if err != nil {
		respondError(c, "Failed to create article", err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

func (h *KnowledgeDocHandler) Update(c *gin.Context) {
	id, ok := docID(c)
	if !ok {
		return
	}
	var req services.KnowledgeDocUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request", err)
		return
	}
	doc, err := h.service.Update(c.Request.Context(), id, &req)
	if err != nil {
		respondError(c, "Failed to update article", err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *KnowledgeDocHandler) Delete(c *gin.Context) {
	id, ok := docID(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		respondError(c, "Failed to delete article", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

func docID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		badRequest(c, "Invalid id", err)
		return 0, false
	}
	return uint(id), true
}

func RegisterKnowledgeDocRoutes(r *gin.RouterGroup, handler *KnowledgeDocHandler) {
	kb := r.Group("/knowledge-base")
	{
		kb.GET("", handler.List)
		kb.GET("/:id", handler.Get)
		kb.POST("", handler.Create)
		kb.PATCH("/:id", handler.Update)
		kb.DELETE("/:id", handler.Delete)
	}
}
