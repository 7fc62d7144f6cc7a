package handlers

import (
	"net/http"

	"sampark/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// StatisticsHandler 统计面板处理器
type StatisticsHandler struct {
	service *services.StatisticsService
	logger  *logrus.Logger
}

func NewStatisticsHandler(service *services.StatisticsService, logger *logrus.Logger) *StatisticsHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &StatisticsHandler{service: service, logger: logger}
}

// GetStats 最近 days 天（默认 30）的会话、客户与自动化统计
func (h *StatisticsHandler) GetStats(c *gin.Context) {
	stats, err := h.service.GetSupportStats(c.Request.Context(), queryInt(c, "days", 30))
	if err != nil {
		h.logger.Errorf("Failed to get support stats: %v", err)
		respondError(c, "Failed to fetch analytics", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func RegisterStatisticsRoutes(r *gin.RouterGroup, h *StatisticsHandler) {
	r.GET("/analytics/stats", h.GetStats)
}
