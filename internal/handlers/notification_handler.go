package handlers

import (
	"net/http"

	"sampark/internal/services"

	"github.com/gin-gonic/gin"
)

// NotificationHandler 站内通知处理器
type NotificationHandler struct {
	notifications *services.NotificationService
	hub           *services.NotificationHub
}

func NewNotificationHandler(notifications *services.NotificationService, hub *services.NotificationHub) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, hub: hub}
}

// ListNotifications 查询通知
func (h *NotificationHandler) ListNotifications(c *gin.Context) {
	list, err := h.notifications.List(c.Request.Context(), c.Query("recipient"), queryInt(c, "limit", 50))
	if err != nil {
		respondError(c, "Failed to list notifications", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// HubStats 在线连接数
func (h *NotificationHandler) HubStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "clients": h.hub.ClientCount()})
}

func RegisterNotificationRoutes(r *gin.RouterGroup, h *NotificationHandler) {
	r.GET("/notifications", h.ListNotifications)
	r.GET("/ws/notifications", h.hub.HandleWebSocket)
	r.GET("/ws/stats", h.HubStats)
}
