package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"sampark/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Version is set at build time.
var Version = "dev"

// BusHealth reports broker connectivity. eventbus.Connection implements it.
type BusHealth interface {
	Healthy() bool
}

// EnhancedHealthHandler 增强的健康检查处理器
type EnhancedHealthHandler struct {
	config *config.Config
	db     *gorm.DB
	redis  *redis.Client
	bus    BusHealth
	queue  QueueDepther
	logger *logrus.Logger
}

// NewEnhancedHealthHandler 创建增强的健康检查处理器；redis/bus 为空表示未启用
func NewEnhancedHealthHandler(cfg *config.Config, db *gorm.DB, rdb *redis.Client, bus BusHealth, queue QueueDepther) *EnhancedHealthHandler {
	return &EnhancedHealthHandler{
		config: cfg,
		db:     db,
		redis:  rdb,
		bus:    bus,
		queue:  queue,
		logger: logrus.StandardLogger(),
	}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Services  map[string]ServiceInfo `json:"services"`
	System    SystemInfo             `json:"system"`
}

// ServiceInfo 服务信息
type ServiceInfo struct {
	Status  string      `json:"status"`
	Latency string      `json:"latency,omitempty"`
	Error   string      `json:"error,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// SystemInfo 系统信息
type SystemInfo struct {
	Uptime     time.Duration `json:"uptime"`
	Version    string        `json:"version"`
	GoVersion  string        `json:"go_version"`
	Goroutines int           `json:"goroutines"`
}

var startTime = time.Now()

// Health 健康检查端点
func (h *EnhancedHealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Version:   Version,
		Timestamp: time.Now(),
		Services:  make(map[string]ServiceInfo),
		System: SystemInfo{
			Uptime:     time.Since(startTime),
			Version:    Version,
			GoVersion:  runtime.Version(),
			Goroutines: runtime.NumGoroutine(),
		},
	}

	// 数据库是核心依赖，不可用时整体 unhealthy
	if !h.checkDatabase(ctx, &response) {
		response.Status = "unhealthy"
	}
	if !h.checkRedis(ctx, &response) && response.Status == "healthy" {
		response.Status = "degraded"
	}
	if !h.checkBus(&response) && response.Status == "healthy" {
		response.Status = "degraded"
	}
	h.checkDispatcher(&response)

	statusCode := http.StatusOK
	if response.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, response)
}

// Ready 就绪检查端点
func (h *EnhancedHealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	ready := true
	services := make(map[string]string)

	if err := h.pingDatabase(ctx); err != nil {
		services["database"] = "not_ready"
		ready = false
	} else {
		services["database"] = "ready"
	}
	if h.bus != nil {
		if h.bus.Healthy() {
			services["rabbitmq"] = "ready"
		} else {
			services["rabbitmq"] = "not_ready"
			ready = false
		}
	}

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}
	c.JSON(statusCode, map[string]interface{}{
		"ready":     ready,
		"timestamp": time.Now(),
		"services":  services,
	})
}

func (h *EnhancedHealthHandler) pingDatabase(ctx context.Context) error {
	if h.db == nil {
		return gorm.ErrInvalidDB
	}
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// checkDatabase 检查数据库状态
func (h *EnhancedHealthHandler) checkDatabase(ctx context.Context, response *HealthResponse) bool {
	start := time.Now()
	info := ServiceInfo{Status: "healthy"}
	if h.config != nil {
		info.Details = map[string]interface{}{
			"host": h.config.Database.Host,
			"port": h.config.Database.Port,
		}
	}
	if err := h.pingDatabase(ctx); err != nil {
		info.Status = "unhealthy"
		info.Error = err.Error()
	}
	info.Latency = time.Since(start).String()
	response.Services["database"] = info
	return info.Status == "healthy"
}

// checkRedis 检查 Redis 状态
func (h *EnhancedHealthHandler) checkRedis(ctx context.Context, response *HealthResponse) bool {
	if h.redis == nil {
		response.Services["redis"] = ServiceInfo{Status: "disabled"}
		return true
	}
	start := time.Now()
	info := ServiceInfo{Status: "healthy"}
	if err := h.redis.Ping(ctx).Err(); err != nil {
		info.Status = "unhealthy"
		info.Error = err.Error()
		h.logger.Warnf("redis health check failed: %v", err)
	}
	info.Latency = time.Since(start).String()
	response.Services["redis"] = info
	return info.Status == "healthy"
}

func (h *EnhancedHealthHandler) checkBus(response *HealthResponse) bool {
	if h.bus == nil {
		response.Services["rabbitmq"] = ServiceInfo{Status: "disabled"}
		return true
	}
	if !h.bus.Healthy() {
		response.Services["rabbitmq"] = ServiceInfo{Status: "unhealthy", Error: "connection closed"}
		return false
	}
	response.Services["rabbitmq"] = ServiceInfo{Status: "healthy"}
	return true
}

func (h *EnhancedHealthHandler) checkDispatcher(response *HealthResponse) {
	if h.queue == nil {
		return
	}
	depth := h.queue.QueueDepth()
	total := 0
	for _, d := range depth {
		total += d
	}
	response.Services["dispatcher"] = ServiceInfo{
		Status:  "healthy",
		Details: map[string]interface{}{"shards": len(depth), "queued": total},
	}
}
