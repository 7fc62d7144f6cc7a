package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"sampark/internal/automation"
	"sampark/internal/metrics"
	"sampark/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// QueueDepther reports per-shard queue depth. automation.Dispatcher implements it.
type QueueDepther interface {
	QueueDepth() []int
}

// AutomationHandler 管理自动化规则、事件与执行记录
type AutomationHandler struct {
	rules    *services.RuleService
	engine   *automation.Engine
	emitter  automation.Emitter
	breakers *services.BreakerRegistry
	queue    QueueDepther
	logger   *logrus.Logger
}

// NewAutomationHandler 创建自动化处理器；emitter 为空时事件直接交给引擎处理
func NewAutomationHandler(rules *services.RuleService, engine *automation.Engine, emitter automation.Emitter, logger *logrus.Logger) *AutomationHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &AutomationHandler{rules: rules, engine: engine, emitter: emitter, logger: logger}
}

// WithStats exposes breaker state and dispatcher queue depth on the stats endpoint.
func (h *AutomationHandler) WithStats(breakers *services.BreakerRegistry, queue QueueDepther) *AutomationHandler {
	h.breakers = breakers
	h.queue = queue
	return h
}

// ListRules 获取规则列表
func (h *AutomationHandler) ListRules(c *gin.Context) {
	var f services.RuleFilter
	if v := c.Query("enabled"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid query parameters", Message: "enabled must be true or false"})
			return
		}
		f.Enabled = &enabled
	}
	f.TriggerType = automation.EventType(c.Query("trigger_type"))

	rules, err := h.rules.List(c.Request.Context(), f)
	if err != nil {
		respondError(c, "Failed to list rules", err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

// GetRule 获取规则详情
func (h *AutomationHandler) GetRule(c *gin.Context) {
	rule, err := h.rules.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "Failed to get rule", err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// CreateRule 创建规则
func (h *AutomationHandler) CreateRule(c *gin.Context) {
	var req services.RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request", err)
		return
	}
	rule, err := h.rules.Create(c.Request.Context(), &req)
	if err != nil {
		respondError(c, "Failed to create rule", err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// UpdateRule 更新规则
func (h *AutomationHandler) UpdateRule(c *gin.Context) {
	var req services.RuleUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request", err)
		return
	}
	rule, err := h.rules.Update(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		respondError(c, "Failed to update rule", err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// ToggleRule 切换启用状态
func (h *AutomationHandler) ToggleRule(c *gin.Context) {
	h.transition(c, h.rules.Toggle)
}

func (h *AutomationHandler) EnableRule(c *gin.Context) {
	h.transition(c, h.rules.Enable)
}

func (h *AutomationHandler) DisableRule(c *gin.Context) {
	h.transition(c, h.rules.Disable)
}

func (h *AutomationHandler) transition(c *gin.Context, fn func(ctx context.Context, id string) (*automation.Rule, error)) {
	rule, err := fn(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, "Failed to change rule status", err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// DeleteRule 删除规则
func (h *AutomationHandler) DeleteRule(c *gin.Context) {
	if err := h.rules.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, "Failed to delete rule", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

// RuleTestRequest 规则试运行请求
type RuleTestRequest struct {
	Rule  *services.RuleRequest    `json:"rule"`
	Event automation.RawOccurrence `json:"event"`
}

// TestRule 用样例事件试运行规则，不执行任何动作
func (h *AutomationHandler) TestRule(c *gin.Context) {
	var req RuleTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request", err)
		return
	}

	var rule automation.Rule
	if id := c.Param("id"); id != "" {
		stored, err := h.rules.Get(c.Request.Context(), id)
		if err != nil {
			respondError(c, "Failed to get rule", err)
			return
		}
		rule = *stored
	} else {
		if req.Rule == nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: "rule is required"})
			return
		}
		rule = automation.Rule{
			Name:        req.Rule.Name,
			Description: req.Rule.Description,
			Trigger:     req.Rule.Trigger,
			Actions:     req.Rule.Actions,
			Enabled:     true,
			Status:      automation.StatusEnabled,
		}
	}

	res, err := h.engine.DryRun(rule, req.Event)
	if err != nil {
		respondError(c, "Dry run failed", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// RuleOutcomes 查询规则的执行记录
func (h *AutomationHandler) RuleOutcomes(c *gin.Context) {
	out, err := h.engine.Recorder().Query(c.Request.Context(), automation.OutcomeQuery{RuleID: c.Param("id")})
	if err != nil {
		respondError(c, "Failed to query outcomes", err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// EventOutcomes 查询事件的执行记录
func (h *AutomationHandler) EventOutcomes(c *gin.Context) {
	out, err := h.engine.Recorder().Query(c.Request.Context(), automation.OutcomeQuery{EventID: c.Param("id")})
	if err != nil {
		respondError(c, "Failed to query outcomes", err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// IngestEvent 接收外部事件
func (h *AutomationHandler) IngestEvent(c *gin.Context) {
	var raw automation.RawOccurrence
	if err := c.ShouldBindJSON(&raw); err != nil {
		badRequest(c, "Invalid event", err)
		return
	}

	// ingestion time belongs to the bus, not the caller
	raw.IngestedAt = time.Time{}

	// reject malformed input before it reaches the bus
	evt, err := automation.NewNormalizer().Normalize(raw)
	if err != nil {
		respondError(c, "Invalid event", err)
		return
	}
	raw.ID = evt.ID

	ctx := c.Request.Context()
	if h.emitter != nil {
		err = h.emitter.Emit(ctx, raw)
	} else {
		err = h.engine.Handle(ctx, raw, func(procErr error) {
			if procErr != nil {
				h.logger.WithField("event_id", raw.ID).Errorf("automation: event processing failed: %v", procErr)
			}
		})
	}
	if err != nil {
		respondError(c, "Failed to accept event", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": raw.ID, "type": raw.Type, "subject_id": raw.SubjectID})
}

// StatsResponse 引擎运行状态
type StatsResponse struct {
	Engine     metrics.EngineSnapshot         `json:"engine"`
	Rules      int                            `json:"rules"`
	QueueDepth []int                          `json:"queue_depth,omitempty"`
	Breakers   []services.CircuitBreakerStats `json:"breakers,omitempty"`
}

// Stats 获取引擎统计
func (h *AutomationHandler) Stats(c *gin.Context) {
	resp := StatsResponse{
		Engine: metrics.Engine(),
		Rules:  h.engine.Rules().Snapshot().Len(),
	}
	if h.queue != nil {
		resp.QueueDepth = h.queue.QueueDepth()
	}
	if h.breakers != nil {
		resp.Breakers = h.breakers.Stats()
	}
	c.JSON(http.StatusOK, resp)
}

// RegisterAutomationRoutes 注册路由
func RegisterAutomationRoutes(r *gin.RouterGroup, h *AutomationHandler) {
	auto := r.Group("/automation")
	{
		auto.GET("/rules", h.ListRules)
		auto.POST("/rules", h.CreateRule)
		auto.POST("/rules/test", h.TestRule)
		auto.GET("/rules/:id", h.GetRule)
		auto.PATCH("/rules/:id", h.UpdateRule)
		auto.DELETE("/rules/:id", h.DeleteRule)
		auto.POST("/rules/:id/toggle", h.ToggleRule)
		auto.POST("/rules/:id/enable", h.EnableRule)
		auto.POST("/rules/:id/disable", h.DisableRule)
		auto.POST("/rules/:id/test", h.TestRule)
		auto.GET("/rules/:id/outcomes", h.RuleOutcomes)
		auto.POST("/events", h.IngestEvent)
		auto.GET("/events/:id/outcomes", h.EventOutcomes)
		auto.GET("/stats", h.Stats)
	}
}
