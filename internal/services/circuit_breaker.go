package services

import (
	"sync"
	"time"

	"sampark/internal/config"
)

// CircuitBreakerState 熔断器状态
type CircuitBreakerState int

const (
	StateClosedCB   CircuitBreakerState = iota // 关闭状态（正常）
	StateOpenCB                                // 开启状态（熔断）
	StateHalfOpenCB                            // 半开状态（试探）
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosedCB:
		return "closed"
	case StateOpenCB:
		return "open"
	case StateHalfOpenCB:
		return "half-open"
	default:
		return "unknown"
	}
}

// DefaultCircuitBreakerConfig 默认熔断器配置
func DefaultCircuitBreakerConfig() config.CircuitBreakerConfig {
	return config.CircuitBreakerConfig{
		Enabled:         true,
		MaxFailures:     5,
		ResetTimeout:    60 * time.Second,
		HalfOpenMaxReqs: 3,
	}
}

// CircuitBreaker guards one collaborator, e.g. the SMTP relay behind send_email.
type CircuitBreaker struct {
	name         string
	cfg          config.CircuitBreakerConfig
	state        CircuitBreakerState
	failureCount int
	lastFailTime time.Time
	halfOpenReqs int
	halfOpenAt   time.Time
	now          func() time.Time
	mutex        sync.Mutex
}

// NewCircuitBreaker 创建熔断器，零值配置项使用默认值
func NewCircuitBreaker(name string, cfg config.CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.HalfOpenMaxReqs <= 0 {
		cfg.HalfOpenMaxReqs = def.HalfOpenMaxReqs
	}
	return &CircuitBreaker{name: name, cfg: cfg, state: StateClosedCB, now: time.Now}
}

func (cb *CircuitBreaker) Name() string { return cb.name }

// Allow 检查是否允许请求通过
func (cb *CircuitBreaker) Allow() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateClosedCB:
		return true
	case StateOpenCB:
		if cb.now().Sub(cb.lastFailTime) > cb.cfg.ResetTimeout {
			cb.state = StateHalfOpenCB
			cb.halfOpenReqs = 1
			cb.halfOpenAt = cb.now()
			return true
		}
		return false
	case StateHalfOpenCB:
		if cb.halfOpenReqs < cb.cfg.HalfOpenMaxReqs {
			cb.halfOpenReqs++
			return true
		}
		// 试探请求未回报结果，超时后重新放行
		if cb.now().Sub(cb.halfOpenAt) > cb.cfg.ResetTimeout {
			cb.halfOpenReqs = 1
			cb.halfOpenAt = cb.now()
			return true
		}
		return false
	default:
		return false
	}
}

// OnSuccess 记录成功请求
func (cb *CircuitBreaker) OnSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failureCount = 0
	if cb.state == StateHalfOpenCB {
		cb.state = StateClosedCB
		cb.halfOpenReqs = 0
	}
}

// OnFailure 记录失败请求
func (cb *CircuitBreaker) OnFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failureCount++
	cb.lastFailTime = cb.now()

	switch cb.state {
	case StateClosedCB:
		if cb.failureCount >= cb.cfg.MaxFailures {
			cb.state = StateOpenCB
		}
	case StateHalfOpenCB:
		// 半开状态失败，立即重新熔断
		cb.state = StateOpenCB
		cb.halfOpenReqs = 0
	}
}

// State 获取当前状态
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// Reset 重置熔断器
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.state = StateClosedCB
	cb.failureCount = 0
	cb.halfOpenReqs = 0
}

// CircuitBreakerStats is the externally visible breaker state.
type CircuitBreakerStats struct {
	Name         string    `json:"name"`
	State        string    `json:"state"`
	FailureCount int       `json:"failure_count"`
	LastFailTime time.Time `json:"last_fail_time,omitempty"`
}

// Stats 获取熔断器统计信息
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return CircuitBreakerStats{
		Name:         cb.name,
		State:        cb.state.String(),
		FailureCount: cb.failureCount,
		LastFailTime: cb.lastFailTime,
	}
}

// BreakerRegistry keeps one breaker per guarded collaborator.
type BreakerRegistry struct {
	cfg      config.CircuitBreakerConfig
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

func NewBreakerRegistry(cfg config.CircuitBreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{cfg: cfg, breakers: make(map[string]*CircuitBreaker)}
}

// Get returns the breaker for name, creating it on first use.
func (r *BreakerRegistry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb := NewCircuitBreaker(name, r.cfg)
	r.breakers[name] = cb
	return cb
}

// Stats 所有熔断器状态
func (r *BreakerRegistry) Stats() []CircuitBreakerStats {
	r.mu.Lock()
	list := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		list = append(list, cb)
	}
	r.mu.Unlock()

	out := make([]CircuitBreakerStats, 0, len(list))
	for _, cb := range list {
		out = append(out, cb.Stats())
	}
	return out
}
