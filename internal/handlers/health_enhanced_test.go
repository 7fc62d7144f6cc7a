package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"sampark/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBus bool

func (b fakeBus) Healthy() bool { return bool(b) }

type fixedDepth []int

func (d fixedDepth) QueueDepth() []int { return d }

func healthRouter(h *EnhancedHealthHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	return r
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestEnhancedHealth_Ready_Health(t *testing.T) {
	h := NewEnhancedHealthHandler(config.GetDefaultConfig(), newTestDB(t), nil, fakeBus(true), fixedDepth{1, 2})
	r := healthRouter(h)

	w := get(r, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	var resp HealthResponse
	decode(t, w, &resp)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "disabled", resp.Services["redis"].Status)
	assert.Equal(t, "healthy", resp.Services["rabbitmq"].Status)
	assert.Equal(t, map[string]interface{}{"shards": float64(2), "queued": float64(3)}, resp.Services["dispatcher"].Details)

	w = get(r, "/ready")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestEnhancedHealth_Degraded(t *testing.T) {
	h := NewEnhancedHealthHandler(config.GetDefaultConfig(), newTestDB(t), nil, fakeBus(false), nil)
	r := healthRouter(h)

	w := get(r, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	var resp HealthResponse
	decode(t, w, &resp)
	assert.Equal(t, "degraded", resp.Status)

	w = get(r, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestEnhancedHealth_DatabaseDown(t *testing.T) {
	db := newTestDB(t)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	r := healthRouter(NewEnhancedHealthHandler(config.GetDefaultConfig(), db, nil, nil, nil))
	w := get(r, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	w = get(r, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
