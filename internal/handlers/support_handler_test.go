package handlers

import (
	"context"
	"net/http"
	"strconv"
	"testing"
	"time"

	"sampark/internal/automation"
	"sampark/internal/models"
	"sampark/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (e *testEnv) seedConversation(t *testing.T, email string) (models.Customer, models.Conversation) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/v1/customers", map[string]interface{}{"name": "Ada", "email": email})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var customer models.Customer
	decode(t, w, &customer)

	w = e.do(t, http.MethodPost, "/api/v1/conversations", map[string]interface{}{"customer_id": customer.ID, "subject": "billing"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var conv models.Conversation
	decode(t, w, &conv)
	return customer, conv
}

func TestConversationHandler_ListAndUpdate(t *testing.T) {
	env := newTestEnv(t)
	customer, conv := env.seedConversation(t, "ada@example.com")
	env.seedConversation(t, "bob@example.com")
	require.NoError(t, env.db.Create(&models.Agent{Username: "grace", Status: "online"}).Error)

	w := env.do(t, http.MethodGet, "/api/v1/conversations?customer_id="+customer.ID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var page struct {
		Data  []models.Conversation `json:"data"`
		Total int64                 `json:"total"`
	}
	decode(t, w, &page)
	assert.Equal(t, int64(1), page.Total)
	require.Len(t, page.Data, 1)
	assert.Equal(t, conv.ID, page.Data[0].ID)

	w = env.do(t, http.MethodGet, "/api/v1/conversations?priority=SUPER", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPatch, "/api/v1/conversations/"+conv.ID, map[string]interface{}{
		"priority": "HIGH",
		"assignee": "grace",
		"status":   "closed",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated models.Conversation
	decode(t, w, &updated)
	assert.Equal(t, "HIGH", updated.Priority)
	assert.Equal(t, "agent", updated.AssigneeType)
	assert.Equal(t, "closed", updated.Status)
	assert.NotNil(t, updated.ClosedAt)
	require.NotNil(t, updated.PrioritySetAt)

	// a rule action stamped before the manual edit must not undo it
	target := automation.Target{Kind: automation.TargetConversation, ID: conv.ID}
	require.NoError(t, env.convs.SetConversationPriority(context.Background(), target, automation.PriorityLow, updated.PrioritySetAt.Add(-time.Minute)))
	got, err := env.convs.Get(context.Background(), conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "HIGH", got.Priority)

	w = env.do(t, http.MethodPatch, "/api/v1/conversations/"+conv.ID, map[string]interface{}{"status": "open", "assignee": ""})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &updated)
	assert.Nil(t, updated.ClosedAt)
	assert.Nil(t, updated.AssigneeID)

	w = env.do(t, http.MethodPatch, "/api/v1/conversations/"+conv.ID, map[string]interface{}{"assignee": "nobody"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPatch, "/api/v1/conversations/missing", map[string]interface{}{"status": "open"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCustomerHandler_UpdateCustomer(t *testing.T) {
	env := newTestEnv(t)
	ada, _ := env.seedConversation(t, "ada@example.com")
	env.seedConversation(t, "bob@example.com")

	w := env.do(t, http.MethodPatch, "/api/v1/customers/"+ada.ID, map[string]interface{}{"name": "Ada L", "company": "Engines"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var customer models.Customer
	decode(t, w, &customer)
	assert.Equal(t, "Ada L", customer.Name)
	assert.Equal(t, "ada@example.com", customer.Email)

	w = env.do(t, http.MethodPatch, "/api/v1/customers/"+ada.ID, map[string]interface{}{"email": "bob@example.com"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPatch, "/api/v1/customers/"+ada.ID, map[string]interface{}{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPatch, "/api/v1/customers/missing", map[string]interface{}{"name": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestKnowledgeDocHandler_CRUD(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/knowledge-base", map[string]interface{}{
		"title":    "Refund policy",
		"content":  "Refunds within 30 days",
		"category": "billing",
		"tags":     []string{"refund"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var doc models.KnowledgeDoc
	decode(t, w, &doc)
	id := strconv.FormatUint(uint64(doc.ID), 10)

	w = env.do(t, http.MethodPost, "/api/v1/knowledge-base", map[string]interface{}{"title": "no body"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/v1/knowledge-base/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &doc)
	assert.Equal(t, 1, doc.Views)

	w = env.do(t, http.MethodPatch, "/api/v1/knowledge-base/"+id, map[string]interface{}{"published": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	decode(t, w, &doc)
	assert.True(t, doc.Published)

	w = env.do(t, http.MethodGet, "/api/v1/knowledge-base?published=true&search=refund", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var page struct {
		Data  []models.KnowledgeDoc `json:"data"`
		Total int64                 `json:"total"`
	}
	decode(t, w, &page)
	assert.Equal(t, int64(1), page.Total)

	w = env.do(t, http.MethodGet, "/api/v1/knowledge-base/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodDelete, "/api/v1/knowledge-base/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, http.MethodGet, "/api/v1/knowledge-base/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatisticsHandler_GetStats(t *testing.T) {
	env := newTestEnv(t)
	env.seedConversation(t, "ada@example.com")

	w := env.do(t, http.MethodGet, "/api/v1/analytics/stats?days=7", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var stats services.SupportStats
	decode(t, w, &stats)
	assert.Equal(t, 7, stats.Days)
	assert.Len(t, stats.Daily, 7)
	assert.Equal(t, int64(1), stats.Overview.TotalConversations)
	assert.Equal(t, int64(1), stats.Overview.NewCustomers)

	w = env.do(t, http.MethodGet, "/api/v1/analytics/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &stats)
	assert.Equal(t, 30, stats.Days)
}
