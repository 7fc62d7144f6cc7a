package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sampark/internal/automation"
	"sampark/internal/models"
	"sampark/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := "file:handlers_" + name + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

type testEnv struct {
	db       *gorm.DB
	router   *gin.Engine
	rules    *services.RuleService
	convs    *services.ConversationService
	tags     *services.TagService
	engine   *automation.Engine
	breakers *services.BreakerRegistry
}

// newTestEnv wires the API over sqlite with events processed inline.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logrus.New()
	log.SetOutput(io.Discard)

	db := newTestDB(t)
	ruleSet := automation.NewRuleSet(nil)
	rules := services.NewRuleService(db, ruleSet, automation.Validator{}, log)
	convs := services.NewConversationService(db, log)
	tags := services.NewTagService(db, log)
	notifications := services.NewNotificationService(db, nil, nil, log)
	recorder := automation.NewRecorder(services.NewOutcomeStore(db))
	breakers := services.NewBreakerRegistry(services.DefaultCircuitBreakerConfig())
	executor := automation.NewExecutor(automation.Collaborators{
		Conversations: convs,
		Tags:          tags,
		Notifications: notifications,
	}, recorder, automation.DefaultExecutorConfig(), log).
		WithBreaker(automation.ActionSendNotification, breakers.Get("notification"))
	engine := automation.NewEngine(ruleSet, automation.NewNormalizer(), executor, recorder, log)

	emitter := emitterFunc(func(ctx context.Context, raw automation.RawOccurrence) error {
		return engine.Handle(ctx, raw, nil)
	})
	customers := services.NewCustomerService(db, emitter, log)
	messages := services.NewMessageService(db, emitter, []string{"urgent", "refund"}, log)

	r := gin.New()
	api := r.Group("/api/v1")
	RegisterAutomationRoutes(api, NewAutomationHandler(rules, engine, nil, log).WithStats(breakers, nil))
	RegisterCustomerRoutes(api, NewCustomerHandler(customers, log), tags)
	RegisterConversationRoutes(api, NewConversationHandler(convs, messages, tags, log))
	RegisterTagRoutes(api, NewTagHandler(tags))
	RegisterKnowledgeDocRoutes(api, NewKnowledgeDocHandler(services.NewKnowledgeDocService(db)))
	RegisterStatisticsRoutes(api, NewStatisticsHandler(services.NewStatisticsService(db, log), log))

	return &testEnv{db: db, router: r, rules: rules, convs: convs, tags: tags, engine: engine, breakers: breakers}
}

type emitterFunc func(ctx context.Context, raw automation.RawOccurrence) error

func (f emitterFunc) Emit(ctx context.Context, raw automation.RawOccurrence) error {
	return f(ctx, raw)
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("unmarshal: %v body=%s", err, w.Body.String())
	}
}
