package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"sampark/internal/automation"
	"sampark/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := "file:services_" + name + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return l
}

// stepClock returns a clock that advances one second per call.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

type captureEmitter struct {
	mu     sync.Mutex
	events []automation.RawOccurrence
	err    error
}

func (c *captureEmitter) Emit(_ context.Context, raw automation.RawOccurrence) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, raw)
	return nil
}

func (c *captureEmitter) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

func seedCustomer(t *testing.T, db *gorm.DB, id, email string) *models.Customer {
	t.Helper()
	c := &models.Customer{ID: id, Name: "Customer " + id, Email: email, Source: "web"}
	if err := db.Create(c).Error; err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	return c
}

func seedConversation(t *testing.T, db *gorm.DB, id, customerID string) *models.Conversation {
	t.Helper()
	conv := &models.Conversation{ID: id, CustomerID: customerID, Channel: "web", Status: "open", Priority: "MEDIUM"}
	if err := db.Create(conv).Error; err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	return conv
}
