// Package app assembles the automation service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"sampark/internal/ai"
	"sampark/internal/automation"
	"sampark/internal/config"
	"sampark/internal/eventbus"
	"sampark/internal/handlers"
	"sampark/internal/middleware"
	"sampark/internal/models"
	"sampark/internal/notify"
	"sampark/internal/services"
	"sampark/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/multierr"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"
)

// App owns every long-lived component of the service.
type App struct {
	cfg    *config.Config
	logger *logrus.Logger

	db    *gorm.DB
	redis *redis.Client
	bus   *eventbus.Connection

	source      automation.EventSource
	emitter     automation.Emitter
	localBus    *automation.LocalBus
	broadcaster *services.RedisRuleBroadcaster

	rules      *services.RuleService
	hub        *services.NotificationHub
	engine     *automation.Engine
	dispatcher *automation.Dispatcher
	router     *gin.Engine

	closers []func() error
	cancel  context.CancelFunc
	done    chan struct{}
}

// OpenDatabase 连接 Postgres，启用追踪时挂载 gorm otel 插件
func OpenDatabase(cfg *config.Config) (*gorm.DB, error) {
	level := logger.Warn
	if cfg.Log.Level == "debug" {
		level = logger.Info
	}
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{Logger: logger.Default.LogMode(level)})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if cfg.Monitoring.Tracing.Enabled {
		if err := db.Use(gormtracing.NewPlugin()); err != nil {
			return nil, fmt.Errorf("gorm tracing: %w", err)
		}
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	return db, nil
}

// Migrate creates or updates every table the service uses.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// New connects to the database and wires the engine. Redis is optional and
// degrades to single-instance operation; RabbitMQ, once enabled, is required.
func New(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*App, error) {
	db, err := OpenDatabase(cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	a, err := Build(ctx, cfg, db, log)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	return a, nil
}

// Build wires the service over an already migrated database.
func Build(ctx context.Context, cfg *config.Config, db *gorm.DB, log *logrus.Logger) (*App, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	a := &App{cfg: cfg, logger: log, db: db}
	if err := a.connectRedis(ctx); err != nil {
		return nil, err
	}
	if err := a.connectBus(); err != nil {
		a.close()
		return nil, err
	}
	if err := a.wire(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) connectRedis(ctx context.Context) error {
	rc := a.cfg.Redis
	if !rc.Enabled {
		return nil
	}
	rdb, err := utils.OpenRedis(ctx, utils.RedisOptions{
		Addr:         rc.Addr(),
		Password:     rc.Password,
		DB:           rc.DB,
		PoolSize:     rc.PoolSize,
		MinIdleConns: rc.MinIdleConns,
	})
	if err != nil {
		a.logger.Warnf("redis unavailable, running without subject locks: %v", err)
		return nil
	}
	a.redis = rdb
	a.closers = append(a.closers, rdb.Close)
	return nil
}

func (a *App) connectBus() error {
	rc := a.cfg.RabbitMQ
	if !rc.Enabled {
		a.localBus = automation.NewLocalBus(a.cfg.Automation.QueueSize, a.logger)
		a.localBus.MaxRedeliveries = rc.MaxRedeliveries
		a.source, a.emitter = a.localBus, a.localBus
		return nil
	}
	conn, err := eventbus.Connect(rc, a.logger)
	if err != nil {
		return err
	}
	a.bus = conn
	a.closers = append(a.closers, conn.Close)

	publisher, err := eventbus.NewPublisher(conn.Channel, rc.EventsQueue, rc.OutcomesQueue, a.logger)
	if err != nil {
		return err
	}
	consumer, err := eventbus.NewConsumer(conn.Channel, eventbus.ConsumerConfig{
		Queue:           rc.EventsQueue,
		DeadLetterQueue: rc.DeadLetterQueue,
		PrefetchCount:   rc.PrefetchCount,
		MaxRedeliveries: rc.MaxRedeliveries,
		RedeliveryDelay: time.Second,
	}, a.logger)
	if err != nil {
		return err
	}
	a.source, a.emitter = consumer, publisher
	return nil
}

func (a *App) wire(ctx context.Context) error {
	cfg, log := a.cfg, a.logger
	ac := cfg.Automation

	validator := automation.Validator{EmailTemplates: notify.TemplateNames()}
	ruleSet := automation.NewRuleSet(nil)
	a.rules = services.NewRuleService(a.db, ruleSet, validator, log)
	if a.redis != nil {
		a.broadcaster = services.NewRedisRuleBroadcaster(a.redis, log)
		a.rules.WithNotifier(a.broadcaster)
	}
	if err := a.rules.Load(ctx); err != nil {
		return err
	}

	conversations := services.NewConversationService(a.db, log)
	tags := services.NewTagService(a.db, log)
	customers := services.NewCustomerService(a.db, a.emitter, log)
	messages := services.NewMessageService(a.db, a.emitter, ac.Keywords, log)
	if ac.SentimentAnalysis && cfg.Gemini.Enabled {
		sentiment, err := ai.NewGeminiSentiment(ctx, cfg.Gemini, log)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, sentiment.Close)
		messages.WithSentiment(sentiment)
	}

	var push services.PushSender
	if cfg.Firebase.Enabled {
		fp, err := notify.NewFirebasePush(ctx, cfg.Firebase, log)
		if err != nil {
			return err
		}
		push = fp
	}
	a.hub = services.NewNotificationHub()
	notifications := services.NewNotificationService(a.db, a.hub, push, log)

	collab := automation.Collaborators{
		Conversations: conversations,
		Tags:          tags,
		Notifications: notifications,
	}
	if cfg.SMTP.Enabled {
		sender, err := notify.NewSMTPEmailSender(cfg.SMTP, customers, log)
		if err != nil {
			return err
		}
		collab.Email = sender
	}

	recorder := automation.NewRecorder(services.NewOutcomeStore(a.db))
	breakers := services.NewBreakerRegistry(ac.CircuitBreaker)
	executor := automation.NewExecutor(collab, recorder, automation.ExecutorConfig{
		ActionTimeout:  ac.ActionTimeout,
		MaxRetries:     uint64(max(ac.MaxRetries, 0)),
		InitialBackoff: ac.InitialBackoff,
		MaxBackoff:     ac.MaxBackoff,
		AutoCreateTags: ac.AutoCreateTags,
	}, log)
	if ac.CircuitBreaker.Enabled {
		executor.
			WithBreaker(automation.ActionSendEmail, breakers.Get("email")).
			WithBreaker(automation.ActionSendNotification, breakers.Get("notification"))
	}

	a.engine = automation.NewEngine(ruleSet, automation.NewNormalizer(), executor, recorder, log).
		WithValidator(validator)
	if p, ok := a.emitter.(automation.OutcomePublisher); ok {
		a.engine.WithPublisher(p)
	}
	a.dispatcher = automation.NewDispatcher(a.engine, automation.DispatcherConfig{
		Workers:   ac.Workers,
		QueueSize: ac.QueueSize,
	}, log)
	if a.redis != nil {
		a.dispatcher.WithLocker(services.NewRedisSubjectLocker(a.redis, cfg.Redis.SubjectLockTTL))
	}

	a.router = a.buildRouter(handlerSet{
		automation:    handlers.NewAutomationHandler(a.rules, a.engine, a.emitter, log).WithStats(breakers, a.dispatcher),
		customers:     handlers.NewCustomerHandler(customers, log),
		conversations: handlers.NewConversationHandler(conversations, messages, tags, log),
		tags:          tags,
		notifications: handlers.NewNotificationHandler(notifications, a.hub),
		knowledge:     handlers.NewKnowledgeDocHandler(services.NewKnowledgeDocService(a.db)),
		statistics:    handlers.NewStatisticsHandler(services.NewStatisticsService(a.db, log), log),
	})
	return nil
}

type handlerSet struct {
	automation    *handlers.AutomationHandler
	customers     *handlers.CustomerHandler
	conversations *handlers.ConversationHandler
	tags          *services.TagService
	notifications *handlers.NotificationHandler
	knowledge     *handlers.KnowledgeDocHandler
	statistics    *handlers.StatisticsHandler
}

func (a *App) buildRouter(h handlerSet) *gin.Engine {
	cfg := a.cfg
	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(middleware.CORSMiddleware(cfg))
	r.Use(middleware.RateLimitMiddleware(cfg))
	if cfg.Monitoring.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Monitoring.Tracing.ServiceName))
	}

	var bus handlers.BusHealth
	if a.bus != nil {
		bus = a.bus
	}
	health := handlers.NewEnhancedHealthHandler(cfg, a.db, a.redis, bus, a.dispatcher)
	r.GET("/health", health.Health)
	r.GET("/ready", health.Ready)

	api := r.Group("/api/v1")
	handlers.RegisterAutomationRoutes(api, h.automation)
	handlers.RegisterCustomerRoutes(api, h.customers, h.tags)
	handlers.RegisterConversationRoutes(api, h.conversations)
	handlers.RegisterTagRoutes(api, handlers.NewTagHandler(h.tags))
	handlers.RegisterNotificationRoutes(api, h.notifications)
	handlers.RegisterKnowledgeDocRoutes(api, h.knowledge)
	handlers.RegisterStatisticsRoutes(api, h.statistics)
	return r
}

// Router exposes the HTTP handler.
func (a *App) Router() http.Handler { return a.router }

// Engine exposes the automation engine.
func (a *App) Engine() *automation.Engine { return a.engine }

// Emitter is where producers publish occurrences.
func (a *App) Emitter() automation.Emitter { return a.emitter }

// Start launches the background workers and subscribes the engine to the event source.
func (a *App) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})

	go a.hub.Run(ctx)
	a.dispatcher.Start()
	if a.broadcaster != nil {
		go func() {
			if err := a.broadcaster.Listen(ctx, a.rules); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Warnf("rule broadcast listener stopped: %v", err)
			}
		}()
	}
	go func() {
		defer close(a.done)
		if err := a.source.Subscribe(ctx, a.engine.Handle); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Errorf("event source stopped: %v", err)
		}
	}()
}

// Shutdown stops intake, drains queued events, then releases connections.
func (a *App) Shutdown(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
		select {
		case <-a.done:
		case <-ctx.Done():
		}
	}
	if a.localBus != nil {
		a.localBus.Close()
	}
	err := a.dispatcher.Stop(ctx)
	return multierr.Append(err, a.close())
}

func (a *App) close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	return err
}
