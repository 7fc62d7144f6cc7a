package config

import (
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	SMTP       SMTPConfig       `yaml:"smtp"`
	Firebase   FirebaseConfig   `yaml:"firebase"`
	Gemini     GeminiConfig     `yaml:"gemini"`
	Automation AutomationConfig `yaml:"automation"`
	Log        LogConfig        `yaml:"log"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Security   SecurityConfig   `yaml:"security"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Name            string        `yaml:"name"`
	SSLMode         string        `yaml:"sslmode"`
	TimeZone        string        `yaml:"timezone"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DSN 组装 Postgres 连接串
func (d DatabaseConfig) DSN() string {
	ssl := d.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	tz := d.TimeZone
	if tz == "" {
		tz = "UTC"
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=%s",
		d.Host, d.User, d.Password, d.Name, d.Port, ssl, tz)
}

type RedisConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	PoolSize     int    `yaml:"pool_size"`
	MinIdleConns int    `yaml:"min_idle_conns"`
	// SubjectLockTTL bounds how long one instance may hold a subject.
	SubjectLockTTL time.Duration `yaml:"subject_lock_ttl"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type RabbitMQConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	EventsQueue     string `yaml:"events_queue"`
	DeadLetterQueue string `yaml:"dead_letter_queue"`
	OutcomesQueue   string `yaml:"outcomes_queue"`
	PrefetchCount   int    `yaml:"prefetch_count"`
	MaxRedeliveries int    `yaml:"max_redeliveries"`
}

func (r RabbitMQConfig) URL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d/", r.Username, r.Password, r.Host, r.Port)
}

type SMTPConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type FirebaseConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CredentialsPath string `yaml:"credentials_path"`
	ProjectID       string `yaml:"project_id"`
}

type GeminiConfig struct {
	Enabled bool          `yaml:"enabled"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// AutomationConfig 规则引擎配置
type AutomationConfig struct {
	Workers           int                  `yaml:"workers"`
	QueueSize         int                  `yaml:"queue_size"`
	ActionTimeout     time.Duration        `yaml:"action_timeout"`
	MaxRetries        int                  `yaml:"max_retries"`
	InitialBackoff    time.Duration        `yaml:"initial_backoff"`
	MaxBackoff        time.Duration        `yaml:"max_backoff"`
	AutoCreateTags    bool                 `yaml:"auto_create_tags"`
	Keywords          []string             `yaml:"keywords"`
	SentimentAnalysis bool                 `yaml:"sentiment_analysis"`
	CircuitBreaker    CircuitBreakerConfig `yaml:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	MaxFailures     int           `yaml:"max_failures"`
	ResetTimeout    time.Duration `yaml:"reset_timeout"`
	HalfOpenMaxReqs int           `yaml:"half_open_max_requests"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // json, text
	Output     string `yaml:"output"` // stdout, file, both
	FilePath   string `yaml:"file_path"`
	MaxSize    int    `yaml:"max_size"`    // MB
	MaxAge     int    `yaml:"max_age"`     // days
	MaxBackups int    `yaml:"max_backups"` // number of backup files
	Compress   bool   `yaml:"compress"`    // compress backup files
}

type MonitoringConfig struct {
	Enabled bool          `yaml:"enabled"`
	Tracing TracingConfig `yaml:"tracing"`
}

// TracingConfig OpenTelemetry 追踪配置
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`     // OTLP gRPC 端点，例如 http://otel-collector:4317
	Insecure    bool    `yaml:"insecure"`     // 是否使用明文（本地/开发）
	SampleRatio float64 `yaml:"sample_ratio"` // 采样率 0.0~1.0
	ServiceName string  `yaml:"service_name"` // 缺省使用 "sampark"
}

type SecurityConfig struct {
	CORS         CORSConfig         `yaml:"cors"`
	RateLimiting RateLimitingConfig `yaml:"rate_limiting"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

type RateLimitingConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// Load 在默认配置之上合并 viper 读取到的配置文件与环境变量
func Load() *Config {
	cfg := GetDefaultConfig()
	if err := viper.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	}); err != nil {
		panic(err)
	}
	return cfg
}

// GetDefaultConfig 返回默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Password:        "password",
			Name:            "sampark",
			SSLMode:         "disable",
			TimeZone:        "UTC",
			MaxOpenConns:    100,
			MaxIdleConns:    10,
			ConnMaxLifetime: 3600 * time.Second,
		},
		Redis: RedisConfig{
			Host:           "localhost",
			Port:           6379,
			DB:             0,
			PoolSize:       20,
			MinIdleConns:   2,
			SubjectLockTTL: 30 * time.Second,
		},
		RabbitMQ: RabbitMQConfig{
			Host:            "localhost",
			Port:            5672,
			Username:        "guest",
			Password:        "guest",
			EventsQueue:     "automation.events",
			DeadLetterQueue: "automation.events.dlq",
			OutcomesQueue:   "automation.outcomes",
			PrefetchCount:   32,
			MaxRedeliveries: 10,
		},
		SMTP: SMTPConfig{
			Host: "smtp.gmail.com",
			Port: 587,
		},
		Gemini: GeminiConfig{
			Model:   "gemini-1.5-flash",
			Timeout: 10 * time.Second,
		},
		Automation: AutomationConfig{
			Workers:           8,
			QueueSize:         256,
			ActionTimeout:     5 * time.Second,
			MaxRetries:        3,
			InitialBackoff:    200 * time.Millisecond,
			MaxBackoff:        2 * time.Second,
			AutoCreateTags:    false,
			Keywords:          []string{"urgent", "refund", "cancel"},
			SentimentAnalysis: false,
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:         true,
				MaxFailures:     5,
				ResetTimeout:    60 * time.Second,
				HalfOpenMaxReqs: 3,
			},
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			FilePath:   "./logs/sampark.log",
			MaxSize:    100,
			MaxAge:     30,
			MaxBackups: 10,
			Compress:   true,
		},
		Monitoring: MonitoringConfig{
			Enabled: true,
			Tracing: TracingConfig{
				Enabled:     false,
				Endpoint:    "http://localhost:4317",
				Insecure:    true,
				SampleRatio: 0.1,
				ServiceName: "sampark",
			},
		},
		Security: SecurityConfig{
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
			},
			RateLimiting: RateLimitingConfig{
				Enabled:           true,
				RequestsPerMinute: 600,
				Burst:             50,
			},
		},
	}
}
