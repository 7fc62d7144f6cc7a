package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const logTimestampFormat = "2006-01-02 15:04:05"

// NewLogger 按配置构建独立的 logger，供引擎与各服务注入使用
func NewLogger(lc LogConfig) (*logrus.Logger, error) {
	logger := logrus.New()
	if err := applyLogConfig(logger, lc); err != nil {
		return nil, err
	}
	return logger, nil
}

// InitLogger 将配置应用到 logrus 标准 logger 并返回它
func InitLogger(cfg *Config) (*logrus.Logger, error) {
	logger := logrus.StandardLogger()
	if err := applyLogConfig(logger, cfg.Log); err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"level":  logger.GetLevel().String(),
		"format": cfg.Log.Format,
		"output": cfg.Log.Output,
	}).Info("logger initialized")
	return logger, nil
}

func applyLogConfig(logger *logrus.Logger, lc LogConfig) error {
	level, err := logrus.ParseLevel(lc.Level)
	if err != nil {
		logger.Warnf("invalid log level %q, using info", lc.Level)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	logger.SetFormatter(logFormatter(lc.Format))

	out, err := logOutput(lc)
	if err != nil {
		return err
	}
	logger.SetOutput(out)
	// 调用者信息只在 debug 及以上开启，减少热路径开销
	logger.SetReportCaller(level >= logrus.DebugLevel)
	return nil
}

func logFormatter(format string) logrus.Formatter {
	if strings.EqualFold(format, "text") {
		return &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: logTimestampFormat}
	}
	return &logrus.JSONFormatter{TimestampFormat: logTimestampFormat}
}

func logOutput(lc LogConfig) (io.Writer, error) {
	output := strings.ToLower(lc.Output)
	if output != "file" && output != "both" {
		return os.Stdout, nil
	}
	if lc.FilePath == "" {
		return nil, fmt.Errorf("log output %q requires log.file_path", lc.Output)
	}
	if err := os.MkdirAll(filepath.Dir(lc.FilePath), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	rotate := &lumberjack.Logger{
		Filename:   lc.FilePath,
		MaxSize:    lc.MaxSize,
		MaxBackups: lc.MaxBackups,
		MaxAge:     lc.MaxAge,
		Compress:   lc.Compress,
		LocalTime:  true,
	}
	if output == "both" {
		return io.MultiWriter(os.Stdout, rotate), nil
	}
	return rotate, nil
}
