package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/wiki-hub/wiki-hub/internal/config"
	"github.com/wiki-hub/wiki-hub/internal/version"
)

// serviceHook 给每条日志补上 service/version 标识并把时间戳统一成 UTC，
// 多实例部署时日志聚合靠这两个字段区分来源。
type serviceHook struct{}

func (serviceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (serviceHook) Fire(entry *logrus.Entry) error {
	entry.Time = entry.Time.UTC()
	if _, ok := entry.Data["service"]; !ok {
		entry.Data["service"] = "wiki-hub"
	}
	if _, ok := entry.Data["version"]; !ok {
		entry.Data["version"] = version.Version
	}
	return nil
}

// InitLogger 根据全局配置初始化 JSON 结构化日志，确保文件/控制台输出一致。
func InitLogger(cfg config.GlobalConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("无法解析日志级别: %w", err)
	}

	output, outErr := buildOutput(cfg)
	if outErr != nil {
		fmt.Fprintf(os.Stderr, "logger_fallback: %v\n", outErr)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(output)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	logger.AddHook(serviceHook{})

	logrus.SetFormatter(logger.Formatter)
	logrus.SetOutput(logger.Out)
	logrus.SetLevel(logger.GetLevel())
	logrus.AddHook(serviceHook{})

	if outErr != nil {
		logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   cfg.LogFilePath,
		}).Warn(outErr.Error())
	}

	return logger, nil
}

// buildOutput 根据配置创建日志输出 Writer；失败时降级到 stdout 并返回错误。
func buildOutput(cfg config.GlobalConfig) (io.Writer, error) {
	if cfg.LogFilePath == "" {
		return os.Stdout, nil
	}

	dir := filepath.Dir(cfg.LogFilePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return os.Stdout, fmt.Errorf("创建日志目录失败: %w", err)
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.LogFilePath,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   cfg.LogCompress,
		// 日志字段已统一为 UTC，轮转出的备份文件名同样用 UTC 命名。
		LocalTime: false,
	}
	return rotator, nil
}
