// 日志管理器
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"reachmaster/internal/config"

	"github.com/sirupsen/logrus"
)

// LoggerManager 日志管理器
type LoggerManager struct {
	logger *logrus.Logger
	config *config.LogConfig
}

// LoggerInstance 全局日志实例
var LoggerInstance *LoggerManager

// InitLogger 初始化日志管理器
// 根据配置文件初始化logrus实例，支持多种输出方式和格式
func InitLogger(cfg *config.LogConfig) (*LoggerManager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("log config cannot be nil")
	}

	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		// 解析失败时默认使用info级别
		level = logrus.InfoLevel
		logger.Warnf("Invalid log level '%s', using 'info' as default", cfg.Level)
	}
	logger.SetLevel(level)

	if err := setLogFormatter(logger, cfg); err != nil {
		return nil, fmt.Errorf("failed to set log formatter: %w", err)
	}

	if err := setLogOutput(logger, cfg); err != nil {
		return nil, fmt.Errorf("failed to set log output: %w", err)
	}

	logger.SetReportCaller(cfg.Caller)

	lm := &LoggerManager{
		logger: logger,
		config: cfg,
	}
	LoggerInstance = lm
	return lm, nil
}

// setLogFormatter 设置日志格式化器
func setLogFormatter(logger *logrus.Logger, cfg *config.LogConfig) error {
	// 毫秒精度时间戳，不显示时区
	timestampFormat := "2006-01-02 15:04:05.000"

	switch strings.ToLower(cfg.Format) {
	case "json":
		// JSON格式化器，适合生产环境和日志分析
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
				logrus.FieldKeyFunc:  "function",
				logrus.FieldKeyFile:  "file",
			},
		})
	case "text":
		// 文本格式化器，适合开发环境和控制台输出
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: timestampFormat,
			FullTimestamp:   true,
			ForceColors:     true,
		})
	default:
		return fmt.Errorf("unsupported log format: %s", cfg.Format)
	}
	return nil
}

// setLogOutput 设置日志输出目标
func setLogOutput(logger *logrus.Logger, cfg *config.LogConfig) error {
	switch strings.ToLower(cfg.Output) {
	case "stdout", "":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	case "file":
		// 文件输出走 lumberjack 滚动写入 [hooks.go]
		if cfg.FilePath == "" {
			return fmt.Errorf("log output 'file' requires file_path")
		}
		logger.SetOutput(io.Discard)
		logger.AddHook(NewFileHook(cfg))
	default:
		return fmt.Errorf("unsupported log output: %s", cfg.Output)
	}
	return nil
}

// GetLogger 获取底层logrus实例
func (lm *LoggerManager) GetLogger() *logrus.Logger {
	return lm.logger
}

// WithFields 以结构化字段创建日志条目
// LoggerInstance 未初始化时(单元测试场景)退化为临时logger，保证调用方永不panic
func WithFields(fields map[string]interface{}) *logrus.Entry {
	if LoggerInstance == nil {
		return logrus.New().WithFields(fields)
	}
	return LoggerInstance.logger.WithFields(logrus.Fields(fields))
}

// LogSystemEvent 记录系统事件日志
// 用于记录系统启动、关闭、组件状态变化等系统级事件
func LogSystemEvent(component, event, message string, extraFields map[string]interface{}) {
	fields := map[string]interface{}{
		"type":      "system",
		"component": component,
		"event":     event,
	}
	for k, v := range extraFields {
		fields[k] = v
	}
	WithFields(fields).Info(message)
}

// LogError 记录错误日志
// 用于记录系统错误、异常和业务错误
func LogError(err error, funcName string, extraFields map[string]interface{}) {
	if err == nil {
		return
	}
	fields := map[string]interface{}{
		"type":      "error",
		"func_name": funcName,
	}
	for k, v := range extraFields {
		fields[k] = v
	}
	WithFields(fields).Errorf("System error occurred: %s", err.Error())
}
