package logger

import (
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"reachmaster/internal/config"
)

// FileHook 文件输出Hook
// 通过 lumberjack 实现日志文件滚动(大小/数量/天数/压缩)
type FileHook struct {
	writer *lumberjack.Logger
}

// NewFileHook 创建文件输出Hook
func NewFileHook(cfg *config.LogConfig) *FileHook {
	return &FileHook{
		writer: &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		},
	}
}

// Levels 所有级别的日志都写入文件
func (h *FileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire 将格式化后的日志条目写入滚动文件
func (h *FileHook) Fire(entry *logrus.Entry) error {
	line, err := entry.Bytes()
	if err != nil {
		return err
	}
	_, err = h.writer.Write(line)
	return err
}
