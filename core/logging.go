package core

import (
	"io"
	"os"

	"chat-gateway/core/config"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger JSON 格式日志；配置了文件时同时写 stdout 与轮转文件
func NewLogger(cfg config.LoggingConfig) (*logrus.Logger, io.Closer) {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.File == "" {
		log.SetOutput(os.Stdout)
		return log, nopCloser{}
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	return log, rotator
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
