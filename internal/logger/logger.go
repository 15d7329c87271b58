// Package logger builds the process logrus.Logger from configuration.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/evan-idocoding/peon/internal/config"
)

const timestampFormat = "2006-01-02 15:04:05.000"

// New creates a logger for cfg. The returned closer releases the log file, if any.
func New(cfg config.LogConfig) (*logrus.Logger, io.Closer, error) {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	l.SetLevel(level)

	if err := setFormatter(l, cfg.Format); err != nil {
		return nil, nil, err
	}
	closer, err := setOutput(l, cfg)
	if err != nil {
		return nil, nil, err
	}
	l.SetReportCaller(cfg.Caller)
	return l, closer, nil
}

// Apply updates the settings of l that can change at runtime: level and caller reporting.
func Apply(l *logrus.Logger, cfg config.LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	if level != l.GetLevel() {
		prev := l.GetLevel()
		l.SetLevel(level)
		l.WithFields(logrus.Fields{"from": prev.String(), "to": level.String()}).Info("logger: level changed")
	}
	l.SetReportCaller(cfg.Caller)
	return nil
}

func setFormatter(l *logrus.Logger, format string) error {
	switch strings.ToLower(format) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		})
	case "", "text":
		l.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: timestampFormat,
			FullTimestamp:   true,
		})
	default:
		return fmt.Errorf("logger: unsupported format %q", format)
	}
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func setOutput(l *logrus.Logger, cfg config.LogConfig) (io.Closer, error) {
	switch strings.ToLower(cfg.Output) {
	case "", "stderr":
		l.SetOutput(os.Stderr)
	case "stdout":
		l.SetOutput(os.Stdout)
	case "file":
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("logger: file path is required when output is file")
		}
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return nil, fmt.Errorf("logger: create log dir: %w", err)
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		l.SetOutput(lj)
		return lj, nil
	default:
		return nil, fmt.Errorf("logger: unsupported output %q", cfg.Output)
	}
	return nopCloser{}, nil
}
