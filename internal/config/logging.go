package config

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogConfig selects the level and format of application logs.
type LogConfig struct {
	Level  string // LOG_LEVEL (debug, info, warn, error)
	Format string // LOG_FORMAT (json, text); json by default in prod
}

// LoadLogConfig reads LOG_LEVEL and LOG_FORMAT. env is the APP_ENV value.
func LoadLogConfig(env string) LogConfig {
	format := "text"
	if env == "prod" {
		format = "json"
	}
	return LogConfig{
		Level:  strings.ToLower(envStr("LOG_LEVEL", "info")),
		Format: strings.ToLower(envStr("LOG_FORMAT", format)),
	}
}

// NewLogger builds a logger writing to w (stderr when nil). Unknown levels
// fall back to info.
func NewLogger(cfg LogConfig, w io.Writer) *logrus.Logger {
	if w == nil {
		w = os.Stderr
	}
	l := logrus.New()
	l.SetOutput(w)
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	if cfg.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l
}

// UseLogger makes l the package-level logrus logger so helpers that log
// through logrus directly share its level, format and output.
func UseLogger(l *logrus.Logger) {
	logrus.SetOutput(l.Out)
	logrus.SetLevel(l.GetLevel())
	logrus.SetFormatter(l.Formatter)
}
