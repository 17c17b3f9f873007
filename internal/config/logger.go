package config

import (
	"os"

	"github.com/sirupsen/logrus"
)

// logLevel resolves LOG_LEVEL, falling back to info when unset or
// unparseable
func logLevel() logrus.Level {
	if level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		return level
	}
	return logrus.InfoLevel
}

// NewLogger creates a new logger instance with consistent formatting
func NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logLevel())
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05Z07:00",
	})
	return logger
}

// ConfigureGlobalLogger configures the global logrus instance
func ConfigureGlobalLogger() {
	logrus.SetLevel(logLevel())
	logrus.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05Z07:00",
	})
}
