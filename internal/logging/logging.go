// Package logging builds the application logger from configuration.
package logging

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/treatment-outcome-server/internal/domain"
)

// NewLogger creates a logrus logger per the logging configuration.
// Unknown levels fall back to info rather than failing startup; the config
// manager has already validated the level by the time this runs.
func NewLogger(cfg domain.LoggingConfig) *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if strings.ToLower(cfg.Format) == "text" {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	return log
}
