// Package logging builds the process logger.
package logging

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// New returns a logrus logger configured with the given level and format
// ("json" or "text"). Unknown levels fall back to info.
func New(level, format string) *log.Logger {
	logger := log.New()
	logger.SetOutput(os.Stdout)

	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	logger.SetLevel(lvl)

	if format == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return logger
}
