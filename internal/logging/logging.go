// Package logging constructs the application logger. Components take a
// *logrus.Entry from the composition root; there is no package-level
// logger to reach for.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a logger from the configured level and format. Unknown
// levels fall back to info.
func New(level, format string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.SetLevel(parsed)

	if format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}
