// Package logging provides a constructor for a JSON-formatted logrus
// logger, the same "logrus.New() + JSONFormatter" setup that
// cmd/server/main.go builds inline for the shared logger; main.go does
// not call New.
package logging

import "github.com/sirupsen/logrus"

// New returns a JSON-formatted logrus logger at the given level.
func New(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	return logger
}
