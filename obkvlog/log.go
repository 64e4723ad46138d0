// Package obkvlog is the client's process-wide structured logger. It
// wraps a single *logrus.Logger, grounded on the logrus.WithField(...)
// call shape used across the retrieved corpus's server-side connection
// handling, so every package logs through one configurable sink instead
// of each reaching for the stdlib log package independently.
package obkvlog

import (
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu  sync.RWMutex
	std = logrus.StandardLogger()
)

// SetLogger replaces the process-wide logger. Tests and hosts embedding
// the client call this once at startup; it is not meant to be toggled
// mid-request.
func SetLogger(l *logrus.Logger) {
	mu.Lock()
	defer mu.Unlock()
	std = l
}

// Logger returns the current process-wide logger.
func Logger() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return std
}

// WithField is a convenience wrapper over Logger().WithField, used at
// every call site that logs one piece of request context (endpoint,
// table, request id).
func WithField(key string, value interface{}) *logrus.Entry {
	return Logger().WithField(key, value)
}

// WithFields wraps Logger().WithFields for multi-field call sites.
func WithFields(fields logrus.Fields) *logrus.Entry {
	return Logger().WithFields(fields)
}
