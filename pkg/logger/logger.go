// Package logger provides the leveled, component-tagged logging used
// throughout the ingestion core. Every call carries a component tag and
// an optional field bag so log lines can be filtered and machine-parsed
// without string scraping.
package logger

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu  sync.RWMutex
	log = newDefault()
)

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetLevel adjusts the global log level. Accepts logrus level names
// ("debug", "info", "warn", "error"); unrecognized names are ignored.
func SetLevel(name string) {
	lvl, err := logrus.ParseLevel(name)
	if err != nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	log.SetLevel(lvl)
}

// SetJSON switches the formatter between human-readable text and JSON.
func SetJSON(enabled bool) {
	mu.Lock()
	defer mu.Unlock()
	if enabled {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func entry(component string, fields map[string]any) *logrus.Entry {
	mu.RLock()
	base := log
	mu.RUnlock()

	f := make(logrus.Fields, len(fields)+1)
	f["component"] = component
	for k, v := range fields {
		f[k] = v
	}
	return base.WithFields(f)
}

// DebugCF logs a debug-level line tagged with component and fields.
func DebugCF(component, message string, fields map[string]any) {
	entry(component, fields).Debug(message)
}

// InfoCF logs an info-level line tagged with component and fields.
func InfoCF(component, message string, fields map[string]any) {
	entry(component, fields).Info(message)
}

// WarnCF logs a warn-level line tagged with component and fields.
func WarnCF(component, message string, fields map[string]any) {
	entry(component, fields).Warn(message)
}

// ErrorCF logs an error-level line tagged with component and fields.
func ErrorCF(component, message string, fields map[string]any) {
	entry(component, fields).Error(message)
}

// InfoC logs an info-level line tagged with component and no fields.
func InfoC(component, message string) {
	InfoCF(component, message, nil)
}

// WarnC logs a warn-level line tagged with component and no fields.
func WarnC(component, message string) {
	WarnCF(component, message, nil)
}
