package util

import (
	"fmt"
	"log"
	"strings"
	"sync"
)

var (
	globalLogger Logger = defaultLogger{}
	globalLock   sync.Mutex
)

// SetLogger replaces the SDK-wide logger. Passing nil panics.
func SetLogger(logger Logger) {
	if logger == nil {
		panic("Can't set the logger to nil")
	}

	globalLock.Lock()
	globalLogger = logger
	globalLock.Unlock()
}

func Infof(format string, a ...any) {
	globalLogger.Infof(format, a...)
}

func Debugf(format string, a ...any) {
	globalLogger.Debugf(format, a...)
}

func Warnf(format string, a ...any) {
	globalLogger.Warnf(format, a...)
}

func Errorf(format string, a ...any) error {
	return globalLogger.Errorf(format, a...)
}

type Logger interface {
	// Infof - Info level print
	Infof(format string, a ...any)
	// Debugf - Debug level print, mostly used for information/tracing
	Debugf(format string, a ...any)
	// Warnf - Warn level print, something that might be a problem
	Warnf(format string, a ...any)
	// Errorf - Error level print - returns an error
	Errorf(format string, a ...any) error
}

type defaultLogger struct{}

func (defaultLogger) Debugf(format string, a ...any) {
	log.Printf("DEBUG: "+ensureNewline(format), a...)
}

func (defaultLogger) Infof(format string, a ...any) {
	log.Printf("INFO: "+ensureNewline(format), a...)
}

func (defaultLogger) Warnf(format string, a ...any) {
	log.Printf("WARN: "+ensureNewline(format), a...)
}

func (defaultLogger) Errorf(format string, a ...any) error {
	log.Printf("ERROR: "+ensureNewline(format), a...)
	return fmt.Errorf(format, a...)
}

func ensureNewline(format string) string {
	if strings.HasSuffix(format, "\n") {
		return format
	}
	return format + "\n"
}

// DiscardLogger drops all log output. Useful in tests.
type DiscardLogger struct{}

func (DiscardLogger) Infof(_ string, _ ...any) {}

func (DiscardLogger) Debugf(_ string, _ ...any) {}

func (DiscardLogger) Warnf(_ string, _ ...any) {}

func (DiscardLogger) Errorf(_ string, _ ...any) error {
	return nil
}
