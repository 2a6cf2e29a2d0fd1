package base

import "log"

// Logger is the minimal logging surface of this module, mirroring the
// narrow Infof/Errorf shape pebble's own internal/base.Logger exposes to its
// subsystems. pager.Options is the one Options struct that takes a Logger;
// a nil Logger there is replaced by NoopLogger.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// NoopLogger discards everything. It is the default Logger of
// pager.Options.
type NoopLogger struct{}

// Infof implements Logger.
func (NoopLogger) Infof(format string, args ...interface{}) {}

// Errorf implements Logger.
func (NoopLogger) Errorf(format string, args ...interface{}) {}

// StdLogger adapts the standard library's log package to Logger. Useful for
// debugging; not used by default.
type StdLogger struct{}

// Infof implements Logger.
func (StdLogger) Infof(format string, args ...interface{}) { log.Printf("INFO: "+format, args...) }

// Errorf implements Logger.
func (StdLogger) Errorf(format string, args ...interface{}) { log.Printf("ERROR: "+format, args...) }
