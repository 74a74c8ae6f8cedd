package logger

import (
	"io"
	"os"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Options configures the root logger
type Options struct {
	Level  string
	Format string // text or json
	Output io.Writer
}

var (
	root   hclog.Logger = hclog.New(&hclog.LoggerOptions{Name: "redseat", Level: hclog.Info})
	rootMu sync.RWMutex
)

// Init replaces the process-wide root logger
func Init(opts Options) hclog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	level := hclog.LevelFromString(opts.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}

	l := hclog.New(&hclog.LoggerOptions{
		Name:            "redseat",
		Level:           level,
		Output:          out,
		JSONFormat:      opts.Format == "json",
		IncludeLocation: level == hclog.Trace,
	})

	rootMu.Lock()
	root = l
	rootMu.Unlock()
	return l
}

// Root returns the root logger
func Root() hclog.Logger {
	rootMu.RLock()
	defer rootMu.RUnlock()
	return root
}

// Named returns a sub-logger of the root logger
func Named(name string) hclog.Logger {
	return Root().Named(name)
}

// Info logs informational messages with key-value pairs
func Info(msg string, args ...interface{}) {
	Root().Info(msg, args...)
}

// Warn logs warning messages
func Warn(msg string, args ...interface{}) {
	Root().Warn(msg, args...)
}

// Error logs error messages
func Error(msg string, args ...interface{}) {
	Root().Error(msg, args...)
}

// Debug logs debug messages
func Debug(msg string, args ...interface{}) {
	Root().Debug(msg, args...)
}
