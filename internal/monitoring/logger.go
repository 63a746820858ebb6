// Package monitoring holds the controller's diagnostic logger.
//
// Every package logs through Logf (or the level helpers below) rather than
// calling the log package directly, so tests can mute or capture output
// with SetLogger and the binary can redirect it once with Setup.
package monitoring

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

var debugEnabled atomic.Bool

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetDebug toggles Debugf output.
func SetDebug(on bool) {
	debugEnabled.Store(on)
}

// Log files rotate at logMaxSizeMB and keep logBackups old files, so an
// unattended box never fills its disk.
const (
	logMaxSizeMB = 1
	logBackups   = 9
)

// Setup points the logger at stderr and, when path is non-empty, at a
// size-rotated log file as well. The returned closer releases the file.
func Setup(path string, debug bool) (io.Closer, error) {
	return setup(path, debug, os.Stderr)
}

func setup(path string, debug bool, console io.Writer) (io.Closer, error) {
	SetDebug(debug)

	out := console
	var closer io.Closer = nopCloser{}
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    logMaxSizeMB,
			MaxBackups: logBackups,
		}
		out = io.MultiWriter(console, f)
		closer = f
	}

	logger := log.New(out, "", log.LstdFlags|log.LUTC|log.Lmicroseconds)
	SetLogger(logger.Printf)
	return closer, nil
}

// Debugf logs only when debug output is enabled.
func Debugf(format string, v ...interface{}) {
	if !debugEnabled.Load() {
		return
	}
	Logf("debug: "+format, v...)
}

// Infof logs routine state changes.
func Infof(format string, v ...interface{}) {
	Logf("info: "+format, v...)
}

// Warnf logs recoverable problems: dropped input, command timeouts.
func Warnf(format string, v ...interface{}) {
	Logf("warn: "+format, v...)
}

// Errorf logs failures that trigger a restart or abort an operation.
func Errorf(format string, v ...interface{}) {
	Logf("error: "+format, v...)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
