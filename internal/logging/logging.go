// Package logging builds the loggers used across syncspace.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// New returns a prefixed logger writing to stderr.
func New(prefix string) *log.Logger {
	return log.New(os.Stderr, prefix, log.LstdFlags)
}

// NewRotating returns a prefixed logger writing to a rotating file at
// path, falling back to stderr when path is empty. Used by long-running
// processes like the server so logs do not grow without bound.
func NewRotating(prefix, path string) *log.Logger {
	var w io.Writer = os.Stderr
	if path != "" {
		w = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    50, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
	}
	return log.New(w, prefix, log.LstdFlags)
}
