package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// newLogger builds the diagnostic logger.  Unknown levels fall back to info.
func newLogger(w io.Writer, level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: lvl,
	}))
}

// EventLogger writes timestamped device events to a file.  It is safe for
// concurrent use.  An empty path disables it.
type EventLogger struct {
	filePath string
	mu       sync.Mutex
	now      func() time.Time
}

// NewEventLogger creates a logger appending to filePath.
func NewEventLogger(filePath string) *EventLogger {
	return &EventLogger{filePath: filePath, now: time.Now}
}

// Log writes a single event with timestamp.  Errors are printed to standard
// error and otherwise ignored.
func (el *EventLogger) Log(format string, args ...any) {
	if el == nil || el.filePath == "" {
		return
	}
	el.mu.Lock()
	defer el.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	ts := el.now().Format(time.RFC3339)
	line := fmt.Sprintf("%s - %s\n", ts, msg)
	f, err := os.OpenFile(el.filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "event log error: %v\n", err)
		return
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		fmt.Fprintf(os.Stderr, "event log write error: %v\n", err)
	}
}
