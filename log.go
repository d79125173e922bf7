package main

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
)

// setupLog configures the default logger. Logs go to stderr so the progress
// view owns stdout; BOOKVOX_LOGFILE redirects them to a file instead, which
// is the only way to see them while the interactive view is running.
func setupLog() (func() error, error) {
	log.SetOutput(os.Stderr)
	log.SetReportTimestamp(false)

	if os.Getenv("BOOKVOX_DEBUG") != "" {
		log.SetLevel(log.DebugLevel)
		log.SetReportTimestamp(true)
	}

	if path := os.Getenv("BOOKVOX_LOGFILE"); path != "" {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
		if err != nil {
			return nil, err
		}
		log.SetOutput(f)
		log.SetReportTimestamp(true)
		return f.Close, nil
	}
	return func() error { return nil }, nil
}

// logFileOrDiscard returns the sink for logs while the TUI owns the
// terminal.
func logFileOrDiscard() io.Writer {
	if path := os.Getenv("BOOKVOX_LOGFILE"); path != "" {
		if f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644); err == nil {
			return f
		}
	}
	return io.Discard
}
