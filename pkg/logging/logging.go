// Package logging configures the process-wide slog default handler.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Setup installs the default logger. FMF_LOG_FORMAT selects the
// handler: "json" for machine-readable output, anything else for the
// human text handler. Verbose lowers the level to debug.
func Setup(out io.Writer, verbose bool) {
	if out == nil {
		out = os.Stderr
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(os.Getenv("FMF_LOG_FORMAT"), "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	slog.SetDefault(slog.New(handler))
}
