// Package obslog is the ambient logging/tracing stack SPEC_FULL.md §5
// requires around every suspension point (graph writes, vector upserts,
// embedding calls, reranker calls, bus publish/subscribe), generalizing the
// teacher's internal/observability package (InitLogger, LoggerWithTrace,
// InitOTel) to this system's components.
package obslog

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the global zerolog logger, mirroring the teacher's
// observability.InitLogger: RFC3339Nano timestamps, an optional append-mode
// log file (falling back to stdout if it can't be opened), and the standard
// library logger redirected so nothing bypasses zerolog.
func InitLogger(logPath string, level string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	var w io.Writer = os.Stdout
	if logPath != "" {
		if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			w = f
		} else {
			fmt.Fprintf(os.Stderr, "obslog: failed to open log file %q: %v\n", logPath, err)
		}
	}
	log.Logger = log.Output(w).With().Timestamp().Logger()

	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	lvl := zerolog.InfoLevel
	if level != "" {
		if l, err := zerolog.ParseLevel(level); err == nil {
			lvl = l
		}
	}
	zerolog.SetGlobalLevel(lvl)

	stdlog.SetFlags(0)
	stdlog.SetOutput(log.Logger)
}
