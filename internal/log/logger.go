package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds the chatd process logger with the given level string (trace,
// debug, info, warn, error). Output is human-readable console by default;
// setting FILMCOLLECTIVE_LOG_JSON switches to raw JSON lines for the
// platform's log aggregation. Every line carries a service tag so chatd
// entries stay attributable next to the other platform services.
func New(level string) *zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	logger := zerolog.New(output()).Level(parseLevel(level)).With().
		Timestamp().
		Str("service", "chatd").
		Logger()
	return &logger
}

func output() io.Writer {
	if os.Getenv("FILMCOLLECTIVE_LOG_JSON") != "" {
		return os.Stdout
	}
	return zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
