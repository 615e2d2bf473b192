// pkg/logger/logger.go
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

var (
	// Log is the global logger instance. It writes to stderr so that an
	// archive streamed to stdout is never interleaved with log lines.
	Log zerolog.Logger

	out    io.Writer = os.Stderr
	format           = FormatConsole
)

func init() {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.TimeFieldFormat = time.RFC3339Nano
	rebuild(zerolog.InfoLevel)
}

// SetOutput redirects the logger. Level and format are kept.
func SetOutput(w io.Writer) {
	out = w
	rebuild(Log.GetLevel())
}

// SetFormat switches between console lines and one JSON object per line.
func SetFormat(f string) error {
	switch f {
	case FormatConsole, FormatJSON:
	case "":
		f = FormatConsole
	default:
		return fmt.Errorf("unknown log format %q, want %q or %q", f, FormatConsole, FormatJSON)
	}
	format = f
	rebuild(Log.GetLevel())
	return nil
}

func rebuild(level zerolog.Level) {
	w := out
	if format == FormatConsole {
		w = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: "2006-01-02 15:04:05",
		}
	}

	Log = zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Caller().
		Logger()
}

// SetLevel sets the log level
func SetLevel(levelStr string) {
	level, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		Log.Warn().Str("level", levelStr).Msg("invalid log level, defaulting to info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	Log = Log.Level(level)
}
