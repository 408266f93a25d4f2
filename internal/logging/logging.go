// Package logging builds the zap loggers used by the strata CLI.
package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Formats accepted by New.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// New returns a logger writing to w at level. format is "console" (the
// default when empty) or "json".
func New(w io.Writer, level zapcore.Level, format string) (*zap.Logger, error) {
	config := zap.NewProductionEncoderConfig()
	config.EncodeTime = func(ts time.Time, encoder zapcore.PrimitiveArrayEncoder) {
		encoder.AppendString(ts.UTC().Format(time.RFC3339))
	}
	config.EncodeDuration = func(d time.Duration, encoder zapcore.PrimitiveArrayEncoder) {
		encoder.AppendString(d.String())
	}

	var encoder zapcore.Encoder
	switch strings.ToLower(format) {
	case "", FormatConsole:
		encoder = zapcore.NewConsoleEncoder(config)
	case FormatJSON:
		encoder = zapcore.NewJSONEncoder(config)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	return zap.New(zapcore.NewCore(
		encoder,
		zapcore.Lock(zapcore.AddSync(w)),
		level,
	)), nil
}

// Level resolves the effective level. quiet wins over verbosity; each -v
// lowers the configured base level by one step, down to debug.
func Level(base string, verbosity int, quiet bool) (zapcore.Level, error) {
	if quiet {
		return zapcore.ErrorLevel, nil
	}
	lvl := zapcore.InfoLevel
	if base != "" {
		if err := lvl.UnmarshalText([]byte(base)); err != nil {
			return lvl, fmt.Errorf("invalid log level %q: %w", base, err)
		}
	}
	lvl -= zapcore.Level(verbosity)
	if lvl < zapcore.DebugLevel {
		lvl = zapcore.DebugLevel
	}
	return lvl, nil
}
