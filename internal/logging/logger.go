package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Output formats accepted by New.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// New builds a logger writing to stderr at the given level ("debug", "info",
// "warn", "error"). Unknown levels fall back to info.
func New(level, format string) (*zap.Logger, error) {
	return NewWithWriter(os.Stderr, level, format)
}

// NewWithWriter is New with an explicit sink.
func NewWithWriter(w io.Writer, level, format string) (*zap.Logger, error) {
	lvl := ParseLevel(level)

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "" // CLI output; timestamps add noise
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var enc zapcore.Encoder
	switch strings.ToLower(format) {
	case "", FormatConsole:
		enc = zapcore.NewConsoleEncoder(encCfg)
	case FormatJSON:
		encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, fmt.Errorf("unknown log format: %s", format)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(w), lvl)
	return zap.New(core), nil
}

// ParseLevel maps a level name to a zap level.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
