package logging

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/goliatone/go-logger/glog"
)

// glogLogger adapts a go-logger instance to the Logger contract.
type glogLogger struct {
	logger glog.Logger
}

// NewGlog builds a go-logger backed Logger. format "json" selects the JSON
// encoder, anything else keeps the go-logger default.
func NewGlog(level, format string, out io.Writer) Logger {
	if out == nil {
		out = os.Stdout
	}
	lvl := normalizeLevel(level)
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return FromGlog(glog.NewLogger(glog.WithWriter(out), glog.WithLoggerTypeJSON(), glog.WithLevel(lvl)))
	}
	return FromGlog(glog.NewLogger(glog.WithWriter(out), glog.WithLevel(lvl)))
}

// FromGlog wraps an existing go-logger instance.
func FromGlog(l glog.Logger) Logger {
	if l == nil {
		return NewFmtLogger(nil)
	}
	return glogLogger{logger: l}
}

func (l glogLogger) Trace(msg string, args ...any) { l.logger.Trace(msg, args...) }
func (l glogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l glogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l glogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l glogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
func (l glogLogger) Fatal(msg string, args ...any) { l.logger.Fatal(msg, args...) }

func (l glogLogger) WithContext(ctx context.Context) Logger {
	return glogLogger{logger: l.logger.WithContext(ctx)}
}

func (l glogLogger) WithFields(fields map[string]any) Logger {
	if fl, ok := l.logger.(glog.FieldsLogger); ok {
		return glogLogger{logger: fl.WithFields(fields)}
	}
	return l
}

func normalizeLevel(level string) string {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace", "debug", "info", "warn", "error", "fatal":
		return strings.ToLower(strings.TrimSpace(level))
	case "warning":
		return "warn"
	default:
		return "info"
	}
}
