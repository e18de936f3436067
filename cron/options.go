package cron

import (
	"fmt"
	"time"

	"github.com/goliatone/go-stackflow/logging"
)

// LogLevel filters what the underlying cron engine reports.
type LogLevel int

const (
	LogLevelSilent LogLevel = iota
	LogLevelError
	LogLevelInfo
	LogLevelDebug
)

// Parser selects the accepted cron expression syntax.
type Parser int

const (
	// DefaultParser accepts five field expressions and descriptors such as
	// "@every 30s".
	DefaultParser Parser = iota
	// SecondsParser requires a leading seconds field.
	SecondsParser
)

type Option func(*Scheduler)

func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

func WithLogger(logger logging.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

func WithLogLevel(level LogLevel) Option {
	return func(s *Scheduler) {
		s.logLevel = level
	}
}

// WithErrorHandler receives job failures and recovered panics.
func WithErrorHandler(handler func(error)) Option {
	return func(s *Scheduler) {
		s.errorHandler = handler
	}
}

func WithParser(p Parser) Option {
	return func(s *Scheduler) {
		s.parser = p
	}
}

// engineLogger adapts logging.Logger to robfig/cron's logger.
type engineLogger struct {
	logger logging.Logger
	level  LogLevel
}

func (l *engineLogger) Info(msg string, keysAndValues ...interface{}) {
	if l.level >= LogLevelDebug {
		l.logger.Debug("cron: %s %v", msg, keysAndValues)
	} else if l.level >= LogLevelInfo {
		l.logger.Info("cron: %s", msg)
	}
}

func (l *engineLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	if l.level >= LogLevelError {
		l.logger.Error("cron: %s: %v %v", msg, err, keysAndValues)
	}
}

// panicReporter forwards panics recovered by the engine to the error handler.
type panicReporter struct {
	handler func(error)
}

func (p *panicReporter) Info(string, ...interface{}) {}

func (p *panicReporter) Error(err error, msg string, keysAndValues ...interface{}) {
	if err == nil {
		err = fmt.Errorf("%s %v", msg, keysAndValues)
	}
	p.handler(err)
}
