// Package cron runs recurring jobs on cron expressions.
package cron

import (
	"context"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"

	stackflow "github.com/goliatone/go-stackflow"
	"github.com/goliatone/go-stackflow/logging"
	"github.com/goliatone/go-stackflow/runner"
)

// Job is the unit of scheduled work.
type Job func(ctx context.Context) error

// JobConfig describes how a job is scheduled and run.
type JobConfig struct {
	Name       string
	Expression string `validate:"required"`
	// Timeout bounds a single run, zero means no limit.
	Timeout    time.Duration
	MaxRetries int `validate:"gte=0"`
}

// Scheduler wraps robfig/cron. Runs of the same job never overlap.
type Scheduler struct {
	mu           sync.Mutex
	cron         *rcron.Cron
	location     *time.Location
	parser       Parser
	logger       logging.Logger
	logLevel     LogLevel
	errorHandler func(error)
	now          func() time.Time

	nextID  int64
	handles map[int64]*jobHandle
}

func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		location: time.Local,
		parser:   DefaultParser,
		logLevel: LogLevelError,
		now:      time.Now,
		handles:  make(map[int64]*jobHandle),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = logging.Normalize(s.logger)
	if s.errorHandler == nil {
		logger := s.logger
		s.errorHandler = func(err error) {
			logger.Error("scheduled job failed: %s", stackflow.Detail(err))
		}
	}
	s.cron = rcron.New(s.engineOptions()...)
	return s
}

func (s *Scheduler) engineOptions() []rcron.Option {
	opts := []rcron.Option{rcron.WithLocation(s.location)}
	if s.parser == SecondsParser {
		opts = append(opts, rcron.WithSeconds())
	}
	var engine rcron.Logger = rcron.DiscardLogger
	if s.logLevel > LogLevelSilent {
		engine = &engineLogger{logger: s.logger, level: s.logLevel}
	}
	opts = append(opts,
		rcron.WithLogger(engine),
		rcron.WithChain(
			rcron.Recover(&panicReporter{handler: s.errorHandler}),
			rcron.SkipIfStillRunning(engine),
		),
	)
	return opts
}

// Schedule registers job under cfg.Expression. The job runs through a
// runner.Handler carrying the configured timeout and retries.
func (s *Scheduler) Schedule(cfg JobConfig, job Job) (Handle, error) {
	if job == nil {
		return nil, stackflow.NewError(stackflow.ErrInvalidRequest, "scheduled job cannot be nil", nil, nil)
	}
	if err := stackflow.ValidateStruct(&cfg, stackflow.ErrInvalidRequest); err != nil {
		return nil, err
	}

	opts := []runner.Option{
		runner.WithLogger(s.logger),
		runner.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, runner.WithTimeout(cfg.Timeout))
	}
	run := runner.NewHandler(opts...)

	h := s.newHandle(cfg.Name)
	entry, err := s.cron.AddFunc(cfg.Expression, func() {
		if !h.begin(s.now()) {
			return
		}
		err := run.Run(context.Background(), job)
		h.end(err)
		if err != nil {
			s.errorHandler(stackflow.NewError(stackflow.ErrCollaborator, "job "+h.name+" failed", err,
				map[string]any{"job": h.name}))
		}
	})
	if err != nil {
		s.remove(h)
		return nil, stackflow.NewError(stackflow.ErrInvalidRequest, "invalid cron expression", err,
			map[string]any{"expression": cfg.Expression})
	}

	s.mu.Lock()
	h.entryID = int(entry)
	s.mu.Unlock()
	s.logger.Debug("scheduled %s on %q", h.name, cfg.Expression)
	return h, nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start(_ context.Context) error {
	s.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for running jobs until ctx ends. All
// handles are marked stopped.
func (s *Scheduler) Stop(ctx context.Context) error {
	wait := s.cron.Stop()

	s.mu.Lock()
	handles := make([]*jobHandle, 0, len(s.handles))
	for _, h := range s.handles {
		handles = append(handles, h)
	}
	s.handles = make(map[int64]*jobHandle)
	s.mu.Unlock()

	for _, h := range handles {
		s.cron.Remove(rcron.EntryID(h.entryID))
		h.finish(StatusStopped)
	}

	select {
	case <-wait.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handles lists the active jobs.
func (s *Scheduler) Handles() []Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Handle, 0, len(s.handles))
	for _, h := range s.handles {
		out = append(out, h)
	}
	return out
}

func (s *Scheduler) newHandle(name string) *jobHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	if name == "" {
		name = "job"
	}
	h := &jobHandle{
		scheduler: s,
		id:        s.nextID,
		name:      name,
		status:    StatusScheduled,
		done:      make(chan struct{}),
	}
	s.handles[h.id] = h
	return h
}

func (s *Scheduler) remove(h *jobHandle) {
	s.mu.Lock()
	_, ok := s.handles[h.id]
	delete(s.handles, h.id)
	entry := h.entryID
	s.mu.Unlock()
	if ok && entry > 0 {
		s.cron.Remove(rcron.EntryID(entry))
	}
}
