// Package autosave periodically persists edited workflows.
package autosave

import (
	"context"
	"sort"
	"sync"
	"time"

	stackflow "github.com/goliatone/go-stackflow"
	"github.com/goliatone/go-stackflow/cron"
	"github.com/goliatone/go-stackflow/logging"
	"github.com/goliatone/go-stackflow/session"
)

// DefaultExpression saves every thirty seconds.
const DefaultExpression = "@every 30s"

// Target is a session that knows how to save itself. execution.Coordinator
// satisfies it.
type Target interface {
	Session() *session.Session
	Save(ctx context.Context) error
}

// Outcome is what happened to one session during a pass.
type Outcome string

const (
	OutcomeSaved    Outcome = "saved"
	OutcomeClean    Outcome = "clean"
	OutcomeUnbound  Outcome = "unbound"
	OutcomeNotReady Outcome = "not_ready"
	OutcomeFailed   Outcome = "failed"
	OutcomeClosed   Outcome = "closed"
)

// Report summarizes one pass, keyed by session id.
type Report struct {
	At       time.Time
	Outcomes map[string]Outcome
	Errors   map[string]error
}

// Count returns how many sessions ended with o.
func (r Report) Count(o Outcome) int {
	n := 0
	for _, got := range r.Outcomes {
		if got == o {
			n++
		}
	}
	return n
}

type Option func(*Autosaver)

func WithLogger(l logging.Logger) Option {
	return func(a *Autosaver) { a.logger = l }
}

// WithExpression sets the cron expression used by Start.
func WithExpression(expr string) Option {
	return func(a *Autosaver) {
		if expr != "" {
			a.expression = expr
		}
	}
}

// WithSaveTimeout bounds each individual save.
func WithSaveTimeout(d time.Duration) Option {
	return func(a *Autosaver) { a.saveTimeout = d }
}

func WithScheduler(s *cron.Scheduler) Option {
	return func(a *Autosaver) { a.scheduler = s }
}

func WithClock(now func() time.Time) Option {
	return func(a *Autosaver) {
		if now != nil {
			a.now = now
		}
	}
}

// Autosaver saves tracked sessions that are bound to a workflow, changed
// since their last save and pass the readiness check.
type Autosaver struct {
	mu      sync.Mutex
	targets map[string]Target

	expression  string
	saveTimeout time.Duration
	scheduler   *cron.Scheduler
	handle      cron.Handle
	logger      logging.Logger
	now         func() time.Time

	lastMu sync.RWMutex
	last   Report
}

func New(opts ...Option) *Autosaver {
	a := &Autosaver{
		targets:     make(map[string]Target),
		expression:  DefaultExpression,
		saveTimeout: 10 * time.Second,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	a.logger = logging.Normalize(a.logger)
	if a.scheduler == nil {
		a.scheduler = cron.NewScheduler(cron.WithLogger(a.logger))
	}
	return a
}

// Track adds t to the autosave set, replacing any target with the same
// session id.
func (a *Autosaver) Track(t Target) {
	if t == nil || t.Session() == nil {
		return
	}
	a.mu.Lock()
	a.targets[t.Session().ID()] = t
	a.mu.Unlock()
}

func (a *Autosaver) Untrack(sessionID string) {
	a.mu.Lock()
	delete(a.targets, sessionID)
	a.mu.Unlock()
}

// Tracked returns the tracked session ids in order.
func (a *Autosaver) Tracked() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.targets))
	for id := range a.targets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RunOnce performs a single pass. Closed sessions are untracked. Save
// failures are reported and retried on the next pass.
func (a *Autosaver) RunOnce(ctx context.Context) Report {
	a.mu.Lock()
	targets := make([]Target, 0, len(a.targets))
	for _, t := range a.targets {
		targets = append(targets, t)
	}
	a.mu.Unlock()

	report := Report{
		At:       a.now(),
		Outcomes: make(map[string]Outcome, len(targets)),
		Errors:   make(map[string]error),
	}
	for _, t := range targets {
		if ctx.Err() != nil {
			break
		}
		s := t.Session()
		outcome, err := a.saveOne(ctx, t, s)
		report.Outcomes[s.ID()] = outcome
		if err != nil {
			report.Errors[s.ID()] = err
		}
		if outcome == OutcomeClosed {
			a.Untrack(s.ID())
		}
	}

	if n := report.Count(OutcomeSaved); n > 0 || len(report.Errors) > 0 {
		a.logger.Info("autosave pass: %d saved, %d failed", n, len(report.Errors))
	}
	a.lastMu.Lock()
	a.last = report
	a.lastMu.Unlock()
	return report
}

func (a *Autosaver) saveOne(ctx context.Context, t Target, s *session.Session) (Outcome, error) {
	switch {
	case s.Closed():
		return OutcomeClosed, nil
	case s.WorkflowID() == "":
		return OutcomeUnbound, nil
	case !s.Dirty():
		return OutcomeClean, nil
	}
	if res := s.Check(s.Snapshot()); !res.OK {
		s.Logger().Debug("autosave skipped: %s", res.Reason.Message())
		return OutcomeNotReady, nil
	}

	if a.saveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.saveTimeout)
		defer cancel()
	}
	if err := t.Save(ctx); err != nil {
		if stackflow.HasCode(err, stackflow.ErrCodeNotReady) {
			return OutcomeNotReady, nil
		}
		s.Logger().Warn("autosave of workflow %s failed: %s", s.WorkflowID(), stackflow.Detail(err))
		return OutcomeFailed, err
	}
	return OutcomeSaved, nil
}

// LastReport returns the result of the most recent pass.
func (a *Autosaver) LastReport() Report {
	a.lastMu.RLock()
	defer a.lastMu.RUnlock()
	return a.last
}

// Start schedules passes on the configured expression and starts the
// scheduler.
func (a *Autosaver) Start(ctx context.Context) error {
	handle, err := a.scheduler.Schedule(cron.JobConfig{
		Name:       "autosave",
		Expression: a.expression,
	}, func(ctx context.Context) error {
		report := a.RunOnce(ctx)
		if len(report.Errors) > 0 {
			return stackflow.NewError(stackflow.ErrCollaborator, "autosave pass had failures", nil,
				map[string]any{"failed": len(report.Errors)})
		}
		return nil
	})
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.handle = handle
	a.mu.Unlock()
	a.logger.Info("autosave scheduled on %q", a.expression)
	return a.scheduler.Start(ctx)
}

// Stop halts scheduling and waits for a running pass until ctx ends.
func (a *Autosaver) Stop(ctx context.Context) error {
	return a.scheduler.Stop(ctx)
}

// Handle returns the scheduled job, nil before Start.
func (a *Autosaver) Handle() cron.Handle {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.handle
}
