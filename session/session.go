// Package session ties one editing session together: the graph store, the
// canvas projection, the conversation transcript and the lifecycle.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	stackflow "github.com/goliatone/go-stackflow"
	"github.com/goliatone/go-stackflow/canvas"
	"github.com/goliatone/go-stackflow/graph"
	"github.com/goliatone/go-stackflow/logging"
	"github.com/goliatone/go-stackflow/readiness"
)

// Stats are the counters shown in the workflow controls.
type Stats struct {
	Nodes       int `json:"nodes"`
	Connections int `json:"connections"`
}

type options struct {
	id         string
	workflowID string
	logger     logging.Logger
	policy     readiness.Policy
	now        func() time.Time
	hooks      []TransitionHook
}

// Option configures a Session.
type Option func(*options)

func WithID(id string) Option {
	return func(o *options) { o.id = id }
}

// WithWorkflowID binds the session to a persisted workflow.
func WithWorkflowID(id string) Option {
	return func(o *options) { o.workflowID = id }
}

func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithPolicy selects the connectivity policy used by Check.
func WithPolicy(p readiness.Policy) Option {
	return func(o *options) { o.policy = p }
}

// WithClock sets the clock used for edge identifiers and transcript entries.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithTransitionHook observes lifecycle transitions.
func WithTransitionHook(h TransitionHook) Option {
	return func(o *options) {
		if h != nil {
			o.hooks = append(o.hooks, h)
		}
	}
}

// validateAttempts bounds how often Validate re-checks a graph that keeps
// changing underneath it.
const validateAttempts = 3

// Session owns the state of one editor.
type Session struct {
	id         string
	store      *graph.Store
	canvas     *canvas.Adapter
	transcript *Transcript
	lifecycle  *Lifecycle
	policy     readiness.Policy
	logger     logging.Logger

	mu         sync.RWMutex
	workflowID string
	savedRev   uint64
	saved      bool

	unsubscribe func()
	closeOnce   sync.Once
}

// New creates an empty session in StateEditing.
func New(opts ...Option) *Session {
	o := options{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}
	logger := logging.With(logging.Normalize(o.logger), map[string]any{"session_id": o.id})

	s := &Session{
		id:         o.id,
		workflowID: o.workflowID,
		policy:     o.policy,
		logger:     logger,
		transcript: NewTranscript(o.now),
	}
	s.store = graph.NewStore(graph.WithLogger(logger))
	s.canvas = canvas.New(s.store, canvas.WithLogger(logger), canvas.WithClock(o.now))
	hooks := append([]TransitionHook{func(from, to State, evt Event) {
		logger.Debug("session %s -> %s on %s", from, to, evt)
	}}, o.hooks...)
	s.lifecycle = NewLifecycle(hooks...)
	s.unsubscribe = s.store.Subscribe(func(graph.Event) {
		// closed sessions reject the event; nothing else to do
		_ = s.lifecycle.Fire(EventMutated)
	})
	return s
}

// Load creates a session bound to workflowID and restores its saved graph.
func Load(ctx context.Context, repo Repository, workflowID string, opts ...Option) (*Session, error) {
	cfg, err := repo.Load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	g, err := cfg.Decode()
	if err != nil {
		return nil, err
	}

	s := New(append(opts, WithWorkflowID(workflowID))...)
	if err := s.store.Replace(g); err != nil {
		s.Close()
		return nil, err
	}
	s.canvas.SeedCounters(g)
	s.MarkSaved(s.store.Revision())
	s.logger.Info("loaded workflow %s with %d nodes", workflowID, len(g.Nodes))
	return s, nil
}

func (s *Session) ID() string                { return s.id }
func (s *Session) Store() *graph.Store       { return s.store }
func (s *Session) Canvas() *canvas.Adapter   { return s.canvas }
func (s *Session) Transcript() *Transcript   { return s.transcript }
func (s *Session) Lifecycle() *Lifecycle     { return s.lifecycle }
func (s *Session) Logger() logging.Logger    { return s.logger }
func (s *Session) Policy() readiness.Policy  { return s.policy }
func (s *Session) State() State              { return s.lifecycle.State() }
func (s *Session) Snapshot() graph.Graph     { return s.store.Snapshot() }
func (s *Session) Check(g graph.Graph) readiness.Result {
	return readiness.Check(g, readiness.WithPolicy(s.policy))
}

// Validate checks the current graph and moves the session to StateReady
// when it passes. The session only stays Ready if the store did not change
// since the checked snapshot; otherwise the newer graph is checked again.
func (s *Session) Validate() (readiness.Result, error) {
	var res readiness.Result
	for attempt := 0; attempt < validateAttempts; attempt++ {
		snap, rev := s.store.SnapshotAt()
		res = s.Check(snap)
		if !res.OK {
			return res, nil
		}
		if err := s.lifecycle.Fire(EventValidated); err != nil {
			return res, err
		}
		if s.store.Revision() == rev {
			return res, nil
		}
		if err := s.lifecycle.Fire(EventMutated); err != nil {
			return res, err
		}
	}
	s.logger.Debug("graph kept changing during validation, staying in %s", s.lifecycle.State())
	return res, nil
}

// Stats counts nodes and connections.
func (s *Session) Stats() Stats {
	g := s.store.Snapshot()
	return Stats{Nodes: len(g.Nodes), Connections: len(g.Edges)}
}

// WorkflowID returns the bound workflow, empty when unbound.
func (s *Session) WorkflowID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workflowID
}

// BindWorkflow associates the session with a persisted workflow.
func (s *Session) BindWorkflow(id string) {
	s.mu.Lock()
	if s.workflowID != id {
		s.saved = false
	}
	s.workflowID = id
	s.mu.Unlock()
}

// MarkSaved records that the store content at rev has been persisted.
func (s *Session) MarkSaved(rev uint64) {
	s.mu.Lock()
	if !s.saved || rev > s.savedRev {
		s.savedRev = rev
	}
	s.saved = true
	s.mu.Unlock()
}

// Dirty reports whether the store changed since the last save.
func (s *Session) Dirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.saved || s.store.Revision() > s.savedRev
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	return s.lifecycle.State() == StateClosed
}

// Close detaches the projection and rejects further lifecycle events.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if err := s.lifecycle.Fire(EventClose); err != nil {
			s.logger.Warn("closing session: %s", stackflow.Detail(err))
		}
		s.unsubscribe()
		s.canvas.Close()
	})
}
