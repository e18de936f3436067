package server

import (
	"context"
	"sort"
	"sync"

	stackflow "github.com/goliatone/go-stackflow"
	"github.com/goliatone/go-stackflow/execution"
	"github.com/goliatone/go-stackflow/logging"
	"github.com/goliatone/go-stackflow/readiness"
	"github.com/goliatone/go-stackflow/session"
)

// entry is one open editor.
type entry struct {
	coordinator *execution.Coordinator

	mu   sync.Mutex
	last *execution.Future
}

func (e *entry) session() *session.Session {
	return e.coordinator.Session()
}

func (e *entry) setLast(f *execution.Future) {
	e.mu.Lock()
	e.last = f
	e.mu.Unlock()
}

func (e *entry) lastFuture() *execution.Future {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// Registry owns the open sessions of the server.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	executor  execution.Executor
	repo      session.Repository
	coordOpts []execution.Option
	policy    readiness.Policy
	logger    logging.Logger
	onOpen    []func(*execution.Coordinator)
	onClose   []func(sessionID string)
}

// RegistryConfig wires the collaborators shared by every session.
type RegistryConfig struct {
	Executor execution.Executor
	// Repository is optional; without it sessions cannot be loaded or saved.
	Repository  session.Repository
	Policy      readiness.Policy
	Coordinator []execution.Option
	Logger      logging.Logger
	// OnOpen runs for every created or loaded session, for example to track
	// it for autosave.
	OnOpen  func(*execution.Coordinator)
	OnClose func(sessionID string)
}

func NewRegistry(cfg RegistryConfig) *Registry {
	r := &Registry{
		entries:   make(map[string]*entry),
		executor:  cfg.Executor,
		repo:      cfg.Repository,
		coordOpts: cfg.Coordinator,
		policy:    cfg.Policy,
		logger:    logging.Normalize(cfg.Logger),
	}
	if cfg.OnOpen != nil {
		r.onOpen = append(r.onOpen, cfg.OnOpen)
	}
	if cfg.OnClose != nil {
		r.onClose = append(r.onClose, cfg.OnClose)
	}
	return r
}

func (r *Registry) sessionOptions(workflowID string) []session.Option {
	opts := []session.Option{
		session.WithLogger(r.logger),
		session.WithPolicy(r.policy),
	}
	if workflowID != "" {
		opts = append(opts, session.WithWorkflowID(workflowID))
	}
	return opts
}

// Create opens an empty session, optionally bound to workflowID.
func (r *Registry) Create(workflowID string) *execution.Coordinator {
	return r.add(session.New(r.sessionOptions(workflowID)...))
}

// Load opens a session holding the saved graph of workflowID.
func (r *Registry) Load(ctx context.Context, workflowID string) (*execution.Coordinator, error) {
	if r.repo == nil {
		return nil, stackflow.NewError(stackflow.ErrInvalidRequest, "no workflow repository configured", nil, nil)
	}
	s, err := session.Load(ctx, r.repo, workflowID, r.sessionOptions("")...)
	if err != nil {
		return nil, err
	}
	return r.add(s), nil
}

func (r *Registry) add(s *session.Session) *execution.Coordinator {
	opts := append([]execution.Option{}, r.coordOpts...)
	if r.repo != nil {
		opts = append(opts, execution.WithRepository(r.repo))
	}
	c := execution.NewCoordinator(s, r.executor, opts...)

	r.mu.Lock()
	r.entries[s.ID()] = &entry{coordinator: c}
	r.mu.Unlock()

	for _, fn := range r.onOpen {
		fn(c)
	}
	r.logger.Info("opened session %s", s.ID())
	return c
}

func (r *Registry) get(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, stackflow.NewError(stackflow.ErrSessionNotFound, "", nil, map[string]any{"session_id": id})
	}
	return e, nil
}

// Get returns the coordinator of an open session.
func (r *Registry) Get(id string) (*execution.Coordinator, error) {
	e, err := r.get(id)
	if err != nil {
		return nil, err
	}
	return e.coordinator, nil
}

// Close closes and forgets a session.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if !ok {
		return stackflow.NewError(stackflow.ErrSessionNotFound, "", nil, map[string]any{"session_id": id})
	}
	e.session().Close()
	for _, fn := range r.onClose {
		fn(id)
	}
	r.logger.Info("closed session %s", id)
	return nil
}

// CloseAll closes every open session.
func (r *Registry) CloseAll() {
	for _, id := range r.IDs() {
		_ = r.Close(id)
	}
}

// IDs lists open session ids in order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
