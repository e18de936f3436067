// Package execution dispatches validated graphs to the execution service and
// places the answers back into the session.
package execution

import (
	"context"
	"strings"
	"time"

	stackflow "github.com/goliatone/go-stackflow"
	"github.com/goliatone/go-stackflow/graph"
	"github.com/goliatone/go-stackflow/logging"
	"github.com/goliatone/go-stackflow/session"
)

// DocumentSource lists the document ids sent as execution context.
type DocumentSource func() []string

// Option configures a Coordinator.
type Option func(*Coordinator)

func WithLogger(l logging.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithRepository enables Save.
func WithRepository(repo session.Repository) Option {
	return func(c *Coordinator) { c.repo = repo }
}

// WithDocuments sets the context document source.
func WithDocuments(src DocumentSource) Option {
	return func(c *Coordinator) { c.documents = src }
}

// WithTimeout bounds each dispatched execution. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

// WithInlineWorkflow controls whether the dispatch snapshot travels with
// the request.
func WithInlineWorkflow(enabled bool) Option {
	return func(c *Coordinator) { c.inline = enabled }
}

// Coordinator runs executions for one session. At most one execution is in
// flight at a time.
type Coordinator struct {
	session   *session.Session
	executor  Executor
	repo      session.Repository
	documents DocumentSource
	timeout   time.Duration
	inline    bool
	logger    logging.Logger
	panics    stackflow.PanicHandler
}

func NewCoordinator(s *session.Session, executor Executor, opts ...Option) *Coordinator {
	c := &Coordinator{
		session:  s,
		executor: executor,
		inline:   true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.logger == nil {
		c.logger = s.Logger()
	}
	c.logger = logging.Normalize(c.logger)
	c.panics = stackflow.MakePanicHandler(c.logger)
	return c
}

// Session returns the coordinated session.
func (c *Coordinator) Session() *session.Session {
	return c.session
}

// Execute validates the current graph and dispatches query. The request is
// built from the snapshot taken here, so later edits never reach it.
func (c *Coordinator) Execute(ctx context.Context, query string) (*Future, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, stackflow.NewError(stackflow.ErrEmptyQuery, "", nil, nil)
	}

	snap, rev := c.session.Store().SnapshotAt()
	if err := c.session.Check(snap).Err(); err != nil {
		return nil, err
	}
	if err := c.session.Lifecycle().Fire(session.EventValidated, session.EventDispatch); err != nil {
		return nil, err
	}

	req, err := c.buildRequest(snap, query)
	if err != nil {
		c.settle()
		return nil, err
	}
	c.session.Transcript().AppendUser(query)

	workflowID := c.session.WorkflowID()
	fut := newFuture(map[string]any{"revision": rev, "workflow_id": workflowID})

	runCtx := context.WithoutCancel(ctx)
	var cancel context.CancelFunc = func() {}
	if c.timeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, c.timeout)
	}

	c.logger.Info("dispatching execution for workflow %q at rev %d", workflowID, rev)
	go func() {
		defer cancel()
		defer c.panics("execution.dispatch", func(err error) {
			c.fail(fut, err)
		}, map[string]any{"workflow_id": workflowID})

		resp, err := c.executor.Execute(runCtx, workflowID, req)
		if err != nil {
			c.fail(fut, err)
			return
		}
		c.succeed(fut, snap, resp)
	}()

	return fut, nil
}

func (c *Coordinator) buildRequest(snap graph.Graph, query string) (Request, error) {
	req := Request{
		Query:               query,
		ConversationHistory: c.session.Transcript().History(),
	}
	if c.documents != nil {
		req.ContextDocuments = c.documents()
	}
	for _, n := range snap.NodesOfType(graph.TypeGenerationEngine) {
		if cfg, ok := n.Config.(*graph.GenerationConfig); ok && cfg.EnableWebSearch {
			req.Options = &RequestOptions{EnableWebSearch: true}
		}
	}
	if c.inline {
		saved, err := session.Encode(snap)
		if err != nil {
			return Request{}, err
		}
		req.Workflow = &saved
	}
	if err := stackflow.ValidateMessage(&req); err != nil {
		return Request{}, err
	}
	return req, nil
}

// succeed writes the answer into every output sink of the dispatched
// snapshot that still exists.
func (c *Coordinator) succeed(fut *Future, snap graph.Graph, resp Response) {
	text := resp.Text()
	var sinks []string
	for _, n := range snap.NodesOfType(graph.TypeOutputSink) {
		_, err := c.session.Store().UpdateNode(n.ID, graph.Patch{Config: map[string]any{"result": text}})
		if err != nil {
			if !stackflow.HasCode(err, stackflow.ErrCodeUnknownNode) {
				c.logger.Warn("writing result to %s: %s", n.ID, stackflow.Detail(err))
			}
			continue
		}
		sinks = append(sinks, n.ID)
	}
	c.session.Transcript().AppendAssistant(text)
	c.settle()
	fut.complete(Outcome{Response: text, Sinks: sinks})
}

func (c *Coordinator) fail(fut *Future, err error) {
	detail := FailureDetail(err)
	c.logger.Error("execution failed: %v", err)
	c.session.Transcript().AppendError(detail)
	c.settle()
	fut.complete(Outcome{Detail: detail, Err: err})
}

func (c *Coordinator) settle() {
	if err := c.session.Lifecycle().Fire(session.EventSettle); err != nil {
		c.logger.Debug("settle: %s", stackflow.Detail(err))
	}
}

// FailureDetail returns the collaborator's detail text when the error carries
// one, otherwise FallbackDetail. Authorization failures keep their message.
func FailureDetail(err error) string {
	if err == nil {
		return ""
	}
	if detail, ok := stackflow.Metadata(err)["detail"].(string); ok && strings.TrimSpace(detail) != "" {
		return detail
	}
	if stackflow.HasCode(err, stackflow.ErrCodeUnauthorized) {
		return stackflow.Detail(err)
	}
	return FallbackDetail
}

// Save validates the current graph and persists it under the session's
// workflow id.
func (c *Coordinator) Save(ctx context.Context) error {
	if c.repo == nil {
		return stackflow.NewError(stackflow.ErrInvalidRequest, "no workflow repository configured", nil, nil)
	}
	workflowID := c.session.WorkflowID()
	if workflowID == "" {
		return stackflow.NewError(stackflow.ErrInvalidRequest, "session is not bound to a workflow", nil, nil)
	}

	snap, rev := c.session.Store().SnapshotAt()
	if err := c.session.Check(snap).Err(); err != nil {
		return err
	}
	saved, err := session.Encode(snap)
	if err != nil {
		return err
	}
	if err := c.repo.Save(ctx, workflowID, saved); err != nil {
		return err
	}
	c.session.MarkSaved(rev)
	c.logger.Info("saved workflow %s at rev %d", workflowID, rev)
	return nil
}
