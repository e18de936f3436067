package execution

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stackflow "github.com/goliatone/go-stackflow"
	"github.com/goliatone/go-stackflow/canvas"
	"github.com/goliatone/go-stackflow/graph"
	"github.com/goliatone/go-stackflow/readiness"
	"github.com/goliatone/go-stackflow/session"
)

// gatedExecutor blocks every call until release is closed.
type gatedExecutor struct {
	mu       sync.Mutex
	requests []Request
	started  chan struct{}
	release  chan struct{}
	resp     Response
	err      error
}

func newGatedExecutor(resp Response, err error) *gatedExecutor {
	return &gatedExecutor{
		started: make(chan struct{}, 8),
		release: make(chan struct{}),
		resp:    resp,
		err:     err,
	}
}

func (g *gatedExecutor) Execute(ctx context.Context, workflowID string, req Request) (Response, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	g.started <- struct{}{}
	select {
	case <-g.release:
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
	return g.resp, g.err
}

func (g *gatedExecutor) lastRequest() Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[len(g.requests)-1]
}

func drop(t *testing.T, s *session.Session, typ graph.NodeType, x, y float64) graph.Node {
	t.Helper()
	dt, err := s.Canvas().BeginDrag(typ)
	require.NoError(t, err)
	n, err := s.Canvas().Drop(dt, canvas.DropPoint{ClientX: x, ClientY: y})
	require.NoError(t, err)
	return n
}

func connect(t *testing.T, s *session.Session, src, dst string) graph.Edge {
	t.Helper()
	e, err := s.Canvas().Connect(canvas.Connection{Source: src, Target: dst})
	require.NoError(t, err)
	return e
}

func readyStack(t *testing.T) (*session.Session, map[graph.NodeType]graph.Node) {
	t.Helper()
	s := session.New(session.WithWorkflowID("wf-1"))
	t.Cleanup(s.Close)

	nodes := map[graph.NodeType]graph.Node{}
	for i, typ := range graph.NodeTypes() {
		nodes[typ] = drop(t, s, typ, 100+float64(i)*300, 100)
	}
	connect(t, s, nodes[graph.TypeQueryIntake].ID, nodes[graph.TypeKnowledgeBase].ID)
	connect(t, s, nodes[graph.TypeKnowledgeBase].ID, nodes[graph.TypeGenerationEngine].ID)
	connect(t, s, nodes[graph.TypeGenerationEngine].ID, nodes[graph.TypeOutputSink].ID)
	return s, nodes
}

func waitStarted(t *testing.T, g *gatedExecutor) {
	t.Helper()
	select {
	case <-g.started:
	case <-time.After(2 * time.Second):
		t.Fatal("executor was not called")
	}
}

func TestCoordinator_EndToEnd(t *testing.T) {
	s, nodes := readyStack(t)

	first := nodes[graph.TypeQueryIntake]
	assert.Equal(t, graph.Position{X: -28, Y: 40}, first.Position)

	res, err := s.Validate()
	require.NoError(t, err)
	require.True(t, res.OK)
	assert.Equal(t, session.StateReady, s.State())

	exec := newGatedExecutor(Response{Response: "Paris"}, nil)
	c := NewCoordinator(s, exec)

	fut, err := c.Execute(context.Background(), "  What is the capital of France?  ")
	require.NoError(t, err)
	waitStarted(t, exec)
	assert.Equal(t, session.StatePending, s.State())
	assert.Equal(t, "What is the capital of France?", exec.lastRequest().Query)

	_, err = c.Execute(context.Background(), "again")
	require.Error(t, err)
	assert.True(t, stackflow.HasCode(err, stackflow.ErrCodeExecutionInFlight))

	close(exec.release)
	outcome, err := fut.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Paris", outcome.Response)
	assert.Equal(t, []string{nodes[graph.TypeOutputSink].ID}, outcome.Sinks)

	out, ok := s.Store().Node(nodes[graph.TypeOutputSink].ID)
	require.True(t, ok)
	assert.Equal(t, "Paris", out.Config.(*graph.OutputConfig).Result)
	assert.Equal(t, session.StateEditing, s.State())

	entries := s.Transcript().Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, session.RoleUser, entries[0].Role)
	assert.Equal(t, "Paris", entries[1].Content)

	removed, err := s.Store().RemoveNode(nodes[graph.TypeKnowledgeBase].ID)
	require.NoError(t, err)
	assert.Len(t, removed, 2)
	assert.Len(t, s.Store().Edges(), 1)
}

func TestCoordinator_RefusesInvalidInput(t *testing.T) {
	s := session.New()
	t.Cleanup(s.Close)
	c := NewCoordinator(s, ExecutorFunc(func(context.Context, string, Request) (Response, error) {
		t.Fatal("executor must not be called")
		return Response{}, nil
	}))

	_, err := c.Execute(context.Background(), "   ")
	assert.True(t, stackflow.HasCode(err, stackflow.ErrCodeEmptyQuery))
	assert.Equal(t, "Please enter a query", stackflow.Detail(err))

	_, err = c.Execute(context.Background(), "hello")
	assert.Equal(t, readiness.ReasonEmpty, readiness.ReasonOf(err))

	q := drop(t, s, graph.TypeQueryIntake, 0, 0)
	_, err = c.Execute(context.Background(), "hello")
	assert.Equal(t, readiness.ReasonMissingRequiredRoles, readiness.ReasonOf(err))

	out := drop(t, s, graph.TypeOutputSink, 0, 0)
	_, err = c.Execute(context.Background(), "hello")
	assert.Equal(t, readiness.ReasonDisconnected, readiness.ReasonOf(err))

	assert.Equal(t, session.StateEditing, s.State())
	assert.Zero(t, s.Transcript().Len())
	_ = q
	_ = out
}

func TestCoordinator_SnapshotIsolation(t *testing.T) {
	s, nodes := readyStack(t)
	exec := newGatedExecutor(Response{Message: "answer"}, nil)
	c := NewCoordinator(s, exec)

	fut, err := c.Execute(context.Background(), "q")
	require.NoError(t, err)
	waitStarted(t, exec)

	// edits while pending are allowed and do not reach the dispatched request
	extra := drop(t, s, graph.TypeOutputSink, 0, 0)
	_, err = s.Store().RemoveNode(nodes[graph.TypeOutputSink].ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatePending, s.State())

	req := exec.lastRequest()
	require.NotNil(t, req.Workflow)
	assert.Len(t, req.Workflow.Nodes, 4)

	close(exec.release)
	outcome, err := fut.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "answer", outcome.Response)
	assert.Empty(t, outcome.Sinks)

	n, ok := s.Store().Node(extra.ID)
	require.True(t, ok)
	assert.Empty(t, n.Config.(*graph.OutputConfig).Result)
}

func TestCoordinator_FailureDetail(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "backend detail",
			err: stackflow.NewError(stackflow.ErrCollaborator, "Workflow not found", nil,
				map[string]any{"detail": "Workflow not found"}),
			want: "Workflow not found",
		},
		{name: "no detail", err: context.DeadlineExceeded, want: FallbackDetail},
		{
			name: "unauthorized",
			err:  stackflow.NewError(stackflow.ErrUnauthorized, "token expired", nil, nil),
			want: "token expired",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, _ := readyStack(t)
			exec := newGatedExecutor(Response{}, tc.err)
			close(exec.release)
			c := NewCoordinator(s, exec)

			fut, err := c.Execute(context.Background(), "q")
			require.NoError(t, err)
			outcome, err := fut.Wait(context.Background())
			require.Error(t, err)
			assert.Equal(t, tc.want, outcome.Detail)

			entries := s.Transcript().Entries()
			require.Len(t, entries, 2)
			assert.True(t, entries[1].Error)
			assert.Equal(t, tc.want, entries[1].Content)
			assert.Equal(t, session.StateEditing, s.State())
		})
	}
}

func TestCoordinator_HistoryAndOptions(t *testing.T) {
	s, nodes := readyStack(t)
	_, err := s.Store().UpdateNode(nodes[graph.TypeGenerationEngine].ID,
		graph.Patch{Config: map[string]any{"enable_web_search": true}})
	require.NoError(t, err)

	s.Transcript().AppendUser("hi")
	s.Transcript().AppendAssistant("hello")
	s.Transcript().AppendError("Sorry")

	exec := newGatedExecutor(Response{Response: "ok"}, nil)
	close(exec.release)
	c := NewCoordinator(s, exec, WithDocuments(func() []string { return []string{"doc-1"} }))

	fut, err := c.Execute(context.Background(), "next")
	require.NoError(t, err)
	_, err = fut.Wait(context.Background())
	require.NoError(t, err)

	req := exec.lastRequest()
	assert.Equal(t, []session.HistoryMessage{
		{Role: session.RoleUser, Content: "hi"},
		{Role: session.RoleAssistant, Content: "hello"},
	}, req.ConversationHistory)
	assert.Equal(t, []string{"doc-1"}, req.ContextDocuments)
	require.NotNil(t, req.Options)
	assert.True(t, req.Options.EnableWebSearch)
}

func TestCoordinator_PanicSettles(t *testing.T) {
	s, _ := readyStack(t)
	c := NewCoordinator(s, ExecutorFunc(func(context.Context, string, Request) (Response, error) {
		panic("boom")
	}))

	fut, err := c.Execute(context.Background(), "q")
	require.NoError(t, err)
	outcome, err := fut.Wait(context.Background())
	require.Error(t, err)
	assert.Equal(t, FallbackDetail, outcome.Detail)
	assert.Equal(t, session.StateEditing, s.State())
}

func TestCoordinator_Save(t *testing.T) {
	s, _ := readyStack(t)
	repo := session.NewMemoryRepository()
	c := NewCoordinator(s, nil, WithRepository(repo))

	require.True(t, s.Dirty())
	require.NoError(t, c.Save(context.Background()))
	assert.False(t, s.Dirty())

	saved, err := repo.Load(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Len(t, saved.Nodes, 4)
	assert.Len(t, saved.Edges, 3)

	empty := session.New(session.WithWorkflowID("wf-2"))
	t.Cleanup(empty.Close)
	err = NewCoordinator(empty, nil, WithRepository(repo)).Save(context.Background())
	assert.Equal(t, readiness.ReasonEmpty, readiness.ReasonOf(err))

	unbound := session.New()
	t.Cleanup(unbound.Close)
	err = NewCoordinator(unbound, nil, WithRepository(repo)).Save(context.Background())
	assert.True(t, stackflow.HasCode(err, stackflow.ErrCodeInvalidRequest))
}
