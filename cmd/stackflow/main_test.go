package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stackflow "github.com/goliatone/go-stackflow"
	"github.com/goliatone/go-stackflow/catalog"
	"github.com/goliatone/go-stackflow/config"
	"github.com/goliatone/go-stackflow/execution"
	"github.com/goliatone/go-stackflow/graph"
	"github.com/goliatone/go-stackflow/logging"
	"github.com/goliatone/go-stackflow/session"
)

func testEnv(out *bytes.Buffer) *Env {
	return &Env{Config: config.Default(), Logger: logging.Discard(), Out: out}
}

func writeWorkflow(t *testing.T, types ...graph.NodeType) string {
	t.Helper()
	var g graph.Graph
	for i, typ := range types {
		n, err := catalog.Instantiate(typ, i+1)
		require.NoError(t, err)
		g.Nodes = append(g.Nodes, n)
	}
	for i := 1; i < len(g.Nodes); i++ {
		g.Edges = append(g.Edges, graph.Edge{
			ID:     "e" + g.Nodes[i-1].ID,
			Source: g.Nodes[i-1].ID,
			Target: g.Nodes[i].ID,
		})
	}
	saved, err := session.Encode(g)
	require.NoError(t, err)
	raw, err := json.Marshal(saved)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "workflow.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	return path
}

func run(t *testing.T, env *Env, args ...string) error {
	t.Helper()
	var globals Globals
	parser, err := newParser(&globals, kong.Exit(func(int) { t.Fatalf("unexpected exit for %v", args) }))
	require.NoError(t, err)
	kctx, err := parser.Parse(args)
	require.NoError(t, err)
	kctx.BindTo(context.Background(), (*context.Context)(nil))
	return kctx.Run(env)
}

func TestValidateCommand(t *testing.T) {
	var out bytes.Buffer
	path := writeWorkflow(t, graph.TypeQueryIntake, graph.TypeGenerationEngine, graph.TypeOutputSink)

	require.NoError(t, run(t, testEnv(&out), "validate", path))
	assert.Equal(t, "ready: 3 nodes, 2 edges (graph-wide)\n", out.String())
}

func TestValidateCommandReportsReason(t *testing.T) {
	var out bytes.Buffer
	path := writeWorkflow(t, graph.TypeQueryIntake)

	err := run(t, testEnv(&out), "check", path)
	require.Error(t, err)
	assert.True(t, stackflow.HasCode(err, stackflow.ErrCodeNotReady))
	assert.Equal(t, "not ready: Workflow must have User Query and Output components\n", out.String())
}

func TestValidateCommandRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{nodes"), 0o600))

	var out bytes.Buffer
	err := run(t, testEnv(&out), "validate", path)
	assert.True(t, stackflow.HasCode(err, stackflow.ErrCodeMalformedPayload))
}

func TestExecuteCommand(t *testing.T) {
	var out bytes.Buffer
	env := testEnv(&out)
	var gotWorkflow string
	var gotReq execution.Request
	env.executor = func() (execution.Executor, error) {
		return execution.ExecutorFunc(func(_ context.Context, workflowID string, req execution.Request) (execution.Response, error) {
			gotWorkflow, gotReq = workflowID, req
			return execution.Response{Response: "echo: " + req.Query}, nil
		}), nil
	}
	path := writeWorkflow(t, graph.TypeQueryIntake, graph.TypeOutputSink)

	require.NoError(t, run(t, env, "run", path, "-q", "  hello ", "--workflow", "wf-9"))
	assert.Equal(t, "echo: hello\n", out.String())
	assert.Equal(t, "wf-9", gotWorkflow)
	require.NotNil(t, gotReq.Workflow)
	assert.Len(t, gotReq.Workflow.Nodes, 2)
}

func TestExecuteCommandNeedsBackend(t *testing.T) {
	var out bytes.Buffer
	env := testEnv(&out)
	env.Config.Backend.BaseURL = ""
	path := writeWorkflow(t, graph.TypeQueryIntake, graph.TypeOutputSink)

	err := run(t, env, "execute", path, "-q", "hi")
	assert.True(t, stackflow.HasCode(err, stackflow.ErrCodeInvalidConfig))
}

func TestCatalogCommand(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(t, testEnv(&out), "catalog"))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 5)
	assert.True(t, strings.HasPrefix(lines[1], "user_query"))
	assert.Contains(t, lines[4], "Display final response")

	out.Reset()
	require.NoError(t, run(t, testEnv(&out), "catalog", "--json"))
	var entries []map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &entries))
	require.Len(t, entries, 4)
	assert.NotNil(t, entries[1]["config"])
}

func TestOpenRepository(t *testing.T) {
	ctx := context.Background()

	cfg := config.Default()
	repo, closeRepo, err := openRepository(ctx, cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &session.MemoryRepository{}, repo)
	require.NoError(t, closeRepo())

	cfg.Store.Driver = config.StoreSQLite
	cfg.Store.DSN = ":memory:"
	repo, closeRepo, err = openRepository(ctx, cfg, nil)
	require.NoError(t, err)
	defer closeRepo()
	saved := session.SavedConfig{Nodes: []session.SavedNode{}, Edges: []graph.Edge{}}
	require.NoError(t, repo.Save(ctx, "wf-1", saved))
	got, err := repo.Load(ctx, "wf-1")
	require.NoError(t, err)
	assert.Empty(t, got.Nodes)

	cfg.Store.Driver = config.StoreBackend
	_, _, err = openRepository(ctx, cfg, nil)
	assert.True(t, stackflow.HasCode(err, stackflow.ErrCodeInvalidConfig))
}

func TestNewEnvAppliesLogLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stackflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store:\n  driver: memory\n"), 0o600))

	env, err := newEnv(Globals{Config: path, LogLevel: "debug"}, &bytes.Buffer{}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, "debug", env.Config.Log.Level)

	_, err = newEnv(Globals{Config: path, LogLevel: "loud"}, &bytes.Buffer{}, &bytes.Buffer{})
	assert.Error(t, err)
}
