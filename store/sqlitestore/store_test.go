package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	stackflow "github.com/goliatone/go-stackflow"
	"github.com/goliatone/go-stackflow/graph"
	"github.com/goliatone/go-stackflow/session"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	// every pooled connection would get its own in-memory database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = db.Close()
	})

	store, err := New(context.Background(), db, "")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return store
}

func sampleConfig() session.SavedConfig {
	return session.SavedConfig{
		Nodes: []session.SavedNode{
			{ID: "user_query-1", Type: graph.TypeQueryIntake, Position: graph.Position{X: 10, Y: 20}, Config: json.RawMessage(`{"placeholder":"Ask"}`)},
			{ID: "output-1", Type: graph.TypeOutputSink, Position: graph.Position{X: 300, Y: 20}, Config: json.RawMessage(`{"format":"text"}`)},
		},
		Edges: []graph.Edge{{ID: "e1", Source: "user_query-1", Target: "output-1"}},
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "wf-1", sampleConfig()))

	got, err := store.Load(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, got.Nodes, 2)
	assert.Equal(t, "output-1", got.Nodes[1].ID)
	assert.JSONEq(t, `{"format":"text"}`, string(got.Nodes[1].Config))
	assert.Equal(t, sampleConfig().Edges, got.Edges)

	g, err := got.Decode()
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 2)
}

func TestStore_SaveOverwritesAndBumpsVersion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }

	require.NoError(t, store.Save(ctx, "wf-1", sampleConfig()))
	clock = clock.Add(time.Minute)
	require.NoError(t, store.Save(ctx, "wf-2", sampleConfig()))
	clock = clock.Add(time.Minute)

	cfg := sampleConfig()
	cfg.Edges = nil
	require.NoError(t, store.Save(ctx, "wf-1", cfg))

	got, err := store.Load(ctx, "wf-1")
	require.NoError(t, err)
	assert.Empty(t, got.Edges)

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "wf-1", records[0].WorkflowID)
	assert.Equal(t, 2, records[0].Version)
	assert.Equal(t, clock, records[0].UpdatedAt)
	assert.Equal(t, 1, records[1].Version)
}

func TestStore_MissingWorkflow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Load(ctx, "nope")
	assert.True(t, stackflow.HasCode(err, stackflow.ErrCodeWorkflowNotFound))

	err = store.Delete(ctx, "nope")
	assert.True(t, stackflow.HasCode(err, stackflow.ErrCodeWorkflowNotFound))

	require.NoError(t, store.Save(ctx, "wf-1", sampleConfig()))
	require.NoError(t, store.Delete(ctx, "wf-1"))
	_, err = store.Load(ctx, "wf-1")
	assert.True(t, stackflow.HasCode(err, stackflow.ErrCodeWorkflowNotFound))
}

func TestStore_RejectsBadInput(t *testing.T) {
	store := newTestStore(t)

	err := store.Save(context.Background(), "  ", sampleConfig())
	assert.True(t, stackflow.HasCode(err, stackflow.ErrCodeInvalidRequest))

	_, err = New(context.Background(), store.db, "workflows; DROP TABLE x")
	assert.True(t, stackflow.HasCode(err, stackflow.ErrCodeInvalidRequest))

	_, err = New(context.Background(), nil, "")
	assert.Error(t, err)
}

func TestStore_LoadsIntoSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "wf-1", sampleConfig()))

	s, err := session.Load(ctx, store, "wf-1")
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "wf-1", s.WorkflowID())
	assert.Equal(t, session.Stats{Nodes: 2, Connections: 1}, s.Stats())
	assert.False(t, s.Dirty())
}
