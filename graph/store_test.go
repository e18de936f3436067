package graph

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stackflow "github.com/goliatone/go-stackflow"
)

func testNode(t NodeType, ordinal int, x, y float64) Node {
	cfg, _ := NewConfig(t)
	return Node{ID: NodeID(t, ordinal), Type: t, Label: string(t), Config: cfg, Position: Position{X: x, Y: y}}
}

func pipelineStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	for i, typ := range NodeTypes() {
		_, err := s.AddNode(testNode(typ, 1, float64(i*100), 0))
		require.NoError(t, err)
	}
	edges := []Edge{
		{ID: "e1", Source: "user_query-1", Target: "knowledge_base-1"},
		{ID: "e2", Source: "knowledge_base-1", Target: "llm_engine-1"},
		{ID: "e3", Source: "llm_engine-1", Target: "output-1"},
	}
	for _, e := range edges {
		_, err := s.AddEdge(e)
		require.NoError(t, err)
	}
	return s
}

func TestStore_AddNodeCollisionFails(t *testing.T) {
	s := NewStore()
	_, err := s.AddNode(testNode(TypeQueryIntake, 1, 0, 0))
	require.NoError(t, err)

	rev := s.Revision()
	_, err = s.AddNode(testNode(TypeQueryIntake, 1, 50, 50))
	require.Error(t, err)
	assert.True(t, stackflow.HasCode(err, stackflow.ErrCodeDuplicateNode))
	assert.Equal(t, rev, s.Revision())
	assert.Len(t, s.Nodes(), 1)
}

func TestStore_AddNodeRejectsBadInput(t *testing.T) {
	s := NewStore()

	n := testNode(TypeKnowledgeBase, 1, 0, 0)
	n.Config = &OutputConfig{}
	_, err := s.AddNode(n)
	assert.True(t, stackflow.HasCode(err, stackflow.ErrCodeInvalidConfig))

	n = testNode(TypeKnowledgeBase, 1, 0, 0)
	n.Type = "router"
	_, err = s.AddNode(n)
	assert.True(t, stackflow.HasCode(err, stackflow.ErrCodeUnknownNodeType))

	assert.Empty(t, s.Nodes())
}

func TestStore_AddEdgeRequiresEndpoints(t *testing.T) {
	s := NewStore()
	_, err := s.AddNode(testNode(TypeQueryIntake, 1, 0, 0))
	require.NoError(t, err)

	_, err = s.AddEdge(Edge{ID: "e", Source: "user_query-1", Target: "output-9"})
	require.Error(t, err)
	assert.True(t, stackflow.HasCode(err, stackflow.ErrCodeUnknownNode))
	assert.Empty(t, s.Edges())
}

func TestStore_RemoveNodeCascades(t *testing.T) {
	s := pipelineStore(t)

	removed, err := s.RemoveNode("knowledge_base-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"e1", "e2"}, removed)

	snap := s.Snapshot()
	for _, e := range snap.Edges {
		_, srcOK := snap.Node(e.Source)
		_, dstOK := snap.Node(e.Target)
		assert.True(t, srcOK && dstOK, "dangling edge %s", e.ID)
	}
	assert.Len(t, snap.Nodes, 3)
	assert.Len(t, snap.Edges, 1)

	_, err = s.RemoveNode("knowledge_base-1")
	assert.True(t, stackflow.HasCode(err, stackflow.ErrCodeUnknownNode))
}

func TestStore_UpdateNodeIsolatesFields(t *testing.T) {
	s := pipelineStore(t)
	before := s.Snapshot()

	updated, err := s.UpdateNode("llm_engine-1", Patch{Config: map[string]any{"temperature": 0.2}})
	require.NoError(t, err)
	assert.Equal(t, 0.2, updated.Config.(*GenerationConfig).Temperature)

	after := s.Snapshot()
	wantGen := before.Nodes[2].Config.(*GenerationConfig).Clone().(*GenerationConfig)
	wantGen.Temperature = 0.2
	if diff := cmp.Diff(wantGen, after.Nodes[2].Config); diff != "" {
		t.Fatalf("generation config mismatch (-want +got):\n%s", diff)
	}

	ignoreRev := cmpopts.IgnoreFields(Node{}, "Rev")
	for _, idx := range []int{0, 1, 3} {
		if diff := cmp.Diff(before.Nodes[idx], after.Nodes[idx], ignoreRev); diff != "" {
			t.Fatalf("node %d changed (-want +got):\n%s", idx, diff)
		}
	}
	if diff := cmp.Diff(before.Edges, after.Edges); diff != "" {
		t.Fatalf("edges changed (-want +got):\n%s", diff)
	}
}

func TestStore_UpdateNodeRejectsForeignKeys(t *testing.T) {
	s := pipelineStore(t)
	_, err := s.UpdateNode("output-1", Patch{Config: map[string]any{"temperature": 0.5}})
	require.Error(t, err)
	assert.True(t, stackflow.HasCode(err, stackflow.ErrCodeInvalidConfig))

	_, err = s.UpdateNode("llm_engine-1", Patch{Config: map[string]any{"temperature": 3}})
	assert.True(t, stackflow.HasCode(err, stackflow.ErrCodeInvalidConfig))
}

func TestStore_UpdateNodeIfUnchanged(t *testing.T) {
	s := pipelineStore(t)
	n, ok := s.Node("output-1")
	require.True(t, ok)

	label := "Answer"
	_, err := s.UpdateNode("output-1", Patch{Label: &label})
	require.NoError(t, err)

	pos := Position{X: 999, Y: 999}
	current, applied, err := s.UpdateNodeIfUnchanged("output-1", n.Rev, Patch{Position: &pos})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, "Answer", current.Label)
	assert.Equal(t, n.Position, current.Position)

	current, applied, err = s.UpdateNodeIfUnchanged("output-1", current.Rev, Patch{Position: &pos})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, pos, current.Position)
}

func TestStore_SnapshotIsImmutable(t *testing.T) {
	s := pipelineStore(t)
	snap := s.Snapshot()

	snap.Nodes[0].Config.(*QueryIntakeConfig).Placeholder = "mutated"
	_, err := s.RemoveNode("output-1")
	require.NoError(t, err)

	n, _ := s.Node("user_query-1")
	assert.Empty(t, n.Config.(*QueryIntakeConfig).Placeholder)
	assert.Len(t, snap.Nodes, 4)
	assert.Len(t, snap.Edges, 3)
}

func TestStore_ReplaceValidates(t *testing.T) {
	s := pipelineStore(t)
	before := s.Snapshot()

	err := s.Replace(Graph{
		Nodes: []Node{testNode(TypeQueryIntake, 1, 0, 0)},
		Edges: []Edge{{ID: "x", Source: "user_query-1", Target: "output-1"}},
	})
	require.Error(t, err)
	if diff := cmp.Diff(before, s.Snapshot()); diff != "" {
		t.Fatalf("store changed after failed replace:\n%s", diff)
	}

	require.NoError(t, s.Replace(Graph{Nodes: []Node{testNode(TypeOutputSink, 3, 1, 1)}}))
	assert.Len(t, s.Nodes(), 1)
	assert.Empty(t, s.Edges())
}

func TestStore_SubscribeNotifies(t *testing.T) {
	s := NewStore()
	var events []Event
	unsubscribe := s.Subscribe(func(e Event) { events = append(events, e) })

	_, err := s.AddNode(testNode(TypeQueryIntake, 1, 0, 0))
	require.NoError(t, err)
	_, err = s.AddNode(testNode(TypeOutputSink, 1, 0, 0))
	require.NoError(t, err)
	_, err = s.AddEdge(Edge{ID: "e", Source: "user_query-1", Target: "output-1"})
	require.NoError(t, err)
	_, err = s.RemoveNode("output-1")
	require.NoError(t, err)

	unsubscribe()
	s.Clear()

	require.Len(t, events, 4)
	assert.Equal(t, EventNodeRemoved, events[3].Kind)
	assert.Equal(t, []string{"e"}, events[3].Cascade)
	assert.Equal(t, uint64(4), events[3].Revision)
}

func TestStore_ConcurrentMutations(t *testing.T) {
	s := pipelineStore(t)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, _ = s.UpdateNode("llm_engine-1", Patch{Config: map[string]any{"temperature": float64(i%10) / 10}})
		}(i)
		go func() {
			defer wg.Done()
			_ = s.Snapshot()
		}()
	}
	wg.Wait()

	_, err := s.RemoveNode("llm_engine-1")
	require.NoError(t, err)
	for _, e := range s.Edges() {
		assert.False(t, e.Touches("llm_engine-1"))
	}
}

func TestStore_EmptyPatchCommitsNothing(t *testing.T) {
	s := pipelineStore(t)
	rev := s.Revision()
	var events int
	unsubscribe := s.Subscribe(func(Event) { events++ })
	defer unsubscribe()

	n, err := s.UpdateNode("llm_engine-1", Patch{})
	require.NoError(t, err)
	assert.Equal(t, "llm_engine-1", n.ID)
	assert.Equal(t, rev, s.Revision())
	assert.Zero(t, events)

	_, err = s.UpdateNode("ghost-1", Patch{})
	assert.True(t, stackflow.HasCode(err, stackflow.ErrCodeUnknownNode))
}
