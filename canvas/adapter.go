// Package canvas keeps a renderer's view-state consistent with a graph.Store.
// The store is authoritative; the view is rebuilt from it whenever it moves.
package canvas

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	stackflow "github.com/goliatone/go-stackflow"
	"github.com/goliatone/go-stackflow/catalog"
	"github.com/goliatone/go-stackflow/graph"
	"github.com/goliatone/go-stackflow/logging"
)

// Drop offsets center a node under the cursor.
const (
	DropOffsetX = 128
	DropOffsetY = 60
)

// maxEdgeIDAttempts bounds the millisecond bumps used to keep edge
// identifiers unique when connections land in the same millisecond.
const maxEdgeIDAttempts = 1000

// Bounds is the origin of the rendering surface in client coordinates.
type Bounds struct {
	Left float64 `json:"left"`
	Top  float64 `json:"top"`
}

// DropPoint is the pointer location of a drop gesture.
type DropPoint struct {
	ClientX float64 `json:"clientX"`
	ClientY float64 `json:"clientY"`
	Bounds  Bounds  `json:"bounds"`
}

// Position converts the drop point into graph space.
func (p DropPoint) Position() graph.Position {
	return graph.Position{
		X: p.ClientX - p.Bounds.Left - DropOffsetX,
		Y: p.ClientY - p.Bounds.Top - DropOffsetY,
	}
}

// Connection is a completed drag-to-connect gesture.
type Connection struct {
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`
}

type viewState struct {
	position   graph.Position
	selected   bool
	dragging   bool
	dimensions *Dimensions
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the adapter logger.
func WithLogger(l logging.Logger) Option {
	return func(a *Adapter) {
		a.logger = l
	}
}

// WithClock overrides the clock used for edge identifiers.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) {
		if now != nil {
			a.now = now
		}
	}
}

// Adapter mediates between renderer gestures and the store.
type Adapter struct {
	mu       sync.Mutex
	store    *graph.Store
	counters map[graph.NodeType]int
	states   map[string]*viewState
	// drags maps a node to the store revision it had when its drag began.
	drags       map[string]uint64
	edgeSel     map[string]bool
	view        View
	stale       atomic.Bool
	now         func() time.Time
	logger      logging.Logger
	unsubscribe func()
}

// New binds an adapter to store.
func New(store *graph.Store, opts ...Option) *Adapter {
	a := &Adapter{
		store:    store,
		counters: make(map[graph.NodeType]int),
		states:   make(map[string]*viewState),
		drags:    make(map[string]uint64),
		edgeSel:  make(map[string]bool),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	a.logger = logging.Normalize(a.logger)
	a.unsubscribe = store.Subscribe(func(graph.Event) {
		a.stale.Store(true)
	})
	a.stale.Store(true)
	return a
}

// Close detaches the adapter from its store.
func (a *Adapter) Close() {
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
}

// BeginDrag reserves the next identifier for t and returns the drag data of
// a fresh node. Reserved ordinals are never handed out again.
func (a *Adapter) BeginDrag(t graph.NodeType) (DataTransfer, error) {
	a.mu.Lock()
	ordinal := a.counters[t] + 1
	n, err := catalog.Instantiate(t, ordinal)
	if err != nil {
		a.mu.Unlock()
		return nil, err
	}
	a.counters[t] = ordinal
	a.mu.Unlock()

	p, err := NewPayload(n)
	if err != nil {
		return nil, err
	}
	return p.Encode()
}

// SeedCounters moves the counters past every ordinal present in g.
func (a *Adapter) SeedCounters(g graph.Graph) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, n := range g.Nodes {
		a.seedLocked(n.ID)
	}
}

// Counter returns the last ordinal handed out for t.
func (a *Adapter) Counter(t graph.NodeType) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counters[t]
}

func (a *Adapter) seedLocked(id string) {
	if t, ordinal, ok := graph.ParseNodeID(id); ok && ordinal > a.counters[t] {
		a.counters[t] = ordinal
	}
}

// Drop creates the node described by the drag data at the drop point. A
// malformed payload is logged and leaves store and view unchanged.
func (a *Adapter) Drop(dt DataTransfer, at DropPoint) (graph.Node, error) {
	n, err := DecodePayload([]byte(dt.Get(MIMEType)))
	if err != nil {
		a.logger.Warn("error parsing dropped node: %s", stackflow.Detail(err))
		return graph.Node{}, err
	}

	n.Position = at.Position()
	if n.Label == "" {
		n.Label = catalog.LabelFor(n.ID, n.Type)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	stored, err := a.store.AddNode(n)
	if err != nil {
		return graph.Node{}, err
	}
	a.seedLocked(stored.ID)
	a.syncLocked()
	a.logger.Debug("dropped %s at (%.0f, %.0f)", stored.ID, stored.Position.X, stored.Position.Y)
	return stored, nil
}

// Connect validates a connection gesture and commits the edge to the store.
// The view only shows the edge once the store accepted it.
func (a *Adapter) Connect(c Connection) (graph.Edge, error) {
	if err := stackflow.ValidateStruct(c, stackflow.ErrInvalidConnection); err != nil {
		return graph.Edge{}, err
	}
	if c.Source == c.Target {
		return graph.Edge{}, stackflow.NewError(stackflow.ErrInvalidConnection,
			"a node cannot connect to itself", nil, map[string]any{"node_id": c.Source})
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	src, ok := a.store.Node(c.Source)
	if !ok {
		return graph.Edge{}, unknownEndpoint(c.Source)
	}
	dst, ok := a.store.Node(c.Target)
	if !ok {
		return graph.Edge{}, unknownEndpoint(c.Target)
	}
	if !src.Type.Ports().Output {
		return graph.Edge{}, stackflow.NewError(stackflow.ErrInvalidConnection,
			fmt.Sprintf("%s has no output port", src.ID), nil, map[string]any{"node_id": src.ID})
	}
	if !dst.Type.Ports().Input {
		return graph.Edge{}, stackflow.NewError(stackflow.ErrInvalidConnection,
			fmt.Sprintf("%s has no input port", dst.ID), nil, map[string]any{"node_id": dst.ID})
	}

	at := a.now()
	for attempt := 0; attempt < maxEdgeIDAttempts; attempt++ {
		e := graph.Edge{ID: graph.EdgeID(src.ID, dst.ID, at), Source: src.ID, Target: dst.ID}
		stored, err := a.store.AddEdge(e)
		if err == nil {
			a.syncLocked()
			return stored, nil
		}
		if !stackflow.HasCode(err, stackflow.ErrCodeDuplicateEdge) {
			return graph.Edge{}, err
		}
		at = at.Add(time.Millisecond)
	}
	return graph.Edge{}, stackflow.NewError(stackflow.ErrDuplicateEdge,
		"could not allocate an edge identifier", nil, map[string]any{"source": src.ID, "target": dst.ID})
}

// Sync rebuilds the view from the store.
func (a *Adapter) Sync() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.syncLocked()
}

// View returns the current render projection.
func (a *Adapter) View() View {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stale.Load() {
		a.syncLocked()
	}
	return cloneView(a.view)
}

func (a *Adapter) syncLocked() {
	a.stale.Store(false)
	snap := a.store.Snapshot()

	live := make(map[string]struct{}, len(snap.Nodes))
	nodes := make([]ViewNode, 0, len(snap.Nodes))
	for _, n := range snap.Nodes {
		live[n.ID] = struct{}{}
		st, ok := a.states[n.ID]
		if !ok {
			st = &viewState{position: n.Position}
			a.states[n.ID] = st
		}

		base, dragging := a.drags[n.ID]
		if !dragging || n.Rev > base {
			st.position = n.Position
		}
		st.dragging = dragging && n.Rev <= base

		nodes = append(nodes, ViewNode{
			ID:       n.ID,
			Type:     RendererNodeType,
			Position: st.position,
			Data: ViewNodeData{
				Label:  n.Label,
				Type:   n.Type,
				Config: n.Config,
				Ports:  n.Type.Ports(),
			},
			Selected:   st.selected,
			Dragging:   st.dragging,
			Dimensions: st.dimensions,
		})
	}
	for id := range a.states {
		if _, ok := live[id]; !ok {
			delete(a.states, id)
			delete(a.drags, id)
		}
	}

	edges := make([]ViewEdge, 0, len(snap.Edges))
	liveEdges := make(map[string]struct{}, len(snap.Edges))
	for _, e := range snap.Edges {
		liveEdges[e.ID] = struct{}{}
		ve := newViewEdge(e)
		ve.Selected = a.edgeSel[e.ID]
		edges = append(edges, ve)
	}
	for id := range a.edgeSel {
		if _, ok := liveEdges[id]; !ok {
			delete(a.edgeSel, id)
		}
	}

	a.view = View{Nodes: nodes, Edges: edges}
}

func cloneView(v View) View {
	out := View{
		Nodes: make([]ViewNode, len(v.Nodes)),
		Edges: make([]ViewEdge, len(v.Edges)),
	}
	for i, n := range v.Nodes {
		if n.Data.Config != nil {
			n.Data.Config = n.Data.Config.Clone()
		}
		if n.Dimensions != nil {
			d := *n.Dimensions
			n.Dimensions = &d
		}
		out.Nodes[i] = n
	}
	copy(out.Edges, v.Edges)
	return out
}

func unknownEndpoint(id string) error {
	return stackflow.NewError(stackflow.ErrUnknownNode, fmt.Sprintf("node %s not found", id), nil,
		map[string]any{"node_id": id})
}
