package graph

import (
	"fmt"
	"sync"

	stackflow "github.com/goliatone/go-stackflow"
	"github.com/goliatone/go-stackflow/logging"
)

// EventKind names a committed store mutation.
type EventKind string

const (
	EventNodeAdded   EventKind = "node_added"
	EventNodeUpdated EventKind = "node_updated"
	EventNodeRemoved EventKind = "node_removed"
	EventEdgeAdded   EventKind = "edge_added"
	EventEdgeRemoved EventKind = "edge_removed"
	EventCleared     EventKind = "cleared"
	EventReplaced    EventKind = "replaced"
)

// Event describes a committed mutation. Cascade lists the edges removed
// together with a node.
type Event struct {
	Kind     EventKind
	ID       string
	Revision uint64
	Cascade  []string
}

// Patch is a partial node update. Nil fields are left untouched and Config
// only replaces the option keys it contains.
type Patch struct {
	Label    *string        `json:"label,omitempty"`
	Position *Position      `json:"position,omitempty"`
	Config   map[string]any `json:"config,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Label == nil && p.Position == nil && len(p.Config) == 0
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// Store is the single source of truth for the nodes and edges of one
// editing session. Every method is atomic with respect to every other.
type Store struct {
	mu     sync.RWMutex
	nodes  []Node
	edges  []Edge
	rev    uint64
	logger logging.Logger

	subMu  sync.RWMutex
	nextID int
	subs   map[int]func(Event)
}

// NewStore returns an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{subs: make(map[int]func(Event))}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = logging.Normalize(s.logger)
	return s
}

// Subscribe registers fn to be called after every committed mutation. The
// returned function removes the subscription.
func (s *Store) Subscribe(fn func(Event)) func() {
	if fn == nil {
		return func() {}
	}
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Store) emit(evt Event) {
	s.subMu.RLock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.RUnlock()
	for _, fn := range fns {
		fn(evt)
	}
}

// Revision returns the revision of the last committed mutation.
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rev
}

// AddNode inserts n. An identifier collision fails with ErrDuplicateNode and
// leaves the store unchanged.
func (s *Store) AddNode(n Node) (Node, error) {
	if err := checkNode(n); err != nil {
		return Node{}, err
	}

	s.mu.Lock()
	if s.nodeIndex(n.ID) >= 0 {
		s.mu.Unlock()
		return Node{}, stackflow.NewError(stackflow.ErrDuplicateNode,
			fmt.Sprintf("node %s already exists", n.ID), nil, map[string]any{"node_id": n.ID})
	}
	s.rev++
	stored := n.Clone()
	stored.Rev = s.rev
	s.nodes = append(s.nodes, stored)
	rev := s.rev
	s.mu.Unlock()

	s.logger.Debug("node %s added rev=%d", n.ID, rev)
	s.emit(Event{Kind: EventNodeAdded, ID: n.ID, Revision: rev})
	return stored.Clone(), nil
}

// UpdateNode applies patch to the node id. An empty patch returns the node
// without committing a revision.
func (s *Store) UpdateNode(id string, patch Patch) (Node, error) {
	n, _, err := s.update(id, patch, 0, false)
	return n, err
}

// UpdateNodeIfUnchanged applies patch only when the node has not changed in
// the store since baseRev. applied is false when a newer store change won.
func (s *Store) UpdateNodeIfUnchanged(id string, baseRev uint64, patch Patch) (Node, bool, error) {
	return s.update(id, patch, baseRev, true)
}

func (s *Store) update(id string, patch Patch, baseRev uint64, conditional bool) (Node, bool, error) {
	if patch.Position != nil && !patch.Position.Finite() {
		return Node{}, false, stackflow.NewError(stackflow.ErrInvalidPosition, "", nil, map[string]any{"node_id": id})
	}

	s.mu.Lock()
	idx := s.nodeIndex(id)
	if idx < 0 {
		s.mu.Unlock()
		return Node{}, false, unknownNode(id)
	}
	current := s.nodes[idx]
	if (conditional && current.Rev > baseRev) || patch.Empty() {
		s.mu.Unlock()
		return current.Clone(), false, nil
	}

	next := current.Clone()
	if patch.Label != nil {
		next.Label = *patch.Label
	}
	if patch.Position != nil {
		next.Position = *patch.Position
	}
	if len(patch.Config) > 0 {
		cfg, err := MergeConfig(current.Config, patch.Config)
		if err != nil {
			s.mu.Unlock()
			return Node{}, false, err
		}
		next.Config = cfg
	}

	s.rev++
	next.Rev = s.rev
	s.nodes[idx] = next
	rev := s.rev
	s.mu.Unlock()

	s.emit(Event{Kind: EventNodeUpdated, ID: id, Revision: rev})
	return next.Clone(), true, nil
}

// RemoveNode deletes the node and every edge touching it in one step. It
// returns the identifiers of the cascaded edges.
func (s *Store) RemoveNode(id string) ([]string, error) {
	s.mu.Lock()
	idx := s.nodeIndex(id)
	if idx < 0 {
		s.mu.Unlock()
		return nil, unknownNode(id)
	}

	var removed []string
	kept := make([]Edge, 0, len(s.edges))
	for _, e := range s.edges {
		if e.Touches(id) {
			removed = append(removed, e.ID)
			continue
		}
		kept = append(kept, e)
	}
	s.edges = kept
	s.nodes = append(s.nodes[:idx:idx], s.nodes[idx+1:]...)
	s.rev++
	rev := s.rev
	s.mu.Unlock()

	s.logger.Debug("node %s removed with %d edges rev=%d", id, len(removed), rev)
	s.emit(Event{Kind: EventNodeRemoved, ID: id, Revision: rev, Cascade: removed})
	return removed, nil
}

// AddEdge inserts e. Both endpoints must exist.
func (s *Store) AddEdge(e Edge) (Edge, error) {
	if e.ID == "" {
		return Edge{}, stackflow.NewError(stackflow.ErrInvalidConnection, "edge id is required", nil, nil)
	}

	s.mu.Lock()
	if s.edgeIndex(e.ID) >= 0 {
		s.mu.Unlock()
		return Edge{}, stackflow.NewError(stackflow.ErrDuplicateEdge,
			fmt.Sprintf("edge %s already exists", e.ID), nil, map[string]any{"edge_id": e.ID})
	}
	for _, endpoint := range []string{e.Source, e.Target} {
		if s.nodeIndex(endpoint) < 0 {
			s.mu.Unlock()
			return Edge{}, unknownNode(endpoint)
		}
	}
	s.edges = append(s.edges, e)
	s.rev++
	rev := s.rev
	s.mu.Unlock()

	s.emit(Event{Kind: EventEdgeAdded, ID: e.ID, Revision: rev})
	return e, nil
}

// RemoveEdge deletes the edge id.
func (s *Store) RemoveEdge(id string) error {
	s.mu.Lock()
	idx := s.edgeIndex(id)
	if idx < 0 {
		s.mu.Unlock()
		return stackflow.NewError(stackflow.ErrUnknownEdge, fmt.Sprintf("edge %s not found", id), nil,
			map[string]any{"edge_id": id})
	}
	s.edges = append(s.edges[:idx:idx], s.edges[idx+1:]...)
	s.rev++
	rev := s.rev
	s.mu.Unlock()

	s.emit(Event{Kind: EventEdgeRemoved, ID: id, Revision: rev})
	return nil
}

// Clear removes every node and edge.
func (s *Store) Clear() {
	s.mu.Lock()
	s.nodes = nil
	s.edges = nil
	s.rev++
	rev := s.rev
	s.mu.Unlock()

	s.emit(Event{Kind: EventCleared, Revision: rev})
}

// Replace swaps the whole document for g after checking it is consistent.
// On error the store is unchanged.
func (s *Store) Replace(g Graph) error {
	seen := make(map[string]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		if err := checkNode(n); err != nil {
			return err
		}
		if _, dup := seen[n.ID]; dup {
			return stackflow.NewError(stackflow.ErrDuplicateNode,
				fmt.Sprintf("node %s already exists", n.ID), nil, map[string]any{"node_id": n.ID})
		}
		seen[n.ID] = struct{}{}
	}
	edgeIDs := make(map[string]struct{}, len(g.Edges))
	for _, e := range g.Edges {
		if _, dup := edgeIDs[e.ID]; dup || e.ID == "" {
			return stackflow.NewError(stackflow.ErrDuplicateEdge,
				fmt.Sprintf("edge %q is duplicated or empty", e.ID), nil, map[string]any{"edge_id": e.ID})
		}
		edgeIDs[e.ID] = struct{}{}
		for _, endpoint := range []string{e.Source, e.Target} {
			if _, ok := seen[endpoint]; !ok {
				return unknownNode(endpoint)
			}
		}
	}

	next := g.Clone()
	s.mu.Lock()
	s.rev++
	for i := range next.Nodes {
		next.Nodes[i].Rev = s.rev
	}
	s.nodes = next.Nodes
	s.edges = next.Edges
	rev := s.rev
	s.mu.Unlock()

	s.emit(Event{Kind: EventReplaced, Revision: rev})
	return nil
}

// Node returns a copy of the node id.
func (s *Store) Node(id string) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.nodeIndex(id)
	if idx < 0 {
		return Node{}, false
	}
	return s.nodes[idx].Clone(), true
}

// Nodes returns copies of the nodes in insertion order.
func (s *Store) Nodes() []Node {
	return s.Snapshot().Nodes
}

// Edges returns the edges in insertion order.
func (s *Store) Edges() []Edge {
	return s.Snapshot().Edges
}

// Snapshot returns a deep copy of the current document. Later mutations do
// not show up in a snapshot already taken.
func (s *Store) Snapshot() Graph {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Graph{Nodes: s.nodes, Edges: s.edges}.Clone()
}

// SnapshotAt returns the snapshot together with the revision it reflects.
func (s *Store) SnapshotAt() (Graph, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Graph{Nodes: s.nodes, Edges: s.edges}.Clone(), s.rev
}

func (s *Store) nodeIndex(id string) int {
	for i := range s.nodes {
		if s.nodes[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) edgeIndex(id string) int {
	for i := range s.edges {
		if s.edges[i].ID == id {
			return i
		}
	}
	return -1
}

func checkNode(n Node) error {
	if n.ID == "" {
		return stackflow.NewError(stackflow.ErrInvalidConfig, "node id is required", nil, nil)
	}
	if !n.Type.Valid() {
		return stackflow.NewError(stackflow.ErrUnknownNodeType, fmt.Sprintf("unknown node type %q", n.Type), nil,
			map[string]any{"node_id": n.ID, "type": string(n.Type)})
	}
	if !n.Position.Finite() {
		return stackflow.NewError(stackflow.ErrInvalidPosition, "", nil, map[string]any{"node_id": n.ID})
	}
	if n.Config == nil || n.Config.NodeType() != n.Type {
		return stackflow.NewError(stackflow.ErrInvalidConfig,
			fmt.Sprintf("node %s needs a %s configuration", n.ID, n.Type), nil, map[string]any{"node_id": n.ID})
	}
	return nil
}

func unknownNode(id string) error {
	return stackflow.NewError(stackflow.ErrUnknownNode, fmt.Sprintf("node %s not found", id), nil,
		map[string]any{"node_id": id})
}
