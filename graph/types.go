package graph

import (
	"encoding/json"
	"math"
)

// NodeType identifies the role a node plays in the stack. The values are the
// wire strings stored in saved workflow configurations.
type NodeType string

const (
	TypeQueryIntake      NodeType = "user_query"
	TypeKnowledgeBase    NodeType = "knowledge_base"
	TypeGenerationEngine NodeType = "llm_engine"
	TypeOutputSink       NodeType = "output"
)

// NodeTypes lists the closed set of node types in panel order.
func NodeTypes() []NodeType {
	return []NodeType{TypeQueryIntake, TypeKnowledgeBase, TypeGenerationEngine, TypeOutputSink}
}

// Valid reports whether t is one of the known node types.
func (t NodeType) Valid() bool {
	switch t {
	case TypeQueryIntake, TypeKnowledgeBase, TypeGenerationEngine, TypeOutputSink:
		return true
	}
	return false
}

// Ports is the port rule derived from a node type.
type Ports struct {
	Input  bool `json:"input"`
	Output bool `json:"output"`
}

// Ports returns which handles a node of type t exposes.
func (t NodeType) Ports() Ports {
	switch t {
	case TypeQueryIntake:
		return Ports{Output: true}
	case TypeOutputSink:
		return Ports{Input: true}
	case TypeKnowledgeBase, TypeGenerationEngine:
		return Ports{Input: true, Output: true}
	}
	return Ports{}
}

// Position is a point in graph space.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Finite reports whether both coordinates are finite numbers.
func (p Position) Finite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) && !math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

// Node is a typed unit of the pipeline.
type Node struct {
	ID       string   `json:"id"`
	Type     NodeType `json:"type"`
	Label    string   `json:"label"`
	Config   Config   `json:"config"`
	Position Position `json:"position"`
	// Rev is the store revision of the last store-side change to this node.
	Rev uint64 `json:"-"`
}

// Clone returns a deep copy of n.
func (n Node) Clone() Node {
	if n.Config != nil {
		n.Config = n.Config.Clone()
	}
	return n
}

func (n *Node) UnmarshalJSON(data []byte) error {
	var aux struct {
		ID       string          `json:"id"`
		Type     NodeType        `json:"type"`
		Label    string          `json:"label"`
		Config   json.RawMessage `json:"config"`
		Position Position        `json:"position"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	cfg, err := DecodeConfig(aux.Type, aux.Config, false)
	if err != nil {
		return err
	}
	*n = Node{
		ID:       aux.ID,
		Type:     aux.Type,
		Label:    aux.Label,
		Config:   cfg,
		Position: aux.Position,
	}
	return nil
}

// Edge is a directed connection from Source's output port to Target's input port.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// Touches reports whether the edge has nodeID as an endpoint.
func (e Edge) Touches(nodeID string) bool {
	return e.Source == nodeID || e.Target == nodeID
}

// Graph is an immutable snapshot of the nodes and edges of a document.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node returns the node with the given id.
func (g Graph) Node(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// NodesOfType returns the nodes of type t in order.
func (g Graph) NodesOfType(t NodeType) []Node {
	var out []Node
	for _, n := range g.Nodes {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

// HasType reports whether any node has type t.
func (g Graph) HasType(t NodeType) bool {
	for _, n := range g.Nodes {
		if n.Type == t {
			return true
		}
	}
	return false
}

// Degree counts the edges incident to id.
func (g Graph) Degree(id string) int {
	count := 0
	for _, e := range g.Edges {
		if e.Touches(id) {
			count++
		}
	}
	return count
}

// Clone returns a deep copy of g.
func (g Graph) Clone() Graph {
	out := Graph{
		Nodes: make([]Node, len(g.Nodes)),
		Edges: make([]Edge, len(g.Edges)),
	}
	for i, n := range g.Nodes {
		out.Nodes[i] = n.Clone()
	}
	copy(out.Edges, g.Edges)
	return out
}
