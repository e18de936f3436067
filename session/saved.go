package session

import (
	"encoding/json"

	stackflow "github.com/goliatone/go-stackflow"
	"github.com/goliatone/go-stackflow/catalog"
	"github.com/goliatone/go-stackflow/graph"
)

// SavedConfig is the persisted workflow configuration.
type SavedConfig struct {
	Nodes []SavedNode  `json:"nodes"`
	Edges []graph.Edge `json:"edges"`
}

// SavedNode is a node in SavedConfig. Labels are not persisted.
type SavedNode struct {
	ID       string          `json:"id"`
	Type     graph.NodeType  `json:"type"`
	Position graph.Position  `json:"position"`
	Config   json.RawMessage `json:"config"`
}

// Encode converts g to its saved form.
func Encode(g graph.Graph) (SavedConfig, error) {
	out := SavedConfig{
		Nodes: make([]SavedNode, 0, len(g.Nodes)),
		Edges: make([]graph.Edge, len(g.Edges)),
	}
	for _, n := range g.Nodes {
		raw, err := json.Marshal(n.Config)
		if err != nil {
			return SavedConfig{}, stackflow.NewError(stackflow.ErrInvalidConfig, "encode node configuration", err,
				map[string]any{"node_id": n.ID})
		}
		out.Nodes = append(out.Nodes, SavedNode{
			ID:       n.ID,
			Type:     n.Type,
			Position: n.Position,
			Config:   raw,
		})
	}
	copy(out.Edges, g.Edges)
	return out, nil
}

// Decode rebuilds a graph from its saved form. Labels are derived from the
// node type and identifier ordinal.
func (c SavedConfig) Decode() (graph.Graph, error) {
	g := graph.Graph{
		Nodes: make([]graph.Node, 0, len(c.Nodes)),
		Edges: make([]graph.Edge, len(c.Edges)),
	}
	for _, sn := range c.Nodes {
		cfg, err := graph.DecodeConfig(sn.Type, sn.Config, false)
		if err != nil {
			return graph.Graph{}, err
		}
		g.Nodes = append(g.Nodes, graph.Node{
			ID:       sn.ID,
			Type:     sn.Type,
			Label:    catalog.LabelFor(sn.ID, sn.Type),
			Config:   cfg,
			Position: sn.Position,
		})
	}
	copy(g.Edges, c.Edges)
	return g, nil
}
