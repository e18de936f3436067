package canvas

import "github.com/goliatone/go-stackflow/graph"

const (
	edgeColor       = "#059669"
	edgeStrokeWidth = 3
	edgeType        = "smoothstep"
	markerArrow     = "arrowclosed"
)

// View is the render projection of the canvas. It is rebuilt from the store
// and is never written back as a source of truth.
type View struct {
	Nodes []ViewNode `json:"nodes"`
	Edges []ViewEdge `json:"edges"`
}

type ViewNode struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Position   graph.Position `json:"position"`
	Data       ViewNodeData   `json:"data"`
	Selected   bool           `json:"selected,omitempty"`
	Dragging   bool           `json:"dragging,omitempty"`
	Dimensions *Dimensions    `json:"dimensions,omitempty"`
}

type ViewNodeData struct {
	Label  string         `json:"label"`
	Type   graph.NodeType `json:"type"`
	Config graph.Config   `json:"config"`
	Ports  graph.Ports    `json:"ports"`
}

type ViewEdge struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Target    string    `json:"target"`
	Type      string    `json:"type"`
	Animated  bool      `json:"animated"`
	Style     EdgeStyle `json:"style"`
	MarkerEnd Marker    `json:"markerEnd"`
	Selected  bool      `json:"selected,omitempty"`
}

type EdgeStyle struct {
	Stroke      string `json:"stroke"`
	StrokeWidth int    `json:"strokeWidth"`
}

type Marker struct {
	Type  string `json:"type"`
	Color string `json:"color"`
}

// Dimensions is the measured size of a rendered node.
type Dimensions struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func newViewEdge(e graph.Edge) ViewEdge {
	return ViewEdge{
		ID:       e.ID,
		Source:   e.Source,
		Target:   e.Target,
		Type:     edgeType,
		Animated: true,
		Style:    EdgeStyle{Stroke: edgeColor, StrokeWidth: edgeStrokeWidth},
		MarkerEnd: Marker{
			Type:  markerArrow,
			Color: edgeColor,
		},
	}
}
