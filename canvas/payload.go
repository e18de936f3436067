package canvas

import (
	"bytes"
	"encoding/json"
	"fmt"

	stackflow "github.com/goliatone/go-stackflow"
	"github.com/goliatone/go-stackflow/graph"
)

// MIMEType is the drag-data key carrying a node-creation payload.
const MIMEType = "application/reactflow"

// RendererNodeType is the renderer component every node is drawn with.
const RendererNodeType = "workflow"

// DataTransfer is the drag-data channel between the panel and the canvas.
type DataTransfer map[string]string

// Get returns the data stored under format.
func (d DataTransfer) Get(format string) string {
	if d == nil {
		return ""
	}
	return d[format]
}

// Payload is the node-creation descriptor produced at drag start.
type Payload struct {
	ID       string         `json:"id" validate:"required"`
	Data     PayloadData    `json:"data"`
	Position graph.Position `json:"position"`
	Type     string         `json:"type"`
}

// PayloadData holds the node attributes of a payload.
type PayloadData struct {
	Label  string          `json:"label"`
	Type   graph.NodeType  `json:"type" validate:"required"`
	Config json.RawMessage `json:"config,omitempty"`
}

// NewPayload builds the payload describing n.
func NewPayload(n graph.Node) (Payload, error) {
	raw, err := json.Marshal(n.Config)
	if err != nil {
		return Payload{}, stackflow.NewError(stackflow.ErrInvalidConfig, "encode node configuration", err,
			map[string]any{"node_id": n.ID})
	}
	return Payload{
		ID: n.ID,
		Data: PayloadData{
			Label:  n.Label,
			Type:   n.Type,
			Config: raw,
		},
		Position: n.Position,
		Type:     RendererNodeType,
	}, nil
}

// Encode stores p in a DataTransfer under MIMEType.
func (p Payload) Encode() (DataTransfer, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, stackflow.NewError(stackflow.ErrMalformedPayload, "encode payload", err, nil)
	}
	return DataTransfer{MIMEType: string(raw)}, nil
}

// DecodePayload parses raw into a node. Every failure is ErrMalformedPayload.
func DecodePayload(raw []byte) (graph.Node, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return graph.Node{}, stackflow.NewError(stackflow.ErrMalformedPayload, "no node payload", nil, nil)
	}

	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return graph.Node{}, stackflow.NewError(stackflow.ErrMalformedPayload,
			fmt.Sprintf("payload is not a node descriptor: %v", err), err, nil)
	}
	if err := stackflow.ValidateStruct(p, stackflow.ErrMalformedPayload); err != nil {
		return graph.Node{}, err
	}
	if err := stackflow.ValidateStruct(p.Data, stackflow.ErrMalformedPayload); err != nil {
		return graph.Node{}, err
	}
	if !p.Data.Type.Valid() {
		return graph.Node{}, stackflow.NewError(stackflow.ErrMalformedPayload,
			fmt.Sprintf("unknown node type %q", p.Data.Type), nil, map[string]any{"type": string(p.Data.Type)})
	}

	cfg, err := graph.DecodeConfig(p.Data.Type, p.Data.Config, false)
	if err != nil {
		return graph.Node{}, stackflow.NewError(stackflow.ErrMalformedPayload, stackflow.Detail(err), err,
			map[string]any{"node_id": p.ID})
	}

	return graph.Node{
		ID:       p.ID,
		Type:     p.Data.Type,
		Label:    p.Data.Label,
		Config:   cfg,
		Position: p.Position,
	}, nil
}
