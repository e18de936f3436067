// Package catalog describes the node types offered on the component panel
// and produces fresh default configurations for them.
package catalog

import (
	"fmt"

	stackflow "github.com/goliatone/go-stackflow"
	"github.com/goliatone/go-stackflow/graph"
)

// Template is the panel entry for one node type.
type Template struct {
	Type        graph.NodeType `json:"type"`
	Label       string         `json:"label"`
	Description string         `json:"description"`
	Ports       graph.Ports    `json:"ports"`
}

var templates = []Template{
	{
		Type:        graph.TypeQueryIntake,
		Label:       "User Query",
		Description: "Entry point for user input",
	},
	{
		Type:        graph.TypeKnowledgeBase,
		Label:       "Knowledge Base",
		Description: "Document processing & embeddings",
	},
	{
		Type:        graph.TypeGenerationEngine,
		Label:       "LLM Engine",
		Description: "Generate responses with a language model",
	},
	{
		Type:        graph.TypeOutputSink,
		Label:       "Output",
		Description: "Display final response",
	},
}

// Templates lists the templates in panel order.
func Templates() []Template {
	out := make([]Template, len(templates))
	for i, t := range templates {
		t.Ports = t.Type.Ports()
		out[i] = t
	}
	return out
}

// TemplateFor returns the template of t together with a default config that
// shares no state with any previous call.
func TemplateFor(t graph.NodeType) (Template, graph.Config, error) {
	for _, tpl := range templates {
		if tpl.Type != t {
			continue
		}
		tpl.Ports = t.Ports()
		return tpl, DefaultConfig(t), nil
	}
	return Template{}, nil, stackflow.NewError(stackflow.ErrUnknownNodeType,
		fmt.Sprintf("unknown node type %q", t), nil, map[string]any{"type": string(t)})
}

// Label returns the display label of t, or the raw type for unknown types.
func Label(t graph.NodeType) string {
	for _, tpl := range templates {
		if tpl.Type == t {
			return tpl.Label
		}
	}
	return string(t)
}

// LabelFor returns the label of the node id: the template label followed by
// the identifier's ordinal, or the bare template label when id has none.
func LabelFor(id string, t graph.NodeType) string {
	if _, ordinal, ok := graph.ParseNodeID(id); ok {
		return fmt.Sprintf("%s %d", Label(t), ordinal)
	}
	return Label(t)
}

// DefaultConfig builds a new default config for t. It returns nil for
// unknown types.
func DefaultConfig(t graph.NodeType) graph.Config {
	switch t {
	case graph.TypeQueryIntake:
		return &graph.QueryIntakeConfig{
			Placeholder: "Enter your question here",
			QueryType:   "freeform",
		}
	case graph.TypeKnowledgeBase:
		return &graph.KnowledgeBaseConfig{
			EmbeddingModel: "text-embedding-3-large",
			KBType:         "document",
		}
	case graph.TypeGenerationEngine:
		return &graph.GenerationConfig{
			Model:       "GPT 4o- Mini",
			Prompt:      "You are a helpful assistant",
			Temperature: 0.7,
			MaxTokens:   2048,
		}
	case graph.TypeOutputSink:
		return &graph.OutputConfig{
			Format:      "text",
			Description: "Output of the result nodes as text",
		}
	}
	return nil
}

// Instantiate creates the ordinal-th node of type t at position zero. The
// label is the template label followed by the ordinal.
func Instantiate(t graph.NodeType, ordinal int) (graph.Node, error) {
	tpl, cfg, err := TemplateFor(t)
	if err != nil {
		return graph.Node{}, err
	}
	return graph.Node{
		ID:     graph.NodeID(t, ordinal),
		Type:   t,
		Label:  fmt.Sprintf("%s %d", tpl.Label, ordinal),
		Config: cfg,
	}, nil
}
