package graph

import (
	"bytes"
	"encoding/json"
	"fmt"

	stackflow "github.com/goliatone/go-stackflow"
)

// Config is the per-type configuration of a node. Each node type has its own
// struct so options of one type can never leak into another.
type Config interface {
	NodeType() NodeType
	Clone() Config
}

// QueryIntakeConfig configures the entry point of the stack.
type QueryIntakeConfig struct {
	Placeholder string `json:"placeholder"`
	QueryType   string `json:"queryType,omitempty" validate:"omitempty,oneof=freeform structured template"`
}

func (c *QueryIntakeConfig) NodeType() NodeType { return TypeQueryIntake }
func (c *QueryIntakeConfig) Clone() Config      { cp := *c; return &cp }

// KnowledgeBaseConfig configures document lookup and embeddings.
type KnowledgeBaseConfig struct {
	EmbeddingModel string `json:"embedding_model"`
	APIKey         string `json:"api_key"`
	KBType         string `json:"kbType,omitempty" validate:"omitempty,oneof=document api web custom"`
	DataSource     string `json:"dataSource,omitempty"`
}

func (c *KnowledgeBaseConfig) NodeType() NodeType { return TypeKnowledgeBase }
func (c *KnowledgeBaseConfig) Clone() Config      { cp := *c; return &cp }

// GenerationConfig configures the generative model call.
type GenerationConfig struct {
	Model           string  `json:"model"`
	APIKey          string  `json:"api_key"`
	Prompt          string  `json:"prompt"`
	Temperature     float64 `json:"temperature" validate:"gte=0,lte=1"`
	MaxTokens       int     `json:"maxTokens,omitempty" validate:"omitempty,min=1,max=4096"`
	EnableWebSearch bool    `json:"enable_web_search"`
	SerpAPI         string  `json:"serf_api"`
}

func (c *GenerationConfig) NodeType() NodeType { return TypeGenerationEngine }
func (c *GenerationConfig) Clone() Config      { cp := *c; return &cp }

// OutputConfig configures the sink. Result holds the last execution answer
// displayed by the node.
type OutputConfig struct {
	Format        string `json:"format" validate:"omitempty,oneof=text markdown json table"`
	Description   string `json:"description,omitempty"`
	ShowTimestamp bool   `json:"showTimestamp,omitempty"`
	Result        string `json:"result,omitempty"`
}

func (c *OutputConfig) NodeType() NodeType { return TypeOutputSink }
func (c *OutputConfig) Clone() Config      { cp := *c; return &cp }

// NewConfig returns a zero config for t.
func NewConfig(t NodeType) (Config, error) {
	switch t {
	case TypeQueryIntake:
		return &QueryIntakeConfig{}, nil
	case TypeKnowledgeBase:
		return &KnowledgeBaseConfig{}, nil
	case TypeGenerationEngine:
		return &GenerationConfig{}, nil
	case TypeOutputSink:
		return &OutputConfig{}, nil
	}
	return nil, stackflow.NewError(stackflow.ErrUnknownNodeType, fmt.Sprintf("unknown node type %q", t), nil,
		map[string]any{"type": string(t)})
}

// DecodeConfig decodes raw into the config struct of t. Strict decoding
// rejects fields that t does not define.
func DecodeConfig(t NodeType, raw json.RawMessage, strict bool) (Config, error) {
	cfg, err := NewConfig(t)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return cfg, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	if strict {
		dec.DisallowUnknownFields()
	}
	if err := dec.Decode(cfg); err != nil {
		return nil, stackflow.NewError(stackflow.ErrInvalidConfig,
			fmt.Sprintf("invalid %s configuration: %v", t, err), err,
			map[string]any{"type": string(t)})
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateConfig checks the option enumerations and ranges of cfg.
func ValidateConfig(cfg Config) error {
	if cfg == nil {
		return stackflow.NewError(stackflow.ErrInvalidConfig, "configuration is required", nil, nil)
	}
	return stackflow.ValidateStruct(cfg, stackflow.ErrInvalidConfig)
}

// MergeConfig overlays patch on cfg and returns a new config. Only the keys
// present in patch change; keys foreign to the node type are rejected.
func MergeConfig(cfg Config, patch map[string]any) (Config, error) {
	if cfg == nil {
		return nil, stackflow.NewError(stackflow.ErrInvalidConfig, "configuration is required", nil, nil)
	}
	if len(patch) == 0 {
		return cfg.Clone(), nil
	}

	base, err := json.Marshal(cfg)
	if err != nil {
		return nil, stackflow.NewError(stackflow.ErrInvalidConfig, "encode configuration", err, nil)
	}
	fields := map[string]any{}
	if err := json.Unmarshal(base, &fields); err != nil {
		return nil, stackflow.NewError(stackflow.ErrInvalidConfig, "decode configuration", err, nil)
	}
	for k, v := range patch {
		fields[k] = v
	}
	merged, err := json.Marshal(fields)
	if err != nil {
		return nil, stackflow.NewError(stackflow.ErrInvalidConfig, "encode configuration patch", err, nil)
	}
	return DecodeConfig(cfg.NodeType(), merged, true)
}
