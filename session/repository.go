package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	stackflow "github.com/goliatone/go-stackflow"
)

// Repository persists workflow configurations by workflow id.
type Repository interface {
	Save(ctx context.Context, workflowID string, cfg SavedConfig) error
	Load(ctx context.Context, workflowID string) (SavedConfig, error)
}

// MemoryRepository keeps configurations in process memory.
type MemoryRepository struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[string][]byte)}
}

func (r *MemoryRepository) Save(ctx context.Context, workflowID string, cfg SavedConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return stackflow.NewError(stackflow.ErrInvalidConfig, "encode workflow", err, nil)
	}
	r.mu.Lock()
	r.items[workflowID] = raw
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) Load(ctx context.Context, workflowID string) (SavedConfig, error) {
	if err := ctx.Err(); err != nil {
		return SavedConfig{}, err
	}
	r.mu.RLock()
	raw, ok := r.items[workflowID]
	r.mu.RUnlock()
	if !ok {
		return SavedConfig{}, stackflow.NewError(stackflow.ErrWorkflowNotFound,
			fmt.Sprintf("workflow %s not found", workflowID), nil, map[string]any{"workflow_id": workflowID})
	}
	var cfg SavedConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return SavedConfig{}, stackflow.NewError(stackflow.ErrInvalidConfig, "decode workflow", err, nil)
	}
	return cfg, nil
}
