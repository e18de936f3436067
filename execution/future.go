package execution

import (
	"context"
	"sync"
)

// Outcome is the settled result of one execution.
type Outcome struct {
	Response string
	// Detail is the message shown to the user when Err is set.
	Detail string
	Err    error
	// Sinks lists the output nodes that received the response.
	Sinks []string
}

// Future is the handle of a dispatched execution.
type Future struct {
	done     chan struct{}
	once     sync.Once
	mu       sync.RWMutex
	outcome  Outcome
	metadata map[string]any
}

func newFuture(metadata map[string]any) *Future {
	if metadata == nil {
		metadata = make(map[string]any)
	}
	return &Future{done: make(chan struct{}), metadata: metadata}
}

func (f *Future) complete(o Outcome) bool {
	completed := false
	f.once.Do(func() {
		f.mu.Lock()
		f.outcome = o
		f.mu.Unlock()
		close(f.done)
		completed = true
	})
	return completed
}

// Done is closed once the execution settled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the execution settles or ctx ends. The returned error is
// the execution error, or ctx's error when ctx ended first.
func (f *Future) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-f.done:
		o, _ := f.Load()
		return o, o.Err
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Load returns the outcome without blocking.
func (f *Future) Load() (Outcome, bool) {
	select {
	case <-f.done:
	default:
		return Outcome{}, false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.outcome, true
}

// Metadata returns dispatch metadata such as the request revision.
func (f *Future) Metadata(key string) (any, bool) {
	v, ok := f.metadata[key]
	return v, ok
}
