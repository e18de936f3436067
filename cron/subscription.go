package cron

import (
	"sync"
	"time"
)

// Status reports where a scheduled job is in its life.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusRunning   Status = "running"
	StatusIdle      Status = "idle"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
	StatusStopped   Status = "stopped"
)

// Terminal reports whether no further runs will happen.
func (s Status) Terminal() bool {
	return s == StatusCanceled || s == StatusStopped
}

// Handle controls one scheduled job.
type Handle interface {
	ID() int64
	Name() string
	Status() Status
	// Err is the error of the last run, nil after a success.
	Err() error
	Runs() int
	LastRun() time.Time
	Cancel()
	Done() <-chan struct{}
}

type jobHandle struct {
	scheduler *Scheduler
	id        int64
	name      string
	entryID   int
	done      chan struct{}
	once      sync.Once

	mu      sync.RWMutex
	status  Status
	err     error
	runs    int
	lastRun time.Time
}

func (h *jobHandle) ID() int64    { return h.id }
func (h *jobHandle) Name() string { return h.name }

func (h *jobHandle) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

func (h *jobHandle) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.err
}

func (h *jobHandle) Runs() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.runs
}

func (h *jobHandle) LastRun() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastRun
}

func (h *jobHandle) Done() <-chan struct{} {
	return h.done
}

// Cancel removes the job from the scheduler. A run already in progress
// finishes.
func (h *jobHandle) Cancel() {
	h.scheduler.remove(h)
	h.finish(StatusCanceled)
}

// begin marks a run as started. It returns false once the handle is terminal.
func (h *jobHandle) begin(at time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status.Terminal() {
		return false
	}
	h.status = StatusRunning
	h.lastRun = at
	return true
}

func (h *jobHandle) end(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.runs++
	h.err = err
	if h.status.Terminal() {
		return
	}
	if err != nil {
		h.status = StatusFailed
	} else {
		h.status = StatusIdle
	}
}

func (h *jobHandle) finish(status Status) {
	h.once.Do(func() {
		h.mu.Lock()
		h.status = status
		h.mu.Unlock()
		close(h.done)
	})
}
