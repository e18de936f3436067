package canvas

import (
	"fmt"

	stackflow "github.com/goliatone/go-stackflow"
	"github.com/goliatone/go-stackflow/graph"
)

// ChangeType is the kind of a renderer change event.
type ChangeType string

const (
	ChangePosition   ChangeType = "position"
	ChangeRemove     ChangeType = "remove"
	ChangeSelect     ChangeType = "select"
	ChangeDimensions ChangeType = "dimensions"
)

// NodeChange is a renderer-level node change.
type NodeChange struct {
	Type       ChangeType      `json:"type" validate:"required,oneof=position remove select dimensions"`
	ID         string          `json:"id" validate:"required"`
	Position   *graph.Position `json:"position,omitempty"`
	Dragging   bool            `json:"dragging,omitempty"`
	Selected   bool            `json:"selected,omitempty"`
	Dimensions *Dimensions     `json:"dimensions,omitempty"`
	// BaseRevision is the store revision the renderer saw when it produced a
	// position outside a drag. A newer store change to the node wins.
	BaseRevision *uint64 `json:"baseRevision,omitempty"`
}

// EdgeChange is a renderer-level edge change.
type EdgeChange struct {
	Type     ChangeType `json:"type" validate:"required,oneof=remove select"`
	ID       string     `json:"id" validate:"required"`
	Selected bool       `json:"selected,omitempty"`
}

// ApplyNodeChanges applies renderer node changes. Positions reported while
// dragging only touch the view; the final position is committed to the store
// unless the store changed the node after the drag began. Removals go through
// the store so the node's edges are removed with it. The batch is checked
// before anything is applied, so a rejected batch changes nothing.
func (a *Adapter) ApplyNodeChanges(changes []NodeChange) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.checkNodeChangesLocked(changes); err != nil {
		return err
	}
	defer a.syncLocked()

	for _, ch := range changes {
		var err error
		switch ch.Type {
		case ChangePosition:
			err = a.applyPositionLocked(ch)
		case ChangeRemove:
			var cascade []string
			cascade, err = a.store.RemoveNode(ch.ID)
			if err == nil {
				a.logger.Debug("removed %s and %d edges", ch.ID, len(cascade))
			}
		case ChangeSelect:
			if st, ok := a.states[ch.ID]; ok {
				st.selected = ch.Selected
			}
		case ChangeDimensions:
			if st, ok := a.states[ch.ID]; ok && ch.Dimensions != nil {
				d := *ch.Dimensions
				st.dimensions = &d
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) checkNodeChangesLocked(changes []NodeChange) error {
	removed := make(map[string]bool)
	for _, ch := range changes {
		if err := stackflow.ValidateStruct(ch, stackflow.ErrInvalidRequest); err != nil {
			return err
		}
		if ch.Type != ChangePosition && ch.Type != ChangeRemove {
			continue
		}
		if _, ok := a.store.Node(ch.ID); !ok || removed[ch.ID] {
			return unknownEndpoint(ch.ID)
		}
		if ch.Type == ChangeRemove {
			removed[ch.ID] = true
			continue
		}
		if ch.Position != nil && !ch.Position.Finite() {
			return stackflow.NewError(stackflow.ErrInvalidPosition, "", nil, map[string]any{"node_id": ch.ID})
		}
	}
	return nil
}

func (a *Adapter) applyPositionLocked(ch NodeChange) error {
	current, ok := a.store.Node(ch.ID)
	if !ok {
		return unknownEndpoint(ch.ID)
	}
	if ch.Position != nil && !ch.Position.Finite() {
		return stackflow.NewError(stackflow.ErrInvalidPosition, "", nil, map[string]any{"node_id": ch.ID})
	}

	st, ok := a.states[ch.ID]
	if !ok {
		st = &viewState{position: current.Position}
		a.states[ch.ID] = st
	}

	if ch.Dragging {
		if _, started := a.drags[ch.ID]; !started {
			a.drags[ch.ID] = current.Rev
		}
		if ch.Position != nil {
			st.position = *ch.Position
		}
		st.dragging = true
		return nil
	}

	final := st.position
	if ch.Position != nil {
		final = *ch.Position
	}
	base, started := a.drags[ch.ID]
	switch {
	case started:
	case ch.BaseRevision != nil:
		base = *ch.BaseRevision
	default:
		base = current.Rev
	}
	delete(a.drags, ch.ID)
	st.dragging = false

	_, applied, err := a.store.UpdateNodeIfUnchanged(ch.ID, base, graph.Patch{Position: &final})
	if err != nil {
		return err
	}
	if !applied {
		a.logger.Debug("dropping stale drag of %s: store changed since rev %d", ch.ID, base)
		st.position = current.Position
	}
	return nil
}

// ApplyEdgeChanges applies renderer edge changes. Removals go through the
// store; selection is view-only. A rejected batch changes nothing.
func (a *Adapter) ApplyEdgeChanges(changes []EdgeChange) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.checkEdgeChangesLocked(changes); err != nil {
		return err
	}
	defer a.syncLocked()

	for _, ch := range changes {
		switch ch.Type {
		case ChangeRemove:
			if err := a.store.RemoveEdge(ch.ID); err != nil {
				return err
			}
		case ChangeSelect:
			a.edgeSel[ch.ID] = ch.Selected
		}
	}
	return nil
}

func (a *Adapter) checkEdgeChangesLocked(changes []EdgeChange) error {
	present := make(map[string]bool)
	for _, e := range a.store.Edges() {
		present[e.ID] = true
	}
	for _, ch := range changes {
		if err := stackflow.ValidateStruct(ch, stackflow.ErrInvalidRequest); err != nil {
			return err
		}
		switch ch.Type {
		case ChangeRemove:
			if !present[ch.ID] {
				return stackflow.NewError(stackflow.ErrUnknownEdge, fmt.Sprintf("edge %s not found", ch.ID), nil,
					map[string]any{"edge_id": ch.ID})
			}
			delete(present, ch.ID)
		case ChangeSelect:
		default:
			return stackflow.NewError(stackflow.ErrInvalidRequest,
				fmt.Sprintf("unsupported edge change %q", ch.Type), nil, map[string]any{"edge_id": ch.ID})
		}
	}
	return nil
}
