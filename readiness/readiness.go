// Package readiness decides whether a graph may be saved or executed.
package readiness

import (
	stackflow "github.com/goliatone/go-stackflow"
	"github.com/goliatone/go-stackflow/graph"
)

// Reason is the stable failure code of a readiness check.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonEmpty                Reason = "empty"
	ReasonMissingRequiredRoles Reason = "missing-required-roles"
	ReasonDisconnected         Reason = "disconnected"
)

// Message returns the text shown to the user for r.
func (r Reason) Message() string {
	switch r {
	case ReasonEmpty:
		return "Add at least one component"
	case ReasonMissingRequiredRoles:
		return "Workflow must have User Query and Output components"
	case ReasonDisconnected:
		return "Connect the components before running the workflow"
	}
	return ""
}

// Policy selects how connectivity is checked.
type Policy int

const (
	// GraphWide requires at least one edge in the graph.
	GraphWide Policy = iota
	// PerNode requires every node to have at least one incident edge.
	PerNode
)

func (p Policy) String() string {
	if p == PerNode {
		return "per-node"
	}
	return "graph-wide"
}

// Result is the outcome of Check.
type Result struct {
	OK     bool   `json:"ok"`
	Reason Reason `json:"reason,omitempty"`
}

// Err returns nil when the graph is ready, otherwise an ErrNotReady error
// whose message is the user facing text and whose metadata carries the reason.
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	return stackflow.NewError(stackflow.ErrNotReady, r.Reason.Message(), nil,
		map[string]any{"reason": string(r.Reason)})
}

type options struct {
	policy Policy
}

// Option configures Check.
type Option func(*options)

// WithPolicy selects the connectivity policy.
func WithPolicy(p Policy) Option {
	return func(o *options) {
		o.policy = p
	}
}

// Check evaluates g. It never modifies g and always returns the same result
// for the same graph and options.
func Check(g graph.Graph, opts ...Option) Result {
	o := options{policy: GraphWide}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	if len(g.Nodes) == 0 {
		return fail(ReasonEmpty)
	}
	if !g.HasType(graph.TypeQueryIntake) || !g.HasType(graph.TypeOutputSink) {
		return fail(ReasonMissingRequiredRoles)
	}
	if len(g.Edges) == 0 {
		return fail(ReasonDisconnected)
	}
	if o.policy == PerNode {
		for _, n := range g.Nodes {
			if g.Degree(n.ID) == 0 {
				return fail(ReasonDisconnected)
			}
		}
	}
	return Result{OK: true}
}

// ReasonOf extracts the readiness reason from an error built by Result.Err.
func ReasonOf(err error) Reason {
	if !stackflow.HasCode(err, stackflow.ErrCodeNotReady) {
		return ReasonNone
	}
	if r, ok := stackflow.Metadata(err)["reason"].(string); ok {
		return Reason(r)
	}
	return ReasonNone
}

func fail(r Reason) Result {
	return Result{Reason: r}
}
