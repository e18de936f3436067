package execution

import (
	"context"
	"strings"

	"github.com/goliatone/go-stackflow/session"
)

// NoResponse is displayed when the service answered without text.
const NoResponse = "No response generated"

// FallbackDetail is shown when a failure carries no detail of its own.
const FallbackDetail = "Error executing workflow"

// Request is the execution request sent to the service.
type Request struct {
	Query               string                   `json:"query" validate:"required"`
	ContextDocuments    []string                 `json:"contextDocuments,omitempty"`
	ConversationHistory []session.HistoryMessage `json:"conversationHistory,omitempty" validate:"dive"`
	Options             *RequestOptions          `json:"options,omitempty"`
	// Workflow is the graph snapshot taken at dispatch.
	Workflow *session.SavedConfig `json:"workflow,omitempty"`
}

// RequestOptions carries per-request flags derived from node settings.
type RequestOptions struct {
	EnableWebSearch bool `json:"enable_web_search"`
}

// Response is the service answer. Some deployments use message instead of
// response.
type Response struct {
	Response string `json:"response"`
	Message  string `json:"message,omitempty"`
}

// Text returns the answer text.
func (r Response) Text() string {
	if s := strings.TrimSpace(r.Response); s != "" {
		return r.Response
	}
	if s := strings.TrimSpace(r.Message); s != "" {
		return r.Message
	}
	return NoResponse
}

// Executor runs a workflow request against the execution service.
type Executor interface {
	Execute(ctx context.Context, workflowID string, req Request) (Response, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, workflowID string, req Request) (Response, error)

func (f ExecutorFunc) Execute(ctx context.Context, workflowID string, req Request) (Response, error) {
	return f(ctx, workflowID, req)
}
