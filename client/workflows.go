package client

import (
	"context"
	"net/http"
	"net/url"

	stackflow "github.com/goliatone/go-stackflow"
	"github.com/goliatone/go-stackflow/execution"
	"github.com/goliatone/go-stackflow/session"
)

// Workflow is the backend workflow record.
type Workflow struct {
	ID            string               `json:"id"`
	UserID        string               `json:"user_id,omitempty"`
	Name          string               `json:"name"`
	Description   string               `json:"description"`
	Configuration *session.SavedConfig `json:"configuration"`
	IsActive      bool                 `json:"is_active"`
	CreatedAt     string               `json:"created_at,omitempty"`
	UpdatedAt     string               `json:"updated_at,omitempty"`
}

// WorkflowInput creates a workflow.
type WorkflowInput struct {
	Name          string               `json:"name" validate:"required,min=1,max=255"`
	Description   string               `json:"description,omitempty"`
	Configuration *session.SavedConfig `json:"configuration,omitempty"`
}

// ChatMessage is one stored execution of a workflow.
type ChatMessage struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflow_id"`
	Query      string `json:"query"`
	Response   string `json:"response"`
	CreatedAt  string `json:"created_at,omitempty"`
}

func workflowPath(id string, rest ...string) string {
	p := "/api/workflows/" + url.PathEscape(id)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

func requireWorkflowID(id string) error {
	if id == "" {
		return stackflow.NewError(stackflow.ErrInvalidRequest, "workflow id is required", nil, nil)
	}
	return nil
}

// Execute runs req against the workflow. It implements execution.Executor.
func (c *Client) Execute(ctx context.Context, workflowID string, req execution.Request) (execution.Response, error) {
	if err := requireWorkflowID(workflowID); err != nil {
		return execution.Response{}, err
	}
	var resp execution.Response
	cl, err := jsonCall(http.MethodPost, workflowPath(workflowID, "execute"), req, &resp)
	if err != nil {
		return execution.Response{}, err
	}
	cl.notFound = stackflow.ErrWorkflowNotFound
	if err := c.send(ctx, cl); err != nil {
		return execution.Response{}, err
	}
	return resp, nil
}

// CreateWorkflow registers a new workflow.
func (c *Client) CreateWorkflow(ctx context.Context, in WorkflowInput) (Workflow, error) {
	if err := stackflow.ValidateMessage(&in); err != nil {
		return Workflow{}, err
	}
	var out Workflow
	cl, err := jsonCall(http.MethodPost, "/api/workflows", in, &out)
	if err != nil {
		return Workflow{}, err
	}
	if err := c.send(ctx, cl); err != nil {
		return Workflow{}, err
	}
	return out, nil
}

func (c *Client) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	var out []Workflow
	cl, _ := jsonCall(http.MethodGet, "/api/workflows", nil, &out)
	if err := c.send(ctx, cl); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetWorkflow(ctx context.Context, id string) (Workflow, error) {
	if err := requireWorkflowID(id); err != nil {
		return Workflow{}, err
	}
	var out Workflow
	cl, _ := jsonCall(http.MethodGet, workflowPath(id), nil, &out)
	cl.notFound = stackflow.ErrWorkflowNotFound
	if err := c.send(ctx, cl); err != nil {
		return Workflow{}, err
	}
	return out, nil
}

func (c *Client) DeleteWorkflow(ctx context.Context, id string) error {
	if err := requireWorkflowID(id); err != nil {
		return err
	}
	cl, _ := jsonCall(http.MethodDelete, workflowPath(id), nil, nil)
	cl.notFound = stackflow.ErrWorkflowNotFound
	return c.send(ctx, cl)
}

// ChatHistory lists past executions of a workflow.
func (c *Client) ChatHistory(ctx context.Context, id string) ([]ChatMessage, error) {
	if err := requireWorkflowID(id); err != nil {
		return nil, err
	}
	var out []ChatMessage
	cl, _ := jsonCall(http.MethodGet, workflowPath(id, "chat-history"), nil, &out)
	cl.notFound = stackflow.ErrWorkflowNotFound
	if err := c.send(ctx, cl); err != nil {
		return nil, err
	}
	return out, nil
}

// Workflows returns a session.Repository backed by the workflow endpoints.
func (c *Client) Workflows() *WorkflowRepository {
	return &WorkflowRepository{client: c}
}

// WorkflowRepository stores configurations through PUT/GET
// /api/workflows/{id}.
type WorkflowRepository struct {
	client *Client
}

type configurationBody struct {
	Configuration session.SavedConfig `json:"configuration"`
}

func (r *WorkflowRepository) Save(ctx context.Context, workflowID string, cfg session.SavedConfig) error {
	if err := requireWorkflowID(workflowID); err != nil {
		return err
	}
	cl, err := jsonCall(http.MethodPut, workflowPath(workflowID), configurationBody{Configuration: cfg}, nil)
	if err != nil {
		return err
	}
	cl.notFound = stackflow.ErrWorkflowNotFound
	return r.client.send(ctx, cl)
}

func (r *WorkflowRepository) Load(ctx context.Context, workflowID string) (session.SavedConfig, error) {
	wf, err := r.client.GetWorkflow(ctx, workflowID)
	if err != nil {
		return session.SavedConfig{}, err
	}
	if wf.Configuration == nil {
		return session.SavedConfig{}, nil
	}
	return *wf.Configuration, nil
}

var _ session.Repository = (*WorkflowRepository)(nil)
var _ execution.Executor = (*Client)(nil)
