package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	stackflow "github.com/goliatone/go-stackflow"
	"github.com/goliatone/go-stackflow/canvas"
	"github.com/goliatone/go-stackflow/catalog"
	"github.com/goliatone/go-stackflow/execution"
	"github.com/goliatone/go-stackflow/graph"
	"github.com/goliatone/go-stackflow/readiness"
	"github.com/goliatone/go-stackflow/session"
)

type templateView struct {
	catalog.Template
	Config graph.Config `json:"config"`
}

type createSessionRequest struct {
	WorkflowID string `json:"workflow_id"`
	// Load restores the saved graph of WorkflowID.
	Load bool `json:"load"`
}

func (r *createSessionRequest) Validate() error {
	if r.Load && r.WorkflowID == "" {
		return stackflow.NewError(stackflow.ErrInvalidRequest, "workflow_id is required to load a workflow", nil, nil)
	}
	return nil
}

type sessionView struct {
	ID         string        `json:"id"`
	WorkflowID string        `json:"workflow_id,omitempty"`
	State      session.State `json:"state"`
	Stats      session.Stats `json:"stats"`
	Dirty      bool          `json:"dirty"`
}

type dragRequest struct {
	Type graph.NodeType `json:"type" validate:"required"`
}

type dropRequest struct {
	DataTransfer canvas.DataTransfer `json:"dataTransfer" validate:"required"`
	Point        canvas.DropPoint    `json:"point"`
}

type executeRequest struct {
	Query string `json:"query"`
}

type bindRequest struct {
	WorkflowID string `json:"workflow_id" validate:"required"`
}

type validationView struct {
	OK      bool             `json:"ok"`
	Reason  readiness.Reason `json:"reason,omitempty"`
	Message string           `json:"message,omitempty"`
	State   session.State    `json:"state"`
}

// ExecutionStatus is the state of the last execution of a session.
type ExecutionStatus string

const (
	ExecutionNone      ExecutionStatus = "none"
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionSucceeded ExecutionStatus = "succeeded"
	ExecutionFailed    ExecutionStatus = "failed"
)

type executionView struct {
	Status   ExecutionStatus `json:"status"`
	Response string          `json:"response,omitempty"`
	Detail   string          `json:"detail,omitempty"`
	Sinks    []string        `json:"sinks,omitempty"`
	Revision any             `json:"revision,omitempty"`
}

func newExecutionView(f *execution.Future) executionView {
	if f == nil {
		return executionView{Status: ExecutionNone}
	}
	rev, _ := f.Metadata("revision")
	out, done := f.Load()
	switch {
	case !done:
		return executionView{Status: ExecutionPending, Revision: rev}
	case out.Err != nil:
		return executionView{Status: ExecutionFailed, Detail: out.Detail, Revision: rev}
	default:
		return executionView{Status: ExecutionSucceeded, Response: out.Response, Sinks: out.Sinks, Revision: rev}
	}
}

func summarize(s *session.Session) sessionView {
	return sessionView{
		ID:         s.ID(),
		WorkflowID: s.WorkflowID(),
		State:      s.State(),
		Stats:      s.Stats(),
		Dirty:      s.Dirty(),
	}
}

func (s *Server) entry(w http.ResponseWriter, r *http.Request) (*entry, bool) {
	e, err := s.registry.get(chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	return e, true
}

func (s *Server) catalog(w http.ResponseWriter, r *http.Request) {
	var out []templateView
	for _, t := range catalog.Templates() {
		tpl, cfg, err := catalog.TemplateFor(t.Type)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		out = append(out, templateView{Template: tpl, Config: cfg})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decode(r, &req, true); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Load {
		c, err := s.registry.Load(r.Context(), req.WorkflowID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, summarize(c.Session()))
		return
	}
	c := s.registry.Create(req.WorkflowID)
	writeJSON(w, http.StatusCreated, summarize(c.Session()))
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	ids := s.registry.IDs()
	out := make([]sessionView, 0, len(ids))
	for _, id := range ids {
		if c, err := s.registry.Get(id); err == nil {
			out = append(out, summarize(c.Session()))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, summarize(e.session()))
}

func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Close(chi.URLParam(r, "sessionID")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) view(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, e.session().Canvas().View())
}

func (s *Server) beginDrag(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	var req dragRequest
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	dt, err := e.session().Canvas().BeginDrag(req.Type)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dt)
}

func (s *Server) drop(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	var req dropRequest
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := e.session().Canvas().Drop(req.DataTransfer, req.Point)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

func (s *Server) connect(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	var req canvas.Connection
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	edge, err := e.session().Canvas().Connect(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, edge)
}

func (s *Server) nodeChanges(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	var changes []canvas.NodeChange
	if err := decode(r, &changes, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := e.session().Canvas().ApplyNodeChanges(changes); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e.session().Canvas().View())
}

func (s *Server) edgeChanges(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	var changes []canvas.EdgeChange
	if err := decode(r, &changes, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := e.session().Canvas().ApplyEdgeChanges(changes); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e.session().Canvas().View())
}

func (s *Server) patchNode(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	var patch graph.Patch
	if err := decode(r, &patch, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	if patch.Empty() {
		s.writeError(w, r, stackflow.NewError(stackflow.ErrInvalidRequest, "patch changes nothing", nil, nil))
		return
	}
	n, err := e.session().Store().UpdateNode(chi.URLParam(r, "nodeID"), patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) validate(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	res, err := e.session().Validate()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, validationView{
		OK:      res.OK,
		Reason:  res.Reason,
		Message: res.Reason.Message(),
		State:   e.session().State(),
	})
}

// execute dispatches a query. With ?wait=true the request blocks until the
// execution settles or the wait limit passes.
func (s *Server) execute(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	var req executeRequest
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	fut, err := e.coordinator.Execute(r.Context(), req.Query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	e.setLast(fut)

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if !wait {
		writeJSON(w, http.StatusAccepted, newExecutionView(fut))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.waitLimit)
	defer cancel()
	select {
	case <-fut.Done():
		writeJSON(w, http.StatusOK, newExecutionView(fut))
	case <-ctx.Done():
		writeJSON(w, http.StatusAccepted, newExecutionView(fut))
	}
}

func (s *Server) lastExecution(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newExecutionView(e.lastFuture()))
}

func (s *Server) save(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	if err := e.coordinator.Save(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(e.session()))
}

func (s *Server) bindWorkflow(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	var req bindRequest
	if err := decode(r, &req, false); err != nil {
		s.writeError(w, r, err)
		return
	}
	e.session().BindWorkflow(req.WorkflowID)
	writeJSON(w, http.StatusOK, summarize(e.session()))
}

func (s *Server) exportWorkflow(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	saved, err := session.Encode(e.session().Snapshot())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, e.session().Stats())
}

func (s *Server) transcript(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, e.session().Transcript().Entries())
}
