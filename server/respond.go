package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	stackflow "github.com/goliatone/go-stackflow"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	env := stackflow.EnvelopeForError(err)
	status := stackflow.HTTPStatusForError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("%s %s: %v", r.Method, r.URL.Path, err)
	} else {
		s.logger.Debug("%s %s: %s", r.Method, r.URL.Path, env.Detail)
	}
	writeJSON(w, status, env)
}

// decode reads a JSON body into dst and validates it. An empty body is
// accepted when optional is set.
func decode(r *http.Request, dst any, optional bool) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && optional {
			return nil
		}
		return stackflow.NewError(stackflow.ErrInvalidRequest, "invalid JSON body", err, nil)
	}
	return stackflow.ValidateMessage(dst)
}
