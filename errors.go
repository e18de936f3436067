package stackflow

import (
	stderrors "errors"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

const (
	ErrCodeDuplicateNode     = "GRAPH_DUPLICATE_NODE"
	ErrCodeDuplicateEdge     = "GRAPH_DUPLICATE_EDGE"
	ErrCodeUnknownNode       = "GRAPH_UNKNOWN_NODE"
	ErrCodeUnknownEdge       = "GRAPH_UNKNOWN_EDGE"
	ErrCodeInvalidPosition   = "GRAPH_INVALID_POSITION"
	ErrCodeInvalidConfig     = "GRAPH_INVALID_CONFIG"
	ErrCodeUnknownNodeType   = "CATALOG_UNKNOWN_TYPE"
	ErrCodeMalformedPayload  = "CANVAS_MALFORMED_PAYLOAD"
	ErrCodeInvalidConnection = "CANVAS_INVALID_CONNECTION"
	ErrCodeNotReady          = "STACK_NOT_READY"
	ErrCodeInvalidTransition = "SESSION_INVALID_TRANSITION"
	ErrCodeSessionNotFound   = "SESSION_NOT_FOUND"
	ErrCodeExecutionInFlight = "EXECUTION_IN_FLIGHT"
	ErrCodeEmptyQuery        = "EXECUTION_EMPTY_QUERY"
	ErrCodeUnauthorized      = "COLLABORATOR_UNAUTHORIZED"
	ErrCodeCollaborator      = "COLLABORATOR_FAILED"
	ErrCodeWorkflowNotFound  = "WORKFLOW_NOT_FOUND"
	ErrCodeUnsupportedFile   = "DOCUMENT_UNSUPPORTED_FILE"
	ErrCodeInvalidRequest    = "REQUEST_INVALID"
)

var (
	ErrDuplicateNode = apperrors.New("node identifier already in use", apperrors.CategoryConflict).
				WithTextCode(ErrCodeDuplicateNode)
	ErrDuplicateEdge = apperrors.New("edge identifier already in use", apperrors.CategoryConflict).
				WithTextCode(ErrCodeDuplicateEdge)
	ErrUnknownNode = apperrors.New("node not found", apperrors.CategoryBadInput).
			WithTextCode(ErrCodeUnknownNode)
	ErrUnknownEdge = apperrors.New("edge not found", apperrors.CategoryBadInput).
			WithTextCode(ErrCodeUnknownEdge)
	ErrInvalidPosition = apperrors.New("position must be finite", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeInvalidPosition)
	ErrInvalidConfig = apperrors.New("invalid node configuration", apperrors.CategoryValidation).
				WithTextCode(ErrCodeInvalidConfig)
	ErrUnknownNodeType = apperrors.New("unknown node type", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeUnknownNodeType)
	ErrMalformedPayload = apperrors.New("malformed node payload", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeMalformedPayload)
	ErrInvalidConnection = apperrors.New("invalid connection", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeInvalidConnection)
	ErrNotReady = apperrors.New("workflow is not ready", apperrors.CategoryValidation).
			WithTextCode(ErrCodeNotReady)
	ErrInvalidTransition = apperrors.New("invalid session transition", apperrors.CategoryConflict).
				WithTextCode(ErrCodeInvalidTransition)
	ErrSessionNotFound = apperrors.New("session not found", apperrors.CategoryNotFound).
				WithTextCode(ErrCodeSessionNotFound)
	ErrExecutionInFlight = apperrors.New("an execution is already pending", apperrors.CategoryConflict).
				WithTextCode(ErrCodeExecutionInFlight)
	ErrEmptyQuery = apperrors.New("Please enter a query", apperrors.CategoryBadInput).
			WithTextCode(ErrCodeEmptyQuery)
	ErrUnauthorized = apperrors.New("not authorized", apperrors.CategoryAuth).
			WithTextCode(ErrCodeUnauthorized)
	ErrCollaborator = apperrors.New("collaborator request failed", apperrors.CategoryExternal).
			WithTextCode(ErrCodeCollaborator)
	ErrWorkflowNotFound = apperrors.New("Workflow not found", apperrors.CategoryNotFound).
				WithTextCode(ErrCodeWorkflowNotFound)
	ErrUnsupportedFile = apperrors.New("Only PDF files are supported", apperrors.CategoryBadInput).
				WithTextCode(ErrCodeUnsupportedFile)
	ErrInvalidRequest = apperrors.New("invalid request", apperrors.CategoryValidation).
				WithTextCode(ErrCodeInvalidRequest)
)

// NewError clones base and decorates it with an occurrence specific message,
// source error and metadata.
func NewError(base *apperrors.Error, message string, source error, metadata map[string]any) *apperrors.Error {
	if base == nil {
		base = ErrCollaborator
	}
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// ErrorCode returns the text code of the first go-errors value in err's chain.
func ErrorCode(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// HasCode reports whether err carries the given text code.
func HasCode(err error, code string) bool {
	return err != nil && ErrorCode(err) == code
}

// Detail returns the human readable message for err, preferring the
// go-errors message over the full chain rendering.
func Detail(err error) string {
	if err == nil {
		return ""
	}
	var ge *apperrors.Error
	if stderrors.As(err, &ge) && strings.TrimSpace(ge.Message) != "" {
		return ge.Message
	}
	return err.Error()
}

// Metadata returns the metadata attached to the first go-errors value in err's chain.
func Metadata(err error) map[string]any {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.Metadata
	}
	return nil
}
