package stackflow

import (
	"net/http"
	"strings"
)

const rpcCodeInternal = "STACK_INTERNAL"

// TransportErrorMapping defines protocol-level mappings for stackflow errors.
type TransportErrorMapping struct {
	Code       string
	HTTPStatus int
}

// ErrorEnvelope is the JSON error body returned by the HTTP surface. The
// detail field mirrors what the front end already renders.
type ErrorEnvelope struct {
	Code     string         `json:"code"`
	Detail   string         `json:"detail"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// MapError maps error text codes to transport categories.
func MapError(err error) TransportErrorMapping {
	code := strings.TrimSpace(ErrorCode(err))

	switch code {
	case ErrCodeUnknownNode, ErrCodeUnknownEdge, ErrCodeSessionNotFound, ErrCodeWorkflowNotFound:
		return TransportErrorMapping{Code: code, HTTPStatus: http.StatusNotFound}
	case ErrCodeDuplicateNode, ErrCodeDuplicateEdge, ErrCodeExecutionInFlight, ErrCodeInvalidTransition:
		return TransportErrorMapping{Code: code, HTTPStatus: http.StatusConflict}
	case ErrCodeInvalidPosition, ErrCodeUnknownNodeType, ErrCodeMalformedPayload,
		ErrCodeInvalidConnection, ErrCodeEmptyQuery, ErrCodeUnsupportedFile, ErrCodeInvalidRequest:
		return TransportErrorMapping{Code: code, HTTPStatus: http.StatusBadRequest}
	case ErrCodeInvalidConfig, ErrCodeNotReady:
		return TransportErrorMapping{Code: code, HTTPStatus: http.StatusUnprocessableEntity}
	case ErrCodeUnauthorized:
		return TransportErrorMapping{Code: code, HTTPStatus: http.StatusUnauthorized}
	case ErrCodeCollaborator:
		return TransportErrorMapping{Code: code, HTTPStatus: http.StatusBadGateway}
	default:
		return TransportErrorMapping{Code: rpcCodeInternal, HTTPStatus: http.StatusInternalServerError}
	}
}

// HTTPStatusForError returns the mapped HTTP status code for err.
func HTTPStatusForError(err error) int {
	return MapError(err).HTTPStatus
}

// EnvelopeForError renders err as the JSON error body.
func EnvelopeForError(err error) *ErrorEnvelope {
	if err == nil {
		return nil
	}
	mapping := MapError(err)
	return &ErrorEnvelope{
		Code:     mapping.Code,
		Detail:   Detail(err),
		Metadata: Metadata(err),
	}
}
