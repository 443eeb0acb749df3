package apperrors

import (
	"fmt"
	"net/http"
)

// Kind classifies an error the way components are required to branch on
// instead of string matching.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransientUpstream
	KindPermanentUpstream
	KindInvariantViolation
	KindCalendarClosed
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindTransientUpstream:
		return "transient_upstream"
	case KindPermanentUpstream:
		return "permanent_upstream"
	case KindInvariantViolation:
		return "invariant_violation"
	case KindCalendarClosed:
		return "calendar_closed"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// AppError represents an application error tagged with an error-kind and,
// where the error crosses an HTTP boundary, the status code that kind maps to.
type AppError struct {
	Kind    Kind
	Code    int
	Message string
	Err     error
}

// Error returns the error message
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an *AppError of the given kind.
func IsKind(err error, kind Kind) bool {
	ae, ok := err.(*AppError)
	return ok && ae.Kind == kind
}

func NewTransientUpstreamError(message string, err error) *AppError {
	return &AppError{Kind: KindTransientUpstream, Code: http.StatusBadGateway, Message: message, Err: err}
}

func NewPermanentUpstreamError(message string, err error) *AppError {
	return &AppError{Kind: KindPermanentUpstream, Code: http.StatusBadRequest, Message: message, Err: err}
}

func NewInvariantViolationError(message string, err error) *AppError {
	return &AppError{Kind: KindInvariantViolation, Code: http.StatusUnprocessableEntity, Message: message, Err: err}
}

func NewCalendarClosedError(message string) *AppError {
	return &AppError{Kind: KindCalendarClosed, Code: http.StatusOK, Message: message}
}

func NewCancelledError(message string, err error) *AppError {
	return &AppError{Kind: KindCancelled, Code: http.StatusOK, Message: message, Err: err}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string, err error) *AppError {
	return &AppError{Code: http.StatusNotFound, Message: message, Err: err}
}

// NewBadRequestError creates a new bad request error
func NewBadRequestError(message string, err error) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: message, Err: err}
}

// NewInternalServerError creates a new internal server error
func NewInternalServerError(message string, err error) *AppError {
	return &AppError{Code: http.StatusInternalServerError, Message: message, Err: err}
}

// Response represents an error response
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// NewErrorResponse creates a new error response
func NewErrorResponse(message string, err error) Response {
	return Response{
		Success: false,
		Message: message,
		Error:   err.Error(),
	}
}
