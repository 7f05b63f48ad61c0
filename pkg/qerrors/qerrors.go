// Package qerrors classifies gateway failures by kind so the HTTP
// surface can map them to wire-visible status codes without string
// matching.
package qerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the failure taxonomy. Kinds are stable wire-adjacent labels,
// not Go types.
type Kind string

const (
	KindInvalidSQL         Kind = "INVALID_SQL"
	KindNoRecognizedTables Kind = "NO_RECOGNIZED_TABLES"
	KindUnknownTable       Kind = "UNKNOWN_TABLE"
	KindAuthInvalid        Kind = "AUTH_INVALID"
	KindRateLimitExhausted Kind = "RATE_LIMIT_EXHAUSTED"
	KindSourceTimeout      Kind = "SOURCE_TIMEOUT"
	KindSourceFatal        Kind = "SOURCE_FATAL"
	KindDAGCycle           Kind = "DAG_CYCLE"
	KindJoinEngine         Kind = "JOIN_ENGINE_ERROR"
	KindConfigInvalid      Kind = "CONFIG_INVALID"
	KindInternal           Kind = "INTERNAL"
)

// QueryError carries a kind, a human-readable detail, and optionally
// the connector that observed the failure.
type QueryError struct {
	Kind      Kind
	Message   string
	Connector string
	cause     error
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	if e.Connector != "" {
		return fmt.Sprintf("%s: %s (connector=%s)", e.Kind, e.Message, e.Connector)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *QueryError) Unwrap() error { return e.cause }

// New creates a QueryError with the given kind and message.
func New(kind Kind, message string) *QueryError {
	return &QueryError{Kind: kind, Message: message}
}

// Newf creates a QueryError with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *QueryError {
	return &QueryError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, cause error, message string) *QueryError {
	return &QueryError{Kind: kind, Message: message, cause: cause}
}

// WithConnector tags the error with the connector that produced it.
func (e *QueryError) WithConnector(id string) *QueryError {
	e.Connector = id
	return e
}

// KindOf extracts the kind from err, or KindInternal when err carries
// no classification.
func KindOf(err error) Kind {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Kind
	}
	return KindInternal
}

// ConnectorOf extracts the connector tag from err, if any.
func ConnectorOf(err error) string {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Connector
	}
	return ""
}

// HTTPStatus maps an error kind to the wire status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidSQL, KindNoRecognizedTables, KindUnknownTable, KindJoinEngine:
		return http.StatusBadRequest
	case KindAuthInvalid:
		return http.StatusUnauthorized
	case KindRateLimitExhausted:
		return http.StatusTooManyRequests
	case KindSourceTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
