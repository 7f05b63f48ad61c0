package qerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := New(KindInvalidSQL, "bad syntax")
	assert.Equal(t, KindInvalidSQL, KindOf(err))

	wrapped := fmt.Errorf("outer: %w", err)
	assert.Equal(t, KindInvalidSQL, KindOf(wrapped))

	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Equal(t, KindInternal, KindOf(nil))
}

func TestConnectorOf(t *testing.T) {
	err := New(KindSourceTimeout, "slow").WithConnector("github")
	assert.Equal(t, "github", ConnectorOf(err))
	assert.Equal(t, "", ConnectorOf(errors.New("plain")))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("root")
	err := Wrap(KindJoinEngine, cause, "query failed")
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "JOIN_ENGINE_ERROR")
	assert.Contains(t, err.Error(), "query failed")
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind   Kind
		status int
	}{
		{KindInvalidSQL, http.StatusBadRequest},
		{KindNoRecognizedTables, http.StatusBadRequest},
		{KindUnknownTable, http.StatusBadRequest},
		{KindJoinEngine, http.StatusBadRequest},
		{KindAuthInvalid, http.StatusUnauthorized},
		{KindRateLimitExhausted, http.StatusTooManyRequests},
		{KindSourceTimeout, http.StatusGatewayTimeout},
		{KindSourceFatal, http.StatusInternalServerError},
		{KindDAGCycle, http.StatusInternalServerError},
		{KindConfigInvalid, http.StatusInternalServerError},
		{KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, HTTPStatus(New(tt.kind, "x")), string(tt.kind))
	}
}
