package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"transcript-core/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedState session.State

func (s fixedState) State() session.State { return session.State(s) }

type fixedConnection struct {
	connected bool
	attempts  int
}

func (c fixedConnection) IsConnected() bool      { return c.connected }
func (c fixedConnection) ReconnectAttempts() int { return c.attempts }

func TestOpsHandler_Ready(t *testing.T) {
	tests := []struct {
		name         string
		state        session.State
		expectCode   int
		expectStatus string
	}{
		{name: "restoring is not ready", state: session.StateRestoring, expectCode: http.StatusServiceUnavailable, expectStatus: "starting"},
		{name: "signed out is ready", state: session.StateUnauthenticated, expectCode: http.StatusOK, expectStatus: "ready"},
		{name: "signed in is ready", state: session.StateAuthenticated, expectCode: http.StatusOK, expectStatus: "ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := opsHandler(fixedState(tt.state), fixedConnection{connected: true, attempts: 2})
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.expectCode, rec.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.expectStatus, body["status"])
			assert.Equal(t, string(tt.state), body["session"])
			assert.Equal(t, true, body["connected"])
			assert.Equal(t, float64(2), body["reconnect_attempts"])
		})
	}
}

func TestOpsHandler_Health(t *testing.T) {
	h := opsHandler(fixedState(session.StateUninitialized), fixedConnection{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}
