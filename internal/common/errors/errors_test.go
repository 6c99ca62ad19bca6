package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAuthError_KeepsProviderMessage(t *testing.T) {
	err := NewAuthError("User already registered", stderrors.New("422"))

	assert.Equal(t, ErrCodeAuth, err.Code)
	assert.Equal(t, "User already registered", err.Message)
	assert.Equal(t, "422", err.Details)
	assert.False(t, err.Retryable)
	assert.Equal(t, "User already registered", UserMessage(err))
}

func TestNewAuthError_DefaultMessage(t *testing.T) {
	err := NewAuthError("", nil)
	assert.Equal(t, "Authentication failed", err.Message)
	assert.Empty(t, err.Details)
}

func TestAs_FindsWrappedError(t *testing.T) {
	base := NewStorageError("set", "auth_session", stderrors.New("connection refused"))
	wrapped := fmt.Errorf("persist: %w", base)

	stdErr, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, ErrCodeStorage, stdErr.Code)
	assert.True(t, HasCode(wrapped, ErrCodeStorage))
	assert.False(t, HasCode(wrapped, ErrCodeAuth))
}

func TestNormalize(t *testing.T) {
	assert.Nil(t, Normalize(nil, ErrCodeNetwork))

	foreign := stderrors.New("dial tcp: timeout")
	norm := Normalize(foreign, ErrCodeNetwork)
	assert.Equal(t, ErrCodeNetwork, norm.Code)
	assert.True(t, norm.Retryable)
	assert.True(t, stderrors.Is(norm, foreign))

	existing := NewValidationError("email is required")
	assert.Same(t, existing, Normalize(existing, ErrCodeNetwork))
}

func TestGetErrorCategory(t *testing.T) {
	tests := []struct {
		code     ErrorCode
		expected string
	}{
		{ErrCodeAuth, "AUTH"},
		{ErrCodeSessionExpired, "AUTH"},
		{ErrCodeNetwork, "NETWORK"},
		{ErrCodeNotConnected, "NETWORK"},
		{ErrCodeStorage, "STORAGE"},
		{ErrCodeAlertFailed, "NOTIFICATION"},
		{ErrCodeValidationFailed, "VALIDATION"},
		{ErrCodeFrameMalformed, "VALIDATION"},
		{"SOMETHING_ELSE", "OTHER"},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.expected, GetErrorCategory(tt.code))
		})
	}
}

func TestUserMessage_HidesInternals(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"foreign", stderrors.New("panic: boom"), "Something went wrong. Please try again."},
		{"network", NewNetworkError("refresh", stderrors.New("EOF")), "Unable to reach the server. Check your connection and try again."},
		{"validation", NewValidationError("password must be at least 8 characters"), "password must be at least 8 characters"},
		{"expired", NewSessionExpiredError(10), "Your session has expired. Please sign in again."},
		{"storage", NewStorageError("get", "k", nil), "Something went wrong. Please try again."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, UserMessage(tt.err))
		})
	}
}

func TestIsRetryableErrorCode(t *testing.T) {
	assert.True(t, IsRetryableErrorCode(ErrCodeNetwork))
	assert.True(t, IsRetryableErrorCode(ErrCodeStorage))
	assert.False(t, IsRetryableErrorCode(ErrCodeAuth))
	assert.False(t, IsRetryableErrorCode(ErrCodeValidationFailed))
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]interface{}
}

type captureLogger struct {
	entries []capturedLog
}

func (c *captureLogger) Warn(msg string, fields map[string]interface{}) {
	c.entries = append(c.entries, capturedLog{"warn", msg, fields})
}

func (c *captureLogger) Error(msg string, fields map[string]interface{}) {
	c.entries = append(c.entries, capturedLog{"error", msg, fields})
}

func TestErrorHandler_Handle(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		expectLevel   string
		expectCode    ErrorCode
		expectCategory string
	}{
		{
			name:          "auth rejection is a warning",
			err:           NewAuthError("Invalid login credentials", nil),
			expectLevel:   "warn",
			expectCode:    ErrCodeAuth,
			expectCategory: "AUTH",
		},
		{
			name:          "network failure is an error",
			err:           NewNetworkError("token", fmt.Errorf("dial tcp: refused")),
			expectLevel:   "error",
			expectCode:    ErrCodeNetwork,
			expectCategory: "NETWORK",
		},
		{
			name:          "foreign error is normalized",
			err:           fmt.Errorf("boom"),
			expectLevel:   "error",
			expectCode:    ErrCodeInternal,
			expectCategory: "OTHER",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := &captureLogger{}
			stdErr := NewErrorHandler(log).Handle("sign_in", tt.err)

			require.NotNil(t, stdErr)
			assert.Equal(t, tt.expectCode, stdErr.Code)
			require.Len(t, log.entries, 1)
			assert.Equal(t, tt.expectLevel, log.entries[0].level)
			assert.Equal(t, "sign_in", log.entries[0].fields["operation"])
			assert.Equal(t, tt.expectCategory, log.entries[0].fields["errorCategory"])
		})
	}
}

func TestErrorHandler_NilError(t *testing.T) {
	log := &captureLogger{}
	assert.Nil(t, NewErrorHandler(log).Handle("sign_out", nil))
	assert.Empty(t, log.entries)
}
