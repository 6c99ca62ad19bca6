package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

type ErrorCode string

const (
	ErrCodeAuth             ErrorCode = "AUTH_ERROR"
	ErrCodeSessionExpired   ErrorCode = "SESSION_EXPIRED"
	ErrCodeNetwork          ErrorCode = "NETWORK_ERROR"
	ErrCodeStorage          ErrorCode = "STORAGE_ERROR"
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeNotConnected     ErrorCode = "CHANNEL_NOT_CONNECTED"
	ErrCodeAlertFailed      ErrorCode = "ALERT_DELIVERY_FAILED"
	ErrCodeFrameMalformed   ErrorCode = "FRAME_MALFORMED"
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"
)

type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// NewAuthError keeps the provider message verbatim so it can be shown to the user.
func NewAuthError(message string, cause error) *StandardError {
	details := ""
	if cause != nil {
		details = cause.Error()
	}
	if message == "" {
		message = "Authentication failed"
	}
	return &StandardError{
		Code:      ErrCodeAuth,
		Message:   message,
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     cause,
	}
}

func NewSessionExpiredError(expiresAt int64) *StandardError {
	return &StandardError{
		Code:      ErrCodeSessionExpired,
		Message:   "Session has expired",
		Details:   fmt.Sprintf("expiresAt: %d", expiresAt),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewNetworkError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNetwork,
		Message:   fmt.Sprintf("Network failure during %s", operation),
		Details:   errString(err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewStorageError(operation, key string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStorage,
		Message:   "Persistent store operation failed",
		Details:   fmt.Sprintf("operation: %s, key: %s, error: %s", operation, key, errString(err)),
		Retryable: true,
		Metadata:  map[string]interface{}{"key": key},
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Input validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewNotConnectedError(operation string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotConnected,
		Message:   "Real-time channel is not connected",
		Details:   fmt.Sprintf("operation: %s", operation),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewAlertFailedError(notificationID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeAlertFailed,
		Message:   "Platform alert delivery failed",
		Details:   fmt.Sprintf("notificationId: %s, error: %s", notificationID, errString(err)),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewFrameMalformedError(frameType string, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeFrameMalformed,
		Message:   "Inbound frame rejected",
		Details:   fmt.Sprintf("type: %s, %s", frameType, details),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// As returns the StandardError in err's chain, if any.
func As(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

func HasCode(err error, code ErrorCode) bool {
	stdErr, ok := As(err)
	return ok && stdErr.Code == code
}

// Normalize wraps a foreign error into a StandardError with the fallback code.
func Normalize(err error, fallback ErrorCode) *StandardError {
	if err == nil {
		return nil
	}
	if stdErr, ok := As(err); ok {
		return stdErr
	}
	return &StandardError{
		Code:      fallback,
		Message:   err.Error(),
		Retryable: IsRetryableErrorCode(fallback),
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeNetwork, ErrCodeNotConnected:
		return 5
	case ErrCodeStorage, ErrCodeAlertFailed:
		return 3
	case ErrCodeSessionExpired:
		return 1
	default:
		return 0
	}
}

func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "AUTH") || strings.Contains(codeStr, "SESSION"):
		return "AUTH"
	case strings.Contains(codeStr, "NETWORK") || strings.Contains(codeStr, "CHANNEL"):
		return "NETWORK"
	case strings.Contains(codeStr, "STORAGE"):
		return "STORAGE"
	case strings.Contains(codeStr, "ALERT"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "VALIDATION") || strings.Contains(codeStr, "MALFORMED"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}

// UserMessage renders an error for display: provider text for auth failures,
// a generic sentence otherwise. Codes and details are never included.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	stdErr, ok := As(err)
	if !ok {
		return "Something went wrong. Please try again."
	}
	switch stdErr.Code {
	case ErrCodeAuth:
		return stdErr.Message
	case ErrCodeValidationFailed:
		if stdErr.Details != "" {
			return stdErr.Details
		}
		return stdErr.Message
	case ErrCodeNetwork, ErrCodeNotConnected:
		return "Unable to reach the server. Check your connection and try again."
	case ErrCodeSessionExpired:
		return "Your session has expired. Please sign in again."
	default:
		return "Something went wrong. Please try again."
	}
}
