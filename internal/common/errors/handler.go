// internal/common/errors/handler.go
package errors

// ErrorHandler logs failed operations with standardized fields.
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// Handle normalizes err, logs it and returns the StandardError. Caller
// mistakes (auth, validation) are logged as warnings; everything else as an
// error. A nil err is a no-op.
func (h *ErrorHandler) Handle(operation string, err error) *StandardError {
	if err == nil {
		return nil
	}
	stdErr := Normalize(err, ErrCodeInternal)
	if h == nil || h.logger == nil {
		return stdErr
	}

	category := GetErrorCategory(stdErr.Code)
	fields := map[string]interface{}{
		"operation":     operation,
		"errorCode":     string(stdErr.Code),
		"message":       stdErr.Message,
		"details":       stdErr.Details,
		"retryable":     stdErr.Retryable,
		"retries":       GetRetryCount(stdErr.Code),
		"errorCategory": category,
	}

	switch category {
	case "AUTH", "VALIDATION":
		h.logger.Warn("Operation rejected", fields)
	default:
		h.logger.Error("Operation failed", fields)
	}
	return stdErr
}
