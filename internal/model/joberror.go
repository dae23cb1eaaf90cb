package model

import "time"

// Client-visible error codes
const (
	ErrCodeInvalidInput     = "INVALID_INPUT"
	ErrCodeProcessingFailed = "PROCESSING_FAILED"
	ErrCodeAIModelError     = "AI_MODEL_ERROR"
	ErrCodeStorageError     = "STORAGE_ERROR"
	ErrCodeTimeout          = "TIMEOUT"
	ErrCodeCancelled        = "CANCELLED"
	ErrCodeUnknown          = "UNKNOWN"
)

// clientMessages maps error codes to fixed, client-safe strings. Raw error
// text never reaches these messages.
var clientMessages = map[string]string{
	ErrCodeInvalidInput:     "The request could not be processed because the input was invalid.",
	ErrCodeProcessingFailed: "Something went wrong while processing the photo. Please try again.",
	ErrCodeAIModelError:     "The image could not be generated right now. Please try again.",
	ErrCodeStorageError:     "The result could not be saved. Please try again.",
	ErrCodeTimeout:          "Processing took too long and was stopped. Please try again.",
	ErrCodeCancelled:        "Processing was cancelled.",
	ErrCodeUnknown:          "An unexpected problem occurred. Please try again.",
}

// JobError is the sanitized, client-safe representation of a failure.
// IsRetryable is always false: retry decisions are made structurally by the
// queue configuration, never by inspecting this object.
type JobError struct {
	Code        string    `json:"code"`
	Message     string    `json:"message"`
	Step        string    `json:"step,omitempty"`
	IsRetryable bool      `json:"isRetryable"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewJobError builds a sanitized error for the given code. Unrecognized codes
// fall back to the UNKNOWN message.
func NewJobError(code, step string) *JobError {
	msg, ok := clientMessages[code]
	if !ok {
		code = ErrCodeUnknown
		msg = clientMessages[ErrCodeUnknown]
	}
	return &JobError{
		Code:        code,
		Message:     msg,
		Step:        step,
		IsRetryable: false,
		Timestamp:   time.Now().UTC(),
	}
}

// ClientMessage returns the fixed client-safe message for a code.
func ClientMessage(code string) string {
	if msg, ok := clientMessages[code]; ok {
		return msg
	}
	return clientMessages[ErrCodeUnknown]
}

// ErrorCodes lists every code with a fixed client message.
func ErrorCodes() []string {
	codes := make([]string, 0, len(clientMessages))
	for code := range clientMessages {
		codes = append(codes, code)
	}
	return codes
}
