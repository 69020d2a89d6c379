package verifyr

import "errors"

var (
	// ErrEmptyQuestion is returned when the question is empty or whitespace.
	ErrEmptyQuestion = errors.New("verifyr: question is empty")

	// ErrQuestionTooLong is returned when the question exceeds the length cap.
	ErrQuestionTooLong = errors.New("verifyr: question exceeds maximum length")

	// ErrUnknownModel is returned when the requested model_id is not configured.
	ErrUnknownModel = errors.New("verifyr: unknown model")

	// ErrInvalidConversationID is returned for malformed conversation ids.
	ErrInvalidConversationID = errors.New("verifyr: invalid conversation id")

	// ErrOverloaded is returned when the worker pool is saturated.
	ErrOverloaded = errors.New("verifyr: too many concurrent requests")

	// ErrTimeout is returned when the end-to-end request deadline expires.
	ErrTimeout = errors.New("verifyr: request deadline exceeded")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("verifyr: invalid configuration")

	// ErrEngineClosed is returned when querying a closed engine.
	ErrEngineClosed = errors.New("verifyr: engine is closed")
)
