// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling for the gaffer command engine.
package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode classifies engine errors for dispatch translation and monitoring.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeConfiguration indicates invalid startup configuration. Fatal.
	CodeConfiguration ErrorCode = "CONFIGURATION_ERROR"

	// CodeResolution indicates a role declared capabilities the registry
	// does not hold. Fatal at startup.
	CodeResolution ErrorCode = "CAPABILITY_RESOLUTION_ERROR"

	// CodeValidation indicates a command was understood but its parameters
	// were incomplete or malformed.
	CodeValidation ErrorCode = "VALIDATION_FAILURE"

	// CodeForbidden indicates the requester role lacks entitlement.
	CodeForbidden ErrorCode = "FORBIDDEN"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeExecution indicates a capability failed while executing.
	CodeExecution ErrorCode = "CAPABILITY_EXECUTION_ERROR"

	// CodeIdentifierExhausted indicates identifier generation ran out of
	// disambiguation attempts.
	CodeIdentifierExhausted ErrorCode = "IDENTIFIER_SPACE_EXHAUSTED"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeLLMError indicates a language-model provider error.
	CodeLLMError ErrorCode = "LLM_ERROR"
)

// EngineError is a typed error with context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type EngineError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Recoverable bool
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *EngineError) MarshalJSON() ([]byte, error) {
	type Alias EngineError
	return json.Marshal(&struct {
		Message     string `json:"message"`
		Code        string `json:"code"`
		Err         string `json:"error,omitempty"`
		Recoverable bool   `json:"recoverable"`
		*Alias
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Err:         fmt.Sprintf("%v", e.Err),
		Recoverable: e.Recoverable,
		Alias:       (*Alias)(e),
	})
}

// New creates a new EngineError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *EngineError {
	return &EngineError{
		Code:    code,
		Message: msg,
		Err:     cause,
		Context: make(map[string]interface{}),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *EngineError) WithRecoverable(recoverable bool) *EngineError {
	e.Recoverable = recoverable
	return e
}

// AsEngineError attempts to convert an error to an EngineError.
// Returns the error as EngineError if it is one, or wraps it otherwise.
func AsEngineError(err error) *EngineError {
	if err == nil {
		return nil
	}
	if ee, ok := err.(*EngineError); ok {
		return ee
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the engine error code for err, or CodeInternal when err
// carries no code.
func CodeOf(err error) ErrorCode {
	ee := AsEngineError(err)
	if ee == nil {
		return CodeInternal
	}
	return ee.Code
}

// IsCode reports whether err carries the given engine error code.
func IsCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}
