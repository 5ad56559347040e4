package errors

import (
	"fmt"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorType represents the failure class of an error
type ErrorType int

const (
	// ErrorTypeProtocol indicates a malformed frame, unknown method id or undecodable payload
	ErrorTypeProtocol ErrorType = iota
	// ErrorTypeApplication indicates a status returned by a handler or filter
	ErrorTypeApplication
	// ErrorTypeBroadcast indicates a failed write to a group member
	ErrorTypeBroadcast
	// ErrorTypeConnection indicates a transport disconnect
	ErrorTypeConnection
	// ErrorTypeRegistration indicates an invalid method table
	ErrorTypeRegistration
	// ErrorTypeInternal indicates an unexpected failure
	ErrorTypeInternal
)

// Error represents a structured error carrying an RPC status code
type Error struct {
	Type      ErrorType  `json:"type"`
	Code      codes.Code `json:"code"`
	Message   string     `json:"message"`
	Details   string     `json:"details,omitempty"`
	Cause     error      `json:"-"`
	Timestamp time.Time  `json:"timestamp"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (caused by: %v)", e.Code, e.Message, e.Details, e.Cause)
	}
	if e.Details != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if the error is of a specific type
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// GRPCStatus lets grpc report the error with its own code instead of Unknown
func (e *Error) GRPCStatus() *status.Status {
	if e.Details != "" {
		return status.New(e.Code, e.Message+": "+e.Details)
	}
	return status.New(e.Code, e.Message)
}

// New creates a new error
func New(errorType ErrorType, code codes.Code, message string) *Error {
	return &Error{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, errorType ErrorType, code codes.Code, message string) *Error {
	return &Error{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Cause:     err,
		Timestamp: time.Now(),
	}
}

// WithDetails adds details to an error
func (e *Error) WithDetails(details string) *Error {
	e.Details = details
	return e
}
