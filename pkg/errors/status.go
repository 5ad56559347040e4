package errors

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/HMasataka/hubrpc/pkg/domain"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Status returns an application error with the given code. Handlers and
// filters return it to reject a call without treating it as a failure.
func Status(code codes.Code, message string) *Error {
	return New(ErrorTypeApplication, code, message)
}

// Statusf is Status with a format string.
func Statusf(code codes.Code, format string, args ...any) *Error {
	return Status(code, fmt.Sprintf(format, args...))
}

// FromError converts any error into a structured status error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if stderrors.As(err, &e) {
		return e
	}

	switch {
	case stderrors.Is(err, context.Canceled):
		return Wrap(err, ErrorTypeConnection, codes.Canceled, "call canceled")
	case stderrors.Is(err, context.DeadlineExceeded):
		return Wrap(err, ErrorTypeConnection, codes.DeadlineExceeded, "deadline exceeded")
	case stderrors.Is(err, domain.ErrConnectionClosed):
		return Wrap(err, ErrorTypeConnection, codes.Unavailable, "connection closed")
	case stderrors.Is(err, domain.ErrMethodNotFound):
		return Wrap(err, ErrorTypeProtocol, codes.Unimplemented, "method not found")
	}

	if st, ok := status.FromError(err); ok {
		return New(ErrorTypeApplication, st.Code(), st.Message())
	}

	return Wrap(err, ErrorTypeInternal, codes.Internal, "internal error")
}

// Code returns the status code carried by err, codes.OK for nil.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	return FromError(err).Code
}
