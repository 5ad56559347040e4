package errors

import (
	"context"
	"log/slog"
)

// Handler reports errors that end at a boundary: a failed call, a dropped notification
type Handler interface {
	// Handle logs err with the handler's logger
	Handle(ctx context.Context, err error, attrs ...any)

	// HandleWithLogger logs err with a specific logger
	HandleWithLogger(ctx context.Context, err error, logger *slog.Logger, attrs ...any)
}

// DefaultHandler logs with a severity picked from the error type:
// internal and registration errors at error, protocol and broadcast at warn,
// everything else (application rejections, disconnects) at info.
type DefaultHandler struct {
	logger *slog.Logger
}

// NewDefaultHandler creates a new default error handler
func NewDefaultHandler(logger *slog.Logger) *DefaultHandler {
	return &DefaultHandler{
		logger: logger,
	}
}

func (h *DefaultHandler) Handle(ctx context.Context, err error, attrs ...any) {
	h.HandleWithLogger(ctx, err, h.logger, attrs...)
}

func (h *DefaultHandler) HandleWithLogger(ctx context.Context, err error, logger *slog.Logger, attrs ...any) {
	if err == nil || logger == nil {
		return
	}

	e := FromError(err)
	attrs = append(attrs,
		slog.String("code", e.Code.String()),
		slog.String("error_type", e.Type.String()),
		slog.String("error", e.Error()),
	)

	switch e.Type {
	case ErrorTypeInternal, ErrorTypeRegistration:
		logger.ErrorContext(ctx, e.Message, attrs...)
	case ErrorTypeProtocol, ErrorTypeBroadcast:
		logger.WarnContext(ctx, e.Message, attrs...)
	default:
		logger.InfoContext(ctx, e.Message, attrs...)
	}
}

func (t ErrorType) String() string {
	switch t {
	case ErrorTypeProtocol:
		return "protocol"
	case ErrorTypeApplication:
		return "application"
	case ErrorTypeBroadcast:
		return "broadcast"
	case ErrorTypeConnection:
		return "connection"
	case ErrorTypeRegistration:
		return "registration"
	case ErrorTypeInternal:
		return "internal"
	default:
		return "unknown"
	}
}
