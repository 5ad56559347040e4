package errors

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/HMasataka/hubrpc/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func TestDefaultHandlerSeverity(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		level string
	}{
		{"internal", New(ErrorTypeInternal, codes.Internal, "handler panicked"), "ERROR"},
		{"protocol", Wrap(domain.ErrInvalidFrame, ErrorTypeProtocol, codes.InvalidArgument, "failed to deserialize request"), "WARN"},
		{"application", Status(codes.NotFound, "no such room"), "INFO"},
		{"disconnect", domain.ErrConnectionClosed, "INFO"},
		{"plain", stringError("boom"), "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := NewDefaultHandler(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

			h.Handle(context.Background(), tt.err, "method", "ChatHub/Join")

			var line map[string]any
			require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
			assert.Equal(t, tt.level, line["level"])
			assert.Equal(t, "ChatHub/Join", line["method"])
			assert.Equal(t, FromError(tt.err).Code.String(), line["code"])
		})
	}
}

func TestDefaultHandlerIgnoresNil(t *testing.T) {
	var buf bytes.Buffer
	h := NewDefaultHandler(slog.New(slog.NewTextHandler(&buf, nil)))

	h.Handle(context.Background(), nil)
	assert.Empty(t, strings.TrimSpace(buf.String()))
}

type stringError string

func (e stringError) Error() string { return string(e) }
