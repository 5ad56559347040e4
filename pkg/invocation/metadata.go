package invocation

import (
	"context"
	"maps"
)

type contextKey string

const (
	metadataKey     contextKey = "metadata"
	connectionIDKey contextKey = "connection_id"
)

// WithMetadata attaches call metadata to ctx
func WithMetadata(ctx context.Context, md map[string]string) context.Context {
	return context.WithValue(ctx, metadataKey, maps.Clone(md))
}

// MetadataFromContext returns a copy of the metadata attached to ctx
func MetadataFromContext(ctx context.Context) map[string]string {
	md, ok := ctx.Value(metadataKey).(map[string]string)
	if !ok {
		return map[string]string{}
	}
	return maps.Clone(md)
}

// WithConnectionID attaches the id of the connection a call arrived on
func WithConnectionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, connectionIDKey, id)
}

// ConnectionIDFromContext returns the connection id, or "" outside a connection
func ConnectionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(connectionIDKey).(string)
	return id
}

type currentKey struct{}

// NewContext returns ctx carrying ic, so handlers can reach the per-call bag
func NewContext(ctx context.Context, ic *Context) context.Context {
	return context.WithValue(ctx, currentKey{}, ic)
}

// FromContext returns the invocation context of the running call
func FromContext(ctx context.Context) (*Context, bool) {
	ic, ok := ctx.Value(currentKey{}).(*Context)
	return ic, ok
}
