// Package invocation holds the per-call state that flows through filters
// into handlers.
package invocation

import (
	"context"
	"sync"
	"time"

	"github.com/HMasataka/hubrpc/pkg/method"
	"github.com/HMasataka/hubrpc/pkg/serializer"
	"github.com/google/uuid"
)

// Endpoint is one step of a filter chain; the innermost one runs the handler.
type Endpoint func(ic *Context) error

// Stream is the raw inbound and outbound message stream of a streaming call.
// Recv returns io.EOF once the caller finished sending.
type Stream interface {
	Recv() ([]byte, error)
	Send(payload []byte) error
}

// Context is the state of a single call. It is created by the dispatcher
// and discarded when the call, or for streaming calls the stream, completes.
type Context struct {
	ctx context.Context

	Method       *method.Descriptor
	CallID       uuid.UUID
	ConnectionID string
	Metadata     map[string]string
	Serializer   serializer.Serializer
	Timestamp    time.Time

	// RawRequest is nil for calls whose requests arrive on Stream.
	RawRequest []byte
	Request    any
	Response   any
	Stream     Stream

	mu    sync.RWMutex
	items map[string]any
}

// New creates the invocation context of one call
func New(ctx context.Context, desc *method.Descriptor, s serializer.Serializer, raw []byte) *Context {
	return &Context{
		ctx:          ctx,
		Method:       desc,
		CallID:       uuid.New(),
		ConnectionID: ConnectionIDFromContext(ctx),
		Metadata:     MetadataFromContext(ctx),
		Serializer:   s,
		Timestamp:    time.Now(),
		RawRequest:   raw,
	}
}

// Context returns the cancellation scope of the call. It is derived from the
// connection, so a disconnect cancels every call made over it.
func (c *Context) Context() context.Context {
	return c.ctx
}

// SetContext replaces the call scope, e.g. to attach a deadline.
func (c *Context) SetContext(ctx context.Context) {
	c.ctx = ctx
}

// Set stores a value in the per-call bag
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.items == nil {
		c.items = make(map[string]any)
	}
	c.items[key] = value
}

// Get reads a value from the per-call bag
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.items[key]
	return v, ok
}

// Elapsed is the time since the call was created
func (c *Context) Elapsed() time.Duration {
	return time.Since(c.Timestamp)
}
