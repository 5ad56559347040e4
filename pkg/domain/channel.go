package domain

import (
	"context"
)

// Channel is a bidirectional byte-frame stream carrying one Hub connection.
// Read and Write may be called from different goroutines, but each of them
// is only ever called from one goroutine at a time.
type Channel interface {
	// Read blocks until the next frame arrives. It returns io.EOF on orderly close.
	Read() ([]byte, error)

	// Write sends one frame
	Write(frame []byte) error

	// Close tears the channel down and unblocks Read
	Close() error

	// Context is cancelled when the underlying transport disconnects
	Context() context.Context
}
