package hub

import (
	"context"
)

type contextKey string

const (
	sessionKey contextKey = "session"
	clientKey  contextKey = "client"
)

// WithSession stores the calling session in ctx
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFromContext returns the session a Hub method is running for
func SessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey).(*Session)
	if !ok || s == nil {
		return nil, false
	}
	return s, true
}

// WithClient stores the receiving client in ctx
func WithClient(ctx context.Context, c *Client) context.Context {
	return context.WithValue(ctx, clientKey, c)
}

// ClientFromContext returns the client a receiver method is running for
func ClientFromContext(ctx context.Context) (*Client, bool) {
	c, ok := ctx.Value(clientKey).(*Client)
	if !ok || c == nil {
		return nil, false
	}
	return c, true
}
