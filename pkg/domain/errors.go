package domain

import "errors"

// Common domain errors
var (
	// ErrConnectionClosed is returned when writing to or calling over a closed connection
	ErrConnectionClosed = errors.New("connection closed")

	// ErrSessionNotConnected is returned when an operation requires a Connected session
	ErrSessionNotConnected = errors.New("session not connected")

	// ErrHandshakeTimeout is returned when the server marker frame does not arrive in time
	ErrHandshakeTimeout = errors.New("handshake timed out")

	// ErrMethodNotFound is the cause of an Unimplemented reply for an unknown method
	ErrMethodNotFound = errors.New("method not found")

	// ErrInvalidFrame is returned when a frame cannot be decoded
	ErrInvalidFrame = errors.New("invalid frame")

	// ErrHeartbeatTimeout is returned when the peer stops acknowledging heartbeats
	ErrHeartbeatTimeout = errors.New("heartbeat timed out")
)
