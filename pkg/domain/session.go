package domain

// SessionState is the lifecycle state of a Hub session
type SessionState int32

// Session states
const (
	StateConnecting SessionState = iota
	StateConnected
	StateDraining
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// HubStats provides statistics about a hub
type HubStats struct {
	Hub              string  `json:"hub"`
	ConnectedClients int     `json:"connected_clients"`
	Groups           int     `json:"groups"`
	MessagesSent     int64   `json:"messages_sent"`
	MessagesReceived int64   `json:"messages_received"`
	Uptime           float64 `json:"uptime_seconds"`
}
