// Package chat is a sample room chat built on a hub: players join a room,
// move around and talk, and every member of the room is notified.
package chat

import (
	"time"

	"github.com/HMasataka/hubrpc/pkg/method"
)

const (
	// HubName is the name the chat hub is registered and mounted under
	HubName = "ChatHub"
	// ReceiverName is the client receiver service of the chat hub
	ReceiverName = "ChatHubReceiver"
	// ServiceName is the plain service that reads chat state
	ServiceName = "ChatService"

	historySize = 50
)

// Receiver method ids the hub targets
var (
	OnJoinID    = method.ID("OnJoin")
	OnLeaveID   = method.ID("OnLeave")
	OnMoveID    = method.ID("OnMove")
	OnMessageID = method.ID("OnMessage")
	OnPollID    = method.ID("OnPoll")
)

// Hub method ids clients call
var (
	JoinID  = method.ID("Join")
	LeaveID = method.ID("Leave")
	MoveID  = method.ID("Move")
	SayID   = method.ID("Say")
	PollID  = method.ID("Poll")
)

// JoinRequest asks to enter a room under a display name
type JoinRequest struct {
	RoomName string `json:"room_name"`
	UserName string `json:"user_name"`
}

// Position is a point in a room
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Player is a member of a room
type Player struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Position Position `json:"position"`
}

// MoveEvent tells room members a player moved
type MoveEvent struct {
	PlayerID string   `json:"player_id"`
	Position Position `json:"position"`
}

// Message is a line said in a room
type Message struct {
	Room     string    `json:"room"`
	UserName string    `json:"user_name"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sent_at"`
}

// RoomInfo summarizes a room
type RoomInfo struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
}

// Empty is the argument and result of methods that carry no data
type Empty struct{}
