package chat

import (
	"context"

	"github.com/HMasataka/hubrpc/pkg/dispatch"
	"github.com/HMasataka/hubrpc/pkg/domain"
	"github.com/HMasataka/hubrpc/pkg/hub"
)

// Receiver handles what the chat hub sends to a client
type Receiver interface {
	OnJoin(p Player)
	OnLeave(p Player)
	OnMove(e MoveEvent)
	OnMessage(m Message)
	OnPoll(question string) string
}

// NewReceiverService adapts r to the receiver service passed to hub.Connect
func NewReceiverService(r Receiver) *dispatch.Service {
	return dispatch.NewHub(ReceiverName,
		dispatch.HubNotify("OnJoin", func(ctx context.Context, p Player) error {
			r.OnJoin(p)
			return nil
		}),
		dispatch.HubNotify("OnLeave", func(ctx context.Context, p Player) error {
			r.OnLeave(p)
			return nil
		}),
		dispatch.HubNotify("OnMove", func(ctx context.Context, e MoveEvent) error {
			r.OnMove(e)
			return nil
		}),
		dispatch.HubNotify("OnMessage", func(ctx context.Context, m Message) error {
			r.OnMessage(m)
			return nil
		}),
		dispatch.HubInvoke("OnPoll", func(ctx context.Context, question string) (string, error) {
			return r.OnPoll(question), nil
		}),
	)
}

// Client is a typed proxy of the chat hub
type Client struct {
	*hub.Client
}

// Connect opens a chat client over ch
func Connect(ctx context.Context, ch domain.Channel, r Receiver, opts ...hub.Option) (*Client, error) {
	c, err := hub.Connect(ctx, ch, HubName, NewReceiverService(r), opts...)
	if err != nil {
		return nil, err
	}
	return &Client{Client: c}, nil
}

// Join enters a room and returns who was already there
func (c *Client) Join(ctx context.Context, room, name string) ([]Player, error) {
	return hub.Invoke[JoinRequest, []Player](ctx, c.Client, JoinID, JoinRequest{RoomName: room, UserName: name})
}

// Leave exits the current room
func (c *Client) Leave(ctx context.Context) error {
	_, err := hub.Invoke[Empty, Empty](ctx, c.Client, LeaveID, Empty{})
	return err
}

// Move reports a new position without waiting for the server
func (c *Client) Move(ctx context.Context, pos Position) error {
	return hub.Send(ctx, c.Client, MoveID, pos)
}

// Say sends a line to the room
func (c *Client) Say(ctx context.Context, text string) (Message, error) {
	return hub.Invoke[string, Message](ctx, c.Client, SayID, text)
}

// Poll asks the other members of the room a question
func (c *Client) Poll(ctx context.Context, question string) (map[string]string, error) {
	return hub.Invoke[string, map[string]string](ctx, c.Client, PollID, question)
}
