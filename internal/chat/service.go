package chat

import (
	"context"
	"sort"

	"github.com/HMasataka/hubrpc/pkg/dispatch"
	"github.com/HMasataka/hubrpc/pkg/errors"
	"google.golang.org/grpc/codes"
)

// Service returns the plain service that reads chat state
func (c *Chat) Service() *dispatch.Service {
	return dispatch.NewService(ServiceName,
		dispatch.Unary("Rooms", c.rooms),
		dispatch.Unary("Members", c.roomMembers),
		dispatch.ServerStreaming("History", c.streamHistory),
	)
}

func (c *Chat) rooms(ctx context.Context, _ Empty) ([]RoomInfo, error) {
	counts := make(map[string]int)

	c.mu.RLock()
	for _, m := range c.members {
		counts[m.room]++
	}
	c.mu.RUnlock()

	rooms := make([]RoomInfo, 0, len(counts))
	for name, n := range counts {
		rooms = append(rooms, RoomInfo{Name: name, Members: n})
	}
	sort.Slice(rooms, func(i, j int) bool {
		return rooms[i].Name < rooms[j].Name
	})
	return rooms, nil
}

func (c *Chat) roomMembers(ctx context.Context, room string) ([]Player, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	players := c.playersLocked(room)
	if len(players) == 0 {
		return nil, errors.Statusf(codes.NotFound, "room %s not found", room)
	}
	return players, nil
}

// streamHistory sends the recent messages of a room, oldest first
func (c *Chat) streamHistory(ctx context.Context, room string, stream *dispatch.ServerStream[Message]) error {
	c.mu.RLock()
	history := append([]Message(nil), c.history[room]...)
	c.mu.RUnlock()

	for _, msg := range history {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := stream.Send(msg); err != nil {
			return err
		}
	}
	return nil
}
