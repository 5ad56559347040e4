package chat

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/HMasataka/hubrpc/internal/logging"
	"github.com/HMasataka/hubrpc/pkg/dispatch"
	"github.com/HMasataka/hubrpc/pkg/errors"
	"github.com/HMasataka/hubrpc/pkg/hub"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
)

type member struct {
	room   string
	player Player
}

// Chat holds room state shared by the chat hub and the chat service
type Chat struct {
	hub    *hub.Hub
	logger *logging.Logger

	mu      sync.RWMutex
	members map[string]*member // by connection id
	history map[string][]Message
}

// New registers the chat hub on d. OnDisconnected in opts is replaced by
// the chat's own hook, which announces the departure to the room.
func New(d *dispatch.Dispatcher, logger *logging.Logger, opts ...hub.Option) (*Chat, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	c := &Chat{
		logger:  logger.WithFields(map[string]any{"component": "chat"}),
		members: make(map[string]*member),
		history: make(map[string][]Message),
	}

	svc := dispatch.NewHub(HubName,
		dispatch.HubInvoke("Join", c.join),
		dispatch.HubInvoke("Leave", c.leave),
		dispatch.HubNotify("Move", c.move),
		dispatch.HubInvoke("Say", c.say),
		dispatch.HubInvoke("Poll", c.poll),
	)

	opts = append([]hub.Option{hub.WithLogger(logger)}, opts...)
	opts = append(opts, hub.OnDisconnected(c.onDisconnected))
	h, err := hub.New(svc, d, opts...)
	if err != nil {
		return nil, err
	}
	c.hub = h

	return c, nil
}

// Hub returns the chat hub
func (c *Chat) Hub() *hub.Hub {
	return c.hub
}

func (c *Chat) join(ctx context.Context, req JoinRequest) ([]Player, error) {
	s, ok := hub.SessionFromContext(ctx)
	if !ok {
		return nil, errors.Status(codes.Internal, "join called outside a session")
	}

	room := strings.TrimSpace(req.RoomName)
	name := strings.TrimSpace(req.UserName)
	if room == "" || name == "" {
		return nil, errors.Status(codes.InvalidArgument, "room name and user name are required")
	}

	c.mu.Lock()
	if m, joined := c.members[s.ID()]; joined {
		c.mu.Unlock()
		return nil, errors.Statusf(codes.FailedPrecondition, "already in room %s", m.room)
	}
	others := c.playersLocked(room)
	me := &member{room: room, player: Player{ID: s.ID(), Name: name}}
	c.members[s.ID()] = me
	c.mu.Unlock()

	if err := c.hub.Groups().Add(room, s); err != nil {
		c.mu.Lock()
		delete(c.members, s.ID())
		c.mu.Unlock()
		return nil, err
	}

	c.logger.Info("player joined", "room", room, "player", name, "connection_id", s.ID())

	if _, err := hub.Broadcast(ctx, c.hub, room, OnJoinID, me.player, hub.Except(s.ID())); err != nil {
		return nil, err
	}
	return others, nil
}

func (c *Chat) leave(ctx context.Context, _ Empty) (Empty, error) {
	s, ok := hub.SessionFromContext(ctx)
	if !ok {
		return Empty{}, errors.Status(codes.Internal, "leave called outside a session")
	}

	m, ok := c.remove(s.ID())
	if !ok {
		return Empty{}, errors.Status(codes.FailedPrecondition, "not in a room")
	}
	c.hub.Groups().Remove(m.room, s)

	c.logger.Info("player left", "room", m.room, "player", m.player.Name)

	_, err := hub.Broadcast(ctx, c.hub, m.room, OnLeaveID, m.player)
	return Empty{}, err
}

func (c *Chat) move(ctx context.Context, pos Position) error {
	s, ok := hub.SessionFromContext(ctx)
	if !ok {
		return errors.Status(codes.Internal, "move called outside a session")
	}

	c.mu.Lock()
	m, joined := c.members[s.ID()]
	if joined {
		m.player.Position = pos
	}
	c.mu.Unlock()

	if !joined {
		return errors.Status(codes.FailedPrecondition, "not in a room")
	}

	_, err := hub.Broadcast(ctx, c.hub, m.room, OnMoveID, MoveEvent{PlayerID: s.ID(), Position: pos},
		hub.Except(s.ID()))
	return err
}

func (c *Chat) say(ctx context.Context, text string) (Message, error) {
	s, ok := hub.SessionFromContext(ctx)
	if !ok {
		return Message{}, errors.Status(codes.Internal, "say called outside a session")
	}
	if strings.TrimSpace(text) == "" {
		return Message{}, errors.Status(codes.InvalidArgument, "message is empty")
	}

	c.mu.Lock()
	m, joined := c.members[s.ID()]
	if !joined {
		c.mu.Unlock()
		return Message{}, errors.Status(codes.FailedPrecondition, "not in a room")
	}
	msg := Message{Room: m.room, UserName: m.player.Name, Text: text, SentAt: time.Now().UTC()}
	history := append(c.history[m.room], msg)
	if len(history) > historySize {
		history = history[len(history)-historySize:]
	}
	c.history[m.room] = history
	c.mu.Unlock()

	// Everyone in the room sees lines in the same order.
	if _, err := hub.Broadcast(ctx, c.hub, m.room, OnMessageID, msg, hub.WithMode(hub.Sequential)); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// poll asks every other member of the caller's room and collects the
// answers by player name. Members that fail to answer are left out.
func (c *Chat) poll(ctx context.Context, question string) (map[string]string, error) {
	s, ok := hub.SessionFromContext(ctx)
	if !ok {
		return nil, errors.Status(codes.Internal, "poll called outside a session")
	}

	c.mu.RLock()
	m, joined := c.members[s.ID()]
	c.mu.RUnlock()
	if !joined {
		return nil, errors.Status(codes.FailedPrecondition, "not in a room")
	}

	var (
		mu      sync.Mutex
		answers = make(map[string]string)
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, target := range c.hub.Groups().Get(m.room) {
		other, ok := target.(*hub.Session)
		if !ok || other.ID() == s.ID() {
			continue
		}
		name, ok := c.playerName(other.ID())
		if !ok {
			continue
		}

		g.Go(func() error {
			answer, err := hub.Invoke[string, string](gctx, other, OnPollID, question)
			if err != nil {
				c.logger.Debug("poll answer failed", "player", name, "error", err)
				return nil
			}
			mu.Lock()
			answers[name] = answer
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return answers, nil
}

func (c *Chat) onDisconnected(ctx context.Context, s *hub.Session) {
	m, ok := c.remove(s.ID())
	if !ok {
		return
	}

	c.logger.Info("player disconnected", "room", m.room, "player", m.player.Name)

	if _, err := hub.Broadcast(ctx, c.hub, m.room, OnLeaveID, m.player); err != nil {
		c.logger.Error("failed to announce departure", "room", m.room, "error", err)
	}
}

func (c *Chat) remove(id string) (*member, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.members[id]
	if ok {
		delete(c.members, id)
	}
	return m, ok
}

func (c *Chat) playerName(id string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m, ok := c.members[id]
	if !ok {
		return "", false
	}
	return m.player.Name, true
}

// playersLocked returns the players in room ordered by name
func (c *Chat) playersLocked(room string) []Player {
	players := []Player{}
	for _, m := range c.members {
		if m.room == room {
			players = append(players, m.player)
		}
	}
	sort.Slice(players, func(i, j int) bool {
		return players[i].Name < players[j].Name
	})
	return players
}
