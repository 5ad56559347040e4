// Package hub multiplexes typed Hub method calls, server pushes and group
// broadcasts over one duplex channel per connection.
package hub

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/HMasataka/hubrpc/internal/eventbus"
	"github.com/HMasataka/hubrpc/internal/logging"
	"github.com/HMasataka/hubrpc/pkg/dispatch"
	"github.com/HMasataka/hubrpc/pkg/domain"
	"github.com/HMasataka/hubrpc/pkg/errors"
	"github.com/HMasataka/hubrpc/pkg/transport/protocol"
	"github.com/rs/xid"
	"google.golang.org/grpc/codes"
)

// Hub accepts connections for one Hub service and owns their sessions
type Hub struct {
	name       string
	dispatcher *dispatch.Dispatcher
	groups     *Groups
	logger     *logging.Logger
	eventBus   eventbus.Bus
	opts       Options

	sessions  sync.Map // map[string]*Session
	stats     counters
	startTime time.Time
}

// New registers svc with d and returns a Hub serving it
func New(svc *dispatch.Service, d *dispatch.Dispatcher, opts ...Option) (*Hub, error) {
	if !svc.IsHub() {
		return nil, errors.New(errors.ErrorTypeRegistration, codes.InvalidArgument, "service is not a hub").
			WithDetails(svc.Name())
	}

	if _, err := d.Register(svc); err != nil {
		return nil, err
	}

	options := buildOptions(opts)
	logger := options.Logger.WithFields(map[string]any{"hub": svc.Name()})

	groups := options.Groups
	if groups == nil {
		groups = NewGroups(logger, options.EventBus)
		groups.SetDefaults(options.BroadcastMode, options.ErrorPolicy)
	}

	return &Hub{
		name:       svc.Name(),
		dispatcher: d,
		groups:     groups,
		logger:     logger,
		eventBus:   options.EventBus,
		opts:       options,
		startTime:  time.Now(),
	}, nil
}

// Name returns the hub name; the hub is exposed as "{Name}/Connect"
func (h *Hub) Name() string {
	return h.name
}

// Groups returns the group registry
func (h *Hub) Groups() *Groups {
	return h.groups
}

// Dispatcher returns the dispatcher the hub's methods are registered with
func (h *Hub) Dispatcher() *dispatch.Dispatcher {
	return h.dispatcher
}

// Connect accepts a connection: it runs OnConnecting, writes the handshake
// frame, marks the session Connected, runs OnConnected and starts
// processing frames. It does not block; wait on Session.Done.
func (h *Hub) Connect(ctx context.Context, ch domain.Channel) (*Session, error) {
	id := xid.New().String()
	logger := h.logger.WithFields(map[string]any{"connection_id": id})

	s := &Session{hub: h}
	s.conn = newConn(id, ch, h.dispatcher, h.name, &h.opts, logger, &h.stats)
	s.callCtx = WithSession(s.callCtx, s)
	s.onClose = func(cause error) { h.release(s, cause) }

	if h.opts.OnConnecting != nil {
		if err := h.opts.OnConnecting(ctx, s); err != nil {
			logger.Info("connection rejected", "error", err)
			s.cancel()
			_ = ch.Close()
			return nil, err
		}
	}

	if err := s.write(&protocol.Frame{Type: protocol.FrameHandshake}); err != nil {
		s.cancel()
		_ = ch.Close()
		return nil, fmt.Errorf("failed to write handshake: %w", err)
	}

	s.connectedAt = time.Now()
	s.setState(domain.StateConnected)
	h.sessions.Store(id, s)

	s.startReader()

	if h.opts.OnConnected != nil {
		h.opts.OnConnected(s.callCtx, s)
	}

	s.startConsumer()

	h.publish(eventbus.EventSessionConnected, s)
	logger.Info("session connected")

	return s, nil
}

func (h *Hub) release(s *Session, cause error) {
	h.groups.RemoveSession(s)

	if h.opts.OnDisconnected != nil {
		h.opts.OnDisconnected(context.WithoutCancel(s.callCtx), s)
	}

	h.sessions.Delete(s.id)
	h.publish(eventbus.EventSessionDisconnected, s)

	if cause != nil {
		s.logger.Info("session disconnected", "error", cause)
		return
	}
	s.logger.Info("session disconnected")
}

func (h *Hub) publish(t eventbus.EventType, s *Session) {
	if h.eventBus == nil {
		return
	}
	event := eventbus.NewEvent(t, h.name, map[string]string{
		"connection_id": s.id,
	}).WithMetadata("hub", h.name)
	h.eventBus.PublishAsync(event)
}

// Session returns a live session by id
func (h *Hub) Session(id string) (*Session, bool) {
	v, ok := h.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Sessions returns the live sessions ordered by id
func (h *Hub) Sessions() []*Session {
	var sessions []*Session
	h.sessions.Range(func(_, value any) bool {
		sessions = append(sessions, value.(*Session))
		return true
	})
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].id < sessions[j].id
	})
	return sessions
}

// Shutdown disconnects every session and waits until they are closed or ctx ends
func (h *Hub) Shutdown(ctx context.Context) error {
	sessions := h.Sessions()
	for _, s := range sessions {
		s.Disconnect()
	}
	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Stats returns hub statistics
func (h *Hub) Stats() domain.HubStats {
	return domain.HubStats{
		Hub:              h.name,
		ConnectedClients: len(h.Sessions()),
		Groups:           h.groups.Len(),
		MessagesSent:     h.stats.sent.Load(),
		MessagesReceived: h.stats.received.Load(),
		Uptime:           time.Since(h.startTime).Seconds(),
	}
}
