package websocket

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/HMasataka/hubrpc/internal/logging"
	"github.com/HMasataka/hubrpc/pkg/hub"
	"github.com/HMasataka/hubrpc/pkg/invocation"
	"github.com/gorilla/websocket"
)

// Server upgrades HTTP requests and connects them to a Hub
type Server struct {
	upgrader websocket.Upgrader
	hub      *hub.Hub
	logger   *logging.Logger
	options  ServerOptions
}

// NewServer creates a new WebSocket server for h
func NewServer(h *hub.Hub, opts ...ServerOption) *Server {
	options := ServerOptions{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true // Allow all origins by default (configure for production)
		},
		Logger:  logging.Discard(),
		Channel: DefaultChannelOptions(),
	}

	for _, opt := range opts {
		opt(&options)
	}

	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  options.ReadBufferSize,
			WriteBufferSize: options.WriteBufferSize,
			CheckOrigin:     options.CheckOrigin,
		},
		hub:     h,
		logger:  options.Logger.WithFields(map[string]any{"hub": h.Name()}),
		options: options,
	}
}

// ServeHTTP implements http.Handler. It returns once the session is closed.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade error",
			"error", err,
			"remote_addr", r.RemoteAddr,
		)
		return
	}

	ctx := invocation.WithMetadata(context.WithoutCancel(r.Context()), headerMetadata(r.Header))
	ch := NewChannel(ctx, conn, s.logger, s.options.Channel)

	session, err := s.hub.Connect(r.Context(), ch)
	if err != nil {
		s.logger.Info("connection rejected",
			"error", err,
			"remote_addr", r.RemoteAddr,
		)
		return
	}

	s.logger.Debug("websocket session started",
		"connection_id", session.ID(),
		"remote_addr", r.RemoteAddr,
	)

	started := time.Now()
	<-session.Done()

	s.logger.Debug("websocket session ended",
		"connection_id", session.ID(),
		"duration", time.Since(started),
	)
}

// headerMetadata exposes request headers as call metadata with lower-case keys
func headerMetadata(h http.Header) map[string]string {
	md := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			md[strings.ToLower(k)] = v[0]
		}
	}
	return md
}
