// Package server assembles the HTTP and gRPC listeners that expose hubs and
// services.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/HMasataka/hubrpc/internal/config"
	"github.com/HMasataka/hubrpc/internal/eventbus"
	"github.com/HMasataka/hubrpc/internal/logging"
	"github.com/HMasataka/hubrpc/pkg/dispatch"
	"github.com/HMasataka/hubrpc/pkg/hub"
	grpctransport "github.com/HMasataka/hubrpc/pkg/transport/grpc"
	"github.com/HMasataka/hubrpc/pkg/transport/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/iancoleman/strcase"
	"google.golang.org/grpc"
)

// Server serves hubs over websocket and, when enabled, hubs and plain
// services over gRPC
type Server struct {
	cfg        *config.Config
	logger     *logging.Logger
	dispatcher *dispatch.Dispatcher
	hubs       []*hub.Hub
	bus        eventbus.Bus

	router     chi.Router
	httpServer *http.Server
	grpcServer *grpc.Server
	startTime  time.Time
}

// New creates a server. Every hub must be registered with d.
func New(cfg *config.Config, logger *logging.Logger, d *dispatch.Dispatcher, bus eventbus.Bus, hubs []*hub.Hub) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logger,
		dispatcher: d,
		hubs:       hubs,
		bus:        bus,
		startTime:  time.Now(),
	}

	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if cfg.GRPC.Enabled {
		gs, err := s.newGRPCServer()
		if err != nil {
			return nil, err
		}
		s.grpcServer = gs
	}

	return s, nil
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// HubPath returns the websocket path a hub is mounted at
func HubPath(name string) string {
	return "/hubs/" + strcase.ToKebab(name)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/stats", s.handleStats)

	for _, h := range s.hubs {
		path := HubPath(h.Name())
		r.Handle(path, websocket.NewServer(h,
			websocket.WithLogger(s.logger),
		))
		s.logger.Info("hub mounted", "hub", h.Name(), "path", path)
	}

	return r
}

func (s *Server) newGRPCServer() (*grpc.Server, error) {
	gs := grpctransport.NewServer()
	r := grpctransport.NewRegistrar(gs, s.dispatcher, s.logger)

	for _, table := range s.dispatcher.Tables() {
		if table.IsHub() {
			continue
		}
		if err := r.RegisterService(table.Service()); err != nil {
			return nil, err
		}
		s.publishRegistered(table.Service(), "service")
	}

	for _, h := range s.hubs {
		r.RegisterHub(h)
		s.publishRegistered(h.Name(), "hub")
	}

	return gs, nil
}

func (s *Server) publishRegistered(name, kind string) {
	if s.bus == nil {
		return
	}
	s.bus.PublishAsync(eventbus.NewEvent(eventbus.EventServiceRegistered, "server", map[string]string{
		"name": name,
	}).WithMetadata("kind", kind))
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 2)

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.logger.Info("http server listening", "addr", ln.Addr().String())

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if s.grpcServer != nil {
		addr := fmt.Sprintf("%s:%d", s.cfg.GRPC.Host, s.cfg.GRPC.Port)
		gln, err := net.Listen("tcp", addr)
		if err != nil {
			_ = s.httpServer.Close()
			return fmt.Errorf("failed to listen on %s: %w", addr, err)
		}
		s.logger.Info("grpc server listening", "addr", gln.Addr().String())

		go func() {
			if err := s.grpcServer.Serve(gln); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		s.logger.Error("server failed", "error", err)
		s.shutdown()
		return err
	}

	s.shutdown()
	return nil
}

func (s *Server) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Sessions hold their HTTP handlers open, so close them first.
	for _, h := range s.hubs {
		if err := h.Shutdown(ctx); err != nil {
			s.logger.Error("hub shutdown failed", "hub", h.Name(), "error", err)
		}
	}

	if s.grpcServer != nil {
		s.grpcServer.GracefulStop()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("http server shutdown failed", "error", err)
	}

	s.logger.Info("server stopped")
}
