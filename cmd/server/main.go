package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/HMasataka/hubrpc/internal/chat"
	"github.com/HMasataka/hubrpc/internal/config"
	"github.com/HMasataka/hubrpc/internal/eventbus"
	"github.com/HMasataka/hubrpc/internal/logging"
	"github.com/HMasataka/hubrpc/internal/server"
	"github.com/HMasataka/hubrpc/internal/signaling"
	"github.com/HMasataka/hubrpc/pkg/dispatch"
	"github.com/HMasataka/hubrpc/pkg/hub"
	"go.uber.org/dig"
)

func main() {
	configPath := flag.String("config", "", "path to a .json or .yaml config file")
	flag.Parse()

	container, err := newContainer(*configPath)
	if err != nil {
		log.Fatalf("failed to assemble server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = container.Invoke(func(s *server.Server, bus *eventbus.InMemoryBus, logger *logging.Logger) error {
		bus.Start(ctx)
		defer bus.Stop()

		logger.Info("starting server")
		return s.Start(ctx)
	})
	if err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func newContainer(configPath string) (*dig.Container, error) {
	c := dig.New()

	constructors := []any{
		func() (*config.Config, error) {
			return config.Load(config.LoadOptions{Path: configPath})
		},
		func(cfg *config.Config) *logging.Logger {
			return logging.New(cfg.Logging)
		},
		server.NewEventBus,
		server.NewDispatcher,
		newChat,
		newRelay,
		newHubs,
		func(cfg *config.Config, logger *logging.Logger, d *dispatch.Dispatcher, bus *eventbus.InMemoryBus, hubs []*hub.Hub) (*server.Server, error) {
			return server.New(cfg, logger, d, bus, hubs)
		},
	}

	for _, constructor := range constructors {
		if err := c.Provide(constructor); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func newChat(cfg *config.Config, logger *logging.Logger, d *dispatch.Dispatcher, bus *eventbus.InMemoryBus) (*chat.Chat, error) {
	opts, err := server.HubOptions(cfg.Hub, logger, bus)
	if err != nil {
		return nil, err
	}

	c, err := chat.New(d, logger, opts...)
	if err != nil {
		return nil, err
	}
	if _, err := d.Register(c.Service()); err != nil {
		return nil, err
	}
	return c, nil
}

func newRelay(cfg *config.Config, logger *logging.Logger, d *dispatch.Dispatcher, bus *eventbus.InMemoryBus) (*signaling.Relay, error) {
	opts, err := server.HubOptions(cfg.Hub, logger, bus)
	if err != nil {
		return nil, err
	}
	return signaling.New(d, logger, bus, opts...)
}

func newHubs(c *chat.Chat, r *signaling.Relay) []*hub.Hub {
	return []*hub.Hub{c.Hub(), r.Hub()}
}
