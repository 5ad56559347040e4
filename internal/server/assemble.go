package server

import (
	"time"

	"github.com/HMasataka/hubrpc/internal/config"
	"github.com/HMasataka/hubrpc/internal/eventbus"
	"github.com/HMasataka/hubrpc/internal/logging"
	"github.com/HMasataka/hubrpc/pkg/dispatch"
	"github.com/HMasataka/hubrpc/pkg/filter"
	"github.com/HMasataka/hubrpc/pkg/hub"
	"github.com/HMasataka/hubrpc/pkg/serializer"
	"github.com/juju/ratelimit"
)

// NewDispatcher builds the dispatcher every service and hub registers
// with. Recover runs outermost, then logging, then the rate limit.
func NewDispatcher(cfg *config.Config, logger *logging.Logger) (*dispatch.Dispatcher, error) {
	s, err := serializer.ByName(cfg.Serializer.Name)
	if err != nil {
		return nil, err
	}

	filters := []filter.Filter{
		filter.WithPriority(0, filter.Recover()),
		filter.WithPriority(10, filter.Logging(logger)),
	}

	if cfg.RateLimit.Rate > 0 {
		bucket := ratelimit.NewBucketWithRate(cfg.RateLimit.Rate, cfg.RateLimit.Capacity)
		filters = append(filters, filter.WithPriority(20, filter.RateLimit(bucket)))
	}

	return dispatch.New(
		dispatch.WithSerializer(s),
		dispatch.WithLogger(logger),
		dispatch.WithGlobalFilters(filters...),
	), nil
}

// HubOptions translates the hub section of cfg into hub options
func HubOptions(cfg config.HubConfig, logger *logging.Logger, bus eventbus.Bus) ([]hub.Option, error) {
	mode, err := hub.ParseBroadcastMode(cfg.BroadcastMode)
	if err != nil {
		return nil, err
	}
	policy, err := hub.ParseErrorPolicy(cfg.ErrorPolicy)
	if err != nil {
		return nil, err
	}

	opts := []hub.Option{
		hub.WithLogger(logger),
		hub.WithQueueSize(cfg.QueueSize),
		hub.WithDrainTimeout(cfg.DrainTimeout),
		hub.WithHandshakeTimeout(cfg.HandshakeTimeout),
		hub.WithBroadcastDefaults(mode, policy),
	}
	if bus != nil {
		opts = append(opts, hub.WithEventBus(bus))
	}
	if cfg.HeartbeatInterval > 0 {
		opts = append(opts, hub.WithHeartbeat(cfg.HeartbeatInterval, cfg.HeartbeatTimeout))
	}
	return opts, nil
}

// NewEventBus creates the lifecycle event bus and logs what it carries
func NewEventBus(logger *logging.Logger) *eventbus.InMemoryBus {
	bus := eventbus.NewInMemoryBus(1000, eventbus.WithLogger(logger))
	bus.SubscribeAll(func(event *eventbus.Event) {
		logger.Debug("event",
			"type", string(event.Type),
			"source", event.Source,
			"at", event.Timestamp.Format(time.RFC3339Nano),
		)
	})
	return bus
}
