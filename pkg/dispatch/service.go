package dispatch

import (
	"github.com/HMasataka/hubrpc/pkg/filter"
)

// Service groups the methods exposed under one name. A Hub service carries
// HubInvoke and HubNotify methods multiplexed over a single stream; a plain
// service carries Unary and streaming methods.
type Service struct {
	name    string
	hub     bool
	methods []*Method
	filters []filter.Filter
}

// NewService defines a plain service
func NewService(name string, methods ...*Method) *Service {
	return &Service{name: name, methods: methods}
}

// NewHub defines a Hub, or a client receiver of one
func NewHub(name string, methods ...*Method) *Service {
	return &Service{name: name, hub: true, methods: methods}
}

// Use adds filters that wrap every method of the service
func (s *Service) Use(filters ...filter.Filter) *Service {
	s.filters = append(s.filters, filters...)
	return s
}

// Name returns the service name
func (s *Service) Name() string { return s.name }

// IsHub reports whether the service is a Hub
func (s *Service) IsHub() bool { return s.hub }

// Methods returns the method definitions
func (s *Service) Methods() []*Method { return s.methods }
