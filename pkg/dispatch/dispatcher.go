// Package dispatch routes decoded calls through the filter chain to
// application handlers.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	"github.com/HMasataka/hubrpc/internal/logging"
	"github.com/HMasataka/hubrpc/pkg/domain"
	"github.com/HMasataka/hubrpc/pkg/errors"
	"github.com/HMasataka/hubrpc/pkg/filter"
	"github.com/HMasataka/hubrpc/pkg/invocation"
	"github.com/HMasataka/hubrpc/pkg/method"
	"github.com/HMasataka/hubrpc/pkg/serializer"
	"google.golang.org/grpc/codes"
)

type entry struct {
	method   *Method
	endpoint invocation.Endpoint
}

type registered struct {
	service *Service
	table   *method.Table
}

// Options represents dispatcher options
type Options struct {
	Serializer serializer.Serializer
	Filters    []filter.Filter
	Logger     *logging.Logger
}

// Option is a function that configures Options
type Option func(*Options)

// WithSerializer sets the serializer used for every payload
func WithSerializer(s serializer.Serializer) Option {
	return func(o *Options) {
		o.Serializer = s
	}
}

// WithGlobalFilters sets filters that wrap every registered method
func WithGlobalFilters(filters ...filter.Filter) Option {
	return func(o *Options) {
		o.Filters = append(o.Filters, filters...)
	}
}

// WithLogger sets the logger
func WithLogger(logger *logging.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// Dispatcher owns the descriptor tables of every registered service and the
// filter chain compiled for each method.
type Dispatcher struct {
	serializer serializer.Serializer
	filters    []filter.Filter
	logger     *logging.Logger

	mu       sync.RWMutex
	services map[string]*registered
	entries  map[*method.Descriptor]*entry
}

// New creates a dispatcher
func New(opts ...Option) *Dispatcher {
	options := Options{
		Serializer: serializer.NewMessagePack(),
		Logger:     logging.Discard(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Dispatcher{
		serializer: options.Serializer,
		filters:    options.Filters,
		logger:     options.Logger,
		services:   make(map[string]*registered),
		entries:    make(map[*method.Descriptor]*entry),
	}
}

// Serializer returns the payload serializer
func (d *Dispatcher) Serializer() serializer.Serializer {
	return d.serializer
}

// Register validates svc, builds its descriptor table and compiles one filter
// chain per method. Registering the same service again returns the existing
// table; a different service under a taken name is rejected.
func (d *Dispatcher) Register(svc *Service) (*method.Table, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if r, ok := d.services[svc.name]; ok {
		if r.service == svc {
			return r.table, nil
		}
		return nil, errors.New(errors.ErrorTypeRegistration, codes.AlreadyExists, "service already registered").
			WithDetails(svc.name)
	}

	specs := make([]method.Spec, len(svc.methods))
	for i, m := range svc.methods {
		specs[i] = m.spec
	}

	table, err := method.NewTable(svc.name, svc.hub, specs)
	if err != nil {
		return nil, err
	}

	for _, m := range svc.methods {
		desc, _ := table.Lookup(m.spec.Name)

		filters := make([]filter.Filter, 0, len(d.filters)+len(svc.filters)+len(m.filters))
		filters = append(filters, d.filters...)
		filters = append(filters, svc.filters...)
		filters = append(filters, m.filters...)

		d.entries[desc] = &entry{
			method:   m,
			endpoint: filter.Chain(m.handler, filters...),
		}
	}
	d.services[svc.name] = &registered{service: svc, table: table}

	d.logger.Info("service registered",
		"service", svc.name,
		"hub", svc.hub,
		"methods", len(svc.methods),
	)

	return table, nil
}

// MustRegister is Register that panics on registration errors
func (d *Dispatcher) MustRegister(svc *Service) *method.Table {
	table, err := d.Register(svc)
	if err != nil {
		panic(err)
	}
	return table
}

// Table returns the descriptor table of a registered service
func (d *Dispatcher) Table(service string) (*method.Table, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.services[service]
	if !ok {
		return nil, false
	}
	return r.table, true
}

// Tables returns the tables of every registered service sorted by name
func (d *Dispatcher) Tables() []*method.Table {
	d.mu.RLock()
	defer d.mu.RUnlock()

	tables := make([]*method.Table, 0, len(d.services))
	for _, r := range d.services {
		tables = append(tables, r.table)
	}
	sort.Slice(tables, func(i, j int) bool {
		return tables[i].Service() < tables[j].Service()
	})
	return tables
}

// Lookup resolves a "/Service/Method" path
func (d *Dispatcher) Lookup(path string) (*method.Descriptor, bool) {
	service, name, ok := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	if !ok {
		return nil, false
	}

	table, ok := d.Table(service)
	if !ok {
		return nil, false
	}
	return table.Lookup(name)
}

// LookupID resolves a Hub method id
func (d *Dispatcher) LookupID(service string, id int32) (*method.Descriptor, bool) {
	table, ok := d.Table(service)
	if !ok {
		return nil, false
	}
	return table.LookupID(id)
}

// Dispatch runs a call that does not involve a stream: decode the request,
// run the filter chain and handler, encode the result. Notify methods return
// a nil payload. Every failure comes back as a *errors.Error status.
func (d *Dispatcher) Dispatch(ctx context.Context, desc *method.Descriptor, raw []byte) ([]byte, error) {
	return d.dispatch(ctx, desc, raw, nil)
}

// DispatchStream runs a streaming call. raw is the single request of a
// ServerStreaming call and ignored otherwise.
func (d *Dispatcher) DispatchStream(ctx context.Context, desc *method.Descriptor, raw []byte, stream invocation.Stream) ([]byte, error) {
	if stream == nil {
		return nil, errors.New(errors.ErrorTypeInternal, codes.Internal, "streaming call without a stream")
	}
	return d.dispatch(ctx, desc, raw, stream)
}

func (d *Dispatcher) dispatch(ctx context.Context, desc *method.Descriptor, raw []byte, stream invocation.Stream) (out []byte, err error) {
	d.mu.RLock()
	e, ok := d.entries[desc]
	d.mu.RUnlock()
	if !ok {
		return nil, errors.Wrap(domain.ErrMethodNotFound, errors.ErrorTypeProtocol, codes.Unimplemented, "method not found").
			WithDetails(desc.FullName())
	}

	switch desc.Kind {
	case method.ClientStreaming, method.ServerStreaming, method.DuplexStreaming:
		if stream == nil {
			return nil, errors.Statusf(codes.FailedPrecondition, "method %s requires a stream", desc.FullName())
		}
	}

	ic := invocation.New(ctx, desc, d.serializer, raw)
	ic.Stream = stream

	if e.method.decode != nil {
		req, err := e.method.decode(d.serializer, raw)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeProtocol, codes.InvalidArgument, "failed to deserialize request").
				WithDetails(desc.FullName())
		}
		ic.Request = req
	}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panicked",
				"method", desc.FullName(),
				"panic", r,
				"stack", string(debug.Stack()),
			)
			out = nil
			err = errors.New(errors.ErrorTypeInternal, codes.Internal, "handler panicked").
				WithDetails(fmt.Sprint(r))
		}
	}()

	if err := e.endpoint(ic); err != nil {
		return nil, errors.FromError(err)
	}

	if e.method.encode == nil {
		return nil, nil
	}

	out, err = e.method.encode(d.serializer, ic.Response)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, codes.Internal, "failed to serialize response").
			WithDetails(desc.FullName())
	}
	return out, nil
}
