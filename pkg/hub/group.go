package hub

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/HMasataka/hubrpc/internal/eventbus"
	"github.com/HMasataka/hubrpc/internal/logging"
	"github.com/HMasataka/hubrpc/pkg/domain"
	"github.com/HMasataka/hubrpc/pkg/errors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
)

// Member is a broadcast target. *Session implements it.
type Member interface {
	ID() string
	State() domain.SessionState
	Context() context.Context
	Push(methodID int32, payload []byte) error
}

// BroadcastMode selects how a broadcast writes to members
type BroadcastMode int

const (
	// Parallel writes to every member concurrently
	Parallel BroadcastMode = iota
	// Sequential writes to one member at a time in join order
	Sequential
)

// ErrorPolicy selects what a failed member write does to the broadcast
type ErrorPolicy int

const (
	// IgnoreAndContinue logs the failure and keeps delivering
	IgnoreAndContinue ErrorPolicy = iota
	// PropagateFirst stops at the first failure and returns it
	PropagateFirst
)

func (m BroadcastMode) String() string {
	switch m {
	case Parallel:
		return "parallel"
	case Sequential:
		return "sequential"
	default:
		return "unknown"
	}
}

// ParseBroadcastMode parses "parallel" or "sequential"
func ParseBroadcastMode(s string) (BroadcastMode, error) {
	switch strings.ToLower(s) {
	case "", "parallel":
		return Parallel, nil
	case "sequential":
		return Sequential, nil
	default:
		return Parallel, fmt.Errorf("unknown broadcast mode %q", s)
	}
}

func (p ErrorPolicy) String() string {
	switch p {
	case IgnoreAndContinue:
		return "ignore"
	case PropagateFirst:
		return "propagate"
	default:
		return "unknown"
	}
}

// ParseErrorPolicy parses "ignore" or "propagate"
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch strings.ToLower(s) {
	case "", "ignore":
		return IgnoreAndContinue, nil
	case "propagate":
		return PropagateFirst, nil
	default:
		return IgnoreAndContinue, fmt.Errorf("unknown error policy %q", s)
	}
}

// BroadcastResult counts what happened to each member of the snapshot
type BroadcastResult struct {
	Attempted int
	Delivered int
	Skipped   int
	Failed    int
}

type broadcastOptions struct {
	mode   BroadcastMode
	policy ErrorPolicy
	except map[string]struct{}
}

// BroadcastOption configures a single broadcast
type BroadcastOption func(*broadcastOptions)

// WithMode sets the broadcast mode
func WithMode(mode BroadcastMode) BroadcastOption {
	return func(o *broadcastOptions) {
		o.mode = mode
	}
}

// WithErrorPolicy sets the broadcast error policy
func WithErrorPolicy(policy ErrorPolicy) BroadcastOption {
	return func(o *broadcastOptions) {
		o.policy = policy
	}
}

// Except leaves the given connections out of the broadcast
func Except(ids ...string) BroadcastOption {
	return func(o *broadcastOptions) {
		if o.except == nil {
			o.except = make(map[string]struct{}, len(ids))
		}
		for _, id := range ids {
			o.except[id] = struct{}{}
		}
	}
}

type group struct {
	name    string
	members []Member
}

func (g *group) index(id string) int {
	return slices.IndexFunc(g.members, func(m Member) bool { return m.ID() == id })
}

// Groups is a registry of named member sets. It only keeps references; a
// member's lifetime belongs to its connection.
type Groups struct {
	mu         sync.RWMutex
	groups     map[string]*group
	membership map[string]map[string]struct{} // member id -> group names

	logger        *logging.Logger
	eventBus      eventbus.Bus
	defaultMode   BroadcastMode
	defaultPolicy ErrorPolicy
}

// NewGroups creates an empty registry. bus may be nil.
func NewGroups(logger *logging.Logger, bus eventbus.Bus) *Groups {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Groups{
		groups:     make(map[string]*group),
		membership: make(map[string]map[string]struct{}),
		logger:     logger,
		eventBus:   bus,
	}
}

// SetDefaults sets the mode and policy used when a broadcast does not choose
func (g *Groups) SetDefaults(mode BroadcastMode, policy ErrorPolicy) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.defaultMode = mode
	g.defaultPolicy = policy
}

// Add puts m into the named group, creating the group on first use. Only
// Connected members can join.
func (g *Groups) Add(name string, m Member) error {
	if m.Context().Err() != nil {
		return domain.ErrSessionNotConnected
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Teardown leaves Connected before RemoveSession takes the lock, so a
	// member that passes this check is evicted after it is added.
	if m.State() != domain.StateConnected {
		return domain.ErrSessionNotConnected
	}

	grp, ok := g.groups[name]
	if !ok {
		grp = &group{name: name}
		g.groups[name] = grp
	}
	if grp.index(m.ID()) >= 0 {
		return nil
	}
	grp.members = append(grp.members, m)

	names, ok := g.membership[m.ID()]
	if !ok {
		names = make(map[string]struct{})
		g.membership[m.ID()] = names
	}
	names[name] = struct{}{}

	g.publish(eventbus.EventGroupJoined, name, m.ID())
	return nil
}

// Remove takes m out of the named group. Empty groups are deleted.
func (g *Groups) Remove(name string, m Member) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.removeLocked(name, m.ID())
}

func (g *Groups) removeLocked(name, id string) bool {
	grp, ok := g.groups[name]
	if !ok {
		return false
	}
	i := grp.index(id)
	if i < 0 {
		return false
	}
	grp.members = slices.Delete(grp.members, i, i+1)

	if names, ok := g.membership[id]; ok {
		delete(names, name)
		if len(names) == 0 {
			delete(g.membership, id)
		}
	}
	g.publish(eventbus.EventGroupLeft, name, id)

	if len(grp.members) == 0 {
		delete(g.groups, name)
		g.publish(eventbus.EventGroupRemoved, name, id)
	}
	return true
}

// RemoveSession takes m out of every group it joined
func (g *Groups) RemoveSession(m Member) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for name := range g.membership[m.ID()] {
		g.removeLocked(name, m.ID())
	}
}

// Get returns a snapshot of the named group's members in join order
func (g *Groups) Get(name string) []Member {
	g.mu.RLock()
	defer g.mu.RUnlock()

	grp, ok := g.groups[name]
	if !ok {
		return nil
	}
	return slices.Clone(grp.members)
}

// GroupsOf returns the sorted names of the groups id belongs to
func (g *Groups) GroupsOf(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	names := make([]string, 0, len(g.membership[id]))
	for name := range g.membership[id] {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Names returns the sorted names of all groups
func (g *Groups) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	names := make([]string, 0, len(g.groups))
	for name := range g.groups {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of groups
func (g *Groups) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.groups)
}

// BroadcastGroup broadcasts to a snapshot of the named group. A missing
// group has no members, so nothing is written.
func (g *Groups) BroadcastGroup(ctx context.Context, name string, methodID int32, payload []byte, opts ...BroadcastOption) (BroadcastResult, error) {
	return g.Broadcast(ctx, g.Get(name), methodID, payload, opts...)
}

// Broadcast writes one broadcast frame to each of members. Members whose
// connection is already cancelled are skipped. Failures are isolated per
// member under IgnoreAndContinue; under PropagateFirst the first failure
// stops remaining writes and is returned.
func (g *Groups) Broadcast(ctx context.Context, members []Member, methodID int32, payload []byte, opts ...BroadcastOption) (BroadcastResult, error) {
	g.mu.RLock()
	options := broadcastOptions{mode: g.defaultMode, policy: g.defaultPolicy}
	g.mu.RUnlock()
	for _, opt := range opts {
		opt(&options)
	}

	targets := make([]Member, 0, len(members))
	var result BroadcastResult
	for _, m := range members {
		if _, ok := options.except[m.ID()]; ok {
			continue
		}
		if m.Context().Err() != nil {
			result.Skipped++
			continue
		}
		targets = append(targets, m)
	}

	var err error
	if options.mode == Sequential {
		err = g.sequential(ctx, targets, methodID, payload, options.policy, &result)
	} else {
		err = g.parallel(ctx, targets, methodID, payload, options.policy, &result)
	}

	g.logger.Debug("broadcast finished",
		"method_id", methodID,
		"attempted", result.Attempted,
		"delivered", result.Delivered,
		"skipped", result.Skipped,
		"failed", result.Failed,
	)
	return result, err
}

func (g *Groups) sequential(ctx context.Context, targets []Member, methodID int32, payload []byte, policy ErrorPolicy, result *BroadcastResult) error {
	for _, m := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if m.Context().Err() != nil {
			result.Skipped++
			continue
		}

		result.Attempted++
		if err := g.push(m, methodID, payload); err != nil {
			result.Failed++
			if policy == PropagateFirst {
				return err
			}
			continue
		}
		result.Delivered++
	}
	return nil
}

func (g *Groups) parallel(ctx context.Context, targets []Member, methodID int32, payload []byte, policy ErrorPolicy, result *BroadcastResult) error {
	var attempted, delivered, skipped, failed atomic.Int64
	defer func() {
		result.Attempted += int(attempted.Load())
		result.Delivered += int(delivered.Load())
		result.Skipped += int(skipped.Load())
		result.Failed += int(failed.Load())
	}()

	if policy == PropagateFirst {
		eg, egCtx := errgroup.WithContext(ctx)
		for _, m := range targets {
			eg.Go(func() error {
				if egCtx.Err() != nil || m.Context().Err() != nil {
					skipped.Add(1)
					return nil
				}
				attempted.Add(1)
				if err := g.push(m, methodID, payload); err != nil {
					failed.Add(1)
					return err
				}
				delivered.Add(1)
				return nil
			})
		}
		return eg.Wait()
	}

	var wg sync.WaitGroup
	for _, m := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Context().Err() != nil {
				skipped.Add(1)
				return
			}
			attempted.Add(1)
			if err := g.push(m, methodID, payload); err != nil {
				failed.Add(1)
				return
			}
			delivered.Add(1)
		}()
	}
	wg.Wait()
	return nil
}

func (g *Groups) push(m Member, methodID int32, payload []byte) error {
	if err := m.Push(methodID, payload); err != nil {
		g.logger.Error("failed to send to member",
			"connection_id", m.ID(),
			"method_id", methodID,
			"error", err,
		)
		return errors.Wrap(err, errors.ErrorTypeBroadcast, codes.Unavailable, "broadcast to member failed").
			WithDetails(m.ID())
	}
	return nil
}

func (g *Groups) publish(t eventbus.EventType, name, id string) {
	if g.eventBus == nil {
		return
	}
	g.eventBus.PublishAsync(eventbus.NewEvent(t, "groups", map[string]string{
		"group":         name,
		"connection_id": id,
	}))
}
