package hub

import (
	"context"
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HMasataka/hubrpc/internal/logging"
	"github.com/HMasataka/hubrpc/pkg/dispatch"
	"github.com/HMasataka/hubrpc/pkg/domain"
	"github.com/HMasataka/hubrpc/pkg/errors"
	"github.com/HMasataka/hubrpc/pkg/invocation"
	"github.com/HMasataka/hubrpc/pkg/method"
	"github.com/HMasataka/hubrpc/pkg/transport/protocol"
	"google.golang.org/grpc/codes"
)

type counters struct {
	sent     atomic.Int64
	received atomic.Int64
}

type callResult struct {
	payload []byte
	err     error
}

type pendingCall struct {
	methodID int32
	result   chan callResult
}

// conn is the connection engine shared by server sessions and clients. One
// goroutine reads frames and resolves replies inline; a second one consumes
// calls from a bounded queue in arrival order. Every write goes through
// writeMu so frames never interleave on the channel.
type conn struct {
	id         string
	ch         domain.Channel
	dispatcher *dispatch.Dispatcher
	service    string
	logger     *logging.Logger
	errs       errors.Handler
	opts       *Options
	stats      *counters

	ctx     context.Context
	cancel  context.CancelFunc
	callCtx context.Context

	state atomic.Int32

	causeMu       sync.Mutex
	disconnecting bool
	cause         error

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[int32]*pendingCall
	closed    bool
	nextID    atomic.Int32

	queue           chan *protocol.Frame
	consumerStarted atomic.Bool
	consumerDone    chan struct{}
	done            chan struct{}

	heartbeatSeq  atomic.Int32
	heartbeatSent atomic.Int64
	latency       atomic.Int64

	onHandshake func()
	onClose     func(cause error)
}

func newConn(id string, ch domain.Channel, d *dispatch.Dispatcher, service string, opts *Options, logger *logging.Logger, stats *counters) *conn {
	ctx, cancel := context.WithCancel(ch.Context())

	c := &conn{
		id:           id,
		ch:           ch,
		dispatcher:   d,
		service:      service,
		logger:       logger,
		errs:         errors.NewDefaultHandler(logger.Logger),
		opts:         opts,
		stats:        stats,
		ctx:          ctx,
		cancel:       cancel,
		callCtx:      invocation.WithConnectionID(ctx, id),
		pending:      make(map[int32]*pendingCall),
		queue:        make(chan *protocol.Frame, opts.QueueSize),
		consumerDone: make(chan struct{}),
		done:         make(chan struct{}),
	}
	c.state.Store(int32(domain.StateConnecting))
	return c
}

func (c *conn) State() domain.SessionState {
	return domain.SessionState(c.state.Load())
}

func (c *conn) setState(s domain.SessionState) {
	c.state.Store(int32(s))
}

// startReader starts the read loop. Replies are resolved from here, so calls
// can complete before the consumer runs.
func (c *conn) startReader() {
	go c.watch()
	go c.readLoop()
	if c.opts.HeartbeatInterval > 0 {
		go c.heartbeatLoop()
	}
}

func (c *conn) startConsumer() {
	c.consumerStarted.Store(true)
	go c.consume()
}

// watch unblocks the reader once the connection is cancelled, whether by the
// transport or by disconnect.
func (c *conn) watch() {
	<-c.ctx.Done()
	_ = c.ch.Close()
}

func (c *conn) readLoop() {
	var err error
	for {
		var data []byte
		data, err = c.ch.Read()
		if err != nil {
			break
		}
		c.stats.received.Add(1)

		f, perr := protocol.Unmarshal(data)
		if perr != nil {
			c.logger.Warn("dropping malformed frame", "error", perr, "size", len(data))
			continue
		}

		if !c.route(f) {
			break
		}
	}
	c.shutdown(err)
}

func (c *conn) route(f *protocol.Frame) bool {
	switch f.Type {
	case protocol.FrameResponse, protocol.FrameError:
		c.resolve(f)
	case protocol.FrameHeartbeat:
		ack := &protocol.Frame{Type: protocol.FrameHeartbeatAck, MessageID: f.MessageID, Payload: f.Payload}
		if err := c.write(ack); err != nil {
			c.logger.Debug("failed to answer heartbeat", "error", err)
		}
	case protocol.FrameHeartbeatAck:
		c.ackHeartbeat(f)
	case protocol.FrameHandshake:
		if c.onHandshake != nil {
			c.onHandshake()
		} else {
			c.logger.Debug("ignoring handshake frame from peer")
		}
	default:
		select {
		case c.queue <- f:
		case <-c.ctx.Done():
			return false
		}
	}
	return true
}

func (c *conn) consume() {
	defer close(c.consumerDone)

	for {
		select {
		case <-c.ctx.Done():
			return
		case f := <-c.queue:
			if c.ctx.Err() != nil {
				return
			}
			c.handle(f)
		}
	}
}

// handle dispatches one call frame. The descriptor kind decides whether a
// reply is written; a frame type that disagrees with it is rejected.
func (c *conn) handle(f *protocol.Frame) {
	desc, ok := c.dispatcher.LookupID(c.service, f.MethodID)
	if !ok {
		c.logger.Warn("unknown method id",
			"method_id", f.MethodID,
			"frame_type", f.Type.String(),
		)
		if f.Type == protocol.FrameRequest {
			c.replyError(f, errors.Wrap(domain.ErrMethodNotFound, errors.ErrorTypeProtocol, codes.Unimplemented, "method not found").
				WithDetails(fmt.Sprintf("%s has no method id %d", c.service, f.MethodID)))
		}
		return
	}

	expectsReply := f.Type == protocol.FrameRequest
	switch {
	case expectsReply && desc.Kind == method.HubNotify:
		c.replyError(f, errors.Statusf(codes.InvalidArgument, "%s does not return a result", desc.FullName()))
		return
	case !expectsReply && desc.Kind == method.HubInvoke:
		c.logger.Warn("dropping notification for a method that expects a caller",
			"method", desc.FullName(),
			"frame_type", f.Type.String(),
		)
		return
	}

	out, err := c.dispatcher.Dispatch(c.callCtx, desc, f.Payload)

	// Teardown fails the peer's pending calls with the connection error.
	if c.ctx.Err() != nil {
		if expectsReply {
			c.logger.Debug("dropping reply after disconnect", "method", desc.FullName(), "message_id", f.MessageID)
		}
		return
	}

	if !expectsReply {
		if err != nil {
			c.logFailure(desc, err)
		}
		return
	}

	if err != nil {
		c.logFailure(desc, err)
		c.replyError(f, err)
		return
	}

	reply := &protocol.Frame{Type: protocol.FrameResponse, MessageID: f.MessageID, MethodID: f.MethodID, Payload: out}
	if err := c.write(reply); err != nil {
		c.logger.Debug("failed to write response", "method", desc.FullName(), "error", err)
	}
}

func (c *conn) replyError(f *protocol.Frame, err error) {
	reply := &protocol.Frame{
		Type:      protocol.FrameError,
		MessageID: f.MessageID,
		MethodID:  f.MethodID,
		Payload:   protocol.EncodeStatus(err),
	}
	if werr := c.write(reply); werr != nil {
		c.logger.Debug("failed to write error reply", "method_id", f.MethodID, "error", werr)
	}
}

func (c *conn) logFailure(desc *method.Descriptor, err error) {
	c.errs.Handle(c.ctx, err, "method", desc.FullName(), "connection_id", c.id)
}

func (c *conn) write(f *protocol.Frame) error {
	if c.State() == domain.StateClosed {
		return domain.ErrConnectionClosed
	}

	data := f.Marshal()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ch.Write(data); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, codes.Unavailable, "write failed")
	}
	c.stats.sent.Add(1)
	return nil
}

// call writes a Request frame and waits for its reply. A disconnect resolves
// the wait with a connection error.
func (c *conn) call(ctx context.Context, methodID int32, payload []byte) ([]byte, error) {
	id := c.nextID.Add(1)
	if id == 0 {
		id = c.nextID.Add(1)
	}
	pc := &pendingCall{methodID: methodID, result: make(chan callResult, 1)}

	c.pendingMu.Lock()
	if c.closed {
		c.pendingMu.Unlock()
		return nil, errors.Wrap(domain.ErrConnectionClosed, errors.ErrorTypeConnection, codes.Unavailable, "connection closed")
	}
	c.pending[id] = pc
	c.pendingMu.Unlock()

	if err := c.write(&protocol.Frame{Type: protocol.FrameRequest, MessageID: id, MethodID: methodID, Payload: payload}); err != nil {
		c.forget(id)
		return nil, err
	}

	select {
	case r := <-pc.result:
		return r.payload, r.err
	case <-ctx.Done():
		c.forget(id)
		return nil, errors.FromError(ctx.Err())
	}
}

func (c *conn) forget(id int32) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *conn) resolve(f *protocol.Frame) {
	c.pendingMu.Lock()
	pc, ok := c.pending[f.MessageID]
	if ok {
		delete(c.pending, f.MessageID)
	}
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Warn("reply for unknown call", "message_id", f.MessageID, "method_id", f.MethodID)
		return
	}

	if pc.methodID != f.MethodID {
		pc.result <- callResult{err: errors.Statusf(codes.Internal,
			"reply carries method id %d, call was %d", f.MethodID, pc.methodID)}
		return
	}

	if f.Type == protocol.FrameResponse {
		pc.result <- callResult{payload: f.Payload}
		return
	}

	status, err := protocol.DecodeStatus(f.Payload)
	if err != nil {
		pc.result <- callResult{err: errors.Wrap(err, errors.ErrorTypeProtocol, codes.Internal, "malformed error reply")}
		return
	}
	pc.result <- callResult{err: status}
}

func (c *conn) failPending(cause error) {
	c.pendingMu.Lock()
	c.closed = true
	pending := c.pending
	c.pending = make(map[int32]*pendingCall)
	c.pendingMu.Unlock()

	for _, pc := range pending {
		pc.result <- callResult{err: errors.Wrap(cause, errors.ErrorTypeConnection, codes.Unavailable, "connection closed before reply")}
	}
}

// disconnect starts teardown. The first cause wins.
func (c *conn) disconnect(cause error) {
	c.causeMu.Lock()
	if !c.disconnecting {
		c.disconnecting = true
		c.cause = cause
	}
	c.causeMu.Unlock()

	c.cancel()
}

// Err returns why the connection closed; nil for an orderly close.
func (c *conn) Err() error {
	c.causeMu.Lock()
	defer c.causeMu.Unlock()
	return c.cause
}

func (c *conn) shutdown(readErr error) {
	c.causeMu.Lock()
	if !c.disconnecting {
		c.disconnecting = true
		if readErr != nil && !stderrors.Is(readErr, io.EOF) && c.ch.Context().Err() == nil {
			c.cause = readErr
		}
	}
	cause := c.cause
	c.causeMu.Unlock()

	c.setState(domain.StateDraining)
	c.cancel()
	c.failPending(domain.ErrConnectionClosed)

	if c.consumerStarted.Load() {
		select {
		case <-c.consumerDone:
		case <-time.After(c.opts.DrainTimeout):
			c.logger.Warn("in-flight call did not finish before drain timeout", "timeout", c.opts.DrainTimeout)
		}
	}

	if c.onClose != nil {
		c.onClose(cause)
	}

	_ = c.ch.Close()
	c.setState(domain.StateClosed)
	close(c.done)
}

func (c *conn) heartbeatLoop() {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if sent := c.heartbeatSent.Load(); sent != 0 {
				if time.Since(time.Unix(0, sent)) > c.opts.HeartbeatTimeout {
					c.logger.Warn("heartbeat timed out", "timeout", c.opts.HeartbeatTimeout)
					c.disconnect(domain.ErrHeartbeatTimeout)
					return
				}
				continue
			}

			now := time.Now().UnixNano()
			payload := make([]byte, 8)
			binary.BigEndian.PutUint64(payload, uint64(now))
			c.heartbeatSent.Store(now)

			f := &protocol.Frame{Type: protocol.FrameHeartbeat, MessageID: c.heartbeatSeq.Add(1), Payload: payload}
			if err := c.write(f); err != nil {
				c.logger.Debug("failed to send heartbeat", "error", err)
			}
		}
	}
}

func (c *conn) ackHeartbeat(f *protocol.Frame) {
	if len(f.Payload) != 8 {
		return
	}
	sent := int64(binary.BigEndian.Uint64(f.Payload))
	if c.heartbeatSent.CompareAndSwap(sent, 0) {
		c.latency.Store(time.Now().UnixNano() - sent)
	}
}

// Latency is the round trip time of the last acknowledged heartbeat
func (c *conn) Latency() time.Duration {
	return time.Duration(c.latency.Load())
}

// Done is closed once the connection reached StateClosed
func (c *conn) Done() <-chan struct{} {
	return c.done
}
