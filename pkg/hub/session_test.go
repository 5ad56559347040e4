package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/HMasataka/hubrpc/pkg/domain"
	"github.com/HMasataka/hubrpc/pkg/method"
	"github.com/HMasataka/hubrpc/pkg/serializer"
	"github.com/HMasataka/hubrpc/pkg/transport/memory"
	"github.com/HMasataka/hubrpc/pkg/transport/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

// rawPeer speaks frames directly, without a Client.
type rawPeer struct {
	t  *testing.T
	ch *memory.Channel
}

func connectRaw(t *testing.T, h *Hub) (*rawPeer, *Session) {
	t.Helper()
	serverEnd, clientEnd := memory.Pipe()

	s, err := h.Connect(context.Background(), serverEnd)
	require.NoError(t, err)
	t.Cleanup(func() { _ = clientEnd.Close() })

	p := &rawPeer{t: t, ch: clientEnd}
	f := p.read()
	require.Equal(t, protocol.FrameHandshake, f.Type)
	return p, s
}

func (p *rawPeer) write(f *protocol.Frame) {
	require.NoError(p.t, p.ch.Write(f.Marshal()))
}

func (p *rawPeer) read() *protocol.Frame {
	p.t.Helper()

	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := p.ch.Read()
		ch <- result{data, err}
	}()

	select {
	case r := <-ch:
		require.NoError(p.t, r.err)
		f, err := protocol.Unmarshal(r.data)
		require.NoError(p.t, err)
		return f
	case <-time.After(2 * time.Second):
		require.FailNow(p.t, "no frame received")
		return nil
	}
}

func (p *rawPeer) readSkippingHeartbeats() *protocol.Frame {
	for {
		f := p.read()
		if f.Type != protocol.FrameHeartbeat {
			return f
		}
	}
}

// recordingChannel keeps every frame the server side attempts to write.
type recordingChannel struct {
	*memory.Channel

	mu     sync.Mutex
	frames []*protocol.Frame
}

func (r *recordingChannel) Write(frame []byte) error {
	if f, err := protocol.Unmarshal(frame); err == nil {
		r.mu.Lock()
		r.frames = append(r.frames, f)
		r.mu.Unlock()
	}
	return r.Channel.Write(frame)
}

func (r *recordingChannel) written() []*protocol.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*protocol.Frame(nil), r.frames...)
}

func TestUnknownMethodKeepsSessionConnected(t *testing.T) {
	g := newGameHub(t)
	p, s := connectRaw(t, g.hub)
	codec := serializer.NewMessagePack()

	p.write(&protocol.Frame{Type: protocol.FrameRequest, MessageID: 5, MethodID: 0x1234})
	f := p.read()
	assert.Equal(t, protocol.FrameError, f.Type)
	assert.Equal(t, int32(5), f.MessageID)
	status, err := protocol.DecodeStatus(f.Payload)
	require.NoError(t, err)
	assert.Equal(t, codes.Unimplemented, status.Code)

	p.write(&protocol.Frame{Type: protocol.FrameNotify, MethodID: 0x1234})
	require.NoError(t, p.ch.Write([]byte{0x01}))
	assert.Equal(t, domain.StateConnected, s.State())

	payload, err := codec.Marshal(0)
	require.NoError(t, err)
	p.write(&protocol.Frame{Type: protocol.FrameRequest, MessageID: 6, MethodID: method.ID("Count"), Payload: payload})

	f = p.read()
	assert.Equal(t, protocol.FrameResponse, f.Type)
	assert.Equal(t, int32(6), f.MessageID)
	assert.Equal(t, method.ID("Count"), f.MethodID)
	assert.Equal(t, domain.StateConnected, s.State())
}

func TestDuplicateFramesInvokeTwice(t *testing.T) {
	g := newGameHub(t)
	p, _ := connectRaw(t, g.hub)
	codec := serializer.NewMessagePack()

	payload, err := codec.Marshal(0)
	require.NoError(t, err)
	frame := &protocol.Frame{Type: protocol.FrameRequest, MessageID: 1, MethodID: method.ID("Count"), Payload: payload}

	p.write(frame)
	p.write(frame)

	for want := 1; want <= 2; want++ {
		f := p.read()
		require.Equal(t, protocol.FrameResponse, f.Type)
		assert.Equal(t, int32(1), f.MessageID)

		n, err := serializer.Deserialize[int](codec, f.Payload)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}
	assert.Equal(t, int32(2), g.counted.Load())
}

func TestNotifyFrameForInvokeMethodIsDropped(t *testing.T) {
	g := newGameHub(t)
	p, _ := connectRaw(t, g.hub)
	codec := serializer.NewMessagePack()

	payload, err := codec.Marshal(0)
	require.NoError(t, err)
	p.write(&protocol.Frame{Type: protocol.FrameNotify, MethodID: method.ID("Count"), Payload: payload})
	p.write(&protocol.Frame{Type: protocol.FrameRequest, MessageID: 2, MethodID: method.ID("Count"), Payload: payload})

	f := p.read()
	n, err := serializer.Deserialize[int](codec, f.Payload)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHeartbeatAnsweredByServer(t *testing.T) {
	g := newGameHub(t)
	p, _ := connectRaw(t, g.hub)

	p.write(&protocol.Frame{Type: protocol.FrameHeartbeat, MessageID: 3, Payload: []byte("ping")})
	f := p.read()
	assert.Equal(t, protocol.FrameHeartbeatAck, f.Type)
	assert.Equal(t, int32(3), f.MessageID)
	assert.Equal(t, []byte("ping"), f.Payload)
}

func TestHeartbeatTimeoutDisconnects(t *testing.T) {
	g := newGameHub(t, WithHeartbeat(10*time.Millisecond, 30*time.Millisecond))
	_, s := connectRaw(t, g.hub)

	waitDone(t, s.Done())
	assert.ErrorIs(t, s.Err(), domain.ErrHeartbeatTimeout)
}

func TestHeartbeatMeasuresLatency(t *testing.T) {
	g := newGameHub(t, WithHeartbeat(10*time.Millisecond, time.Second))
	_, s, _ := connect(t, g.hub)

	require.Eventually(t, func() bool {
		return s.Latency() > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, domain.StateConnected, s.State())
}

func TestRawPeerReceivesPush(t *testing.T) {
	g := newGameHub(t)
	p, s := connectRaw(t, g.hub)

	require.NoError(t, Push(s, method.ID("OnMove"), Position{X: 3}))
	f := p.readSkippingHeartbeats()
	assert.Equal(t, protocol.FrameBroadcast, f.Type)
	assert.Equal(t, method.ID("OnMove"), f.MethodID)
	assert.Equal(t, int32(0), f.MessageID)
}

func TestDisconnectDropsRepliesOfInterruptedCalls(t *testing.T) {
	g := newGameHub(t)
	serverEnd, clientEnd := memory.Pipe()
	rec := &recordingChannel{Channel: serverEnd}

	s, err := g.hub.Connect(context.Background(), rec)
	require.NoError(t, err)
	t.Cleanup(func() { _ = clientEnd.Close() })

	p := &rawPeer{t: t, ch: clientEnd}
	require.Equal(t, protocol.FrameHandshake, p.read().Type)

	payload, err := serializer.NewMessagePack().Marshal("wait")
	require.NoError(t, err)
	p.write(&protocol.Frame{Type: protocol.FrameRequest, MessageID: 7, MethodID: method.ID("Slow"), Payload: payload})

	select {
	case <-g.started:
	case <-time.After(2 * time.Second):
		require.FailNow(t, "slow call never started")
	}

	s.Disconnect()
	waitDone(t, s.Done())

	for _, f := range rec.written() {
		assert.NotEqual(t, int32(7), f.MessageID, "%s frame written for a call interrupted by disconnect", f.Type)
	}
}
