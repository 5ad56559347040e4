package webrtc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/HMasataka/hubrpc/pkg/dispatch"
	"github.com/HMasataka/hubrpc/pkg/hub"
	"github.com/HMasataka/hubrpc/pkg/method"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDataChannel delivers messages to its peer synchronously
type fakeDataChannel struct {
	label string
	peer  *fakeDataChannel

	mu        sync.Mutex
	state     webrtc.DataChannelState
	onOpen    func()
	onClose   func()
	onMessage func(webrtc.DataChannelMessage)
	onError   func(error)
}

func fakePair(label string) (*fakeDataChannel, *fakeDataChannel) {
	a := &fakeDataChannel{label: label, state: webrtc.DataChannelStateConnecting}
	b := &fakeDataChannel{label: label, state: webrtc.DataChannelStateConnecting}
	a.peer, b.peer = b, a
	return a, b
}

func (f *fakeDataChannel) Label() string { return f.label }

func (f *fakeDataChannel) ReadyState() webrtc.DataChannelState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeDataChannel) setState(s webrtc.DataChannelState) (changed bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	changed = f.state != s
	f.state = s
	return changed
}

func (f *fakeDataChannel) open() {
	for _, dc := range []*fakeDataChannel{f, f.peer} {
		dc.setState(webrtc.DataChannelStateOpen)
		dc.mu.Lock()
		handler := dc.onOpen
		dc.mu.Unlock()
		if handler != nil {
			handler()
		}
	}
}

func (f *fakeDataChannel) Send(data []byte) error {
	if f.ReadyState() != webrtc.DataChannelStateOpen {
		return errors.New("not open")
	}
	f.peer.deliver(webrtc.DataChannelMessage{Data: append([]byte(nil), data...)})
	return nil
}

func (f *fakeDataChannel) SendText(text string) {
	f.peer.deliver(webrtc.DataChannelMessage{IsString: true, Data: []byte(text)})
}

func (f *fakeDataChannel) deliver(msg webrtc.DataChannelMessage) {
	f.mu.Lock()
	handler := f.onMessage
	f.mu.Unlock()
	if handler != nil {
		handler(msg)
	}
}

func (f *fakeDataChannel) Close() error {
	for _, dc := range []*fakeDataChannel{f, f.peer} {
		if !dc.setState(webrtc.DataChannelStateClosed) {
			continue
		}
		dc.mu.Lock()
		handler := dc.onClose
		dc.mu.Unlock()
		if handler != nil {
			handler()
		}
	}
	return nil
}

func (f *fakeDataChannel) OnOpen(h func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onOpen = h
}

func (f *fakeDataChannel) OnClose(h func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onClose = h
}

func (f *fakeDataChannel) OnMessage(h func(webrtc.DataChannelMessage)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onMessage = h
}

func (f *fakeDataChannel) OnError(h func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onError = h
}

func newEchoHub(t *testing.T) *hub.Hub {
	t.Helper()
	h, err := hub.New(dispatch.NewHub("EchoHub",
		dispatch.HubInvoke("Echo", func(ctx context.Context, msg string) (string, error) {
			return msg, nil
		}),
	), dispatch.New())
	require.NoError(t, err)
	return h
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestHubOverDataChannel(t *testing.T) {
	h := newEchoHub(t)
	ctx := testContext(t)

	clientDC, serverDC := fakePair("EchoHub")
	serverCh := NewChannel(context.Background(), serverDC, nil)
	clientCh := NewChannel(context.Background(), clientDC, nil)
	clientDC.open()

	session, err := h.Connect(ctx, serverCh)
	require.NoError(t, err)

	c, err := hub.Connect(ctx, clientCh, "EchoHub", nil)
	require.NoError(t, err)

	out, err := hub.Invoke[string, string](ctx, c, method.ID("Echo"), "over webrtc")
	require.NoError(t, err)
	assert.Equal(t, "over webrtc", out)

	stats := clientCh.Stats()
	assert.Equal(t, "EchoHub", stats.Label)
	assert.GreaterOrEqual(t, stats.MessagesSent, int64(1))
	assert.GreaterOrEqual(t, stats.MessagesRecv, int64(2))

	require.NoError(t, c.Disconnect())
	select {
	case <-session.Done():
	case <-time.After(2 * time.Second):
		require.FailNow(t, "server session did not close")
	}
}

func TestChannelOpenState(t *testing.T) {
	a, b := fakePair("x")
	ch := NewChannel(context.Background(), a, nil)
	NewChannel(context.Background(), b, nil)

	assert.ErrorIs(t, ch.Write([]byte{1}), ErrDataChannelNotOpen)

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, ch.WaitOpen(short), context.DeadlineExceeded)

	a.open()
	require.NoError(t, ch.WaitOpen(testContext(t)))
	require.NoError(t, ch.Write([]byte{1}))
}

func TestChannelIgnoresTextMessages(t *testing.T) {
	a, b := fakePair("x")
	ch := NewChannel(context.Background(), a, nil)
	peer := NewChannel(context.Background(), b, nil)
	a.open()

	b.SendText("hello")
	require.NoError(t, peer.Write([]byte{7}))

	data, err := ch.Read()
	require.NoError(t, err)
	assert.Equal(t, []byte{7}, data)
	assert.Equal(t, int64(1), ch.Stats().MessagesRecv)
}

func TestChannelCloseEndsRead(t *testing.T) {
	a, b := fakePair("x")
	ch := NewChannel(context.Background(), a, nil)
	peer := NewChannel(context.Background(), b, nil)
	a.open()

	require.NoError(t, peer.Close())

	_, err := ch.Read()
	assert.Error(t, err)
	assert.Error(t, ch.Context().Err())
}

func TestPeerAcceptsHubDataChannels(t *testing.T) {
	h := newEchoHub(t)
	ctx := testContext(t)

	p, err := NewPeer(PeerOptions{})
	require.NoError(t, err)
	defer p.Close()
	p.Serve(h)

	clientDC, serverDC := fakePair("EchoHub")
	p.accept(serverDC)
	clientCh := NewChannel(context.Background(), clientDC, nil)
	clientDC.open()

	c, err := hub.Connect(ctx, clientCh, "EchoHub", nil)
	require.NoError(t, err)
	defer c.Disconnect()

	out, err := hub.Invoke[string, string](ctx, c, method.ID("Echo"), "accepted")
	require.NoError(t, err)
	assert.Equal(t, "accepted", out)
	assert.Len(t, h.Sessions(), 1)

	unknown, other := fakePair("Nope")
	p.accept(other)
	assert.Equal(t, webrtc.DataChannelStateClosed, unknown.ReadyState())
}

func TestPeerQueuesEarlyCandidates(t *testing.T) {
	p, err := NewPeer(PeerOptions{})
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.AddICECandidate(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 127.0.0.1 5000 typ host"}))
	assert.Equal(t, 1, p.PendingCandidates())
}
