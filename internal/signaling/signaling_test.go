package signaling

import (
	"context"
	"testing"
	"time"

	"github.com/HMasataka/hubrpc/internal/eventbus"
	"github.com/HMasataka/hubrpc/pkg/dispatch"
	"github.com/HMasataka/hubrpc/pkg/errors"
	"github.com/HMasataka/hubrpc/pkg/transport/memory"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

type recorder struct {
	joined     chan string
	left       chan string
	offers     chan SDPMessage
	answers    chan SDPMessage
	candidates chan CandidateMessage
}

func newRecorder() *recorder {
	return &recorder{
		joined:     make(chan string, 8),
		left:       make(chan string, 8),
		offers:     make(chan SDPMessage, 8),
		answers:    make(chan SDPMessage, 8),
		candidates: make(chan CandidateMessage, 8),
	}
}

func (r *recorder) OnPeerJoined(id string)           { r.joined <- id }
func (r *recorder) OnPeerLeft(id string)             { r.left <- id }
func (r *recorder) OnOffer(msg SDPMessage)           { r.offers <- msg }
func (r *recorder) OnAnswer(msg SDPMessage)          { r.answers <- msg }
func (r *recorder) OnCandidate(msg CandidateMessage) { r.candidates <- msg }

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		require.FailNow(t, "timed out waiting for a push")
		var zero T
		return zero
	}
}

type peer struct {
	client *Client
	rec    *recorder
	id     string
}

func connect(t *testing.T, r *Relay) *peer {
	t.Helper()
	serverEnd, clientEnd := memory.Pipe()

	_, err := r.Hub().Connect(context.Background(), serverEnd)
	require.NoError(t, err)

	rec := newRecorder()
	c, err := Connect(context.Background(), clientEnd, rec)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Disconnect() })

	id, err := c.WhoAmI(context.Background())
	require.NoError(t, err)
	return &peer{client: c, rec: rec, id: id}
}

func newRelay(t *testing.T) (*Relay, *eventbus.InMemoryBus) {
	t.Helper()
	bus := eventbus.NewInMemoryBus(16)
	r, err := New(dispatch.New(), nil, bus)
	require.NoError(t, err)
	return r, bus
}

func TestOfferAnswerExchange(t *testing.T) {
	r, bus := newRelay(t)
	ctx := context.Background()

	alice := connect(t, r)
	bob := connect(t, r)
	assert.Equal(t, bob.id, receive(t, alice.rec.joined))

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer"}
	require.NoError(t, alice.client.Offer(ctx, bob.id, offer))

	got := receive(t, bob.rec.offers)
	assert.Equal(t, alice.id, got.From)
	assert.Equal(t, offer, got.SessionDescription)

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer"}
	require.NoError(t, bob.client.Answer(ctx, alice.id, answer))
	assert.Equal(t, answer, receive(t, alice.rec.answers).SessionDescription)

	mid := "0"
	candidate := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 5000 typ host", SDPMid: &mid}
	require.NoError(t, alice.client.Candidate(ctx, bob.id, candidate))

	gotCandidate := receive(t, bob.rec.candidates)
	assert.Equal(t, alice.id, gotCandidate.From)
	assert.Equal(t, candidate.Candidate, gotCandidate.Candidate.Candidate)
	require.NotNil(t, gotCandidate.Candidate.SDPMid)
	assert.Equal(t, "0", *gotCandidate.Candidate.SDPMid)

	assert.Equal(t, int64(0), bus.Dropped())
}

func TestRelayRejects(t *testing.T) {
	r, _ := newRelay(t)
	ctx := context.Background()
	alice := connect(t, r)

	err := alice.client.Offer(ctx, "nobody", webrtc.SessionDescription{Type: webrtc.SDPTypeOffer})
	assert.Equal(t, codes.NotFound, errors.Code(err))

	bob := connect(t, r)
	err = alice.client.Offer(ctx, bob.id, webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer})
	assert.Equal(t, codes.InvalidArgument, errors.Code(err))
}

func TestPeersAndDeparture(t *testing.T) {
	r, _ := newRelay(t)
	ctx := context.Background()

	alice := connect(t, r)
	bob := connect(t, r)
	receive(t, alice.rec.joined)

	peers, err := alice.client.Peers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{bob.id}, peers)

	require.NoError(t, bob.client.Disconnect())
	assert.Equal(t, bob.id, receive(t, alice.rec.left))

	peers, err = alice.client.Peers(ctx)
	require.NoError(t, err)
	assert.Empty(t, peers)
}
