// Package signaling relays WebRTC offers, answers and ICE candidates
// between the sessions of a hub, so peers can open data channels to each
// other.
package signaling

import (
	"context"

	"github.com/HMasataka/hubrpc/internal/eventbus"
	"github.com/HMasataka/hubrpc/internal/logging"
	"github.com/HMasataka/hubrpc/pkg/dispatch"
	"github.com/HMasataka/hubrpc/pkg/domain"
	"github.com/HMasataka/hubrpc/pkg/errors"
	"github.com/HMasataka/hubrpc/pkg/hub"
	"github.com/HMasataka/hubrpc/pkg/method"
	"github.com/pion/webrtc/v4"
	"google.golang.org/grpc/codes"
)

const (
	HubName      = "SignalingHub"
	ReceiverName = "SignalingHubReceiver"
)

var (
	WhoAmIID    = method.ID("WhoAmI")
	PeersID     = method.ID("Peers")
	OfferID     = method.ID("Offer")
	AnswerID    = method.ID("Answer")
	CandidateID = method.ID("Candidate")

	OnPeerJoinedID = method.ID("OnPeerJoined")
	OnPeerLeftID   = method.ID("OnPeerLeft")
	OnOfferID      = method.ID("OnOffer")
	OnAnswerID     = method.ID("OnAnswer")
	OnCandidateID  = method.ID("OnCandidate")
)

// SDPMessage carries an offer or answer. To is set by the sender and From
// by the hub.
type SDPMessage struct {
	From               string                    `json:"from_id"`
	To                 string                    `json:"to_id"`
	SessionDescription webrtc.SessionDescription `json:"session_description"`
}

// CandidateMessage carries one ICE candidate
type CandidateMessage struct {
	From      string                  `json:"from_id"`
	To        string                  `json:"to_id"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

// Empty is the argument and result of methods that carry no data
type Empty struct{}

// Relay is the signaling hub
type Relay struct {
	hub      *hub.Hub
	logger   *logging.Logger
	eventBus eventbus.Bus
}

// New registers the signaling hub on d
func New(d *dispatch.Dispatcher, logger *logging.Logger, bus eventbus.Bus, opts ...hub.Option) (*Relay, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	r := &Relay{
		logger:   logger.WithFields(map[string]any{"component": "signaling"}),
		eventBus: bus,
	}

	svc := dispatch.NewHub(HubName,
		dispatch.HubInvoke("WhoAmI", r.whoAmI),
		dispatch.HubInvoke("Peers", r.peers),
		dispatch.HubInvoke("Offer", r.relaySDP(OnOfferID, webrtc.SDPTypeOffer)),
		dispatch.HubInvoke("Answer", r.relaySDP(OnAnswerID, webrtc.SDPTypeAnswer)),
		dispatch.HubNotify("Candidate", r.relayCandidate),
	)

	opts = append([]hub.Option{hub.WithLogger(logger)}, opts...)
	opts = append(opts, hub.OnConnected(r.onConnected), hub.OnDisconnected(r.onDisconnected))

	h, err := hub.New(svc, d, opts...)
	if err != nil {
		return nil, err
	}
	r.hub = h

	return r, nil
}

// Hub returns the signaling hub
func (r *Relay) Hub() *hub.Hub {
	return r.hub
}

func (r *Relay) whoAmI(ctx context.Context, _ Empty) (string, error) {
	s, ok := hub.SessionFromContext(ctx)
	if !ok {
		return "", errors.Status(codes.Internal, "no session")
	}
	return s.ID(), nil
}

func (r *Relay) peers(ctx context.Context, _ Empty) ([]string, error) {
	s, _ := hub.SessionFromContext(ctx)

	ids := []string{}
	for _, other := range r.hub.Sessions() {
		if s != nil && other.ID() == s.ID() {
			continue
		}
		if other.State() != domain.StateConnected {
			continue
		}
		ids = append(ids, other.ID())
	}
	return ids, nil
}

func (r *Relay) relaySDP(target int32, want webrtc.SDPType) func(context.Context, SDPMessage) (Empty, error) {
	return func(ctx context.Context, msg SDPMessage) (Empty, error) {
		s, ok := hub.SessionFromContext(ctx)
		if !ok {
			return Empty{}, errors.Status(codes.Internal, "no session")
		}
		if msg.SessionDescription.Type != want {
			return Empty{}, errors.Statusf(codes.InvalidArgument, "expected %s, got %s", want, msg.SessionDescription.Type)
		}

		to, err := r.target(msg.To)
		if err != nil {
			return Empty{}, err
		}

		msg.From = s.ID()
		if err := hub.Push(to, target, msg); err != nil {
			return Empty{}, errors.Wrap(err, errors.ErrorTypeConnection, codes.Unavailable, "failed to forward SDP")
		}

		r.publish(eventbus.EventSDPRelayed, msg.From, msg.To, want.String())
		r.logger.Debug("SDP forwarded", "from", msg.From, "to", msg.To, "type", want.String())
		return Empty{}, nil
	}
}

func (r *Relay) relayCandidate(ctx context.Context, msg CandidateMessage) error {
	s, ok := hub.SessionFromContext(ctx)
	if !ok {
		return errors.Status(codes.Internal, "no session")
	}

	to, err := r.target(msg.To)
	if err != nil {
		return err
	}

	msg.From = s.ID()
	if err := hub.Push(to, OnCandidateID, msg); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, codes.Unavailable, "failed to forward ICE candidate")
	}

	r.publish(eventbus.EventCandidateRelayed, msg.From, msg.To, "")
	r.logger.Debug("ICE candidate forwarded", "from", msg.From, "to", msg.To)
	return nil
}

func (r *Relay) target(id string) (*hub.Session, error) {
	to, ok := r.hub.Session(id)
	if !ok {
		return nil, errors.Statusf(codes.NotFound, "peer %s not found", id)
	}
	return to, nil
}

func (r *Relay) onConnected(ctx context.Context, s *hub.Session) {
	if _, err := hub.BroadcastAll(ctx, r.hub, OnPeerJoinedID, s.ID(), hub.Except(s.ID())); err != nil {
		r.logger.Error("failed to announce peer", "error", err)
	}
}

func (r *Relay) onDisconnected(ctx context.Context, s *hub.Session) {
	if _, err := hub.BroadcastAll(ctx, r.hub, OnPeerLeftID, s.ID(), hub.Except(s.ID())); err != nil {
		r.logger.Error("failed to announce departure", "error", err)
	}
}

func (r *Relay) publish(t eventbus.EventType, from, to, sdpType string) {
	if r.eventBus == nil {
		return
	}
	event := eventbus.NewEvent(t, HubName, nil).
		WithMetadata("from_id", from).
		WithMetadata("to_id", to)
	if sdpType != "" {
		event = event.WithMetadata("sdp_type", sdpType)
	}
	r.eventBus.PublishAsync(event)
}
