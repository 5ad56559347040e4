package signaling

import (
	"context"

	"github.com/HMasataka/hubrpc/pkg/dispatch"
	"github.com/HMasataka/hubrpc/pkg/domain"
	"github.com/HMasataka/hubrpc/pkg/hub"
	"github.com/pion/webrtc/v4"
)

// Receiver handles what the signaling hub forwards to a peer
type Receiver interface {
	OnPeerJoined(id string)
	OnPeerLeft(id string)
	OnOffer(msg SDPMessage)
	OnAnswer(msg SDPMessage)
	OnCandidate(msg CandidateMessage)
}

// NewReceiverService adapts r to the receiver service passed to hub.Connect
func NewReceiverService(r Receiver) *dispatch.Service {
	return dispatch.NewHub(ReceiverName,
		dispatch.HubNotify("OnPeerJoined", func(ctx context.Context, id string) error {
			r.OnPeerJoined(id)
			return nil
		}),
		dispatch.HubNotify("OnPeerLeft", func(ctx context.Context, id string) error {
			r.OnPeerLeft(id)
			return nil
		}),
		dispatch.HubNotify("OnOffer", func(ctx context.Context, msg SDPMessage) error {
			r.OnOffer(msg)
			return nil
		}),
		dispatch.HubNotify("OnAnswer", func(ctx context.Context, msg SDPMessage) error {
			r.OnAnswer(msg)
			return nil
		}),
		dispatch.HubNotify("OnCandidate", func(ctx context.Context, msg CandidateMessage) error {
			r.OnCandidate(msg)
			return nil
		}),
	)
}

// Client is a typed proxy of the signaling hub
type Client struct {
	*hub.Client
}

// Connect opens a signaling client over ch
func Connect(ctx context.Context, ch domain.Channel, r Receiver, opts ...hub.Option) (*Client, error) {
	c, err := hub.Connect(ctx, ch, HubName, NewReceiverService(r), opts...)
	if err != nil {
		return nil, err
	}
	return &Client{Client: c}, nil
}

// WhoAmI returns the id other peers address this client by
func (c *Client) WhoAmI(ctx context.Context) (string, error) {
	return hub.Invoke[Empty, string](ctx, c.Client, WhoAmIID, Empty{})
}

// Peers returns the ids of the other connected peers
func (c *Client) Peers(ctx context.Context) ([]string, error) {
	return hub.Invoke[Empty, []string](ctx, c.Client, PeersID, Empty{})
}

// Offer forwards an offer to peer to
func (c *Client) Offer(ctx context.Context, to string, sdp webrtc.SessionDescription) error {
	_, err := hub.Invoke[SDPMessage, Empty](ctx, c.Client, OfferID, SDPMessage{To: to, SessionDescription: sdp})
	return err
}

// Answer forwards an answer to peer to
func (c *Client) Answer(ctx context.Context, to string, sdp webrtc.SessionDescription) error {
	_, err := hub.Invoke[SDPMessage, Empty](ctx, c.Client, AnswerID, SDPMessage{To: to, SessionDescription: sdp})
	return err
}

// Candidate forwards an ICE candidate to peer to without waiting
func (c *Client) Candidate(ctx context.Context, to string, candidate webrtc.ICECandidateInit) error {
	return hub.Send(ctx, c.Client, CandidateID, CandidateMessage{To: to, Candidate: candidate})
}
