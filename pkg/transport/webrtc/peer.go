package webrtc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/HMasataka/hubrpc/internal/logging"
	"github.com/HMasataka/hubrpc/pkg/hub"
	"github.com/pion/webrtc/v4"
	"github.com/rs/xid"
)

// PeerOptions represents options for a peer connection
type PeerOptions struct {
	ICEServers []webrtc.ICEServer
	Logger     *logging.Logger
	// OpenTimeout bounds how long an accepted data channel may take to open
	OpenTimeout time.Duration
}

// DefaultPeerOptions returns default options
func DefaultPeerOptions(logger *logging.Logger) PeerOptions {
	return PeerOptions{
		Logger: logger,
		ICEServers: []webrtc.ICEServer{
			{
				URLs: []string{"stun:stun.l.google.com:19302"},
			},
		},
		OpenTimeout: 30 * time.Second,
	}
}

// Peer wraps a WebRTC peer connection whose data channels carry hub
// connections. Signaling (offer, answer, candidates) is left to the caller.
type Peer struct {
	id      string
	pc      *webrtc.PeerConnection
	logger  *logging.Logger
	options PeerOptions

	pendingCandidates []webrtc.ICECandidateInit
	candidatesMu      sync.Mutex

	hubsMu sync.RWMutex
	hubs   map[string]*hub.Hub
}

// NewPeer creates a peer connection
func NewPeer(options PeerOptions) (*Peer, error) {
	if options.Logger == nil {
		options.Logger = logging.Discard()
	}
	if options.OpenTimeout <= 0 {
		options.OpenTimeout = 30 * time.Second
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: options.ICEServers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	id := xid.New().String()
	p := &Peer{
		id:      id,
		pc:      pc,
		logger:  options.Logger.WithFields(map[string]any{"peer_id": id}),
		options: options,
		hubs:    make(map[string]*hub.Hub),
	}
	p.setupEventHandlers()

	return p, nil
}

// ID returns the peer id
func (p *Peer) ID() string {
	return p.id
}

// PeerConnection returns the underlying peer connection
func (p *Peer) PeerConnection() *webrtc.PeerConnection {
	return p.pc
}

// Serve accepts data channels labelled with h's name as sessions of h
func (p *Peer) Serve(h *hub.Hub) {
	p.hubsMu.Lock()
	p.hubs[h.Name()] = h
	p.hubsMu.Unlock()
}

// Channel creates a data channel for hubName. It opens once signaling
// completes; create it before the offer so the offer negotiates it.
func (p *Peer) Channel(hubName string) (*Channel, error) {
	dc, err := p.pc.CreateDataChannel(hubName, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create data channel: %w", err)
	}
	return NewChannel(context.Background(), dc, p.logger), nil
}

// Open creates a data channel for hubName and waits until it is open. Pass
// the result to hub.Connect.
func (p *Peer) Open(ctx context.Context, hubName string) (*Channel, error) {
	ch, err := p.Channel(hubName)
	if err != nil {
		return nil, err
	}
	if err := ch.WaitOpen(ctx); err != nil {
		_ = ch.Close()
		return nil, err
	}
	return ch, nil
}

// CreateOffer creates an SDP offer and waits for candidate gathering
func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}
	<-gathered

	return *p.pc.LocalDescription(), nil
}

// CreateAnswer creates an SDP answer and waits for candidate gathering
func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}

	gathered := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}
	<-gathered

	return *p.pc.LocalDescription(), nil
}

// SetRemoteDescription sets the remote SDP and applies queued candidates
func (p *Peer) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(sdp); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}

	p.logger.Debug("set remote description", "type", sdp.Type.String())
	p.processPendingCandidates()
	return nil
}

// AddICECandidate adds a remote candidate. Candidates that arrive before
// the remote description are queued.
func (p *Peer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	p.candidatesMu.Lock()
	if p.pc.RemoteDescription() == nil {
		p.pendingCandidates = append(p.pendingCandidates, candidate)
		p.candidatesMu.Unlock()
		p.logger.Debug("queued ICE candidate")
		return nil
	}
	p.candidatesMu.Unlock()

	if err := p.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("failed to add ICE candidate: %w", err)
	}
	return nil
}

// PendingCandidates returns the number of queued candidates
func (p *Peer) PendingCandidates() int {
	p.candidatesMu.Lock()
	defer p.candidatesMu.Unlock()
	return len(p.pendingCandidates)
}

func (p *Peer) processPendingCandidates() {
	p.candidatesMu.Lock()
	candidates := p.pendingCandidates
	p.pendingCandidates = nil
	p.candidatesMu.Unlock()

	for _, candidate := range candidates {
		if err := p.pc.AddICECandidate(candidate); err != nil {
			p.logger.Error("failed to add pending ICE candidate", "error", err)
		}
	}
}

// Close closes the peer connection and every data channel on it
func (p *Peer) Close() error {
	return p.pc.Close()
}

func (p *Peer) setupEventHandlers() {
	p.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		p.accept(dc)
	})

	p.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.logger.Info("connection state changed", "state", state.String())
	})
}

// accept connects an incoming data channel to the hub named by its label
func (p *Peer) accept(dc DataChannel) {
	p.hubsMu.RLock()
	h, ok := p.hubs[dc.Label()]
	p.hubsMu.RUnlock()

	if !ok {
		p.logger.Warn("no hub for data channel", "label", dc.Label())
		_ = dc.Close()
		return
	}

	ch := NewChannel(context.Background(), dc, p.logger)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.options.OpenTimeout)
		defer cancel()

		if err := ch.WaitOpen(ctx); err != nil {
			p.logger.Info("data channel did not open", "label", dc.Label(), "error", err)
			_ = ch.Close()
			return
		}

		if _, err := h.Connect(ctx, ch); err != nil {
			p.logger.Info("connection rejected", "label", dc.Label(), "error", err)
		}
	}()
}
