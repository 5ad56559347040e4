package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HMasataka/hubrpc/internal/chat"
	"github.com/HMasataka/hubrpc/internal/logging"
	"github.com/HMasataka/hubrpc/internal/signaling"
	"github.com/HMasataka/hubrpc/pkg/dispatch"
	"github.com/HMasataka/hubrpc/pkg/transport/webrtc"
	"github.com/HMasataka/hubrpc/pkg/transport/websocket"
)

// relay collects what the signaling hub forwards
type relay struct {
	offers  chan signaling.SDPMessage
	answers chan signaling.SDPMessage
	logger  *logging.Logger
}

func (r *relay) OnPeerJoined(id string) { r.logger.Info("peer joined", "peer_id", id) }
func (r *relay) OnPeerLeft(id string)   { r.logger.Info("peer left", "peer_id", id) }
func (r *relay) OnOffer(msg signaling.SDPMessage) {
	r.offers <- msg
}
func (r *relay) OnAnswer(msg signaling.SDPMessage) {
	r.answers <- msg
}
func (r *relay) OnCandidate(msg signaling.CandidateMessage) {
	r.logger.Debug("ignoring trickled candidate", "from", msg.From)
}

type printer struct{}

func (printer) OnJoin(p chat.Player)          { fmt.Printf("* %s joined\n", p.Name) }
func (printer) OnLeave(p chat.Player)         { fmt.Printf("* %s left\n", p.Name) }
func (printer) OnMove(chat.MoveEvent)         {}
func (printer) OnMessage(m chat.Message)      { fmt.Printf("%s: %s\n", m.UserName, m.Text) }
func (printer) OnPoll(question string) string { return "p2p" }

func main() {
	var (
		serverAddr = flag.String("server", "ws://localhost:3000/hubs/signaling-hub", "signaling hub URL")
		role       = flag.String("role", "answer", "role: offer (dials a peer's chat hub) or answer (hosts a chat hub)")
		name       = flag.String("name", "peer", "display name")
		logLevel   = flag.String("log-level", "info", "log level (debug, info, warn, error)")
	)
	flag.Parse()

	logger := logging.New(logging.Config{Level: *logLevel, Format: "console"})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ch, err := websocket.Dial(ctx, *serverAddr, websocket.WithDialLogger(logger))
	if err != nil {
		log.Fatalf("failed to connect to signaling: %v", err)
	}

	r := &relay{
		offers:  make(chan signaling.SDPMessage, 1),
		answers: make(chan signaling.SDPMessage, 1),
		logger:  logger,
	}
	sig, err := signaling.Connect(ctx, ch, r)
	if err != nil {
		log.Fatalf("signaling handshake failed: %v", err)
	}
	defer sig.Disconnect()

	id, err := sig.WhoAmI(ctx)
	if err != nil {
		log.Fatalf("failed to get peer id: %v", err)
	}
	logger.Info("connected to signaling", "peer_id", id, "role", *role)

	switch *role {
	case "offer":
		err = runOffer(ctx, sig, r, *name, logger)
	case "answer":
		err = runAnswer(ctx, sig, r, logger)
	default:
		err = fmt.Errorf("unknown role %q", *role)
	}
	if err != nil {
		log.Fatal(err)
	}
}

// runAnswer hosts a chat hub and accepts data channels from every offer
func runAnswer(ctx context.Context, sig *signaling.Client, r *relay, logger *logging.Logger) error {
	room, err := chat.New(dispatch.New(), logger)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case offer := <-r.offers:
			peer, err := webrtc.NewPeer(webrtc.DefaultPeerOptions(logger))
			if err != nil {
				return err
			}
			peer.Serve(room.Hub())

			if err := peer.SetRemoteDescription(offer.SessionDescription); err != nil {
				logger.Error("bad offer", "from", offer.From, "error", err)
				_ = peer.Close()
				continue
			}
			answer, err := peer.CreateAnswer()
			if err != nil {
				logger.Error("failed to answer", "from", offer.From, "error", err)
				_ = peer.Close()
				continue
			}
			if err := sig.Answer(ctx, offer.From, answer); err != nil {
				logger.Error("failed to send answer", "to", offer.From, "error", err)
				_ = peer.Close()
				continue
			}
			logger.Info("answered peer", "peer_id", offer.From)
		}
	}
}

// runOffer connects to the first other peer and chats over a data channel
func runOffer(ctx context.Context, sig *signaling.Client, r *relay, name string, logger *logging.Logger) error {
	peers, err := sig.Peers(ctx)
	if err != nil {
		return err
	}
	if len(peers) == 0 {
		return fmt.Errorf("no peer to connect to")
	}
	target := peers[0]

	peer, err := webrtc.NewPeer(webrtc.DefaultPeerOptions(logger))
	if err != nil {
		return err
	}
	defer peer.Close()

	dc, err := peer.Channel(chat.HubName)
	if err != nil {
		return err
	}

	offer, err := peer.CreateOffer()
	if err != nil {
		return err
	}
	if err := sig.Offer(ctx, target, offer); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	select {
	case answer := <-r.answers:
		if err := peer.SetRemoteDescription(answer.SessionDescription); err != nil {
			return err
		}
	case <-waitCtx.Done():
		return fmt.Errorf("no answer from %s: %w", target, waitCtx.Err())
	}

	if err := dc.WaitOpen(waitCtx); err != nil {
		return err
	}

	client, err := chat.Connect(ctx, dc, printer{})
	if err != nil {
		return err
	}
	defer client.Disconnect()

	if _, err := client.Join(ctx, "p2p", name); err != nil {
		return err
	}
	if _, err := client.Say(ctx, "hello over a data channel"); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}
