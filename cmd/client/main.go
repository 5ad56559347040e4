package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/HMasataka/hubrpc/internal/chat"
	"github.com/HMasataka/hubrpc/internal/logging"
	"github.com/HMasataka/hubrpc/pkg/hub"
	"github.com/HMasataka/hubrpc/pkg/transport/websocket"
)

type printer struct {
	logger *logging.Logger
	name   string
}

func (p *printer) OnJoin(player chat.Player) {
	fmt.Printf("* %s joined\n", player.Name)
}

func (p *printer) OnLeave(player chat.Player) {
	fmt.Printf("* %s left\n", player.Name)
}

func (p *printer) OnMove(e chat.MoveEvent) {
	p.logger.Debug("player moved", "player_id", e.PlayerID, "x", e.Position.X, "y", e.Position.Y)
}

func (p *printer) OnMessage(m chat.Message) {
	fmt.Printf("[%s] %s: %s\n", m.SentAt.Local().Format(time.Kitchen), m.UserName, m.Text)
}

func (p *printer) OnPoll(question string) string {
	return p.name + " saw " + strconv.Quote(question)
}

func main() {
	var (
		serverAddr = flag.String("server", "ws://localhost:3000/hubs/chat-hub", "chat hub URL")
		room       = flag.String("room", "lobby", "room to join")
		name       = flag.String("name", "guest", "display name")
		logLevel   = flag.String("log-level", "info", "log level (debug, info, warn, error)")
	)
	flag.Parse()

	logger := logging.New(logging.Config{
		Level:  *logLevel,
		Format: "console",
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ch, err := websocket.Dial(ctx, *serverAddr,
		websocket.WithHeader(http.Header{"X-User": []string{*name}}),
		websocket.WithDialLogger(logger),
	)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}

	client, err := chat.Connect(ctx, ch, &printer{logger: logger, name: *name}, hub.WithLogger(logger))
	if err != nil {
		log.Fatalf("handshake failed: %v", err)
	}
	defer client.Disconnect()

	players, err := client.Join(ctx, *room, *name)
	if err != nil {
		log.Fatalf("failed to join %s: %v", *room, err)
	}
	logger.Info("joined room", "room", *room, "players", len(players))

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			logger.Info("connection closed", "error", client.Err())
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := handleLine(ctx, client, line); err != nil {
				logger.Error("command failed", "error", err)
			}
		}
	}
}

// handleLine runs a command or says the line:
//
//	/move X Y    report a position
//	/poll TEXT   ask everyone else in the room
//	/leave       leave the room
func handleLine(ctx context.Context, client *chat.Client, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch {
	case strings.HasPrefix(line, "/move "):
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return fmt.Errorf("usage: /move X Y")
		}
		x, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return err
		}
		y, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return err
		}
		return client.Move(callCtx, chat.Position{X: x, Y: y})

	case strings.HasPrefix(line, "/poll "):
		answers, err := client.Poll(callCtx, strings.TrimPrefix(line, "/poll "))
		if err != nil {
			return err
		}
		for who, answer := range answers {
			fmt.Printf("  %s: %s\n", who, answer)
		}
		return nil

	case line == "/leave":
		return client.Leave(callCtx)

	default:
		_, err := client.Say(callCtx, line)
		return err
	}
}
