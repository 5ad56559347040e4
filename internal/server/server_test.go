package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/HMasataka/hubrpc/internal/chat"
	"github.com/HMasataka/hubrpc/internal/config"
	"github.com/HMasataka/hubrpc/internal/logging"
	"github.com/HMasataka/hubrpc/pkg/errors"
	"github.com/HMasataka/hubrpc/pkg/hub"
	grpctransport "github.com/HMasataka/hubrpc/pkg/transport/grpc"
	"github.com/HMasataka/hubrpc/pkg/transport/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

type silentReceiver struct{}

func (silentReceiver) OnJoin(chat.Player)     {}
func (silentReceiver) OnLeave(chat.Player)    {}
func (silentReceiver) OnMove(chat.MoveEvent)  {}
func (silentReceiver) OnMessage(chat.Message) {}
func (silentReceiver) OnPoll(q string) string { return q }

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *chat.Chat) {
	t.Helper()

	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.GRPC.Host = "127.0.0.1"
	cfg.GRPC.Port = 0
	if mutate != nil {
		mutate(cfg)
	}

	logger := logging.Discard()
	d, err := NewDispatcher(cfg, logger)
	require.NoError(t, err)

	opts, err := HubOptions(cfg.Hub, logger, nil)
	require.NoError(t, err)

	c, err := chat.New(d, logger, opts...)
	require.NoError(t, err)
	_, err = d.Register(c.Service())
	require.NoError(t, err)

	s, err := New(cfg, logger, d, nil, []*hub.Hub{c.Hub()})
	require.NoError(t, err)
	return s, c
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestHubPath(t *testing.T) {
	assert.Equal(t, "/hubs/chat-hub", HubPath("ChatHub"))
	assert.Equal(t, "/hubs/signaling-hub", HubPath("SignalingHub"))
	assert.Equal(t, "/hubs/game-room-hub", HubPath("GameRoomHub"))
}

func TestChatOverWebsocket(t *testing.T) {
	s, c := newTestServer(t, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	ctx := testContext(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + HubPath(chat.HubName)
	ch, err := websocket.Dial(ctx, url)
	require.NoError(t, err)

	client, err := chat.Connect(ctx, ch, silentReceiver{})
	require.NoError(t, err)
	defer client.Disconnect()

	players, err := client.Join(ctx, "lobby", "alice")
	require.NoError(t, err)
	assert.Empty(t, players)

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats Stats
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	require.Len(t, stats.Hubs, 1)
	assert.Equal(t, chat.HubName, stats.Hubs[0].Hub)
	assert.Equal(t, 1, stats.Hubs[0].ConnectedClients)
	assert.Equal(t, 1, stats.Hubs[0].Groups)
	assert.ElementsMatch(t, []string{chat.HubName, chat.ServiceName}, stats.Services)
	assert.Len(t, c.Hub().Sessions(), 1)
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRateLimitRejectsBurst(t *testing.T) {
	s, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.RateLimit.Rate = 0.001
		cfg.RateLimit.Capacity = 1
	})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	ctx := testContext(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + HubPath(chat.HubName)
	ch, err := websocket.Dial(ctx, url)
	require.NoError(t, err)

	client, err := chat.Connect(ctx, ch, silentReceiver{})
	require.NoError(t, err)
	defer client.Disconnect()

	_, err = client.Join(ctx, "lobby", "alice")
	require.NoError(t, err)

	_, err = client.Say(ctx, "hello")
	assert.Equal(t, codes.ResourceExhausted, errors.Code(err))
}

func TestGRPCExposesServicesAndHubs(t *testing.T) {
	s, _ := newTestServer(t, nil)
	require.NotNil(t, s.grpcServer)
	ctx := testContext(t)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = s.grpcServer.Serve(lis) }()
	t.Cleanup(s.grpcServer.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer conn.Close()

	ch, err := grpctransport.DialHub(ctx, conn, chat.HubName)
	require.NoError(t, err)

	client, err := chat.Connect(ctx, ch, silentReceiver{})
	require.NoError(t, err)
	defer client.Disconnect()

	_, err = client.Join(ctx, "arena", "bob")
	require.NoError(t, err)

	rooms, err := grpctransport.Call[chat.Empty, []chat.RoomInfo](ctx, conn, s.dispatcher.Serializer(),
		"/"+chat.ServiceName+"/Rooms", chat.Empty{})
	require.NoError(t, err)
	assert.Equal(t, []chat.RoomInfo{{Name: "arena", Members: 1}}, rooms)
}

func TestGRPCDisabled(t *testing.T) {
	s, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.GRPC.Enabled = false
	})
	assert.Nil(t, s.grpcServer)
}

func TestStartStopsWithContext(t *testing.T) {
	s, _ := newTestServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "server did not stop")
	}
}

func TestHubOptionsRejectsUnknownMode(t *testing.T) {
	cfg := config.Default().Hub
	cfg.BroadcastMode = "fanout"
	_, err := HubOptions(cfg, logging.Discard(), nil)
	assert.Error(t, err)
}
