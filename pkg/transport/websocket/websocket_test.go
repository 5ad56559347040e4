package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/HMasataka/hubrpc/pkg/dispatch"
	"github.com/HMasataka/hubrpc/pkg/hub"
	"github.com/HMasataka/hubrpc/pkg/invocation"
	"github.com/HMasataka/hubrpc/pkg/method"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEchoHub(t *testing.T) *hub.Hub {
	t.Helper()
	svc := dispatch.NewHub("EchoHub",
		dispatch.HubInvoke("Echo", func(ctx context.Context, msg string) (string, error) {
			return msg, nil
		}),
		dispatch.HubInvoke("Whoami", func(ctx context.Context, _ string) (string, error) {
			return invocation.MetadataFromContext(ctx)["x-user"], nil
		}),
	)
	h, err := hub.New(svc, dispatch.New())
	require.NoError(t, err)
	return h
}

func TestHubOverWebsocket(t *testing.T) {
	h := newEchoHub(t)
	srv := httptest.NewServer(NewServer(h))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := Dial(ctx, url, WithHeader(http.Header{"X-User": []string{"alice"}}))
	require.NoError(t, err)

	c, err := hub.Connect(ctx, ch, "EchoHub", nil)
	require.NoError(t, err)

	out, err := hub.Invoke[string, string](ctx, c, method.ID("Echo"), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	who, err := hub.Invoke[string, string](ctx, c, method.ID("Whoami"), "")
	require.NoError(t, err)
	assert.Equal(t, "alice", who)

	require.Len(t, h.Sessions(), 1)
	session := h.Sessions()[0]

	require.NoError(t, c.Disconnect())
	select {
	case <-session.Done():
	case <-time.After(2 * time.Second):
		require.FailNow(t, "server session did not close")
	}
	assert.Empty(t, h.Sessions())
}

func TestDialFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := Dial(ctx, "ws://127.0.0.1:1/hubs/echo")
	assert.Error(t, err)
}
