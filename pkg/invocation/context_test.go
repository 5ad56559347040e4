package invocation

import (
	"context"
	"testing"

	"github.com/HMasataka/hubrpc/pkg/method"
	"github.com/HMasataka/hubrpc/pkg/serializer"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNewCarriesConnectionState(t *testing.T) {
	ctx := WithConnectionID(context.Background(), "conn-1")
	ctx = WithMetadata(ctx, map[string]string{"authorization": "token"})

	desc := &method.Descriptor{ServiceName: "ChatHub", MethodName: "Join", Kind: method.HubInvoke}
	ic := New(ctx, desc, serializer.JSON{}, []byte(`"lobby"`))

	assert.Equal(t, "conn-1", ic.ConnectionID)
	assert.Equal(t, "token", ic.Metadata["authorization"])
	assert.NotEqual(t, uuid.Nil, ic.CallID)
	assert.Same(t, desc, ic.Method)
	assert.Equal(t, ctx, ic.Context())
}

func TestItems(t *testing.T) {
	ic := New(context.Background(), &method.Descriptor{}, serializer.JSON{}, nil)

	_, ok := ic.Get("user")
	assert.False(t, ok)

	ic.Set("user", "alice")
	v, ok := ic.Get("user")
	assert.True(t, ok)
	assert.Equal(t, "alice", v)
}

func TestMetadataIsCopied(t *testing.T) {
	md := map[string]string{"k": "v"}
	ctx := WithMetadata(context.Background(), md)
	md["k"] = "changed"

	assert.Equal(t, "v", MetadataFromContext(ctx)["k"])
	assert.Empty(t, MetadataFromContext(context.Background()))
	assert.Empty(t, ConnectionIDFromContext(context.Background()))
}
