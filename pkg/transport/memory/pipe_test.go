package memory

import (
	"io"
	"testing"

	"github.com/HMasataka/hubrpc/pkg/domain"
	"github.com/HMasataka/hubrpc/pkg/invocation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipe(t *testing.T) {
	a, b := Pipe()

	frame := []byte{1, 2, 3}
	require.NoError(t, a.Write(frame))
	frame[0] = 9

	got, err := b.Read()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)

	require.NoError(t, b.Write([]byte{4}))
	got, err = a.Read()
	require.NoError(t, err)
	assert.Equal(t, []byte{4}, got)
}

func TestPipeClose(t *testing.T) {
	a, b := Pipe()
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, err := b.Read()
	assert.ErrorIs(t, err, io.EOF)
	assert.ErrorIs(t, b.Write([]byte{1}), domain.ErrConnectionClosed)
	assert.Error(t, b.Context().Err())
}

func TestPipeMetadata(t *testing.T) {
	_, b := Pipe()
	b.WithMetadata(map[string]string{"user": "alice"})
	assert.Equal(t, "alice", invocation.MetadataFromContext(b.Context())["user"])
}
