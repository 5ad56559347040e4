package protocol

import (
	stderrors "errors"
	"testing"

	"github.com/HMasataka/hubrpc/pkg/domain"
	"github.com/HMasataka/hubrpc/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func TestFrameLayout(t *testing.T) {
	f := &Frame{Type: FrameRequest, MessageID: 7, MethodID: -2, Payload: []byte{0xaa}}

	data := f.Marshal()
	assert.Equal(t, []byte{1, 0, 0, 0, 7, 0xff, 0xff, 0xff, 0xfe, 0xaa}, data)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, f, got)
}

func TestUnmarshalRejectsMalformed(t *testing.T) {
	_, err := Unmarshal([]byte{1, 0, 0})
	assert.ErrorIs(t, err, domain.ErrInvalidFrame)

	_, err = Unmarshal([]byte{0x40, 0, 0, 0, 0, 0, 0, 0, 0})
	assert.ErrorIs(t, err, domain.ErrInvalidFrame)
}

func TestEmptyPayload(t *testing.T) {
	data := (&Frame{Type: FrameHandshake}).Marshal()
	assert.Len(t, data, HeaderSize)

	got, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, FrameHandshake, got.Type)
	assert.Empty(t, got.Payload)
}

func TestStatusPayload(t *testing.T) {
	payload := EncodeStatus(errors.Status(codes.NotFound, "room not found").WithDetails("lobby"))

	e, err := DecodeStatus(payload)
	require.NoError(t, err)
	assert.Equal(t, codes.NotFound, e.Code)
	assert.Equal(t, "room not found", e.Message)
	assert.Equal(t, "lobby", e.Details)

	e, err = DecodeStatus(EncodeStatus(stderrors.New("boom")))
	require.NoError(t, err)
	assert.Equal(t, codes.Internal, e.Code)

	_, err = DecodeStatus([]byte{0, 0, 0, 5, 0, 0, 0, 9, 'x'})
	assert.ErrorIs(t, err, domain.ErrInvalidFrame)
}
