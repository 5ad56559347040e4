// Package protocol defines the frames carried on a Hub stream.
//
// Every frame is a fixed 9 byte header followed by the payload:
//
//	[type:uint8][messageId:int32][methodId:int32][payload...]
//
// Integers are big-endian. messageId correlates a Request with its
// Response or Error and is zero for frames that expect no reply.
package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/HMasataka/hubrpc/pkg/domain"
)

// FrameType identifies what a frame carries
type FrameType uint8

const (
	// FrameRequest is a call that expects a Response or Error with the same message id
	FrameRequest FrameType = iota + 1
	// FrameNotify is a fire-and-forget call from client to server
	FrameNotify
	// FrameResponse carries the result of a Request
	FrameResponse
	// FrameError carries the status of a failed Request
	FrameError
	// FrameBroadcast is a server push to a client receiver method
	FrameBroadcast
	// FrameHandshake is written once by the server after the connection is accepted
	FrameHandshake
	// FrameHeartbeat is a liveness probe; the payload is echoed back
	FrameHeartbeat
	// FrameHeartbeatAck answers a Heartbeat
	FrameHeartbeatAck
)

// HeaderSize is the size of the fixed frame header
const HeaderSize = 9

func (t FrameType) String() string {
	switch t {
	case FrameRequest:
		return "request"
	case FrameNotify:
		return "notify"
	case FrameResponse:
		return "response"
	case FrameError:
		return "error"
	case FrameBroadcast:
		return "broadcast"
	case FrameHandshake:
		return "handshake"
	case FrameHeartbeat:
		return "heartbeat"
	case FrameHeartbeatAck:
		return "heartbeat_ack"
	default:
		return fmt.Sprintf("frame(%d)", uint8(t))
	}
}

// Valid reports whether t is a known frame type
func (t FrameType) Valid() bool {
	return t >= FrameRequest && t <= FrameHeartbeatAck
}

// IsReply reports whether the frame resolves a pending call
func (t FrameType) IsReply() bool {
	return t == FrameResponse || t == FrameError
}

// Frame is one unit of transmission on a Hub stream
type Frame struct {
	Type      FrameType
	MessageID int32
	MethodID  int32
	Payload   []byte
}

// Marshal encodes the frame
func (f *Frame) Marshal() []byte {
	buf := make([]byte, HeaderSize+len(f.Payload))
	buf[0] = byte(f.Type)
	binary.BigEndian.PutUint32(buf[1:5], uint32(f.MessageID))
	binary.BigEndian.PutUint32(buf[5:9], uint32(f.MethodID))
	copy(buf[HeaderSize:], f.Payload)
	return buf
}

// Unmarshal decodes a frame. The payload aliases data.
func Unmarshal(data []byte) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", domain.ErrInvalidFrame, len(data))
	}

	t := FrameType(data[0])
	if !t.Valid() {
		return nil, fmt.Errorf("%w: unknown frame type %d", domain.ErrInvalidFrame, data[0])
	}

	return &Frame{
		Type:      t,
		MessageID: int32(binary.BigEndian.Uint32(data[1:5])),
		MethodID:  int32(binary.BigEndian.Uint32(data[5:9])),
		Payload:   data[HeaderSize:],
	}, nil
}
