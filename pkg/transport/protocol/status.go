package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/HMasataka/hubrpc/pkg/domain"
	"github.com/HMasataka/hubrpc/pkg/errors"
	"google.golang.org/grpc/codes"
)

// EncodeStatus builds the payload of an Error frame:
//
//	[code:uint32][messageLen:uint32][message][detail]
func EncodeStatus(err error) []byte {
	e := errors.FromError(err)

	buf := make([]byte, 8, 8+len(e.Message)+len(e.Details))
	binary.BigEndian.PutUint32(buf[0:4], uint32(e.Code))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(e.Message)))
	buf = append(buf, e.Message...)
	buf = append(buf, e.Details...)
	return buf
}

// DecodeStatus parses an Error frame payload back into a status error.
func DecodeStatus(payload []byte) (*errors.Error, error) {
	if len(payload) < 8 {
		return nil, fmt.Errorf("%w: status payload too short", domain.ErrInvalidFrame)
	}

	code := codes.Code(binary.BigEndian.Uint32(payload[0:4]))
	n := binary.BigEndian.Uint32(payload[4:8])
	if uint64(n) > uint64(len(payload)-8) {
		return nil, fmt.Errorf("%w: status message length %d out of range", domain.ErrInvalidFrame, n)
	}

	e := errors.Status(code, string(payload[8:8+n]))
	if detail := payload[8+n:]; len(detail) > 0 {
		e.Details = string(detail)
	}
	return e, nil
}
