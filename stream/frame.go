package stream

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/pkg/errors"
)

const headerLen = 4

// Frame is one message of the stream: group(1) code(1) len(2, big endian)
// payload.
type Frame struct {
	Group   byte
	Code    byte
	Payload []byte
}

func (f Frame) String() string {
	return fmt.Sprintf("group %#02x code %#02x payload %x", f.Group, f.Code, f.Payload)
}

func (f Frame) Marshal() ([]byte, error) {
	if len(f.Payload) > math.MaxUint16 {
		return nil, errors.Errorf("payload too long: %d", len(f.Payload))
	}

	b := make([]byte, headerLen+len(f.Payload))
	b[0] = f.Group
	b[1] = f.Code
	binary.BigEndian.PutUint16(b[2:], uint16(len(f.Payload)))
	copy(b[headerLen:], f.Payload)
	return b, nil
}

// ReadFrame reads exactly one frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}

	f := Frame{Group: hdr[0], Code: hdr[1]}
	n := binary.BigEndian.Uint16(hdr[2:])
	if n > 0 {
		f.Payload = make([]byte, n)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return Frame{}, errors.Wrapf(err, "short payload for %v/%v", f.Group, f.Code)
		}
	}

	return f, nil
}

func ack(group, code byte, extra ...byte) Frame {
	return Frame{
		Group:   GroupAcknowledgement,
		Code:    CodeAck,
		Payload: append([]byte{group, code}, extra...),
	}
}
