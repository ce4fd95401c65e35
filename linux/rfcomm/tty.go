package rfcomm

import (
	"io"

	"github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
)

// DefaultBaudRate is nominal; RFCOMM ttys ignore it.
const DefaultBaudRate = 115200

// OpenTTY opens an RFCOMM channel that was bound to a tty such as
// /dev/rfcomm0 with the rfcomm tool.
func OpenTTY(path string, baud uint) (io.ReadWriteCloser, error) {
	if baud == 0 {
		baud = DefaultBaudRate
	}

	opts := serial.OpenOptions{
		PortName:        path,
		BaudRate:        baud,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
	}

	sp, err := serial.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "can't open %v", path)
	}
	return sp, nil
}
