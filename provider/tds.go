package provider

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rigado/fastpair"
	"github.com/rigado/fastpair/sliceops"
)

const (
	tdsOpActivateTransport = 0x01
	tdsOrgBluetoothSIG     = 0x01
)

// TDS control point result codes.
const (
	tdsSuccess         = 0x00
	tdsOpNotSupported  = 0x01
	tdsUnsupportedOrg  = 0x03
	tdsOperationFailed = 0x04
)

const (
	tdsTransportStateOn   = 0x01
	tdsHandoverDataFormat = 0x01
)

func writeTDSControlPoint(s *Simulator, ctx context.Context, dev fastpair.Addr, value []byte) error {
	if len(value) < 2 {
		return errors.Wrapf(fastpair.ErrFormat, "tds control point length %d", len(value))
	}
	op, org := value[0], value[1]

	reply := func(code byte) error {
		return s.notify(ctx, dev, fastpair.TDSControlPointUUID, []byte{op, code}, "tds control point")
	}

	switch {
	case op != tdsOpActivateTransport:
		return reply(tdsOpNotSupported)
	case org != tdsOrgBluetoothSIG:
		return reply(tdsUnsupportedOrg)
	}

	if err := s.becomeDiscoverable(ctx); err != nil {
		if nerr := reply(tdsOperationFailed); nerr != nil {
			s.logger.Warnf("tds reply: %v", nerr)
		}
		return err
	}
	return reply(tdsSuccess)
}

// readBrEdrHandoverData returns the address in over-the-air byte order
// followed by the class of device.
func readBrEdrHandoverData(s *Simulator, dev fastpair.Addr) ([]byte, error) {
	b := []byte{tdsHandoverDataFormat}
	b = append(b, sliceops.SwapBuf(s.config.BrEdrAddress[:])...)
	return append(b, sliceops.Uint24(s.config.ClassOfDevice)...), nil
}

func readBluetoothSigData(s *Simulator, dev fastpair.Addr) ([]byte, error) {
	return []byte{tdsTransportStateOn, 0x00, 0x00}, nil
}
