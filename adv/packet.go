package adv

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// MaxEIRPacketLength is the legacy advertising data limit.
const MaxEIRPacketLength = 31

// Advertising flag bits.
const (
	FlagLimitedDiscoverable = 0x01
	FlagGeneralDiscoverable = 0x02
	FlagBREDRNotSupported   = 0x04
)

var (
	ErrNotFit     = errors.New("field does not fit in the advertising packet")
	EmptyOrNilPdu = errors.New("nil/empty pdu")
)

// https://www.bluetooth.org/en-us/specification/assigned-numbers/generic-access-profile
var types = struct {
	flags      byte
	uuid16inc  byte
	uuid16comp byte
	nameshort  byte
	namecomp   byte
	txpwr      byte
	svc16      byte
	mfgdata    byte
}{
	flags:      0x01,
	uuid16inc:  0x02,
	uuid16comp: 0x03,
	nameshort:  0x08,
	namecomp:   0x09,
	txpwr:      0x0a,
	svc16:      0x16,
	mfgdata:    0xff,
}

// Packet is an advertising packet or scan response, built from Fields or
// decoded by Parse.
type Packet struct {
	b []byte

	records map[byte][]byte
	svc16   map[uint16][]byte
}

// Bytes returns the bytes of the packet.
func (p *Packet) Bytes() []byte {
	return p.b
}

// Len returns the length of the packet.
func (p *Packet) Len() int {
	return len(p.b)
}

// NewPacket returns a new advertising Packet.
func NewPacket(fields ...Field) (*Packet, error) {
	p := &Packet{b: make([]byte, 0, MaxEIRPacketLength)}
	for _, f := range fields {
		if err := f(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Field is an advertising field which can be appended to a packet.
type Field func(p *Packet) error

// Append appends a field to the packet. It returns ErrNotFit if the field
// doesn't fit into the packet, and leaves the packet intact.
func (p *Packet) Append(f Field) error {
	return f(p)
}

func (p *Packet) append(typ byte, b []byte) error {
	if p.Len()+1+1+len(b) > MaxEIRPacketLength {
		return ErrNotFit
	}
	p.b = append(p.b, byte(len(b)+1))
	p.b = append(p.b, typ)
	p.b = append(p.b, b...)
	return nil
}

// Flags is a flags.
func Flags(f byte) Field {
	return func(p *Packet) error {
		return p.append(types.flags, []byte{f})
	}
}

// CompleteName is a compelete local name.
func CompleteName(n string) Field {
	return func(p *Packet) error {
		return p.append(types.namecomp, []byte(n))
	}
}

// TxPower is the advertised transmit power level.
func TxPower(dbm int8) Field {
	return func(p *Packet) error {
		return p.append(types.txpwr, []byte{byte(dbm)})
	}
}

// AllUUID16 is a complete list holding one 16-bit service UUID.
func AllUUID16(id uint16) Field {
	return func(p *Packet) error {
		return p.append(types.uuid16comp, []byte{uint8(id), uint8(id >> 8)})
	}
}

// ServiceData16 is service data for a 16bit service uuid
func ServiceData16(id uint16, b []byte) Field {
	return func(p *Packet) error {
		d := append([]byte{uint8(id), uint8(id >> 8)}, b...)
		return p.append(types.svc16, d)
	}
}

// Parse decodes the AD structures of an advertising packet.
func Parse(pdu []byte) (*Packet, error) {
	if len(pdu) == 0 {
		return nil, EmptyOrNilPdu
	}

	p := &Packet{
		b:       append([]byte{}, pdu...),
		records: make(map[byte][]byte),
		svc16:   make(map[uint16][]byte),
	}

	for i := 0; (i + 1) < len(pdu); {
		//length @ offset 0
		//type @ offset 1
		//data @ 2 - length
		length := int(pdu[i])
		typ := pdu[i+1]

		//length should be at least 1 since there is a type byte
		if length < 1 {
			return p, errors.Errorf("invalid record length %v, idx %v", length, i)
		}

		//do we have all the bytes for the payload?
		if (i + length) >= len(pdu) {
			return p, errors.Errorf("buffer overflow: want %v, have %v, idx %v", i+length, len(pdu), i)
		}

		start := i + 2
		end := start + length - 1
		data := make([]byte, end-start)
		copy(data, pdu[start:end])

		if typ == types.svc16 {
			if len(data) < 2 {
				return p, errors.Errorf("adv type %v: min length 2, have %v, idx %v", typ, len(data), i)
			}
			p.svc16[binary.LittleEndian.Uint16(data)] = data[2:]
		} else {
			p.records[typ] = append(p.records[typ], data...)
		}

		i += length + 1
	}

	return p, nil
}

// Flags returns the flags of the packet.
func (p *Packet) Flags() (flags byte, present bool) {
	if b, ok := p.records[types.flags]; ok && len(b) > 0 {
		return b[0], true
	}
	return 0, false
}

// LocalName returns the ShortName or CompleteName if it presents.
func (p *Packet) LocalName() string {
	if b, ok := p.records[types.namecomp]; ok {
		return string(b)
	}
	return string(p.records[types.nameshort])
}

// TxPower returns the TxPower, if it presents.
func (p *Packet) TxPower() (power int, present bool) {
	if b, ok := p.records[types.txpwr]; ok && len(b) > 0 {
		return int(int8(b[0])), true
	}
	return 0, false
}

// ServiceData returns the service data advertised for a 16-bit UUID.
func (p *Packet) ServiceData(id uint16) ([]byte, bool) {
	d, ok := p.svc16[id]
	return d, ok
}
