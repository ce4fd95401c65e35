package adv

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Field type nibbles of the account key data frames.
const (
	filterShowUI   = 0x0
	filterHideUI   = 0x2
	saltFieldType  = 0x1
	batteryShowUI  = 0x3
	batteryHideUI  = 0x4
	accountKeyData = 0x00

	unknownBatteryLevel = 0x7f
	maxNibble           = 0x0f
)

// Battery is one battery component value.
type Battery struct {
	Charging bool
	// Level in percent; a negative level is advertised as unknown.
	Level int
}

func (b Battery) encode() byte {
	lvl := byte(unknownBatteryLevel)
	if b.Level >= 0 && b.Level <= 100 {
		lvl = byte(b.Level)
	}
	if b.Charging {
		lvl |= 0x80
	}
	return lvl
}

// ModelIDBytes encodes a model ID as 3 bytes, or 4 when it does not fit.
func ModelIDBytes(id uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, id)
	if id < 1<<24 {
		return b[1:]
	}
	return b
}

// ModelIDPayload returns the discoverable payload. When battery values are
// advertised next to it, the model ID is prefixed with its length byte.
func ModelIDPayload(modelID []byte, withBattery bool) []byte {
	if !withBattery {
		return append([]byte{}, modelID...)
	}
	return append([]byte{byte(len(modelID) << 1)}, modelID...)
}

// BatteryFrame returns [count<<4 | type] followed by one byte per value.
func BatteryFrame(values []Battery, suppress bool) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}
	if len(values) > maxNibble {
		return nil, errors.Errorf("too many battery values: %d", len(values))
	}

	typ := byte(batteryShowUI)
	if suppress {
		typ = batteryHideUI
	}

	out := []byte{byte(len(values))<<4 | typ}
	for _, v := range values {
		out = append(out, v.encode())
	}
	return out, nil
}

// AccountKeyFrame returns [size<<4 | type] || filter, followed by the salt
// field when includeSalt is set.
func AccountKeyFrame(keys [][]byte, salt, battery []byte, suppress, includeSalt bool) ([]byte, error) {
	size := FilterSize(len(keys))
	if size > maxNibble {
		return nil, errors.Errorf("bloom filter of %d bytes does not fit the length field", size)
	}

	typ := byte(filterShowUI)
	if suppress {
		typ = filterHideUI
	}

	out := []byte{byte(size)<<4 | typ}
	out = append(out, BuildAccountKeyFilter(keys, salt, battery)...)
	if includeSalt {
		out = append(out, byte(len(salt))<<4|saltFieldType)
		out = append(out, salt...)
	}
	return out, nil
}

// ServiceData is a decoded Fast Pair service data payload.
type ServiceData struct {
	ModelID []byte

	Filter         []byte
	FilterHideUI   bool
	Salt           []byte
	BatteryFrame   []byte
	Battery        []Battery
	BatteryHideUI  bool
	AccountKeyData bool
}

// DecodeServiceData parses either payload form built by the Advertiser.
func DecodeServiceData(b []byte) (*ServiceData, error) {
	switch {
	case len(b) == 0:
		return nil, EmptyOrNilPdu
	case len(b) == 3 || len(b) == 4:
		return &ServiceData{ModelID: append([]byte{}, b...)}, nil
	case b[0] != accountKeyData:
		n := int(b[0] >> 1)
		if n != 3 && n != 4 || len(b) < 1+n {
			return nil, errors.Errorf("invalid model id header 0x%02x", b[0])
		}
		sd := &ServiceData{ModelID: append([]byte{}, b[1:1+n]...)}
		return sd, sd.decodeFrames(b[1+n:])
	}

	sd := &ServiceData{AccountKeyData: true}
	return sd, sd.decodeFrames(b[1:])
}

func (sd *ServiceData) decodeFrames(b []byte) error {
	for i := 0; i < len(b); {
		n := int(b[i] >> 4)
		typ := b[i] & 0x0f
		if i+1+n > len(b) {
			return errors.Errorf("frame type %v overflows payload, idx %v", typ, i)
		}
		data := b[i+1 : i+1+n]

		switch typ {
		case filterShowUI, filterHideUI:
			sd.Filter = append([]byte{}, data...)
			sd.FilterHideUI = typ == filterHideUI
		case saltFieldType:
			sd.Salt = append([]byte{}, data...)
		case batteryShowUI, batteryHideUI:
			sd.BatteryFrame = append([]byte{}, b[i:i+1+n]...)
			sd.BatteryHideUI = typ == batteryHideUI
			for _, v := range data {
				lvl := int(v & 0x7f)
				if lvl == unknownBatteryLevel {
					lvl = -1
				}
				sd.Battery = append(sd.Battery, Battery{Charging: v&0x80 != 0, Level: lvl})
			}
		default:
			return errors.Errorf("unknown frame type %v, idx %v", typ, i)
		}

		i += 1 + n
	}
	return nil
}
