package fastpair

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// AddrLen is the length of a Bluetooth device address.
const AddrLen = 6

// Addr is a Bluetooth device address in the most-significant-byte-first order
// it is written in (AA:BB:CC:DD:EE:FF) and carried in Fast Pair messages.
type Addr [AddrLen]byte

// ParseAddr parses "AA:BB:CC:DD:EE:FF" or "aabbccddeeff".
func ParseAddr(s string) (Addr, error) {
	var a Addr

	hexStr := strings.Replace(s, ":", "", -1)
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return a, errors.Wrapf(err, "invalid address %q", s)
	}
	if len(b) != AddrLen {
		return a, errors.Errorf("invalid address length %q", s)
	}

	copy(a[:], b)
	return a, nil
}

// MustParseAddr is ParseAddr for constants; it panics on error.
func MustParseAddr(s string) Addr {
	a, err := ParseAddr(s)
	if err != nil {
		panic(err)
	}
	return a
}

// AddrFromBytes copies b into an Addr.
func AddrFromBytes(b []byte) (Addr, error) {
	var a Addr
	if len(b) != AddrLen {
		return a, errors.Errorf("invalid address length %d", len(b))
	}
	copy(a[:], b)
	return a, nil
}

func (a Addr) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

func (a Addr) Bytes() []byte {
	return append([]byte{}, a[:]...)
}

func (a Addr) IsZero() bool {
	return a == Addr{}
}
