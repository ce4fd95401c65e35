package fastpair

import (
	"github.com/pkg/errors"
)

var (
	// ErrAuthentication covers decrypt, address and tag mismatches. It is
	// never answered on the wire.
	ErrAuthentication = errors.New("authentication failed")

	// ErrFormat covers bad lengths and unknown opcodes. It is never
	// answered on the wire.
	ErrFormat = errors.New("malformed request")

	// ErrTimeout is returned when an operation with a deadline, such as
	// becoming discoverable, did not complete in time.
	ErrTimeout = errors.New("operation timed out")

	// ErrTransport wraps GATT and RFCOMM send failures.
	ErrTransport = errors.New("transport error")

	// ErrAlreadyProvisioned rejects overwriting a beacon identity key that
	// has not been cleared.
	ErrAlreadyProvisioned = errors.New("beacon identity key already provisioned")

	// ErrUnsupported is returned for characteristics the provider does not
	// serve.
	ErrUnsupported = errors.New("not supported")
)

// IsSilent reports whether err must be dropped without any response.
func IsSilent(err error) bool {
	switch errors.Cause(err) {
	case ErrAuthentication, ErrFormat:
		return true
	}
	return false
}
