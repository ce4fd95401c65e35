package rfcomm

import (
	"github.com/rigado/fastpair"
	"github.com/rigado/fastpair/sliceops"
)

// bdaddr converts to the little-endian order the kernel uses.
func bdaddr(a fastpair.Addr) [6]uint8 {
	var b [6]uint8
	copy(b[:], sliceops.SwapBuf(a[:]))
	return b
}

func addrFromBdaddr(b [6]uint8) fastpair.Addr {
	var a fastpair.Addr
	copy(a[:], sliceops.SwapBuf(b[:]))
	return a
}
