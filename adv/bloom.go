package adv

import (
	"crypto/sha256"
	"encoding/binary"
)

// FilterSize returns floor(1.2*n)+3, the bloom filter length in bytes for n
// account keys.
func FilterSize(n int) int {
	return n*6/5 + 3
}

// BuildAccountKeyFilter builds the account key bloom filter. Every key is
// hashed together with salt and, when advertised, the battery frame, so a
// tampered battery value breaks membership.
func BuildAccountKeyFilter(keys [][]byte, salt, battery []byte) []byte {
	f := make([]byte, FilterSize(len(keys)))
	for _, k := range keys {
		insert(f, k, salt, battery)
	}
	return f
}

// MightContain reports whether key is a probable member of filter.
func MightContain(filter, key, salt, battery []byte) bool {
	if len(filter) == 0 {
		return false
	}

	bits := uint32(len(filter) * 8)
	for _, x := range hashWords(key, salt, battery) {
		m := x % bits
		if filter[m/8]&(1<<(m%8)) == 0 {
			return false
		}
	}
	return true
}

func insert(f, key, salt, battery []byte) {
	bits := uint32(len(f) * 8)
	for _, x := range hashWords(key, salt, battery) {
		m := x % bits
		f[m/8] |= 1 << (m % 8)
	}
}

func hashWords(key, salt, battery []byte) [8]uint32 {
	h := sha256.New()
	h.Write(key)
	h.Write(salt)
	h.Write(battery)
	sum := h.Sum(nil)

	var out [8]uint32
	for i := range out {
		out[i] = binary.BigEndian.Uint32(sum[i*4:])
	}
	return out
}
