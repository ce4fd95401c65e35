// Package sliceops converts between the big-endian order fields are printed
// in and the little-endian order they travel in.
package sliceops

// SwapBuf returns a reversed copy of in.
func SwapBuf(in []byte) []byte {
	out := make([]byte, len(in))
	for i, b := range in {
		out[len(in)-1-i] = b
	}
	return out
}

// Uint24 encodes the low 24 bits of v little-endian, the over the air layout
// of a class of device.
func Uint24(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16)}
}
