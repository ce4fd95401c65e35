package sliceops

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSwapBuf(t *testing.T) {
	in := []byte{1, 2, 3, 4, 5, 6}
	assert.Equal(t, []byte{6, 5, 4, 3, 2, 1}, SwapBuf(in))
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, in)
	assert.Equal(t, []byte{}, SwapBuf(nil))
}

func TestUint24(t *testing.T) {
	assert.Equal(t, []byte{0x04, 0x04, 0x24}, Uint24(0x240404))
	assert.Equal(t, []byte{0xff, 0xff, 0xff}, Uint24(0x12ffffff))
}
