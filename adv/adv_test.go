package adv

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeys(n int) [][]byte {
	keys := make([][]byte, n)
	for i := range keys {
		k := make([]byte, 16)
		k[0] = 0x04
		k[1] = byte(i)
		k[15] = byte(i * 7)
		keys[i] = k
	}
	return keys
}

var testAddr = []byte{0x11, 0x22, 0x33, 0x44, 0x55, 0x66}

func TestFilterSize(t *testing.T) {
	assert.Equal(t, 3, FilterSize(0))
	assert.Equal(t, 4, FilterSize(1))
	assert.Equal(t, 5, FilterSize(2))
	assert.Equal(t, 12, FilterSize(8))
}

func TestBloomFilter_NoFalseNegatives(t *testing.T) {
	for n := 1; n <= 8; n++ {
		keys := testKeys(n)
		for _, salt := range [][]byte{testAddr, {0x5a}} {
			f := BuildAccountKeyFilter(keys, salt, nil)
			require.Len(t, f, FilterSize(n))
			for _, k := range keys {
				assert.True(t, MightContain(f, k, salt, nil), "n=%d salt=%x", n, salt)
			}
		}
	}
}

func TestBloomFilter_BatteryFoldedIntoHash(t *testing.T) {
	keys := testKeys(1)
	bat, err := BatteryFrame([]Battery{{Level: 80}, {Level: 75}, {Charging: true, Level: 40}}, false)
	require.NoError(t, err)

	f := BuildAccountKeyFilter(keys, []byte{0x01}, bat)
	assert.True(t, MightContain(f, keys[0], []byte{0x01}, bat))

	tampered := append([]byte{}, bat...)
	tampered[1] = 100
	assert.False(t, MightContain(f, keys[0], []byte{0x01}, tampered))
}

func TestBatteryFrame(t *testing.T) {
	b, err := BatteryFrame([]Battery{{Level: 100}, {Charging: true, Level: 5}, {Level: -1}}, false)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x33, 0x64, 0x85, 0x7f}, b)

	b, err = BatteryFrame([]Battery{{Level: 50}}, true)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x14, 0x32}, b)

	b, err = BatteryFrame(nil, false)
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestModelIDPayload(t *testing.T) {
	id := ModelIDBytes(0x00000C)
	assert.Equal(t, []byte{0x00, 0x00, 0x0C}, id)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, ModelIDBytes(0x01020304))

	assert.Equal(t, id, ModelIDPayload(id, false))
	assert.Equal(t, []byte{0x06, 0x00, 0x00, 0x0C}, ModelIDPayload(id, true))
}

func TestAdvertiser_PayloadSelection(t *testing.T) {
	a := NewAdvertiser(AdvertiserConfig{ModelID: 0xAABBCC, BLEAddress: testAddr}, nil)
	keys := testKeys(2)

	p, err := a.Payload(true, keys)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, p)

	p, err = a.Payload(false, keys)
	require.NoError(t, err)
	require.Len(t, p, 2+FilterSize(2))
	assert.Equal(t, byte(0x00), p[0])
	assert.Equal(t, byte(FilterSize(2)<<4), p[1])

	sd, err := DecodeServiceData(p)
	require.NoError(t, err)
	assert.Nil(t, sd.Salt, "address salt is not advertised")
	for _, k := range keys {
		assert.True(t, MightContain(sd.Filter, k, testAddr, nil))
	}

	p, err = a.Payload(false, nil)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestAdvertiser_RandomSaltWithBattery(t *testing.T) {
	bat := []Battery{{Level: 90}, {Level: 85}, {Charging: true, Level: 30}}
	a := NewAdvertiser(AdvertiserConfig{ModelID: 0x0A0B0C, BLEAddress: testAddr, Battery: bat}, nil)
	keys := testKeys(3)

	p, err := a.Payload(false, keys)
	require.NoError(t, err)

	sd, err := DecodeServiceData(p)
	require.NoError(t, err)
	require.True(t, sd.AccountKeyData)
	require.Len(t, sd.Salt, 1, "battery forces a random, advertised salt")
	assert.Equal(t, bat, sd.Battery)
	for _, k := range keys {
		assert.True(t, MightContain(sd.Filter, k, sd.Salt, sd.BatteryFrame))
	}

	p, err = a.Payload(true, keys)
	require.NoError(t, err)
	sd, err = DecodeServiceData(p)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0A, 0x0B, 0x0C}, sd.ModelID)
	assert.Equal(t, bat, sd.Battery)
}

type recordingSink struct {
	published [][]byte
}

func (r *recordingSink) Advertise(b []byte) error {
	r.published = append(r.published, b)
	return nil
}

func TestAdvertiser_RefreshPublishesChanges(t *testing.T) {
	sink := &recordingSink{}
	a := NewAdvertiser(AdvertiserConfig{ModelID: 0x123456, BLEAddress: testAddr}, sink)

	_, err := a.Refresh(true, nil)
	require.NoError(t, err)
	_, err = a.Refresh(true, nil)
	require.NoError(t, err)
	require.Len(t, sink.published, 1)

	_, err = a.Refresh(false, testKeys(1))
	require.NoError(t, err)
	require.Len(t, sink.published, 2)
	assert.Equal(t, byte(0x00), sink.published[1][0])

	_, err = a.Refresh(false, nil)
	require.NoError(t, err)
	require.Len(t, sink.published, 3)
	assert.Nil(t, sink.published[2])
}

func TestPacket_BuildAndParse(t *testing.T) {
	svc := []byte{0x00, 0x40, 0x01, 0x02, 0x03, 0x04}
	p, err := NewPacket(Flags(FlagGeneralDiscoverable), ServiceData16(ServiceUUID, svc), TxPower(-12))
	require.NoError(t, err)

	parsed, err := Parse(p.Bytes())
	require.NoError(t, err)

	f, ok := parsed.Flags()
	assert.True(t, ok)
	assert.Equal(t, byte(FlagGeneralDiscoverable), f)

	d, ok := parsed.ServiceData(ServiceUUID)
	require.True(t, ok)
	assert.Equal(t, svc, d)

	pwr, ok := parsed.TxPower()
	assert.True(t, ok)
	assert.Equal(t, -12, pwr)
}

func TestPacket_NotFit(t *testing.T) {
	_, err := NewPacket(Flags(0x06), ServiceData16(ServiceUUID, bytes.Repeat([]byte{1}, 30)))
	assert.Equal(t, ErrNotFit, err)
}

func TestParse_Overflow(t *testing.T) {
	_, err := Parse([]byte{0x05, 0x16, 0x2c})
	assert.Error(t, err)

	_, err = Parse(nil)
	assert.Equal(t, EmptyOrNilPdu, err)
}
