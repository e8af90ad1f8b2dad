package smt

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigest_Bit(t *testing.T) {
	var d Digest
	d[0] = 0x80  // most significant bit: height 255
	d[31] = 0x01 // least significant bit: height 0
	d[30] = 0x02 // height 9

	for h := 0; h < TreeHeight; h++ {
		want := uint8(0)
		if h == 0 || h == 9 || h == 255 {
			want = 1
		}
		assert.Equal(t, want, d.Bit(uint16(h)), "height %d", h)
	}
}

func TestDigest_SetClearBit(t *testing.T) {
	var d Digest
	for _, h := range []uint16{0, 7, 8, 100, 255} {
		d.SetBit(h)
		assert.Equal(t, uint8(1), d.Bit(h))
		d.ClearBit(h)
		assert.Equal(t, uint8(0), d.Bit(h))
	}
	assert.True(t, d.IsZero())
}

func TestDigest_ParentPath(t *testing.T) {
	var all Digest
	for i := range all {
		all[i] = 0xff
	}

	tests := []struct {
		height uint16
		want   Digest
	}{
		{height: 0, want: func() Digest { d := all; d[31] = 0xfe; return d }()},
		{height: 7, want: func() Digest { d := all; d[31] = 0x00; return d }()},
		{height: 8, want: func() Digest { d := all; d[31] = 0x00; d[30] = 0xfe; return d }()},
		{height: 254, want: Digest{0: 0x80}},
		{height: 255, want: Digest{}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, all.ParentPath(tt.height), "height %d", tt.height)
	}

	// Every bit above the height is kept, every bit at or below is cleared
	for h := 0; h < TreeHeight; h++ {
		p := all.ParentPath(uint16(h))
		for b := 0; b < TreeHeight; b++ {
			want := uint8(1)
			if b <= h {
				want = 0
			}
			require.Equal(t, want, p.Bit(uint16(b)), "parent path %d bit %d", h, b)
		}
	}
}

func TestDigest_ForkHeight(t *testing.T) {
	tests := []struct {
		name string
		a, b Digest
		want uint16
	}{
		{name: "differ in lowest bit", a: Digest{31: 0x01}, b: Digest{31: 0x00}, want: 0},
		{name: "differ in bit one", a: Digest{31: 0x01}, b: Digest{31: 0x03}, want: 1},
		{name: "differ in second byte", a: Digest{30: 0x10}, b: Digest{31: 0xff}, want: 12},
		{name: "differ in top bit", a: Digest{31: 0x01}, b: Digest{0: 0x80}, want: 255},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.ForkHeight(tt.b))
			assert.Equal(t, tt.want, tt.b.ForkHeight(tt.a))

			// Both keys share the node key of the fork branch and split on its bit
			assert.Equal(t, tt.a.ParentPath(tt.want), tt.b.ParentPath(tt.want))
			assert.NotEqual(t, tt.a.Bit(tt.want), tt.b.Bit(tt.want))
		})
	}

	assert.Panics(t, func() { Digest{1}.ForkHeight(Digest{1}) })
}

func TestBytesToDigest(t *testing.T) {
	d, err := BytesToDigest(make([]byte, DigestSize))
	require.NoError(t, err)
	assert.True(t, d.IsZero())

	for _, n := range []int{0, 31, 33} {
		_, err := BytesToDigest(make([]byte, n))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidKeyOrValueLength))
	}
}

func TestDigest_HexAndText(t *testing.T) {
	d := Digest{0: 0xab, 31: 0x01}
	hex := d.Hex()
	assert.Equal(t, "0xab", hex[:4])
	assert.Len(t, hex, 2+2*DigestSize)

	parsed, err := HexToDigest(hex)
	require.NoError(t, err)
	assert.Equal(t, d, parsed)

	_, err = HexToDigest("0x0102")
	assert.True(t, errors.Is(err, ErrInvalidKeyOrValueLength))
	_, err = HexToDigest("not hex")
	require.Error(t, err)

	data, err := json.Marshal(struct{ D Digest }{D: d})
	require.NoError(t, err)
	assert.Contains(t, string(data), hex)
}

func TestSortDigests(t *testing.T) {
	ds := []Digest{{0: 2}, {31: 1}, {0: 1}, {}}
	SortDigests(ds)
	assert.Equal(t, []Digest{{}, {31: 1}, {0: 1}, {0: 2}}, ds)
}
