package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func genFrame(t *rapid.T) Frame {
	var f Frame
	f.Source = NodeID(rapid.IntRange(1, 254).Draw(t, "source"))
	f.Destination = NodeID(rapid.IntRange(1, 254).Draw(t, "destination"))
	f.Control = Control(rapid.IntRange(0, 6).Draw(t, "control"))
	reserved := rapid.SliceOfN(rapid.Byte(), offReservedLen, offReservedLen).Draw(t, "reserved")
	copy(f.Reserved[:], reserved)
	contents := rapid.SliceOfN(rapid.Byte(), ContentsSize, ContentsSize).Draw(t, "contents")
	copy(f.Contents[:], contents)
	return f
}

// TestRoundTrip covers property 1: for all valid tuples, serialize
// then deserialize returns the original, and Valid(serialize(x)) is true.
func TestRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		f := genFrame(t)
		buf := Encode(&f)
		require.True(t, Valid(buf[:]))

		got, err := Decode(buf[:])
		require.NoError(t, err)
		assert.Equal(t, f.Source, got.Source)
		assert.Equal(t, f.Destination, got.Destination)
		assert.Equal(t, f.Control, got.Control)
		assert.Equal(t, f.Reserved, got.Reserved)
		assert.Equal(t, f.Contents, got.Contents)
	})
}

// TestBitFlipInvalidates covers the rest of property 1: flipping any
// single bit, including the checksum byte, invalidates the frame.
func TestBitFlipInvalidates(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		f := genFrame(t)
		buf := Encode(&f)
		require.True(t, Valid(buf[:]))

		byteIdx := rapid.IntRange(0, FrameSize-1).Draw(t, "byteIdx")
		bitIdx := rapid.IntRange(0, 7).Draw(t, "bitIdx")
		flipped := buf
		flipped[byteIdx] ^= 1 << uint(bitIdx)
		assert.False(t, Valid(flipped[:]), "flipping byte %d bit %d did not invalidate frame", byteIdx, bitIdx)
	})
}

// TestChecksumExcludesItself covers property 2: the checksum byte
// itself does not participate in its own computation.
func TestChecksumExcludesItself(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		f := genFrame(t)
		buf := Encode(&f)
		want := checksum(&buf)

		altered := buf
		altered[offChecksum] = ^altered[offChecksum]
		assert.Equal(t, want, checksum(&altered))
	})
}

func TestWrongLengthInvalid(t *testing.T) {
	assert.False(t, Valid(make([]byte, FrameSize-1)))
	assert.False(t, Valid(make([]byte, FrameSize+1)))
}

func TestWrongVersionInvalid(t *testing.T) {
	var f Frame
	f.Source, f.Destination = 1, 2
	buf := Encode(&f)
	buf[offVersion] = 0x00
	assert.False(t, Valid(buf[:]))
}

func TestAppHeaderRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h := AppHeader{
			Type:      uint16(rapid.IntRange(1, 65535).Draw(t, "type")),
			Length:    uint8(rapid.IntRange(0, MaxPayload).Draw(t, "length")),
			Direction: uint8(rapid.IntRange(0, 1).Draw(t, "direction")),
		}
		contents := EncodeAppHeader(h)
		got := DecodeAppHeader(contents)
		assert.Equal(t, h, got)
	})
}
