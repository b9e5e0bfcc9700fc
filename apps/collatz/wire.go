package collatz

import (
	"encoding/binary"

	"github.com/pinode/mesh/bigint"
)

// AppID is the registered application type for the Collatz verifier.
const AppID = 20

// reportMagic identifies a valid collatz report on the wire, matching
// the original firmware's unterminated 4-byte "f3n1" tag.
var reportMagic = [4]byte{'f', '3', 'n', '1'}

// blockUp flags a report as still travelling toward the root rather
// than having been processed and rebroadcast downward.
const blockUp int16 = 8

// wire layout: magic(4) report_type(2) block_id(2) base_len(4) base_limbs(4*Limbs)
const reportSize = 4 + 2 + 2 + 4 + 4*bigint.Limbs

func magicOK(buf []byte) bool {
	return len(buf) >= 4 && buf[0] == reportMagic[0] && buf[1] == reportMagic[1] &&
		buf[2] == reportMagic[2] && buf[3] == reportMagic[3]
}

// encodeReport serializes a Report plus its up-bound flag to wire bytes.
func encodeReport(r Report, up bool) []byte {
	buf := make([]byte, reportSize)
	copy(buf[0:4], reportMagic[:])

	rt := int16(r.State)
	if up {
		rt |= blockUp
	}
	binary.LittleEndian.PutUint16(buf[4:6], uint16(rt))
	binary.LittleEndian.PutUint16(buf[6:8], uint16(int16(r.BlockID)))

	binary.LittleEndian.PutUint32(buf[8:12], r.Base.Len)
	off := 12
	for i := uint32(0); i < bigint.Limbs; i++ {
		var limb uint32
		if i < r.Base.Len {
			limb = r.Base.Limbs[i]
		}
		binary.LittleEndian.PutUint32(buf[off:off+4], limb)
		off += 4
	}
	return buf
}

// decodeReport parses a wire report. ok is false if the buffer is too
// short or the magic tag doesn't match.
func decodeReport(buf []byte) (r Report, up bool, ok bool) {
	if len(buf) < reportSize || !magicOK(buf) {
		return Report{}, false, false
	}
	rt := int16(binary.LittleEndian.Uint16(buf[4:6]))
	up = rt&blockUp != 0
	r.State = uint8(rt &^ blockUp)
	r.BlockID = int(int16(binary.LittleEndian.Uint16(buf[6:8])))

	r.Base.Len = binary.LittleEndian.Uint32(buf[8:12])
	if r.Base.Len > bigint.Limbs {
		return Report{}, false, false
	}
	off := 12
	for i := uint32(0); i < bigint.Limbs; i++ {
		r.Base.Limbs[i] = binary.LittleEndian.Uint32(buf[off : off+4])
		off += 4
	}
	return r, up, true
}
