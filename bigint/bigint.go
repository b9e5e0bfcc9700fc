// Package bigint implements the fixed-width, base-2^30 limb integers
// the Collatz verifier needs: compare, add-small, triple-plus-one,
// halve, and hex formatting. It intentionally implements nothing more
// than that — there is no general-purpose bignum API here.
package bigint

import (
	"fmt"
	"math/bits"
	"strings"
)

// Limbs is the number of 30-bit limbs held by an Int, giving roughly
// 300 bits of range.
const Limbs = 10

// limbBits is the number of meaningful bits per limb.
const limbBits = 30

// limbMask masks a uint32 down to limbBits bits.
const limbMask = uint32(1)<<limbBits - 1

// Int is a fixed-width unsigned integer: Len nonzero limbs out of a
// fixed backing array. Limbs at or above Len are always zero, and the
// top limb (index Len-1) is nonzero unless the whole value is zero.
type Int struct {
	Len   uint32
	Limbs [Limbs]uint32
}

// Set copies src into dst.
func Set(dst, src *Int) {
	dst.Len = src.Len
	for i := uint32(0); i < src.Len; i++ {
		dst.Limbs[i] = src.Limbs[i]
	}
	for i := src.Len; i < Limbs; i++ {
		dst.Limbs[i] = 0
	}
}

// Cmp returns -1, 0, or 1 as x is less than, equal to, or greater than y.
func Cmp(x, y *Int) int {
	if x.Len != y.Len {
		if x.Len > y.Len {
			return 1
		}
		return -1
	}
	if x.Len == 0 {
		return 0
	}
	for i := int(x.Len) - 1; i >= 0; i-- {
		if x.Limbs[i] != y.Limbs[i] {
			if x.Limbs[i] > y.Limbs[i] {
				return 1
			}
			return -1
		}
	}
	return 0
}

// Equal reports whether x and y represent the same value.
func Equal(x, y *Int) bool {
	return Cmp(x, y) == 0
}

// Greater reports whether x > y.
func Greater(x, y *Int) bool {
	return Cmp(x, y) > 0
}

// Add adds a small scalar c to x in place, ripple-carrying through the
// limbs. It reports whether a carry remained past the top limb with no
// room for another limb -- the original firmware's `rl_overflow`
// condition. On overflow x is left in an undefined state.
func Add(x *Int, c uint32) bool {
	for i := uint32(0); i < x.Len; i++ {
		r := x.Limbs[i] + c
		c = r >> limbBits
		x.Limbs[i] = r & limbMask
		if c == 0 {
			return false
		}
	}
	if c == 0 {
		return false
	}
	if x.Len >= Limbs {
		return true
	}
	x.Limbs[x.Len] = c
	x.Len++
	return false
}

// F3N1 computes x <- 3*x + 1 in place via a fused limb-wise multiply
// and carry. Same overflow rule as Add.
func F3N1(x *Int) bool {
	c := uint32(1)
	for i := uint32(0); i < x.Len; i++ {
		r := x.Limbs[i] + (x.Limbs[i] << 1) + c
		c = r >> limbBits
		x.Limbs[i] = r & limbMask
	}
	if c == 0 {
		return false
	}
	if x.Len >= Limbs {
		return true
	}
	x.Limbs[x.Len] = c
	x.Len++
	return false
}

// FDiv2 divides x by the largest power of two dividing it, i.e. it
// shifts out every trailing zero bit in one pass, possibly across
// limb boundaries, and renormalizes Len by dropping top zero limbs.
// FDiv2 on zero is a no-op.
func FDiv2(x *Int) {
	if x.Len == 0 {
		return
	}

	// Shift out whole-zero low limbs first.
	if x.Limbs[0] == 0 {
		k := uint32(1)
		for k < x.Len && x.Limbs[k] == 0 {
			k++
		}
		if k == x.Len {
			// x was entirely zero.
			x.Len = 0
			return
		}
		i := uint32(0)
		for k < x.Len {
			x.Limbs[i] = x.Limbs[k]
			i++
			k++
		}
		for j := i; j < x.Len; j++ {
			x.Limbs[j] = 0
		}
		x.Len = i
	}

	// Shift out the remaining low zero bits of the new bottom limb.
	k := bits.TrailingZeros32(x.Limbs[0])
	if k > 0 {
		p := limbBits - uint32(k)
		for i := uint32(1); i < x.Len; i++ {
			x.Limbs[i-1] = (x.Limbs[i]<<p)&limbMask | (x.Limbs[i-1] >> uint32(k))
		}
		x.Limbs[x.Len-1] >>= uint32(k)
		for x.Len > 0 && x.Limbs[x.Len-1] == 0 {
			x.Len--
		}
	}
}

// String renders x as a lowercase hexadecimal string with no leading
// zeroes (and "0" for the zero value), matching the original
// firmware's rl_str. Limb boundaries (30 bits) don't align with hex
// nibbles (4 bits), so digits are assembled from a running bit
// accumulator spanning the whole limb stream, most-significant limb
// first -- exactly the bit-at-a-time approach rl_str used. The stream
// is padded at the top with leading zero bits so that nibbles line up
// with bit 0.
func (x *Int) String() string {
	var sb strings.Builder
	var acc uint32
	nbits := (4 - int(x.Len)*limbBits%4) % 4
	started := false
	for i := int(x.Len) - 1; i >= 0; i-- {
		for b := limbBits - 1; b >= 0; b-- {
			acc = acc<<1 | (x.Limbs[i]>>uint32(b))&1
			nbits++
			if nbits == 4 {
				if acc != 0 {
					started = true
				}
				if started {
					sb.WriteByte("0123456789abcdef"[acc])
				}
				acc = 0
				nbits = 0
			}
		}
	}
	if nbits > 0 {
		acc <<= uint32(4 - nbits)
		if acc != 0 {
			started = true
		}
		if started {
			sb.WriteByte("0123456789abcdef"[acc])
		}
	}
	if sb.Len() == 0 {
		return "0"
	}
	return sb.String()
}

// GoString supports %#v and debugging output.
func (x *Int) GoString() string {
	return fmt.Sprintf("bigint.Int{%s}", x.String())
}
