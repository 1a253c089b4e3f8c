package codec

import (
	"math"
	"unicode/utf16"
	"unicode/utf8"

	cerr "github.com/canonabi/cabihost/errors"
)

// MaxStringBytes is the maximum encoded byte length the codec accepts;
// storing a string whose encoded bytes exceed it traps.
const MaxStringBytes = 1<<31 - 1

const (
	canonicalNaN32 = 0x7FC00000
	canonicalNaN64 = 0x7FF8000000000000
)

// CanonicalizeF32Bits replaces any NaN payload with the canonical NaN
// bit pattern, per spec.md section 4.2.
func CanonicalizeF32Bits(bits uint32) uint32 {
	f := math.Float32frombits(bits)
	if f != f {
		return canonicalNaN32
	}
	return bits
}

// CanonicalizeF64Bits is CanonicalizeF32Bits's 64-bit counterpart.
func CanonicalizeF64Bits(bits uint64) uint64 {
	f := math.Float64frombits(bits)
	if f != f {
		return canonicalNaN64
	}
	return bits
}

// TagCodeUnits packs a code-unit count with the high bit set when the
// buffer is UTF-16 (the Latin-1/UTF-16 adaptive encoding's length word,
// spec.md section 4.2).
func TagCodeUnits(n uint32, isUTF16 bool) uint32 {
	if isUTF16 {
		return n | 0x8000_0000
	}
	return n
}

// UntagCodeUnits splits a tagged length word back into its count and
// UTF-16 flag.
func UntagCodeUnits(tagged uint32) (n uint32, isUTF16 bool) {
	return tagged &^ 0x8000_0000, tagged&0x8000_0000 != 0
}

// EncodeLatin1UTF16Adaptive implements the adaptive writer: every code
// point that fits in Latin-1 is emitted as one byte until the first
// point that does not, at which point already-written bytes are spread
// to 2-byte slots and the remainder is encoded as UTF-16. The returned
// tagged length reflects whichever mode the string ended in.
func EncodeLatin1UTF16Adaptive(trap cerr.TrapFunc, s string) (data []byte, tagged uint32) {
	latin1 := make([]byte, 0, len(s))
	units := uint32(0)
	for i, r := range s {
		if r <= 0xFF && r != utf8.RuneError {
			latin1 = append(latin1, byte(r))
			units++
			continue
		}
		// Promote: spread existing Latin-1 bytes to UTF-16 code units,
		// then encode the rest (starting at this rune) as UTF-16.
		u16 := make([]uint16, 0, len(latin1)+len(s)-i)
		for _, b := range latin1 {
			u16 = append(u16, uint16(b))
		}
		u16 = append(u16, utf16.Encode([]rune(s[i:]))...)

		buf := make([]byte, len(u16)*2)
		for j, v := range u16 {
			buf[j*2] = byte(v)
			buf[j*2+1] = byte(v >> 8)
		}
		cerr.TrapIf(trap, len(buf) > MaxStringBytes, cerr.PhaseEncode, cerr.KindOverflow, "string exceeds maximum encoded length")
		return buf, TagCodeUnits(uint32(len(u16)), true)
	}
	cerr.TrapIf(trap, len(latin1) > MaxStringBytes, cerr.PhaseEncode, cerr.KindOverflow, "string exceeds maximum encoded length")
	return latin1, TagCodeUnits(units, false)
}

// DecodeLatin1UTF16Adaptive inverts EncodeLatin1UTF16Adaptive, selecting
// the decoder from the tagged length's high bit.
func DecodeLatin1UTF16Adaptive(trap cerr.TrapFunc, data []byte, tagged uint32) string {
	n, isUTF16 := UntagCodeUnits(tagged)
	if !isUTF16 {
		cerr.TrapIf(trap, uint32(len(data)) != n, cerr.PhaseDecode, cerr.KindOutOfBounds, "latin-1 buffer length mismatch")
		runes := make([]rune, len(data))
		for i, b := range data {
			runes[i] = rune(b)
		}
		return string(runes)
	}

	cerr.TrapIf(trap, uint32(len(data)) != n*2, cerr.PhaseDecode, cerr.KindOutOfBounds, "utf-16 buffer length mismatch")
	u16 := make([]uint16, n)
	for i := range u16 {
		u16[i] = uint16(data[i*2]) | uint16(data[i*2+1])<<8
	}
	return string(utf16.Decode(u16))
}

// Utf16ToUtf8Cap, Utf8ToUtf16Cap, and Latin1ToUtf8Cap return the
// worst-case destination byte capacity of a transcode between the named
// encodings. The codec's own string paths do not use them.
func Utf16ToUtf8Cap(srcUnits int) int { return srcUnits * 3 }
func Utf8ToUtf16Cap(srcBytes int) int { return srcBytes * 2 }
func Latin1ToUtf8Cap(srcBytes int) int { return srcBytes * 2 }

// ValidateChar traps if r is outside the Unicode scalar value range
// (excludes surrogates), per spec.md section 4.2's char validity rule.
func ValidateChar(trap cerr.TrapFunc, r rune) {
	invalid := r > 0x10FFFF || (r >= 0xD800 && r <= 0xDFFF)
	cerr.TrapIf(trap, invalid, cerr.PhaseDecode, cerr.KindInvalidData, "char outside Unicode scalar value range")
}
