// Package samples converts between the raw byte stream of a decompressed
// chunk and typed sample slices: multi-byte samples honor the file byte
// order, sub-byte depths are packed MSB-first with byte-aligned rows, and
// WhiteIsZero photometric inversion flips values bit-exactly per the
// declared sample width.
package samples

import (
	"encoding/binary"
	"math"

	"github.com/mrjoshuak/go-tiff/internal/bitio"
)

type word16 interface{ ~uint16 | ~int16 }
type word32 interface{ ~uint32 | ~int32 }
type word64 interface{ ~uint64 | ~int64 }

// Unpack16 decodes len(dst) 16-bit samples from src.
func Unpack16[T word16](dst []T, src []byte, order binary.ByteOrder) {
	for i := range dst {
		dst[i] = T(order.Uint16(src[2*i:]))
	}
}

// Unpack32 decodes len(dst) 32-bit samples from src.
func Unpack32[T word32](dst []T, src []byte, order binary.ByteOrder) {
	for i := range dst {
		dst[i] = T(order.Uint32(src[4*i:]))
	}
}

// Unpack64 decodes len(dst) 64-bit samples from src.
func Unpack64[T word64](dst []T, src []byte, order binary.ByteOrder) {
	for i := range dst {
		dst[i] = T(order.Uint64(src[8*i:]))
	}
}

// Pack16 encodes src into dst, two bytes per sample.
func Pack16[T word16](dst []byte, src []T, order binary.ByteOrder) {
	for i, v := range src {
		order.PutUint16(dst[2*i:], uint16(v))
	}
}

// Pack32 encodes src into dst, four bytes per sample.
func Pack32[T word32](dst []byte, src []T, order binary.ByteOrder) {
	for i, v := range src {
		order.PutUint32(dst[4*i:], uint32(v))
	}
}

// Pack64 encodes src into dst, eight bytes per sample.
func Pack64[T word64](dst []byte, src []T, order binary.ByteOrder) {
	for i, v := range src {
		order.PutUint64(dst[8*i:], uint64(v))
	}
}

// UnpackF32 decodes len(dst) IEEE singles from src.
func UnpackF32(dst []float32, src []byte, order binary.ByteOrder) {
	for i := range dst {
		dst[i] = math.Float32frombits(order.Uint32(src[4*i:]))
	}
}

// UnpackF64 decodes len(dst) IEEE doubles from src.
func UnpackF64(dst []float64, src []byte, order binary.ByteOrder) {
	for i := range dst {
		dst[i] = math.Float64frombits(order.Uint64(src[8*i:]))
	}
}

// PackF32 encodes src into dst, four bytes per sample.
func PackF32(dst []byte, src []float32, order binary.ByteOrder) {
	for i, v := range src {
		order.PutUint32(dst[4*i:], math.Float32bits(v))
	}
}

// PackF64 encodes src into dst, eight bytes per sample.
func PackF64(dst []byte, src []float64, order binary.ByteOrder) {
	for i, v := range src {
		order.PutUint64(dst[8*i:], math.Float64bits(v))
	}
}

// ExpandBits decodes one scanline of bit-packed samples into one sample per
// destination byte. bits must be 1, 2 or 4; samples are packed MSB-first and
// src begins at a byte boundary.
func ExpandBits(dst []uint8, src []byte, bits uint) {
	r := bitio.NewReader(src)
	for i := range dst {
		v, err := r.ReadBits(bits)
		if err != nil {
			return
		}
		dst[i] = uint8(v)
	}
}

// PackBits encodes one scanline of samples, bits per sample, MSB-first,
// padding the final byte with zero bits.
func PackBits(src []uint8, bits uint) []byte {
	w := bitio.NewWriter()
	for _, v := range src {
		w.WriteBits(uint32(v), bits)
	}
	w.Flush()
	return w.Bytes()
}

// InvertUnsigned flips unsigned samples for WhiteIsZero: v becomes max-v for
// the declared bit width. For full-width samples this is the bitwise
// complement; for expanded sub-byte samples only the low bits participate.
func InvertUnsigned[T ~uint8 | ~uint16 | ~uint32 | ~uint64](buf []T, bits uint) {
	mask := ^T(0)
	if uint(len64[T]()) > bits {
		mask = T(1)<<bits - 1
	}
	for i := range buf {
		buf[i] ^= mask
	}
}

// InvertFloat flips IEEE float samples for WhiteIsZero: v becomes 1-v.
func InvertFloat[T ~float32 | ~float64](buf []T) {
	for i := range buf {
		buf[i] = 1 - buf[i]
	}
}

func len64[T ~uint8 | ~uint16 | ~uint32 | ~uint64]() int {
	switch any(T(0)).(type) {
	case uint8:
		return 8
	case uint16:
		return 16
	case uint32:
		return 32
	default:
		return 64
	}
}
