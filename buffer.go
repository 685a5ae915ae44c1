package tiff

import (
	"encoding/binary"
	"fmt"

	"github.com/mrjoshuak/go-tiff/internal/predictor"
	"github.com/mrjoshuak/go-tiff/internal/samples"
)

// Samples holds pixel samples in their native typed representation. Exactly
// one of the slices is populated, matched to the sample format and bit
// depth: unsigned depths up to 8 bits land in U8 (sub-byte depths expand to
// one sample per element), 16-bit in U16, and so on. The dispatch happens
// once per chunk, not per sample.
type Samples struct {
	// Format is the declared sample format of the data.
	Format SampleFormat
	// Bits is the declared per-channel bit depth (1, 2, 4, 8, 16, 32 or 64).
	Bits uint8

	U8  []uint8
	U16 []uint16
	U32 []uint32
	U64 []uint64
	I8  []int8
	I16 []int16
	I32 []int32
	I64 []int64
	F32 []float32
	F64 []float64
}

// elemBytes returns the byte width of one buffer element for the declared
// depth.
func elemBytes(bits uint8) uint64 {
	if bits <= 8 {
		return 1
	}
	return uint64(bits) / 8
}

// newSamples allocates a buffer of count samples for the given format and
// declared bit depth, bounded by limits.DecodingBufferSize.
func newSamples(format SampleFormat, bits uint8, count uint64, limits Limits) (*Samples, error) {
	byteSize, ok := mulChecked(count, elemBytes(bits))
	if !ok {
		return nil, errIntSize
	}
	if byteSize > limits.DecodingBufferSize {
		return nil, ErrLimitsExceeded
	}
	if count > uint64(int(^uint(0)>>1)) {
		return nil, errIntSize
	}

	s := &Samples{Format: format, Bits: bits}
	n := int(count)
	switch format {
	case SampleUint:
		switch {
		case bits <= 8:
			s.U8 = make([]uint8, n)
		case bits == 16:
			s.U16 = make([]uint16, n)
		case bits == 32:
			s.U32 = make([]uint32, n)
		default:
			s.U64 = make([]uint64, n)
		}
	case SampleInt:
		switch {
		case bits <= 8:
			s.I8 = make([]int8, n)
		case bits == 16:
			s.I16 = make([]int16, n)
		case bits == 32:
			s.I32 = make([]int32, n)
		default:
			s.I64 = make([]int64, n)
		}
	case SampleFloat:
		switch bits {
		case 32:
			s.F32 = make([]float32, n)
		case 64:
			s.F64 = make([]float64, n)
		default:
			return nil, UnsupportedError(fmt.Sprintf("%d-bit float samples", bits))
		}
	default:
		return nil, UnsupportedError(fmt.Sprintf("sample format %d", format))
	}
	return s, nil
}

// Len returns the number of samples in the buffer.
func (s *Samples) Len() int {
	switch {
	case s.U8 != nil:
		return len(s.U8)
	case s.U16 != nil:
		return len(s.U16)
	case s.U32 != nil:
		return len(s.U32)
	case s.U64 != nil:
		return len(s.U64)
	case s.I8 != nil:
		return len(s.I8)
	case s.I16 != nil:
		return len(s.I16)
	case s.I32 != nil:
		return len(s.I32)
	case s.I64 != nil:
		return len(s.I64)
	case s.F32 != nil:
		return len(s.F32)
	case s.F64 != nil:
		return len(s.F64)
	}
	return 0
}

// matches reports whether the buffer can hold count samples of the given
// format and depth.
func (s *Samples) matches(format SampleFormat, bits uint8, count uint64) bool {
	return s.Format == format && s.Bits == bits && uint64(s.Len()) >= count
}

// unpackRow decodes n samples from raw into the buffer at off, honoring the
// file byte order. Sub-byte depths expand MSB-first.
func (s *Samples) unpackRow(raw []byte, off, n int, order binary.ByteOrder) {
	switch {
	case s.U8 != nil:
		if s.Bits < 8 {
			samples.ExpandBits(s.U8[off:off+n], raw, uint(s.Bits))
		} else {
			copy(s.U8[off:off+n], raw)
		}
	case s.U16 != nil:
		samples.Unpack16(s.U16[off:off+n], raw, order)
	case s.U32 != nil:
		samples.Unpack32(s.U32[off:off+n], raw, order)
	case s.U64 != nil:
		samples.Unpack64(s.U64[off:off+n], raw, order)
	case s.I8 != nil:
		for i := 0; i < n; i++ {
			s.I8[off+i] = int8(raw[i])
		}
	case s.I16 != nil:
		samples.Unpack16(s.I16[off:off+n], raw, order)
	case s.I32 != nil:
		samples.Unpack32(s.I32[off:off+n], raw, order)
	case s.I64 != nil:
		samples.Unpack64(s.I64[off:off+n], raw, order)
	case s.F32 != nil:
		samples.UnpackF32(s.F32[off:off+n], raw, order)
	case s.F64 != nil:
		samples.UnpackF64(s.F64[off:off+n], raw, order)
	}
}

// packRow encodes n samples starting at off into raw.
func (s *Samples) packRow(raw []byte, off, n int, order binary.ByteOrder) {
	switch {
	case s.U8 != nil:
		copy(raw, s.U8[off:off+n])
	case s.U16 != nil:
		samples.Pack16(raw, s.U16[off:off+n], order)
	case s.U32 != nil:
		samples.Pack32(raw, s.U32[off:off+n], order)
	case s.U64 != nil:
		samples.Pack64(raw, s.U64[off:off+n], order)
	case s.I8 != nil:
		for i := 0; i < n; i++ {
			raw[i] = byte(s.I8[off+i])
		}
	case s.I16 != nil:
		samples.Pack16(raw, s.I16[off:off+n], order)
	case s.I32 != nil:
		samples.Pack32(raw, s.I32[off:off+n], order)
	case s.I64 != nil:
		samples.Pack64(raw, s.I64[off:off+n], order)
	case s.F32 != nil:
		samples.PackF32(raw, s.F32[off:off+n], order)
	case s.F64 != nil:
		samples.PackF64(raw, s.F64[off:off+n], order)
	}
}

// inverseHorizontal undoes horizontal differencing on the row at [off,
// off+n), spp samples per pixel.
func (s *Samples) inverseHorizontal(off, n, spp int) {
	switch {
	case s.U8 != nil:
		predictor.InverseHorizontal(s.U8[off:off+n], spp)
	case s.U16 != nil:
		predictor.InverseHorizontal(s.U16[off:off+n], spp)
	case s.U32 != nil:
		predictor.InverseHorizontal(s.U32[off:off+n], spp)
	case s.U64 != nil:
		predictor.InverseHorizontal(s.U64[off:off+n], spp)
	case s.I8 != nil:
		predictor.InverseHorizontal(s.I8[off:off+n], spp)
	case s.I16 != nil:
		predictor.InverseHorizontal(s.I16[off:off+n], spp)
	case s.I32 != nil:
		predictor.InverseHorizontal(s.I32[off:off+n], spp)
	case s.I64 != nil:
		predictor.InverseHorizontal(s.I64[off:off+n], spp)
	}
}

// forwardHorizontal applies horizontal differencing on the row at [off,
// off+n).
func (s *Samples) forwardHorizontal(off, n, spp int) {
	switch {
	case s.U8 != nil:
		predictor.ForwardHorizontal(s.U8[off:off+n], spp)
	case s.U16 != nil:
		predictor.ForwardHorizontal(s.U16[off:off+n], spp)
	case s.U32 != nil:
		predictor.ForwardHorizontal(s.U32[off:off+n], spp)
	case s.U64 != nil:
		predictor.ForwardHorizontal(s.U64[off:off+n], spp)
	case s.I8 != nil:
		predictor.ForwardHorizontal(s.I8[off:off+n], spp)
	case s.I16 != nil:
		predictor.ForwardHorizontal(s.I16[off:off+n], spp)
	case s.I32 != nil:
		predictor.ForwardHorizontal(s.I32[off:off+n], spp)
	case s.I64 != nil:
		predictor.ForwardHorizontal(s.I64[off:off+n], spp)
	}
}

// invertWhiteIsZero flips the row at [off, off+n) for the WhiteIsZero
// photometric. Only unsigned and IEEE float samples invert.
func (s *Samples) invertWhiteIsZero(off, n int) error {
	switch {
	case s.U8 != nil:
		samples.InvertUnsigned(s.U8[off:off+n], uint(s.Bits))
	case s.U16 != nil:
		samples.InvertUnsigned(s.U16[off:off+n], uint(s.Bits))
	case s.U32 != nil:
		samples.InvertUnsigned(s.U32[off:off+n], uint(s.Bits))
	case s.U64 != nil:
		samples.InvertUnsigned(s.U64[off:off+n], uint(s.Bits))
	case s.F32 != nil:
		samples.InvertFloat(s.F32[off : off+n])
	case s.F64 != nil:
		samples.InvertFloat(s.F64[off : off+n])
	default:
		return unsupportedInterpretation(WhiteIsZero)
	}
	return nil
}
