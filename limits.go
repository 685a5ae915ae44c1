package tiff

import "math/bits"

// Limits bounds the memory a decoder may allocate from input-derived sizes.
// All limit checks use overflow-checked arithmetic; any overflow surfaces as
// ErrLimitsExceeded.
type Limits struct {
	// DecodingBufferSize caps any decoded sample buffer in bytes. When the
	// entire image is decoded at once this caps the image; per chunk it caps
	// the chunk.
	DecodingBufferSize uint64

	// IntermediateBufferSize caps the uncompressed byte buffer of a single
	// chunk, enforced before allocation and incrementally while streaming.
	IntermediateBufferSize uint64

	// IFDValueSize caps the byte size of any single tag value.
	IFDValueSize uint64

	// MaxEntries caps the number of entries in one IFD.
	MaxEntries uint64
}

// DefaultLimits returns the limits applied to new decoders.
func DefaultLimits() Limits {
	return Limits{
		DecodingBufferSize:     256 << 20,
		IntermediateBufferSize: 128 << 20,
		IFDValueSize:           1 << 20,
		MaxEntries:             1 << 16,
	}
}

// UnlimitedLimits returns a configuration that does not impose any limits.
// Decoding adversarial input with it can exhaust memory.
func UnlimitedLimits() Limits {
	const max = ^uint64(0)
	return Limits{
		DecodingBufferSize:     max,
		IntermediateBufferSize: max,
		IFDValueSize:           max,
		MaxEntries:             max,
	}
}

// mulChecked multiplies with overflow detection.
func mulChecked(a, b uint64) (uint64, bool) {
	hi, lo := bits.Mul64(a, b)
	return lo, hi == 0
}
