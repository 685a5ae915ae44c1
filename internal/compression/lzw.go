package compression

import (
	"io"

	"github.com/mrjoshuak/go-tiff/internal/bitio"
)

// TIFF-variant LZW: 8-bit literals, MSB-first code packing, 9 to 12 bit
// codes with the width switching one code earlier than stream-standard LZW.
const (
	lzwClearCode = 256
	lzwEOICode   = 257
	lzwFirstCode = 258
	lzwMaxWidth  = 12
	// The table is reset when the next free code reaches this value, keeping
	// every emitted code representable in 12 bits under the early-change rule.
	lzwResetAt = 4094
)

type lzwCompressor struct{}

// Compress writes data as a TIFF LZW stream. The decode side is served by
// golang.org/x/image/tiff/lzw, which has no writer, so the encoder lives
// here. Prefix chains are tracked in a table keyed by (prefix code, byte).
func (lzwCompressor) Compress(w io.Writer, data []byte) (int64, error) {
	bw := bitio.NewWriter()
	width := uint(9)
	next := uint32(lzwFirstCode)
	table := make(map[uint32]uint32, 4096)

	reset := func() {
		for k := range table {
			delete(table, k)
		}
		next = lzwFirstCode
		width = 9
	}

	bw.WriteBits(lzwClearCode, width)
	cur := int32(-1)
	for _, b := range data {
		if cur < 0 {
			cur = int32(b)
			continue
		}
		key := uint32(cur)<<8 | uint32(b)
		if code, ok := table[key]; ok {
			cur = int32(code)
			continue
		}
		bw.WriteBits(uint32(cur), width)
		table[key] = next
		next++
		// The decoder's table lags this one by a single entry and applies
		// the early-change rule (switch at 2^width-1) to its own count, so
		// from this side the width grows exactly when the table fills.
		if next >= 1<<width && width < lzwMaxWidth {
			width++
		}
		if next >= lzwResetAt {
			bw.WriteBits(lzwClearCode, width)
			reset()
		}
		cur = int32(b)
	}
	if cur >= 0 {
		bw.WriteBits(uint32(cur), width)
		// The decoder adds one more entry on receiving the final code and
		// may widen before it reads the EOI.
		if next++; next >= 1<<width && width < lzwMaxWidth {
			width++
		}
	}
	bw.WriteBits(lzwEOICode, width)
	bw.Flush()

	n, err := w.Write(bw.Bytes())
	return int64(n), err
}
