// Package compression implements the streaming codec adapters for TIFF chunk
// data: None, PackBits, LZW, Deflate, CCITT Group 4, modern JPEG and
// ZStandard. Decoders present an io.Reader over the uncompressed bytes of
// one chunk; encoders compress one chunk per call.
package compression

import (
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/image/ccitt"
	xlzw "golang.org/x/image/tiff/lzw"
)

// Compression method codes from the TIFF 6.0 specification and its
// registered extensions.
const (
	None       = 1
	Fax4       = 4
	LZW        = 5
	JPEG       = 7
	Deflate    = 8
	PackBits   = 32773
	OldDeflate = 32946
	ZStd       = 50000
)

// ErrBound reports that a decoder produced more bytes than the declared
// uncompressed bound for the chunk.
var ErrBound = errors.New("uncompressed size exceeds chunk bound")

// Params carries the per-chunk context a decoder may need.
type Params struct {
	// Bound is the maximum number of uncompressed bytes the chunk may
	// expand to. Reading past it fails with ErrBound.
	Bound int64
	// Width and Height are the chunk's pixel dimensions, needed by Fax4.
	Width, Height int
	// Inverted selects the bit sense for Fax4 output; set for WhiteIsZero
	// so that the generic photometric inversion stage restores it.
	Inverted bool
}

// NewReader returns a reader over the uncompressed bytes of one chunk. r
// must already be limited to the chunk's compressed byte range. JPEG chunks
// are not streamed; use DecodeJPEG instead.
func NewReader(method uint16, r io.Reader, p Params) (io.Reader, error) {
	var d io.Reader
	switch method {
	case None:
		d = r
	case PackBits:
		d = &packBitsReader{r: r}
	case LZW:
		d = xlzw.NewReader(r, xlzw.MSB, 8)
	case Deflate, OldDeflate:
		z, err := zlib.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		d = z
	case Fax4:
		d = ccitt.NewReader(r, ccitt.MSB, ccitt.Group4, p.Width, p.Height,
			&ccitt.Options{Invert: p.Inverted, Align: false})
	case ZStd:
		z, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		d = z.IOReadCloser()
	default:
		return nil, fmt.Errorf("unknown compression method %d", method)
	}
	return &boundReader{r: d, remaining: p.Bound}, nil
}

// boundReader fails once more than the declared bound has been produced.
type boundReader struct {
	r         io.Reader
	remaining int64
}

func (b *boundReader) Read(p []byte) (int, error) {
	if b.remaining <= 0 {
		// Probe one byte: a clean EOF is fine, data is an overrun.
		var one [1]byte
		n, err := b.r.Read(one[:])
		if n > 0 {
			return 0, ErrBound
		}
		if err == nil {
			err = io.EOF
		}
		return 0, err
	}
	if int64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}
	n, err := b.r.Read(p)
	b.remaining -= int64(n)
	return n, err
}

// Compressor compresses one chunk per call, writing the compressed bytes to
// w and returning their count.
type Compressor interface {
	Compress(w io.Writer, data []byte) (int64, error)
}

// NewCompressor returns the encode-side adapter for method. Fax4 and JPEG
// are decode-only.
func NewCompressor(method uint16) (Compressor, error) {
	switch method {
	case None:
		return noneCompressor{}, nil
	case PackBits:
		return packBitsCompressor{}, nil
	case LZW:
		return lzwCompressor{}, nil
	case Deflate:
		return deflateCompressor{level: zlib.DefaultCompression}, nil
	case ZStd:
		return newZstdCompressor()
	default:
		return nil, fmt.Errorf("no encoder for compression method %d", method)
	}
}

type noneCompressor struct{}

func (noneCompressor) Compress(w io.Writer, data []byte) (int64, error) {
	n, err := w.Write(data)
	return int64(n), err
}

type deflateCompressor struct {
	level int
}

func (c deflateCompressor) Compress(w io.Writer, data []byte) (int64, error) {
	cw := &countingWriter{w: w}
	z, err := zlib.NewWriterLevel(cw, c.level)
	if err != nil {
		return 0, err
	}
	if _, err := z.Write(data); err != nil {
		return 0, err
	}
	if err := z.Close(); err != nil {
		return 0, err
	}
	return cw.n, nil
}

type zstdCompressor struct {
	enc *zstd.Encoder
}

func newZstdCompressor() (Compressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return zstdCompressor{enc: enc}, nil
}

func (c zstdCompressor) Compress(w io.Writer, data []byte) (int64, error) {
	out := c.enc.EncodeAll(data, nil)
	n, err := w.Write(out)
	return int64(n), err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
