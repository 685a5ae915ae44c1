// Package tiff implements a TIFF and BigTIFF codec: a decoder that parses
// the directory structure of a byte stream, decompresses its strips or
// tiles, and materializes pixel samples into typed buffers; and an encoder
// that serializes tag metadata and pixel chunks into a compliant stream.
//
// Basic usage for decoding:
//
//	file, _ := os.Open("image.tif")
//	img, err := tiff.Decode(file)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// The Decoder type exposes the full surface: raw tag access, per-chunk
// reads, sample formats beyond 8 and 16 bit, and multi-page traversal.
// Basic usage for encoding:
//
//	file, _ := os.Create("out.tif")
//	err := tiff.Encode(file, img, nil)
//
// Supported compression methods are None, PackBits, LZW, Deflate, CCITT
// Group 4, modern JPEG and ZStandard; Group 4 and JPEG are decode-only.
package tiff

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"io"
)

// Decode reads a TIFF image from r and returns the first image as an
// image.Image. Unsigned gray of up to 16 bits, unsigned RGB and RGBA of 8
// and 16 bits, and unsigned 8-bit CMYK convert; other layouts return an
// UnsupportedError and need the Decoder API.
func Decode(r io.Reader) (image.Image, error) {
	d, err := newReaderDecoder(r)
	if err != nil {
		return nil, err
	}
	return decodeImage(d)
}

// DecodeConfig returns the dimensions and color model of the first image
// without decoding pixel data.
func DecodeConfig(r io.Reader) (image.Config, error) {
	d, err := newReaderDecoder(r)
	if err != nil {
		return image.Config{}, err
	}
	w, h := d.Dimensions()
	ct, err := d.ColorType()
	if err != nil {
		return image.Config{}, err
	}
	var model color.Model
	switch {
	case ct.Kind == KindGray && ct.Bits <= 8:
		model = color.GrayModel
	case ct.Kind == KindGray && ct.Bits == 16:
		model = color.Gray16Model
	case ct.Kind == KindRGB && ct.Bits == 8, ct.Kind == KindRGBA && ct.Bits == 8:
		model = color.NRGBAModel
	case ct.Kind == KindRGB && ct.Bits == 16, ct.Kind == KindRGBA && ct.Bits == 16:
		model = color.NRGBA64Model
	case ct.Kind == KindCMYK && ct.Bits == 8:
		model = color.CMYKModel
	case ct.Kind == KindYCbCr && ct.Bits == 8:
		model = color.YCbCrModel
	default:
		return image.Config{}, UnsupportedError(fmt.Sprintf("color type %v as image.Image", ct))
	}
	return image.Config{ColorModel: model, Width: int(w), Height: int(h)}, nil
}

func newReaderDecoder(r io.Reader) (*Decoder, error) {
	rs, ok := r.(io.ReadSeeker)
	if !ok {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		rs = bytes.NewReader(data)
	}
	return NewDecoder(rs)
}

func decodeImage(d *Decoder) (image.Image, error) {
	w, h := d.Dimensions()
	ct, err := d.ColorType()
	if err != nil {
		return nil, err
	}
	if ct.Format != SampleUint {
		return nil, UnsupportedError(fmt.Sprintf("color type %v as image.Image", ct))
	}
	s, err := d.ReadImage()
	if err != nil {
		return nil, err
	}
	bounds := image.Rect(0, 0, int(w), int(h))
	n := int(w) * int(h)

	switch {
	case ct.Kind == KindGray && ct.Bits <= 8 && ct.Format == SampleUint:
		img := image.NewGray(bounds)
		if ct.Bits == 8 {
			copy(img.Pix, s.U8)
		} else {
			// Scale sub-byte depths to the full 8-bit range.
			scale := uint8(255 / (1<<uint(ct.Bits) - 1))
			for i, v := range s.U8 {
				img.Pix[i] = v * scale
			}
		}
		return img, nil
	case ct.Kind == KindGray && ct.Bits == 16 && ct.Format == SampleUint:
		img := image.NewGray16(bounds)
		for i, v := range s.U16 {
			img.Pix[2*i] = uint8(v >> 8)
			img.Pix[2*i+1] = uint8(v)
		}
		return img, nil
	case ct.Kind == KindRGB && ct.Bits == 8:
		img := image.NewNRGBA(bounds)
		for i := 0; i < n; i++ {
			img.Pix[4*i] = s.U8[3*i]
			img.Pix[4*i+1] = s.U8[3*i+1]
			img.Pix[4*i+2] = s.U8[3*i+2]
			img.Pix[4*i+3] = 0xff
		}
		return img, nil
	case ct.Kind == KindRGBA && ct.Bits == 8:
		img := image.NewNRGBA(bounds)
		copy(img.Pix, s.U8)
		return img, nil
	case ct.Kind == KindRGB && ct.Bits == 16:
		img := image.NewNRGBA64(bounds)
		for i := 0; i < n; i++ {
			putBE16(img.Pix[8*i:], s.U16[3*i])
			putBE16(img.Pix[8*i+2:], s.U16[3*i+1])
			putBE16(img.Pix[8*i+4:], s.U16[3*i+2])
			putBE16(img.Pix[8*i+6:], 0xffff)
		}
		return img, nil
	case ct.Kind == KindRGBA && ct.Bits == 16:
		img := image.NewNRGBA64(bounds)
		for i := 0; i < 4*n; i++ {
			putBE16(img.Pix[2*i:], s.U16[i])
		}
		return img, nil
	case ct.Kind == KindCMYK && ct.Bits == 8:
		img := image.NewCMYK(bounds)
		copy(img.Pix, s.U8)
		return img, nil
	}
	return nil, UnsupportedError(fmt.Sprintf("color type %v as image.Image", ct))
}

func putBE16(p []byte, v uint16) {
	p[0] = uint8(v >> 8)
	p[1] = uint8(v)
}

// EncodeOptions holds the settings of the Encode convenience function.
type EncodeOptions struct {
	// Compression selects the chunk codec; zero means uncompressed.
	Compression CompressionMethod
	// Predictor is applied before compression when non-zero.
	Predictor Predictor
	// RowsPerStrip overrides the automatic strip height when non-zero.
	RowsPerStrip uint32
	// BigTIFF selects the 64-bit dialect.
	BigTIFF bool
}

// Encode writes m to w as a single-page TIFF. A nil opts encodes
// uncompressed little-endian classic TIFF.
func Encode(w io.Writer, m image.Image, opts *EncodeOptions) error {
	if opts == nil {
		opts = &EncodeOptions{}
	}
	if opts.Compression == 0 {
		opts.Compression = CompressionNone
	}

	bounds := m.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	var ct ColorType
	var s *Samples
	switch img := m.(type) {
	case *image.Gray:
		ct = Gray8
		s = &Samples{Format: SampleUint, Bits: 8, U8: make([]uint8, width*height)}
		for y := 0; y < height; y++ {
			copy(s.U8[y*width:], img.Pix[y*img.Stride:y*img.Stride+width])
		}
	case *image.Gray16:
		ct = Gray16
		s = &Samples{Format: SampleUint, Bits: 16, U16: make([]uint16, width*height)}
		for y := 0; y < height; y++ {
			row := img.Pix[y*img.Stride:]
			for x := 0; x < width; x++ {
				s.U16[y*width+x] = uint16(row[2*x])<<8 | uint16(row[2*x+1])
			}
		}
	case *image.CMYK:
		ct = CMYK8
		s = &Samples{Format: SampleUint, Bits: 8, U8: make([]uint8, width*height*4)}
		for y := 0; y < height; y++ {
			copy(s.U8[y*width*4:], img.Pix[y*img.Stride:y*img.Stride+width*4])
		}
	default:
		ct = RGBA8
		s = &Samples{Format: SampleUint, Bits: 8, U8: make([]uint8, width*height*4)}
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				c := color.NRGBAModel.Convert(m.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
				o := (y*width + x) * 4
				s.U8[o] = c.R
				s.U8[o+1] = c.G
				s.U8[o+2] = c.B
				s.U8[o+3] = c.A
			}
		}
	}

	var buf seekBuffer
	var encOpts []EncoderOption
	if opts.BigTIFF {
		encOpts = append(encOpts, BigTIFF())
	}
	enc, err := NewEncoder(&buf, encOpts...)
	if err != nil {
		return err
	}
	var imgOpts []ImageOption
	if opts.Compression != CompressionNone {
		imgOpts = append(imgOpts, WithCompression(opts.Compression))
	}
	if opts.Predictor != 0 {
		imgOpts = append(imgOpts, WithPredictor(opts.Predictor))
	}
	if opts.RowsPerStrip != 0 {
		imgOpts = append(imgOpts, WithRowsPerStrip(opts.RowsPerStrip))
	}
	ie, err := enc.NewImage(uint32(width), uint32(height), ct, imgOpts...)
	if err != nil {
		return err
	}
	if err := ie.WriteData(s); err != nil {
		return err
	}
	if err := enc.Finish(); err != nil {
		return err
	}
	_, err = w.Write(buf.Bytes())
	return err
}

// seekBuffer is an in-memory io.WriteSeeker used to assemble streams that
// need back-patching before they reach a plain io.Writer.
type seekBuffer struct {
	buf []byte
	pos int64
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	if need := b.pos + int64(len(p)); need > int64(len(b.buf)) {
		grown := make([]byte, need)
		copy(grown, b.buf)
		b.buf = grown
	}
	copy(b.buf[b.pos:], p)
	b.pos += int64(len(p))
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		b.pos = offset
	case io.SeekCurrent:
		b.pos += offset
	case io.SeekEnd:
		b.pos = int64(len(b.buf)) + offset
	}
	if b.pos < 0 {
		return 0, fmt.Errorf("seek before start of buffer")
	}
	return b.pos, nil
}

// Bytes returns the assembled stream.
func (b *seekBuffer) Bytes() []byte { return b.buf }

// init registers the TIFF format with the image package, covering both
// byte orders and both dialects.
func init() {
	decode := func(r io.Reader) (image.Image, error) { return Decode(r) }
	config := func(r io.Reader) (image.Config, error) { return DecodeConfig(r) }
	image.RegisterFormat("tiff", "II\x2A\x00", decode, config)
	image.RegisterFormat("tiff", "MM\x00\x2A", decode, config)
	image.RegisterFormat("tiff", "II\x2B\x00", decode, config)
	image.RegisterFormat("tiff", "MM\x00\x2B", decode, config)
}
