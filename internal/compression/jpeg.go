package compression

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

// DecodeJPEG decodes one modern-JPEG (compression 7) chunk. Each chunk is a
// standalone JPEG bitstream, optionally abbreviated against a shared
// JPEGTables segment. Samples come back interleaved in the bitstream's
// native color space with no conversion; the caller interprets the
// photometric tag.
func DecodeJPEG(data, tables []byte) (pix []byte, width, height, components int, err error) {
	img, err := jpeg.Decode(bytes.NewReader(spliceJPEGTables(data, tables)))
	if err != nil {
		return nil, 0, 0, 0, fmt.Errorf("jpeg: %w", err)
	}

	b := img.Bounds()
	width, height = b.Dx(), b.Dy()
	switch m := img.(type) {
	case *image.Gray:
		components = 1
		pix = make([]byte, width*height)
		for y := 0; y < height; y++ {
			copy(pix[y*width:], m.Pix[y*m.Stride:y*m.Stride+width])
		}
	case *image.YCbCr:
		components = 3
		pix = make([]byte, width*height*3)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				yi := m.YOffset(b.Min.X+x, b.Min.Y+y)
				ci := m.COffset(b.Min.X+x, b.Min.Y+y)
				o := (y*width + x) * 3
				pix[o] = m.Y[yi]
				pix[o+1] = m.Cb[ci]
				pix[o+2] = m.Cr[ci]
			}
		}
	case *image.CMYK:
		components = 4
		pix = make([]byte, width*height*4)
		for y := 0; y < height; y++ {
			copy(pix[y*width*4:], m.Pix[y*m.Stride:y*m.Stride+width*4])
		}
	default:
		return nil, 0, 0, 0, fmt.Errorf("jpeg: unexpected image type %T", img)
	}
	return pix, width, height, components, nil
}

// spliceJPEGTables merges an abbreviated chunk stream with the shared tables
// segment from the JPEGTables tag: the tables' trailing EOI and the chunk's
// leading SOI are dropped, leaving one complete stream.
func spliceJPEGTables(data, tables []byte) []byte {
	if len(tables) < 4 || len(data) < 2 {
		return data
	}
	if data[0] != 0xff || data[1] != 0xd8 {
		return data
	}
	body := tables
	if body[len(body)-2] == 0xff && body[len(body)-1] == 0xd9 {
		body = body[:len(body)-2]
	}
	out := make([]byte, 0, len(body)+len(data)-2)
	out = append(out, body...)
	out = append(out, data[2:]...)
	return out
}
