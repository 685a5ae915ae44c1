package tiff

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/mrjoshuak/go-tiff/internal/byteio"
	"github.com/mrjoshuak/go-tiff/internal/compression"
	"github.com/mrjoshuak/go-tiff/internal/predictor"
)

// Encoder writes TIFF and BigTIFF streams. Images are encoded one at a
// time: each image's IFD is reserved with a placeholder next-pointer, pixel
// chunks stream to the sink with StripOffsets and StripByteCounts
// back-patched as they land, and the placeholder is filled when the next
// image starts or left 0 on finish.
type Encoder struct {
	w   *byteio.Writer
	dia dialect

	// pointerPos is the file position of the pointer field that must
	// receive the next IFD's offset: the header field first, then each
	// written IFD's next-pointer in turn.
	pointerPos uint64

	cur *ImageEncoder
}

// EncoderOption configures a new Encoder.
type EncoderOption func(*encoderConfig)

type encoderConfig struct {
	big   bool
	order binary.ByteOrder
}

// BigTIFF selects the 64-bit BigTIFF dialect. It changes the offset widths
// but nothing else in the pipeline.
func BigTIFF() EncoderOption {
	return func(c *encoderConfig) { c.big = true }
}

// WithByteOrder selects the file byte order. The default is little-endian.
func WithByteOrder(order binary.ByteOrder) EncoderOption {
	return func(c *encoderConfig) { c.order = order }
}

// NewEncoder writes the file header to w and returns an encoder positioned
// for the first image.
func NewEncoder(ws io.WriteSeeker, opts ...EncoderOption) (*Encoder, error) {
	cfg := encoderConfig{order: binary.LittleEndian}
	for _, opt := range opts {
		opt(&cfg)
	}
	w := byteio.NewWriter(ws, cfg.order)

	marker := "II"
	if cfg.order == binary.BigEndian {
		marker = "MM"
	}
	if _, err := w.Write([]byte(marker)); err != nil {
		return nil, err
	}
	e := &Encoder{w: w, dia: dialect{big: cfg.big}}
	if cfg.big {
		if err := w.U16(43); err != nil {
			return nil, err
		}
		if err := w.U16(8); err != nil {
			return nil, err
		}
		if err := w.U16(0); err != nil {
			return nil, err
		}
		e.pointerPos = w.Offset()
		if err := w.U64(0); err != nil {
			return nil, err
		}
	} else {
		if err := w.U16(42); err != nil {
			return nil, err
		}
		e.pointerPos = w.Offset()
		if err := w.U32(0); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// IsBigTIFF reports whether the encoder emits the BigTIFF dialect.
func (e *Encoder) IsBigTIFF() bool { return e.dia.big }

// Finish checks that no image is left open. The last IFD's next-pointer is
// already 0 by construction.
func (e *Encoder) Finish() error {
	if e.cur != nil {
		return UsageError("image not finished")
	}
	return nil
}

// Image encoder states.
const (
	imageStarted = iota
	imageTagsStaged
	imageDataWritten
	imageFinalized
)

// ImageOption configures one image of an Encoder.
type ImageOption func(*ImageEncoder)

// WithCompression selects the chunk compression method. The default is
// uncompressed.
func WithCompression(method CompressionMethod) ImageOption {
	return func(ie *ImageEncoder) { ie.compressionTag = method }
}

// WithRowsPerStrip overrides the automatic strip height.
func WithRowsPerStrip(rows uint32) ImageOption {
	return func(ie *ImageEncoder) { ie.rowsPerStrip = rows }
}

// WithPredictor applies a predictor before compression.
func WithPredictor(p Predictor) ImageOption {
	return func(ie *ImageEncoder) { ie.predictor = p }
}

// ImageEncoder encodes one image: stage tags first, then write all rows in
// order, then Finish.
type ImageEncoder struct {
	enc   *Encoder
	state int

	width, height uint32
	ct            ColorType
	spp           int
	rowBytes      int

	compressionTag CompressionMethod
	comp           compression.Compressor
	rowsPerStrip   uint32
	predictor      Predictor

	tags map[Tag]Value

	// Value-field positions of the staged entries, for back-patching.
	valuePos map[Tag]uint64

	stripIndex  int
	stripCount  int
	rowsWritten uint32
	stripBuf    []byte
	stripRows   uint32
	scratch     *Samples
}

// NewImage starts encoding an image of the given size and color type.
// Tags may be staged with WriteTag until the first row is written.
func (e *Encoder) NewImage(width, height uint32, ct ColorType, opts ...ImageOption) (*ImageEncoder, error) {
	if e.cur != nil {
		return nil, UsageError("previous image not finished")
	}
	if width == 0 || height == 0 {
		return nil, UsageError("zero-sized image")
	}
	switch ct.Bits {
	case 8, 16, 32, 64:
	default:
		return nil, UnsupportedError(fmt.Sprintf("encoding %d bits per sample", ct.Bits))
	}
	if _, err := ct.photometric(); err != nil {
		return nil, err
	}

	ie := &ImageEncoder{
		enc:            e,
		state:          imageStarted,
		width:          width,
		height:         height,
		ct:             ct,
		spp:            int(ct.SamplesPerPixel()),
		compressionTag: CompressionNone,
		tags:           make(map[Tag]Value),
	}
	ie.rowBytes = int(width) * ie.spp * int(ct.Bits) / 8
	for _, opt := range opts {
		opt(ie)
	}

	// Decode accepts OldDeflate too, but emitted files always carry 8.
	if ie.compressionTag == CompressionOldDeflate {
		ie.compressionTag = CompressionDeflate
	}
	comp, err := compression.NewCompressor(uint16(ie.compressionTag))
	if err != nil {
		return nil, unsupportedCompression(ie.compressionTag)
	}
	ie.comp = comp

	switch ie.predictor {
	case 0:
		ie.predictor = PredictorNone
	case PredictorNone:
	case PredictorHorizontal:
		if ct.Format == SampleFloat {
			return nil, UnsupportedError("horizontal predictor on float samples")
		}
	case PredictorFloat:
		if ct.Format != SampleFloat {
			return nil, UnsupportedError("floating-point predictor on non-float samples")
		}
	default:
		return nil, UsageError(fmt.Sprintf("unknown predictor %d", ie.predictor))
	}

	if ie.rowsPerStrip == 0 {
		// Aim for strips near 8 KiB.
		rows := (8 << 10) / ie.rowBytes
		if rows < 1 {
			rows = 1
		}
		ie.rowsPerStrip = uint32(rows)
	}
	if ie.rowsPerStrip > height {
		ie.rowsPerStrip = height
	}
	ie.stripCount = int((height + ie.rowsPerStrip - 1) / ie.rowsPerStrip)
	ie.stripBuf = make([]byte, 0, ie.rowBytes*int(ie.rowsPerStrip))

	ie.stageStructuralTags()
	e.cur = ie
	return ie, nil
}

func (ie *ImageEncoder) stageStructuralTags() {
	photo, _ := ie.ct.photometric()
	bits := make([]uint16, ie.spp)
	formats := make([]uint16, ie.spp)
	for i := range bits {
		bits[i] = uint16(ie.ct.Bits)
		formats[i] = uint16(ie.ct.Format)
	}

	ie.tags[TagImageWidth] = LongValue(ie.width)
	ie.tags[TagImageLength] = LongValue(ie.height)
	ie.tags[TagBitsPerSample] = ShortValue(bits...)
	ie.tags[TagCompression] = ShortValue(uint16(ie.compressionTag))
	ie.tags[TagPhotometricInterpretation] = ShortValue(uint16(photo))
	ie.tags[TagSamplesPerPixel] = ShortValue(uint16(ie.spp))
	ie.tags[TagRowsPerStrip] = LongValue(ie.rowsPerStrip)
	ie.tags[TagSampleFormat] = ShortValue(formats...)
	if ie.predictor != PredictorNone {
		ie.tags[TagPredictor] = ShortValue(uint16(ie.predictor))
	}

	// Offset and byte-count arrays are reserved as zeros and back-patched
	// as each strip lands.
	if ie.enc.dia.big {
		ie.tags[TagStripOffsets] = Long8Value(make([]uint64, ie.stripCount)...)
		ie.tags[TagStripByteCounts] = Long8Value(make([]uint64, ie.stripCount)...)
	} else {
		ie.tags[TagStripOffsets] = LongValue(make([]uint32, ie.stripCount)...)
		ie.tags[TagStripByteCounts] = LongValue(make([]uint32, ie.stripCount)...)
	}
	ie.state = imageTagsStaged
}

// WriteTag stages an additional tag for this image's IFD. It must be called
// before any rows are written.
func (ie *ImageEncoder) WriteTag(tag Tag, v Value) error {
	if ie.state >= imageDataWritten {
		return UsageError("tag written after image data")
	}
	if v.typ == 0 {
		return UsageError("invalid tag value")
	}
	ie.tags[tag] = v
	ie.state = imageTagsStaged
	return nil
}

// WriteData encodes the complete image from s and finishes it.
func (ie *ImageEncoder) WriteData(s *Samples) error {
	if err := ie.WriteRows(s); err != nil {
		return err
	}
	return ie.Finish()
}

// WriteRows encodes whole rows from s, flushing a strip whenever one
// completes. Rows must arrive in order and s must hold a multiple of the
// row sample count.
func (ie *ImageEncoder) WriteRows(s *Samples) error {
	if ie.state == imageFinalized {
		return UsageError("image already finished")
	}
	if s == nil || s.Format != ie.ct.Format || s.Bits != ie.ct.Bits {
		return UsageError("sample buffer does not match image color type")
	}
	rowSamples := int(ie.width) * ie.spp
	if s.Len()%rowSamples != 0 {
		return UsageError("sample count is not a whole number of rows")
	}
	rows := uint32(s.Len() / rowSamples)
	if ie.rowsWritten+rows > ie.height {
		return UsageError("more rows than the image height")
	}

	if ie.state == imageTagsStaged {
		if err := ie.writeDirectory(); err != nil {
			return err
		}
		ie.state = imageDataWritten
	}

	for r := uint32(0); r < rows; r++ {
		if err := ie.packRow(s, int(r)*rowSamples, rowSamples); err != nil {
			return err
		}
		ie.stripRows++
		ie.rowsWritten++
		if ie.stripRows == ie.rowsPerStrip {
			if err := ie.flushStrip(); err != nil {
				return err
			}
		}
	}
	return nil
}

// packRow appends one row to the strip buffer, applying the predictor on a
// scratch copy so the caller's samples stay untouched.
func (ie *ImageEncoder) packRow(s *Samples, off, n int) error {
	order := ie.enc.w.Order()
	start := len(ie.stripBuf)
	ie.stripBuf = append(ie.stripBuf, make([]byte, ie.rowBytes)...)
	row := ie.stripBuf[start:]

	switch ie.predictor {
	case PredictorHorizontal:
		ie.ensureScratch(n)
		copySamples(ie.scratch, 0, s, off, n)
		ie.scratch.forwardHorizontal(0, n, ie.spp)
		ie.scratch.packRow(row, 0, n, order)
	case PredictorFloat:
		if s.F32 != nil {
			predictor.ForwardFloat32(s.F32[off:off+n], ie.spp, row)
		} else {
			predictor.ForwardFloat64(s.F64[off:off+n], ie.spp, row)
		}
	default:
		s.packRow(row, off, n, order)
	}
	return nil
}

func (ie *ImageEncoder) ensureScratch(n int) {
	if ie.scratch != nil {
		return
	}
	ie.scratch, _ = newSamples(ie.ct.Format, ie.ct.Bits, uint64(n), UnlimitedLimits())
}

// flushStrip compresses the buffered rows, streams them to the sink, and
// back-patches the offset and byte-count entries for this strip.
func (ie *ImageEncoder) flushStrip() error {
	if ie.stripRows == 0 {
		return nil
	}
	w := ie.enc.w
	dataOffset := w.Offset()
	n, err := ie.comp.Compress(w, ie.stripBuf)
	if err != nil {
		return err
	}
	end := w.Offset()

	if err := ie.patchArray(TagStripOffsets, ie.stripIndex, dataOffset); err != nil {
		return err
	}
	if err := ie.patchArray(TagStripByteCounts, ie.stripIndex, uint64(n)); err != nil {
		return err
	}
	if err := w.Seek(end); err != nil {
		return err
	}

	ie.stripIndex++
	ie.stripRows = 0
	ie.stripBuf = ie.stripBuf[:0]
	return nil
}

func (ie *ImageEncoder) patchArray(tag Tag, index int, value uint64) error {
	w := ie.enc.w
	pos, ok := ie.valuePos[tag]
	if !ok {
		return UsageError("strip arrays were not reserved")
	}
	if ie.enc.dia.big {
		if err := w.Seek(pos + uint64(index)*8); err != nil {
			return err
		}
		return w.U64(value)
	}
	if value > 0xffffffff {
		return errIntSize
	}
	if err := w.Seek(pos + uint64(index)*4); err != nil {
		return err
	}
	return w.U32(uint32(value))
}

// Finish flushes the final strip and completes the image. Every row must
// have been written.
func (ie *ImageEncoder) Finish() error {
	if ie.state == imageFinalized {
		return nil
	}
	if ie.rowsWritten != ie.height {
		return UsageError(fmt.Sprintf("wrote %d of %d rows", ie.rowsWritten, ie.height))
	}
	if err := ie.flushStrip(); err != nil {
		return err
	}
	ie.state = imageFinalized
	ie.enc.cur = nil
	return nil
}

// writeDirectory serializes the staged IFD: entry table in ascending tag
// order, inline values left-aligned in the value field, out-of-line values
// packed after the next-pointer. The previous pointer field is patched to
// this IFD, and this IFD's next-pointer becomes the new patch target.
func (ie *ImageEncoder) writeDirectory() error {
	e := ie.enc
	w := e.w
	dia := e.dia

	if err := w.PadWordBoundary(); err != nil {
		return err
	}
	ifdOffset := w.Offset()

	// Chain the previous IFD (or the header) to this one.
	if err := w.Seek(e.pointerPos); err != nil {
		return err
	}
	if err := e.writeOffsetField(ifdOffset); err != nil {
		return err
	}
	if err := w.Seek(ifdOffset); err != nil {
		return err
	}

	tags := make([]Tag, 0, len(ie.tags))
	for tag := range ie.tags {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })

	// Serialize each value once to know which entries spill out of line.
	payloads := make(map[Tag][]byte, len(tags))
	for _, tag := range tags {
		data, err := encodeValueBytes(ie.tags[tag], w.Order())
		if err != nil {
			return err
		}
		payloads[tag] = data
	}

	if dia.big {
		if err := w.U64(uint64(len(tags))); err != nil {
			return err
		}
	} else {
		if err := w.U16(uint16(len(tags))); err != nil {
			return err
		}
	}

	fieldSize := dia.valueFieldSize()
	outOfLine := ifdOffset
	if dia.big {
		outOfLine += 8 + uint64(len(tags))*dia.entrySize() + 8
	} else {
		outOfLine += 2 + uint64(len(tags))*dia.entrySize() + 4
	}

	ie.valuePos = make(map[Tag]uint64)
	for _, tag := range tags {
		v := ie.tags[tag]
		data := payloads[tag]
		if err := w.U16(uint16(tag)); err != nil {
			return err
		}
		if err := w.U16(uint16(v.typ)); err != nil {
			return err
		}
		if dia.big {
			if err := w.U64(v.Count()); err != nil {
				return err
			}
		} else {
			if v.Count() > 0xffffffff {
				return errIntSize
			}
			if err := w.U32(uint32(v.Count())); err != nil {
				return err
			}
		}
		if uint64(len(data)) <= fieldSize {
			ie.valuePos[tag] = w.Offset()
			if _, err := w.Write(data); err != nil {
				return err
			}
			for pad := uint64(len(data)); pad < fieldSize; pad++ {
				if err := w.U8(0); err != nil {
					return err
				}
			}
		} else {
			ie.valuePos[tag] = outOfLine
			if err := e.writeOffsetField(outOfLine); err != nil {
				return err
			}
			// Out-of-line values begin on even offsets.
			outOfLine += uint64(len(data)+1) &^ 1
		}
	}

	// Placeholder next-pointer; the next image or finish resolves it.
	e.pointerPos = w.Offset()
	if err := e.writeOffsetField(0); err != nil {
		return err
	}

	for _, tag := range tags {
		data := payloads[tag]
		if uint64(len(data)) > fieldSize {
			if _, err := w.Write(data); err != nil {
				return err
			}
			if len(data)%2 == 1 {
				if err := w.U8(0); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (e *Encoder) writeOffsetField(offset uint64) error {
	if e.dia.big {
		return e.w.U64(offset)
	}
	if offset > 0xffffffff {
		return errIntSize
	}
	return e.w.U32(uint32(offset))
}

// encodeValueBytes serializes a value's payload in the given byte order.
func encodeValueBytes(v Value, order binary.ByteOrder) ([]byte, error) {
	var buf seekBuffer
	w := byteio.NewWriter(&buf, order)
	if err := v.encodePayload(w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// copySamples copies n samples between buffers of the same variant.
func copySamples(dst *Samples, dstOff int, src *Samples, srcOff, n int) {
	switch {
	case src.U8 != nil:
		copy(dst.U8[dstOff:], src.U8[srcOff:srcOff+n])
	case src.U16 != nil:
		copy(dst.U16[dstOff:], src.U16[srcOff:srcOff+n])
	case src.U32 != nil:
		copy(dst.U32[dstOff:], src.U32[srcOff:srcOff+n])
	case src.U64 != nil:
		copy(dst.U64[dstOff:], src.U64[srcOff:srcOff+n])
	case src.I8 != nil:
		copy(dst.I8[dstOff:], src.I8[srcOff:srcOff+n])
	case src.I16 != nil:
		copy(dst.I16[dstOff:], src.I16[srcOff:srcOff+n])
	case src.I32 != nil:
		copy(dst.I32[dstOff:], src.I32[srcOff:srcOff+n])
	case src.I64 != nil:
		copy(dst.I64[dstOff:], src.I64[srcOff:srcOff+n])
	case src.F32 != nil:
		copy(dst.F32[dstOff:], src.F32[srcOff:srcOff+n])
	case src.F64 != nil:
		copy(dst.F64[dstOff:], src.F64[srcOff:srcOff+n])
	}
}
