package tiff

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/mrjoshuak/go-tiff/internal/byteio"
	"github.com/mrjoshuak/go-tiff/internal/chunks"
	"github.com/mrjoshuak/go-tiff/internal/compression"
	"github.com/mrjoshuak/go-tiff/internal/predictor"
)

// Decoder reads TIFF and BigTIFF streams. It owns the byte source for its
// full life, positions on one image at a time, and caches the current
// image's decoded tag values; the cache is dropped when the walker
// advances. Compressed chunks are read on demand and never retained past a
// read call.
type Decoder struct {
	r      *byteio.Reader
	dia    dialect
	limits Limits

	nextIFD    uint64
	curIFD     uint64
	ifdOffsets []uint64
	pos        int
	cycles     *ifdCycles

	dir   *Directory
	cache map[Tag]Value
	img   *imageState
}

// NewDecoder parses the header of rs, positions on the first IFD and loads
// its image parameters.
func NewDecoder(rs io.ReadSeeker) (*Decoder, error) {
	r, dia, first, err := parseHeader(rs)
	if err != nil {
		return nil, err
	}
	d := &Decoder{
		r:       r,
		dia:     dia,
		limits:  DefaultLimits(),
		nextIFD: first,
		pos:     -1,
		cycles:  newIfdCycles(),
	}
	if err := d.NextImage(); err != nil {
		return nil, err
	}
	return d, nil
}

// SetLimits replaces the decoder's resource limits.
func (d *Decoder) SetLimits(limits Limits) { d.limits = limits }

// IsBigTIFF reports whether the file uses the 64-bit BigTIFF dialect.
func (d *Decoder) IsBigTIFF() bool { return d.dia.big }

// ByteOrder returns the byte order declared in the file header. It is
// immutable for the life of the file.
func (d *Decoder) ByteOrder() binary.ByteOrder { return d.r.Order() }

// IFDOffset returns the byte offset of the current image's directory.
func (d *Decoder) IFDOffset() uint64 { return d.curIFD }

// MoreImages reports whether another IFD follows the current one.
func (d *Decoder) MoreImages() bool { return d.nextIFD != 0 }

// NextImage advances to the next IFD in the chain and loads its image
// parameters. A next-pointer of 0 terminates the chain; advancing past it
// returns a FormatError.
func (d *Decoder) NextImage() error {
	if d.nextIFD == 0 {
		return errNoDirectory
	}
	offset := d.nextIFD
	if err := d.loadIFD(offset); err != nil {
		return err
	}
	if d.pos+1 < len(d.ifdOffsets) && d.ifdOffsets[d.pos+1] == offset {
		d.pos++
	} else {
		d.ifdOffsets = append(d.ifdOffsets, offset)
		d.pos = len(d.ifdOffsets) - 1
	}
	return nil
}

// SeekToImage positions on the index-th image of the file, walking the
// chain forward as needed. Previously visited directories are re-read from
// their recorded offsets.
func (d *Decoder) SeekToImage(index int) error {
	if index < 0 {
		return UsageError("negative image index")
	}
	for index >= len(d.ifdOffsets) {
		if d.nextIFD == 0 {
			return errNoDirectory
		}
		if err := d.NextImage(); err != nil {
			return err
		}
	}
	if err := d.loadIFD(d.ifdOffsets[index]); err != nil {
		return err
	}
	d.pos = index
	return nil
}

func (d *Decoder) loadIFD(offset uint64) error {
	dir, err := readDirectory(d.r, d.dia, d.limits, offset)
	if err != nil {
		return err
	}
	if err := d.cycles.insertNext(offset, dir.Next); err != nil {
		return err
	}
	d.dir = dir
	d.curIFD = offset
	d.nextIFD = dir.Next
	d.cache = make(map[Tag]Value)
	img, err := newImageState(d.fetch)
	if err != nil {
		return err
	}
	d.img = img
	return nil
}

// ReadDirectory parses the IFD at an arbitrary offset, such as a SubIFD or
// Exif pointer, without switching the current image. No cycle bookkeeping
// applies to directories read this way.
func (d *Decoder) ReadDirectory(offset uint64) (*Directory, error) {
	return readDirectory(d.r, d.dia, d.limits, offset)
}

// DirectoryTag resolves one tag of a directory obtained from ReadDirectory.
func (d *Decoder) DirectoryTag(dir *Directory, tag Tag) (Value, error) {
	e, ok := dir.entries[tag]
	if !ok {
		return Value{}, requiredTag(tag)
	}
	return decodeValue(d.r, d.dia, d.limits, e)
}

// fetch resolves a tag of the current directory through the per-image cache.
func (d *Decoder) fetch(tag Tag) (Value, bool, error) {
	if v, ok := d.cache[tag]; ok {
		return v, true, nil
	}
	e, ok := d.dir.entries[tag]
	if !ok {
		return Value{}, false, nil
	}
	v, err := decodeValue(d.r, d.dia, d.limits, e)
	if err != nil {
		return Value{}, true, err
	}
	if err := validateTagValue(tag, v); err != nil {
		return Value{}, true, err
	}
	d.cache[tag] = v
	return v, true, nil
}

// GetTag returns the decoded value of a tag in the current directory,
// failing if the tag is absent.
func (d *Decoder) GetTag(tag Tag) (Value, error) {
	v, ok, err := d.fetch(tag)
	if err != nil {
		return Value{}, err
	}
	if !ok {
		return Value{}, requiredTag(tag)
	}
	return v, nil
}

// FindTag returns the decoded value of a tag in the current directory. The
// boolean reports presence.
func (d *Decoder) FindTag(tag Tag) (Value, bool, error) {
	return d.fetch(tag)
}

// GetTagUint returns a tag's value as a scalar unsigned integer.
func (d *Decoder) GetTagUint(tag Tag) (uint64, error) {
	v, err := d.GetTag(tag)
	if err != nil {
		return 0, err
	}
	return v.Uint()
}

// GetTagUintSlice returns a tag's value as unsigned integers.
func (d *Decoder) GetTagUintSlice(tag Tag) ([]uint64, error) {
	v, err := d.GetTag(tag)
	if err != nil {
		return nil, err
	}
	return v.UintSlice()
}

// Tags returns the current directory's tag codes in ascending order.
func (d *Decoder) Tags() []Tag { return d.dir.Tags() }

// TagIter calls f for every tag of the current directory in ascending
// order, stopping early if f returns false.
func (d *Decoder) TagIter(f func(Tag, Value) bool) error {
	for _, tag := range d.dir.tags {
		v, _, err := d.fetch(tag)
		if err != nil {
			return err
		}
		if !f(tag, v) {
			return nil
		}
	}
	return nil
}

// Dimensions returns the current image's width and height in pixels.
func (d *Decoder) Dimensions() (width, height uint32) {
	return d.img.width, d.img.height
}

// ColorType describes the sample layout of the current image.
func (d *Decoder) ColorType() (ColorType, error) { return d.img.colorType() }

// Compression returns the current image's compression method.
func (d *Decoder) Compression() CompressionMethod { return d.img.compression }

// Tiled reports whether the current image uses the tile layout.
func (d *Decoder) Tiled() bool { return d.img.grid.Kind == chunks.Tile }

// ChunkCount returns the number of chunks (strips or tiles) of the current
// image, across all sample planes.
func (d *Decoder) ChunkCount() uint32 { return uint32(len(d.img.chunkOffsets)) }

// ChunkDimensions returns the nominal chunk size. Edge chunks may cover
// less; see ChunkDataDimensions.
func (d *Decoder) ChunkDimensions() (w, h uint32) { return d.img.grid.Dimensions() }

// ChunkDataDimensions returns the unpadded pixel region of the chunk at
// index.
func (d *Decoder) ChunkDataDimensions(index uint32) (w, h uint32, err error) {
	if index >= d.ChunkCount() {
		return 0, 0, UsageError(fmt.Sprintf("chunk index %d out of range", index))
	}
	w, h = d.img.grid.DataDimensions(index)
	return w, h, nil
}

// ReadChunk decodes the chunk at index into a freshly allocated buffer
// holding its unpadded region. Reading the same chunk twice yields the same
// samples.
func (d *Decoder) ReadChunk(index uint32) (*Samples, error) {
	count, err := d.chunkSampleCount(index)
	if err != nil {
		return nil, err
	}
	s, err := newSamples(d.img.format, d.img.bits, count, d.limits)
	if err != nil {
		return nil, err
	}
	w, _ := d.img.grid.DataDimensions(index)
	stride := uint64(w) * uint64(d.img.samplesPerChunkPixel())
	if err := d.expandChunk(index, s, 0, stride); err != nil {
		return nil, err
	}
	return s, nil
}

// ReadChunkInto decodes the chunk at index into a caller-provided buffer,
// which must match the image's sample format and depth and hold the chunk's
// unpadded region. On error the buffer contents are unspecified.
func (d *Decoder) ReadChunkInto(index uint32, dst *Samples) error {
	count, err := d.chunkSampleCount(index)
	if err != nil {
		return err
	}
	if dst == nil || !dst.matches(d.img.format, d.img.bits, count) {
		return UsageError("destination buffer does not match chunk layout")
	}
	w, _ := d.img.grid.DataDimensions(index)
	stride := uint64(w) * uint64(d.img.samplesPerChunkPixel())
	return d.expandChunk(index, dst, 0, stride)
}

// ReadImage decodes all chunks of the current image and assembles them in
// row-major order, trimming tile padding. Chunky images interleave samples
// per pixel; planar images concatenate one full plane after another.
func (d *Decoder) ReadImage() (*Samples, error) {
	count, err := d.imageSampleCount()
	if err != nil {
		return nil, err
	}
	s, err := newSamples(d.img.format, d.img.bits, count, d.limits)
	if err != nil {
		return nil, err
	}
	if err := d.readImageInto(s); err != nil {
		return nil, err
	}
	return s, nil
}

// ReadImageInto decodes the current image into a caller-provided buffer.
func (d *Decoder) ReadImageInto(dst *Samples) error {
	count, err := d.imageSampleCount()
	if err != nil {
		return err
	}
	if dst == nil || !dst.matches(d.img.format, d.img.bits, count) {
		return UsageError("destination buffer does not match image layout")
	}
	return d.readImageInto(dst)
}

func (d *Decoder) chunkSampleCount(index uint32) (uint64, error) {
	if index >= d.ChunkCount() {
		return 0, UsageError(fmt.Sprintf("chunk index %d out of range", index))
	}
	w, h := d.img.grid.DataDimensions(index)
	count, ok := mulChecked(uint64(w)*uint64(h), uint64(d.img.samplesPerChunkPixel()))
	if !ok {
		return 0, errIntSize
	}
	return count, nil
}

func (d *Decoder) imageSampleCount() (uint64, error) {
	count, ok := mulChecked(uint64(d.img.width)*uint64(d.img.height), uint64(d.img.samples))
	if !ok {
		return 0, errIntSize
	}
	return count, nil
}

func (d *Decoder) readImageInto(dst *Samples) error {
	img := d.img
	if img.width == 0 || img.height == 0 {
		return nil
	}
	w64, h64 := uint64(img.width), uint64(img.height)
	for index := uint32(0); index < d.ChunkCount(); index++ {
		plane := uint64(img.grid.Plane(index))
		x0, y0 := img.grid.Origin(index)

		var stride, offset uint64
		if img.planar == PlanarSeparate {
			stride = w64
			offset = plane*w64*h64 + uint64(y0)*stride + uint64(x0)
		} else {
			stride = w64 * uint64(img.samples)
			offset = uint64(y0)*stride + uint64(x0)*uint64(img.samples)
		}
		if err := d.expandChunk(index, dst, offset, stride); err != nil {
			return err
		}
	}
	return nil
}

// expandChunk reads, decompresses and unpacks one chunk into dst. offset is
// the destination index in samples of the chunk's top-left pixel, stride
// the destination samples per row. Predictor state never crosses the chunk
// boundary.
func (d *Decoder) expandChunk(index uint32, dst *Samples, offset, stride uint64) error {
	img := d.img
	if _, err := img.colorType(); err != nil {
		return err
	}
	w, h := img.grid.DataDimensions(index)
	if w == 0 || h == 0 {
		return nil
	}
	sppChunk := int(img.samplesPerChunkPixel())
	rowSamples := int(w) * sppChunk
	invert := img.photometric == WhiteIsZero

	expected, ok := img.chunkUncompressedSize(index)
	if !ok {
		return errIntSize
	}
	if expected > d.limits.IntermediateBufferSize {
		return ErrLimitsExceeded
	}

	clen := img.chunkCounts[index]
	if clen > math.MaxInt64 {
		return errIntSize
	}
	if err := d.r.Seek(img.chunkOffsets[index]); err != nil {
		return seekErr(err)
	}

	if img.compression == CompressionJPEG {
		return d.expandJPEGChunk(index, clen, dst, offset, stride)
	}
	if img.compression == CompressionNone && clen != expected {
		return FormatError(fmt.Sprintf("chunk %d: %d compressed bytes for %d uncompressed", index, clen, expected))
	}

	paddedW := img.grid.ChunkWidth
	// Strip streams encode only the strip's actual rows; tile streams always
	// encode the full padded tile.
	encodedRows := h
	if img.grid.Kind == chunks.Tile {
		encodedRows = img.grid.ChunkLength
	}
	cr, err := compression.NewReader(uint16(img.compression), io.LimitReader(d.r.Inner(), int64(clen)), compression.Params{
		Bound:    int64(expected),
		Width:    int(paddedW),
		Height:   int(encodedRows),
		Inverted: invert,
	})
	if err != nil {
		return err
	}
	raw := make([]byte, expected)
	if _, err := io.ReadFull(cr, raw); err != nil {
		return chunkReadErr(err)
	}

	paddedRow, ok := img.rowSize(paddedW)
	if !ok {
		return errIntSize
	}
	paddedSamples := int(paddedW) * sppChunk

	var scratch32 []float32
	var scratch64 []float64
	if img.predictor == PredictorFloat {
		if img.bits == 32 {
			scratch32 = make([]float32, paddedSamples)
		} else {
			scratch64 = make([]float64, paddedSamples)
		}
	}

	for y := 0; y < int(h); y++ {
		rawRow := raw[uint64(y)*paddedRow : uint64(y+1)*paddedRow]
		dstOff := int(offset + uint64(y)*stride)

		switch img.predictor {
		case PredictorFloat:
			// The byte planes span the whole padded row; decode it fully,
			// then keep the unpadded prefix.
			if scratch32 != nil {
				predictor.InverseFloat32(rawRow, sppChunk, scratch32)
				copy(dst.F32[dstOff:dstOff+rowSamples], scratch32[:rowSamples])
			} else {
				predictor.InverseFloat64(rawRow, sppChunk, scratch64)
				copy(dst.F64[dstOff:dstOff+rowSamples], scratch64[:rowSamples])
			}
		case PredictorHorizontal:
			dst.unpackRow(rawRow, dstOff, rowSamples, d.r.Order())
			dst.inverseHorizontal(dstOff, rowSamples, sppChunk)
		default:
			dst.unpackRow(rawRow, dstOff, rowSamples, d.r.Order())
		}

		if invert {
			if err := dst.invertWhiteIsZero(dstOff, rowSamples); err != nil {
				return err
			}
		}
	}
	return nil
}

// expandJPEGChunk decodes a modern-JPEG chunk. The bitstream's native
// samples pass through; the photometric tag stays authoritative for
// downstream interpretation. Alpha and extra channels would require a
// four-component baseline decode, which the underlying decoder models as
// CMYK; they pass through unchanged.
func (d *Decoder) expandJPEGChunk(index uint32, clen uint64, dst *Samples, offset, stride uint64) error {
	img := d.img
	if img.bits != 8 || img.format != SampleUint {
		return UnsupportedError("JPEG compression with non-8-bit samples")
	}
	if dst.U8 == nil {
		return UsageError("destination buffer does not match chunk layout")
	}
	w, h := img.grid.DataDimensions(index)
	sppChunk := int(img.samplesPerChunkPixel())

	data := make([]byte, clen)
	if err := d.r.ReadFull(data); err != nil {
		return chunkReadErr(err)
	}
	pix, jw, jh, components, err := compression.DecodeJPEG(data, img.jpegTables)
	if err != nil {
		return FormatError(err.Error())
	}
	if components != sppChunk || jw < int(w) || jh < int(h) {
		return errInconsistentSizes
	}

	rowSamples := int(w) * sppChunk
	for y := 0; y < int(h); y++ {
		src := pix[y*jw*components:]
		dstOff := int(offset + uint64(y)*stride)
		copy(dst.U8[dstOff:dstOff+rowSamples], src[:rowSamples])
		if img.photometric == WhiteIsZero {
			if err := dst.invertWhiteIsZero(dstOff, rowSamples); err != nil {
				return err
			}
		}
	}
	return nil
}

func chunkReadErr(err error) error {
	if errors.Is(err, compression.ErrBound) {
		return ErrLimitsExceeded
	}
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return FormatError("truncated chunk data")
	}
	return err
}
