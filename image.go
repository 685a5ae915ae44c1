package tiff

import (
	"fmt"

	"github.com/mrjoshuak/go-tiff/internal/chunks"
)

// imageState holds the parameters derived from the current IFD that the
// chunk pipeline needs. It is rebuilt for every image and dropped when the
// walker advances.
type imageState struct {
	width  uint32
	height uint32

	bits        uint8
	samples     uint16
	format      SampleFormat
	photometric Photometric
	compression CompressionMethod
	predictor   Predictor
	planar      PlanarConfig

	jpegTables []byte

	grid         chunks.Grid
	rowsPerStrip uint32
	chunkOffsets []uint64
	chunkCounts  []uint64
}

// tagFetch resolves a tag of the current directory to its decoded value.
// The boolean reports presence.
type tagFetch func(Tag) (Value, bool, error)

func requiredTag(tag Tag) error {
	return FormatError(fmt.Sprintf("required tag %d not found", tag))
}

func fetchUint(get tagFetch, tag Tag) (uint64, bool, error) {
	v, ok, err := get(tag)
	if err != nil || !ok {
		return 0, ok, err
	}
	u, err := v.Uint()
	if err != nil {
		return 0, true, err
	}
	return u, true, nil
}

func fetchUintDefault(get tagFetch, tag Tag, def uint64) (uint64, error) {
	u, ok, err := fetchUint(get, tag)
	if err != nil {
		return 0, err
	}
	if !ok {
		return def, nil
	}
	return u, nil
}

// newImageState derives and validates the image parameters of one IFD.
func newImageState(get tagFetch) (*imageState, error) {
	img := &imageState{}

	w, ok, err := fetchUint(get, TagImageWidth)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, requiredTag(TagImageWidth)
	}
	h, ok, err := fetchUint(get, TagImageLength)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, requiredTag(TagImageLength)
	}
	if w > 0xffffffff || h > 0xffffffff {
		return nil, errIntSize
	}
	img.width, img.height = uint32(w), uint32(h)

	spp, err := fetchUintDefault(get, TagSamplesPerPixel, 1)
	if err != nil {
		return nil, err
	}
	if spp == 0 {
		return nil, FormatError("samples per pixel is zero")
	}
	if spp > 0xffff {
		return nil, errIntSize
	}
	img.samples = uint16(spp)

	if err := img.readBitsPerSample(get); err != nil {
		return nil, err
	}
	if err := img.readSampleFormat(get); err != nil {
		return nil, err
	}

	photo, ok, err := fetchUint(get, TagPhotometricInterpretation)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, requiredTag(TagPhotometricInterpretation)
	}
	img.photometric = Photometric(photo)
	switch img.photometric {
	// Palette, mask and CIELab images are recognized here so their tags stay
	// readable; unpacking them fails later in colorType.
	case WhiteIsZero, BlackIsZero, RGB, RGBPalette, TransparencyMask, CMYK, YCbCr, CIELab:
	default:
		return nil, unsupportedInterpretation(img.photometric)
	}

	comp, err := fetchUintDefault(get, TagCompression, uint64(CompressionNone))
	if err != nil {
		return nil, err
	}
	img.compression = CompressionMethod(comp)
	switch img.compression {
	case CompressionNone, CompressionLZW, CompressionDeflate, CompressionOldDeflate,
		CompressionPackBits, CompressionFax4, CompressionJPEG, CompressionZStd:
	default:
		return nil, unsupportedCompression(img.compression)
	}

	planar, err := fetchUintDefault(get, TagPlanarConfiguration, uint64(PlanarChunky))
	if err != nil {
		return nil, err
	}
	img.planar = PlanarConfig(planar)
	switch img.planar {
	case PlanarChunky, PlanarSeparate:
	default:
		return nil, FormatError(fmt.Sprintf("unknown planar configuration %d", planar))
	}

	pred, err := fetchUintDefault(get, TagPredictor, uint64(PredictorNone))
	if err != nil {
		return nil, err
	}
	img.predictor = Predictor(pred)
	switch img.predictor {
	case PredictorNone:
	case PredictorHorizontal:
		if img.bits < 8 {
			return nil, UnsupportedError(fmt.Sprintf("horizontal predictor with %d bits per sample", img.bits))
		}
	case PredictorFloat:
		if img.format != SampleFloat || (img.bits != 32 && img.bits != 64) {
			return nil, UnsupportedError("floating-point predictor on non-float samples")
		}
	default:
		return nil, FormatError(fmt.Sprintf("unknown predictor %d", pred))
	}

	if tables, ok, err := get(TagJPEGTables); err != nil {
		return nil, err
	} else if ok {
		raw, err := tables.Bytes()
		if err != nil {
			return nil, err
		}
		img.jpegTables = raw
	}

	if err := img.readLayout(get); err != nil {
		return nil, err
	}
	return img, nil
}

func (img *imageState) readBitsPerSample(get tagFetch) error {
	v, ok, err := get(TagBitsPerSample)
	if err != nil {
		return err
	}
	if !ok {
		img.bits = 1
		return nil
	}
	bits, err := v.UintSlice()
	if err != nil {
		return err
	}
	if len(bits) != 1 && len(bits) != int(img.samples) {
		return errInconsistentSizes
	}
	// Per-channel depths are recorded for validation only; they must agree.
	for _, b := range bits[1:] {
		if b != bits[0] {
			return UnsupportedError("differing bits per sample across channels")
		}
	}
	switch bits[0] {
	case 1, 2, 4, 8, 16, 32, 64:
		img.bits = uint8(bits[0])
	default:
		return UnsupportedError(fmt.Sprintf("%d bits per sample", bits[0]))
	}
	return nil
}

func (img *imageState) readSampleFormat(get tagFetch) error {
	v, ok, err := get(TagSampleFormat)
	if err != nil {
		return err
	}
	if !ok {
		img.format = SampleUint
		return nil
	}
	formats, err := v.UintSlice()
	if err != nil {
		return err
	}
	if len(formats) == 0 {
		return FormatError("empty SampleFormat tag")
	}
	for _, f := range formats[1:] {
		if f != formats[0] {
			return UnsupportedError("differing sample formats across channels")
		}
	}
	img.format = SampleFormat(formats[0])
	switch img.format {
	case SampleUint, SampleInt, SampleFloat, SampleVoid:
	default:
		return UnsupportedError(fmt.Sprintf("sample format %d", formats[0]))
	}
	return nil
}

// readLayout resolves the strip-or-tile chunk layout. Exactly one of the
// two tag sets must be present.
func (img *imageState) readLayout(get tagFetch) error {
	stripOffsets, hasStrips, err := get(TagStripOffsets)
	if err != nil {
		return err
	}
	tileOffsets, hasTiles, err := get(TagTileOffsets)
	if err != nil {
		return err
	}
	if hasStrips == hasTiles {
		return errStripTileConflict
	}

	planes := uint32(1)
	if img.planar == PlanarSeparate {
		planes = uint32(img.samples)
	}

	if hasStrips {
		rows, err := fetchUintDefault(get, TagRowsPerStrip, uint64(img.height))
		if err != nil {
			return err
		}
		if rows > 0xffffffff {
			return errInconsistentSizes
		}
		if rows == 0 {
			// Zero-height images have no rows to split; otherwise a zero
			// RowsPerStrip is nonsense.
			if img.height != 0 {
				return errInconsistentSizes
			}
			rows = 1
		}
		if img.height > 0 && rows > uint64(img.height) {
			rows = uint64(img.height)
		}
		img.rowsPerStrip = uint32(rows)
		// A zero-width image still needs a non-degenerate grid.
		cw := img.width
		if cw == 0 {
			cw = 1
		}
		img.grid = chunks.Grid{
			Kind:        chunks.Strip,
			ImageWidth:  img.width,
			ImageHeight: img.height,
			ChunkWidth:  cw,
			ChunkLength: img.rowsPerStrip,
			Planes:      planes,
		}
		counts, ok, err := get(TagStripByteCounts)
		if err != nil {
			return err
		}
		if !ok {
			return requiredTag(TagStripByteCounts)
		}
		return img.setChunkArrays(stripOffsets, counts)
	}

	tw, ok, err := fetchUint(get, TagTileWidth)
	if err != nil {
		return err
	}
	if !ok {
		return requiredTag(TagTileWidth)
	}
	tl, ok, err := fetchUint(get, TagTileLength)
	if err != nil {
		return err
	}
	if !ok {
		return requiredTag(TagTileLength)
	}
	if tw == 0 || tl == 0 || tw > 0xffffffff || tl > 0xffffffff {
		return errInconsistentSizes
	}
	img.grid = chunks.Grid{
		Kind:        chunks.Tile,
		ImageWidth:  img.width,
		ImageHeight: img.height,
		ChunkWidth:  uint32(tw),
		ChunkLength: uint32(tl),
		Planes:      planes,
	}
	counts, ok, err := get(TagTileByteCounts)
	if err != nil {
		return err
	}
	if !ok {
		return requiredTag(TagTileByteCounts)
	}
	return img.setChunkArrays(tileOffsets, counts)
}

func (img *imageState) setChunkArrays(offsets, counts Value) error {
	offs, err := offsets.UintSlice()
	if err != nil {
		return err
	}
	cnts, err := counts.UintSlice()
	if err != nil {
		return err
	}
	if len(offs) != len(cnts) {
		return errInconsistentSizes
	}
	if img.width > 0 && img.height > 0 && uint32(len(offs)) != img.grid.Count() {
		return FormatError(fmt.Sprintf("expected %d chunks, found %d", img.grid.Count(), len(offs)))
	}
	img.chunkOffsets = offs
	img.chunkCounts = cnts
	return nil
}

// samplesPerChunkPixel is the per-pixel sample count inside one chunk:
// planar chunks carry a single plane.
func (img *imageState) samplesPerChunkPixel() uint32 {
	if img.planar == PlanarSeparate {
		return 1
	}
	return uint32(img.samples)
}

// rowSize returns the byte size of one scanline of w pixels inside a chunk.
// Rows are byte-aligned for sub-byte depths.
func (img *imageState) rowSize(w uint32) (uint64, bool) {
	rowBits, ok := mulChecked(uint64(w)*uint64(img.samplesPerChunkPixel()), uint64(img.bits))
	if !ok {
		return 0, false
	}
	return (rowBits + 7) / 8, true
}

// chunkUncompressedSize returns the byte size one chunk decompresses to.
// Strip streams cover only the strip's actual rows; tile streams always
// cover the full padded tile.
func (img *imageState) chunkUncompressedSize(index uint32) (uint64, bool) {
	if img.grid.Kind == chunks.Strip {
		_, h := img.grid.DataDimensions(index)
		row, ok := img.rowSize(img.width)
		if !ok {
			return 0, false
		}
		return mulChecked(row, uint64(h))
	}
	row, ok := img.rowSize(img.grid.ChunkWidth)
	if !ok {
		return 0, false
	}
	return mulChecked(row, uint64(img.grid.ChunkLength))
}

// colorType describes the decoded sample layout of the image.
func (img *imageState) colorType() (ColorType, error) {
	switch img.photometric {
	case RGBPalette, TransparencyMask, CIELab:
		return ColorType{}, unsupportedInterpretation(img.photometric)
	}
	ct := ColorType{Bits: img.bits, Format: img.format}
	switch {
	case img.photometric == RGB && img.samples == 3:
		ct.Kind = KindRGB
	case img.photometric == RGB && img.samples == 4:
		ct.Kind = KindRGBA
	case img.photometric == CMYK && img.samples == 4:
		ct.Kind = KindCMYK
	case img.photometric == YCbCr && img.samples == 3:
		ct.Kind = KindYCbCr
	case (img.photometric == WhiteIsZero || img.photometric == BlackIsZero) && img.samples == 1:
		ct.Kind = KindGray
	case (img.photometric == WhiteIsZero || img.photometric == BlackIsZero) && img.samples == 2:
		ct.Kind = KindGrayA
	default:
		ct.Kind = KindMultiband
		ct.Bands = img.samples
	}
	return ct, nil
}
