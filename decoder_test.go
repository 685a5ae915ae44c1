package tiff

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/jpeg"
	"testing"

	"github.com/mrjoshuak/go-tiff/internal/compression"
)

// fileBuilder assembles little-endian test files byte by byte: header, data
// blocks, then IFDs with explicit next-pointers.
type fileBuilder struct {
	big   bool
	buf   []byte
	first uint64
}

func newBuilder(big bool) *fileBuilder {
	b := &fileBuilder{big: big}
	b.buf = append(b.buf, 'I', 'I')
	if big {
		b.u16(43)
		b.u16(8)
		b.u16(0)
		b.buf = append(b.buf, make([]byte, 8)...) // first-IFD pointer, patched in bytes()
	} else {
		b.u16(42)
		b.buf = append(b.buf, make([]byte, 4)...)
	}
	return b
}

func (b *fileBuilder) u16(v uint16) {
	b.buf = binary.LittleEndian.AppendUint16(b.buf, v)
}

func (b *fileBuilder) u32(v uint32) {
	b.buf = binary.LittleEndian.AppendUint32(b.buf, v)
}

func (b *fileBuilder) u64(v uint64) {
	b.buf = binary.LittleEndian.AppendUint64(b.buf, v)
}

func (b *fileBuilder) offsetField(v uint64) {
	if b.big {
		b.u64(v)
	} else {
		b.u32(uint32(v))
	}
}

// addData appends a raw block and returns its offset.
func (b *fileBuilder) addData(p []byte) uint64 {
	off := uint64(len(b.buf))
	b.buf = append(b.buf, p...)
	return off
}

// testEntry is one IFD entry; the payload is its serialized little-endian
// element data.
type testEntry struct {
	tag     uint16
	typ     Type
	count   uint64
	payload []byte
}

func shortEntry(tag uint16, vs ...uint16) testEntry {
	var p []byte
	for _, v := range vs {
		p = binary.LittleEndian.AppendUint16(p, v)
	}
	return testEntry{tag: tag, typ: TypeShort, count: uint64(len(vs)), payload: p}
}

func longEntry(tag uint16, vs ...uint32) testEntry {
	var p []byte
	for _, v := range vs {
		p = binary.LittleEndian.AppendUint32(p, v)
	}
	return testEntry{tag: tag, typ: TypeLong, count: uint64(len(vs)), payload: p}
}

func long8Entry(tag uint16, vs ...uint64) testEntry {
	var p []byte
	for _, v := range vs {
		p = binary.LittleEndian.AppendUint64(p, v)
	}
	return testEntry{tag: tag, typ: TypeLong8, count: uint64(len(vs)), payload: p}
}

// addIFD writes the entries (which must be pre-sorted by tag) followed by
// the next pointer, spilling oversized payloads into data blocks written
// just before the IFD. It returns the IFD's offset.
func (b *fileBuilder) addIFD(entries []testEntry, next uint64) uint64 {
	fieldSize := 4
	if b.big {
		fieldSize = 8
	}

	// Spill out-of-line payloads first so their offsets are known.
	offsets := make(map[int]uint64)
	for i, e := range entries {
		if len(e.payload) > fieldSize {
			offsets[i] = b.addData(e.payload)
		}
	}

	off := uint64(len(b.buf))
	if b.big {
		b.u64(uint64(len(entries)))
	} else {
		b.u16(uint16(len(entries)))
	}
	for i, e := range entries {
		b.u16(e.tag)
		b.u16(uint16(e.typ))
		if b.big {
			b.u64(e.count)
		} else {
			b.u32(uint32(e.count))
		}
		if spill, ok := offsets[i]; ok {
			b.offsetField(spill)
		} else {
			field := make([]byte, fieldSize)
			copy(field, e.payload)
			b.buf = append(b.buf, field...)
		}
	}
	b.offsetField(next)
	if b.first == 0 {
		b.first = off
	}
	return off
}

// bytes returns the finished file with the first-IFD pointer patched.
func (b *fileBuilder) bytes() []byte {
	if b.big {
		binary.LittleEndian.PutUint64(b.buf[8:], b.first)
	} else {
		binary.LittleEndian.PutUint32(b.buf[4:], uint32(b.first))
	}
	return b.buf
}

func (b *fileBuilder) setFirst(off uint64) { b.first = off }

func mustDecoder(t *testing.T, data []byte) *Decoder {
	t.Helper()
	d, err := NewDecoder(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	return d
}

// buildRGB4x4 is the 4x4 RGB8 uncompressed little-endian classic file with
// pixel bytes 0..47.
func buildRGB4x4() ([]byte, []byte) {
	pixels := make([]byte, 48)
	for i := range pixels {
		pixels[i] = byte(i)
	}
	b := newBuilder(false)
	dataOff := b.addData(pixels)
	b.addIFD([]testEntry{
		shortEntry(uint16(TagImageWidth), 4),
		shortEntry(uint16(TagImageLength), 4),
		shortEntry(uint16(TagBitsPerSample), 8, 8, 8),
		shortEntry(uint16(TagCompression), 1),
		shortEntry(uint16(TagPhotometricInterpretation), 2),
		longEntry(uint16(TagStripOffsets), uint32(dataOff)),
		shortEntry(uint16(TagSamplesPerPixel), 3),
		shortEntry(uint16(TagRowsPerStrip), 4),
		longEntry(uint16(TagStripByteCounts), 48),
	}, 0)
	return b.bytes(), pixels
}

func TestDecodeRGB4x4(t *testing.T) {
	file, pixels := buildRGB4x4()
	d := mustDecoder(t, file)

	if w, h := d.Dimensions(); w != 4 || h != 4 {
		t.Fatalf("Dimensions() = %dx%d, want 4x4", w, h)
	}
	ct, err := d.ColorType()
	if err != nil {
		t.Fatal(err)
	}
	if ct != RGB8 {
		t.Errorf("ColorType() = %v, want RGB8", ct)
	}
	if got := d.ChunkCount(); got != 1 {
		t.Errorf("ChunkCount() = %d, want 1", got)
	}

	s, err := d.ReadImage()
	if err != nil {
		t.Fatalf("ReadImage: %v", err)
	}
	if !bytes.Equal(s.U8, pixels) {
		t.Errorf("pixels = %x, want %x", s.U8, pixels)
	}

	// The single chunk decodes to the same bytes.
	c, err := d.ReadChunk(0)
	if err != nil {
		t.Fatalf("ReadChunk: %v", err)
	}
	if !bytes.Equal(c.U8, pixels) {
		t.Errorf("chunk pixels differ from image pixels")
	}
	if d.MoreImages() {
		t.Error("MoreImages() = true for single-page file")
	}
}

func TestDecodeBilevelWhiteIsZero(t *testing.T) {
	// 16x1, 1 bit, WhiteIsZero, raster 0xF0 0x0F.
	b := newBuilder(false)
	dataOff := b.addData([]byte{0xF0, 0x0F})
	b.addIFD([]testEntry{
		shortEntry(uint16(TagImageWidth), 16),
		shortEntry(uint16(TagImageLength), 1),
		shortEntry(uint16(TagBitsPerSample), 1),
		shortEntry(uint16(TagCompression), 1),
		shortEntry(uint16(TagPhotometricInterpretation), 0),
		longEntry(uint16(TagStripOffsets), uint32(dataOff)),
		shortEntry(uint16(TagRowsPerStrip), 1),
		longEntry(uint16(TagStripByteCounts), 2),
	}, 0)

	d := mustDecoder(t, b.bytes())
	s, err := d.ReadImage()
	if err != nil {
		t.Fatalf("ReadImage: %v", err)
	}
	want := []uint8{0, 0, 0, 0, 1, 1, 1, 1, 1, 1, 1, 1, 0, 0, 0, 0}
	if !bytes.Equal(s.U8, want) {
		t.Errorf("samples = %v, want %v", s.U8, want)
	}
}

func TestDecodeTiledNoPaddingWhenExactMultiple(t *testing.T) {
	// 4x4 gray image in 2x2 tiles: every tile contributes all four pixels.
	tile := func(vals ...byte) []byte { return vals }
	b := newBuilder(false)
	t0 := b.addData(tile(0, 1, 4, 5))
	t1 := b.addData(tile(2, 3, 6, 7))
	t2 := b.addData(tile(8, 9, 12, 13))
	t3 := b.addData(tile(10, 11, 14, 15))
	b.addIFD([]testEntry{
		shortEntry(uint16(TagImageWidth), 4),
		shortEntry(uint16(TagImageLength), 4),
		shortEntry(uint16(TagBitsPerSample), 8),
		shortEntry(uint16(TagCompression), 1),
		shortEntry(uint16(TagPhotometricInterpretation), 1),
		shortEntry(uint16(TagTileWidth), 2),
		shortEntry(uint16(TagTileLength), 2),
		longEntry(uint16(TagTileOffsets), uint32(t0), uint32(t1), uint32(t2), uint32(t3)),
		longEntry(uint16(TagTileByteCounts), 4, 4, 4, 4),
	}, 0)

	d := mustDecoder(t, b.bytes())
	if !d.Tiled() {
		t.Fatal("Tiled() = false")
	}
	s, err := d.ReadImage()
	if err != nil {
		t.Fatalf("ReadImage: %v", err)
	}
	want := make([]byte, 16)
	for i := range want {
		want[i] = byte(i)
	}
	if !bytes.Equal(s.U8, want) {
		t.Errorf("assembled = %v, want %v", s.U8, want)
	}
}

func TestDecodeTiledTrimsEdgePadding(t *testing.T) {
	// 3x3 image in 2x2 tiles; padding bytes are 0xEE and must never land in
	// the output.
	b := newBuilder(false)
	t0 := b.addData([]byte{0, 1, 3, 4})
	t1 := b.addData([]byte{2, 0xEE, 5, 0xEE})
	t2 := b.addData([]byte{6, 7, 0xEE, 0xEE})
	t3 := b.addData([]byte{8, 0xEE, 0xEE, 0xEE})
	b.addIFD([]testEntry{
		shortEntry(uint16(TagImageWidth), 3),
		shortEntry(uint16(TagImageLength), 3),
		shortEntry(uint16(TagBitsPerSample), 8),
		shortEntry(uint16(TagCompression), 1),
		shortEntry(uint16(TagPhotometricInterpretation), 1),
		shortEntry(uint16(TagTileWidth), 2),
		shortEntry(uint16(TagTileLength), 2),
		longEntry(uint16(TagTileOffsets), uint32(t0), uint32(t1), uint32(t2), uint32(t3)),
		longEntry(uint16(TagTileByteCounts), 4, 4, 4, 4),
	}, 0)

	d := mustDecoder(t, b.bytes())
	if w, h, err := d.ChunkDataDimensions(3); err != nil || w != 1 || h != 1 {
		t.Errorf("ChunkDataDimensions(3) = %dx%d, %v; want 1x1", w, h, err)
	}
	s, err := d.ReadImage()
	if err != nil {
		t.Fatalf("ReadImage: %v", err)
	}
	want := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8}
	if !bytes.Equal(s.U8, want) {
		t.Errorf("assembled = %v, want %v", s.U8, want)
	}
}

func TestDecodeLZWWithoutEOI(t *testing.T) {
	// Clear(256) then literal 0xAA, no terminating EOI: 9-bit codes
	// 100000000 010101010 packed MSB-first.
	b := newBuilder(false)
	dataOff := b.addData([]byte{0x80, 0x2A, 0x80})
	b.addIFD([]testEntry{
		shortEntry(uint16(TagImageWidth), 1),
		shortEntry(uint16(TagImageLength), 1),
		shortEntry(uint16(TagBitsPerSample), 8),
		shortEntry(uint16(TagCompression), uint16(CompressionLZW)),
		shortEntry(uint16(TagPhotometricInterpretation), 1),
		longEntry(uint16(TagStripOffsets), uint32(dataOff)),
		shortEntry(uint16(TagRowsPerStrip), 1),
		longEntry(uint16(TagStripByteCounts), 3),
	}, 0)

	d := mustDecoder(t, b.bytes())
	s, err := d.ReadImage()
	if err != nil {
		t.Fatalf("ReadImage: %v", err)
	}
	if len(s.U8) != 1 || s.U8[0] != 0xAA {
		t.Errorf("samples = %x, want aa", s.U8)
	}
}

func TestDecodeBigTIFFTiledPackBits(t *testing.T) {
	// 256x256 gray BigTIFF in four 128x128 PackBits tiles, each filled with
	// its tile index.
	b := newBuilder(true)
	var offs, counts []uint64
	for i := 0; i < 4; i++ {
		raw := bytes.Repeat([]byte{byte(i)}, 128*128)
		var comp bytes.Buffer
		c, err := compression.NewCompressor(uint16(CompressionPackBits))
		if err != nil {
			t.Fatal(err)
		}
		n, err := c.Compress(&comp, raw)
		if err != nil {
			t.Fatal(err)
		}
		offs = append(offs, b.addData(comp.Bytes()))
		counts = append(counts, uint64(n))
	}
	b.addIFD([]testEntry{
		shortEntry(uint16(TagImageWidth), 256),
		shortEntry(uint16(TagImageLength), 256),
		shortEntry(uint16(TagBitsPerSample), 8),
		shortEntry(uint16(TagCompression), uint16(CompressionPackBits)),
		shortEntry(uint16(TagPhotometricInterpretation), 1),
		shortEntry(uint16(TagTileWidth), 128),
		shortEntry(uint16(TagTileLength), 128),
		long8Entry(uint16(TagTileOffsets), offs...),
		long8Entry(uint16(TagTileByteCounts), counts...),
	}, 0)

	d := mustDecoder(t, b.bytes())
	if !d.IsBigTIFF() {
		t.Fatal("IsBigTIFF() = false")
	}
	s, err := d.ReadImage()
	if err != nil {
		t.Fatalf("ReadImage: %v", err)
	}
	at := func(x, y int) byte { return s.U8[y*256+x] }
	checks := []struct {
		x, y int
		want byte
	}{
		{0, 0, 0}, {127, 127, 0},
		{128, 0, 1}, {255, 127, 1},
		{0, 128, 2}, {127, 255, 2},
		{128, 128, 3}, {255, 255, 3},
	}
	for _, c := range checks {
		if got := at(c.x, c.y); got != c.want {
			t.Errorf("pixel (%d,%d) = %d, want %d", c.x, c.y, got, c.want)
		}
	}
}

func TestDecodePlanarSeparate(t *testing.T) {
	// 2x2 RGB stored as three one-plane strips. The assembled buffer is
	// plane-major.
	b := newBuilder(false)
	r := b.addData([]byte{10, 11, 12, 13})
	g := b.addData([]byte{20, 21, 22, 23})
	bl := b.addData([]byte{30, 31, 32, 33})
	b.addIFD([]testEntry{
		shortEntry(uint16(TagImageWidth), 2),
		shortEntry(uint16(TagImageLength), 2),
		shortEntry(uint16(TagBitsPerSample), 8, 8, 8),
		shortEntry(uint16(TagCompression), 1),
		shortEntry(uint16(TagPhotometricInterpretation), 2),
		longEntry(uint16(TagStripOffsets), uint32(r), uint32(g), uint32(bl)),
		shortEntry(uint16(TagSamplesPerPixel), 3),
		shortEntry(uint16(TagRowsPerStrip), 2),
		longEntry(uint16(TagStripByteCounts), 4, 4, 4),
		shortEntry(uint16(TagPlanarConfiguration), 2),
	}, 0)

	d := mustDecoder(t, b.bytes())
	s, err := d.ReadImage()
	if err != nil {
		t.Fatalf("ReadImage: %v", err)
	}
	want := []byte{10, 11, 12, 13, 20, 21, 22, 23, 30, 31, 32, 33}
	if !bytes.Equal(s.U8, want) {
		t.Errorf("planar assembly = %v, want %v", s.U8, want)
	}
}

func TestSelfReferencingIFDIsACycle(t *testing.T) {
	b := newBuilder(false)
	dataOff := b.addData([]byte{0})
	entries := []testEntry{
		shortEntry(uint16(TagImageWidth), 1),
		shortEntry(uint16(TagImageLength), 1),
		shortEntry(uint16(TagBitsPerSample), 8),
		shortEntry(uint16(TagPhotometricInterpretation), 1),
		longEntry(uint16(TagStripOffsets), uint32(dataOff)),
		longEntry(uint16(TagStripByteCounts), 1),
	}
	// The IFD's next pointer equals its own offset. Entry payloads are all
	// inline, so the IFD lands right after the data block.
	ifdOffset := uint64(len(b.buf))
	b.addIFD(entries, ifdOffset)

	_, err := NewDecoder(bytes.NewReader(b.bytes()))
	if !errors.Is(err, errCycleInOffsets) {
		t.Errorf("NewDecoder = %v, want cycle error", err)
	}
}

func TestTwoIFDCycle(t *testing.T) {
	b := newBuilder(false)
	dataOff := b.addData([]byte{0})
	entries := func() []testEntry {
		return []testEntry{
			shortEntry(uint16(TagImageWidth), 1),
			shortEntry(uint16(TagImageLength), 1),
			shortEntry(uint16(TagBitsPerSample), 8),
			shortEntry(uint16(TagPhotometricInterpretation), 1),
			longEntry(uint16(TagStripOffsets), uint32(dataOff)),
			longEntry(uint16(TagStripByteCounts), 1),
		}
	}
	firstOff := uint64(len(b.buf))
	// The second IFD sits right after the first; both are inline-only, so
	// sizes are deterministic: 2 + 6*12 + 4 bytes each.
	secondOff := firstOff + 2 + 6*12 + 4
	b.addIFD(entries(), secondOff)
	b.addIFD(entries(), firstOff)
	b.setFirst(firstOff)

	d := mustDecoder(t, b.bytes())
	if !d.MoreImages() {
		t.Fatal("MoreImages() = false")
	}
	if err := d.NextImage(); !errors.Is(err, errCycleInOffsets) {
		t.Errorf("NextImage = %v, want cycle error", err)
	}
}

func TestChunkSizeLimit(t *testing.T) {
	file, _ := buildRGB4x4()
	d := mustDecoder(t, file)
	limits := DefaultLimits()
	limits.IntermediateBufferSize = 16
	d.SetLimits(limits)
	if _, err := d.ReadImage(); !errors.Is(err, ErrLimitsExceeded) {
		t.Errorf("ReadImage = %v, want ErrLimitsExceeded", err)
	}
}

func TestDecodingBufferLimit(t *testing.T) {
	file, _ := buildRGB4x4()
	d := mustDecoder(t, file)
	limits := DefaultLimits()
	limits.DecodingBufferSize = 8
	d.SetLimits(limits)
	if _, err := d.ReadImage(); !errors.Is(err, ErrLimitsExceeded) {
		t.Errorf("ReadImage = %v, want ErrLimitsExceeded", err)
	}
}

func TestUncompressedLengthMismatch(t *testing.T) {
	b := newBuilder(false)
	dataOff := b.addData([]byte{1, 2, 3})
	b.addIFD([]testEntry{
		shortEntry(uint16(TagImageWidth), 2),
		shortEntry(uint16(TagImageLength), 2),
		shortEntry(uint16(TagBitsPerSample), 8),
		shortEntry(uint16(TagCompression), 1),
		shortEntry(uint16(TagPhotometricInterpretation), 1),
		longEntry(uint16(TagStripOffsets), uint32(dataOff)),
		shortEntry(uint16(TagRowsPerStrip), 2),
		longEntry(uint16(TagStripByteCounts), 3), // 4 expected
	}, 0)

	d := mustDecoder(t, b.bytes())
	var ferr FormatError
	if _, err := d.ReadImage(); !errors.As(err, &ferr) {
		t.Errorf("ReadImage = %v, want FormatError", err)
	}
}

func TestGetTagAndIter(t *testing.T) {
	file, _ := buildRGB4x4()
	d := mustDecoder(t, file)

	v, err := d.GetTag(TagBitsPerSample)
	if err != nil {
		t.Fatal(err)
	}
	bits, err := v.UintSlice()
	if err != nil {
		t.Fatal(err)
	}
	if len(bits) != 3 || bits[0] != 8 {
		t.Errorf("BitsPerSample = %v", bits)
	}

	var seen []Tag
	if err := d.TagIter(func(tag Tag, v Value) bool {
		seen = append(seen, tag)
		return true
	}); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 9 {
		t.Fatalf("TagIter visited %d tags, want 9", len(seen))
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Fatalf("tags not ascending: %v", seen)
		}
	}

	if _, err := d.GetTag(TagSoftware); err == nil {
		t.Error("GetTag(Software) succeeded for absent tag")
	}
	if _, ok, err := d.FindTag(TagSoftware); ok || err != nil {
		t.Errorf("FindTag(Software) = %v, %v", ok, err)
	}
}

func TestDecodeJPEGChunk(t *testing.T) {
	// A near-uniform gray chunk survives the lossy round trip within a small
	// tolerance.
	src := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range src.Pix {
		src.Pix[i] = 100
	}
	var stream bytes.Buffer
	if err := jpeg.Encode(&stream, src, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatal(err)
	}

	b := newBuilder(false)
	dataOff := b.addData(stream.Bytes())
	b.addIFD([]testEntry{
		shortEntry(uint16(TagImageWidth), 16),
		shortEntry(uint16(TagImageLength), 16),
		shortEntry(uint16(TagBitsPerSample), 8),
		shortEntry(uint16(TagCompression), uint16(CompressionJPEG)),
		shortEntry(uint16(TagPhotometricInterpretation), 1),
		longEntry(uint16(TagStripOffsets), uint32(dataOff)),
		shortEntry(uint16(TagRowsPerStrip), 16),
		longEntry(uint16(TagStripByteCounts), uint32(stream.Len())),
	}, 0)

	d := mustDecoder(t, b.bytes())
	s, err := d.ReadImage()
	if err != nil {
		t.Fatalf("ReadImage: %v", err)
	}
	for i, v := range s.U8 {
		if v < 97 || v > 103 {
			t.Fatalf("sample %d = %d, want about 100", i, v)
		}
	}
}

func TestReadChunkIntoWrongBuffer(t *testing.T) {
	file, _ := buildRGB4x4()
	d := mustDecoder(t, file)

	var uerr UsageError
	bad := &Samples{Format: SampleUint, Bits: 8, U8: make([]uint8, 3)}
	if err := d.ReadChunkInto(0, bad); !errors.As(err, &uerr) {
		t.Errorf("short buffer: %v, want UsageError", err)
	}
	if err := d.ReadChunkInto(9, nil); !errors.As(err, &uerr) {
		t.Errorf("bad index: %v, want UsageError", err)
	}

	good := &Samples{Format: SampleUint, Bits: 8, U8: make([]uint8, 48)}
	if err := d.ReadChunkInto(0, good); err != nil {
		t.Errorf("ReadChunkInto: %v", err)
	}
}
