package tiff

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/mrjoshuak/go-tiff/internal/byteio"
)

// dialect parameterizes the reader and writer by the widths that differ
// between classic TIFF and BigTIFF. Everything above this layer is shared.
type dialect struct {
	big bool
}

// valueFieldSize is the width of the value-or-offset field of an entry.
func (d dialect) valueFieldSize() uint64 {
	if d.big {
		return 8
	}
	return 4
}

// entrySize is the stride of one IFD entry.
func (d dialect) entrySize() uint64 {
	if d.big {
		return 20
	}
	return 12
}

// readOffset reads an offset field (4 or 8 bytes wide).
func (d dialect) readOffset(r *byteio.Reader) (uint64, error) {
	if d.big {
		return r.U64()
	}
	v, err := r.U32()
	return uint64(v), err
}

// readCount reads an IFD entry-count field (2 or 8 bytes wide).
func (d dialect) readCount(r *byteio.Reader) (uint64, error) {
	if d.big {
		return r.U64()
	}
	v, err := r.U16()
	return uint64(v), err
}

// parseHeader reads the file header and returns the endian-aware reader,
// the dialect, and the offset of the first IFD.
func parseHeader(rs io.ReadSeeker) (*byteio.Reader, dialect, uint64, error) {
	var marker [2]byte
	if _, err := io.ReadFull(rs, marker[:]); err != nil {
		return nil, dialect{}, 0, errBadByteOrder
	}
	var order binary.ByteOrder
	switch string(marker[:]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, dialect{}, 0, errBadByteOrder
	}
	r := byteio.NewReader(rs, order)

	magic, err := r.U16()
	if err != nil {
		return nil, dialect{}, 0, fmt.Errorf("reading magic: %w", err)
	}
	var d dialect
	switch magic {
	case 42:
		d = dialect{big: false}
	case 43:
		d = dialect{big: true}
		offsetSize, err := r.U16()
		if err != nil {
			return nil, dialect{}, 0, fmt.Errorf("reading offset size: %w", err)
		}
		reserved, err := r.U16()
		if err != nil {
			return nil, dialect{}, 0, fmt.Errorf("reading reserved field: %w", err)
		}
		if offsetSize != 8 || reserved != 0 {
			return nil, dialect{}, 0, errBadBigTIFFReserved
		}
	default:
		return nil, dialect{}, 0, errBadMagic
	}

	first, err := d.readOffset(r)
	if err != nil {
		return nil, dialect{}, 0, fmt.Errorf("reading first IFD offset: %w", err)
	}
	return r, d, first, nil
}

// ifdEntry is one undecoded directory entry: its type, element count, and
// the raw value-or-offset field exactly as stored.
type ifdEntry struct {
	typ   Type
	count uint64
	value []byte
}

// Directory is one parsed IFD: the tag-indexed entry table and the offset
// of the next directory in the chain (0 terminates).
type Directory struct {
	// Offset is the byte position this directory was read from.
	Offset uint64
	// Next is the next-IFD pointer; 0 terminates the chain.
	Next uint64

	tags    []Tag
	entries map[Tag]ifdEntry
}

// Tags returns the directory's tag codes in ascending order.
func (d *Directory) Tags() []Tag {
	out := make([]Tag, len(d.tags))
	copy(out, d.tags)
	return out
}

// Has reports whether the directory contains the tag.
func (d *Directory) Has(tag Tag) bool {
	_, ok := d.entries[tag]
	return ok
}

// readDirectory parses the IFD at offset. Entries must be sorted strictly
// ascending by tag code; entries with unknown type codes are preserved with
// their raw value field.
func readDirectory(r *byteio.Reader, dia dialect, limits Limits, offset uint64) (*Directory, error) {
	if offset == 0 {
		return nil, errNoDirectory
	}
	if err := r.Seek(offset); err != nil {
		return nil, seekErr(err)
	}
	count, err := dia.readCount(r)
	if err != nil {
		return nil, fmt.Errorf("reading IFD entry count: %w", err)
	}
	if count > limits.MaxEntries {
		return nil, ErrLimitsExceeded
	}

	dir := &Directory{
		Offset:  offset,
		entries: make(map[Tag]ifdEntry, count),
	}
	prev := -1
	for i := uint64(0); i < count; i++ {
		tagCode, err := r.U16()
		if err != nil {
			return nil, fmt.Errorf("reading IFD entry: %w", err)
		}
		if int(tagCode) <= prev {
			return nil, errTagOrder
		}
		prev = int(tagCode)

		typeCode, err := r.U16()
		if err != nil {
			return nil, fmt.Errorf("reading IFD entry: %w", err)
		}
		n, err := dia.readOffset(r)
		if err != nil {
			return nil, fmt.Errorf("reading IFD entry: %w", err)
		}
		value := make([]byte, dia.valueFieldSize())
		if err := r.ReadFull(value); err != nil {
			return nil, fmt.Errorf("reading IFD entry: %w", err)
		}
		dir.tags = append(dir.tags, Tag(tagCode))
		dir.entries[Tag(tagCode)] = ifdEntry{typ: Type(typeCode), count: n, value: value}
	}

	next, err := dia.readOffset(r)
	if err != nil {
		return nil, fmt.Errorf("reading next-IFD offset: %w", err)
	}
	dir.Next = next
	return dir, nil
}

// decodeValue resolves one entry into a typed Value, fetching out-of-line
// payloads from their declared offset.
func decodeValue(r *byteio.Reader, dia dialect, limits Limits, e ifdEntry) (Value, error) {
	size := e.typ.size()
	if size == 0 {
		// Unknown type code: preserve the raw value field.
		return Value{typ: TypeUndefined, b: append([]byte(nil), e.value...)}, nil
	}
	total, ok := mulChecked(e.count, size)
	if !ok {
		return Value{}, errIntSize
	}
	if total > limits.IFDValueSize {
		return Value{}, ErrLimitsExceeded
	}

	var er *byteio.Reader
	if total <= dia.valueFieldSize() {
		// Inline: the payload is left-aligned in the value field.
		er = byteio.NewReader(bytes.NewReader(e.value), r.Order())
	} else {
		off, err := dia.readOffsetField(r.Order(), e.value)
		if err != nil {
			return Value{}, err
		}
		if err := r.Seek(off); err != nil {
			return Value{}, seekErr(err)
		}
		er = r
	}
	return decodeElements(er, e.typ, e.count)
}

// readOffsetField decodes the value field as an absolute byte offset.
func (d dialect) readOffsetField(order binary.ByteOrder, field []byte) (uint64, error) {
	if d.big {
		return order.Uint64(field), nil
	}
	return uint64(order.Uint32(field)), nil
}

// decodeElements reads count elements of the given type.
func decodeElements(r *byteio.Reader, typ Type, count uint64) (Value, error) {
	n := int(count)
	switch typ {
	case TypeByte, TypeShort, TypeLong, TypeLong8, TypeIfd, TypeIfd8:
		us := make([]uint64, n)
		for i := range us {
			var v uint64
			var err error
			switch typ {
			case TypeByte:
				var b uint8
				b, err = r.U8()
				v = uint64(b)
			case TypeShort:
				var s uint16
				s, err = r.U16()
				v = uint64(s)
			case TypeLong, TypeIfd:
				var l uint32
				l, err = r.U32()
				v = uint64(l)
			default:
				v, err = r.U64()
			}
			if err != nil {
				return Value{}, truncatedValue(err)
			}
			us[i] = v
		}
		return Value{typ: typ, u: us}, nil

	case TypeSByte, TypeSShort, TypeSLong, TypeSLong8:
		is := make([]int64, n)
		for i := range is {
			var v int64
			var err error
			switch typ {
			case TypeSByte:
				var b int8
				b, err = r.I8()
				v = int64(b)
			case TypeSShort:
				var s int16
				s, err = r.I16()
				v = int64(s)
			case TypeSLong:
				var l int32
				l, err = r.I32()
				v = int64(l)
			default:
				v, err = r.I64()
			}
			if err != nil {
				return Value{}, truncatedValue(err)
			}
			is[i] = v
		}
		return Value{typ: typ, i: is}, nil

	case TypeFloat:
		fs := make([]float64, n)
		for i := range fs {
			v, err := r.F32()
			if err != nil {
				return Value{}, truncatedValue(err)
			}
			fs[i] = float64(v)
		}
		return Value{typ: typ, f: fs}, nil

	case TypeDouble:
		fs := make([]float64, n)
		for i := range fs {
			v, err := r.F64()
			if err != nil {
				return Value{}, truncatedValue(err)
			}
			fs[i] = v
		}
		return Value{typ: typ, f: fs}, nil

	case TypeRational:
		rs := make([]Rational, n)
		for i := range rs {
			num, err := r.U32()
			if err != nil {
				return Value{}, truncatedValue(err)
			}
			den, err := r.U32()
			if err != nil {
				return Value{}, truncatedValue(err)
			}
			rs[i] = Rational{Numerator: num, Denominator: den}
		}
		return Value{typ: typ, r: rs}, nil

	case TypeSRational:
		rs := make([]SRational, n)
		for i := range rs {
			num, err := r.I32()
			if err != nil {
				return Value{}, truncatedValue(err)
			}
			den, err := r.I32()
			if err != nil {
				return Value{}, truncatedValue(err)
			}
			rs[i] = SRational{Numerator: num, Denominator: den}
		}
		return Value{typ: typ, sr: rs}, nil

	case TypeAscii:
		raw := make([]byte, n)
		if err := r.ReadFull(raw); err != nil {
			return Value{}, truncatedValue(err)
		}
		if n == 0 || raw[n-1] != 0 {
			return Value{}, errNoNulTerminator
		}
		for _, c := range raw {
			if c > 0x7f {
				return Value{}, errNotAscii
			}
		}
		end := bytes.IndexByte(raw, 0)
		return Value{typ: typ, s: string(raw[:end])}, nil

	case TypeUndefined, TypeUTF8:
		raw := make([]byte, n)
		if err := r.ReadFull(raw); err != nil {
			return Value{}, truncatedValue(err)
		}
		return Value{typ: typ, b: raw}, nil
	}
	return Value{}, FormatError(fmt.Sprintf("invalid entry type %d", typ))
}

func truncatedValue(err error) error {
	if err == io.ErrUnexpectedEOF {
		return FormatError("truncated tag value")
	}
	return err
}

func seekErr(err error) error {
	if err == byteio.ErrOffsetRange {
		return errIntSize
	}
	return err
}

// ifdCycles detects cycles in the next-pointer graph. Directories form a
// forest with at most one primary child each, so every visited offset is
// assigned to a chain component with union-find; a next-pointer landing in
// its own component is a cycle.
type ifdCycles struct {
	links  map[uint64]uint64
	chains map[uint64]int
	parent []int
}

func newIfdCycles() *ifdCycles {
	return &ifdCycles{
		links:  make(map[uint64]uint64),
		chains: make(map[uint64]int),
	}
}

// insertNext records the edge from one directory offset to its next pointer
// (0 for none) and fails if the edge closes a cycle. Revisiting an offset
// with the same next pointer is a clean no-op.
func (c *ifdCycles) insertNext(from, to uint64) error {
	if existing, ok := c.links[from]; ok {
		if existing == to {
			return nil
		}
		// Two reads of the same IFD produced different next pointers.
		return errCycleInOffsets
	}
	c.links[from] = to

	c.ensure(from)
	if to != 0 {
		c.ensure(to)
		parent := c.find(c.chains[from])
		child := c.find(c.chains[to])
		if parent == child {
			return errCycleInOffsets
		}
		c.parent[child] = parent
	}
	return nil
}

func (c *ifdCycles) ensure(offset uint64) {
	if _, ok := c.chains[offset]; ok {
		return
	}
	id := len(c.parent)
	c.parent = append(c.parent, id)
	c.chains[offset] = id
}

func (c *ifdCycles) find(id int) int {
	root := id
	for c.parent[root] != root {
		root = c.parent[root]
	}
	for c.parent[id] != root {
		c.parent[id], id = root, c.parent[id]
	}
	return root
}
