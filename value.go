package tiff

import (
	"fmt"
	"strings"

	"github.com/mrjoshuak/go-tiff/internal/byteio"
)

// Rational is a fraction of two unsigned 32-bit integers.
type Rational struct {
	Numerator   uint32
	Denominator uint32
}

// SRational is a fraction of two signed 32-bit integers.
type SRational struct {
	Numerator   int32
	Denominator int32
}

// Value is a typed tag value: one of the TIFF primitive types, scalar or
// list. A Value with count 1 is the scalar variant of its type; larger
// counts are the list variant. The zero Value is invalid.
type Value struct {
	typ Type

	u  []uint64
	i  []int64
	f  []float64
	r  []Rational
	sr []SRational
	s  string
	b  []byte
}

// Type returns the on-disk type of the value.
func (v Value) Type() Type { return v.typ }

// Count returns the number of elements. ASCII values count their bytes
// including the terminating NUL, matching the on-disk count field.
func (v Value) Count() uint64 {
	switch v.typ {
	case TypeAscii:
		return uint64(len(v.s)) + 1
	case TypeUndefined, TypeUTF8:
		return uint64(len(v.b))
	case TypeRational:
		return uint64(len(v.r))
	case TypeSRational:
		return uint64(len(v.sr))
	case TypeFloat, TypeDouble:
		return uint64(len(v.f))
	case TypeSByte, TypeSShort, TypeSLong, TypeSLong8:
		return uint64(len(v.i))
	default:
		return uint64(len(v.u))
	}
}

// Constructors for each primitive type. These are the values accepted by
// the encoder's WriteTag and produced by the decoder's GetTag.

// ByteValue returns a BYTE value.
func ByteValue(vs ...uint8) Value { return Value{typ: TypeByte, u: widenU(vs)} }

// ShortValue returns a SHORT value.
func ShortValue(vs ...uint16) Value { return Value{typ: TypeShort, u: widenU(vs)} }

// LongValue returns a LONG value.
func LongValue(vs ...uint32) Value { return Value{typ: TypeLong, u: widenU(vs)} }

// Long8Value returns a BigTIFF LONG8 value.
func Long8Value(vs ...uint64) Value { return Value{typ: TypeLong8, u: vs} }

// SByteValue returns an SBYTE value.
func SByteValue(vs ...int8) Value { return Value{typ: TypeSByte, i: widenI(vs)} }

// SShortValue returns an SSHORT value.
func SShortValue(vs ...int16) Value { return Value{typ: TypeSShort, i: widenI(vs)} }

// SLongValue returns an SLONG value.
func SLongValue(vs ...int32) Value { return Value{typ: TypeSLong, i: widenI(vs)} }

// SLong8Value returns a BigTIFF SLONG8 value.
func SLong8Value(vs ...int64) Value { return Value{typ: TypeSLong8, i: vs} }

// FloatValue returns a FLOAT value.
func FloatValue(vs ...float32) Value {
	fs := make([]float64, len(vs))
	for i, v := range vs {
		fs[i] = float64(v)
	}
	return Value{typ: TypeFloat, f: fs}
}

// DoubleValue returns a DOUBLE value.
func DoubleValue(vs ...float64) Value { return Value{typ: TypeDouble, f: vs} }

// RationalValue returns a RATIONAL value.
func RationalValue(vs ...Rational) Value { return Value{typ: TypeRational, r: vs} }

// SRationalValue returns an SRATIONAL value.
func SRationalValue(vs ...SRational) Value { return Value{typ: TypeSRational, sr: vs} }

// AsciiValue returns an ASCII value. The terminating NUL is implied.
func AsciiValue(s string) Value { return Value{typ: TypeAscii, s: s} }

// UndefinedValue returns an UNDEFINED value holding raw bytes.
func UndefinedValue(b []byte) Value { return Value{typ: TypeUndefined, b: b} }

// IfdValue returns an IFD pointer value.
func IfdValue(offset uint32) Value { return Value{typ: TypeIfd, u: []uint64{uint64(offset)}} }

// Ifd8Value returns a BigTIFF IFD8 pointer value.
func Ifd8Value(offset uint64) Value { return Value{typ: TypeIfd8, u: []uint64{offset}} }

func widenU[T uint8 | uint16 | uint32](vs []T) []uint64 {
	out := make([]uint64, len(vs))
	for i, v := range vs {
		out[i] = uint64(v)
	}
	return out
}

func widenI[T int8 | int16 | int32](vs []T) []int64 {
	out := make([]int64, len(vs))
	for i, v := range vs {
		out[i] = int64(v)
	}
	return out
}

// Uint returns the value as a scalar unsigned integer.
func (v Value) Uint() (uint64, error) {
	us, err := v.UintSlice()
	if err != nil {
		return 0, err
	}
	if len(us) != 1 {
		return 0, FormatError(fmt.Sprintf("expected a single unsigned integer, got %d values", len(us)))
	}
	return us[0], nil
}

// UintSlice returns the value as unsigned integers.
func (v Value) UintSlice() ([]uint64, error) {
	switch v.typ {
	case TypeByte, TypeShort, TypeLong, TypeLong8, TypeIfd, TypeIfd8:
		return v.u, nil
	}
	return nil, FormatError(fmt.Sprintf("expected unsigned integer, found type %d", v.typ))
}

// Int returns the value as a scalar signed integer.
func (v Value) Int() (int64, error) {
	is, err := v.IntSlice()
	if err != nil {
		return 0, err
	}
	if len(is) != 1 {
		return 0, FormatError(fmt.Sprintf("expected a single signed integer, got %d values", len(is)))
	}
	return is[0], nil
}

// IntSlice returns the value as signed integers.
func (v Value) IntSlice() ([]int64, error) {
	switch v.typ {
	case TypeSByte, TypeSShort, TypeSLong, TypeSLong8:
		return v.i, nil
	}
	return nil, FormatError(fmt.Sprintf("expected signed integer, found type %d", v.typ))
}

// Float returns the value as a scalar float. Rationals convert to their
// quotient.
func (v Value) Float() (float64, error) {
	fs, err := v.FloatSlice()
	if err != nil {
		return 0, err
	}
	if len(fs) != 1 {
		return 0, FormatError(fmt.Sprintf("expected a single float, got %d values", len(fs)))
	}
	return fs[0], nil
}

// FloatSlice returns the value as floats. Integer and rational values
// convert; other types fail.
func (v Value) FloatSlice() ([]float64, error) {
	switch v.typ {
	case TypeFloat, TypeDouble:
		return v.f, nil
	case TypeByte, TypeShort, TypeLong, TypeLong8:
		out := make([]float64, len(v.u))
		for i, u := range v.u {
			out[i] = float64(u)
		}
		return out, nil
	case TypeSByte, TypeSShort, TypeSLong, TypeSLong8:
		out := make([]float64, len(v.i))
		for i, n := range v.i {
			out[i] = float64(n)
		}
		return out, nil
	case TypeRational:
		out := make([]float64, len(v.r))
		for i, r := range v.r {
			out[i] = float64(r.Numerator) / float64(r.Denominator)
		}
		return out, nil
	case TypeSRational:
		out := make([]float64, len(v.sr))
		for i, r := range v.sr {
			out[i] = float64(r.Numerator) / float64(r.Denominator)
		}
		return out, nil
	}
	return nil, FormatError(fmt.Sprintf("expected float, found type %d", v.typ))
}

// Rationals returns the value as unsigned rationals.
func (v Value) Rationals() ([]Rational, error) {
	if v.typ != TypeRational {
		return nil, FormatError(fmt.Sprintf("expected rational, found type %d", v.typ))
	}
	return v.r, nil
}

// SRationals returns the value as signed rationals.
func (v Value) SRationals() ([]SRational, error) {
	if v.typ != TypeSRational {
		return nil, FormatError(fmt.Sprintf("expected signed rational, found type %d", v.typ))
	}
	return v.sr, nil
}

// Ascii returns the value as a string, without the terminating NUL.
func (v Value) Ascii() (string, error) {
	if v.typ != TypeAscii {
		return "", FormatError(fmt.Sprintf("expected ASCII, found type %d", v.typ))
	}
	return v.s, nil
}

// Bytes returns the raw payload of an UNDEFINED (or preserved unknown-type)
// value.
func (v Value) Bytes() ([]byte, error) {
	switch v.typ {
	case TypeUndefined, TypeUTF8:
		return v.b, nil
	}
	return nil, FormatError(fmt.Sprintf("expected raw bytes, found type %d", v.typ))
}

// IfdPointer returns the value as a directory offset, accepting the IFD
// pointer types as well as plain LONG/LONG8 values.
func (v Value) IfdPointer() (uint64, error) {
	switch v.typ {
	case TypeIfd, TypeIfd8, TypeLong, TypeLong8:
		if len(v.u) != 1 {
			return 0, FormatError("expected a single IFD offset")
		}
		return v.u[0], nil
	}
	return 0, FormatError(fmt.Sprintf("expected IFD offset, found type %d", v.typ))
}

// String formats the value for diagnostics.
func (v Value) String() string {
	switch v.typ {
	case TypeAscii:
		return fmt.Sprintf("%q", v.s)
	case TypeUndefined, TypeUTF8:
		return fmt.Sprintf("%d raw bytes", len(v.b))
	case TypeRational:
		parts := make([]string, len(v.r))
		for i, r := range v.r {
			parts[i] = fmt.Sprintf("%d/%d", r.Numerator, r.Denominator)
		}
		return strings.Join(parts, " ")
	case TypeSRational:
		parts := make([]string, len(v.sr))
		for i, r := range v.sr {
			parts[i] = fmt.Sprintf("%d/%d", r.Numerator, r.Denominator)
		}
		return strings.Join(parts, " ")
	case TypeFloat, TypeDouble:
		return strings.Trim(fmt.Sprint(v.f), "[]")
	case TypeSByte, TypeSShort, TypeSLong, TypeSLong8:
		return strings.Trim(fmt.Sprint(v.i), "[]")
	default:
		return strings.Trim(fmt.Sprint(v.u), "[]")
	}
}

// encodePayload writes the wire representation of the value's elements in
// the writer's byte order.
func (v Value) encodePayload(w *byteio.Writer) error {
	switch v.typ {
	case TypeByte:
		for _, u := range v.u {
			if err := w.U8(uint8(u)); err != nil {
				return err
			}
		}
	case TypeShort:
		for _, u := range v.u {
			if err := w.U16(uint16(u)); err != nil {
				return err
			}
		}
	case TypeLong, TypeIfd:
		for _, u := range v.u {
			if err := w.U32(uint32(u)); err != nil {
				return err
			}
		}
	case TypeLong8, TypeIfd8:
		for _, u := range v.u {
			if err := w.U64(u); err != nil {
				return err
			}
		}
	case TypeSByte:
		for _, n := range v.i {
			if err := w.U8(uint8(n)); err != nil {
				return err
			}
		}
	case TypeSShort:
		for _, n := range v.i {
			if err := w.U16(uint16(n)); err != nil {
				return err
			}
		}
	case TypeSLong:
		for _, n := range v.i {
			if err := w.U32(uint32(n)); err != nil {
				return err
			}
		}
	case TypeSLong8:
		for _, n := range v.i {
			if err := w.U64(uint64(n)); err != nil {
				return err
			}
		}
	case TypeFloat:
		for _, f := range v.f {
			if err := w.F32(float32(f)); err != nil {
				return err
			}
		}
	case TypeDouble:
		for _, f := range v.f {
			if err := w.F64(f); err != nil {
				return err
			}
		}
	case TypeRational:
		for _, r := range v.r {
			if err := w.U32(r.Numerator); err != nil {
				return err
			}
			if err := w.U32(r.Denominator); err != nil {
				return err
			}
		}
	case TypeSRational:
		for _, r := range v.sr {
			if err := w.U32(uint32(r.Numerator)); err != nil {
				return err
			}
			if err := w.U32(uint32(r.Denominator)); err != nil {
				return err
			}
		}
	case TypeAscii:
		for i := 0; i < len(v.s); i++ {
			c := v.s[i]
			if c > 0x7f {
				return errNotAscii
			}
			if err := w.U8(c); err != nil {
				return err
			}
		}
		return w.U8(0)
	case TypeUndefined, TypeUTF8:
		_, err := w.Write(v.b)
		return err
	default:
		return FormatError(fmt.Sprintf("cannot encode value of type %d", v.typ))
	}
	return nil
}

// payloadSize returns the wire byte size of the value.
func (v Value) payloadSize() (uint64, error) {
	size, ok := mulChecked(v.Count(), v.typ.size())
	if !ok {
		return 0, errIntSize
	}
	return size, nil
}
