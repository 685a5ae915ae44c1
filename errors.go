package tiff

import (
	"errors"
	"fmt"
)

// FormatError reports that the input is not a well-formed TIFF stream. The
// decoder is left in a consistent position; advancing to the next image may
// still fail.
type FormatError string

func (e FormatError) Error() string { return "tiff: invalid format: " + string(e) }

// UnsupportedError reports a well-formed construct this codec does not
// implement.
type UnsupportedError string

func (e UnsupportedError) Error() string { return "tiff: unsupported feature: " + string(e) }

// UsageError reports caller misuse of the API.
type UsageError string

func (e UsageError) Error() string { return "tiff: invalid use: " + string(e) }

// ErrLimitsExceeded reports that a computed or streamed size exceeds the
// configured Limits or the host word size.
var ErrLimitsExceeded = errors.New("tiff: limits exceeded")

// errIntSize marks integer conversions that would truncate. It surfaces as
// ErrLimitsExceeded but stays distinguishable in wrapped chains.
var errIntSize = fmt.Errorf("%w: integer size overflow", ErrLimitsExceeded)

// Format error values for the specific malformations named by the header and
// directory parsers.
var (
	errBadByteOrder       = FormatError("byte order marker not found")
	errBadMagic           = FormatError("invalid magic number")
	errBadBigTIFFReserved = FormatError("invalid BigTIFF offset size or reserved field")
	errCycleInOffsets     = FormatError("cycle in IFD offsets")
	errNoDirectory        = FormatError("image file directory not found")
	errTagOrder           = FormatError("IFD entries not sorted by tag")
	errStripTileConflict  = FormatError("image declares both strip and tile layout, or neither")
	errInconsistentSizes  = FormatError("inconsistent sizes encountered")
	errNotAscii           = FormatError("string tag contains non-ASCII bytes")
	errNoNulTerminator    = FormatError("string tag is missing its NUL terminator")
)

func unsupportedCompression(method CompressionMethod) error {
	return UnsupportedError(fmt.Sprintf("compression method %d", method))
}

func unsupportedInterpretation(p Photometric) error {
	return UnsupportedError(fmt.Sprintf("photometric interpretation %d", p))
}
