// Package chunks computes the strip and tile geometry of a TIFF image: how
// many chunks the pixel data is split into, which rectangle of the image each
// chunk covers, and which sample plane it belongs to.
package chunks

// Kind selects between the two chunk layouts.
type Kind int

const (
	// Strip chunks tile the image vertically by RowsPerStrip full-width bands.
	Strip Kind = iota
	// Tile chunks tile the image by TileWidth x TileLength rectangles.
	Tile
)

// Grid describes the chunk layout of one image.
//
// For strips, ChunkWidth equals ImageWidth and ChunkLength equals
// RowsPerStrip. Planes is 1 for chunky data and SamplesPerPixel for planar
// data; planar images store one full grid of chunks per plane, plane-major.
type Grid struct {
	Kind        Kind
	ImageWidth  uint32
	ImageHeight uint32
	ChunkWidth  uint32
	ChunkLength uint32
	Planes      uint32
}

// Across returns the number of chunk columns.
func (g *Grid) Across() uint32 {
	return (g.ImageWidth + g.ChunkWidth - 1) / g.ChunkWidth
}

// Down returns the number of chunk rows.
func (g *Grid) Down() uint32 {
	return (g.ImageHeight + g.ChunkLength - 1) / g.ChunkLength
}

// PerPlane returns the number of chunks in one sample plane.
func (g *Grid) PerPlane() uint32 {
	return g.Across() * g.Down()
}

// Count returns the total number of chunks in the image.
func (g *Grid) Count() uint32 {
	return g.PerPlane() * g.Planes
}

// Plane returns the sample plane the chunk at index belongs to.
func (g *Grid) Plane(index uint32) uint32 {
	return index / g.PerPlane()
}

// Origin returns the top-left pixel coordinate covered by the chunk at index.
func (g *Grid) Origin(index uint32) (x0, y0 uint32) {
	i := index % g.PerPlane()
	x0 = i % g.Across() * g.ChunkWidth
	y0 = i / g.Across() * g.ChunkLength
	return x0, y0
}

// Dimensions returns the nominal (padded) chunk size. Every chunk's encoded
// data covers this many pixels; edge chunks carry padding beyond the image.
func (g *Grid) Dimensions() (w, h uint32) {
	return g.ChunkWidth, g.ChunkLength
}

// DataDimensions returns the unpadded region of the chunk at index. For
// interior chunks this equals Dimensions. For chunks in the last column or
// row only the part inside the image counts; when the image dimensions are
// exact multiples of the chunk size that part is the full chunk, never zero.
func (g *Grid) DataDimensions(index uint32) (w, h uint32) {
	x0, y0 := g.Origin(index)
	w = g.ChunkWidth
	if x0+w > g.ImageWidth {
		w = g.ImageWidth - x0
	}
	h = g.ChunkLength
	if y0+h > g.ImageHeight {
		h = g.ImageHeight - y0
	}
	return w, h
}
