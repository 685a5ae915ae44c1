package chunks

import "testing"

func TestStripGrid(t *testing.T) {
	g := Grid{
		Kind:        Strip,
		ImageWidth:  100,
		ImageHeight: 35,
		ChunkWidth:  100,
		ChunkLength: 10,
		Planes:      1,
	}
	if got := g.Count(); got != 4 {
		t.Fatalf("Count() = %d, want 4", got)
	}
	if w, h := g.DataDimensions(0); w != 100 || h != 10 {
		t.Errorf("DataDimensions(0) = %dx%d, want 100x10", w, h)
	}
	// The last strip is short.
	if w, h := g.DataDimensions(3); w != 100 || h != 5 {
		t.Errorf("DataDimensions(3) = %dx%d, want 100x5", w, h)
	}
	if x, y := g.Origin(3); x != 0 || y != 30 {
		t.Errorf("Origin(3) = (%d,%d), want (0,30)", x, y)
	}
}

func TestTileGrid(t *testing.T) {
	g := Grid{
		Kind:        Tile,
		ImageWidth:  100,
		ImageHeight: 50,
		ChunkWidth:  64,
		ChunkLength: 32,
		Planes:      1,
	}
	if got := g.Across(); got != 2 {
		t.Errorf("Across() = %d, want 2", got)
	}
	if got := g.Down(); got != 2 {
		t.Errorf("Down() = %d, want 2", got)
	}
	tests := []struct {
		index      uint32
		x, y, w, h uint32
	}{
		{0, 0, 0, 64, 32},
		{1, 64, 0, 36, 32},
		{2, 0, 32, 64, 18},
		{3, 64, 32, 36, 18},
	}
	for _, tt := range tests {
		x, y := g.Origin(tt.index)
		w, h := g.DataDimensions(tt.index)
		if x != tt.x || y != tt.y || w != tt.w || h != tt.h {
			t.Errorf("tile %d: origin (%d,%d) size %dx%d, want (%d,%d) %dx%d",
				tt.index, x, y, w, h, tt.x, tt.y, tt.w, tt.h)
		}
	}
}

func TestExactMultipleHasNoPadding(t *testing.T) {
	// When the image dimensions divide evenly by the tile size, every tile
	// contributes its full region; nothing may be trimmed.
	g := Grid{
		Kind:        Tile,
		ImageWidth:  256,
		ImageHeight: 256,
		ChunkWidth:  128,
		ChunkLength: 128,
		Planes:      1,
	}
	if got := g.Count(); got != 4 {
		t.Fatalf("Count() = %d, want 4", got)
	}
	for i := uint32(0); i < 4; i++ {
		if w, h := g.DataDimensions(i); w != 128 || h != 128 {
			t.Errorf("tile %d: DataDimensions = %dx%d, want 128x128", i, w, h)
		}
	}
	wantOrigins := [][2]uint32{{0, 0}, {128, 0}, {0, 128}, {128, 128}}
	for i, want := range wantOrigins {
		if x, y := g.Origin(uint32(i)); x != want[0] || y != want[1] {
			t.Errorf("tile %d: Origin = (%d,%d), want (%d,%d)", i, x, y, want[0], want[1])
		}
	}
}

func TestPlanarGrid(t *testing.T) {
	g := Grid{
		Kind:        Strip,
		ImageWidth:  10,
		ImageHeight: 10,
		ChunkWidth:  10,
		ChunkLength: 5,
		Planes:      3,
	}
	if got := g.Count(); got != 6 {
		t.Fatalf("Count() = %d, want 6", got)
	}
	if got := g.Plane(0); got != 0 {
		t.Errorf("Plane(0) = %d, want 0", got)
	}
	if got := g.Plane(2); got != 1 {
		t.Errorf("Plane(2) = %d, want 1", got)
	}
	if got := g.Plane(5); got != 2 {
		t.Errorf("Plane(5) = %d, want 2", got)
	}
	// The third plane's second strip covers the same rows as the first
	// plane's second strip.
	if x, y := g.Origin(5); x != 0 || y != 5 {
		t.Errorf("Origin(5) = (%d,%d), want (0,5)", x, y)
	}
}
