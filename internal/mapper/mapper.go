// Package mapper translates regions between the pixel space of a mosaic
// and the local pixel spaces of the tiles it is assembled from.
package mapper

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/kiesman99/geostream/pkg/tile"
)

// Mapper holds the precomputed tile boundaries of a row-major grid.
//
// colStart[c] is the mosaic X of the first pixel of column c, and
// colStart[Columns] the mosaic width; rowStart likewise for Y.
type Mapper struct {
	layout   tile.Layout
	colStart []int
	rowStart []int
}

// New returns a mapper configured for layout and sizes.
func New(layout tile.Layout, sizes []tile.Size) (*Mapper, error) {
	m := &Mapper{}
	if err := m.Configure(layout, sizes); err != nil {
		return nil, err
	}
	return m, nil
}

// Configure precomputes column and row prefix sums. Every tile in a column
// must share its width and every tile in a row its height.
func (m *Mapper) Configure(layout tile.Layout, sizes []tile.Size) error {
	if layout.Columns <= 0 || layout.Rows <= 0 {
		return errors.Wrapf(tile.ErrConfiguration, "layout %s has no cells", layout)
	}
	if layout.Cells() != len(sizes) {
		return errors.Wrapf(tile.ErrConfiguration, "layout %s needs %d tiles, got %d", layout, layout.Cells(), len(sizes))
	}
	for i, s := range sizes {
		if s.IsZero() {
			return errors.Wrapf(tile.ErrConfiguration, "tile %d has empty size %s", i, s)
		}
	}

	colStart := make([]int, layout.Columns+1)
	rowStart := make([]int, layout.Rows+1)
	for c := 0; c < layout.Columns; c++ {
		w := sizes[c].Width
		for r := 1; r < layout.Rows; r++ {
			if got := sizes[r*layout.Columns+c].Width; got != w {
				return errors.Wrapf(tile.ErrConfiguration,
					"tile %d is %d wide, column %d is %d wide", r*layout.Columns+c, got, c, w)
			}
		}
		colStart[c+1] = colStart[c] + w
	}
	for r := 0; r < layout.Rows; r++ {
		h := sizes[r*layout.Columns].Height
		for c := 1; c < layout.Columns; c++ {
			if got := sizes[r*layout.Columns+c].Height; got != h {
				return errors.Wrapf(tile.ErrConfiguration,
					"tile %d is %d high, row %d is %d high", r*layout.Columns+c, got, r, h)
			}
		}
		rowStart[r+1] = rowStart[r] + h
	}

	m.layout = layout
	m.colStart = colStart
	m.rowStart = rowStart
	return nil
}

// Layout returns the configured layout.
func (m *Mapper) Layout() tile.Layout {
	return m.layout
}

// MosaicSize returns the total size of the mosaic.
func (m *Mapper) MosaicSize() tile.Size {
	if len(m.colStart) == 0 {
		return tile.Size{}
	}
	return tile.Size{Width: m.colStart[len(m.colStart)-1], Height: m.rowStart[len(m.rowStart)-1]}
}

// TileFootprint returns the mosaic-space region covered by tileIndex.
func (m *Mapper) TileFootprint(tileIndex int) tile.Region {
	if tileIndex < 0 || tileIndex >= m.layout.Cells() {
		return tile.Region{}
	}
	c, r := m.layout.Position(tileIndex)
	return tile.NewRegion(m.colStart[c], m.rowStart[r],
		m.colStart[c+1]-m.colStart[c], m.rowStart[r+1]-m.rowStart[r])
}

// OutputRegionToInputRegion returns the part of outputRegion that falls on
// tileIndex, in that tile's local coordinates. The result is empty when
// they do not overlap.
func (m *Mapper) OutputRegionToInputRegion(tileIndex int, outputRegion tile.Region) tile.Region {
	fp := m.TileFootprint(tileIndex)
	overlap := fp.Intersect(outputRegion)
	if overlap.IsEmpty() {
		return tile.Region{}
	}
	return overlap.Translate(-fp.Index.X, -fp.Index.Y)
}

// InputRegionToOutputRegion translates a tile-local region into mosaic
// coordinates.
func (m *Mapper) InputRegionToOutputRegion(tileIndex int, inputRegion tile.Region) tile.Region {
	fp := m.TileFootprint(tileIndex)
	return inputRegion.Translate(fp.Index.X, fp.Index.Y)
}

// TilesIntersecting returns, in row-major order, the indices of the tiles
// whose footprint overlaps region.
func (m *Mapper) TilesIntersecting(region tile.Region) []int {
	region = region.Intersect(tile.Region{Size: m.MosaicSize()})
	if region.IsEmpty() {
		return nil
	}
	end := region.End()
	c0, c1 := span(m.colStart, region.Index.X, end.X)
	r0, r1 := span(m.rowStart, region.Index.Y, end.Y)

	out := make([]int, 0, (c1-c0)*(r1-r0))
	for r := r0; r < r1; r++ {
		for c := c0; c < c1; c++ {
			out = append(out, r*m.layout.Columns+c)
		}
	}
	return out
}

// span returns the half-open range of cells of starts overlapping [lo, hi).
func span(starts []int, lo, hi int) (int, int) {
	n := len(starts) - 1
	first := sort.Search(n, func(i int) bool { return starts[i+1] > lo })
	last := sort.Search(n, func(i int) bool { return starts[i] >= hi })
	return first, last
}

// TileForPoint returns the tile containing the continuous mosaic
// coordinate (x, y), where pixel i spans [i, i+1). A point exactly on a
// boundary between two tiles belongs to the lower-index one.
func (m *Mapper) TileForPoint(x, y float64) (int, bool) {
	size := m.MosaicSize()
	if x < 0 || y < 0 || x > float64(size.Width) || y > float64(size.Height) || size.IsZero() {
		return 0, false
	}
	c := cell(m.colStart, x)
	r := cell(m.rowStart, y)
	return r*m.layout.Columns + c, true
}

func cell(starts []int, v float64) int {
	n := len(starts) - 1
	return sort.Search(n, func(i int) bool { return float64(starts[i+1]) >= v })
}
