package tile

import "fmt"

// Index is a pixel position. X runs along a line (samples), Y across
// lines and is the slowest varying axis in memory.
type Index struct {
	X, Y int
}

// Size is a pixel extent.
type Size struct {
	Width, Height int
}

// IsZero reports whether either dimension is zero or negative.
func (s Size) IsZero() bool {
	return s.Width <= 0 || s.Height <= 0
}

// Pixels returns the number of pixels in s.
func (s Size) Pixels() int {
	if s.IsZero() {
		return 0
	}
	return s.Width * s.Height
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Region is an axis-aligned rectangle of pixels. Bounds are half-open:
// [Index, Index+Size).
type Region struct {
	Index Index
	Size  Size
}

// NewRegion builds a region from its corner and extent.
func NewRegion(x, y, width, height int) Region {
	return Region{Index: Index{X: x, Y: y}, Size: Size{Width: width, Height: height}}
}

// IsEmpty reports whether the region holds no pixels.
func (r Region) IsEmpty() bool {
	return r.Size.IsZero()
}

// End returns the first index past the region on both axes.
func (r Region) End() Index {
	return Index{X: r.Index.X + r.Size.Width, Y: r.Index.Y + r.Size.Height}
}

// Contains reports whether o lies entirely inside r. An empty o is
// contained in anything.
func (r Region) Contains(o Region) bool {
	if o.IsEmpty() {
		return true
	}
	if r.IsEmpty() {
		return false
	}
	// o.End() may overflow; compare sizes with the room left instead.
	re := r.End()
	return o.Index.X >= r.Index.X && o.Index.Y >= r.Index.Y &&
		o.Index.X <= re.X && o.Index.Y <= re.Y &&
		o.Size.Width <= re.X-o.Index.X && o.Size.Height <= re.Y-o.Index.Y
}

// ContainsIndex reports whether pixel p lies inside r.
func (r Region) ContainsIndex(p Index) bool {
	e := r.End()
	return p.X >= r.Index.X && p.X < e.X && p.Y >= r.Index.Y && p.Y < e.Y
}

// Intersect returns the overlap of r and o, or the empty region.
func (r Region) Intersect(o Region) Region {
	re, oe := r.End(), o.End()
	x0, y0 := max(r.Index.X, o.Index.X), max(r.Index.Y, o.Index.Y)
	x1, y1 := min(re.X, oe.X), min(re.Y, oe.Y)
	if x1 <= x0 || y1 <= y0 {
		return Region{}
	}
	return NewRegion(x0, y0, x1-x0, y1-y0)
}

// Translate shifts the region by (dx, dy).
func (r Region) Translate(dx, dy int) Region {
	r.Index.X += dx
	r.Index.Y += dy
	return r
}

// Crop is Intersect under the name ITK callers know it by: it reports
// whether anything is left.
func (r Region) Crop(o Region) (Region, bool) {
	c := r.Intersect(o)
	return c, !c.IsEmpty()
}

func (r Region) String() string {
	return fmt.Sprintf("[%d,%d %s]", r.Index.X, r.Index.Y, r.Size)
}
