package tile

import (
	"context"
	"fmt"
)

// Output format constants
const (
	OUTFMT_PNG = iota
	OUTFMT_RAW
)

// PixelType is the storage type of a single band sample.
type PixelType int

const (
	Uint8 PixelType = iota
	Uint16
	Int16
	Float32
	Float64
)

// Bytes returns the size of one sample in bytes.
func (p PixelType) Bytes() int {
	switch p {
	case Uint8:
		return 1
	case Uint16, Int16:
		return 2
	case Float32:
		return 4
	case Float64:
		return 8
	}
	return 0
}

func (p PixelType) String() string {
	switch p {
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Int16:
		return "int16"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	}
	return fmt.Sprintf("PixelType(%d)", int(p))
}

// ImageMetadata describes an image as reported by its source.
type ImageMetadata struct {
	Size      Size
	Origin    [2]float64
	Spacing   [2]float64
	Bands     int
	PixelType PixelType
	Keywords  map[string]string
}

// TileSource supplies pixel data for regions of one image.
type TileSource interface {
	Metadata() ImageMetadata
	// Read returns the pixels of region, expressed in the image's own
	// pixel space.
	Read(ctx context.Context, region Region) (*Buffer, error)
}

// Tile is one input image of a mosaic: its declared footprint plus the
// source its pixels come from. The source is borrowed, not owned.
type Tile struct {
	Size      Size
	Origin    [2]float64
	Spacing   [2]float64
	Bands     int
	PixelType PixelType
	Source    TileSource
}

// NewTile declares a tile with the geometry its source reports.
func NewTile(src TileSource) Tile {
	md := src.Metadata()
	return Tile{
		Size:      md.Size,
		Origin:    md.Origin,
		Spacing:   md.Spacing,
		Bands:     md.Bands,
		PixelType: md.PixelType,
		Source:    src,
	}
}

// Layout is a grid of tiles arranged row-major.
type Layout struct {
	Columns int
	Rows    int
}

// Cells returns the number of tiles the layout holds.
func (l Layout) Cells() int {
	return l.Columns * l.Rows
}

// Position returns the column and row of tile index i.
func (l Layout) Position(i int) (col, row int) {
	return i % l.Columns, i / l.Columns
}

func (l Layout) String() string {
	return fmt.Sprintf("%dx%d", l.Columns, l.Rows)
}
