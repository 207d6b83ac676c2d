package tile

import (
	"github.com/pkg/errors"
)

// Buffer holds the pixels of a region, band-interleaved by pixel, row-major.
// Samples are raw bytes in native order; Buffer never interprets them.
type Buffer struct {
	Region    Region
	Bands     int
	PixelType PixelType
	Data      []byte
}

// NewBuffer allocates a zeroed buffer for region.
func NewBuffer(region Region, bands int, pt PixelType) *Buffer {
	return &Buffer{
		Region:    region,
		Bands:     bands,
		PixelType: pt,
		Data:      make([]byte, region.Size.Pixels()*bands*pt.Bytes()),
	}
}

// PixelStride returns the number of bytes per pixel.
func (b *Buffer) PixelStride() int {
	return b.Bands * b.PixelType.Bytes()
}

// RowStride returns the number of bytes per row.
func (b *Buffer) RowStride() int {
	return b.Region.Size.Width * b.PixelStride()
}

// PixelOffset returns the byte offset of pixel p, given in the buffer
// region's coordinate space.
func (b *Buffer) PixelOffset(p Index) int {
	return (p.Y-b.Region.Index.Y)*b.RowStride() + (p.X-b.Region.Index.X)*b.PixelStride()
}

// Pixel returns the bytes of pixel p.
func (b *Buffer) Pixel(p Index) []byte {
	off := b.PixelOffset(p)
	return b.Data[off : off+b.PixelStride()]
}

// Fill sets every sample of every pixel to the bytes of sample.
func (b *Buffer) Fill(sample []byte) {
	for i := 0; i+len(sample) <= len(b.Data); i += len(sample) {
		copy(b.Data[i:], sample)
	}
}

// CopyFrom copies the pixels of region from src into b. region is in the
// coordinate space shared by both buffers and must lie inside both.
func (b *Buffer) CopyFrom(src *Buffer, region Region) error {
	if src.Bands != b.Bands || src.PixelType != b.PixelType {
		return errors.Errorf("copy %d-band %s into %d-band %s", src.Bands, src.PixelType, b.Bands, b.PixelType)
	}
	if !src.Region.Contains(region) || !b.Region.Contains(region) {
		return errors.Errorf("copy region %s outside source %s or destination %s", region, src.Region, b.Region)
	}
	if region.IsEmpty() {
		return nil
	}
	n := region.Size.Width * b.PixelStride()
	for y := region.Index.Y; y < region.End().Y; y++ {
		p := Index{X: region.Index.X, Y: y}
		so, do := src.PixelOffset(p), b.PixelOffset(p)
		copy(b.Data[do:do+n], src.Data[so:so+n])
	}
	return nil
}

// Translated returns a view of b whose region is shifted by (dx, dy). The
// pixel data is shared.
func (b *Buffer) Translated(dx, dy int) *Buffer {
	return &Buffer{
		Region:    b.Region.Translate(dx, dy),
		Bands:     b.Bands,
		PixelType: b.PixelType,
		Data:      b.Data,
	}
}
