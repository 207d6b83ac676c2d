package sensor

import (
	"fmt"
	"math"
)

// PixelPoint is a continuous image position. Line grows down the image,
// sample grows to the right; integer values are pixel centres.
type PixelPoint struct {
	Line   float64 `json:"line"`
	Sample float64 `json:"sample"`
}

func (p PixelPoint) Add(o PixelPoint) PixelPoint {
	return PixelPoint{Line: p.Line + o.Line, Sample: p.Sample + o.Sample}
}

func (p PixelPoint) Sub(o PixelPoint) PixelPoint {
	return PixelPoint{Line: p.Line - o.Line, Sample: p.Sample - o.Sample}
}

// Equal reports whether p and o are within eps pixels on both axes.
func (p PixelPoint) Equal(o PixelPoint, eps float64) bool {
	return math.Abs(p.Line-o.Line) <= eps && math.Abs(p.Sample-o.Sample) <= eps
}

func (p PixelPoint) String() string {
	return fmt.Sprintf("(line %.3f, sample %.3f)", p.Line, p.Sample)
}

// GroundPoint is a WGS84 position in degrees and metres above the
// ellipsoid.
type GroundPoint struct {
	Lon    float64 `json:"lon"`
	Lat    float64 `json:"lat"`
	Height float64 `json:"height"`
}

// Equal reports whether g and o are within eps degrees horizontally and eps
// metres vertically.
func (g GroundPoint) Equal(o GroundPoint, eps float64) bool {
	return math.Abs(g.Lon-o.Lon) <= eps && math.Abs(g.Lat-o.Lat) <= eps && math.Abs(g.Height-o.Height) <= eps
}

func (g GroundPoint) String() string {
	return fmt.Sprintf("(lon %.8f, lat %.8f, h %.3f)", g.Lon, g.Lat, g.Height)
}
