// Package sensor maps image positions to ground positions and back for
// rational polynomial and push-broom sensors.
package sensor

import (
	"context"
	"math"
	"strings"

	"github.com/pkg/errors"

	"github.com/kiesman99/geostream/internal/elevation"
	"github.com/kiesman99/geostream/internal/geodesy"
	"github.com/kiesman99/geostream/pkg/tile"
)

// Model kinds, as given by the "type" keyword.
const (
	KindRPC       = "rpc"
	KindPushbroom = "pushbroom"
)

const (
	// elevationTolerance stops the height iteration of Forward, in metres.
	elevationTolerance = 0.1
	maxElevationIters  = 10
)

type geometry interface {
	kind() string
	forwardAtHeight(px PixelPoint, h float64) (GroundPoint, error)
	inverse(g GroundPoint) (PixelPoint, error)
}

// Model is a built sensor model. The zero value and nil are invalid models.
// A Model is immutable and safe for concurrent use.
type Model struct {
	geom   geometry
	size   tile.Size
	offset PixelPoint
}

// Build creates a model from md. It never returns a partially usable model:
// either the model is valid or err wraps ErrModelBuild.
func Build(md Metadata) (*Model, error) {
	typ, ok := md.Get("type")
	if !ok {
		return nil, errors.Wrap(ErrModelBuild, "missing keyword \"type\"")
	}

	m := &Model{}
	switch strings.ToLower(typ) {
	case KindRPC:
		r, err := buildRPC(md)
		if err != nil {
			return nil, err
		}
		m.geom = r
		if m.size, err = rpcImageSize(md, r); err != nil {
			return nil, err
		}
	case KindPushbroom:
		p, err := buildPushbroom(md)
		if err != nil {
			return nil, err
		}
		m.geom = p
		m.size = tile.Size{Width: p.samples, Height: p.lines}
	default:
		return nil, errors.Wrapf(ErrModelBuild, "unknown model type %q", typ)
	}
	return m, nil
}

// rpcImageSize reads the optional image size keywords. Without them the
// image is assumed to be centred on the normalisation offsets.
func rpcImageSize(md Metadata, r *rpc) (tile.Size, error) {
	if md.Has("number_lines") || md.Has("number_samples") {
		lines, err := md.positiveInt("number_lines")
		if err != nil {
			return tile.Size{}, err
		}
		samples, err := md.positiveInt("number_samples")
		if err != nil {
			return tile.Size{}, err
		}
		return tile.Size{Width: samples, Height: lines}, nil
	}
	return tile.Size{
		Width:  int(math.Round(2 * r.samp.offset)),
		Height: int(math.Round(2 * r.line.offset)),
	}, nil
}

// IsValid reports whether m was built successfully.
func (m *Model) IsValid() bool {
	return m != nil && m.geom != nil
}

// Kind returns KindRPC or KindPushbroom.
func (m *Model) Kind() string {
	if !m.IsValid() {
		return ""
	}
	return m.geom.kind()
}

// ImageSize returns the size of the image the model describes.
func (m *Model) ImageSize() tile.Size {
	if !m.IsValid() {
		return tile.Size{}
	}
	return m.size
}

// Offset returns the position of this model's (0, 0) in the full image.
func (m *Model) Offset() PixelPoint {
	if !m.IsValid() {
		return PixelPoint{}
	}
	return m.offset
}

// SubImage returns a model for the part of the image starting at offset.
func (m *Model) SubImage(offset tile.Index) (*Model, error) {
	if !m.IsValid() {
		return nil, ErrInvalidModel
	}
	if offset.X < 0 || offset.Y < 0 || offset.X >= m.size.Width || offset.Y >= m.size.Height {
		return nil, errors.Wrapf(tile.ErrConfiguration, "sub-image offset %d,%d outside image %s", offset.X, offset.Y, m.size)
	}
	shift := PixelPoint{Line: float64(offset.Y), Sample: float64(offset.X)}
	return &Model{
		geom:   m.geom,
		size:   tile.Size{Width: m.size.Width - offset.X, Height: m.size.Height - offset.Y},
		offset: m.offset.Add(shift),
	}, nil
}

// ForwardAtHeight returns the ground position seen at px, at h metres above
// the ellipsoid.
func (m *Model) ForwardAtHeight(px PixelPoint, h float64) (GroundPoint, error) {
	if !m.IsValid() {
		return GroundPoint{}, ErrInvalidModel
	}
	return m.geom.forwardAtHeight(px.Add(m.offset), h)
}

// Forward returns the ground position seen at px on the terrain described
// by elev. The height starts at elev's default and is refined by looking
// the terrain up under the current estimate until the estimate moves less
// than 0.1 m. A nil elev means the ellipsoid itself.
func (m *Model) Forward(ctx context.Context, elev elevation.Source, px PixelPoint) (GroundPoint, error) {
	if !m.IsValid() {
		return GroundPoint{}, ErrInvalidModel
	}
	if elev == nil {
		elev = elevation.Constant(0)
	}

	g, err := m.ForwardAtHeight(px, elev.DefaultHeight())
	if err != nil {
		return GroundPoint{}, err
	}
	prev := geodesy.GeodeticToECEF(g.Lon, g.Lat, g.Height)
	for i := 0; i < maxElevationIters; i++ {
		h, err := elev.HeightAboveEllipsoid(ctx, g.Lon, g.Lat)
		if err != nil {
			return GroundPoint{}, errors.Wrapf(err, "elevation at %s", g)
		}
		if g, err = m.ForwardAtHeight(px, h); err != nil {
			return GroundPoint{}, err
		}
		cur := geodesy.GeodeticToECEF(g.Lon, g.Lat, g.Height)
		if cur.Distance(prev) < elevationTolerance {
			return g, nil
		}
		prev = cur
	}
	return GroundPoint{}, errors.Wrapf(ErrConvergence, "pixel %s: terrain height did not settle in %d iterations", px, maxElevationIters)
}

// Inverse returns the image position at which g is seen.
func (m *Model) Inverse(g GroundPoint) (PixelPoint, error) {
	if !m.IsValid() {
		return PixelPoint{}, ErrInvalidModel
	}
	if math.IsNaN(g.Lon) || math.IsNaN(g.Lat) || math.IsNaN(g.Height) {
		return PixelPoint{}, errors.Wrapf(ErrConvergence, "ground point %s is not a number", g)
	}
	px, err := m.geom.inverse(g)
	if err != nil {
		return PixelPoint{}, err
	}
	return px.Sub(m.offset), nil
}
