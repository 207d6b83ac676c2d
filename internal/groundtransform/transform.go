// Package groundtransform chains a sensor model, terrain heights and a map
// projection into one pixel to map coordinate transform.
package groundtransform

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kiesman99/geostream/internal/elevation"
	"github.com/kiesman99/geostream/internal/geodesy"
	"github.com/kiesman99/geostream/internal/sensor"
	"github.com/kiesman99/geostream/pkg/tile"
)

// DefaultThreshold is the largest ground distance, in metres, at which two
// transforms of the same pixel are considered equal.
const DefaultThreshold = 1e-3

// Point is a position in the output projection. Height is metres above the
// ellipsoid.
type Point struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Height float64 `json:"height"`
}

// Transform maps image positions of one sensor model to map coordinates.
// It is safe for concurrent use when its elevation source is.
type Transform struct {
	model  *sensor.Model
	elev   elevation.Source
	proj   geodesy.Projection
	logger *zap.SugaredLogger
}

type Option func(*Transform)

// WithProjection sets the output projection. The default is WGS84
// longitude/latitude.
func WithProjection(proj geodesy.Projection) Option {
	return func(t *Transform) {
		t.proj = proj
	}
}

func WithLogger(logger *zap.SugaredLogger) Option {
	return func(t *Transform) {
		t.logger = logger
	}
}

// New returns a transform for model. A nil elev means the ellipsoid.
func New(model *sensor.Model, elev elevation.Source, options ...Option) (*Transform, error) {
	if !model.IsValid() {
		return nil, sensor.ErrInvalidModel
	}
	t := &Transform{
		model:  model,
		elev:   elev,
		proj:   geodesy.WGS84Identity{},
		logger: zap.NewNop().Sugar(),
	}
	if t.elev == nil {
		t.elev = elevation.Constant(0)
	}
	for _, option := range options {
		option(t)
	}
	if t.proj == nil {
		return nil, errors.Wrap(tile.ErrConfiguration, "nil projection")
	}
	return t, nil
}

func (t *Transform) Model() *sensor.Model            { return t.model }
func (t *Transform) Projection() geodesy.Projection { return t.proj }
func (t *Transform) Elevation() elevation.Source    { return t.elev }

// Ground returns the WGS84 position seen at px on the terrain.
func (t *Transform) Ground(ctx context.Context, px sensor.PixelPoint) (sensor.GroundPoint, error) {
	return t.model.Forward(ctx, t.elev, px)
}

// TransformPoint returns the map position seen at px.
func (t *Transform) TransformPoint(ctx context.Context, px sensor.PixelPoint) (Point, error) {
	g, err := t.Ground(ctx, px)
	if err != nil {
		return Point{}, err
	}
	x, y := t.proj.FromWGS84(g.Lon, g.Lat)
	return Point{X: x, Y: y, Height: g.Height}, nil
}

// TransformPointAtHeight is TransformPoint with the terrain replaced by a
// fixed height above the ellipsoid.
func (t *Transform) TransformPointAtHeight(px sensor.PixelPoint, h float64) (Point, error) {
	g, err := t.model.ForwardAtHeight(px, h)
	if err != nil {
		return Point{}, err
	}
	x, y := t.proj.FromWGS84(g.Lon, g.Lat)
	return Point{X: x, Y: y, Height: g.Height}, nil
}

// TransformPoints transforms pxs with up to workers goroutines. Results are
// in input order.
func (t *Transform) TransformPoints(ctx context.Context, pxs []sensor.PixelPoint, workers int) ([]Point, error) {
	out := make([]Point, len(pxs))
	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, px := range pxs {
		g.Go(func() error {
			p, err := t.TransformPoint(gctx, px)
			if err != nil {
				return errors.Wrapf(err, "point %d", i)
			}
			out[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// InverseTransformPoint returns the image position at which p is seen. A NaN
// height is replaced by the terrain height under p.
func (t *Transform) InverseTransformPoint(ctx context.Context, p Point) (sensor.PixelPoint, error) {
	lon, lat := t.proj.ToWGS84(p.X, p.Y)
	h := p.Height
	if math.IsNaN(h) {
		var err error
		if h, err = t.elev.HeightAboveEllipsoid(ctx, lon, lat); err != nil {
			return sensor.PixelPoint{}, errors.Wrapf(err, "elevation at %.8f, %.8f", lon, lat)
		}
	}
	return t.model.Inverse(sensor.GroundPoint{Lon: lon, Lat: lat, Height: h})
}

// A Mismatch is a pixel whose two transforms disagree.
type Mismatch struct {
	Pixel    sensor.PixelPoint
	Full     sensor.GroundPoint
	Sub      sensor.GroundPoint
	Distance float64
}

// ConsistencyError lists every pixel at which a sub-image transform and the
// full-image transform disagree by more than Threshold metres.
type ConsistencyError struct {
	Threshold  float64
	Mismatches []Mismatch
}

func (e *ConsistencyError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d point(s) differ by more than %g m", len(e.Mismatches), e.Threshold)
	for i, m := range e.Mismatches {
		if i == 3 {
			fmt.Fprintf(&b, "; and %d more", len(e.Mismatches)-i)
			break
		}
		fmt.Fprintf(&b, "; %s: %.6f m", m.Pixel, m.Distance)
	}
	return b.String()
}

// CheckConsistency transforms each of points through sub, whose image
// starts at offset in the full image, and through full, and compares the
// ground positions. Points are in sub-image coordinates. A threshold of
// zero or less means DefaultThreshold. Transform failures are collected and
// returned together; disagreements are reported as a *ConsistencyError.
func CheckConsistency(ctx context.Context, full, sub *Transform, offset tile.Index, points []sensor.PixelPoint, threshold float64) error {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	shift := sensor.PixelPoint{Line: float64(offset.Y), Sample: float64(offset.X)}

	var errs error
	cerr := &ConsistencyError{Threshold: threshold}
	for _, px := range points {
		gs, err := sub.Ground(ctx, px)
		if err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "sub-image pixel %s", px))
			continue
		}
		gf, err := full.Ground(ctx, px.Add(shift))
		if err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "full-image pixel %s", px.Add(shift)))
			continue
		}
		d := geodesy.Distance(gs.Lon, gs.Lat, gs.Height, gf.Lon, gf.Lat, gf.Height)
		if d > threshold {
			cerr.Mismatches = append(cerr.Mismatches, Mismatch{Pixel: px, Full: gf, Sub: gs, Distance: d})
		}
	}
	if len(cerr.Mismatches) > 0 {
		full.logger.Warnw("sub-image transform disagrees with full image",
			"offset", fmt.Sprintf("%d,%d", offset.X, offset.Y), "mismatches", len(cerr.Mismatches))
		errs = multierr.Append(errs, cerr)
	}
	return errs
}
