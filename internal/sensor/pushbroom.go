package sensor

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/kiesman99/geostream/internal/geodesy"
)

const (
	pbMaxIterations = 20
	// pbTolerance is the ground residual, in metres, at which the inverse
	// stops.
	pbTolerance = 1e-3
	// pbStep is the half-width in pixels of the central differences used
	// for the Jacobian.
	pbStep = 0.5
)

// pushbroom is a line scanner on a straight-line orbit. Line l is acquired
// from position + l*velocity; samples fan out across track with a constant
// angular step.
type pushbroom struct {
	lines, samples int

	position r3.Vector // ECEF metres at line 0
	velocity r3.Vector // ECEF metres per line

	ifov         float64 // radians per sample
	centerSample float64
	roll         float64 // radians, across track
	pitch        float64 // radians, along track
	yaw          float64 // radians, about the local vertical
}

func buildPushbroom(md Metadata) (*pushbroom, error) {
	p := &pushbroom{}
	var err error
	if p.lines, err = md.positiveInt("number_lines"); err != nil {
		return nil, err
	}
	if p.samples, err = md.positiveInt("number_samples"); err != nil {
		return nil, err
	}

	vec := func(prefix string) (r3.Vector, error) {
		var v r3.Vector
		var err error
		if v.X, err = md.float(prefix + "_x"); err != nil {
			return v, err
		}
		if v.Y, err = md.float(prefix + "_y"); err != nil {
			return v, err
		}
		if v.Z, err = md.float(prefix + "_z"); err != nil {
			return v, err
		}
		return v, nil
	}
	if p.position, err = vec("position"); err != nil {
		return nil, err
	}
	if p.velocity, err = vec("velocity"); err != nil {
		return nil, err
	}
	if p.position.Norm() <= geodesy.SemiMajorAxis {
		return nil, errors.Wrap(ErrModelBuild, "sensor position is not above the ellipsoid")
	}
	up := p.position.Normalize()
	if p.velocity.Sub(up.Mul(p.velocity.Dot(up))).Norm() <= 1e-9*p.velocity.Norm() {
		return nil, errors.Wrap(ErrModelBuild, "sensor velocity has no along-track component")
	}

	if p.ifov, err = md.float("ifov"); err != nil {
		return nil, err
	}
	if p.ifov <= 0 {
		return nil, errors.Wrap(ErrModelBuild, "keyword \"ifov\" must be positive")
	}
	if p.centerSample, err = md.floatOr("center_sample", float64(p.samples-1)/2); err != nil {
		return nil, err
	}

	for _, a := range []struct {
		dst *float64
		key string
	}{
		{&p.roll, "roll"},
		{&p.pitch, "pitch"},
		{&p.yaw, "yaw"},
	} {
		deg, err := md.floatOr(a.key, 0)
		if err != nil {
			return nil, err
		}
		if math.Abs(deg) >= 80 {
			return nil, errors.Wrapf(ErrModelBuild, "keyword %q: %g degrees does not look at the ground", a.key, deg)
		}
		*a.dst = geodesy.Radians(deg)
	}
	return p, nil
}

func (p *pushbroom) kind() string { return KindPushbroom }

// ray returns the sensor position and unit look direction for px.
func (p *pushbroom) ray(px PixelPoint) (origin, dir r3.Vector) {
	origin = p.position.Add(p.velocity.Mul(px.Line))
	up := origin.Normalize()
	along := p.velocity.Sub(up.Mul(p.velocity.Dot(up))).Normalize()
	cross := along.Cross(up)

	sinYaw, cosYaw := math.Sincos(p.yaw)
	along, cross = along.Mul(cosYaw).Add(cross.Mul(sinYaw)), cross.Mul(cosYaw).Sub(along.Mul(sinYaw))

	theta := (px.Sample-p.centerSample)*p.ifov + p.roll
	dir = up.Mul(-1).
		Add(cross.Mul(math.Tan(theta))).
		Add(along.Mul(math.Tan(p.pitch))).
		Normalize()
	return origin, dir
}

func (p *pushbroom) groundECEF(px PixelPoint, h float64) (r3.Vector, error) {
	origin, dir := p.ray(px)
	hit, ok := geodesy.IntersectEllipsoid(origin, dir, h)
	if !ok {
		return r3.Vector{}, errors.Wrapf(ErrConvergence, "line of sight of pixel %s misses the earth", px)
	}
	return hit, nil
}

func (p *pushbroom) forwardAtHeight(px PixelPoint, h float64) (GroundPoint, error) {
	hit, err := p.groundECEF(px, h)
	if err != nil {
		return GroundPoint{}, err
	}
	lon, lat, _ := geodesy.ECEFToGeodetic(hit)
	return GroundPoint{Lon: lon, Lat: lat, Height: h}, nil
}

// inverse refines an image position from the image centre with Newton
// steps on the east/north ground residual at the target.
func (p *pushbroom) inverse(g GroundPoint) (PixelPoint, error) {
	target := geodesy.GeodeticToECEF(g.Lon, g.Lat, g.Height)
	east, north, up := geodesy.ENUBasis(g.Lon, g.Lat)

	px := PixelPoint{Line: float64(p.lines-1) / 2, Sample: p.centerSample}
	sensorPos, _ := p.ray(px)
	if sensorPos.Sub(target).Dot(up) <= 0 {
		return PixelPoint{}, errors.Wrapf(ErrConvergence, "ground point %s is not visible from the sensor", g)
	}

	residual := func(px PixelPoint) ([2]float64, float64, error) {
		hit, err := p.groundECEF(px, g.Height)
		if err != nil {
			return [2]float64{}, 0, err
		}
		d := hit.Sub(target)
		return [2]float64{d.Dot(east), d.Dot(north)}, d.Norm(), nil
	}

	steps := [2]PixelPoint{{Line: pbStep}, {Sample: pbStep}}
	for i := 0; i < pbMaxIterations; i++ {
		r, dist, err := residual(px)
		if err != nil {
			return PixelPoint{}, errors.Wrapf(err, "inverse of %s", g)
		}
		if dist < pbTolerance {
			return px, nil
		}

		jac := mat.NewDense(2, 2, nil)
		for col, step := range steps {
			plus, _, err := residual(px.Add(step))
			if err != nil {
				return PixelPoint{}, errors.Wrapf(err, "inverse of %s", g)
			}
			minus, _, err := residual(px.Sub(step))
			if err != nil {
				return PixelPoint{}, errors.Wrapf(err, "inverse of %s", g)
			}
			jac.Set(0, col, (plus[0]-minus[0])/(2*pbStep))
			jac.Set(1, col, (plus[1]-minus[1])/(2*pbStep))
		}

		var delta mat.VecDense
		if err := delta.SolveVec(jac, mat.NewVecDense(2, []float64{-r[0], -r[1]})); err != nil {
			return PixelPoint{}, errors.Wrapf(ErrConvergence, "inverse of %s: Jacobian is singular: %v", g, err)
		}
		px.Line += delta.AtVec(0)
		px.Sample += delta.AtVec(1)

		if !p.nearImage(px) {
			return PixelPoint{}, errors.Wrapf(ErrConvergence, "inverse of %s diverged to %s", g, px)
		}
	}
	return PixelPoint{}, errors.Wrapf(ErrConvergence, "inverse of %s did not converge in %d iterations", g, pbMaxIterations)
}

// nearImage reports whether px is within one image size of the image.
func (p *pushbroom) nearImage(px PixelPoint) bool {
	l, s := float64(p.lines), float64(p.samples)
	return px.Line >= -l && px.Line <= 2*l && px.Sample >= -s && px.Sample <= 2*s
}
