package sensor

import (
	"math"
	"strings"

	"github.com/pkg/errors"
)

const (
	numCoefficients = 20

	rpcMaxIterations = 10
	// rpcEpsilon is the Newton stopping residual in pixels.
	rpcEpsilon = 0.1
	// rpcDomain bounds normalised ground coordinates. Outside it the
	// polynomials are extrapolating and their output is meaningless.
	rpcDomain = 1.5
)

// polyType selects the term order of the 20-term polynomials.
type polyType byte

const (
	polyA polyType = 'A'
	polyB polyType = 'B'
)

type normalization struct {
	offset, scale float64
}

func (n normalization) normalize(v float64) float64   { return (v - n.offset) / n.scale }
func (n normalization) denormalize(v float64) float64 { return v*n.scale + n.offset }

// rational is a ratio of two 20-term cubic polynomials.
type rational struct {
	num, den [numCoefficients]float64
}

// rpc is a rational polynomial camera. The inverse polynomials map
// normalised ground (P = lat, L = lon, H = height) to normalised image
// coordinates; the optional direct polynomials map normalised image
// (P = line, L = sample, H = height) to normalised ground.
type rpc struct {
	poly polyType

	line, samp, lat, lon, hgt normalization

	lineFn, sampFn rational

	hasDirect    bool
	latFn, lonFn rational
}

func buildRPC(md Metadata) (*rpc, error) {
	r := &rpc{poly: polyB}
	if v, ok := md.Get("polynomial_format"); ok {
		switch strings.ToUpper(v) {
		case "A":
			r.poly = polyA
		case "B":
			r.poly = polyB
		default:
			return nil, errors.Wrapf(ErrModelBuild, "keyword \"polynomial_format\": %q is not A or B", v)
		}
	}

	norms := []struct {
		n           *normalization
		offset, scl string
	}{
		{&r.line, "line_off", "line_scale"},
		{&r.samp, "samp_off", "samp_scale"},
		{&r.lat, "lat_off", "lat_scale"},
		{&r.lon, "long_off", "long_scale"},
		{&r.hgt, "height_off", "height_scale"},
	}
	for _, n := range norms {
		var err error
		if n.n.offset, err = md.float(n.offset); err != nil {
			return nil, err
		}
		if n.n.scale, err = md.float(n.scl); err != nil {
			return nil, err
		}
		if n.n.scale == 0 {
			return nil, errors.Wrapf(ErrModelBuild, "keyword %q must not be zero", n.scl)
		}
	}

	var err error
	if r.lineFn, err = readRational(md, "line"); err != nil {
		return nil, err
	}
	if r.sampFn, err = readRational(md, "samp"); err != nil {
		return nil, err
	}

	if md.hasAny("lat_num_coeff_") || md.hasAny("lon_num_coeff_") ||
		md.hasAny("lat_den_coeff_") || md.hasAny("lon_den_coeff_") {
		if r.latFn, err = readRational(md, "lat"); err != nil {
			return nil, err
		}
		if r.lonFn, err = readRational(md, "lon"); err != nil {
			return nil, err
		}
		r.hasDirect = true
	}
	return r, nil
}

func readRational(md Metadata, name string) (rational, error) {
	var (
		fn  rational
		err error
	)
	if fn.num, err = md.coefficients(name + "_num_coeff_"); err != nil {
		return fn, err
	}
	if fn.den, err = md.coefficients(name + "_den_coeff_"); err != nil {
		return fn, err
	}
	return fn, nil
}

func (r *rpc) kind() string { return KindRPC }

// polynomial evaluates c at normalised P, L, H.
func (r *rpc) polynomial(p, l, h float64, c *[numCoefficients]float64) float64 {
	if r.poly == polyA {
		return c[0] + c[1]*l + c[2]*p + c[3]*h +
			c[4]*l*p + c[5]*l*h + c[6]*p*h + c[7]*l*p*h +
			c[8]*l*l + c[9]*p*p + c[10]*h*h + c[11]*l*l*l +
			c[12]*l*l*p + c[13]*l*l*h + c[14]*l*p*p + c[15]*p*p*p +
			c[16]*p*p*h + c[17]*l*h*h + c[18]*p*h*h + c[19]*h*h*h
	}
	return c[0] + c[1]*l + c[2]*p + c[3]*h +
		c[4]*l*p + c[5]*l*h + c[6]*p*h + c[7]*l*l +
		c[8]*p*p + c[9]*h*h + c[10]*l*p*h + c[11]*l*l*l +
		c[12]*l*p*p + c[13]*l*h*h + c[14]*l*l*p + c[15]*p*p*p +
		c[16]*p*h*h + c[17]*l*l*h + c[18]*p*p*h + c[19]*h*h*h
}

func (r *rpc) dPolydP(p, l, h float64, c *[numCoefficients]float64) float64 {
	if r.poly == polyA {
		return c[2] + c[4]*l + c[6]*h + c[7]*l*h + 2*c[9]*p + c[12]*l*l +
			2*c[14]*l*p + 3*c[15]*p*p + 2*c[16]*p*h + c[18]*h*h
	}
	return c[2] + c[4]*l + c[6]*h + 2*c[8]*p + c[10]*l*h + 2*c[12]*l*p +
		c[14]*l*l + 3*c[15]*p*p + c[16]*h*h + 2*c[18]*p*h
}

func (r *rpc) dPolydL(p, l, h float64, c *[numCoefficients]float64) float64 {
	if r.poly == polyA {
		return c[1] + c[4]*p + c[5]*h + c[7]*p*h + 2*c[8]*l + 3*c[11]*l*l +
			2*c[12]*l*p + 2*c[13]*l*h + c[14]*p*p + c[17]*h*h
	}
	return c[1] + c[4]*p + c[5]*h + 2*c[7]*l + c[10]*p*h + 3*c[11]*l*l +
		c[12]*p*p + c[13]*h*h + 2*c[14]*p*l + 2*c[17]*l*h
}

func (r *rpc) ratio(p, l, h float64, fn *rational) (float64, error) {
	q := r.polynomial(p, l, h, &fn.den)
	if q == 0 {
		return 0, errors.Wrap(ErrConvergence, "rational polynomial denominator is zero")
	}
	return r.polynomial(p, l, h, &fn.num) / q, nil
}

func inDomain(v ...float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.Abs(x) > rpcDomain {
			return false
		}
	}
	return true
}

// inverse evaluates the image polynomials in closed form.
func (r *rpc) inverse(g GroundPoint) (PixelPoint, error) {
	nlat := r.lat.normalize(g.Lat)
	nlon := r.lon.normalize(g.Lon)
	nhgt := r.hgt.normalize(g.Height)
	if !inDomain(nlat, nlon) {
		return PixelPoint{}, errors.Wrapf(ErrConvergence, "ground point %s is outside the RPC validity domain", g)
	}
	u, err := r.ratio(nlat, nlon, nhgt, &r.lineFn)
	if err != nil {
		return PixelPoint{}, err
	}
	v, err := r.ratio(nlat, nlon, nhgt, &r.sampFn)
	if err != nil {
		return PixelPoint{}, err
	}
	return PixelPoint{Line: r.line.denormalize(u), Sample: r.samp.denormalize(v)}, nil
}

// forwardAtHeight evaluates the direct polynomials when present and
// otherwise inverts the image polynomials by Newton iteration.
func (r *rpc) forwardAtHeight(px PixelPoint, h float64) (GroundPoint, error) {
	u := r.line.normalize(px.Line)
	v := r.samp.normalize(px.Sample)
	nhgt := r.hgt.normalize(h)

	var nlat, nlon float64
	if r.hasDirect {
		var err error
		if nlat, err = r.ratio(u, v, nhgt, &r.latFn); err != nil {
			return GroundPoint{}, err
		}
		if nlon, err = r.ratio(u, v, nhgt, &r.lonFn); err != nil {
			return GroundPoint{}, err
		}
	} else {
		var err error
		if nlat, nlon, err = r.solveGround(u, v, nhgt); err != nil {
			return GroundPoint{}, errors.Wrapf(err, "pixel %s", px)
		}
	}
	if !inDomain(nlat, nlon) {
		return GroundPoint{}, errors.Wrapf(ErrConvergence, "pixel %s maps outside the RPC validity domain", px)
	}
	return GroundPoint{Lon: r.lon.denormalize(nlon), Lat: r.lat.denormalize(nlat), Height: h}, nil
}

// solveGround finds normalised lat, lon whose image is u, v, starting from
// the centre of the normalised domain.
func (r *rpc) solveGround(u, v, nhgt float64) (nlat, nlon float64, err error) {
	epsU := rpcEpsilon / math.Abs(r.line.scale)
	epsV := rpcEpsilon / math.Abs(r.samp.scale)

	for i := 0; i < rpcMaxIterations; i++ {
		pu := r.polynomial(nlat, nlon, nhgt, &r.lineFn.num)
		qu := r.polynomial(nlat, nlon, nhgt, &r.lineFn.den)
		pv := r.polynomial(nlat, nlon, nhgt, &r.sampFn.num)
		qv := r.polynomial(nlat, nlon, nhgt, &r.sampFn.den)
		if qu == 0 || qv == 0 {
			return 0, 0, errors.Wrap(ErrConvergence, "rational polynomial denominator is zero")
		}
		du := u - pu/qu
		dv := v - pv/qv
		if math.Abs(du) <= epsU && math.Abs(dv) <= epsV {
			return nlat, nlon, nil
		}

		duDLat := (qu*r.dPolydP(nlat, nlon, nhgt, &r.lineFn.num) - pu*r.dPolydP(nlat, nlon, nhgt, &r.lineFn.den)) / (qu * qu)
		duDLon := (qu*r.dPolydL(nlat, nlon, nhgt, &r.lineFn.num) - pu*r.dPolydL(nlat, nlon, nhgt, &r.lineFn.den)) / (qu * qu)
		dvDLat := (qv*r.dPolydP(nlat, nlon, nhgt, &r.sampFn.num) - pv*r.dPolydP(nlat, nlon, nhgt, &r.sampFn.den)) / (qv * qv)
		dvDLon := (qv*r.dPolydL(nlat, nlon, nhgt, &r.sampFn.num) - pv*r.dPolydL(nlat, nlon, nhgt, &r.sampFn.den)) / (qv * qv)

		w := duDLon*dvDLat - duDLat*dvDLon
		if w == 0 || math.IsNaN(w) {
			return 0, 0, errors.Wrap(ErrConvergence, "RPC Jacobian is singular")
		}
		nlat += (duDLon*dv - dvDLon*du) / w
		nlon += (dvDLat*du - duDLat*dv) / w
		if !inDomain(nlat, nlon) {
			return 0, 0, errors.Wrap(ErrConvergence, "RPC ground solution left the validity domain")
		}
	}
	return 0, 0, errors.Wrapf(ErrConvergence, "RPC ground solution not found in %d iterations", rpcMaxIterations)
}
