// Package geodesy converts between geodetic and earth-centred coordinates on
// the WGS84 ellipsoid and between WGS84 and map projections.
//
// Angles are radians internally; exported functions take and return
// degrees.
package geodesy

import (
	"math"

	"github.com/golang/geo/r3"
)

// WGS84 ellipsoid.
const (
	SemiMajorAxis = 6378137.0
	Flattening    = 1 / 298.257223563
	SemiMinorAxis = SemiMajorAxis * (1 - Flattening)
	// E2 is the first eccentricity squared.
	E2 = Flattening * (2 - Flattening)
	// EP2 is the second eccentricity squared.
	EP2 = E2 / (1 - E2)
)

const (
	deg2rad = math.Pi / 180
	rad2deg = 180 / math.Pi
)

// Radians converts degrees to radians.
func Radians(deg float64) float64 { return deg * deg2rad }

// Degrees converts radians to degrees.
func Degrees(rad float64) float64 { return rad * rad2deg }

// GeodeticToECEF returns the earth-centred earth-fixed position of a point
// given in degrees and metres above the ellipsoid.
func GeodeticToECEF(lon, lat, h float64) r3.Vector {
	phi, lam := lat*deg2rad, lon*deg2rad
	sinPhi, cosPhi := math.Sincos(phi)
	sinLam, cosLam := math.Sincos(lam)
	n := SemiMajorAxis / math.Sqrt(1-E2*sinPhi*sinPhi)
	return r3.Vector{
		X: (n + h) * cosPhi * cosLam,
		Y: (n + h) * cosPhi * sinLam,
		Z: (n*(1-E2) + h) * sinPhi,
	}
}

// ECEFToGeodetic is the inverse of GeodeticToECEF.
func ECEFToGeodetic(v r3.Vector) (lon, lat, h float64) {
	p := math.Hypot(v.X, v.Y)
	if p < 1e-9 {
		if v.Z >= 0 {
			return 0, 90, v.Z - SemiMinorAxis
		}
		return 0, -90, -v.Z - SemiMinorAxis
	}
	lam := math.Atan2(v.Y, v.X)
	phi := math.Atan2(v.Z, p*(1-E2))
	for i := 0; i < 10; i++ {
		sinPhi := math.Sin(phi)
		n := SemiMajorAxis / math.Sqrt(1-E2*sinPhi*sinPhi)
		h = p/math.Cos(phi) - n
		next := math.Atan2(v.Z, p*(1-E2*n/(n+h)))
		if math.Abs(next-phi) < 1e-14 {
			phi = next
			break
		}
		phi = next
	}
	sinPhi := math.Sin(phi)
	n := SemiMajorAxis / math.Sqrt(1-E2*sinPhi*sinPhi)
	h = p/math.Cos(phi) - n
	return lam * rad2deg, phi * rad2deg, h
}

// Distance returns the straight-line distance in metres between two
// geodetic points.
func Distance(lon1, lat1, h1, lon2, lat2, h2 float64) float64 {
	return GeodeticToECEF(lon1, lat1, h1).Distance(GeodeticToECEF(lon2, lat2, h2))
}

// ENUBasis returns the east, north and up unit vectors at a geodetic position.
func ENUBasis(lon, lat float64) (east, north, up r3.Vector) {
	sinPhi, cosPhi := math.Sincos(lat * deg2rad)
	sinLam, cosLam := math.Sincos(lon * deg2rad)
	east = r3.Vector{X: -sinLam, Y: cosLam}
	north = r3.Vector{X: -sinPhi * cosLam, Y: -sinPhi * sinLam, Z: cosPhi}
	up = r3.Vector{X: cosPhi * cosLam, Y: cosPhi * sinLam, Z: sinPhi}
	return east, north, up
}

// IntersectEllipsoid returns the first point at geodetic height h on the ray
// origin+t*dir, t >= 0. ok is false when the ray misses.
func IntersectEllipsoid(origin, dir r3.Vector, h float64) (r3.Vector, bool) {
	// The surface at constant geodetic height is not an ellipsoid; solve on
	// the ellipsoid with both axes raised and correct the raise until the
	// geodetic height matches.
	raise := h
	var p r3.Vector
	for i := 0; i < 10; i++ {
		var ok bool
		p, ok = intersectRaised(origin, dir, raise)
		if !ok {
			return r3.Vector{}, false
		}
		_, _, got := ECEFToGeodetic(p)
		if math.Abs(got-h) < 1e-6 {
			break
		}
		raise += h - got
	}
	return p, true
}

func intersectRaised(origin, dir r3.Vector, h float64) (r3.Vector, bool) {
	a := SemiMajorAxis + h
	b := SemiMinorAxis + h
	if a <= 0 || b <= 0 {
		return r3.Vector{}, false
	}
	// Scale to the unit sphere.
	o := r3.Vector{X: origin.X / a, Y: origin.Y / a, Z: origin.Z / b}
	d := r3.Vector{X: dir.X / a, Y: dir.Y / a, Z: dir.Z / b}

	qa := d.Dot(d)
	qb := 2 * o.Dot(d)
	qc := o.Dot(o) - 1
	disc := qb*qb - 4*qa*qc
	if qa == 0 || disc < 0 {
		return r3.Vector{}, false
	}
	sq := math.Sqrt(disc)
	t := (-qb - sq) / (2 * qa)
	if t < 0 {
		t = (-qb + sq) / (2 * qa)
	}
	if t < 0 {
		return r3.Vector{}, false
	}
	return origin.Add(dir.Mul(t)), true
}
