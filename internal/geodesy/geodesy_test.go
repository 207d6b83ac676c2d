package geodesy

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestForEPSG(t *testing.T) {
	tests := []struct {
		epsg     int
		wantNil  bool
		wantEPSG int
	}{
		{4326, false, 4326},
		{3857, false, 3857},
		{32632, false, 32632},
		{32755, false, 32755},
		{2056, true, 0},
		{0, true, 0},
	}
	for _, tt := range tests {
		p := ForEPSG(tt.epsg)
		if tt.wantNil {
			test.That(t, p, test.ShouldBeNil)
			continue
		}
		test.That(t, p, test.ShouldNotBeNil)
		test.That(t, p.EPSG(), test.ShouldEqual, tt.wantEPSG)
	}
}

func TestECEFKnownPoints(t *testing.T) {
	v := GeodeticToECEF(0, 0, 0)
	test.That(t, v.X, test.ShouldAlmostEqual, SemiMajorAxis, 1e-6)
	test.That(t, v.Y, test.ShouldAlmostEqual, 0.0, 1e-6)
	test.That(t, v.Z, test.ShouldAlmostEqual, 0.0, 1e-6)

	v = GeodeticToECEF(0, 90, 0)
	test.That(t, v.Z, test.ShouldAlmostEqual, SemiMinorAxis, 1e-6)

	lon, lat, h := ECEFToGeodetic(r3.Vector{Z: SemiMinorAxis + 100})
	test.That(t, lat, test.ShouldEqual, 90.0)
	test.That(t, lon, test.ShouldEqual, 0.0)
	test.That(t, h, test.ShouldAlmostEqual, 100.0, 1e-9)
}

func TestECEFRoundTrip(t *testing.T) {
	for _, p := range [][3]float64{
		{8.5417, 47.3769, 408},
		{-122.42, 37.77, -30},
		{139.75, 35.68, 8848},
		{-70.0, -33.4, 700000},
		{179.9, -89.5, 0},
	} {
		lon, lat, h := ECEFToGeodetic(GeodeticToECEF(p[0], p[1], p[2]))
		test.That(t, lon, test.ShouldAlmostEqual, p[0], 1e-9)
		test.That(t, lat, test.ShouldAlmostEqual, p[1], 1e-9)
		test.That(t, h, test.ShouldAlmostEqual, p[2], 1e-4)
	}
}

func TestDistance(t *testing.T) {
	// One arc-second of latitude at the equator is about 30.7 m.
	d := Distance(0, 0, 0, 0, 1.0/3600, 0)
	test.That(t, d, test.ShouldAlmostEqual, 30.715, 0.01)
	test.That(t, Distance(10, 10, 0, 10, 10, 25), test.ShouldAlmostEqual, 25.0, 1e-6)
	// Antipodes are a diameter apart, not half a circumference.
	test.That(t, Distance(0, 0, 0, 180, 0, 0), test.ShouldAlmostEqual, 2*SemiMajorAxis, 1e-3)
}

func TestENUOrthonormal(t *testing.T) {
	e, n, u := ENUBasis(8.5, 47.4)
	test.That(t, e.Norm(), test.ShouldAlmostEqual, 1.0, 1e-12)
	test.That(t, n.Norm(), test.ShouldAlmostEqual, 1.0, 1e-12)
	test.That(t, e.Dot(n), test.ShouldAlmostEqual, 0.0, 1e-12)
	test.That(t, e.Cross(n).Sub(u).Norm(), test.ShouldAlmostEqual, 0.0, 1e-12)
}

func TestIntersectEllipsoid(t *testing.T) {
	origin := GeodeticToECEF(10, 45, 700000)
	down := GeodeticToECEF(10, 45, 0).Sub(origin).Normalize()

	for _, h := range []float64{0, 250, 4000} {
		p, ok := IntersectEllipsoid(origin, down, h)
		test.That(t, ok, test.ShouldBeTrue)
		lon, lat, gotH := ECEFToGeodetic(p)
		test.That(t, lon, test.ShouldAlmostEqual, 10.0, 1e-6)
		test.That(t, lat, test.ShouldAlmostEqual, 45.0, 1e-6)
		test.That(t, gotH, test.ShouldAlmostEqual, h, 1e-3)
	}

	_, ok := IntersectEllipsoid(origin, down.Mul(-1), 0)
	test.That(t, ok, test.ShouldBeFalse)

	// A ray starting under the surface still finds the exit point.
	inside := GeodeticToECEF(10, 45, -1000)
	p, ok := IntersectEllipsoid(inside, down.Mul(-1), 0)
	test.That(t, ok, test.ShouldBeTrue)
	_, _, gotH := ECEFToGeodetic(p)
	test.That(t, gotH, test.ShouldAlmostEqual, 0.0, 1e-3)
}

func TestProjectionRoundTrip(t *testing.T) {
	points := [][2]float64{
		{8.5417, 47.3769},
		{6.6323, 46.5197},
		{7.4474, 46.9480},
		{9.3767, 47.4245},
		{8.9511, 46.0037},
	}
	projections := []Projection{WGS84Identity{}, WebMercator{}, UTM{Zone: 32}}

	for _, proj := range projections {
		for _, pt := range points {
			x, y := proj.FromWGS84(pt[0], pt[1])
			lon, lat := proj.ToWGS84(x, y)
			test.That(t, lon, test.ShouldAlmostEqual, pt[0], 1e-7)
			test.That(t, lat, test.ShouldAlmostEqual, pt[1], 1e-7)
		}
	}
}

func TestUTMKnownValues(t *testing.T) {
	// Central meridian of zone 31 on the equator.
	x, y := UTM{Zone: 31}.FromWGS84(3, 0)
	test.That(t, x, test.ShouldAlmostEqual, 500000.0, 1e-6)
	test.That(t, y, test.ShouldAlmostEqual, 0.0, 1e-6)

	// Zurich, EPSG:32632.
	x, y = UTM{Zone: 32}.FromWGS84(8.5417, 47.3769)
	test.That(t, x, test.ShouldAlmostEqual, 465000, 1000)
	test.That(t, y, test.ShouldAlmostEqual, 5247000, 1000)

	// Southern hemisphere round trip.
	s := UTM{Zone: 19, South: true}
	x, y = s.FromWGS84(-70.6, -33.45)
	test.That(t, y > 6000000 && y < 7000000, test.ShouldBeTrue)
	lon, lat := s.ToWGS84(x, y)
	test.That(t, lon, test.ShouldAlmostEqual, -70.6, 1e-7)
	test.That(t, lat, test.ShouldAlmostEqual, -33.45, 1e-7)

	test.That(t, UTMZone(8.5), test.ShouldEqual, 32)
	test.That(t, UTMZone(-180), test.ShouldEqual, 1)
	test.That(t, UTMZone(180), test.ShouldEqual, 60)
	test.That(t, math.IsNaN(x), test.ShouldBeFalse)
}
