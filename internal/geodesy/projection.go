package geodesy

import (
	"fmt"
	"math"
)

// Projection defines the interface for converting between a source CRS and WGS84.
type Projection interface {
	// ToWGS84 converts source CRS coordinates to WGS84 longitude/latitude (degrees).
	ToWGS84(x, y float64) (lon, lat float64)

	// FromWGS84 converts WGS84 longitude/latitude (degrees) to source CRS coordinates.
	FromWGS84(lon, lat float64) (x, y float64)

	// EPSG returns the EPSG code for this projection.
	EPSG() int
}

// ForEPSG returns a Projection for the given EPSG code.
// Returns nil if the EPSG code is not supported.
func ForEPSG(epsg int) Projection {
	switch {
	case epsg == 4326:
		return WGS84Identity{}
	case epsg == 3857:
		return WebMercator{}
	case epsg > 32600 && epsg <= 32660:
		return UTM{Zone: epsg - 32600}
	case epsg > 32700 && epsg <= 32760:
		return UTM{Zone: epsg - 32700, South: true}
	default:
		return nil
	}
}

// WGS84Identity is a no-op projection for data already in EPSG:4326.
type WGS84Identity struct{}

func (WGS84Identity) ToWGS84(x, y float64) (lon, lat float64)   { return x, y }
func (WGS84Identity) FromWGS84(lon, lat float64) (x, y float64) { return lon, lat }
func (WGS84Identity) EPSG() int                                 { return 4326 }

// originShift is half the circumference of the Web Mercator sphere.
const originShift = 20037508.342789244 // 2 * pi * 6378137 / 2

// WebMercator is spherical Mercator, EPSG:3857.
type WebMercator struct{}

func (WebMercator) EPSG() int { return 3857 }

func (WebMercator) FromWGS84(lon, lat float64) (x, y float64) {
	x = lon * originShift / 180.0
	y = math.Log(math.Tan((90+lat)*math.Pi/360.0)) / (math.Pi / 180.0)
	y = y * originShift / 180.0
	return x, y
}

func (WebMercator) ToWGS84(x, y float64) (lon, lat float64) {
	lon = x / originShift * 180.0
	lat = y / originShift * 180.0
	lat = 180.0 / math.Pi * (2.0*math.Atan(math.Exp(lat*math.Pi/180.0)) - math.Pi/2.0)
	return lon, lat
}

// UTM is a Universal Transverse Mercator zone on WGS84.
type UTM struct {
	Zone  int
	South bool
}

const (
	utmK0            = 0.9996
	utmFalseEasting  = 500000.0
	utmFalseNorthing = 10000000.0
)

// UTMZone returns the zone number containing lon.
func UTMZone(lon float64) int {
	z := int(math.Floor((lon+180)/6)) + 1
	if z > 60 {
		z = 60
	}
	if z < 1 {
		z = 1
	}
	return z
}

func (u UTM) EPSG() int {
	if u.South {
		return 32700 + u.Zone
	}
	return 32600 + u.Zone
}

func (u UTM) String() string {
	hemi := "N"
	if u.South {
		hemi = "S"
	}
	return fmt.Sprintf("UTM %d%s", u.Zone, hemi)
}

func (u UTM) centralMeridian() float64 {
	return Radians(float64(u.Zone-1)*6 - 180 + 3)
}

// meridianArc is the distance along the meridian from the equator to phi.
func meridianArc(phi float64) float64 {
	e4 := E2 * E2
	e6 := e4 * E2
	return SemiMajorAxis * ((1-E2/4-3*e4/64-5*e6/256)*phi -
		(3*E2/8+3*e4/32+45*e6/1024)*math.Sin(2*phi) +
		(15*e4/256+45*e6/1024)*math.Sin(4*phi) -
		(35*e6/3072)*math.Sin(6*phi))
}

func (u UTM) FromWGS84(lon, lat float64) (x, y float64) {
	phi := Radians(lat)
	sinPhi, cosPhi := math.Sincos(phi)
	tanPhi := math.Tan(phi)

	n := SemiMajorAxis / math.Sqrt(1-E2*sinPhi*sinPhi)
	t := tanPhi * tanPhi
	c := EP2 * cosPhi * cosPhi
	a := cosPhi * (Radians(lon) - u.centralMeridian())
	m := meridianArc(phi)

	a2 := a * a
	x = utmK0*n*(a+(1-t+c)*a2*a/6+(5-18*t+t*t+72*c-58*EP2)*a2*a2*a/120) + utmFalseEasting
	y = utmK0 * (m + n*tanPhi*(a2/2+(5-t+9*c+4*c*c)*a2*a2/24+(61-58*t+t*t+600*c-330*EP2)*a2*a2*a2/720))
	if u.South {
		y += utmFalseNorthing
	}
	return x, y
}

func (u UTM) ToWGS84(x, y float64) (lon, lat float64) {
	x -= utmFalseEasting
	if u.South {
		y -= utmFalseNorthing
	}

	e4 := E2 * E2
	e6 := e4 * E2
	m := y / utmK0
	mu := m / (SemiMajorAxis * (1 - E2/4 - 3*e4/64 - 5*e6/256))
	sq := math.Sqrt(1 - E2)
	e1 := (1 - sq) / (1 + sq)

	phi1 := mu + (3*e1/2-27*e1*e1*e1/32)*math.Sin(2*mu) +
		(21*e1*e1/16-55*e1*e1*e1*e1/32)*math.Sin(4*mu) +
		(151*e1*e1*e1/96)*math.Sin(6*mu) +
		(1097*e1*e1*e1*e1/512)*math.Sin(8*mu)

	sinPhi1, cosPhi1 := math.Sincos(phi1)
	tanPhi1 := math.Tan(phi1)
	c1 := EP2 * cosPhi1 * cosPhi1
	t1 := tanPhi1 * tanPhi1
	w := 1 - E2*sinPhi1*sinPhi1
	n1 := SemiMajorAxis / math.Sqrt(w)
	r1 := SemiMajorAxis * (1 - E2) / (w * math.Sqrt(w))
	d := x / (n1 * utmK0)
	d2 := d * d

	phi := phi1 - (n1*tanPhi1/r1)*(d2/2-
		(5+3*t1+10*c1-4*c1*c1-9*EP2)*d2*d2/24+
		(61+90*t1+298*c1+45*t1*t1-252*EP2-3*c1*c1)*d2*d2*d2/720)
	lam := u.centralMeridian() + (d-(1+2*t1+c1)*d2*d/6+
		(5-2*c1+28*t1-3*c1*c1+8*EP2+24*t1*t1)*d2*d2*d/120)/cosPhi1

	return Degrees(lam), Degrees(phi)
}
