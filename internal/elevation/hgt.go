package elevation

import (
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// hgtVoid marks a missing sample in an SRTM cell.
const hgtVoid = -32768

var hgtNameRx = regexp.MustCompile(`^([NSns])(\d{2})([EWew])(\d{3})\.hgt$`)

// A CellCoord is the south-west corner of a one-degree DEM cell.
type CellCoord struct {
	Lat int
	Lon int
}

// CellCoordFor returns the cell containing lon, lat.
func CellCoordFor(lon, lat float64) CellCoord {
	return CellCoord{Lat: int(math.Floor(lat)), Lon: int(math.Floor(lon))}
}

// edgeCellCoords returns the cells whose north or east edge passes through
// lon, lat, nearest first. Their edge posts cover the point as well.
func edgeCellCoords(lon, lat float64) []CellCoord {
	c := CellCoordFor(lon, lat)
	latEdge, lonEdge := lat == math.Floor(lat), lon == math.Floor(lon)
	var coords []CellCoord
	if latEdge {
		coords = append(coords, CellCoord{Lat: c.Lat - 1, Lon: c.Lon})
	}
	if lonEdge {
		coords = append(coords, CellCoord{Lat: c.Lat, Lon: c.Lon - 1})
	}
	if latEdge && lonEdge {
		coords = append(coords, CellCoord{Lat: c.Lat - 1, Lon: c.Lon - 1})
	}
	return coords
}

// Filename returns the SRTM file name of c, e.g. N45E006.hgt.
func (c CellCoord) Filename() string {
	ns, ew := 'N', 'E'
	lat, lon := c.Lat, c.Lon
	if lat < 0 {
		ns, lat = 'S', -lat
	}
	if lon < 0 {
		ew, lon = 'W', -lon
	}
	return fmt.Sprintf("%c%02d%c%03d.hgt", ns, lat, ew, lon)
}

// ParseCellFilename is the inverse of CellCoord.Filename.
func ParseCellFilename(name string) (CellCoord, bool) {
	m := hgtNameRx.FindStringSubmatch(name)
	if m == nil {
		return CellCoord{}, false
	}
	lat, _ := strconv.Atoi(m[2])
	lon, _ := strconv.Atoi(m[4])
	if strings.EqualFold(m[1], "S") {
		lat = -lat
	}
	if strings.EqualFold(m[3], "W") {
		lon = -lon
	}
	if lat < -90 || lat >= 90 || lon < -180 || lon >= 180 {
		return CellCoord{}, false
	}
	return CellCoord{Lat: lat, Lon: lon}, true
}

// A cell is a decoded SRTM cell: n*n big-endian int16 posts, row 0 at the
// north edge, column 0 at the west edge, posts on the cell edges.
type cell struct {
	coord CellCoord
	n     int
	posts []int16
}

func decodeCell(coord CellCoord, data []byte) (*cell, error) {
	if len(data)%2 != 0 {
		return nil, errors.Errorf("%s: odd byte count %d", coord.Filename(), len(data))
	}
	count := len(data) / 2
	n := int(math.Round(math.Sqrt(float64(count))))
	if n < 2 || n*n != count {
		return nil, errors.Errorf("%s: %d samples is not a square grid", coord.Filename(), count)
	}
	posts := make([]int16, count)
	for i := range posts {
		posts[i] = int16(binary.BigEndian.Uint16(data[2*i:]))
	}
	return &cell{coord: coord, n: n, posts: posts}, nil
}

// sample interpolates bilinearly between the four posts around lon, lat.
// ok is false when any of them is void.
func (c *cell) sample(lon, lat float64) (float64, bool) {
	last := float64(c.n - 1)
	x := (lon - float64(c.coord.Lon)) * last
	y := (float64(c.coord.Lat+1) - lat) * last
	if x < 0 || y < 0 || x > last || y > last {
		return 0, false
	}

	x0, y0 := int(x), int(y)
	if x0 == c.n-1 {
		x0--
	}
	if y0 == c.n-1 {
		y0--
	}
	dx, dy := x-float64(x0), y-float64(y0)

	var v [4]float64
	for i, p := range [4][2]int{{x0, y0}, {x0 + 1, y0}, {x0, y0 + 1}, {x0 + 1, y0 + 1}} {
		s := c.posts[p[1]*c.n+p[0]]
		if s == hgtVoid {
			return 0, false
		}
		v[i] = float64(s)
	}
	top := v[0]*(1-dx) + v[1]*dx
	bottom := v[2]*(1-dx) + v[3]*dx
	return top*(1-dy) + bottom*dy, true
}
