package elevation

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"
)

// writeCell writes a square SRTM cell with the given posts, north row first.
func writeCell(t *testing.T, fs afero.Fs, path string, posts []int16) {
	t.Helper()
	data := make([]byte, 2*len(posts))
	for i, p := range posts {
		binary.BigEndian.PutUint16(data[2*i:], uint16(p))
	}
	test.That(t, afero.WriteFile(fs, path, data, 0o644), test.ShouldBeNil)
}

func newFixture(t *testing.T, options ...HandlerOption) *Handler {
	t.Helper()
	fs := afero.NewMemMapFs()
	writeCell(t, fs, "/dem/N45E006.hgt", []int16{
		100, 200, 300,
		400, 500, 600,
		700, 800, 900,
	})
	writeCell(t, fs, "/dem/S01W001.hgt", []int16{
		10, 10,
		hgtVoid, 10,
	})
	test.That(t, afero.WriteFile(fs, "/dem/README.txt", []byte("not a cell"), 0o644), test.ShouldBeNil)

	options = append([]HandlerOption{WithLogger(zaptest.NewLogger(t).Sugar())}, options...)
	h, err := Open(fs, "/dem", options...)
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestCellFilenames(t *testing.T) {
	tests := []struct {
		lon, lat float64
		want     string
	}{
		{6.5, 45.5, "N45E006.hgt"},
		{-0.5, -0.5, "S01W001.hgt"},
		{-122.4, 37.8, "N37W123.hgt"},
		{0, 0, "N00E000.hgt"},
	}
	for _, tt := range tests {
		coord := CellCoordFor(tt.lon, tt.lat)
		test.That(t, coord.Filename(), test.ShouldEqual, tt.want)
		parsed, ok := ParseCellFilename(tt.want)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, parsed, test.ShouldResemble, coord)
	}

	for _, bad := range []string{"N45E006.tif", "X45E006.hgt", "N95E006.hgt", "N45E006.hgt.zip"} {
		_, ok := ParseCellFilename(bad)
		test.That(t, ok, test.ShouldBeFalse)
	}
}

func TestEdgeCellCoords(t *testing.T) {
	test.That(t, edgeCellCoords(6.5, 45.5), test.ShouldBeEmpty)
	test.That(t, edgeCellCoords(6.5, 46), test.ShouldResemble, []CellCoord{{Lat: 45, Lon: 6}})
	test.That(t, edgeCellCoords(7, 45.5), test.ShouldResemble, []CellCoord{{Lat: 45, Lon: 6}})
	test.That(t, edgeCellCoords(7, 46), test.ShouldResemble,
		[]CellCoord{{Lat: 45, Lon: 7}, {Lat: 46, Lon: 6}, {Lat: 45, Lon: 6}})
}

func TestHeightAboveMSL(t *testing.T) {
	h := newFixture(t)
	ctx := context.Background()
	test.That(t, h.Cells(), test.ShouldEqual, 2)

	tests := []struct {
		lon, lat float64
		want     float64
	}{
		{6.0, 46.0, 100},
		{7.0, 45.0, 900},
		{6.5, 45.5, 500},
		{6.25, 45.75, 300},
		{6.75, 45.0, 850},
		{6.5, 46.0, 200},
	}
	for _, tt := range tests {
		v, ok, err := h.HeightAboveMSL(ctx, tt.lon, tt.lat)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, v, test.ShouldAlmostEqual, tt.want, 1e-9)
	}

	// No cell.
	_, ok, err := h.HeightAboveMSL(ctx, 10.5, 45.5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)

	// A void post poisons every interpolation that touches it.
	_, ok, err = h.HeightAboveMSL(ctx, -0.5, -0.5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestHeightAboveEllipsoid(t *testing.T) {
	ctx := context.Background()

	h := newFixture(t, WithDefaultHeight(42))
	v, err := h.HeightAboveEllipsoid(ctx, 6.5, 45.5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldAlmostEqual, 500.0, 1e-9)
	v, err = h.HeightAboveEllipsoid(ctx, 20, 20)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 42.0)
	test.That(t, h.DefaultHeight(), test.ShouldEqual, 42.0)

	g := newFixture(t, WithDefaultHeight(42), WithGeoidOffset(48.5))
	v, err = g.HeightAboveEllipsoid(ctx, 6.5, 45.5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldAlmostEqual, 548.5, 1e-9)
	// Outside the DEM the geoid alone is used, not the default height.
	v, err = g.HeightAboveEllipsoid(ctx, 20, 20)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 48.5)
}

func TestHandlerWithoutDirectory(t *testing.T) {
	h, err := Open(afero.NewMemMapFs(), "", WithDefaultHeight(7))
	test.That(t, err, test.ShouldBeNil)
	v, err := h.HeightAboveEllipsoid(context.Background(), 1, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 7.0)

	_, err = Open(afero.NewMemMapFs(), "/missing")
	test.That(t, err, test.ShouldNotBeNil)

	_, err = Open(afero.NewMemMapFs(), "", WithCacheSize(0))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCorruptCell(t *testing.T) {
	fs := afero.NewMemMapFs()
	test.That(t, afero.WriteFile(fs, "/dem/N10E010.hgt", []byte{1, 2, 3, 4, 5, 6}, 0o644), test.ShouldBeNil)
	h, err := Open(fs, "/dem")
	test.That(t, err, test.ShouldBeNil)
	_, _, err = h.HeightAboveMSL(context.Background(), 10.5, 10.5)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "not a square grid")
}

func TestCanceledContext(t *testing.T) {
	h := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.HeightAboveEllipsoid(ctx, 6.5, 45.5)
	test.That(t, err, test.ShouldEqual, context.Canceled)

	_, err = Constant(3).HeightAboveEllipsoid(ctx, 0, 0)
	test.That(t, err, test.ShouldEqual, context.Canceled)
}

func TestConcurrentLookupsLoadCellOnce(t *testing.T) {
	h := newFixture(t)

	var wg sync.WaitGroup
	results := make([]float64, 32)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, err := h.HeightAboveMSL(context.Background(), 6.5, 45.5)
			if err == nil {
				results[i] = v
			}
		}()
	}
	wg.Wait()

	for _, v := range results {
		test.That(t, v, test.ShouldAlmostEqual, 500.0, 1e-9)
	}
	test.That(t, h.loads.Load(), test.ShouldEqual, int64(1))
}

func TestConstant(t *testing.T) {
	c := Constant(123.5)
	v, err := c.HeightAboveEllipsoid(context.Background(), 10, 20)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, 123.5)
	test.That(t, c.DefaultHeight(), test.ShouldEqual, 123.5)
}
