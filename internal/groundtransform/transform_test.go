package groundtransform

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"testing"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"github.com/kiesman99/geostream/internal/elevation"
	"github.com/kiesman99/geostream/internal/geodesy"
	"github.com/kiesman99/geostream/internal/sensor"
	"github.com/kiesman99/geostream/pkg/tile"
)

func pushbroomModel(t *testing.T) *sensor.Model {
	t.Helper()
	pos := geodesy.GeodeticToECEF(6.5, 45.5, 700000)
	_, north, _ := geodesy.ENUBasis(6.5, 45.5)
	vel := north.Mul(7)
	f := func(v float64) string { return fmt.Sprintf("%.6f", v) }
	m, err := sensor.Build(sensor.NewMetadata(map[string]string{
		"type":           "pushbroom",
		"number_lines":   "2000",
		"number_samples": "1500",
		"position_x":     f(pos.X),
		"position_y":     f(pos.Y),
		"position_z":     f(pos.Z),
		"velocity_x":     f(vel.X),
		"velocity_y":     f(vel.Y),
		"velocity_z":     f(vel.Z),
		"ifov":           "1e-5",
		"roll":           "1.5",
	}))
	test.That(t, err, test.ShouldBeNil)
	return m
}

func rpcModel(t *testing.T) *sensor.Model {
	t.Helper()
	kw := map[string]string{
		"type":              "rpc",
		"polynomial_format": "B",
		"line_off":          "500",
		"samp_off":          "500",
		"lat_off":           "45.5",
		"long_off":          "6.5",
		"height_off":        "0",
		"line_scale":        "500",
		"samp_scale":        "500",
		"lat_scale":         "0.05",
		"long_scale":        "0.05",
		"height_scale":      "500",
	}
	for i := 0; i < 20; i++ {
		for _, name := range []string{"line_num", "line_den", "samp_num", "samp_den"} {
			kw[fmt.Sprintf("%s_coeff_%02d", name, i)] = "0"
		}
	}
	kw["line_num_coeff_02"] = "-1"
	kw["line_num_coeff_03"] = "0.02"
	kw["line_den_coeff_00"] = "1"
	kw["samp_num_coeff_01"] = "1"
	kw["samp_den_coeff_00"] = "1"
	m, err := sensor.Build(sensor.NewMetadata(kw))
	test.That(t, err, test.ShouldBeNil)
	return m
}

// flatDEM serves 500 m everywhere in the N45E006 cell, with a 50 m geoid.
func flatDEM(t *testing.T) *elevation.Handler {
	t.Helper()
	fs := afero.NewMemMapFs()
	data := make([]byte, 2*3*3)
	for i := 0; i < 9; i++ {
		binary.BigEndian.PutUint16(data[2*i:], 500)
	}
	test.That(t, afero.WriteFile(fs, "/dem/N45E006.hgt", data, 0o644), test.ShouldBeNil)
	h, err := elevation.Open(fs, "/dem", elevation.WithGeoidOffset(50))
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestNewRejectsInvalidModel(t *testing.T) {
	_, err := New(nil, nil)
	test.That(t, err, test.ShouldEqual, sensor.ErrInvalidModel)

	_, err = New(rpcModel(t), nil, WithProjection(nil))
	test.That(t, errors.Is(err, tile.ErrConfiguration), test.ShouldBeTrue)
}

func TestTransformPointUsesTerrain(t *testing.T) {
	ctx := context.Background()
	for name, model := range map[string]*sensor.Model{"rpc": rpcModel(t), "pushbroom": pushbroomModel(t)} {
		t.Run(name, func(t *testing.T) {
			tr, err := New(model, flatDEM(t), WithLogger(zaptest.NewLogger(t).Sugar()))
			test.That(t, err, test.ShouldBeNil)
			test.That(t, tr.Projection().EPSG(), test.ShouldEqual, 4326)

			p, err := tr.TransformPoint(ctx, sensor.PixelPoint{Line: 300, Sample: 700})
			test.That(t, err, test.ShouldBeNil)
			test.That(t, p.Height, test.ShouldAlmostEqual, 550.0, 1e-9)
			test.That(t, p.X > 6 && p.X < 7, test.ShouldBeTrue)
			test.That(t, p.Y > 45 && p.Y < 46, test.ShouldBeTrue)

			want, err := model.ForwardAtHeight(sensor.PixelPoint{Line: 300, Sample: 700}, 550)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, p.X, test.ShouldAlmostEqual, want.Lon, 1e-12)
			test.That(t, p.Y, test.ShouldAlmostEqual, want.Lat, 1e-12)
		})
	}
}

func TestTransformPointUTMRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, model := range map[string]*sensor.Model{"rpc": rpcModel(t), "pushbroom": pushbroomModel(t)} {
		t.Run(name, func(t *testing.T) {
			utm := geodesy.ForEPSG(32632)
			tr, err := New(model, elevation.Constant(120), WithProjection(utm))
			test.That(t, err, test.ShouldBeNil)

			for _, px := range []sensor.PixelPoint{{Line: 0, Sample: 0}, {Line: 640.5, Sample: 321.25}, {Line: 999, Sample: 999}} {
				p, err := tr.TransformPoint(ctx, px)
				test.That(t, err, test.ShouldBeNil)
				// Western edge of zone 32, northern hemisphere.
				test.That(t, p.X > 200000 && p.X < 500000, test.ShouldBeTrue)
				test.That(t, p.Y > 4900000 && p.Y < 5100000, test.ShouldBeTrue)
				test.That(t, p.Height, test.ShouldEqual, 120.0)

				back, err := tr.InverseTransformPoint(ctx, p)
				test.That(t, err, test.ShouldBeNil)
				test.That(t, back.Equal(px, 1e-2), test.ShouldBeTrue)

				// Without a height the terrain is looked up.
				back, err = tr.InverseTransformPoint(ctx, Point{X: p.X, Y: p.Y, Height: math.NaN()})
				test.That(t, err, test.ShouldBeNil)
				test.That(t, back.Equal(px, 1e-2), test.ShouldBeTrue)
			}
		})
	}
}

func TestTransformPointsKeepsOrder(t *testing.T) {
	ctx := context.Background()
	tr, err := New(pushbroomModel(t), elevation.Constant(0), WithProjection(geodesy.WebMercator{}))
	test.That(t, err, test.ShouldBeNil)

	var pxs []sensor.PixelPoint
	for i := 0; i < 25; i++ {
		pxs = append(pxs, sensor.PixelPoint{Line: float64(i * 40), Sample: float64(1499 - i*60)})
	}
	got, err := tr.TransformPoints(ctx, pxs, 4)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldHaveLength, len(pxs))
	for i, px := range pxs {
		want, err := tr.TransformPoint(ctx, px)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got[i], test.ShouldResemble, want)
	}

	// About 74 degrees off nadir, above the horizon.
	pxs = append(pxs, sensor.PixelPoint{Line: 0, Sample: 128000})
	_, err = tr.TransformPoints(ctx, pxs, 4)
	test.That(t, errors.Is(err, sensor.ErrConvergence), test.ShouldBeTrue)
}

func TestCheckConsistency(t *testing.T) {
	ctx := context.Background()
	points := []sensor.PixelPoint{{Line: 0, Sample: 0}, {Line: 10.5, Sample: 20.25}, {Line: 99, Sample: 99}}
	offset := tile.Index{X: 250, Y: 400}

	for name, model := range map[string]*sensor.Model{"rpc": rpcModel(t), "pushbroom": pushbroomModel(t)} {
		t.Run(name, func(t *testing.T) {
			dem := flatDEM(t)
			full, err := New(model, dem, WithLogger(zaptest.NewLogger(t).Sugar()))
			test.That(t, err, test.ShouldBeNil)

			subModel, err := model.SubImage(offset)
			test.That(t, err, test.ShouldBeNil)
			sub, err := New(subModel, dem)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, CheckConsistency(ctx, full, sub, offset, points, 0), test.ShouldBeNil)

			// A sub-image registered one line off disagrees everywhere.
			shifted, err := model.SubImage(tile.Index{X: offset.X, Y: offset.Y + 1})
			test.That(t, err, test.ShouldBeNil)
			bad, err := New(shifted, dem)
			test.That(t, err, test.ShouldBeNil)
			err = CheckConsistency(ctx, full, bad, offset, points, DefaultThreshold)
			var cerr *ConsistencyError
			test.That(t, errors.As(err, &cerr), test.ShouldBeTrue)
			test.That(t, cerr.Mismatches, test.ShouldHaveLength, len(points))
			test.That(t, cerr.Threshold, test.ShouldEqual, DefaultThreshold)
			for i, m := range cerr.Mismatches {
				test.That(t, m.Pixel, test.ShouldResemble, points[i])
				test.That(t, m.Distance > 1, test.ShouldBeTrue)
			}
			test.That(t, cerr.Error(), test.ShouldContainSubstring, "3 point(s) differ")

			// A generous threshold accepts the shift.
			test.That(t, CheckConsistency(ctx, full, bad, offset, points, 100), test.ShouldBeNil)
		})
	}
}

func TestCheckConsistencyCollectsFailures(t *testing.T) {
	ctx := context.Background()
	model := pushbroomModel(t)
	full, err := New(model, nil)
	test.That(t, err, test.ShouldBeNil)

	points := []sensor.PixelPoint{{Line: 0, Sample: 128000}, {Line: 1, Sample: 1}, {Line: 0, Sample: -128000}}
	err = CheckConsistency(ctx, full, full, tile.Index{}, points, 0)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, multierr.Errors(err), test.ShouldHaveLength, 2)
	test.That(t, errors.Is(err, sensor.ErrConvergence), test.ShouldBeTrue)
}
