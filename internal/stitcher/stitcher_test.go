package stitcher

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"github.com/kiesman99/geostream/pkg/tile"
)

func constantTile(w, h, bands int, fill byte) tile.Tile {
	buf := tile.NewBuffer(tile.NewRegion(0, 0, w, h), bands, tile.Uint8)
	buf.Fill([]byte{fill})
	return tile.NewTile(tile.NewMemorySource(buf, [2]float64{0, 0}, [2]float64{1, 1}))
}

// gradientTile gives every pixel a distinct float32 value so misplaced
// copies show up.
func gradientTile(w, h int, base float32) tile.Tile {
	buf := tile.NewBuffer(tile.NewRegion(0, 0, w, h), 2, tile.Float32)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			px := buf.Pixel(tile.Index{X: x, Y: y})
			binary.NativeEndian.PutUint32(px[0:], math.Float32bits(base+float32(y*w+x)))
			binary.NativeEndian.PutUint32(px[4:], math.Float32bits(-base))
		}
	}
	return tile.NewTile(tile.NewMemorySource(buf, [2]float64{}, [2]float64{0.5, -0.5}))
}

func newFilter(t *testing.T, layout tile.Layout, tiles ...tile.Tile) *Filter {
	t.Helper()
	f := New(Options{Workers: 3, Logger: zaptest.NewLogger(t).Sugar()})
	test.That(t, f.SetLayout(layout), test.ShouldBeNil)
	for _, tl := range tiles {
		test.That(t, f.PushInputTile(tl), test.ShouldBeNil)
	}
	return f
}

func quadrants(t *testing.T) *Filter {
	return newFilter(t, tile.Layout{Columns: 2, Rows: 2},
		constantTile(10, 10, 1, 11),
		constantTile(10, 10, 1, 22),
		constantTile(10, 10, 1, 33),
		constantTile(10, 10, 1, 44),
	)
}

func TestGenerateRegionQuadrants(t *testing.T) {
	f := quadrants(t)
	info, err := f.GenerateOutputInformation()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Size, test.ShouldResemble, tile.Size{Width: 20, Height: 20})
	test.That(t, info.Bands, test.ShouldEqual, 1)

	full := tile.NewRegion(0, 0, 20, 20)
	buf, err := f.GenerateRegion(context.Background(), full)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, buf.Region, test.ShouldResemble, full)
	test.That(t, buf.Data, test.ShouldHaveLength, 400)

	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			want := byte(11)
			switch {
			case x >= 10 && y < 10:
				want = 22
			case x < 10 && y >= 10:
				want = 33
			case x >= 10 && y >= 10:
				want = 44
			}
			test.That(t, buf.Data[y*20+x], test.ShouldEqual, want)
		}
	}
	test.That(t, f.State(), test.ShouldEqual, Streaming)
}

func TestGenerateRegionMatchesConcatenation(t *testing.T) {
	tiles := []tile.Tile{
		gradientTile(7, 5, 0), gradientTile(4, 5, 1000), gradientTile(6, 5, 2000),
		gradientTile(7, 3, 3000), gradientTile(4, 3, 4000), gradientTile(6, 3, 5000),
	}
	f := newFilter(t, tile.Layout{Columns: 3, Rows: 2}, tiles...)
	_, err := f.GenerateOutputInformation()
	test.That(t, err, test.ShouldBeNil)

	got, err := f.GenerateRegion(context.Background(), tile.NewRegion(0, 0, 17, 8))
	test.That(t, err, test.ShouldBeNil)

	// Concatenate full tile buffers by hand.
	want := tile.NewBuffer(tile.NewRegion(0, 0, 17, 8), 2, tile.Float32)
	offX := []int{0, 7, 11}
	offY := []int{0, 5}
	for i, tl := range tiles {
		src, err := tl.Source.Read(context.Background(), tile.Region{Size: tl.Size})
		test.That(t, err, test.ShouldBeNil)
		dx, dy := offX[i%3], offY[i/3]
		test.That(t, want.CopyFrom(src.Translated(dx, dy), src.Region.Translate(dx, dy)), test.ShouldBeNil)
	}
	test.That(t, bytes.Equal(got.Data, want.Data), test.ShouldBeTrue)

	// A sub-region straddling every seam.
	sub := tile.NewRegion(5, 3, 9, 4)
	part, err := f.GenerateRegion(context.Background(), sub)
	test.That(t, err, test.ShouldBeNil)
	for y := sub.Index.Y; y < sub.End().Y; y++ {
		for x := sub.Index.X; x < sub.End().X; x++ {
			p := tile.Index{X: x, Y: y}
			test.That(t, part.Pixel(p), test.ShouldResemble, want.Pixel(p))
		}
	}
}

func TestGenerateRegionIdempotentAndWorkerInvariant(t *testing.T) {
	f := newFilter(t, tile.Layout{Columns: 2, Rows: 2},
		gradientTile(9, 7, 0), gradientTile(5, 7, 100),
		gradientTile(9, 4, 200), gradientTile(5, 4, 300),
	)
	_, err := f.GenerateOutputInformation()
	test.That(t, err, test.ShouldBeNil)

	r := tile.NewRegion(2, 1, 11, 9)
	first, err := f.GenerateRegion(context.Background(), r)
	test.That(t, err, test.ShouldBeNil)
	second, err := f.GenerateRegion(context.Background(), r)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bytes.Equal(first.Data, second.Data), test.ShouldBeTrue)

	single, err := f.GenerateRegionWithWorkers(context.Background(), r, 1)
	test.That(t, err, test.ShouldBeNil)
	for _, n := range []int{2, 4, 9, 64} {
		many, err := f.GenerateRegionWithWorkers(context.Background(), r, n)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, bytes.Equal(single.Data, many.Data), test.ShouldBeTrue)
	}
}

func TestStateMachine(t *testing.T) {
	ctx := context.Background()
	f := New(Options{Workers: 2})
	test.That(t, f.State(), test.ShouldEqual, Unconfigured)

	_, err := f.GenerateRegion(ctx, tile.NewRegion(0, 0, 1, 1))
	test.That(t, errors.Is(err, tile.ErrInvalidState), test.ShouldBeTrue)
	_, err = f.GenerateOutputInformation()
	test.That(t, errors.Is(err, tile.ErrInvalidState), test.ShouldBeTrue)

	test.That(t, f.SetLayout(tile.Layout{Columns: 1, Rows: 1}), test.ShouldBeNil)
	test.That(t, f.PushInputTile(constantTile(4, 4, 1, 7)), test.ShouldBeNil)
	test.That(t, f.State(), test.ShouldEqual, Configured)

	// Configured but not informed.
	_, err = f.GenerateRegion(ctx, tile.NewRegion(0, 0, 1, 1))
	test.That(t, errors.Is(err, tile.ErrInvalidState), test.ShouldBeTrue)

	size, err := f.MosaicSize()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, size, test.ShouldResemble, tile.Size{Width: 4, Height: 4})
	test.That(t, f.State(), test.ShouldEqual, Informed)

	_, err = f.GenerateRegion(ctx, tile.NewRegion(0, 0, 4, 4))
	test.That(t, err, test.ShouldBeNil)

	err = f.SetLayout(tile.Layout{Columns: 2, Rows: 1})
	test.That(t, errors.Is(err, tile.ErrInvalidState), test.ShouldBeTrue)
	err = f.PushInputTile(constantTile(4, 4, 1, 7))
	test.That(t, errors.Is(err, tile.ErrInvalidState), test.ShouldBeTrue)

	f.Reset()
	test.That(t, f.State(), test.ShouldEqual, Unconfigured)
}

func TestLayoutChangeBeforeStreamingDropsInformation(t *testing.T) {
	f := newFilter(t, tile.Layout{Columns: 1, Rows: 1}, constantTile(3, 3, 1, 1))
	_, err := f.GenerateOutputInformation()
	test.That(t, err, test.ShouldBeNil)

	test.That(t, f.PushInputTile(constantTile(3, 3, 1, 2)), test.ShouldBeNil)
	test.That(t, f.State(), test.ShouldEqual, Configured)
	_, err = f.GenerateOutputInformation()
	test.That(t, errors.Is(err, tile.ErrConfiguration), test.ShouldBeTrue)

	test.That(t, f.SetLayout(tile.Layout{Columns: 2, Rows: 1}), test.ShouldBeNil)
	info, err := f.GenerateOutputInformation()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Size, test.ShouldResemble, tile.Size{Width: 6, Height: 3})
}

func TestOutputInformationValidation(t *testing.T) {
	t.Run("band count", func(t *testing.T) {
		f := newFilter(t, tile.Layout{Columns: 2, Rows: 1}, constantTile(3, 3, 1, 1), constantTile(3, 3, 3, 1))
		_, err := f.GenerateOutputInformation()
		test.That(t, errors.Is(err, tile.ErrConfiguration), test.ShouldBeTrue)
	})
	t.Run("spacing", func(t *testing.T) {
		odd := constantTile(3, 3, 1, 1)
		odd.Spacing = [2]float64{2, 1}
		f := newFilter(t, tile.Layout{Columns: 2, Rows: 1}, constantTile(3, 3, 1, 1), odd)
		_, err := f.GenerateOutputInformation()
		test.That(t, errors.Is(err, tile.ErrConfiguration), test.ShouldBeTrue)
	})
	t.Run("non rectangular grid", func(t *testing.T) {
		f := newFilter(t, tile.Layout{Columns: 2, Rows: 1}, constantTile(3, 3, 1, 1), constantTile(3, 4, 1, 1))
		_, err := f.GenerateOutputInformation()
		test.That(t, errors.Is(err, tile.ErrConfiguration), test.ShouldBeTrue)
	})
}

func TestInconsistentTile(t *testing.T) {
	short := constantTile(10, 8, 1, 5)
	short.Size = tile.Size{Width: 10, Height: 10}
	f := newFilter(t, tile.Layout{Columns: 2, Rows: 1}, constantTile(10, 10, 1, 1), short)
	_, err := f.GenerateOutputInformation()
	test.That(t, err, test.ShouldBeNil)

	// Rows 0..7 are readable from both tiles.
	_, err = f.GenerateRegion(context.Background(), tile.NewRegion(0, 0, 20, 8))
	test.That(t, err, test.ShouldBeNil)

	_, err = f.GenerateRegion(context.Background(), tile.NewRegion(0, 0, 20, 10))
	test.That(t, errors.Is(err, tile.ErrInconsistentTile), test.ShouldBeTrue)
	var ite *InconsistentTileError
	test.That(t, errors.As(err, &ite), test.ShouldBeTrue)
	test.That(t, ite.Tile, test.ShouldEqual, 1)
}

type failingSource struct {
	md  tile.ImageMetadata
	err error
}

func (s *failingSource) Metadata() tile.ImageMetadata { return s.md }

func (s *failingSource) Read(context.Context, tile.Region) (*tile.Buffer, error) {
	return nil, s.err
}

func TestReadErrorPropagates(t *testing.T) {
	boom := errors.New("disk on fire")
	src := &failingSource{
		md:  tile.ImageMetadata{Size: tile.Size{Width: 5, Height: 5}, Spacing: [2]float64{1, 1}, Bands: 1},
		err: boom,
	}
	f := newFilter(t, tile.Layout{Columns: 2, Rows: 1}, constantTile(5, 5, 1, 1), tile.NewTile(src))
	_, err := f.GenerateOutputInformation()
	test.That(t, err, test.ShouldBeNil)

	_, err = f.GenerateRegion(context.Background(), tile.NewRegion(0, 0, 5, 5))
	test.That(t, err, test.ShouldBeNil)

	_, err = f.GenerateRegion(context.Background(), tile.NewRegion(3, 0, 5, 5))
	test.That(t, errors.Is(err, boom), test.ShouldBeTrue)
}

func TestRegionOutsideMosaic(t *testing.T) {
	f := quadrants(t)
	_, err := f.GenerateOutputInformation()
	test.That(t, err, test.ShouldBeNil)

	for _, r := range []tile.Region{
		tile.NewRegion(15, 15, 10, 10),
		tile.NewRegion(-1, 0, 5, 5),
		tile.NewRegion(0, 0, 0, 5),
		tile.NewRegion(1, 0, math.MaxInt, 1),
		tile.NewRegion(0, 1, 1, math.MaxInt),
	} {
		_, err := f.GenerateRegion(context.Background(), r)
		test.That(t, errors.Is(err, tile.ErrRegionOutsideMosaic), test.ShouldBeTrue)
	}
}

func TestSplitRegion(t *testing.T) {
	r := tile.NewRegion(3, 10, 7, 10)

	strips := SplitRegion(r, 3)
	test.That(t, strips, test.ShouldResemble, []tile.Region{
		tile.NewRegion(3, 10, 7, 4),
		tile.NewRegion(3, 14, 7, 4),
		tile.NewRegion(3, 18, 7, 2),
	})

	// More workers than rows gives one row each.
	test.That(t, SplitRegion(tile.NewRegion(0, 0, 5, 2), 8), test.ShouldHaveLength, 2)
	test.That(t, SplitRegion(r, 0), test.ShouldResemble, []tile.Region{r})

	for n := 1; n <= 12; n++ {
		total := 0
		for _, s := range SplitRegion(r, n) {
			total += s.Size.Height
		}
		test.That(t, total, test.ShouldEqual, r.Size.Height)
	}
}
