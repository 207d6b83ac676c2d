// Package stitcher assembles regions of a mosaic from a grid of input tiles
// without ever holding the whole mosaic in memory.
package stitcher

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kiesman99/geostream/internal/mapper"
	"github.com/kiesman99/geostream/pkg/tile"
)

var (
	regionsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "geostream_regions_generated_total",
		Help: "The total number of mosaic regions requested, by outcome",
	}, []string{"outcome"})
	tileReads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geostream_tile_reads_total",
		Help: "The total number of sub-region reads issued to tile sources",
	})
	regionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "geostream_region_duration_seconds",
		Help:    "Time spent generating one mosaic region",
		Buckets: prometheus.DefBuckets,
	})
)

// State is the lifecycle phase of a Filter.
type State int

const (
	Unconfigured State = iota
	Configured
	Informed
	Streaming
)

func (s State) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case Configured:
		return "configured"
	case Informed:
		return "informed"
	case Streaming:
		return "streaming"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// OutputInformation describes the mosaic as a whole.
type OutputInformation struct {
	Size      tile.Size
	Origin    [2]float64
	Spacing   [2]float64
	Bands     int
	PixelType tile.PixelType
}

// InconsistentTileError reports a tile whose source cannot serve the part
// of its declared footprint a region needs.
type InconsistentTileError struct {
	Tile      int
	Requested tile.Region
	Extent    tile.Region
	Reason    string
}

func (e *InconsistentTileError) Error() string {
	return fmt.Sprintf("tile %d: %s (requested %s, extent %s)", e.Tile, e.Reason, e.Requested, e.Extent)
}

// Is lets errors.Is match tile.ErrInconsistentTile.
func (e *InconsistentTileError) Is(target error) bool {
	return target == tile.ErrInconsistentTile
}

// Options configures a Filter.
type Options struct {
	// Workers is the number of goroutines each GenerateRegion call splits
	// its region across. Zero means runtime.NumCPU().
	Workers int
	Logger  *zap.SugaredLogger
}

// Filter is a streaming mosaic of tiles laid out on a grid.
type Filter struct {
	mu      sync.Mutex
	workers int
	logger  *zap.SugaredLogger

	layout    tile.Layout
	layoutSet bool
	tiles     []tile.Tile
	state     State
	mapper    *mapper.Mapper
	info      OutputInformation
}

// New creates an unconfigured filter.
func New(opts Options) *Filter {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	return &Filter{workers: opts.Workers, logger: opts.Logger}
}

// State returns the current lifecycle phase.
func (f *Filter) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Workers returns the default number of workers per region.
func (f *Filter) Workers() int {
	return f.workers
}

// SetLayout sets the grid the tiles are arranged on. It drops any output
// information computed earlier.
func (f *Filter) SetLayout(layout tile.Layout) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == Streaming {
		return errors.Wrap(tile.ErrInvalidState, "layout changed after streaming started")
	}
	f.layout = layout
	f.layoutSet = true
	f.updateConfigured()
	return nil
}

// PushInputTile appends the next tile in row-major order.
func (f *Filter) PushInputTile(t tile.Tile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == Streaming {
		return errors.Wrap(tile.ErrInvalidState, "tile pushed after streaming started")
	}
	f.tiles = append(f.tiles, t)
	f.updateConfigured()
	return nil
}

// Reset returns the filter to Unconfigured, forgetting layout and tiles.
func (f *Filter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.layout = tile.Layout{}
	f.layoutSet = false
	f.tiles = nil
	f.mapper = nil
	f.info = OutputInformation{}
	f.state = Unconfigured
}

func (f *Filter) updateConfigured() {
	f.mapper = nil
	f.info = OutputInformation{}
	if f.layoutSet && len(f.tiles) > 0 {
		f.state = Configured
	} else {
		f.state = Unconfigured
	}
}

// GenerateOutputInformation validates the configuration and computes the
// mosaic geometry. It is idempotent once it has succeeded.
func (f *Filter) GenerateOutputInformation() (OutputInformation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generateOutputInformation()
}

func (f *Filter) generateOutputInformation() (OutputInformation, error) {
	switch f.state {
	case Unconfigured:
		return OutputInformation{}, errors.Wrap(tile.ErrInvalidState, "layout and tiles must be set first")
	case Informed, Streaming:
		return f.info, nil
	}

	first := f.tiles[0]
	sizes := make([]tile.Size, len(f.tiles))
	for i, t := range f.tiles {
		if t.Source == nil {
			return OutputInformation{}, errors.Wrapf(tile.ErrConfiguration, "tile %d has no source", i)
		}
		if t.Bands != first.Bands {
			return OutputInformation{}, errors.Wrapf(tile.ErrConfiguration,
				"tile %d has %d bands, tile 0 has %d", i, t.Bands, first.Bands)
		}
		if t.PixelType != first.PixelType {
			return OutputInformation{}, errors.Wrapf(tile.ErrConfiguration,
				"tile %d is %s, tile 0 is %s", i, t.PixelType, first.PixelType)
		}
		if !sameSpacing(t.Spacing, first.Spacing) {
			return OutputInformation{}, errors.Wrapf(tile.ErrConfiguration,
				"tile %d spacing %v differs from tile 0 spacing %v", i, t.Spacing, first.Spacing)
		}
		sizes[i] = t.Size
	}

	m, err := mapper.New(f.layout, sizes)
	if err != nil {
		return OutputInformation{}, err
	}

	f.mapper = m
	f.info = OutputInformation{
		Size:      m.MosaicSize(),
		Origin:    first.Origin,
		Spacing:   first.Spacing,
		Bands:     first.Bands,
		PixelType: first.PixelType,
	}
	f.state = Informed
	f.logger.Debugw("mosaic information", "layout", f.layout.String(), "size", f.info.Size.String(),
		"bands", f.info.Bands, "pixelType", f.info.PixelType.String())
	return f.info, nil
}

func sameSpacing(a, b [2]float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > 1e-9*math.Max(math.Abs(a[i]), math.Abs(b[i])) {
			return false
		}
	}
	return true
}

// MosaicSize returns the size of the mosaic, generating the output
// information if needed.
func (f *Filter) MosaicSize() (tile.Size, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, err := f.generateOutputInformation()
	return info.Size, err
}

// Mapper returns the coordinate mapper, or nil before output information
// has been generated.
func (f *Filter) Mapper() *mapper.Mapper {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mapper
}

// GenerateRegion assembles region of the mosaic into a new buffer using
// the filter's default worker count.
func (f *Filter) GenerateRegion(ctx context.Context, region tile.Region) (*tile.Buffer, error) {
	return f.GenerateRegionWithWorkers(ctx, region, f.workers)
}

// GenerateRegionWithWorkers is GenerateRegion with an explicit number of
// workers. The result does not depend on workers.
func (f *Filter) GenerateRegionWithWorkers(ctx context.Context, region tile.Region, workers int) (*tile.Buffer, error) {
	start := time.Now()

	f.mu.Lock()
	if f.state != Informed && f.state != Streaming {
		state := f.state
		f.mu.Unlock()
		regionsGenerated.WithLabelValues("invalid_state").Inc()
		return nil, errors.Wrapf(tile.ErrInvalidState, "region requested while %s", state)
	}
	f.state = Streaming
	m, tiles, info := f.mapper, f.tiles, f.info
	f.mu.Unlock()

	if region.IsEmpty() || !(tile.Region{Size: info.Size}).Contains(region) {
		regionsGenerated.WithLabelValues("out_of_bounds").Inc()
		return nil, errors.Wrapf(tile.ErrRegionOutsideMosaic, "region %s, mosaic %s", region, info.Size)
	}

	out := tile.NewBuffer(region, info.Bands, info.PixelType)
	strips := SplitRegion(region, workers)

	g, gctx := errgroup.WithContext(ctx)
	for _, strip := range strips {
		g.Go(func() error {
			return fillStrip(gctx, m, tiles, out, strip)
		})
	}
	if err := g.Wait(); err != nil {
		regionsGenerated.WithLabelValues("error").Inc()
		return nil, err
	}

	elapsed := time.Since(start)
	regionsGenerated.WithLabelValues("ok").Inc()
	regionDuration.Observe(elapsed.Seconds())
	f.logger.Debugw("region generated", "region", region.String(), "workers", len(strips), "elapsed", elapsed)
	return out, nil
}

// fillStrip writes strip of out from every tile that overlaps it. Strips
// handed to concurrent calls must not overlap.
func fillStrip(ctx context.Context, m *mapper.Mapper, tiles []tile.Tile, out *tile.Buffer, strip tile.Region) error {
	for _, ti := range m.TilesIntersecting(strip) {
		in := m.OutputRegionToInputRegion(ti, strip)
		if in.IsEmpty() {
			continue
		}
		t := tiles[ti]

		md := t.Source.Metadata()
		extent := tile.Region{Size: md.Size}
		if !extent.Contains(in) {
			return &InconsistentTileError{Tile: ti, Requested: in, Extent: extent,
				Reason: "declared footprint exceeds readable extent"}
		}

		tileReads.Inc()
		buf, err := t.Source.Read(ctx, in)
		if err != nil {
			return errors.Wrapf(err, "reading tile %d region %s", ti, in)
		}
		if buf.Region != in {
			return &InconsistentTileError{Tile: ti, Requested: in, Extent: buf.Region,
				Reason: "source returned a different region"}
		}
		if buf.Bands != out.Bands || buf.PixelType != out.PixelType {
			return &InconsistentTileError{Tile: ti, Requested: in, Extent: extent,
				Reason: fmt.Sprintf("source returned %d-band %s pixels", buf.Bands, buf.PixelType)}
		}

		dst := m.InputRegionToOutputRegion(ti, in)
		if err := out.CopyFrom(buf.Translated(dst.Index.X-in.Index.X, dst.Index.Y-in.Index.Y), dst); err != nil {
			return errors.Wrapf(err, "copying tile %d", ti)
		}
	}
	return nil
}

// SplitRegion partitions r into at most n strips along Y. Strips are as
// even as possible with the remainder in the last one.
func SplitRegion(r tile.Region, n int) []tile.Region {
	rows := r.Size.Height
	if rows <= 0 {
		return nil
	}
	if n < 1 {
		n = 1
	}
	if n > rows {
		n = rows
	}
	per := (rows + n - 1) / n
	used := (rows + per - 1) / per

	strips := make([]tile.Region, 0, used)
	for i := 0; i < used; i++ {
		h := per
		if i == used-1 {
			h = rows - per*(used-1)
		}
		strips = append(strips, tile.NewRegion(r.Index.X, r.Index.Y+i*per, r.Size.Width, h))
	}
	return strips
}
