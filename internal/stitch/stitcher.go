// Package stitch runs one mosaic job: it opens the input tiles, configures a
// streaming filter over them and writes the requested region out.
package stitch

import (
	"context"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kiesman99/geostream/internal/stitcher"
	"github.com/kiesman99/geostream/pkg/tile"
)

// DefaultUserAgent is sent with tile downloads.
const DefaultUserAgent = "geostream/1.0.0"

// Options describes a mosaic job.
type Options struct {
	// Tiles are file paths or http(s) URLs, row-major.
	Tiles   []string
	Columns int
	Rows    int

	// Output is the file to write; empty means stdout.
	Output string
	Format int
	// Region limits the output to part of the mosaic. Nil means all of it.
	Region *tile.Region

	Workers int
	// StripHeight is the number of rows requested from the filter at a
	// time when writing raw output. Zero means the whole region at once.
	StripHeight    int
	WriteWorldFile bool
	UserAgent      string
}

// Stitcher handles the main stitching logic
type Stitcher struct {
	processor *tile.Processor
	fs        afero.Fs
	options   *Options
	logger    *zap.SugaredLogger
}

// NewStitcher creates a new stitcher instance reading and writing the OS
// filesystem.
func NewStitcher(opts *Options, logger *zap.SugaredLogger) *Stitcher {
	return NewStitcherFs(afero.NewOsFs(), opts, logger)
}

// NewStitcherFs is NewStitcher on fs.
func NewStitcherFs(fs afero.Fs, opts *Options, logger *zap.SugaredLogger) *Stitcher {
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Stitcher{
		processor: tile.NewProcessorFs(fs, userAgent),
		fs:        fs,
		options:   opts,
		logger:    logger,
	}
}

// OpenSources opens every tile location concurrently. All failures are
// reported together.
func (s *Stitcher) OpenSources(ctx context.Context) ([]tile.TileSource, error) {
	if len(s.options.Tiles) == 0 {
		return nil, errors.Wrap(tile.ErrConfiguration, "no tiles given")
	}

	sources := make([]tile.TileSource, len(s.options.Tiles))
	errs := make([]error, len(s.options.Tiles))
	var g errgroup.Group
	g.SetLimit(8)
	for i, location := range s.options.Tiles {
		g.Go(func() error {
			src, err := s.processor.Open(ctx, location)
			if err != nil {
				errs[i] = errors.Wrapf(err, "tile %d", i)
				return nil
			}
			s.logger.Debugw("opened tile", "tile", i, "location", location, "size", src.Metadata().Size.String())
			sources[i] = src
			return nil
		})
	}
	_ = g.Wait()
	if err := multierr.Combine(errs...); err != nil {
		return nil, err
	}
	return sources, nil
}

// Filter configures a streaming filter over sources and generates its
// output information.
func (s *Stitcher) Filter(sources []tile.TileSource) (*stitcher.Filter, error) {
	f := stitcher.New(stitcher.Options{Workers: s.options.Workers, Logger: s.logger})
	if err := f.SetLayout(tile.Layout{Columns: s.options.Columns, Rows: s.options.Rows}); err != nil {
		return nil, err
	}
	for _, src := range sources {
		if err := f.PushInputTile(tile.NewTile(src)); err != nil {
			return nil, err
		}
	}
	info, err := f.GenerateOutputInformation()
	if err != nil {
		return nil, err
	}
	s.logger.Infow("mosaic configured", "tiles", len(sources), "size", info.Size.String(),
		"bands", info.Bands, "pixelType", info.PixelType.String())
	return f, nil
}

// OutputRegion returns the part of the mosaic the job writes.
func (s *Stitcher) OutputRegion(info stitcher.OutputInformation) (tile.Region, error) {
	whole := tile.Region{Size: info.Size}
	if s.options.Region == nil {
		return whole, nil
	}
	r := *s.options.Region
	if r.IsEmpty() || !whole.Contains(r) {
		return tile.Region{}, errors.Wrapf(tile.ErrRegionOutsideMosaic, "region %s, mosaic %s", r, info.Size)
	}
	return r, nil
}

// WriteRaw streams region to w strip by strip, band-interleaved by pixel.
// At most one strip is held in memory.
func (s *Stitcher) WriteRaw(ctx context.Context, f *stitcher.Filter, region tile.Region, w io.Writer) error {
	rows := s.options.StripHeight
	if rows <= 0 || rows > region.Size.Height {
		rows = region.Size.Height
	}
	for y := 0; y < region.Size.Height; y += rows {
		h := min(rows, region.Size.Height-y)
		strip := tile.NewRegion(region.Index.X, region.Index.Y+y, region.Size.Width, h)
		buf, err := f.GenerateRegion(ctx, strip)
		if err != nil {
			return err
		}
		if _, err := w.Write(buf.Data); err != nil {
			return errors.Wrap(err, "writing strip")
		}
		s.logger.Debugw("strip written", "region", strip.String())
	}
	return nil
}

// Run opens the tiles, mosaics them and writes the output file along with
// its raw header and world file.
func (s *Stitcher) Run(ctx context.Context) error {
	sources, err := s.OpenSources(ctx)
	if err != nil {
		return err
	}
	f, err := s.Filter(sources)
	if err != nil {
		return err
	}
	info, err := f.GenerateOutputInformation()
	if err != nil {
		return err
	}
	region, err := s.OutputRegion(info)
	if err != nil {
		return err
	}

	switch s.options.Format {
	case tile.OUTFMT_PNG:
		buf, err := f.GenerateRegion(ctx, region)
		if err != nil {
			return err
		}
		if err := tile.WritePNG(s.fs, s.options.Output, buf); err != nil {
			return errors.Wrap(err, "failed to write PNG")
		}
	case tile.OUTFMT_RAW:
		if err := s.writeRawOutput(ctx, f, region); err != nil {
			return err
		}
		if s.options.Output != "" {
			name, err := tile.WriteRawHeader(s.fs, s.options.Output, region.Size, info.Bands, info.PixelType)
			if err != nil {
				return errors.Wrap(err, "failed to write raw header")
			}
			s.logger.Debugw("raw header written", "file", name)
		}
	default:
		return errors.Wrapf(tile.ErrConfiguration, "unknown output format %d", s.options.Format)
	}

	if s.options.WriteWorldFile {
		origin := [2]float64{
			info.Origin[0] + float64(region.Index.X)*info.Spacing[0],
			info.Origin[1] + float64(region.Index.Y)*info.Spacing[1],
		}
		name, err := tile.WriteWorldFile(s.fs, s.options.Output, info.Spacing, origin, s.options.Format)
		if err != nil {
			return errors.Wrap(err, "failed to write world file")
		}
		s.logger.Debugw("world file written", "file", name)
	}

	s.logger.Infow("mosaic written", "output", s.options.Output, "region", region.String())
	return nil
}

func (s *Stitcher) writeRawOutput(ctx context.Context, f *stitcher.Filter, region tile.Region) error {
	if s.options.Output == "" {
		return s.WriteRaw(ctx, f, region, os.Stdout)
	}
	out, err := s.fs.Create(s.options.Output)
	if err != nil {
		return err
	}
	if err := s.WriteRaw(ctx, f, region, out); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
