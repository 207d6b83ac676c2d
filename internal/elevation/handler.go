package elevation

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// A Handler serves heights from a directory of SRTM .hgt cells plus an
// optional constant geoid offset. Cells are read on first use and kept in an
// LRU cache. A Handler is safe for concurrent use.
type Handler struct {
	fs            afero.Fs
	dir           string
	files         map[CellCoord]string
	cacheSize     int
	defaultHeight float64
	geoidOffset   float64
	hasGeoid      bool
	logger        *zap.SugaredLogger

	cache    *lru.Cache[CellCoord, *cell]
	inflight singleflight.Group
	loads    atomic.Int64

	closeOnce sync.Once
}

// A HandlerOption sets an option on a Handler.
type HandlerOption func(*Handler)

// WithCacheSize sets the number of decoded cells kept in memory.
func WithCacheSize(cacheSize int) HandlerOption {
	return func(h *Handler) {
		h.cacheSize = cacheSize
	}
}

// WithDefaultHeight sets the height above the ellipsoid returned where
// neither DEM nor geoid data exists.
func WithDefaultHeight(height float64) HandlerOption {
	return func(h *Handler) {
		h.defaultHeight = height
	}
}

// WithGeoidOffset sets a constant geoid height above the ellipsoid.
func WithGeoidOffset(offset float64) HandlerOption {
	return func(h *Handler) {
		h.geoidOffset = offset
		h.hasGeoid = true
	}
}

func WithLogger(logger *zap.SugaredLogger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// Open scans dir for SRTM cells. The scan happens here, so cells added to
// dir later are not seen. An empty dir gives a Handler with no DEM.
func Open(fs afero.Fs, dir string, options ...HandlerOption) (*Handler, error) {
	h := &Handler{
		fs:        fs,
		dir:       dir,
		files:     make(map[CellCoord]string),
		cacheSize: 16,
		logger:    zap.NewNop().Sugar(),
	}
	for _, option := range options {
		option(h)
	}
	if h.cacheSize < 1 {
		return nil, errors.Errorf("cache size %d must be positive", h.cacheSize)
	}

	cache, err := lru.NewWithEvict(h.cacheSize, func(CellCoord, *cell) {
		cellCacheEvictions.Inc()
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating cell cache")
	}
	h.cache = cache

	if dir == "" {
		return h, nil
	}
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, errors.Wrapf(err, "scanning DEM directory %s", dir)
	}
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		coord, ok := ParseCellFilename(info.Name())
		if !ok {
			continue
		}
		h.files[coord] = filepath.Join(dir, info.Name())
	}
	h.logger.Infow("DEM directory scanned", "dir", dir, "cells", len(h.files))
	return h, nil
}

// Cells returns the number of cells found by Open.
func (h *Handler) Cells() int {
	return len(h.files)
}

func (h *Handler) DefaultHeight() float64 {
	return h.defaultHeight
}

// GeoidHeight returns the geoid height above the ellipsoid and whether a
// geoid is configured.
func (h *Handler) GeoidHeight(lon, lat float64) (float64, bool) {
	return h.geoidOffset, h.hasGeoid
}

// HeightAboveMSL returns the DEM height at lon, lat. ok is false outside DEM
// coverage or next to a void. A point on a cell edge is read from the
// neighbouring cell sharing that edge when its own cell has no file.
func (h *Handler) HeightAboveMSL(ctx context.Context, lon, lat float64) (float64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	coord := CellCoordFor(lon, lat)
	if _, ok := h.files[coord]; !ok {
		for _, edge := range edgeCellCoords(lon, lat) {
			if _, ok := h.files[edge]; ok {
				coord = edge
				break
			}
		}
	}
	c, err := h.getCellCached(coord)
	if err != nil || c == nil {
		return 0, false, err
	}
	v, ok := c.sample(lon, lat)
	return v, ok, nil
}

// HeightAboveEllipsoid adds the geoid height to the DEM height when either
// exists, and otherwise returns the default height.
func (h *Handler) HeightAboveEllipsoid(ctx context.Context, lon, lat float64) (float64, error) {
	dem, demOK, err := h.HeightAboveMSL(ctx, lon, lat)
	if err != nil {
		return 0, err
	}
	geoid, geoidOK := h.GeoidHeight(lon, lat)
	if !demOK && !geoidOK {
		return h.defaultHeight, nil
	}
	var result float64
	if demOK {
		result += dem
	}
	if geoidOK {
		result += geoid
	}
	return result, nil
}

// Close drops all cached cells.
func (h *Handler) Close() error {
	h.closeOnce.Do(func() {
		h.cache.Purge()
	})
	return nil
}

// getCellCached returns the cell at coord, or nil if there is no file for
// it.
func (h *Handler) getCellCached(coord CellCoord) (*cell, error) {
	filename, ok := h.files[coord]
	if !ok {
		return nil, nil
	}
	if c, ok := h.cache.Get(coord); ok {
		cellCacheHits.Inc()
		return c, nil
	}
	cellCacheMisses.Inc()

	v, err, _ := h.inflight.Do(filename, func() (interface{}, error) {
		if c, ok := h.cache.Peek(coord); ok {
			return c, nil
		}
		data, err := afero.ReadFile(h.fs, filename)
		if err != nil {
			return nil, errors.Wrapf(err, "reading DEM cell %s", filename)
		}
		c, err := decodeCell(coord, data)
		if err != nil {
			return nil, err
		}
		cellsOpened.Inc()
		h.logger.Debugw("DEM cell loaded", "file", filename, "posts", c.n, "loads", h.loads.Add(1))
		h.cache.Add(coord, c)
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*cell), nil
}
