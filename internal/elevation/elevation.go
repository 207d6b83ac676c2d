// Package elevation answers "how high is the ground here" for the sensor
// models, either from a constant or from a directory of SRTM cells.
package elevation

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cellsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geostream_elevation_cells_opened_total",
		Help: "The total number of DEM cells read from disk",
	})
	cellCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geostream_elevation_cell_cache_hits_total",
		Help: "The total number of hits on the DEM cell cache",
	})
	cellCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geostream_elevation_cell_cache_misses_total",
		Help: "The total number of misses on the DEM cell cache",
	})
	cellCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geostream_elevation_cell_cache_evictions_total",
		Help: "The total number of evictions from the DEM cell cache",
	})
)

// A Source returns terrain heights above the WGS84 ellipsoid. Longitudes and
// latitudes are in degrees.
type Source interface {
	HeightAboveEllipsoid(ctx context.Context, lon, lat float64) (float64, error)
	// DefaultHeight is the height used where no better information exists,
	// and the starting point of iterative geocoding.
	DefaultHeight() float64
}

// Constant is a flat earth at a fixed height above the ellipsoid.
type Constant float64

func (c Constant) HeightAboveEllipsoid(ctx context.Context, lon, lat float64) (float64, error) {
	return float64(c), ctx.Err()
}

func (c Constant) DefaultHeight() float64 { return float64(c) }
