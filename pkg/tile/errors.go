package tile

import "github.com/pkg/errors"

var (
	// ErrConfiguration marks an invalid layout or tile geometry.
	ErrConfiguration = errors.New("configuration error")
	// ErrInvalidState marks an operation called in the wrong lifecycle phase.
	ErrInvalidState = errors.New("invalid state")
	// ErrInconsistentTile marks a tile whose readable extent does not match
	// its declared footprint.
	ErrInconsistentTile = errors.New("inconsistent tile")
	// ErrRegionOutsideMosaic marks a requested region that is not inside
	// the mosaic.
	ErrRegionOutsideMosaic = errors.New("region outside mosaic")
)
