package sensor

import "github.com/pkg/errors"

var (
	// ErrModelBuild means the metadata cannot describe a usable model.
	ErrModelBuild = errors.New("cannot build sensor model")
	// ErrInvalidModel is returned by every operation on a model that was not
	// built successfully.
	ErrInvalidModel = errors.New("invalid sensor model")
	// ErrConvergence means an iterative solution did not converge, or the
	// point is outside the region where the model is meaningful.
	ErrConvergence = errors.New("solution did not converge")
)
