package calibration

import "github.com/pkg/errors"

var (
	// ErrInvalidDataset is returned when the capture directory does not hold a consistent set of frames.
	ErrInvalidDataset = errors.New("invalid calibration dataset")
	// ErrPatternNotFound is returned when a frame does not show the whole calibration target.
	ErrPatternNotFound = errors.New("calibration pattern not found")
	// ErrSolverFailed is returned when a calibration problem cannot be solved.
	ErrSolverFailed = errors.New("calibration solver failed")
	// ErrDimensionMismatch is returned when images of one dataset do not share the same size.
	ErrDimensionMismatch = errors.New("image dimensions mismatch")
	// ErrPoorCalibration is returned when a reprojection error is above the configured maximum.
	ErrPoorCalibration = errors.New("reprojection error above threshold")
)
