package calibration

import (
	"image"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// Detector finds the interior corners of a chessboard. pattern is (cols, rows) of interior
// corners and the corners are returned row by row, matching TargetModel. A board that is not
// fully visible is reported with ErrPatternNotFound.
type Detector interface {
	FindCorners(img *image.Gray, pattern image.Point) ([]r2.Point, error)
}

// CornerDrawer is implemented by detectors that can annotate an image with their detections.
type CornerDrawer interface {
	DrawCorners(img image.Image, pattern image.Point, corners []r2.Point, found bool) (image.Image, error)
}

// DetectionConfig tunes the corner search and its sub-pixel refinement.
type DetectionConfig struct {
	// WindowSize is the half side of the sub-pixel search window, 11 searches a 23x23 area.
	WindowSize    int     `json:"window_size"`
	MaxIterations int     `json:"max_iterations"`
	Epsilon       float64 `json:"epsilon"`

	AdaptiveThreshold bool `json:"adaptive_threshold"`
	NormalizeImage    bool `json:"normalize_image"`
	FastCheck         bool `json:"fast_check"`
	// SaddleRefinement moves the refined corners to the saddle point of a quadratic fitted to
	// the intensity around them.
	SaddleRefinement bool `json:"saddle_refinement"`
}

// DefaultDetectionConfig returns the settings used by the capture tools.
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		WindowSize:        11,
		MaxIterations:     40,
		Epsilon:           0.001,
		AdaptiveThreshold: true,
		NormalizeImage:    true,
	}
}

// Validate ensures the refinement settings are usable.
func (cfg *DetectionConfig) Validate(path string) error {
	if cfg.WindowSize <= 0 {
		return utils.NewConfigValidationError(path, errors.New("window_size must be positive"))
	}
	if cfg.MaxIterations <= 0 && cfg.Epsilon <= 0 {
		return utils.NewConfigValidationError(path, errors.New("one of max_iterations or epsilon must be positive"))
	}
	return nil
}
