//go:build no_cgo

package chessboard

import (
	"image"

	"github.com/golang/geo/r2"

	"go.viam.com/stereocal/rimage"
	"go.viam.com/stereocal/rimage/calibration"
)

// Detector is unavailable without cgo: FindCorners always fails with ErrNoOpenCV.
type Detector struct {
	cfg calibration.DetectionConfig
}

// NewDetector returns ErrNoOpenCV.
func NewDetector(cfg calibration.DetectionConfig) (*Detector, error) {
	return nil, ErrNoOpenCV
}

// FindCorners implements calibration.Detector.
func (d *Detector) FindCorners(img *image.Gray, pattern image.Point) ([]r2.Point, error) {
	return nil, ErrNoOpenCV
}

// DrawCorners implements calibration.CornerDrawer.
func (d *Detector) DrawCorners(img image.Image, pattern image.Point, corners []r2.Point, found bool) (image.Image, error) {
	return rimage.DrawCorners(img, pattern, corners, found), nil
}
