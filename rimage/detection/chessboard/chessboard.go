// Package chessboard finds the interior corners of a chessboard calibration target.
package chessboard

import (
	"github.com/pkg/errors"

	"go.viam.com/stereocal/rimage/calibration"
)

// ErrNoOpenCV is returned by detectors of binaries built without cgo.
var ErrNoOpenCV = errors.New("chessboard detection needs OpenCV, rebuild without the no_cgo tag")

var (
	_ calibration.Detector     = (*Detector)(nil)
	_ calibration.CornerDrawer = (*Detector)(nil)
)

func saddleConfig(cfg calibration.DetectionConfig) SaddleConfiguration {
	return SaddleConfiguration{WindowSize: cfg.WindowSize}
}
