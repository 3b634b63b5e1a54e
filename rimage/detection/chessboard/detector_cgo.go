//go:build !no_cgo

package chessboard

import (
	"encoding/binary"
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gocv.io/x/gocv"

	"go.viam.com/stereocal/rimage/calibration"
)

// Detector finds chessboards with OpenCV and refines the corners to sub-pixel accuracy.
type Detector struct {
	cfg calibration.DetectionConfig
}

// NewDetector returns a Detector using cfg.
func NewDetector(cfg calibration.DetectionConfig) (*Detector, error) {
	if err := cfg.Validate("detection"); err != nil {
		return nil, err
	}
	return &Detector{cfg: cfg}, nil
}

func (d *Detector) flags() gocv.CalibCBFlag {
	var flags gocv.CalibCBFlag
	if d.cfg.AdaptiveThreshold {
		flags |= gocv.CalibCBAdaptiveThresh
	}
	if d.cfg.NormalizeImage {
		flags |= gocv.CalibCBNormalizeImage
	}
	if d.cfg.FastCheck {
		flags |= gocv.CalibCBFastCheck
	}
	return flags
}

func (d *Detector) criteria() gocv.TermCriteria {
	var typ gocv.TermCriteriaType
	if d.cfg.MaxIterations > 0 {
		typ |= gocv.Count
	}
	if d.cfg.Epsilon > 0 {
		typ |= gocv.EPS
	}
	return gocv.NewTermCriteria(typ, d.cfg.MaxIterations, d.cfg.Epsilon)
}

// FindCorners implements calibration.Detector.
func (d *Detector) FindCorners(img *image.Gray, pattern image.Point) ([]r2.Point, error) {
	src, err := gocv.ImageGrayToMatGray(img)
	if err != nil {
		return nil, errors.Wrap(err, "cannot convert the frame for OpenCV")
	}
	defer utils.UncheckedErrorFunc(src.Close)

	corners := gocv.NewMat()
	defer utils.UncheckedErrorFunc(corners.Close)
	if !gocv.FindChessboardCorners(src, pattern, &corners, d.flags()) {
		return nil, calibration.ErrPatternNotFound
	}
	win := image.Pt(d.cfg.WindowSize, d.cfg.WindowSize)
	gocv.CornerSubPix(src, &corners, win, image.Pt(-1, -1), d.criteria())

	data, err := corners.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "unexpected corner layout")
	}
	if len(data) != 2*pattern.X*pattern.Y {
		return nil, errors.Wrapf(calibration.ErrPatternNotFound, "OpenCV returned %d corners, expected %d",
			len(data)/2, pattern.X*pattern.Y)
	}
	pts := make([]r2.Point, len(data)/2)
	for i := range pts {
		pts[i] = r2.Point{X: float64(data[2*i]), Y: float64(data[2*i+1])}
	}
	if d.cfg.SaddleRefinement {
		return RefineSaddles(img, pts, saddleConfig(d.cfg))
	}
	return pts, nil
}

// DrawCorners implements calibration.CornerDrawer with OpenCV's own rendering.
func (d *Detector) DrawCorners(img image.Image, pattern image.Point, corners []r2.Point, found bool) (image.Image, error) {
	canvas, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(canvas.Close)

	buf := make([]byte, 0, 8*len(corners))
	for _, c := range corners {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(c.X)))
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(c.Y)))
	}
	pts, err := gocv.NewMatFromBytes(len(corners), 1, gocv.MatTypeCV32FC2, buf)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(pts.Close)

	gocv.DrawChessboardCorners(&canvas, pattern, pts, found)
	return canvas.ToImage()
}
