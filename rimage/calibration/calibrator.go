package calibration

import (
	"context"
	"image"
	"path/filepath"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocal/logging"
	"go.viam.com/stereocal/rimage"
	"go.viam.com/stereocal/rimage/bundle"
	"go.viam.com/stereocal/rimage/transform"
)

// Result holds every intermediate product of a calibration run.
type Result struct {
	Frames       *FrameSet
	Target       *TargetModel
	Observations map[Channel]*Observations
	Cameras      map[Channel]*CameraCalibration
	// IR relates the right infrared camera to the left one, Color the color camera to the
	// left infrared camera.
	IR, Color     *StereoCalibration
	Rectification *transform.RectifyResult
	Bundle        *bundle.Bundle
}

// Calibrator runs the calibration of an RGBD stereo rig from a directory of chessboard captures.
type Calibrator struct {
	cfg      *Config
	detector Detector
	logger   logging.Logger
}

// NewCalibrator validates cfg and returns a Calibrator detecting corners with detector.
func NewCalibrator(cfg *Config, detector Detector, logger logging.Logger) (*Calibrator, error) {
	if err := cfg.Validate("calibration"); err != nil {
		return nil, err
	}
	if detector == nil {
		return nil, errors.New("a corner detector is required")
	}
	return &Calibrator{cfg: cfg, detector: detector, logger: logger}, nil
}

// Run calibrates the rig from the captures in dir. Nothing is written outside of the debug
// directory; the caller saves Result.Bundle.
func (c *Calibrator) Run(ctx context.Context, dir string) (*Result, error) {
	frames, err := IndexFrames(dir, c.cfg.Channels)
	if err != nil {
		return nil, err
	}
	return c.RunFrames(ctx, frames)
}

// RunFrames is Run over an already indexed dataset.
func (c *Calibrator) RunFrames(ctx context.Context, frames *FrameSet) (*Result, error) {
	if frames == nil || frames.Len() == 0 {
		return nil, errors.Wrap(ErrInvalidDataset, "no frames to calibrate")
	}
	c.logger.Infof("found %d frames of %dx%d in %s", frames.Len(), frames.Size.X, frames.Size.Y, frames.Dir)
	target, err := c.cfg.Target()
	if err != nil {
		return nil, err
	}

	var debug *debugWriter
	if c.cfg.DebugImages {
		debug = newDebugWriter(frames.Dir, c.cfg.Channels, c.detector)
	}

	res := &Result{
		Frames:       frames,
		Target:       target,
		Observations: map[Channel]*Observations{},
		Cameras:      map[Channel]*CameraCalibration{},
	}
	object := target.ObjectPoints(frames.Len())
	for _, ch := range Channels {
		obs, err := c.detect(ctx, frames, ch, target, debug)
		if err != nil {
			return nil, err
		}
		res.Observations[ch] = obs

		calib, err := CalibrateCamera(object, obs.Corners, frames.Size, c.cfg.Solver)
		if err != nil {
			return nil, errors.Wrapf(err, "calibrating %s", ch)
		}
		c.logger.Infow("camera calibrated", "channel", ch.String(), "rms", calib.RMS,
			"fx", calib.Intrinsics.Fx, "fy", calib.Intrinsics.Fy, "ppx", calib.Intrinsics.Ppx, "ppy", calib.Intrinsics.Ppy)
		c.reportResiduals(ch, calib, object, obs, debug)
		res.Cameras[ch] = calib
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := StereoOptions{FixIntrinsics: c.cfg.FixIntrinsics, Solver: c.cfg.Solver}
	res.IR, err = CalibrateStereo(object, res.Observations[IRLeft], res.Observations[IRRight],
		res.Cameras[IRLeft], res.Cameras[IRRight], frames.Size, opts)
	if err != nil {
		return nil, err
	}
	c.logger.Infow("infrared pair calibrated", "rms", res.IR.RMS, "epipolar_error", res.IR.EpipolarError,
		"baseline", res.IR.Translation.Norm())

	res.Color, err = CalibrateStereo(object, res.Observations[IRLeft], res.Observations[Color],
		res.Cameras[IRLeft], res.Cameras[Color], frames.Size, opts)
	if err != nil {
		return nil, err
	}
	c.logger.Infow("color camera calibrated", "rms", res.Color.RMS, "epipolar_error", res.Color.EpipolarError)

	if c.cfg.MaxRMS > 0 {
		for _, sc := range []struct {
			name string
			rms  float64
		}{{"infrared pair", res.IR.RMS}, {"color camera", res.Color.RMS}} {
			if sc.rms > c.cfg.MaxRMS {
				return nil, errors.Wrapf(ErrPoorCalibration, "%s rms %.4f px is above %.4f px", sc.name, sc.rms, c.cfg.MaxRMS)
			}
		}
	}

	res.Rectification, err = transform.StereoRectify(res.IR.First.Model(), res.IR.Second.Model(), res.IR.Rotation, res.IR.Translation)
	if err != nil {
		return nil, errors.Wrap(ErrSolverFailed, err.Error())
	}
	res.Bundle, err = NewBundle(res.IR, res.Color, res.Rectification, frames.Size)
	if err != nil {
		return nil, err
	}
	c.logger.Infow("rectified", "Bf", res.Bundle.Bf, "baseline", res.Bundle.RectifiedBaseline(), "session_id", res.Bundle.SessionID)
	return res, nil
}

// detect finds the target in every frame of a channel.
func (c *Calibrator) detect(ctx context.Context, frames *FrameSet, ch Channel, target *TargetModel, debug *debugWriter) (*Observations, error) {
	obs := &Observations{Channel: ch}
	pattern := target.PatternSize()
	for _, frame := range frames.Frames() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fn := frame.Path(ch)
		img, err := rimage.ReadGrayFromFile(fn)
		if err != nil {
			return nil, err
		}
		if size := img.Bounds().Size(); size != frames.Size {
			return nil, errors.Wrapf(ErrDimensionMismatch, "%s is %dx%d, expected %dx%d",
				fn, size.X, size.Y, frames.Size.X, frames.Size.Y)
		}

		corners, err := c.detector.FindCorners(img, pattern)
		if err != nil {
			if errors.Is(err, ErrPatternNotFound) {
				return nil, errors.Wrapf(err, "could not detect a chessboard in %s", fn)
			}
			return nil, errors.Wrapf(err, "detecting corners in %s", fn)
		}
		if len(corners) != target.Len() {
			return nil, errors.Wrapf(ErrPatternNotFound, "found %d corners in %s, expected %d", len(corners), fn, target.Len())
		}
		c.logger.Debugf("%s: %d corners in %s", ch, len(corners), filepath.Base(fn))

		if debug != nil {
			if err := debug.writeCorners(ch, fn, img, pattern, corners, true); err != nil {
				c.logger.Warnw("cannot write debug image", "file", fn, "error", err)
			}
		}
		obs.Frames = append(obs.Frames, frame.Index)
		obs.Corners = append(obs.Corners, corners)
	}
	return obs, nil
}

func (c *Calibrator) reportResiduals(ch Channel, calib *CameraCalibration, object [][]r3.Vector, obs *Observations, debug *debugWriter) {
	if c.logger.GetLevel() != logging.DEBUG && debug == nil {
		return
	}
	residuals, err := calib.Residuals(object, obs.Corners)
	if err != nil {
		c.logger.Warnw("cannot compute residuals", "channel", ch.String(), "error", err)
		return
	}
	if hist, err := residualHistogram(residuals); err == nil {
		c.logger.Debugf("%s reprojection error distribution (px):\n%s", ch, hist)
	}
	if debug != nil {
		if err := debug.writeResiduals(ch, residuals); err != nil {
			c.logger.Warnw("cannot write residual plot", "channel", ch.String(), "error", err)
		}
	}
}

// NewBundle assembles the calibration bundle of a rig from its stereo calibrations and the
// rectification of its infrared pair.
func NewBundle(ir, color *StereoCalibration, rect *transform.RectifyResult, size image.Point) (*bundle.Bundle, error) {
	mapLeft, err := transform.InitUndistortRectifyMap(ir.First.Model(), rect.R1, rect.P1)
	if err != nil {
		return nil, errors.Wrap(ErrSolverFailed, err.Error())
	}
	mapRight, err := transform.InitUndistortRectifyMap(ir.Second.Model(), rect.R2, rect.P2)
	if err != nil {
		return nil, errors.Wrap(ErrSolverFailed, err.Error())
	}

	// the color pose is expressed relative to the rectified left frame
	var colorR mat.Dense
	colorR.Mul(color.Rotation, rect.R1.T())

	return &bundle.Bundle{
		Width:           size.X,
		Height:          size.Y,
		Intrinsic:       mat.DenseCopyOf(rect.P1.Slice(0, 3, 0, 3)),
		Q:               rect.Q,
		Bf:              rect.Bf(),
		MapLeft:         mapLeft,
		MapRight:        mapRight,
		ColorIntrinsic:  color.Second.CameraMatrix(),
		ColorDistortion: color.Second.Distortion.Parameters(),
		ColorR:          &colorR,
		ColorT:          color.Translation,
		SessionID:       uuid.NewString(),
		IRRMS:           ir.RMS,
		ColorRMS:        color.RMS,
	}, nil
}
