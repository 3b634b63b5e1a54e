package cli

import (
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/stereocal/rimage/bundle"
	"go.viam.com/stereocal/rimage/calibration"
	"go.viam.com/stereocal/rimage/detection/chessboard"
)

// calibrationConfigFromContext merges the JSON config, the board arguments and the flags.
func calibrationConfigFromContext(c *cli.Context) (*calibration.Config, error) {
	if err := expectArgs(c, "SQUARES_X", "SQUARES_Y", "EDGE"); err != nil {
		return nil, err
	}
	squaresX, err := strconv.Atoi(c.Args().Get(0))
	if err != nil {
		return nil, errors.Wrap(err, "invalid SQUARES_X")
	}
	squaresY, err := strconv.Atoi(c.Args().Get(1))
	if err != nil {
		return nil, errors.Wrap(err, "invalid SQUARES_Y")
	}
	edge, err := strconv.ParseFloat(c.Args().Get(2), 64)
	if err != nil {
		return nil, errors.Wrap(err, "invalid EDGE")
	}

	cfg := calibration.DefaultConfig()
	if fn := c.String(calibrateFlagConfig); fn != "" {
		if cfg, err = calibration.NewConfigFromJSONFile(fn); err != nil {
			return nil, err
		}
	}
	cfg.SquaresX = squaresX
	cfg.SquaresY = squaresY
	cfg.EdgeSize = edge
	if c.IsSet(calibrateFlagDebugImages) {
		cfg.DebugImages = c.Bool(calibrateFlagDebugImages)
	}
	if c.IsSet(calibrateFlagFixIntrinsics) {
		cfg.FixIntrinsics = c.Bool(calibrateFlagFixIntrinsics)
	}
	if c.IsSet(calibrateFlagMaxRMS) {
		cfg.MaxRMS = c.Float64(calibrateFlagMaxRMS)
	}
	return cfg, cfg.Validate("calibration")
}

// CalibrateAction calibrates the rig captured in the dataset directory and saves the bundle
// next to the captures.
func CalibrateAction(c *cli.Context) error {
	cfg, err := calibrationConfigFromContext(c)
	if err != nil {
		return err
	}
	dir := c.String(calibrateFlagDir)
	// dataset problems are reported even where no detector is available
	frames, err := calibration.IndexFrames(dir, cfg.Channels)
	if err != nil {
		return err
	}

	detector, err := chessboard.NewDetector(cfg.Detection)
	if err != nil {
		return err
	}
	logger := loggerFromContext(c).Sublogger("calibrate")
	calibrator, err := calibration.NewCalibrator(cfg, detector, logger)
	if err != nil {
		return err
	}
	res, err := calibrator.RunFrames(c.Context, frames)
	if err != nil {
		return err
	}

	out := filepath.Join(dir, bundle.DefaultFilename)
	if err := bundle.Write(out, res.Bundle); err != nil {
		return errors.Wrapf(err, "cannot save %s", out)
	}
	printf(c.App.Writer, "Saved %s (infrared rms %.4f px, color rms %.4f px)", out, res.IR.RMS, res.Color.RMS)
	return nil
}
