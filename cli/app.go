// Package cli contains the stereocal command line application.
package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/urfave/cli/v2"

	"go.viam.com/stereocal/logging"
	"go.viam.com/stereocal/rimage"
)

const (
	// Flags.
	generalFlagDebug   = "debug"
	generalFlagLogFile = "log-file"

	flagCalibration   = "calibration"
	flagInterpolation = "interpolation"
	flagWorkers       = "workers"

	calibrateFlagDir           = "dir"
	calibrateFlagConfig        = "config"
	calibrateFlagDebugImages   = "debug-images"
	calibrateFlagFixIntrinsics = "fix-intrinsics"
	calibrateFlagMaxRMS        = "max-rms"

	depthFlagKeepInvalidColor = "keep-invalid-color"
	depthFlagScale            = "scale"
	depthFlagColorFormat      = "color-format"
	depthFlagOptimize         = "optimize"

	pointCloudFlagThreshold = "threshold"
	pointCloudFlagBinary    = "binary"
	pointCloudFlagLAS       = "las"
	pointCloudFlagExportRaw = "export-raw"

	loggerKey = "logger"
)

var colorFormats = []string{"png", "jpg", "bmp", "qoi"}

func calibrationFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    flagCalibration,
		Aliases: []string{"c"},
		Usage:   "calibration bundle `FILE` produced by the calibrate command",
	}
}

func interpolationFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    flagInterpolation,
		Aliases: []string{"i"},
		Value:   rimage.InterpLanczos4.String(),
		Usage:   "interpolation, one of " + strings.Join(rimage.InterpolationNames(), ", "),
	}
}

func workersFlag() cli.Flag {
	return &cli.IntFlag{
		Name:  flagWorkers,
		Usage: "number of frames processed concurrently, 0 uses every CPU",
	}
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut. Logs go to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app := &cli.App{
		Name:            "stereocal",
		Usage:           "calibrate RGBD stereo rigs and process their captures",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    generalFlagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  generalFlagLogFile,
				Usage: "also write logs to the rotating `FILE`",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "calibrate",
				Usage:     "calibrate a rig from a directory of chessboard captures",
				ArgsUsage: "SQUARES_X SQUARES_Y EDGE",
				UsageText: "stereocal calibrate [-d DIR] [other options] SQUARES_X SQUARES_Y EDGE\n\n" +
					"SQUARES_X and SQUARES_Y count the printed squares, EDGE is the side of one square.",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    calibrateFlagDir,
						Aliases: []string{"d"},
						Value:   ".",
						Usage:   "dataset `DIR` holding ir-left, ir-right and rgb",
					},
					&cli.StringFlag{
						Name:  calibrateFlagConfig,
						Usage: "load detection and solver settings from the JSON `FILE`",
					},
					&cli.BoolFlag{
						Name:  calibrateFlagDebugImages,
						Usage: "save the detected corners of every frame under DIR/debug",
					},
					&cli.BoolFlag{
						Name:  calibrateFlagFixIntrinsics,
						Usage: "keep the single camera intrinsics fixed during the stereo calibrations",
					},
					&cli.Float64Flag{
						Name:  calibrateFlagMaxRMS,
						Usage: "fail when a stereo reprojection error in pixels is above this value",
					},
				},
				Action: CalibrateAction,
			},
			{
				Name:      "rectify",
				Usage:     "rectify the infrared pairs of a dataset",
				ArgsUsage: "DIR",
				Flags: []cli.Flag{
					calibrationFlag(),
					interpolationFlag(),
					workersFlag(),
				},
				Action: RectifyAction,
			},
			{
				Name:      "make-depth",
				Usage:     "convert disparity maps to depth and register the color frames to them",
				ArgsUsage: "SOURCE DEST",
				UsageText: "stereocal make-depth [options] SOURCE DEST\n\n" +
					"SOURCE holds disparity/*_disp.pfm and rgb/*, DEST must not exist.",
				Flags: []cli.Flag{
					calibrationFlag(),
					interpolationFlag(),
					&cli.BoolFlag{
						Name:  depthFlagKeepInvalidColor,
						Usage: "do not zero the depth of pixels the color camera does not see",
					},
					&cli.Float64Flag{
						Name:    depthFlagScale,
						Aliases: []string{"s"},
						Usage:   "fixed depth scale, by default every frame uses its own and records it in the PNG",
					},
					&cli.StringFlag{
						Name:    depthFlagColorFormat,
						Aliases: []string{"f"},
						Value:   "png",
						Usage:   "format of the registered color frames, one of " + strings.Join(colorFormats, ", "),
					},
					&cli.BoolFlag{
						Name:  depthFlagOptimize,
						Value: true,
						Usage: "use a higher compression, at the expense of a higher save time",
					},
					workersFlag(),
				},
				Action: MakeDepthAction,
			},
			{
				Name:      "pointcloud",
				Usage:     "build point clouds from registered depth and color frames",
				ArgsUsage: "DIR NAME...",
				Flags: []cli.Flag{
					&cli.Float64Flag{
						Name:    pointCloudFlagThreshold,
						Aliases: []string{"t"},
						Usage:   "drop points farther than this many meters (default 6)",
					},
					&cli.BoolFlag{
						Name:  pointCloudFlagBinary,
						Usage: "write binary instead of ascii PCD",
					},
					&cli.BoolFlag{
						Name:  pointCloudFlagLAS,
						Usage: "also write a LAS file",
					},
					&cli.BoolFlag{
						Name:  pointCloudFlagExportRaw,
						Usage: "also write the points as raw float32 records",
					},
					workersFlag(),
				},
				Action: PointCloudAction,
			},
			{
				Name:      "inspect",
				Usage:     "print the contents of a calibration bundle",
				ArgsUsage: "CALIB",
				Action:    InspectAction,
			},
			{
				Name:   "version",
				Usage:  "print version info for this program",
				Action: VersionAction,
			},
		},
	}
	app.Writer = out
	app.ErrWriter = errOut
	return app
}

func setupLogger(c *cli.Context) error {
	logger := logging.NewBlankLogger(c.App.Name)
	logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
	if fn := c.String(generalFlagLogFile); fn != "" {
		logger.AddAppender(logging.NewFileAppender(fn))
	}
	if c.Bool(generalFlagDebug) {
		logger.SetLevel(logging.DEBUG)
	} else {
		logger.SetLevel(logging.INFO)
	}
	if c.App.Metadata == nil {
		c.App.Metadata = map[string]interface{}{}
	}
	c.App.Metadata[loggerKey] = logger
	return nil
}

func loggerFromContext(c *cli.Context) logging.Logger {
	if logger, ok := c.App.Metadata[loggerKey].(logging.Logger); ok {
		return logger
	}
	return logging.NewLogger(c.App.Name)
}

// printf prints a message with no prefix.
func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}
