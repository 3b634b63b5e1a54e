package cli

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"go.viam.com/stereocal/logging"
	"go.viam.com/stereocal/rimage"
	"go.viam.com/stereocal/rimage/calibration"
	"go.viam.com/stereocal/rimage/registration"
	"go.viam.com/stereocal/utils"
)

const (
	disparityDir    = "disparity"
	disparitySuffix = "_disp.pfm"
	colorDir        = "rgb"
	depthDir        = "depth"
)

// colorExtensions are the color frames make-depth picks up.
var colorExtensions = []string{".png", ".bmp", ".jpg", ".ppm"}

type depthFrame struct {
	disparity, color string
}

// matchDepthFrames pairs the disparity maps of source with its color frames by index. Frames
// without a partner are logged and left out.
func matchDepthFrames(source string, logger logging.Logger) ([]depthFrame, error) {
	disparities, err := indexFiles(filepath.Join(source, disparityDir, "*"+disparitySuffix))
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(source, colorDir))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	colors := map[calibration.FrameIndex]string{}
	for _, entry := range entries {
		if entry.IsDir() || !lo.Contains(colorExtensions, strings.ToLower(filepath.Ext(entry.Name()))) {
			continue
		}
		colors[calibration.FrameIndexFromFilename(entry.Name())] = filepath.Join(source, colorDir, entry.Name())
	}

	var frames []depthFrame
	for _, idx := range sortedIndices(colors) {
		disp, ok := disparities[idx]
		if !ok {
			logger.Warnw("unmatched color frame", "file", colors[idx])
			continue
		}
		delete(disparities, idx)
		frames = append(frames, depthFrame{disparity: disp, color: colors[idx]})
	}
	for _, idx := range sortedIndices(disparities) {
		logger.Warnw("unmatched disparity", "file", disparities[idx])
	}
	return frames, nil
}

type depthWriter struct {
	registrar  *registration.Registrar
	size       image.Point
	fixedScale float64
	format     string
	optimize   bool
	depthDir   string
	colorDir   string
	logger     logging.Logger
}

// process registers one frame. Frames whose size does not match the calibration are logged and
// skipped.
func (dw *depthWriter) process(ctx context.Context, f depthFrame) error {
	disp, err := rimage.ReadPFMFile(f.disparity)
	if err != nil {
		return err
	}
	if disp.Width() != dw.size.X || disp.Height() != dw.size.Y {
		dw.logger.Warnw("unexpected disparity size, skipping", "file", f.disparity,
			"width", disp.Width(), "height", disp.Height())
		return nil
	}
	color, err := rimage.ReadImageFromFile(f.color)
	if err != nil {
		return err
	}
	if color.Bounds().Size() != dw.size {
		dw.logger.Warnw("unexpected color size, skipping", "file", f.color,
			"width", color.Bounds().Dx(), "height", color.Bounds().Dy())
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	reg, err := dw.registrar.Register(disp, dw.size)
	if err != nil {
		return errors.Wrap(err, f.disparity)
	}
	depth, scale := registration.Quantize(reg.Depth, dw.fixedScale)
	aligned, err := dw.registrar.Color(reg, color)
	if err != nil {
		return errors.Wrap(err, f.color)
	}

	depthName := strings.TrimSuffix(filepath.Base(f.disparity), disparitySuffix) + ".png"
	depthFn := filepath.Join(dw.depthDir, depthName)
	if err := rimage.WriteDepthMapPNG(depthFn, depth, scale, dw.optimize); err != nil {
		return err
	}
	colorBase := filepath.Base(f.color)
	colorName := strings.TrimSuffix(colorBase, filepath.Ext(colorBase)) + "." + dw.format
	if err := rimage.WriteImageToFile(filepath.Join(dw.colorDir, colorName), aligned, dw.optimize); err != nil {
		return err
	}
	dw.logger.Infow("saved", "color", colorName, "depth", depthName, "scale", scale)
	return nil
}

// MakeDepthAction converts the disparity maps of a dataset to depth maps aligned with
// registered color frames, into a new directory.
func MakeDepthAction(c *cli.Context) error {
	if err := expectArgs(c, "SOURCE", "DEST"); err != nil {
		return err
	}
	source, dest := c.Args().Get(0), c.Args().Get(1)
	format := strings.ToLower(c.String(depthFlagColorFormat))
	if !lo.Contains(colorFormats, format) {
		return errors.Errorf("unknown color format %q, expected one of %v", format, colorFormats)
	}
	fixedScale := c.Float64(depthFlagScale)
	if fixedScale < 0 {
		return errors.Errorf("the depth scale must be positive, got %v", fixedScale)
	}
	interp, err := parseInterpolation(c)
	if err != nil {
		return err
	}
	exists, err := pathExists(dest)
	if err != nil {
		return err
	}
	if exists {
		return errors.Errorf("the destination directory %s already exists", dest)
	}

	b, err := loadBundle(c, source)
	if err != nil {
		return err
	}
	registrar, err := registration.NewRegistrar(b, registration.Options{
		KeepInvalidColor: c.Bool(depthFlagKeepInvalidColor),
		Interpolation:    interp,
	})
	if err != nil {
		return err
	}

	dw := &depthWriter{
		registrar:  registrar,
		size:       image.Pt(b.Width, b.Height),
		fixedScale: fixedScale,
		format:     format,
		optimize:   c.Bool(depthFlagOptimize),
		depthDir:   filepath.Join(dest, depthDir),
		colorDir:   filepath.Join(dest, colorDir),
		logger:     loggerFromContext(c).Sublogger("make-depth"),
	}
	for _, d := range []string{dest, dw.colorDir, dw.depthDir} {
		if err := os.Mkdir(d, 0o750); err != nil {
			return err
		}
	}
	cameraFn := filepath.Join(dest, registration.CameraInfoFilename)
	if err := registration.WriteCameraInfo(cameraFn, registration.NewCameraInfo(b, fixedScale)); err != nil {
		return err
	}

	frames, err := matchDepthFrames(source, dw.logger)
	if err != nil {
		return err
	}
	if err := utils.ForEach(c.Context, c.Int(flagWorkers), frames, dw.process); err != nil {
		return err
	}
	printf(c.App.Writer, "Registered %d frames into %s", len(frames), dest)
	return nil
}
