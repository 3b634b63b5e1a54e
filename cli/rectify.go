package cli

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/stereocal/rimage"
	"go.viam.com/stereocal/rimage/calibration"
	"go.viam.com/stereocal/utils"
)

const (
	rectifiedLeftDir  = "rectified-left"
	rectifiedRightDir = "rectified-right"
)

// errUnpairedFrames is returned when the left and right infrared frames do not share their indices.
var errUnpairedFrames = errors.New("some frames are not paired")

type stereoPair struct {
	index       calibration.FrameIndex
	left, right string
}

// pairInfraredFrames matches the png frames of the infrared channels of dir by index.
func pairInfraredFrames(dir string) ([]stereoPair, error) {
	names := calibration.DefaultChannelNames()
	left, err := indexFiles(filepath.Join(dir, names.Dir(calibration.IRLeft), "*.png"))
	if err != nil {
		return nil, err
	}
	right, err := indexFiles(filepath.Join(dir, names.Dir(calibration.IRRight), "*.png"))
	if err != nil {
		return nil, err
	}
	if len(left) != len(right) {
		return nil, errors.Wrapf(errUnpairedFrames, "%d left and %d right frames", len(left), len(right))
	}
	pairs := make([]stereoPair, 0, len(left))
	for _, idx := range sortedIndices(left) {
		r, ok := right[idx]
		if !ok {
			return nil, errors.Wrapf(errUnpairedFrames, "frame %q has no right image", idx)
		}
		pairs = append(pairs, stereoPair{index: idx, left: left[idx], right: r})
	}
	return pairs, nil
}

// RectifyAction remaps every infrared pair of a dataset with the rectification maps of its
// calibration.
func RectifyAction(c *cli.Context) error {
	if err := expectArgs(c, "DIR"); err != nil {
		return err
	}
	dir := c.Args().First()
	pairs, err := pairInfraredFrames(dir)
	if err != nil {
		return err
	}
	b, err := loadBundle(c, dir)
	if err != nil {
		return err
	}
	interp, err := parseInterpolation(c)
	if err != nil {
		return err
	}

	outLeft := filepath.Join(dir, rectifiedLeftDir)
	outRight := filepath.Join(dir, rectifiedRightDir)
	for _, d := range []string{outLeft, outRight} {
		if err := os.MkdirAll(d, 0o750); err != nil {
			return err
		}
	}

	logger := loggerFromContext(c).Sublogger("rectify")
	err = utils.ForEach(c.Context, c.Int(flagWorkers), pairs, func(ctx context.Context, p stereoPair) error {
		for _, side := range []struct {
			src, dst string
			table    *rimage.RemapTable
		}{
			{p.left, filepath.Join(outLeft, filepath.Base(p.left)), b.MapLeft},
			{p.right, filepath.Join(outRight, filepath.Base(p.right)), b.MapRight},
		} {
			if err := rectifyFile(side.src, side.dst, side.table, interp); err != nil {
				return err
			}
		}
		logger.Debugw("rectified", "frame", string(p.index))
		return nil
	})
	if err != nil {
		return err
	}
	printf(c.App.Writer, "Rectified %d pairs into %s and %s", len(pairs), outLeft, outRight)
	return nil
}

func rectifyFile(src, dst string, table *rimage.RemapTable, interp rimage.Interpolation) error {
	img, err := rimage.ReadImageFromFile(src)
	if err != nil {
		return err
	}
	rectified, err := rimage.Remap(img, table, interp)
	if err != nil {
		return errors.Wrap(err, src)
	}
	return rimage.WriteImageToFile(dst, rectified, false)
}
