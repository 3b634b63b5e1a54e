package cli

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/stereocal/rimage"
	"go.viam.com/stereocal/rimage/bundle"
	"go.viam.com/stereocal/rimage/calibration"
)

// expectArgs fails unless the command got exactly the named positional arguments.
func expectArgs(c *cli.Context, names ...string) error {
	if c.Args().Len() != len(names) {
		return errors.Errorf("%s expects %d arguments (%s), got %d",
			c.Command.Name, len(names), strings.Join(names, " "), c.Args().Len())
	}
	return nil
}

// loadBundle reads the bundle given with --calibration, or the one inside dir.
func loadBundle(c *cli.Context, dir string) (*bundle.Bundle, error) {
	path := c.String(flagCalibration)
	if path == "" {
		path = filepath.Join(dir, bundle.DefaultFilename)
	}
	b, err := bundle.Read(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot load the calibration %s", path)
	}
	return b, nil
}

func parseInterpolation(c *cli.Context) (rimage.Interpolation, error) {
	return rimage.ParseInterpolation(c.String(flagInterpolation))
}

// indexFiles maps the frame index of every file matching pattern to its path.
func indexFiles(pattern string) (map[calibration.FrameIndex]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	files := make(map[calibration.FrameIndex]string, len(matches))
	for _, fn := range matches {
		files[calibration.FrameIndexFromFilename(fn)] = fn
	}
	return files, nil
}

// sortedIndices returns the keys of files in capture order.
func sortedIndices(files map[calibration.FrameIndex]string) []calibration.FrameIndex {
	indices := make([]calibration.FrameIndex, 0, len(files))
	for idx := range files {
		indices = append(indices, idx)
	}
	calibration.SortFrameIndices(indices)
	return indices
}

func pathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}
