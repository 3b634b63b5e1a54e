package calibration

import (
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/aybabtme/uniplot/histogram"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"go.viam.com/stereocal/rimage"
)

// DebugDirName is the directory, inside the dataset, receiving the debug output.
const DebugDirName = "debug"

// debugWriter saves annotated detections and residual plots of a run.
type debugWriter struct {
	root   string
	names  ChannelNames
	drawer CornerDrawer
}

func newDebugWriter(datasetDir string, names ChannelNames, detector Detector) *debugWriter {
	dw := &debugWriter{root: filepath.Join(datasetDir, DebugDirName), names: names}
	if drawer, ok := detector.(CornerDrawer); ok {
		dw.drawer = drawer
	}
	return dw
}

// writeCorners saves the frame with its corners drawn over it under debug/<channel>/.
func (dw *debugWriter) writeCorners(c Channel, fn string, img image.Image, pattern image.Point, corners []r2.Point, found bool) error {
	var annotated image.Image
	if dw.drawer != nil {
		var err error
		annotated, err = dw.drawer.DrawCorners(img, pattern, corners, found)
		if err != nil {
			return err
		}
	} else {
		annotated = rimage.DrawCorners(img, pattern, corners, found)
	}
	dir := filepath.Join(dw.root, dw.names.Dir(c))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	return rimage.WriteImageToFile(filepath.Join(dir, filepath.Base(fn)), annotated, false)
}

// writeResiduals plots the reprojection errors of a channel as debug/<channel>-residuals.png.
func (dw *debugWriter) writeResiduals(c Channel, residuals []r2.Point) error {
	if err := os.MkdirAll(dw.root, 0o750); err != nil {
		return err
	}
	pts := make(plotter.XYs, len(residuals))
	for i, r := range residuals {
		pts[i].X, pts[i].Y = r.X, r.Y
	}
	p := plot.New()
	p.Title.Text = c.String() + " reprojection error"
	p.X.Label.Text = "x (px)"
	p.Y.Label.Text = "y (px)"
	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return errors.Wrap(err, "cannot plot residuals")
	}
	scatter.GlyphStyle.Radius = vg.Points(1)
	p.Add(plotter.NewGrid(), scatter)
	return p.Save(5*vg.Inch, 5*vg.Inch, filepath.Join(dw.root, c.String()+"-residuals.png"))
}

// residualHistogram renders the distribution of the reprojection error norms as text.
func residualHistogram(residuals []r2.Point) (string, error) {
	if len(residuals) == 0 {
		return "", nil
	}
	norms := make([]float64, len(residuals))
	for i, r := range residuals {
		norms[i] = r.Norm()
	}
	var sb strings.Builder
	if err := histogram.Fprint(&sb, histogram.Hist(10, norms), histogram.Linear(40)); err != nil {
		return "", err
	}
	return sb.String(), nil
}
