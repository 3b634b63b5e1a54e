package chessboard

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const (
	maxSaddleIterations = 20
	saddleConvergence   = 1e-3
	// fits flatter than this are noise, not corners
	minSaddleDeterminant = 1e-6
)

// SaddleConfiguration tunes the saddle point refinement of corners.
type SaddleConfiguration struct {
	// WindowSize is the half side of the patch fitted around each corner.
	WindowSize int
}

// RefineSaddles moves every corner to the saddle point of the intensity surface around it. A
// quadratic is fitted by weighted least squares to the patch centered on the current estimate and
// the estimate jumps to where its gradient vanishes, until it stops moving. Corners whose patch
// is not a saddle, or would leave the image, keep their last estimate.
func RefineSaddles(img *image.Gray, corners []r2.Point, cfg SaddleConfiguration) ([]r2.Point, error) {
	if cfg.WindowSize <= 0 {
		return nil, errors.Errorf("saddle window size must be positive, got %d", cfg.WindowSize)
	}
	fitter := newSaddleFitter(cfg.WindowSize)
	out := make([]r2.Point, len(corners))
	for i, c := range corners {
		out[i] = c
		for iter := 0; iter < maxSaddleIterations; iter++ {
			delta, ok := fitter.step(img, out[i])
			if !ok || delta.Norm() > float64(cfg.WindowSize) {
				break
			}
			out[i] = out[i].Add(delta)
			if delta.Norm() < saddleConvergence {
				break
			}
		}
	}
	return out, nil
}

// saddleFitter holds the design matrix of a quadratic fit over a fixed patch.
type saddleFitter struct {
	window  int
	design  *mat.Dense
	weights []float64
}

func newSaddleFitter(window int) *saddleFitter {
	side := 2*window + 1
	n := side * side
	sigma := float64(window) / 2
	sf := &saddleFitter{window: window, design: mat.NewDense(n, 6, nil), weights: make([]float64, n)}
	k := 0
	for dy := -window; dy <= window; dy++ {
		for dx := -window; dx <= window; dx++ {
			x, y := float64(dx), float64(dy)
			w := math.Sqrt(math.Exp(-(x*x + y*y) / (2 * sigma * sigma)))
			sf.weights[k] = w
			sf.design.SetRow(k, []float64{w * x * x, w * x * y, w * y * y, w * x, w * y, w})
			k++
		}
	}
	return sf
}

// fit returns the coefficients of I(x, y) = a x² + b xy + c y² + d x + e y + f around p.
func (sf *saddleFitter) fit(img *image.Gray, p r2.Point) (*mat.VecDense, bool) {
	bounds := img.Bounds()
	w := float64(sf.window)
	if p.X-w < float64(bounds.Min.X) || p.Y-w < float64(bounds.Min.Y) ||
		p.X+w+1 >= float64(bounds.Max.X) || p.Y+w+1 >= float64(bounds.Max.Y) {
		return nil, false
	}
	b := mat.NewVecDense(len(sf.weights), nil)
	k := 0
	for dy := -sf.window; dy <= sf.window; dy++ {
		for dx := -sf.window; dx <= sf.window; dx++ {
			b.SetVec(k, sf.weights[k]*bilinearGray(img, p.X+float64(dx), p.Y+float64(dy)))
			k++
		}
	}
	var coef mat.VecDense
	if err := coef.SolveVec(sf.design, b); err != nil {
		return nil, false
	}
	return &coef, true
}

// step returns the offset from p to the stationary point of the fit around p, when that point
// is a saddle.
func (sf *saddleFitter) step(img *image.Gray, p r2.Point) (r2.Point, bool) {
	coef, ok := sf.fit(img, p)
	if !ok {
		return r2.Point{}, false
	}
	a, b, c, d, e := coef.AtVec(0), coef.AtVec(1), coef.AtVec(2), coef.AtVec(3), coef.AtVec(4)
	// the Hessian of the fit is [2a b; b 2c], a saddle has a negative determinant
	det := 4*a*c - b*b
	if !(det < -minSaddleDeterminant) {
		return r2.Point{}, false
	}
	return r2.Point{
		X: (b*e - 2*c*d) / det,
		Y: (b*d - 2*a*e) / det,
	}, true
}

func bilinearGray(img *image.Gray, x, y float64) float64 {
	x0, y0 := math.Floor(x), math.Floor(y)
	fx, fy := x-x0, y-y0
	ix, iy := int(x0), int(y0)
	at := func(x, y int) float64 {
		return float64(img.GrayAt(x, y).Y)
	}
	top := at(ix, iy)*(1-fx) + at(ix+1, iy)*fx
	bottom := at(ix, iy+1)*(1-fx) + at(ix+1, iy+1)*fx
	return top*(1-fy) + bottom*fy
}
