package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// EstimateHomography computes the 3x3 homography H mapping src to dst (dst ~ H * src) with the
// normalized direct linear transform. H is scaled so that H[2][2] == 1.
func EstimateHomography(src, dst []r2.Point) (*mat.Dense, error) {
	if len(src) != len(dst) {
		return nil, errors.New("sets of points src and dst must have the same number of elements")
	}
	if len(src) < 4 {
		return nil, errors.New("sets of points must have at least 4 elements")
	}
	srcNorm, T1 := normalizePoints(src)
	dstNorm, T2 := normalizePoints(dst)

	m := mat.NewDense(2*len(src), 9, nil)
	for i := range srcNorm {
		x, y := srcNorm[i].X, srcNorm[i].Y
		u, v := dstNorm[i].X, dstNorm[i].Y
		m.SetRow(2*i, []float64{-x, -y, -1, 0, 0, 0, u * x, u * y, u})
		m.SetRow(2*i+1, []float64{0, 0, 0, -x, -y, -1, v * x, v * y, v})
	}
	mats := performSVD(m)
	if mats == nil {
		return nil, errors.New("homography SVD did not converge")
	}
	lastColV := mats.V.ColView(8)
	hData := make([]float64, 9)
	for i := range hData {
		hData[i] = lastColV.AtVec(i)
	}
	hNorm := mat.NewDense(3, 3, hData)

	// H = T2^-1 * Hn * T1
	var t2Inv, h mat.Dense
	if err := t2Inv.Inverse(T2); err != nil {
		return nil, errors.Wrap(err, "degenerate destination points")
	}
	h.Mul(&t2Inv, hNorm)
	h.Mul(&h, T1)
	scale := h.At(2, 2)
	if math.Abs(scale) < 1e-12 {
		return nil, errors.New("degenerate homography")
	}
	h.Scale(1/scale, &h)
	return &h, nil
}

// ApplyHomography maps a point through a 3x3 homography.
func ApplyHomography(h mat.Matrix, pt r2.Point) r2.Point {
	w := h.At(2, 0)*pt.X + h.At(2, 1)*pt.Y + h.At(2, 2)
	return r2.Point{
		X: (h.At(0, 0)*pt.X + h.At(0, 1)*pt.Y + h.At(0, 2)) / w,
		Y: (h.At(1, 0)*pt.X + h.At(1, 1)*pt.Y + h.At(1, 2)) / w,
	}
}
