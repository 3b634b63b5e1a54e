package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// EssentialMatrixFromPose returns E = [T]x R for a camera pair where a point X in the first
// camera maps to R*X + T in the second.
func EssentialMatrixFromPose(rot mat.Matrix, trans r3.Vector) *mat.Dense {
	var essMat mat.Dense
	essMat.Mul(crossProductMatrix(trans), rot)
	return &essMat
}

// FundamentalFromEssential returns F = K2^-T E K1^-1.
func FundamentalFromEssential(k1, k2, essMat mat.Matrix) (*mat.Dense, error) {
	var k1Inv, k2Inv mat.Dense
	if err := k1Inv.Inverse(k1); err != nil {
		return nil, errors.Wrap(err, "first camera matrix is not invertible")
	}
	if err := k2Inv.Inverse(k2); err != nil {
		return nil, errors.Wrap(err, "second camera matrix is not invertible")
	}
	var f mat.Dense
	f.Mul(k2Inv.T(), essMat)
	f.Mul(&f, &k1Inv)
	return &f, nil
}

// Convert2DPointsToHomogeneousPoints converts float64 image coordinates to homogeneous float64 coordinates.
func Convert2DPointsToHomogeneousPoints(pts []r2.Point) []r3.Vector {
	ptsHomogeneous := make([]r3.Vector, len(pts))
	for i, pt := range pts {
		ptsHomogeneous[i] = r3.Vector{X: pt.X, Y: pt.Y, Z: 1}
	}
	return ptsHomogeneous
}

// MeanEpipolarError is the average distance, in pixels, between each point and the epipolar
// line of its match, measured symmetrically in both images. The points must be undistorted.
func MeanEpipolarError(f mat.Matrix, pts1, pts2 []r2.Point) (float64, error) {
	if len(pts1) != len(pts2) {
		return 0, errors.New("sets of points pts1 and pts2 must have the same number of elements")
	}
	if len(pts1) == 0 {
		return 0, errors.New("no points to measure")
	}
	h1 := Convert2DPointsToHomogeneousPoints(pts1)
	h2 := Convert2DPointsToHomogeneousPoints(pts2)
	total := 0.
	for i := range h1 {
		// line in image 2: F x1, line in image 1: F^T x2
		l2 := mulVec(f, h1[i], false)
		l1 := mulVec(f, h2[i], true)
		total += math.Abs(l2.Dot(h2[i])) / math.Hypot(l2.X, l2.Y)
		total += math.Abs(l1.Dot(h1[i])) / math.Hypot(l1.X, l1.Y)
	}
	return total / float64(2*len(h1)), nil
}

func mulVec(m mat.Matrix, v r3.Vector, transpose bool) r3.Vector {
	at := m.At
	if transpose {
		at = m.T().At
	}
	return r3.Vector{
		X: at(0, 0)*v.X + at(0, 1)*v.Y + at(0, 2)*v.Z,
		Y: at(1, 0)*v.X + at(1, 1)*v.Y + at(1, 2)*v.Z,
		Z: at(2, 0)*v.X + at(2, 1)*v.Y + at(2, 2)*v.Z,
	}
}

func crossProductMatrix(p r3.Vector) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		0, -p.Z, p.Y,
		p.Z, 0, -p.X,
		-p.Y, p.X, 0,
	})
}

// helpers
// normalizePoints normalizes points as described in Multiple View Geometry, Alg 4.2.
func normalizePoints(pts []r2.Point) ([]r2.Point, *mat.Dense) {
	nPoints := len(pts)
	mu := r2.Point{X: 0, Y: 0}
	for _, pt := range pts {
		mu = mu.Add(pt)
	}
	mu = mu.Mul(1. / float64(nPoints))
	// mean distance to the centroid becomes sqrt(2)
	d := 0.0
	for _, pt := range pts {
		d += pt.Sub(mu).Norm() / float64(nPoints)
	}
	scale := 1.
	if d > 0 {
		scale = math.Sqrt(2) / d
	}
	T := mat.NewDense(3, 3, []float64{
		scale, 0, -scale * mu.X,
		0, scale, -scale * mu.Y,
		0, 0, 1,
	})
	pointsTransformed := make([]r2.Point, nPoints)
	for i := range pointsTransformed {
		pointsTransformed[i] = pts[i].Sub(mu).Mul(scale)
	}
	return pointsTransformed, T
}

// mat.Dense utils.
func transposeDense(m mat.Matrix) *mat.Dense {
	return mat.DenseCopyOf(m.T())
}

// eye create an identity matrix of size nxn.
func eye(n int) *mat.Dense {
	if n <= 0 {
		return nil
	}
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// matsSVD stores the matrices from SVD decomposition.
type matsSVD struct {
	U  *mat.Dense
	V  *mat.Dense
	VT *mat.Dense
	S  *mat.Dense
}

// performSVD performs SVD on inputMatrix and returns matrices U, Sigma and V from the decomposition.
func performSVD(inputMatrix mat.Matrix) *matsSVD {
	var svd mat.SVD
	if ok := svd.Factorize(inputMatrix, mat.SVDFull); !ok {
		return nil
	}

	u, v, sigma, vt := &mat.Dense{}, &mat.Dense{}, &mat.Dense{}, &mat.Dense{}
	svd.UTo(u)
	svd.VTo(v)
	vt.CloneFrom(v.T())
	singularValues := svd.Values(nil)
	sigma.CloneFrom(mat.NewDiagDense(len(singularValues), singularValues))

	return &matsSVD{u, v, vt, sigma}
}
