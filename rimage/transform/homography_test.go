package transform

import (
	"testing"

	"github.com/golang/geo/r2"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func TestEstimateHomography(t *testing.T) {
	truth := mat.NewDense(3, 3, []float64{
		1.2, 0.1, 30,
		0.05, 0.9, -10,
		1e-4, 2e-4, 1,
	})
	var src, dst []r2.Point
	for r := 0; r < 4; r++ {
		for c := 0; c < 5; c++ {
			p := r2.Point{X: float64(c) * 25, Y: float64(r) * 25}
			src = append(src, p)
			dst = append(dst, ApplyHomography(truth, p))
		}
	}

	h, err := EstimateHomography(src, dst)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, mat.EqualApprox(h, truth, 1e-6), test.ShouldBeTrue)

	for i, p := range src {
		q := ApplyHomography(h, p)
		test.That(t, q.Sub(dst[i]).Norm(), test.ShouldBeLessThan, 1e-6)
	}

	_, err = EstimateHomography(src[:3], dst[:3])
	test.That(t, err, test.ShouldNotBeNil)
	_, err = EstimateHomography(src, dst[:5])
	test.That(t, err, test.ShouldNotBeNil)
}
