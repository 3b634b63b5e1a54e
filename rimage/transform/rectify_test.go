package transform

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func testRig() (*PinholeCameraModel, *PinholeCameraModel, *mat.Dense, r3.Vector) {
	left := &PinholeCameraModel{
		PinholeCameraIntrinsics: &PinholeCameraIntrinsics{Width: 640, Height: 480, Fx: 500, Fy: 502, Ppx: 321, Ppy: 238},
		Distortion:              &BrownConrady{RadialK1: -0.05, RadialK2: 0.01},
	}
	right := &PinholeCameraModel{
		PinholeCameraIntrinsics: &PinholeCameraIntrinsics{Width: 640, Height: 480, Fx: 498, Fy: 499, Ppx: 318, Ppy: 242},
		Distortion:              &BrownConrady{RadialK1: -0.04, TangentialP1: 1e-4},
	}
	rot := Rodrigues(r3.Vector{X: 0.01, Y: -0.02, Z: 0.005})
	return left, right, rot, r3.Vector{X: -50, Y: 0.5, Z: 1}
}

// projectRectified maps a point of the rectified frame with a 3x4 projection.
func projectRectified(p *mat.Dense, x r3.Vector) r2.Point {
	u := p.At(0, 0)*x.X + p.At(0, 1)*x.Y + p.At(0, 2)*x.Z + p.At(0, 3)
	v := p.At(1, 0)*x.X + p.At(1, 1)*x.Y + p.At(1, 2)*x.Z + p.At(1, 3)
	w := p.At(2, 0)*x.X + p.At(2, 1)*x.Y + p.At(2, 2)*x.Z + p.At(2, 3)
	return r2.Point{X: u / w, Y: v / w}
}

func TestStereoRectify(t *testing.T) {
	left, right, rot, trans := testRig()
	rect, err := StereoRectify(left, right, rot, trans)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rect.Horizontal, test.ShouldBeTrue)
	assertRotation(t, rect.R1)
	assertRotation(t, rect.R2)

	f := rect.P1.At(0, 0)
	test.That(t, f, test.ShouldAlmostEqual, (502.+499.)/2, 1e-9)
	test.That(t, rect.P2.At(0, 0), test.ShouldEqual, f)
	test.That(t, rect.P1.At(0, 2), test.ShouldEqual, rect.P2.At(0, 2))
	test.That(t, rect.Bf(), test.ShouldAlmostEqual, f*trans.Norm(), 1e-6)

	for _, x1 := range []r3.Vector{
		{X: 100, Y: -50, Z: 1000},
		{X: -300, Y: 120, Z: 2500},
		{X: 10, Y: 200, Z: 600},
	} {
		x2 := MulMatVec(rot, x1).Add(trans)
		r1 := MulMatVec(rect.R1, x1)
		p1 := projectRectified(rect.P1, r1)
		p2 := projectRectified(rect.P1, MulMatVec(rect.R2, x2))
		viaP2 := projectRectified(rect.P2, r1)
		test.That(t, viaP2.X, test.ShouldAlmostEqual, p2.X, 1e-6)
		test.That(t, viaP2.Y, test.ShouldAlmostEqual, p2.Y, 1e-6)

		// rows line up and disparity reprojects to the right depth
		test.That(t, p1.Y, test.ShouldAlmostEqual, p2.Y, 1e-6)
		d := p1.X - p2.X
		test.That(t, d, test.ShouldBeGreaterThan, 0)
		test.That(t, rect.Bf()/d, test.ShouldAlmostEqual, r1.Z, 1e-6)

		q := rect.Q
		in := []float64{p1.X, p1.Y, d, 1}
		out := make([]float64, 4)
		for i := range out {
			for j := range in {
				out[i] += q.At(i, j) * in[j]
			}
		}
		test.That(t, out[0]/out[3], test.ShouldAlmostEqual, r1.X, 1e-6)
		test.That(t, out[1]/out[3], test.ShouldAlmostEqual, r1.Y, 1e-6)
		test.That(t, out[2]/out[3], test.ShouldAlmostEqual, r1.Z, 1e-6)
	}

	_, err = StereoRectify(left, right, rot, r3.Vector{})
	test.That(t, err, test.ShouldNotBeNil)

	intr, err := rect.RectifiedIntrinsics(640, 480)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, intr.Fx, test.ShouldEqual, f)
}

func TestInitUndistortRectifyMap(t *testing.T) {
	t.Run("identity", func(t *testing.T) {
		cam := &PinholeCameraModel{
			PinholeCameraIntrinsics: &PinholeCameraIntrinsics{Width: 32, Height: 24, Fx: 30, Fy: 30, Ppx: 16, Ppy: 12},
		}
		table, err := InitUndistortRectifyMap(cam, eye(3), cam.GetCameraMatrix())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, table.Width(), test.ShouldEqual, 32)
		test.That(t, table.Height(), test.ShouldEqual, 24)
		for _, p := range [][2]int{{0, 0}, {31, 23}, {7, 19}} {
			x, y := table.At(p[0], p[1])
			test.That(t, float64(x), test.ShouldAlmostEqual, float64(p[0]), 1e-4)
			test.That(t, float64(y), test.ShouldAlmostEqual, float64(p[1]), 1e-4)
		}
	})

	t.Run("rectified rig", func(t *testing.T) {
		left, right, rot, trans := testRig()
		rect, err := StereoRectify(left, right, rot, trans)
		test.That(t, err, test.ShouldBeNil)

		table, err := InitUndistortRectifyMap(left, rect.R1, rect.P1)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, table.Width(), test.ShouldEqual, left.Width)
		test.That(t, table.Height(), test.ShouldEqual, left.Height)

		// a rectified pixel samples the source pixel whose ray lands back on it
		for _, p := range [][2]int{{300, 200}, {20, 30}, {600, 450}} {
			sx, sy := table.At(p[0], p[1])
			und := left.Undistort(r2.Point{X: float64(sx), Y: float64(sy)})
			back := projectRectified(rect.P1, MulMatVec(rect.R1, r3.Vector{X: und.X, Y: und.Y, Z: 1}))
			test.That(t, back.X, test.ShouldAlmostEqual, float64(p[0]), 1e-2)
			test.That(t, back.Y, test.ShouldAlmostEqual, float64(p[1]), 1e-2)
		}
	})
}

func TestMeanEpipolarError(t *testing.T) {
	left, right, rot, trans := testRig()
	f, err := FundamentalFromEssential(left.GetCameraMatrix(), right.GetCameraMatrix(), EssentialMatrixFromPose(rot, trans))
	test.That(t, err, test.ShouldBeNil)

	var pts1, pts2 []r2.Point
	for _, x1 := range []r3.Vector{{X: 100, Y: -50, Z: 1000}, {X: -300, Y: 120, Z: 2500}, {X: 10, Y: 200, Z: 600}} {
		x2 := MulMatVec(rot, x1).Add(trans)
		u1, v1 := left.PointToPixel(x1.X, x1.Y, x1.Z)
		u2, v2 := right.PointToPixel(x2.X, x2.Y, x2.Z)
		pts1 = append(pts1, r2.Point{X: u1, Y: v1})
		pts2 = append(pts2, r2.Point{X: u2, Y: v2})
	}
	e, err := MeanEpipolarError(f, pts1, pts2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, e, test.ShouldBeLessThan, 1e-6)

	pts2[0] = pts2[0].Add(r2.Point{Y: 3})
	e, err = MeanEpipolarError(f, pts1, pts2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, e, test.ShouldBeGreaterThan, 0.1)
	test.That(t, math.IsNaN(e), test.ShouldBeFalse)

	_, err = MeanEpipolarError(f, pts1, pts2[:1])
	test.That(t, err, test.ShouldNotBeNil)
}
