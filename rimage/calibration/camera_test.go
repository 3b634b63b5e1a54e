package calibration

import (
	"image"
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/stereocal/rimage/transform"
)

func TestCalibrateCamera(t *testing.T) {
	rig := newTestRig(t)
	object := rig.target.ObjectPoints(rigViews)
	size := image.Pt(rigWidth, rigHeight)

	for _, c := range Channels {
		c := c
		t.Run(c.String(), func(t *testing.T) {
			obs := rig.observations(c)
			calib, err := CalibrateCamera(object, obs.Corners, size, DefaultSolverConfig())
			test.That(t, err, test.ShouldBeNil)

			truth := rig.cameras[c]
			test.That(t, calib.RMS, test.ShouldBeLessThan, 1e-3)
			test.That(t, calib.Intrinsics.Fx, test.ShouldAlmostEqual, truth.Fx, 0.5)
			test.That(t, calib.Intrinsics.Fy, test.ShouldAlmostEqual, truth.Fy, 0.5)
			test.That(t, calib.Intrinsics.Ppx, test.ShouldAlmostEqual, truth.Ppx, 0.5)
			test.That(t, calib.Intrinsics.Ppy, test.ShouldAlmostEqual, truth.Ppy, 0.5)
			test.That(t, calib.Intrinsics.Width, test.ShouldEqual, rigWidth)
			test.That(t, calib.Distortion.RadialK1, test.ShouldAlmostEqual, truth.Distortion.RadialK1, 1e-2)
			test.That(t, calib.Poses, test.ShouldHaveLength, rigViews)

			// the view poses are the target seen from this camera
			want := rig.views[4].Then(rig.extrinsics[c])
			test.That(t, calib.Poses[4].Translation.Sub(want.Translation).Norm(), test.ShouldBeLessThan, 0.5)

			residuals, err := calib.Residuals(object, obs.Corners)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, residuals, test.ShouldHaveLength, rigViews*rig.target.Len())
			for _, r := range residuals {
				test.That(t, r.Norm(), test.ShouldBeLessThan, 1e-2)
			}
		})
	}
}

func TestCalibrateCameraErrors(t *testing.T) {
	rig := newTestRig(t)
	size := image.Pt(rigWidth, rigHeight)
	obs := rig.observations(IRLeft)

	t.Run("too few views", func(t *testing.T) {
		_, err := CalibrateCamera(rig.target.ObjectPoints(MinViews-1), obs.Corners[:MinViews-1], size, DefaultSolverConfig())
		test.That(t, errors.Is(err, ErrSolverFailed), test.ShouldBeTrue)
	})

	t.Run("view count mismatch", func(t *testing.T) {
		_, err := CalibrateCamera(rig.target.ObjectPoints(rigViews), obs.Corners[:5], size, DefaultSolverConfig())
		test.That(t, errors.Is(err, ErrSolverFailed), test.ShouldBeTrue)
	})

	t.Run("point count mismatch", func(t *testing.T) {
		corners := append([][]r2.Point(nil), obs.Corners...)
		corners[2] = corners[2][:10]
		_, err := CalibrateCamera(rig.target.ObjectPoints(rigViews), corners, size, DefaultSolverConfig())
		test.That(t, errors.Is(err, ErrSolverFailed), test.ShouldBeTrue)
	})

	t.Run("non planar target", func(t *testing.T) {
		object := rig.target.ObjectPoints(rigViews)
		object[0][3].Z = 1
		_, err := CalibrateCamera(object, obs.Corners, size, DefaultSolverConfig())
		test.That(t, errors.Is(err, ErrSolverFailed), test.ShouldBeTrue)
	})

	t.Run("bad size", func(t *testing.T) {
		_, err := CalibrateCamera(rig.target.ObjectPoints(rigViews), obs.Corners, image.Point{}, DefaultSolverConfig())
		test.That(t, errors.Is(err, ErrSolverFailed), test.ShouldBeTrue)
	})
}

func TestPoseFromHomography(t *testing.T) {
	intr := &transform.PinholeCameraIntrinsics{Width: 640, Height: 480, Fx: 500, Fy: 500, Ppx: 320, Ppy: 240}
	pose := transform.NewCamPoseFromRodrigues(r3.Vector{X: 0.2, Y: -0.1, Z: 0.3}, r3.Vector{X: 10, Y: -20, Z: 600})

	var src, dst []r2.Point
	for y := 0.; y < 5; y++ {
		for x := 0.; x < 6; x++ {
			p := pose.Transform(r3.Vector{X: 30 * x, Y: 30 * y})
			u, v := intr.PointToPixel(p.X, p.Y, p.Z)
			src = append(src, r2.Point{X: 30 * x, Y: 30 * y})
			dst = append(dst, r2.Point{X: u, Y: v})
		}
	}
	h, err := transform.EstimateHomography(src, dst)
	test.That(t, err, test.ShouldBeNil)
	// homographies are defined up to scale, sign included
	h.Scale(-3, h)

	got, err := poseFromHomography(intr.GetCameraMatrix(), h)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Translation.Sub(pose.Translation).Norm(), test.ShouldBeLessThan, 1e-6)
	test.That(t, got.Rvec().Sub(pose.Rvec()).Norm(), test.ShouldBeLessThan, 1e-6)
}

func TestRigidComposition(t *testing.T) {
	a := transform.NewCamPoseFromRodrigues(r3.Vector{X: 0.1, Y: 0.2, Z: -0.3}, r3.Vector{X: 1, Y: 2, Z: 3})
	b := transform.NewCamPoseFromRodrigues(r3.Vector{X: -0.4, Y: 0.05, Z: 0.2}, r3.Vector{X: -5, Y: 0, Z: 7})
	ra, rb := newRigid(a.Rotation, a.Translation), newRigid(b.Rotation, b.Translation)

	p := r3.Vector{X: 3, Y: -1, Z: 2}
	want := a.Then(b).Transform(p)
	got := ra.then(rb).apply(p)
	test.That(t, got.Sub(want).Norm(), test.ShouldBeLessThan, 1e-12)

	params := appendPose(nil, a)
	test.That(t, newPoseParams(params).rigid().apply(p).Sub(a.Transform(p)).Norm(), test.ShouldBeLessThan, 1e-12)
	test.That(t, math.Abs(newPoseParams(params).tvec().Z-3), test.ShouldBeLessThan, 1e-15)
}
