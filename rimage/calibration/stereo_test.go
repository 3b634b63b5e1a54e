package calibration

import (
	"image"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocal/rimage/transform"
)

func calibrateRigCameras(t *testing.T, rig *testRig) map[Channel]*CameraCalibration {
	t.Helper()
	object := rig.target.ObjectPoints(rigViews)
	out := map[Channel]*CameraCalibration{}
	for _, c := range Channels {
		calib, err := CalibrateCamera(object, rig.observations(c).Corners, image.Pt(rigWidth, rigHeight), DefaultSolverConfig())
		test.That(t, err, test.ShouldBeNil)
		out[c] = calib
	}
	return out
}

func assertPoseNear(t *testing.T, got *transform.CamPose, want *transform.CamPose, rotTol, transTol float64) {
	t.Helper()
	test.That(t, got.Rvec().Sub(want.Rvec()).Norm(), test.ShouldBeLessThan, rotTol)
	test.That(t, got.Translation.Sub(want.Translation).Norm(), test.ShouldBeLessThan, transTol)
}

func TestCalibrateStereo(t *testing.T) {
	rig := newTestRig(t)
	cams := calibrateRigCameras(t, rig)
	object := rig.target.ObjectPoints(rigViews)
	size := image.Pt(rigWidth, rigHeight)

	for _, tc := range []struct {
		name          string
		second        Channel
		fixIntrinsics bool
	}{
		{"ir", IRRight, false},
		{"color", Color, false},
		{"ir fixed intrinsics", IRRight, true},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			sc, err := CalibrateStereo(object, rig.observations(IRLeft), rig.observations(tc.second),
				cams[IRLeft], cams[tc.second], size,
				StereoOptions{FixIntrinsics: tc.fixIntrinsics, Solver: DefaultSolverConfig()})
			test.That(t, err, test.ShouldBeNil)
			test.That(t, sc.RMS, test.ShouldBeLessThan, 1e-3)
			test.That(t, sc.EpipolarError, test.ShouldBeLessThan, 1e-2)
			assertPoseNear(t, sc.Pose(), rig.extrinsics[tc.second], 1e-3, 0.5)

			test.That(t, sc.First.Poses, test.ShouldHaveLength, rigViews)
			test.That(t, sc.Second.Poses, test.ShouldHaveLength, rigViews)
			test.That(t, sc.Second.Intrinsics.Fx, test.ShouldAlmostEqual, rig.cameras[tc.second].Fx, 0.5)
			if tc.fixIntrinsics {
				test.That(t, sc.First.Intrinsics.Fx, test.ShouldEqual, cams[IRLeft].Intrinsics.Fx)
				test.That(t, sc.Second.Intrinsics.Fy, test.ShouldEqual, cams[tc.second].Intrinsics.Fy)
			}
			test.That(t, sc.First.RMS, test.ShouldBeLessThan, 1e-3)
			test.That(t, sc.Second.RMS, test.ShouldBeLessThan, 1e-3)

			// the second camera poses are the first camera poses moved by the relative pose
			chained := sc.First.Poses[3].Then(sc.Pose())
			assertPoseNear(t, sc.Second.Poses[3], chained, 1e-9, 1e-9)
		})
	}
}

func TestCalibrateStereoFrameMismatch(t *testing.T) {
	rig := newTestRig(t)
	cams := calibrateRigCameras(t, rig)
	object := rig.target.ObjectPoints(rigViews)
	first, second := rig.observations(IRLeft), rig.observations(IRRight)
	second.Frames[2] = "nope"

	_, err := CalibrateStereo(object, first, second, cams[IRLeft], cams[IRRight],
		image.Pt(rigWidth, rigHeight), StereoOptions{Solver: DefaultSolverConfig()})
	test.That(t, errors.Is(err, ErrInvalidDataset), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "nope")

	second = rig.observations(IRRight)
	second.Frames = second.Frames[:4]
	second.Corners = second.Corners[:4]
	_, err = CalibrateStereo(object, first, second, cams[IRLeft], cams[IRRight],
		image.Pt(rigWidth, rigHeight), StereoOptions{Solver: DefaultSolverConfig()})
	test.That(t, errors.Is(err, ErrInvalidDataset), test.ShouldBeTrue)
}

func TestInitRelativePose(t *testing.T) {
	rig := newTestRig(t)
	var first, second []*transform.CamPose
	for _, view := range rig.views {
		first = append(first, view)
		second = append(second, view.Then(rig.extrinsics[Color]))
	}
	rel, err := initRelativePose(first, second)
	test.That(t, err, test.ShouldBeNil)
	assertPoseNear(t, rel, rig.extrinsics[Color], 1e-9, 1e-9)
	test.That(t, mat.EqualApprox(rel.Rotation, rig.extrinsics[Color].Rotation, 1e-9), test.ShouldBeTrue)

	_, err = initRelativePose(nil, nil)
	test.That(t, errors.Is(err, ErrSolverFailed), test.ShouldBeTrue)
}
