package calibration

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocal/rimage/transform"
)

// Observations are the corners a channel detected in a sequence of frames.
type Observations struct {
	Channel Channel
	Frames  []FrameIndex
	Corners [][]r2.Point
}

// StereoOptions tunes CalibrateStereo.
type StereoOptions struct {
	// FixIntrinsics keeps the intrinsics and distortion of both cameras at their single camera
	// values and only estimates the relative pose.
	FixIntrinsics bool
	Solver        SolverConfig
}

// StereoCalibration is the relative pose of a camera pair. Rotation and Translation map a
// point of the first camera frame into the second camera frame.
type StereoCalibration struct {
	First, Second *CameraCalibration
	Rotation      *mat.Dense
	Translation   r3.Vector
	// RMS is the root mean square reprojection error over both cameras, in pixels.
	RMS float64
	// EpipolarError is the mean distance of undistorted corners to their epipolar lines.
	EpipolarError float64
}

// Pose returns the relative pose as a rigid transform.
func (sc *StereoCalibration) Pose() *transform.CamPose {
	return &transform.CamPose{Rotation: sc.Rotation, Translation: sc.Translation}
}

// CalibrateStereo estimates the pose of the second camera relative to the first from frames
// both cameras observed. calibFirst and calibSecond are the single camera calibrations of the
// same frames; they provide the starting point and, with FixIntrinsics, the fixed intrinsics.
func CalibrateStereo(
	object [][]r3.Vector,
	first, second *Observations,
	calibFirst, calibSecond *CameraCalibration,
	size image.Point,
	opts StereoOptions,
) (*StereoCalibration, error) {
	if len(first.Frames) != len(second.Frames) {
		return nil, errors.Wrapf(ErrInvalidDataset, "%s observed %d frames but %s observed %d",
			first.Channel, len(first.Frames), second.Channel, len(second.Frames))
	}
	for i := range first.Frames {
		if first.Frames[i] != second.Frames[i] {
			return nil, errors.Wrapf(ErrInvalidDataset, "frame %d is %q for %s but %q for %s",
				i, first.Frames[i], first.Channel, second.Frames[i], second.Channel)
		}
	}
	if err := checkViews(object, first.Corners); err != nil {
		return nil, err
	}
	if err := checkViews(object, second.Corners); err != nil {
		return nil, err
	}
	numViews := len(object)
	if len(calibFirst.Poses) != numViews || len(calibSecond.Poses) != numViews {
		return nil, errors.Wrapf(ErrSolverFailed, "single camera calibrations do not cover the %d stereo views", numViews)
	}

	rel, err := initRelativePose(calibFirst.Poses, calibSecond.Poses)
	if err != nil {
		return nil, err
	}

	// layout: [intrinsics first, intrinsics second] relative pose, first camera view poses
	intrFirst, intrSecond := intrinsicParams(calibFirst), intrinsicParams(calibSecond)
	var x0 []float64
	if !opts.FixIntrinsics {
		x0 = append(x0, intrFirst...)
		x0 = append(x0, intrSecond...)
	}
	relOffset := len(x0)
	x0 = appendPose(x0, rel)
	viewOffset := len(x0)
	for _, pose := range calibFirst.Poses {
		x0 = appendPose(x0, pose)
	}

	unpack := func(x []float64) ([]float64, []float64) {
		if opts.FixIntrinsics {
			return intrFirst, intrSecond
		}
		return x[:numIntrinsics], x[numIntrinsics : 2*numIntrinsics]
	}

	numPoints := countPoints(object)
	prob := leastSquares{
		numResiduals: 4 * numPoints,
		residuals: func(dst, x []float64) {
			iFirst, iSecond := unpack(x)
			relRigid := newPoseParams(x[relOffset:]).rigid()
			off := 0
			for v := range object {
				view := newPoseParams(x[viewOffset+numPoseParams*v:]).rigid()
				off = projectRigid(dst[off:], iFirst, view, object[v], first.Corners[v], off)
				off = projectRigid(dst[off:], iSecond, view.then(relRigid), object[v], second.Corners[v], off)
			}
		},
	}
	res, err := levenbergMarquardt(prob, x0, opts.Solver)
	if err != nil {
		return nil, errors.Wrapf(err, "%s/%s", first.Channel, second.Channel)
	}

	iFirst, iSecond := unpack(res.x)
	outFirst, err := cameraFromParams(iFirst, size)
	if err != nil {
		return nil, err
	}
	outSecond, err := cameraFromParams(iSecond, size)
	if err != nil {
		return nil, err
	}
	relPose := newPoseParams(res.x[relOffset:]).camPose()
	for v := 0; v < numViews; v++ {
		view := newPoseParams(res.x[viewOffset+numPoseParams*v:]).camPose()
		outFirst.Poses = append(outFirst.Poses, view)
		outSecond.Poses = append(outSecond.Poses, view.Then(relPose))
	}
	outFirst.RMS = viewRMS(outFirst, object, first.Corners)
	outSecond.RMS = viewRMS(outSecond, object, second.Corners)

	sc := &StereoCalibration{
		First:       outFirst,
		Second:      outSecond,
		Rotation:    relPose.Rotation,
		Translation: relPose.Translation,
		RMS:         math.Sqrt(res.cost / float64(2*numPoints)),
	}
	sc.EpipolarError, err = epipolarError(sc, first.Corners, second.Corners)
	if err != nil {
		return nil, err
	}
	return sc, nil
}

// initRelativePose takes the component wise median of the relative poses of every view.
func initRelativePose(first, second []*transform.CamPose) (*transform.CamPose, error) {
	comps := make([]stats.Float64Data, numPoseParams)
	for v := range first {
		rel := second[v].RelativeTo(first[v])
		p := appendPose(nil, rel)
		for i := range comps {
			comps[i] = append(comps[i], p[i])
		}
	}
	med := make([]float64, numPoseParams)
	for i, data := range comps {
		m, err := stats.Median(data)
		if err != nil {
			return nil, errors.Wrapf(ErrSolverFailed, "cannot initialize the relative pose: %v", err)
		}
		med[i] = m
	}
	return poseParams(med).camPose(), nil
}

func viewRMS(cc *CameraCalibration, object [][]r3.Vector, corners [][]r2.Point) float64 {
	residuals, err := cc.Residuals(object, corners)
	if err != nil || len(residuals) == 0 {
		return math.NaN()
	}
	sum := 0.
	for _, r := range residuals {
		sum += r.Dot(r)
	}
	return math.Sqrt(sum / float64(len(residuals)))
}

// epipolarError measures the calibrated pair on its own corners, undistorted to pixels.
func epipolarError(sc *StereoCalibration, first, second [][]r2.Point) (float64, error) {
	f, err := transform.FundamentalFromEssential(
		sc.First.CameraMatrix(), sc.Second.CameraMatrix(),
		transform.EssentialMatrixFromPose(sc.Rotation, sc.Translation))
	if err != nil {
		return 0, errors.Wrap(ErrSolverFailed, err.Error())
	}
	undistort := func(cc *CameraCalibration, views [][]r2.Point) []r2.Point {
		model := cc.Model()
		var out []r2.Point
		for _, view := range views {
			for _, px := range view {
				n := model.Undistort(px)
				x, y := cc.Intrinsics.PointToPixel(n.X, n.Y, 1)
				out = append(out, r2.Point{X: x, Y: y})
			}
		}
		return out
	}
	return transform.MeanEpipolarError(f, undistort(sc.First, first), undistort(sc.Second, second))
}
