package calibration

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocal/rimage/transform"
)

// MinViews is the number of views needed to calibrate a camera.
const MinViews = 3

const (
	// fx fy cx cy k1 k2 p1 p2 k3
	numIntrinsics = 9
	// rvec, tvec
	numPoseParams = 6
)

// CameraCalibration holds the intrinsics of a camera and the pose of the target in every view.
type CameraCalibration struct {
	Intrinsics *transform.PinholeCameraIntrinsics
	Distortion *transform.BrownConrady
	// Poses map target points into the camera frame, one per view.
	Poses []*transform.CamPose
	// RMS is the root mean square reprojection error in pixels.
	RMS float64
}

// Model returns the camera as a pinhole model with distortion.
func (cc *CameraCalibration) Model() *transform.PinholeCameraModel {
	return &transform.PinholeCameraModel{PinholeCameraIntrinsics: cc.Intrinsics, Distortion: cc.Distortion}
}

// CameraMatrix returns the 3x3 intrinsic matrix.
func (cc *CameraCalibration) CameraMatrix() *mat.Dense {
	return cc.Intrinsics.GetCameraMatrix()
}

// Residuals returns the per point reprojection errors of the calibration, view by view.
func (cc *CameraCalibration) Residuals(object [][]r3.Vector, corners [][]r2.Point) ([]r2.Point, error) {
	if len(object) != len(cc.Poses) || len(corners) != len(cc.Poses) {
		return nil, errors.Errorf("calibration has %d views, got %d object and %d image views",
			len(cc.Poses), len(object), len(corners))
	}
	model := cc.Model()
	var out []r2.Point
	for v, pose := range cc.Poses {
		for i, p := range object[v] {
			out = append(out, model.Project(pose.Transform(p)).Sub(corners[v][i]))
		}
	}
	return out, nil
}

// CalibrateCamera estimates the intrinsics, the distortion and the per view target poses of a
// camera from planar target observations. The principal point starts at the image center,
// the focal lengths come from the orthogonality of the target axes in every homography, the
// poses from decomposing the homographies and everything is then refined jointly.
func CalibrateCamera(object [][]r3.Vector, corners [][]r2.Point, size image.Point, cfg SolverConfig) (*CameraCalibration, error) {
	if err := checkViews(object, corners); err != nil {
		return nil, err
	}
	if size.X <= 0 || size.Y <= 0 {
		return nil, errors.Wrapf(ErrSolverFailed, "invalid image size %v", size)
	}

	homographies := make([]*mat.Dense, len(object))
	for v := range object {
		h, err := transform.EstimateHomography(planar(object[v]), corners[v])
		if err != nil {
			return nil, errors.Wrapf(ErrSolverFailed, "degenerate view %d: %v", v, err)
		}
		homographies[v] = h
	}
	cx, cy := float64(size.X-1)/2, float64(size.Y-1)/2
	fx, fy, err := initFocalLengths(homographies, cx, cy)
	if err != nil {
		return nil, err
	}
	k := mat.NewDense(3, 3, []float64{fx, 0, cx, 0, fy, cy, 0, 0, 1})

	x0 := make([]float64, numIntrinsics, numIntrinsics+numPoseParams*len(object))
	copy(x0, []float64{fx, fy, cx, cy})
	for v, h := range homographies {
		pose, err := poseFromHomography(k, h)
		if err != nil {
			return nil, errors.Wrapf(ErrSolverFailed, "view %d: %v", v, err)
		}
		x0 = appendPose(x0, pose)
	}

	numPoints := countPoints(object)
	prob := leastSquares{
		numResiduals: 2 * numPoints,
		residuals: func(dst, x []float64) {
			intr := x[:numIntrinsics]
			off := 0
			for v := range object {
				off = projectView(dst[off:], intr, newPoseParams(x[numIntrinsics+numPoseParams*v:]), object[v], corners[v], off)
			}
		},
	}
	res, err := levenbergMarquardt(prob, x0, cfg)
	if err != nil {
		return nil, err
	}

	calib, err := cameraFromParams(res.x[:numIntrinsics], size)
	if err != nil {
		return nil, err
	}
	for v := range object {
		calib.Poses = append(calib.Poses, newPoseParams(res.x[numIntrinsics+numPoseParams*v:]).camPose())
	}
	calib.RMS = math.Sqrt(res.cost / float64(numPoints))
	return calib, nil
}

func checkViews(object [][]r3.Vector, corners [][]r2.Point) error {
	if len(object) != len(corners) {
		return errors.Wrapf(ErrSolverFailed, "got %d object views and %d image views", len(object), len(corners))
	}
	if len(object) < MinViews {
		return errors.Wrapf(ErrSolverFailed, "need at least %d views, got %d", MinViews, len(object))
	}
	for v := range object {
		if len(object[v]) != len(corners[v]) {
			return errors.Wrapf(ErrSolverFailed, "view %d has %d object points and %d image points",
				v, len(object[v]), len(corners[v]))
		}
		if len(object[v]) < 4 {
			return errors.Wrapf(ErrSolverFailed, "view %d has only %d points", v, len(object[v]))
		}
		for _, p := range object[v] {
			if p.Z != 0 {
				return errors.Wrapf(ErrSolverFailed, "view %d: the target must lie in the z = 0 plane", v)
			}
		}
	}
	return nil
}

func countPoints(object [][]r3.Vector) int {
	n := 0
	for _, view := range object {
		n += len(view)
	}
	return n
}

// initFocalLengths solves for (1/fx², 1/fy²) with the principal point removed from every
// homography: the imaged target axes, and their diagonals, are orthogonal.
func initFocalLengths(homographies []*mat.Dense, cx, cy float64) (float64, float64, error) {
	a := mat.NewDense(2*len(homographies), 2, nil)
	b := mat.NewVecDense(2*len(homographies), nil)
	for i, hom := range homographies {
		h := mat.DenseCopyOf(hom)
		for c := 0; c < 3; c++ {
			h.Set(0, c, h.At(0, c)-cx*h.At(2, c))
			h.Set(1, c, h.At(1, c)-cy*h.At(2, c))
		}
		var u, v, d1, d2 [3]float64
		for j := 0; j < 3; j++ {
			u[j], v[j] = h.At(j, 0), h.At(j, 1)
			d1[j], d2[j] = (u[j]+v[j])/2, (u[j]-v[j])/2
		}
		for _, vec := range []*[3]float64{&u, &v, &d1, &d2} {
			n := math.Sqrt(vec[0]*vec[0] + vec[1]*vec[1] + vec[2]*vec[2])
			if n == 0 {
				return 0, 0, errors.Wrapf(ErrSolverFailed, "degenerate homography in view %d", i)
			}
			for j := range vec {
				vec[j] /= n
			}
		}
		a.SetRow(2*i, []float64{u[0] * v[0], u[1] * v[1]})
		a.SetRow(2*i+1, []float64{d1[0] * d2[0], d1[1] * d2[1]})
		b.SetVec(2*i, -u[2]*v[2])
		b.SetVec(2*i+1, -d1[2]*d2[2])
	}

	var f mat.VecDense
	if err := f.SolveVec(a, b); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return 0, 0, errors.Wrapf(ErrSolverFailed, "cannot initialize focal lengths: %v", err)
		}
	}
	fx := math.Sqrt(math.Abs(1 / f.AtVec(0)))
	fy := math.Sqrt(math.Abs(1 / f.AtVec(1)))
	if !isFinite(fx) || !isFinite(fy) || fx == 0 || fy == 0 {
		return 0, 0, errors.Wrap(ErrSolverFailed, "cannot initialize focal lengths, are the views all parallel to the image plane?")
	}
	return fx, fy, nil
}

// poseFromHomography decomposes H ~ K [r1 r2 t] for a target lying in z = 0.
func poseFromHomography(k, h mat.Matrix) (*transform.CamPose, error) {
	var kInv, m mat.Dense
	if err := kInv.Inverse(k); err != nil {
		return nil, err
	}
	m.Mul(&kInv, h)
	col := func(j int) r3.Vector {
		return r3.Vector{X: m.At(0, j), Y: m.At(1, j), Z: m.At(2, j)}
	}
	c1, c2, t := col(0), col(1), col(2)
	norm := (c1.Norm() + c2.Norm()) / 2
	if norm == 0 {
		return nil, errors.New("homography has a null rotation part")
	}
	lambda := 1 / norm
	if t.Z < 0 {
		lambda = -lambda
	}
	c1, c2, t = c1.Mul(lambda), c2.Mul(lambda), t.Mul(lambda)
	c3 := c1.Cross(c2)
	rot := mat.NewDense(3, 3, []float64{
		c1.X, c2.X, c3.X,
		c1.Y, c2.Y, c3.Y,
		c1.Z, c2.Z, c3.Z,
	})
	return &transform.CamPose{Rotation: transform.OrthonormalizeRotation(rot), Translation: t}, nil
}

// poseParams is a view of 6 solver parameters: a rotation vector and a translation.
type poseParams []float64

func newPoseParams(x []float64) poseParams {
	return poseParams(x[:numPoseParams])
}

func (p poseParams) rvec() r3.Vector {
	return r3.Vector{X: p[0], Y: p[1], Z: p[2]}
}

func (p poseParams) tvec() r3.Vector {
	return r3.Vector{X: p[3], Y: p[4], Z: p[5]}
}

func (p poseParams) camPose() *transform.CamPose {
	return transform.NewCamPoseFromRodrigues(p.rvec(), p.tvec())
}

func appendPose(x []float64, pose *transform.CamPose) []float64 {
	rvec := pose.Rvec()
	t := pose.Translation
	return append(x, rvec.X, rvec.Y, rvec.Z, t.X, t.Y, t.Z)
}

// rigid is a rotation and translation flattened for the projection loops.
type rigid struct {
	r [9]float64
	t r3.Vector
}

func newRigid(rot mat.Matrix, t r3.Vector) rigid {
	var out rigid
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.r[3*i+j] = rot.At(i, j)
		}
	}
	out.t = t
	return out
}

func (rg rigid) apply(p r3.Vector) r3.Vector {
	return r3.Vector{
		X: rg.r[0]*p.X + rg.r[1]*p.Y + rg.r[2]*p.Z + rg.t.X,
		Y: rg.r[3]*p.X + rg.r[4]*p.Y + rg.r[5]*p.Z + rg.t.Y,
		Z: rg.r[6]*p.X + rg.r[7]*p.Y + rg.r[8]*p.Z + rg.t.Z,
	}
}

// then returns the transform applying rg and next afterwards.
func (rg rigid) then(next rigid) rigid {
	var out rigid
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.r[3*i+j] = next.r[3*i]*rg.r[j] + next.r[3*i+1]*rg.r[3+j] + next.r[3*i+2]*rg.r[6+j]
		}
	}
	out.t = next.apply(rg.t)
	return out
}

func (p poseParams) rigid() rigid {
	return newRigid(transform.Rodrigues(p.rvec()), p.tvec())
}

// projectPoint maps a camera frame point to a distorted pixel with the 9 intrinsic parameters.
func projectPoint(intr []float64, p r3.Vector) r2.Point {
	dist := transform.BrownConrady{
		RadialK1: intr[4], RadialK2: intr[5], TangentialP1: intr[6], TangentialP2: intr[7], RadialK3: intr[8],
	}
	xd, yd := dist.Transform(p.X/p.Z, p.Y/p.Z)
	return r2.Point{X: intr[0]*xd + intr[2], Y: intr[1]*yd + intr[3]}
}

// projectView writes the residuals of one view into dst and returns offset advanced past them.
func projectView(dst, intr []float64, pose poseParams, object []r3.Vector, corners []r2.Point, offset int) int {
	return projectRigid(dst, intr, pose.rigid(), object, corners, offset)
}

func projectRigid(dst, intr []float64, rg rigid, object []r3.Vector, corners []r2.Point, offset int) int {
	for i, p := range object {
		px := projectPoint(intr, rg.apply(p))
		dst[2*i] = px.X - corners[i].X
		dst[2*i+1] = px.Y - corners[i].Y
	}
	return offset + 2*len(object)
}

// cameraFromParams validates solver output and wraps it as a calibration.
func cameraFromParams(intr []float64, size image.Point) (*CameraCalibration, error) {
	for _, v := range intr {
		if !isFinite(v) {
			return nil, errors.Wrap(ErrSolverFailed, "solver produced non finite intrinsics")
		}
	}
	intrinsics := &transform.PinholeCameraIntrinsics{
		Width: size.X, Height: size.Y, Fx: intr[0], Fy: intr[1], Ppx: intr[2], Ppy: intr[3],
	}
	if err := intrinsics.CheckValid(); err != nil {
		return nil, errors.Wrapf(ErrSolverFailed, "solver produced invalid intrinsics: %v", err)
	}
	dist, err := transform.NewBrownConrady(intr[4:numIntrinsics])
	if err != nil {
		return nil, errors.Wrapf(ErrSolverFailed, "solver produced invalid distortion: %v", err)
	}
	return &CameraCalibration{Intrinsics: intrinsics, Distortion: dist}, nil
}

// intrinsicParams flattens a calibration to the 9 intrinsic solver parameters.
func intrinsicParams(cc *CameraCalibration) []float64 {
	intr := cc.Intrinsics
	return append([]float64{intr.Fx, intr.Fy, intr.Ppx, intr.Ppy}, cc.Distortion.Parameters()...)
}
