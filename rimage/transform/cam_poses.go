package transform

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// CamPose is a rigid transform from a source frame (a calibration target, another camera) into
// a camera frame: X_cam = Rotation * X_src + Translation.
type CamPose struct {
	Rotation    *mat.Dense
	Translation r3.Vector
}

// NewCamPoseFromMat creates a pointer to a Camera pose from a 3x4 [R|t] dense matrix.
func NewCamPoseFromMat(pose mat.Matrix) *CamPose {
	rot := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rot.Set(i, j, pose.At(i, j))
		}
	}
	return &CamPose{
		Rotation:    rot,
		Translation: r3.Vector{X: pose.At(0, 3), Y: pose.At(1, 3), Z: pose.At(2, 3)},
	}
}

// NewCamPoseFromRodrigues builds a pose from a rotation vector and a translation.
func NewCamPoseFromRodrigues(rvec, tvec r3.Vector) *CamPose {
	return &CamPose{Rotation: Rodrigues(rvec), Translation: tvec}
}

// Rvec returns the rotation as a rotation vector.
func (cp *CamPose) Rvec() r3.Vector {
	return RodriguesFromMatrix(cp.Rotation)
}

// Transform maps a point of the source frame into the camera frame.
func (cp *CamPose) Transform(p r3.Vector) r3.Vector {
	return MulMatVec(cp.Rotation, p).Add(cp.Translation)
}

// RelativeTo returns the pose mapping the camera frame of `from` into the camera frame of cp,
// when both observe the same source frame: R = R_cp * R_fromᵀ, T = t_cp - R * t_from.
func (cp *CamPose) RelativeTo(from *CamPose) *CamPose {
	var rot mat.Dense
	rot.Mul(cp.Rotation, from.Rotation.T())
	return &CamPose{
		Rotation:    &rot,
		Translation: cp.Translation.Sub(MulMatVec(&rot, from.Translation)),
	}
}

// Then returns the pose that applies cp first and next afterwards.
func (cp *CamPose) Then(next *CamPose) *CamPose {
	var rot mat.Dense
	rot.Mul(next.Rotation, cp.Rotation)
	return &CamPose{
		Rotation:    &rot,
		Translation: MulMatVec(next.Rotation, cp.Translation).Add(next.Translation),
	}
}

// MulMatVec multiplies the upper-left 3x3 block of m with v.
func MulMatVec(m mat.Matrix, v r3.Vector) r3.Vector {
	return mulVec(m, v, false)
}

// Rodrigues converts a rotation vector (axis scaled by angle, radians) to a 3x3 rotation matrix.
func Rodrigues(rvec r3.Vector) *mat.Dense {
	theta := rvec.Norm()
	if theta < 1e-12 {
		m := crossProductMatrix(rvec)
		m.Add(m, eye(3))
		return m
	}
	k := rvec.Mul(1 / theta)
	c, s := math.Cos(theta), math.Sin(theta)
	kk := []float64{k.X, k.Y, k.Z}
	rot := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			v := (1 - c) * kk[i] * kk[j]
			if i == j {
				v += c
			}
			rot.Set(i, j, v)
		}
	}
	kx := crossProductMatrix(k)
	kx.Scale(s, kx)
	rot.Add(rot, kx)
	return rot
}

// RodriguesFromMatrix converts a rotation matrix to a rotation vector. The input is projected
// onto the closest rotation first.
func RodriguesFromMatrix(m mat.Matrix) r3.Vector {
	rot := OrthonormalizeRotation(m)
	v := r3.Vector{
		X: rot.At(2, 1) - rot.At(1, 2),
		Y: rot.At(0, 2) - rot.At(2, 0),
		Z: rot.At(1, 0) - rot.At(0, 1),
	}
	s := v.Norm() / 2
	c := (mat.Trace(rot) - 1) / 2
	c = math.Max(-1, math.Min(1, c))

	if s > 1e-5 {
		theta := math.Atan2(s, c)
		return v.Mul(theta / (2 * s))
	}
	if c > 0 {
		return r3.Vector{}
	}

	// theta close to pi: the axis comes from the diagonal of (R + I) / 2
	axis := r3.Vector{
		X: math.Sqrt(math.Max(0, (rot.At(0, 0)+1)/2)),
		Y: math.Sqrt(math.Max(0, (rot.At(1, 1)+1)/2)),
		Z: math.Sqrt(math.Max(0, (rot.At(2, 2)+1)/2)),
	}
	if rot.At(0, 1) < 0 {
		axis.Y = -axis.Y
	}
	if rot.At(0, 2) < 0 {
		axis.Z = -axis.Z
	}
	if math.Abs(axis.X) < math.Abs(axis.Y) && math.Abs(axis.X) < math.Abs(axis.Z) &&
		(rot.At(1, 2) > 0) != (axis.Y*axis.Z > 0) {
		axis.Z = -axis.Z
	}
	return axis.Normalize().Mul(math.Acos(c))
}

// OrthonormalizeRotation returns the rotation matrix closest to m in the Frobenius sense.
func OrthonormalizeRotation(m mat.Matrix) *mat.Dense {
	mats := performSVD(m)
	if mats == nil {
		return eye(3)
	}
	var rot mat.Dense
	rot.Mul(mats.U, mats.VT)
	if mat.Det(&rot) < 0 {
		// flip the axis of the smallest singular value
		u := mat.DenseCopyOf(mats.U)
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		rot.Mul(u, mats.VT)
	}
	return &rot
}
