package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocal/rimage"
)

// RectifyResult holds the output of a stereo rectification. R1 and R2 rotate each camera
// into the common rectified frame, P1 and P2 project rectified points into the new images and
// Q reprojects (x, y, disparity, 1) to 3D in the first rectified camera frame.
type RectifyResult struct {
	R1, R2 *mat.Dense
	P1, P2 *mat.Dense
	Q      *mat.Dense
	// Horizontal is true when the baseline is mostly along x, i.e. rows are aligned.
	Horizontal bool
}

// Bf is the product of baseline and rectified focal length, the numerator that turns a
// disparity into a depth. It is positive for a right camera sitting on +x.
func (rr *RectifyResult) Bf() float64 {
	return -rr.P2.At(0, 3)
}

// StereoRectify computes the Bouguet rectification of a calibrated pair. `rot` and `trans` map
// points from the first camera frame to the second. Both rectified cameras share the focal
// length and the principal point (zero disparity at infinity) and the images are not rescaled.
func StereoRectify(cam1, cam2 *PinholeCameraModel, rot mat.Matrix, trans r3.Vector) (*RectifyResult, error) {
	if err := cam1.CheckValid(); err != nil {
		return nil, err
	}
	if err := cam2.CheckValid(); err != nil {
		return nil, err
	}
	if trans.Norm() == 0 {
		return nil, errors.New("cannot rectify a pair with a zero baseline")
	}

	// split the rotation in two halves so that both cameras turn by the same amount
	om := RodriguesFromMatrix(rot).Mul(-0.5)
	rHalf := Rodrigues(om)
	t := MulMatVec(rHalf, trans)

	idx := 1
	if math.Abs(t.X) > math.Abs(t.Y) {
		idx = 0
	}
	c := component(t, idx)
	var uu r3.Vector
	setComponent(&uu, idx, math.Copysign(1, c))

	// rotate the half-rotated baseline onto the x (or y) axis
	ww := t.Cross(uu)
	if nw := ww.Norm(); nw > 0 {
		ww = ww.Mul(math.Acos(math.Abs(c)/t.Norm()) / nw)
	}
	wR := Rodrigues(ww)

	var rect1, rect2 mat.Dense
	rect1.Mul(wR, rHalf.T())
	rect2.Mul(wR, rHalf)
	t = MulMatVec(&rect2, trans)

	// shared focal length: the one orthogonal to the baseline
	other := idx ^ 1
	fcNew := (focal(cam1.PinholeCameraIntrinsics, other) + focal(cam2.PinholeCameraIntrinsics, other)) / 2

	ccNew := [2]r2.Point{}
	nx, ny := float64(cam1.Width), float64(cam1.Height)
	for k, cam := range []*PinholeCameraModel{cam1, cam2} {
		rk := &rect1
		if k == 1 {
			rk = &rect2
		}
		corners := []r2.Point{{X: 0, Y: 0}, {X: nx - 1, Y: 0}, {X: 0, Y: ny - 1}, {X: nx - 1, Y: ny - 1}}
		avg := r2.Point{}
		for _, corner := range corners {
			und := cam.Undistort(corner)
			p := MulMatVec(rk, r3.Vector{X: und.X, Y: und.Y, Z: 1})
			avg = avg.Add(r2.Point{X: fcNew * p.X / p.Z, Y: fcNew * p.Y / p.Z})
		}
		avg = avg.Mul(1. / float64(len(corners)))
		ccNew[k] = r2.Point{X: (nx-1)/2 - avg.X, Y: (ny-1)/2 - avg.Y}
	}
	shared := ccNew[0].Add(ccNew[1]).Mul(0.5)
	ccNew[0], ccNew[1] = shared, shared

	p1 := mat.NewDense(3, 4, []float64{
		fcNew, 0, ccNew[0].X, 0,
		0, fcNew, ccNew[0].Y, 0,
		0, 0, 1, 0,
	})
	p2 := mat.NewDense(3, 4, []float64{
		fcNew, 0, ccNew[1].X, 0,
		0, fcNew, ccNew[1].Y, 0,
		0, 0, 1, 0,
	})
	tIdx := component(t, idx)
	p2.Set(idx, 3, tIdx*fcNew)

	shift := ccNew[0].X - ccNew[1].X
	if idx == 1 {
		shift = ccNew[0].Y - ccNew[1].Y
	}
	q := mat.NewDense(4, 4, []float64{
		1, 0, 0, -ccNew[0].X,
		0, 1, 0, -ccNew[0].Y,
		0, 0, 0, fcNew,
		0, 0, -1 / tIdx, shift / tIdx,
	})

	return &RectifyResult{
		R1:         &rect1,
		R2:         &rect2,
		P1:         p1,
		P2:         p2,
		Q:          q,
		Horizontal: idx == 0,
	}, nil
}

// InitUndistortRectifyMap builds the remap table that produces the rectified image of a
// camera: for every destination pixel it stores the source pixel to sample. `rot` is the
// rectification rotation and `proj` the new 3x3 or 3x4 projection matrix.
func InitUndistortRectifyMap(cam *PinholeCameraModel, rot, proj mat.Matrix) (*rimage.RemapTable, error) {
	if err := cam.CheckValid(); err != nil {
		return nil, err
	}
	var kr, iR mat.Dense
	kr.Mul(mat.DenseCopyOf(proj).Slice(0, 3, 0, 3), rot)
	if err := iR.Inverse(&kr); err != nil {
		return nil, errors.Wrap(err, "rectified projection is singular")
	}

	table := rimage.NewRemapTable(cam.Width, cam.Height)
	for i := 0; i < cam.Height; i++ {
		for j := 0; j < cam.Width; j++ {
			p := MulMatVec(&iR, r3.Vector{X: float64(j), Y: float64(i), Z: 1})
			x, y := p.X/p.Z, p.Y/p.Z
			xd, yd := cam.Distortion.Transform(x, y)
			table.Set(j, i, float32(cam.Fx*xd+cam.Ppx), float32(cam.Fy*yd+cam.Ppy))
		}
	}
	return table, nil
}

// RectifiedIntrinsics returns the intrinsics of the first rectified camera.
func (rr *RectifyResult) RectifiedIntrinsics(width, height int) (*PinholeCameraIntrinsics, error) {
	return NewPinholeCameraIntrinsicsFromMatrix(rr.P1, width, height)
}

func focal(params *PinholeCameraIntrinsics, axis int) float64 {
	if axis == 0 {
		return params.Fx
	}
	return params.Fy
}

func component(v r3.Vector, idx int) float64 {
	switch idx {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

func setComponent(v *r3.Vector, idx int, val float64) {
	switch idx {
	case 0:
		v.X = val
	case 1:
		v.Y = val
	default:
		v.Z = val
	}
}
