package transform

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// BrownConrady is the radial/tangential lens distortion model. Coefficients follow the usual
// k1 k2 p1 p2 k3 convention when read from or written to a flat vector.
type BrownConrady struct {
	RadialK1     float64 `json:"rk1"`
	RadialK2     float64 `json:"rk2"`
	RadialK3     float64 `json:"rk3"`
	TangentialP1 float64 `json:"tp1"`
	TangentialP2 float64 `json:"tp2"`
}

// NewBrownConrady takes in a slice of floats ordered k1 k2 p1 p2 k3. Missing trailing values are zero.
func NewBrownConrady(inp []float64) (*BrownConrady, error) {
	if len(inp) > 5 {
		return nil, errors.Errorf("list of parameters too long, expected max 5, got %d", len(inp))
	}
	padded := make([]float64, 5)
	copy(padded, inp)
	for i, v := range padded {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, InvalidDistortionError(fmt.Sprintf("coefficient %d is not finite", i))
		}
	}
	return &BrownConrady{
		RadialK1:     padded[0],
		RadialK2:     padded[1],
		TangentialP1: padded[2],
		TangentialP2: padded[3],
		RadialK3:     padded[4],
	}, nil
}

// CheckValid checks if the fields for BrownConrady have valid inputs.
func (bc *BrownConrady) CheckValid() error {
	if bc == nil {
		return InvalidDistortionError("BrownConrady shaped distortion_parameters not provided")
	}
	return nil
}

// ModelType returns the type of distortion model.
func (bc *BrownConrady) ModelType() DistortionType {
	return BrownConradyDistortionType
}

// Parameters returns the coefficients ordered k1 k2 p1 p2 k3.
func (bc *BrownConrady) Parameters() []float64 {
	if bc == nil {
		return []float64{0, 0, 0, 0, 0}
	}
	return []float64{bc.RadialK1, bc.RadialK2, bc.TangentialP1, bc.TangentialP2, bc.RadialK3}
}

// Transform distorts a normalized image point:
//
//	x_d = x * (1 + k1*r² + k2*r⁴ + k3*r⁶) + 2*p1*x*y + p2*(r² + 2*x²)
//	y_d = y * (1 + k1*r² + k2*r⁴ + k3*r⁶) + p1*(r² + 2*y²) + 2*p2*x*y
func (bc *BrownConrady) Transform(x, y float64) (float64, float64) {
	if bc == nil {
		return x, y
	}
	r2 := x*x + y*y
	r4 := r2 * r2
	r6 := r4 * r2
	radDist := 1.0 + bc.RadialK1*r2 + bc.RadialK2*r4 + bc.RadialK3*r6
	xd := x*radDist + 2.0*bc.TangentialP1*x*y + bc.TangentialP2*(r2+2.0*x*x)
	yd := y*radDist + bc.TangentialP1*(r2+2.0*y*y) + 2.0*bc.TangentialP2*x*y
	return xd, yd
}

// Inverse returns the model undoing this distortion.
func (bc *BrownConrady) Inverse() *InverseBrownConrady {
	if bc == nil {
		return &InverseBrownConrady{}
	}
	return &InverseBrownConrady{
		RadialK1:     bc.RadialK1,
		RadialK2:     bc.RadialK2,
		RadialK3:     bc.RadialK3,
		TangentialP1: bc.TangentialP1,
		TangentialP2: bc.TangentialP2,
	}
}
