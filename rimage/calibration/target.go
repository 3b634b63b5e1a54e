package calibration

import (
	"image"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// TargetModel is the grid of interior chessboard corners in the target frame. The target lies
// in the z = 0 plane and its points are ordered row by row, columns varying fastest, which is
// the order a detector returns the corners in.
type TargetModel struct {
	Rows, Cols int
	Edge       float64
	points     []r3.Vector
}

// NewTargetModel builds the model of a board with rows x cols interior corners spaced by edge.
func NewTargetModel(rows, cols int, edge float64) (*TargetModel, error) {
	if rows <= 0 || cols <= 0 {
		return nil, errors.Errorf("a target needs at least one interior corner per side, got %dx%d", cols, rows)
	}
	if !(edge > 0) {
		return nil, errors.Errorf("edge size must be positive, got %v", edge)
	}
	points := make([]r3.Vector, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			points = append(points, r3.Vector{X: float64(c) * edge, Y: float64(r) * edge})
		}
	}
	return &TargetModel{Rows: rows, Cols: cols, Edge: edge, points: points}, nil
}

// NewTargetModelFromSquares builds the model of a board with the given number of printed squares.
func NewTargetModelFromSquares(squaresX, squaresY int, edge float64) (*TargetModel, error) {
	return NewTargetModel(squaresY-1, squaresX-1, edge)
}

// PatternSize is the (cols, rows) size handed to a Detector.
func (tm *TargetModel) PatternSize() image.Point {
	return image.Pt(tm.Cols, tm.Rows)
}

// Len is the number of corners.
func (tm *TargetModel) Len() int {
	return len(tm.points)
}

// Points returns a copy of the model points.
func (tm *TargetModel) Points() []r3.Vector {
	out := make([]r3.Vector, len(tm.points))
	copy(out, tm.points)
	return out
}

// ObjectPoints replicates the model once per frame.
func (tm *TargetModel) ObjectPoints(n int) [][]r3.Vector {
	out := make([][]r3.Vector, n)
	for i := range out {
		out[i] = tm.Points()
	}
	return out
}

// planar returns the (x, y) of the model points.
func planar(points []r3.Vector) []r2.Point {
	return lo.Map(points, func(p r3.Vector, _ int) r2.Point {
		return r2.Point{X: p.X, Y: p.Y}
	})
}
