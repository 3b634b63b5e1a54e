package rimage

import (
	"image"
	"math"
)

// FloatMap is a dense single channel float32 grid, row-major. It backs disparity maps and the
// coordinate tables used for remapping.
type FloatMap struct {
	width  int
	height int
	data   []float32
}

// NewFloatMap returns a zeroed map of the given size.
func NewFloatMap(width, height int) *FloatMap {
	return &FloatMap{width, height, make([]float32, width*height)}
}

// NewFloatMapFromData wraps a row-major slice of width*height values.
func NewFloatMapFromData(width, height int, data []float32) *FloatMap {
	if len(data) != width*height {
		return nil
	}
	return &FloatMap{width, height, data}
}

// Width returns the number of columns.
func (fm *FloatMap) Width() int {
	return fm.width
}

// Height returns the number of rows.
func (fm *FloatMap) Height() int {
	return fm.height
}

// Bounds returns the rectangle covered by the map.
func (fm *FloatMap) Bounds() image.Rectangle {
	return image.Rect(0, 0, fm.width, fm.height)
}

// Data exposes the row-major backing slice.
func (fm *FloatMap) Data() []float32 {
	return fm.data
}

// At returns the value at column x, row y.
func (fm *FloatMap) At(x, y int) float32 {
	return fm.data[y*fm.width+x]
}

// Set stores the value at column x, row y.
func (fm *FloatMap) Set(x, y int, v float32) {
	fm.data[y*fm.width+x] = v
}

// Max returns the largest finite value, or 0 for an empty map.
func (fm *FloatMap) Max() float32 {
	var ret float32
	first := true
	for _, v := range fm.data {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			continue
		}
		if first || v > ret {
			ret = v
			first = false
		}
	}
	return ret
}

// RemapTable stores, for every destination pixel, the source coordinates to sample.
type RemapTable struct {
	X *FloatMap
	Y *FloatMap
}

// NewRemapTable returns an all-zero table of the given destination size.
func NewRemapTable(width, height int) *RemapTable {
	return &RemapTable{X: NewFloatMap(width, height), Y: NewFloatMap(width, height)}
}

// Width is the destination width.
func (rt *RemapTable) Width() int {
	return rt.X.Width()
}

// Height is the destination height.
func (rt *RemapTable) Height() int {
	return rt.X.Height()
}

// Set stores the source coordinates for destination pixel (x, y).
func (rt *RemapTable) Set(x, y int, srcX, srcY float32) {
	rt.X.Set(x, y, srcX)
	rt.Y.Set(x, y, srcY)
}

// At returns the source coordinates for destination pixel (x, y).
func (rt *RemapTable) At(x, y int) (float32, float32) {
	return rt.X.At(x, y), rt.Y.At(x, y)
}
