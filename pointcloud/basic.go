package pointcloud

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// The floating point range in which integers are exactly representable. Points outside of it
// could collide after a round trip through 32-bit file formats.
const (
	maxPreciseFloat64 = float64(1<<53 - 1)
	minPreciseFloat64 = -maxPreciseFloat64
)

// PointAndData is a tiny struct to facilitate returning nearest neighbors in a neat way.
type PointAndData struct {
	P r3.Vector
	D Data
}

// basicPointCloud is the basic implementation of the PointCloud interface. Points are kept in
// insertion order so that files written from it are reproducible.
type basicPointCloud struct {
	points   []PointAndData
	indexMap map[r3.Vector]int
	meta     MetaData
}

// New returns an empty PointCloud backed by a basicPointCloud.
func New() PointCloud {
	return NewWithPrealloc(0)
}

// NewWithPrealloc returns an empty, preallocated PointCloud backed by a basicPointCloud.
func NewWithPrealloc(size int) PointCloud {
	return &basicPointCloud{
		points:   make([]PointAndData, 0, size),
		indexMap: make(map[r3.Vector]int, size),
		meta:     NewMetaData(),
	}
}

func (cloud *basicPointCloud) Size() int {
	return len(cloud.points)
}

func (cloud *basicPointCloud) MetaData() MetaData {
	return cloud.meta
}

func (cloud *basicPointCloud) At(x, y, z float64) (Data, bool) {
	idx, ok := cloud.indexMap[r3.Vector{X: x, Y: y, Z: z}]
	if !ok {
		return nil, false
	}
	return cloud.points[idx].D, true
}

// Set validates that the point can be precisely stored before setting it in the cloud.
// Setting an existing point replaces its data.
func (cloud *basicPointCloud) Set(p r3.Vector, d Data) error {
	if err := checkPrecise(p); err != nil {
		return err
	}
	if idx, ok := cloud.indexMap[p]; ok {
		cloud.points[idx].D = d
		if d != nil {
			cloud.meta.Merge(p, d)
		}
		return nil
	}
	cloud.indexMap[p] = len(cloud.points)
	cloud.points = append(cloud.points, PointAndData{P: p, D: d})
	cloud.meta.Merge(p, d)
	return nil
}

func (cloud *basicPointCloud) Iterate(numBatches, myBatch int, fn func(p r3.Vector, d Data) bool) {
	for i, pd := range cloud.points {
		if numBatches > 0 && i%numBatches != myBatch {
			continue
		}
		if !fn(pd.P, pd.D) {
			return
		}
	}
}

func checkPrecise(p r3.Vector) error {
	if p.X > maxPreciseFloat64 || p.X < minPreciseFloat64 {
		return errors.Errorf("x component (%v) is out of range [%v,%v]", p.X, minPreciseFloat64, maxPreciseFloat64)
	}
	if p.Y > maxPreciseFloat64 || p.Y < minPreciseFloat64 {
		return errors.Errorf("y component (%v) is out of range [%v,%v]", p.Y, minPreciseFloat64, maxPreciseFloat64)
	}
	if p.Z > maxPreciseFloat64 || p.Z < minPreciseFloat64 {
		return errors.Errorf("z component (%v) is out of range [%v,%v]", p.Z, minPreciseFloat64, maxPreciseFloat64)
	}
	return nil
}
