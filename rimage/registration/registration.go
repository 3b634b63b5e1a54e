// Package registration turns rectified disparity maps into metric depth and aligns the color
// camera with them, using a calibration bundle.
package registration

import (
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/stereocal/rimage"
	"go.viam.com/stereocal/rimage/bundle"
	"go.viam.com/stereocal/rimage/transform"
)

// Options tunes a Registrar.
type Options struct {
	// KeepInvalidColor keeps the depth of pixels the color camera does not see.
	KeepInvalidColor bool
	// Interpolation is used to sample the color image.
	Interpolation rimage.Interpolation
}

// DefaultOptions drops pixels without color and samples with Lanczos4.
func DefaultOptions() Options {
	return Options{Interpolation: rimage.InterpLanczos4}
}

// Registrar reprojects disparity maps of the rectified left camera into the color camera.
type Registrar struct {
	b     *bundle.Bundle
	color *transform.PinholeCameraModel
	opts  Options
}

// Registration is the outcome of registering one disparity map.
type Registration struct {
	// Depth is the metric depth of every rectified left pixel, 0 where unknown.
	Depth *rimage.FloatMap
	// ColorCoords holds, for every rectified left pixel, the color pixel seeing the same point.
	// Pixels without disparity hold NaN.
	ColorCoords *rimage.RemapTable
}

// NewRegistrar validates the color camera of b.
func NewRegistrar(b *bundle.Bundle, opts Options) (*Registrar, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	dist, err := transform.NewBrownConrady(b.ColorDistortion)
	if err != nil {
		return nil, err
	}
	intr, err := transform.NewPinholeCameraIntrinsicsFromMatrix(b.ColorIntrinsic, b.Width, b.Height)
	if err != nil {
		return nil, errors.Wrap(err, "invalid color intrinsics")
	}
	return &Registrar{
		b:     b,
		color: &transform.PinholeCameraModel{PinholeCameraIntrinsics: intr, Distortion: dist},
		opts:  opts,
	}, nil
}

// Register computes the depth of every pixel of disparity, Bf/d for positive disparities, and
// where the color camera sees it. Unless KeepInvalidColor is set, the depth of pixels that
// project outside a color image of colorSize is zeroed.
func (r *Registrar) Register(disparity *rimage.FloatMap, colorSize image.Point) (*Registration, error) {
	if disparity.Width() != r.b.Width || disparity.Height() != r.b.Height {
		return nil, errors.Errorf("disparity is %dx%d, the calibration expects %dx%d",
			disparity.Width(), disparity.Height(), r.b.Width, r.b.Height)
	}
	width, height := disparity.Width(), disparity.Height()
	reg := &Registration{
		Depth:       rimage.NewFloatMap(width, height),
		ColorCoords: rimage.NewRemapTable(width, height),
	}
	nan := float32(math.NaN())
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			d := float64(disparity.At(x, y))
			if !(d > 0) || math.IsInf(d, 0) {
				reg.ColorCoords.Set(x, y, nan, nan)
				continue
			}
			px, ok := r.project(float64(x), float64(y), d)
			if !ok {
				reg.ColorCoords.Set(x, y, nan, nan)
				continue
			}
			reg.ColorCoords.Set(x, y, float32(px.X), float32(px.Y))
			if !r.opts.KeepInvalidColor && !visible(px, colorSize) {
				continue
			}
			reg.Depth.Set(x, y, float32(r.b.Bf/d))
		}
	}
	return reg, nil
}

// project reprojects a rectified pixel with its disparity through Q and into the color camera.
func (r *Registrar) project(x, y, d float64) (r2.Point, bool) {
	q := r.b.Q
	in := [4]float64{x, y, d, 1}
	var h [4]float64
	for i := range h {
		for j, v := range in {
			h[i] += q.At(i, j) * v
		}
	}
	if h[3] == 0 {
		return r2.Point{}, false
	}
	p := r3.Vector{X: h[0] / h[3], Y: h[1] / h[3], Z: h[2] / h[3]}
	pc := transform.MulMatVec(r.b.ColorR, p).Add(r.b.ColorT)
	return r.color.Project(pc), true
}

func visible(px r2.Point, size image.Point) bool {
	return px.X >= 0 && px.Y >= 0 && px.X <= float64(size.X) && px.Y <= float64(size.Y)
}

// Color samples the color image at the registered coordinates, giving a color image aligned
// with the depth map.
func (r *Registrar) Color(reg *Registration, color image.Image) (image.Image, error) {
	return rimage.Remap(color, reg.ColorCoords, r.opts.Interpolation)
}

// Quantize converts metric depth to 16-bit values. With a positive fixedScale every value is
// multiplied by it, otherwise the scale maps the largest depth of the frame to 65535 (1 for an
// empty frame). Values are truncated and saturate at 65535. The scale used is returned so that
// it can be stored along with the depth map.
func Quantize(depth *rimage.FloatMap, fixedScale float64) (*rimage.DepthMap, float64) {
	scale := fixedScale
	if !(scale > 0) {
		scale = 1
		if maxDepth := float64(depth.Max()); maxDepth > 0 {
			scale = float64(rimage.MaxDepth) / maxDepth
		}
	}
	dm := rimage.NewEmptyDepthMap(depth.Width(), depth.Height())
	for y := 0; y < depth.Height(); y++ {
		for x := 0; x < depth.Width(); x++ {
			v := float64(depth.At(x, y)) * scale
			switch {
			case !(v > 0):
				continue
			case v >= float64(rimage.MaxDepth):
				dm.Set(x, y, rimage.MaxDepth)
			default:
				dm.Set(x, y, rimage.Depth(v))
			}
		}
	}
	return dm, scale
}
