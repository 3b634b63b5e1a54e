package pointcloud

import (
	"encoding/binary"
	"image"
	"image/color"
	"io"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/stereocal/rimage"
	"go.viam.com/stereocal/rimage/transform"
)

// DefaultMaxDepth is the farthest depth, in millimeters, kept by NewFromDepth when no threshold
// is given.
const DefaultMaxDepth = 6000.

// NewFromDepth back-projects a quantized depth map through the given intrinsics. A pixel value v
// stands for the metric depth v/depthScale in millimeters. Pixels without depth or farther than
// maxDepth are skipped; a non-positive maxDepth means DefaultMaxDepth. When img is not nil it
// must be registered to the depth map and colors the points.
func NewFromDepth(
	dm *rimage.DepthMap,
	depthScale float64,
	img image.Image,
	intrinsics *transform.PinholeCameraIntrinsics,
	maxDepth float64,
) (PointCloud, error) {
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}
	if !(depthScale > 0) {
		return nil, errors.Errorf("depth scale must be positive, got %v", depthScale)
	}
	if dm.Width() != intrinsics.Width || dm.Height() != intrinsics.Height {
		return nil, errors.Errorf("depth map is %dx%d but the camera is %dx%d",
			dm.Width(), dm.Height(), intrinsics.Width, intrinsics.Height)
	}
	var origin image.Point
	if img != nil {
		b := img.Bounds()
		if b.Dx() != dm.Width() || b.Dy() != dm.Height() {
			return nil, errors.Errorf("color image is %dx%d but the depth map is %dx%d",
				b.Dx(), b.Dy(), dm.Width(), dm.Height())
		}
		origin = b.Min
	}
	if !(maxDepth > 0) {
		maxDepth = DefaultMaxDepth
	}

	pc := New()
	for y := 0; y < dm.Height(); y++ {
		for x := 0; x < dm.Width(); x++ {
			v := dm.GetDepth(x, y)
			if v == 0 {
				continue
			}
			z := float64(v) / depthScale
			if z > maxDepth {
				continue
			}
			px, py, pz := intrinsics.PixelToPoint(float64(x), float64(y), z)
			var d Data
			if img != nil {
				c := color.NRGBAModel.Convert(img.At(origin.X+x, origin.Y+y)).(color.NRGBA)
				c.A = 255
				d = NewColoredData(c)
			} else {
				d = NewBasicData()
			}
			if err := pc.Set(r3.Vector{X: px, Y: py, Z: pz}, d); err != nil {
				return nil, err
			}
		}
	}
	return pc, nil
}

// WriteRaw writes one little-endian float32 record per point: x, y, z in meters followed, for
// colored clouds, by r, g, b in [0, 1].
func WriteRaw(cloud PointCloud, w io.Writer) error {
	hasColor := cloud.MetaData().HasColor
	fields := 3
	if hasColor {
		fields = 6
	}
	record := make([]byte, 4*fields)
	var err error
	cloud.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		vals := [6]float64{p.X / pcdUnitsPerMeter, p.Y / pcdUnitsPerMeter, p.Z / pcdUnitsPerMeter}
		if hasColor && d != nil && d.HasColor() {
			r, g, b := d.RGB255()
			vals[3], vals[4], vals[5] = float64(r)/255, float64(g)/255, float64(b)/255
		}
		for i := 0; i < fields; i++ {
			binary.LittleEndian.PutUint32(record[4*i:], math.Float32bits(float32(vals[i])))
		}
		_, err = w.Write(record)
		return err == nil
	})
	return err
}
