package rimage

import (
	"image"
	"image/color"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// DepthScaleKey is the PNG text keyword storing the factor that multiplied metric depth before
// quantization.
const DepthScaleKey = "depth-scale"

// Depth is the depth of a pixel in quantized units.
type Depth uint16

// MaxDepth is the largest value a quantized depth can hold.
const MaxDepth = Depth(65535)

// DepthMap is a 16-bit depth image.
type DepthMap struct {
	width  int
	height int

	data []Depth
}

// NewEmptyDepthMap returns a zero depth map of the given size.
func NewEmptyDepthMap(width, height int) *DepthMap {
	return &DepthMap{
		width:  width,
		height: height,
		data:   make([]Depth, width*height),
	}
}

// Width returns the width of the depth map.
func (dm *DepthMap) Width() int {
	return dm.width
}

// Height returns the height of the depth map.
func (dm *DepthMap) Height() int {
	return dm.height
}

// Bounds returns the rectangle covered by the depth map.
func (dm *DepthMap) Bounds() image.Rectangle {
	return image.Rect(0, 0, dm.width, dm.height)
}

// GetDepth returns the depth at column x, row y.
func (dm *DepthMap) GetDepth(x, y int) Depth {
	return dm.data[y*dm.width+x]
}

// Set stores the depth at column x, row y.
func (dm *DepthMap) Set(x, y int, val Depth) {
	dm.data[y*dm.width+x] = val
}

// MinMax returns the smallest non-zero depth and the largest depth.
func (dm *DepthMap) MinMax() (Depth, Depth) {
	min, max := MaxDepth, Depth(0)
	for _, d := range dm.data {
		if d == 0 {
			continue
		}
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}
	if max == 0 {
		return 0, 0
	}
	return min, max
}

// ToGray16Picture converts the depth map to a 16-bit grayscale image.
func (dm *DepthMap) ToGray16Picture() *image.Gray16 {
	img := image.NewGray16(dm.Bounds())
	for y := 0; y < dm.height; y++ {
		for x := 0; x < dm.width; x++ {
			img.SetGray16(x, y, color.Gray16{Y: uint16(dm.GetDepth(x, y))})
		}
	}
	return img
}

// ConvertImageToDepthMap reads 16-bit (or 8-bit) grayscale images as depth.
func ConvertImageToDepthMap(img image.Image) (*DepthMap, error) {
	bounds := img.Bounds()
	dm := NewEmptyDepthMap(bounds.Dx(), bounds.Dy())
	switch src := img.(type) {
	case *image.Gray16:
		for y := 0; y < dm.height; y++ {
			for x := 0; x < dm.width; x++ {
				dm.Set(x, y, Depth(src.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y))
			}
		}
	case *image.Gray:
		for y := 0; y < dm.height; y++ {
			for x := 0; x < dm.width; x++ {
				dm.Set(x, y, Depth(src.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y))
			}
		}
	default:
		return nil, errors.Errorf("cannot convert image type %T to a depth map", img)
	}
	return dm, nil
}

// WriteDepthMapPNG saves the depth map as a 16-bit PNG and records scale in its
// depth-scale text chunk.
func WriteDepthMapPNG(fn string, dm *DepthMap, scale float64, optimize bool) (err error) {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	text := map[string]string{DepthScaleKey: strconv.FormatFloat(scale, 'g', -1, 64)}
	return EncodePNGWithText(f, dm.ToGray16Picture(), text, optimize)
}

// ReadDepthMapPNG loads a 16-bit depth PNG and its depth-scale. A missing scale reads as 1.
func ReadDepthMapPNG(fn string) (*DepthMap, float64, error) {
	img, err := ReadImageFromFile(fn)
	if err != nil {
		return nil, 0, err
	}
	dm, err := ConvertImageToDepthMap(img)
	if err != nil {
		return nil, 0, errors.Wrap(err, fn)
	}

	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, 0, err
	}
	defer utils.UncheckedErrorFunc(f.Close)
	text, err := ReadPNGText(f)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "cannot read the text chunks of %s", fn)
	}
	scale := 1.
	if s, ok := text[DepthScaleKey]; ok {
		scale, err = strconv.ParseFloat(s, 64)
		if err != nil || scale <= 0 {
			return nil, 0, errors.Errorf("invalid %s %q in %s", DepthScaleKey, s, fn)
		}
	}
	return dm, scale, nil
}
