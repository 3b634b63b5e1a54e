package rimage

import (
	"image"
	"image/color"
	"math"

	"github.com/pkg/errors"
)

// Interpolation selects how Remap samples between source pixels.
type Interpolation int

const (
	// InterpNearest picks the closest source pixel.
	InterpNearest Interpolation = iota
	// InterpLinear blends the 2x2 neighborhood.
	InterpLinear
	// InterpCubic blends the 4x4 neighborhood with a Keys cubic (a = -0.75).
	InterpCubic
	// InterpArea has no meaning for a per-pixel remap and behaves like InterpLinear.
	InterpArea
	// InterpLanczos4 blends the 8x8 neighborhood with a Lanczos window of order 4.
	InterpLanczos4
	// InterpLinearExact is bilinear interpolation.
	InterpLinearExact
	// InterpNearestExact is nearest neighbor with ties rounded up.
	InterpNearestExact
)

var interpolationNames = []string{
	"nearest",
	"linear",
	"cubic",
	"area",
	"lanczos4",
	"linear-exact",
	"nearest-exact",
}

// InterpolationNames lists the accepted interpolation names.
func InterpolationNames() []string {
	return append([]string(nil), interpolationNames...)
}

// ParseInterpolation returns the Interpolation with the given name.
func ParseInterpolation(name string) (Interpolation, error) {
	for i, n := range interpolationNames {
		if n == name {
			return Interpolation(i), nil
		}
	}
	return 0, errors.Errorf("unknown interpolation %q, expected one of %v", name, interpolationNames)
}

func (interp Interpolation) String() string {
	if interp < 0 || int(interp) >= len(interpolationNames) {
		return "unknown"
	}
	return interpolationNames[interp]
}

// Remap builds an image of the table's size where pixel (x, y) is sampled from src at the
// coordinates stored in the table. Samples falling outside src read as zero. Gray and Gray16
// sources keep their type; everything else comes out as RGBA.
func Remap(src image.Image, table *RemapTable, interp Interpolation) (image.Image, error) {
	if src == nil || table == nil {
		return nil, errors.New("remap needs both an image and a table")
	}
	if interp < 0 || int(interp) >= len(interpolationNames) {
		return nil, errors.Errorf("unknown interpolation %d", interp)
	}
	planes, maxVal := toPlanes(src)
	width, height := table.Width(), table.Height()
	bounds := src.Bounds()

	out := make([][]float64, len(planes))
	for c := range out {
		out[c] = make([]float64, width*height)
	}
	var wx, wy [8]float64
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			sx, sy := table.At(x, y)
			fx, fy := float64(sx)-float64(bounds.Min.X), float64(sy)-float64(bounds.Min.Y)
			if math.IsNaN(fx) || math.IsNaN(fy) || math.IsInf(fx, 0) || math.IsInf(fy, 0) {
				continue
			}
			x0, nx := kernel(interp, fx, wx[:])
			y0, ny := kernel(interp, fy, wy[:])
			for c, plane := range planes {
				out[c][y*width+x] = plane.sample(x0, y0, wx[:nx], wy[:ny])
			}
		}
	}
	return fromPlanes(out, width, height, maxVal), nil
}

type plane struct {
	w, h int
	data []float64
}

func (p *plane) sample(x0, y0 int, wx, wy []float64) float64 {
	sum := 0.
	for i, wyi := range wy {
		yy := y0 + i
		if yy < 0 || yy >= p.h || wyi == 0 {
			continue
		}
		row := p.data[yy*p.w : (yy+1)*p.w]
		for j, wxj := range wx {
			xx := x0 + j
			if xx < 0 || xx >= p.w {
				continue
			}
			sum += wyi * wxj * row[xx]
		}
	}
	return sum
}

// kernel fills weights for the taps starting at the returned origin and returns the tap count.
func kernel(interp Interpolation, v float64, weights []float64) (int, int) {
	switch interp {
	case InterpNearest, InterpNearestExact:
		weights[0] = 1
		return int(math.Floor(v + 0.5)), 1
	case InterpCubic:
		const a = -0.75
		v0 := math.Floor(v)
		f := v - v0
		weights[0] = ((a*(f+1)-5*a)*(f+1)+8*a)*(f+1) - 4*a
		weights[1] = ((a+2)*f-(a+3))*f*f + 1
		weights[2] = ((a+2)*(1-f)-(a+3))*(1-f)*(1-f) + 1
		weights[3] = 1 - weights[0] - weights[1] - weights[2]
		return int(v0) - 1, 4
	case InterpLanczos4:
		v0 := math.Floor(v)
		f := v - v0
		sum := 0.
		for k := 0; k < 8; k++ {
			d := f + 3 - float64(k)
			weights[k] = sinc(d) * sinc(d/4)
			sum += weights[k]
		}
		for k := 0; k < 8; k++ {
			weights[k] /= sum
		}
		return int(v0) - 3, 8
	default:
		v0 := math.Floor(v)
		f := v - v0
		weights[0] = 1 - f
		weights[1] = f
		return int(v0), 2
	}
}

func sinc(x float64) float64 {
	if math.Abs(x) < 1e-9 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}

func toPlanes(img image.Image) ([]*plane, float64) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	newPlane := func() *plane { return &plane{w, h, make([]float64, w*h)} }

	switch src := img.(type) {
	case *image.Gray:
		p := newPlane()
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				p.data[y*w+x] = float64(src.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y)
			}
		}
		return []*plane{p}, math.MaxUint8
	case *image.Gray16:
		p := newPlane()
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				p.data[y*w+x] = float64(src.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y)
			}
		}
		return []*plane{p}, math.MaxUint16
	default:
		r, g, b := newPlane(), newPlane(), newPlane()
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := color.NRGBAModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
				r.data[y*w+x] = float64(c.R)
				g.data[y*w+x] = float64(c.G)
				b.data[y*w+x] = float64(c.B)
			}
		}
		return []*plane{r, g, b}, math.MaxUint8
	}
}

func fromPlanes(planes [][]float64, w, h int, maxVal float64) image.Image {
	clamp := func(v float64) float64 {
		return math.Max(0, math.Min(maxVal, math.Round(v)))
	}
	rect := image.Rect(0, 0, w, h)
	switch {
	case len(planes) == 1 && maxVal == math.MaxUint16:
		out := image.NewGray16(rect)
		for i, v := range planes[0] {
			out.SetGray16(i%w, i/w, color.Gray16{Y: uint16(clamp(v))})
		}
		return out
	case len(planes) == 1:
		out := image.NewGray(rect)
		for i, v := range planes[0] {
			out.Pix[(i/w)*out.Stride+i%w] = uint8(clamp(v))
		}
		return out
	default:
		out := image.NewRGBA(rect)
		for i := range planes[0] {
			out.SetRGBA(i%w, i/w, color.RGBA{
				R: uint8(clamp(planes[0][i])),
				G: uint8(clamp(planes[1][i])),
				B: uint8(clamp(planes[2][i])),
				A: math.MaxUint8,
			})
		}
		return out
	}
}
