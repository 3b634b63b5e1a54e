package registration

import (
	"image"
	"image/color"
	"math"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereocal/rimage"
	"go.viam.com/stereocal/rimage/bundle"
)

const (
	testWidth  = 40
	testHeight = 30
	testF      = 100.
	testBase   = 50.
)

// testBundle is a rig whose color camera coincides with the rectified left camera, moved by t.
func testBundle(t r3.Vector) *bundle.Bundle {
	k := mat.NewDense(3, 3, []float64{testF, 0, 20, 0, testF, 15, 0, 0, 1})
	return &bundle.Bundle{
		Width:     testWidth,
		Height:    testHeight,
		Intrinsic: k,
		Q: mat.NewDense(4, 4, []float64{
			1, 0, 0, -20,
			0, 1, 0, -15,
			0, 0, 0, testF,
			0, 0, 1 / testBase, 0,
		}),
		Bf:              testF * testBase,
		MapLeft:         rimage.NewRemapTable(testWidth, testHeight),
		MapRight:        rimage.NewRemapTable(testWidth, testHeight),
		ColorIntrinsic:  mat.DenseCopyOf(k),
		ColorDistortion: make([]float64, 5),
		ColorR:          mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}),
		ColorT:          t,
	}
}

func constantDisparity(d float32) *rimage.FloatMap {
	fm := rimage.NewFloatMap(testWidth, testHeight)
	for i := range fm.Data() {
		fm.Data()[i] = d
	}
	return fm
}

func TestRegister(t *testing.T) {
	r, err := NewRegistrar(testBundle(r3.Vector{}), DefaultOptions())
	test.That(t, err, test.ShouldBeNil)

	disp := constantDisparity(50)
	disp.Set(3, 4, 0)
	disp.Set(5, 6, float32(math.NaN()))
	disp.Set(7, 8, 25)
	reg, err := r.Register(disp, image.Pt(testWidth, testHeight))
	test.That(t, err, test.ShouldBeNil)

	// depth is Bf / d
	test.That(t, reg.Depth.At(0, 0), test.ShouldAlmostEqual, testF*testBase/50, 1e-4)
	test.That(t, reg.Depth.At(7, 8), test.ShouldAlmostEqual, testF*testBase/25, 1e-4)
	test.That(t, reg.Depth.At(3, 4), test.ShouldEqual, 0)
	test.That(t, reg.Depth.At(5, 6), test.ShouldEqual, 0)

	// a color camera at the same place sees every point at the same pixel
	cx, cy := reg.ColorCoords.At(12, 9)
	test.That(t, cx, test.ShouldAlmostEqual, 12, 1e-3)
	test.That(t, cy, test.ShouldAlmostEqual, 9, 1e-3)
	cx, _ = reg.ColorCoords.At(3, 4)
	test.That(t, math.IsNaN(float64(cx)), test.ShouldBeTrue)

	_, err = r.Register(rimage.NewFloatMap(testWidth+1, testHeight), image.Pt(testWidth, testHeight))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestRegisterInvalidColor(t *testing.T) {
	// a color camera 10 units to the left sees points at depth 100 shifted by 10 pixels
	b := testBundle(r3.Vector{X: 10})
	disp := constantDisparity(50)

	r, err := NewRegistrar(b, DefaultOptions())
	test.That(t, err, test.ShouldBeNil)
	reg, err := r.Register(disp, image.Pt(testWidth, testHeight))
	test.That(t, err, test.ShouldBeNil)
	cx, _ := reg.ColorCoords.At(5, 5)
	test.That(t, cx, test.ShouldAlmostEqual, 15, 1e-3)
	test.That(t, reg.Depth.At(30, 5), test.ShouldAlmostEqual, 100, 1e-4)
	test.That(t, reg.Depth.At(31, 5), test.ShouldEqual, 0)
	test.That(t, reg.Depth.At(39, 29), test.ShouldEqual, 0)

	opts := DefaultOptions()
	opts.KeepInvalidColor = true
	r, err = NewRegistrar(b, opts)
	test.That(t, err, test.ShouldBeNil)
	reg, err = r.Register(disp, image.Pt(testWidth, testHeight))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, reg.Depth.At(39, 29), test.ShouldAlmostEqual, 100, 1e-4)

	// points behind the color camera are never visible
	r, err = NewRegistrar(testBundle(r3.Vector{Z: -1000}), DefaultOptions())
	test.That(t, err, test.ShouldBeNil)
	reg, err = r.Register(disp, image.Pt(testWidth, testHeight))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, reg.Depth.At(20, 15), test.ShouldEqual, 0)
}

func TestRegisterColor(t *testing.T) {
	opts := DefaultOptions()
	opts.Interpolation = rimage.InterpLinear
	r, err := NewRegistrar(testBundle(r3.Vector{}), opts)
	test.That(t, err, test.ShouldBeNil)

	disp := constantDisparity(50)
	disp.Set(2, 2, 0)
	reg, err := r.Register(disp, image.Pt(testWidth, testHeight))
	test.That(t, err, test.ShouldBeNil)

	src := image.NewRGBA(image.Rect(0, 0, testWidth, testHeight))
	for y := 0; y < testHeight; y++ {
		for x := 0; x < testWidth; x++ {
			src.SetRGBA(x, y, color.RGBA{R: uint8(5 * x), G: uint8(7 * y), B: 200, A: 255})
		}
	}
	out, err := r.Color(reg, src)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.Bounds(), test.ShouldResemble, src.Bounds())
	test.That(t, out.At(10, 12), test.ShouldResemble, src.At(10, 12))
	cr, cg, cb, _ := out.At(2, 2).RGBA()
	test.That(t, cr+cg+cb, test.ShouldEqual, 0)
}

func TestQuantize(t *testing.T) {
	depth := rimage.NewFloatMap(4, 3)
	depth.Set(0, 0, 100)
	depth.Set(1, 0, 50)
	depth.Set(2, 0, 0.4)

	dm, scale := Quantize(depth, 0)
	test.That(t, scale, test.ShouldAlmostEqual, 655.35, 1e-9)
	test.That(t, int(dm.GetDepth(0, 0)), test.ShouldBeGreaterThanOrEqualTo, 65534)
	test.That(t, dm.GetDepth(1, 0), test.ShouldEqual, rimage.Depth(32767))
	test.That(t, dm.GetDepth(2, 0), test.ShouldEqual, rimage.Depth(262))
	test.That(t, dm.GetDepth(3, 2), test.ShouldEqual, rimage.Depth(0))

	dm, scale = Quantize(depth, 1000)
	test.That(t, scale, test.ShouldEqual, 1000)
	test.That(t, dm.GetDepth(0, 0), test.ShouldEqual, rimage.MaxDepth)
	test.That(t, dm.GetDepth(2, 0), test.ShouldEqual, rimage.Depth(400))

	_, scale = Quantize(rimage.NewFloatMap(2, 2), 0)
	test.That(t, scale, test.ShouldEqual, 1)
}

func TestCameraInfo(t *testing.T) {
	b := testBundle(r3.Vector{})
	ci := NewCameraInfo(b, 0)
	test.That(t, ci.Scale, test.ShouldEqual, 1)
	test.That(t, ci.Fx, test.ShouldEqual, testF)
	test.That(t, ci.Ppy, test.ShouldEqual, 15)

	path := filepath.Join(t.TempDir(), CameraInfoFilename)
	test.That(t, WriteCameraInfo(path, NewCameraInfo(b, 250)), test.ShouldBeNil)
	read, err := ReadCameraInfo(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, read.Scale, test.ShouldEqual, 250)
	test.That(t, read.Intrinsics().Width, test.ShouldEqual, testWidth)

	test.That(t, WriteCameraInfo(path, &CameraInfo{Width: 0, Height: 3, Fx: 1, Fy: 1}), test.ShouldBeNil)
	_, err = ReadCameraInfo(path)
	test.That(t, err, test.ShouldNotBeNil)
}
