package rimage

import (
	"bytes"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func TestDepthMapPNGRoundTrip(t *testing.T) {
	dm := NewEmptyDepthMap(4, 3)
	dm.Set(0, 0, 100)
	dm.Set(3, 2, MaxDepth)
	dm.Set(1, 1, 7)

	minD, maxD := dm.MinMax()
	test.That(t, minD, test.ShouldEqual, Depth(7))
	test.That(t, maxD, test.ShouldEqual, MaxDepth)

	for _, optimize := range []bool{true, false} {
		fn := filepath.Join(t.TempDir(), "0001-0001.png")
		test.That(t, WriteDepthMapPNG(fn, dm, 1310.7, optimize), test.ShouldBeNil)

		read, scale, err := ReadDepthMapPNG(fn)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, scale, test.ShouldEqual, 1310.7)
		test.That(t, read.Bounds(), test.ShouldResemble, dm.Bounds())
		test.That(t, read.GetDepth(0, 0), test.ShouldEqual, Depth(100))
		test.That(t, read.GetDepth(3, 2), test.ShouldEqual, MaxDepth)
		test.That(t, read.GetDepth(2, 2), test.ShouldEqual, Depth(0))
	}
}

func TestDepthMapWithoutScale(t *testing.T) {
	img := image.NewGray16(image.Rect(0, 0, 2, 2))
	img.SetGray16(1, 0, color.Gray16{Y: 500})
	fn := filepath.Join(t.TempDir(), "plain.png")
	test.That(t, WriteImageToFile(fn, img, false), test.ShouldBeNil)

	dm, scale, err := ReadDepthMapPNG(fn)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, scale, test.ShouldEqual, 1.)
	test.That(t, dm.GetDepth(1, 0), test.ShouldEqual, Depth(500))
}

func TestPNGText(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 3, 3))
	var buf bytes.Buffer
	text := map[string]string{"depth-scale": "0.5", "Comment": "stereo"}
	test.That(t, EncodePNGWithText(&buf, img, text, false), test.ShouldBeNil)

	read, err := ReadPNGText(bytes.NewReader(buf.Bytes()))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, read, test.ShouldResemble, text)

	// the stream is still a valid png
	decoded, _, err := image.Decode(bytes.NewReader(buf.Bytes()))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, decoded.Bounds(), test.ShouldResemble, img.Bounds())

	test.That(t, EncodePNGWithText(&buf, img, map[string]string{"": "x"}, false), test.ShouldNotBeNil)

	corrupted := append([]byte(nil), buf.Bytes()...)
	corrupted[40] ^= 0xff
	_, err = ReadPNGText(bytes.NewReader(corrupted))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestImageFiles(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 5, 4))
	src.SetNRGBA(2, 2, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	dir := t.TempDir()
	for _, ext := range []string{"png", "bmp", "jpg"} {
		fn := filepath.Join(dir, "frame."+ext)
		test.That(t, WriteImageToFile(fn, src, true), test.ShouldBeNil)
		cfg, err := ReadImageConfig(fn)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, cfg.Width, test.ShouldEqual, 5)
		test.That(t, cfg.Height, test.ShouldEqual, 4)

		gray, err := ReadGrayFromFile(fn)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, gray.Bounds(), test.ShouldResemble, image.Rect(0, 0, 5, 4))
	}
	gray, err := ReadGrayFromFile(filepath.Join(dir, "frame.png"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, gray.GrayAt(2, 2).Y, test.ShouldEqual, 255)
	test.That(t, gray.GrayAt(0, 0).Y, test.ShouldEqual, 0)

	test.That(t, WriteImageToFile(filepath.Join(dir, "frame.xyz"), src, true), test.ShouldNotBeNil)
	_, err = ReadImageFromFile(filepath.Join(dir, "missing.png"))
	test.That(t, err, test.ShouldNotBeNil)
}
