package rimage

import (
	"image"
	"image/color"
	// register the jpeg decoder.
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	// register the ppm decoder.
	_ "github.com/lmittmann/ppm"
	"github.com/pkg/errors"
	"github.com/xfmoulet/qoi"
	"go.uber.org/multierr"
	"go.viam.com/utils"
	// register the bmp decoder.
	_ "golang.org/x/image/bmp"
)

// ReadImageFromFile decodes a PNG, JPEG, BMP, PPM or QOI file. The concrete image type is the
// decoder's, so a 16-bit grayscale PNG comes back as *image.Gray16.
func ReadImageFromFile(fn string) (image.Image, error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot decode %s", fn)
	}
	return img, nil
}

// ReadImageConfig returns the dimensions and color model of an image file without decoding
// the pixel data.
func ReadImageConfig(fn string) (image.Config, error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return image.Config{}, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return image.Config{}, errors.Wrapf(err, "cannot read the header of %s", fn)
	}
	return cfg, nil
}

// ReadGrayFromFile decodes an image file and converts it to 8-bit luminance.
func ReadGrayFromFile(fn string) (*image.Gray, error) {
	img, err := ReadImageFromFile(fn)
	if err != nil {
		return nil, err
	}
	return ToGray(img), nil
}

// ToGray converts any image to 8-bit luminance with the ITU-R 601 weights. The result always
// starts at (0, 0).
func ToGray(img image.Image) *image.Gray {
	bounds := img.Bounds()
	if gray, ok := img.(*image.Gray); ok && bounds.Min == (image.Point{}) {
		return gray
	}
	out := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			out.SetGray(x-bounds.Min.X, y-bounds.Min.Y, color.GrayModel.Convert(img.At(x, y)).(color.Gray))
		}
	}
	return out
}

// WriteImageToFile encodes img in the format given by the file extension (png, jpg, jpeg, bmp,
// qoi). With optimize set, PNG files use the best compression.
func WriteImageToFile(fn string, img image.Image, optimize bool) (err error) {
	isQOI := strings.EqualFold(filepath.Ext(fn), ".qoi")
	var format imaging.Format
	if !isQOI {
		if format, err = imaging.FormatFromFilename(fn); err != nil {
			return err
		}
	}
	opts := []imaging.EncodeOption{imaging.JPEGQuality(95)}
	if optimize {
		opts = append(opts, imaging.PNGCompressionLevel(png.BestCompression))
	}

	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	if isQOI {
		return qoi.Encode(f, img)
	}
	return imaging.Encode(f, img, format, opts...)
}
