package rimage

import (
	"image"
	"image/color"
	"strconv"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/golang/geo/r2"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/font/gofont/goregular"
)

var font *truetype.Font

// init sets up the fonts we want to use.
func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Font returns the font we use for drawing.
func Font() *truetype.Font {
	return font
}

// DrawString writes a string to the given context at a particular point.
func DrawString(dc *gg.Context, text string, p image.Point, c color.Color, size float64) {
	dc.SetFontFace(truetype.NewFace(Font(), &truetype.Options{Size: size}))
	dc.SetColor(c)
	dc.DrawStringWrapped(text, float64(p.X), float64(p.Y), 0, 0, float64(dc.Width()), 1, 0)
}

// DrawCorners annotates a copy of img with chessboard corners. A complete detection is drawn
// as one colored polyline per row of the pattern, a partial one as red circles.
func DrawCorners(img image.Image, pattern image.Point, corners []r2.Point, found bool) image.Image {
	dc := gg.NewContextForImage(img)
	const radius = 4.
	dc.SetLineWidth(1)

	if !found || pattern.X <= 0 || len(corners) != pattern.X*pattern.Y {
		dc.SetColor(color.NRGBA{R: 255, A: 255})
		for _, c := range corners {
			dc.DrawCircle(c.X, c.Y, radius)
			dc.Stroke()
		}
		return dc.Image()
	}

	var prev *r2.Point
	for i := range corners {
		row := i / pattern.X
		hue := 360 * float64(row) / float64(pattern.Y)
		dc.SetColor(colorful.Hsv(hue, 1, 1))
		c := corners[i]
		if prev != nil {
			dc.DrawLine(prev.X, prev.Y, c.X, c.Y)
			dc.Stroke()
		}
		dc.DrawCircle(c.X, c.Y, radius)
		dc.Stroke()
		dc.DrawLine(c.X-radius, c.Y-radius, c.X+radius, c.Y+radius)
		dc.DrawLine(c.X-radius, c.Y+radius, c.X+radius, c.Y-radius)
		dc.Stroke()
		prev = &corners[i]
	}
	DrawString(dc, strconv.Itoa(len(corners)), image.Pt(5, 5), color.NRGBA{G: 255, A: 255}, 14)
	return dc.Image()
}
