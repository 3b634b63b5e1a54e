package calibration

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/stereocal/rimage"
	"go.viam.com/stereocal/rimage/transform"
)

const (
	rigWidth  = 320
	rigHeight = 240
	rigViews  = 10
	// absentMarker in the third pixel of a synthetic frame hides the board.
	absentMarker = 255
)

// testRig is a simulated RGBD rig looking at a 10x7 squares board from rigViews poses.
type testRig struct {
	target  *TargetModel
	cameras [numChannels]*transform.PinholeCameraModel
	// extrinsics map the left infrared frame into each camera frame.
	extrinsics [numChannels]*transform.CamPose
	views      []*transform.CamPose
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	target, err := NewTargetModelFromSquares(10, 7, 24)
	test.That(t, err, test.ShouldBeNil)

	camera := func(fx, fy, ppx, ppy float64, dist ...float64) *transform.PinholeCameraModel {
		bc, err := transform.NewBrownConrady(dist)
		test.That(t, err, test.ShouldBeNil)
		return &transform.PinholeCameraModel{
			PinholeCameraIntrinsics: &transform.PinholeCameraIntrinsics{
				Width: rigWidth, Height: rigHeight, Fx: fx, Fy: fy, Ppx: ppx, Ppy: ppy,
			},
			Distortion: bc,
		}
	}
	rig := &testRig{target: target}
	rig.cameras[IRLeft] = camera(300, 302, 160, 120, -0.05, 0.01)
	rig.cameras[IRRight] = camera(298, 299, 158, 121, -0.04)
	rig.cameras[Color] = camera(320, 321, 162, 118, 0.03)

	rig.extrinsics[IRLeft] = transform.NewCamPoseFromRodrigues(r3.Vector{}, r3.Vector{})
	rig.extrinsics[IRRight] = transform.NewCamPoseFromRodrigues(
		r3.Vector{X: 0.005, Y: -0.01, Z: 0.002}, r3.Vector{X: -50, Y: 0.2, Z: 0.5})
	rig.extrinsics[Color] = transform.NewCamPoseFromRodrigues(
		r3.Vector{X: 0.01, Y: 0.005, Z: -0.003}, r3.Vector{X: -15, Y: 0.5, Z: 1})

	for i := 0; i < rigViews; i++ {
		fi := float64(i)
		rig.views = append(rig.views, transform.NewCamPoseFromRodrigues(
			r3.Vector{X: 0.35 * math.Sin(fi), Y: 0.35 * math.Cos(1.3*fi), Z: 0.1 * math.Sin(0.7*fi)},
			r3.Vector{X: -96 + 20*math.Sin(fi), Y: -60 + 15*math.Cos(fi), Z: 450 + 10*fi},
		))
	}
	return rig
}

// corners returns the exact image of the board in view v seen by channel c.
func (rig *testRig) corners(c Channel, v int) []r2.Point {
	pose := rig.views[v].Then(rig.extrinsics[c])
	out := make([]r2.Point, 0, rig.target.Len())
	for _, p := range rig.target.Points() {
		out = append(out, rig.cameras[c].Project(pose.Transform(p)))
	}
	return out
}

// observations returns the corners of every view of a channel.
func (rig *testRig) observations(c Channel) *Observations {
	obs := &Observations{Channel: c}
	for v := range rig.views {
		obs.Frames = append(obs.Frames, FrameIndex(fmt.Sprintf("%04d", v)))
		obs.Corners = append(obs.Corners, rig.corners(c, v))
	}
	return obs
}

func frameName(v int) string {
	return fmt.Sprintf("%04d-%d.png", v, 1000+v)
}

// writeDataset saves one marker frame per channel and view under dir. A marker frame encodes
// its channel and view in its first pixels, tagDetector reads them back.
func (rig *testRig) writeDataset(t *testing.T, dir string, names ChannelNames) {
	t.Helper()
	for _, c := range Channels {
		test.That(t, os.MkdirAll(filepath.Join(dir, names.Dir(c)), 0o750), test.ShouldBeNil)
		for v := range rig.views {
			writeMarkerFrame(t, filepath.Join(dir, names.Dir(c), frameName(v)), rigWidth, rigHeight, c, v, false)
		}
	}
}

func writeMarkerFrame(t *testing.T, fn string, width, height int, c Channel, v int, absent bool) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	img.SetGray(0, 0, color.Gray{Y: uint8(c)})
	img.SetGray(1, 0, color.Gray{Y: uint8(v)})
	if absent {
		img.SetGray(2, 0, color.Gray{Y: absentMarker})
	}
	test.That(t, rimage.WriteImageToFile(fn, img, false), test.ShouldBeNil)
}

// tagDetector returns the simulated corners of the frame encoded in the image markers.
type tagDetector struct {
	rig *testRig
}

func (d *tagDetector) FindCorners(img *image.Gray, pattern image.Point) ([]r2.Point, error) {
	if pattern != d.rig.target.PatternSize() {
		return nil, errors.Errorf("unexpected pattern %v", pattern)
	}
	if img.GrayAt(2, 0).Y == absentMarker {
		return nil, ErrPatternNotFound
	}
	c, v := Channel(img.GrayAt(0, 0).Y), int(img.GrayAt(1, 0).Y)
	if int(c) >= numChannels || v >= len(d.rig.views) {
		return nil, errors.Errorf("bad markers %d %d", c, v)
	}
	return d.rig.corners(c, v), nil
}

// noisyDetector perturbs the color corners by a fraction of a pixel.
type noisyDetector struct {
	tagDetector
}

func (d *noisyDetector) FindCorners(img *image.Gray, pattern image.Point) ([]r2.Point, error) {
	corners, err := d.tagDetector.FindCorners(img, pattern)
	if err != nil || Channel(img.GrayAt(0, 0).Y) != Color {
		return corners, err
	}
	v := float64(img.GrayAt(1, 0).Y)
	for i := range corners {
		fi := float64(i)
		corners[i].X += 0.5 * math.Sin(1.7*fi+v)
		corners[i].Y += 0.5 * math.Cos(2.3*fi-v)
	}
	return corners, nil
}
