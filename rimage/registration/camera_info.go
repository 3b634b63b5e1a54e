package registration

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/stereocal/rimage/bundle"
	"go.viam.com/stereocal/rimage/transform"
)

// CameraInfoFilename is the name of the camera description written next to registered frames.
const CameraInfoFilename = "camera.json"

// CameraInfo describes the camera of registered depth frames. Scale is the fixed depth scale, or
// 1 when every frame carries its own.
type CameraInfo struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
	Scale  float64 `json:"scale"`
}

// NewCameraInfo describes the rectified left camera of b.
func NewCameraInfo(b *bundle.Bundle, fixedScale float64) *CameraInfo {
	scale := fixedScale
	if !(scale > 0) {
		scale = 1
	}
	return &CameraInfo{
		Width:  b.Width,
		Height: b.Height,
		Fx:     b.Intrinsic.At(0, 0),
		Fy:     b.Intrinsic.At(1, 1),
		Ppx:    b.Intrinsic.At(0, 2),
		Ppy:    b.Intrinsic.At(1, 2),
		Scale:  scale,
	}
}

// Intrinsics returns the camera as pinhole intrinsics.
func (ci *CameraInfo) Intrinsics() *transform.PinholeCameraIntrinsics {
	return &transform.PinholeCameraIntrinsics{
		Width: ci.Width, Height: ci.Height, Fx: ci.Fx, Fy: ci.Fy, Ppx: ci.Ppx, Ppy: ci.Ppy,
	}
}

// WriteCameraInfo saves ci as indented JSON.
func WriteCameraInfo(path string, ci *CameraInfo) error {
	data, err := json.MarshalIndent(ci, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// ReadCameraInfo loads and validates a camera description.
func ReadCameraInfo(path string) (*CameraInfo, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "error opening camera description")
	}
	defer utils.UncheckedErrorFunc(f.Close)

	var ci CameraInfo
	if err := json.NewDecoder(f).Decode(&ci); err != nil {
		return nil, errors.Wrapf(err, "error parsing %s", path)
	}
	if err := ci.Intrinsics().CheckValid(); err != nil {
		return nil, errors.Wrap(err, path)
	}
	return &ci, nil
}
