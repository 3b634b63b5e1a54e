package calibration

import (
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// Channel is one of the three sensors of an RGBD stereo rig.
type Channel int

const (
	// IRLeft is the left infrared camera, the reference of the rig.
	IRLeft Channel = iota
	// IRRight is the right infrared camera.
	IRRight
	// Color is the RGB camera.
	Color

	numChannels = 3
)

// Channels lists every channel in processing order.
var Channels = []Channel{IRLeft, IRRight, Color}

func (c Channel) String() string {
	switch c {
	case IRLeft:
		return "ir-left"
	case IRRight:
		return "ir-right"
	case Color:
		return "color"
	}
	return "unknown"
}

// ChannelNames are the dataset sub directories holding the frames of each channel.
type ChannelNames struct {
	IRLeft  string `json:"ir_left"`
	IRRight string `json:"ir_right"`
	Color   string `json:"color"`
}

// DefaultChannelNames returns the directory layout written by the capture tools.
func DefaultChannelNames() ChannelNames {
	return ChannelNames{IRLeft: "ir-left", IRRight: "ir-right", Color: "rgb"}
}

// Dir returns the directory name of a channel.
func (n ChannelNames) Dir(c Channel) string {
	switch c {
	case IRLeft:
		return n.IRLeft
	case IRRight:
		return n.IRRight
	case Color:
		return n.Color
	}
	return ""
}

// Validate ensures every channel has its own directory.
func (n ChannelNames) Validate(path string) error {
	seen := map[string]Channel{}
	for _, c := range Channels {
		dir := n.Dir(c)
		if dir == "" {
			return utils.NewConfigValidationFieldRequiredError(path, c.String())
		}
		if other, ok := seen[dir]; ok {
			return utils.NewConfigValidationError(path,
				errors.Errorf("channels %s and %s share the directory %q", other, c, dir))
		}
		seen[dir] = c
	}
	return nil
}
