package calibration

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"
)

func TestNewConfigFromJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calibration.json")
	data := `{
		"squares_x": 10,
		"squares_y": 7,
		"edge_size": 24.5,
		"channels": {"ir_left": "left", "ir_right": "right", "color": "color"},
		"detection": {"window_size": 5},
		"max_rms": 0.5
	}`
	test.That(t, os.WriteFile(path, []byte(data), 0o600), test.ShouldBeNil)

	cfg, err := NewConfigFromJSONFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Validate("calibration"), test.ShouldBeNil)
	test.That(t, cfg.EdgeSize, test.ShouldEqual, 24.5)
	test.That(t, cfg.Channels.Dir(IRRight), test.ShouldEqual, "right")
	test.That(t, cfg.Detection.WindowSize, test.ShouldEqual, 5)
	// unset fields keep their defaults
	test.That(t, cfg.Detection.MaxIterations, test.ShouldEqual, 40)
	test.That(t, cfg.Solver, test.ShouldResemble, DefaultSolverConfig())
	test.That(t, cfg.MaxRMS, test.ShouldEqual, 0.5)

	target, err := cfg.Target()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, target.Len(), test.ShouldEqual, 54)

	_, err = NewConfigFromJSONFile(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, os.WriteFile(path, []byte("{"), 0o600), test.ShouldBeNil)
	_, err = NewConfigFromJSONFile(path)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestConfigValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		modify func(*Config)
		errMsg string
	}{
		{"squares x", func(c *Config) { c.SquaresX = 1 }, "squares_x"},
		{"squares y", func(c *Config) { c.SquaresY = 0 }, "squares_y"},
		{"edge", func(c *Config) { c.EdgeSize = -1 }, "edge_size"},
		{"max rms", func(c *Config) { c.MaxRMS = -0.1 }, "max_rms"},
		{"solver", func(c *Config) { c.Solver.MaxIterations = 0 }, "max_iterations"},
		{"channel missing", func(c *Config) { c.Channels.Color = "" }, "color"},
		{"channel shared", func(c *Config) { c.Channels.IRRight = c.Channels.IRLeft }, "share"},
		{"window", func(c *Config) { c.Detection.WindowSize = 0 }, "window_size"},
		{"termination", func(c *Config) { c.Detection.MaxIterations, c.Detection.Epsilon = 0, 0 }, "epsilon"},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			test.That(t, cfg.Validate("calibration"), test.ShouldBeNil)
			tc.modify(cfg)
			err := cfg.Validate("calibration")
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.errMsg)
		})
	}
}

func TestChannels(t *testing.T) {
	names := DefaultChannelNames()
	test.That(t, names.Dir(IRLeft), test.ShouldEqual, "ir-left")
	test.That(t, names.Dir(Color), test.ShouldEqual, "rgb")
	test.That(t, Color.String(), test.ShouldEqual, "color")
	test.That(t, Channel(7).String(), test.ShouldEqual, "unknown")
	test.That(t, names.Dir(Channel(7)), test.ShouldEqual, "")
}
