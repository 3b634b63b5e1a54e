package calibration

import (
	"encoding/json"
	"io"
	"os"

	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// Config describes a calibration run.
type Config struct {
	// SquaresX and SquaresY count the printed squares of the chessboard, not its corners.
	SquaresX int `json:"squares_x"`
	SquaresY int `json:"squares_y"`
	// EdgeSize is the side of one square, in the unit the bundle is expressed in.
	EdgeSize float64 `json:"edge_size"`

	Channels  ChannelNames    `json:"channels"`
	Detection DetectionConfig `json:"detection"`
	Solver    SolverConfig    `json:"solver"`

	FixIntrinsics bool `json:"fix_intrinsics"`
	// MaxRMS fails the run when a stereo reprojection error is larger. Zero disables the check.
	MaxRMS      float64 `json:"max_rms"`
	DebugImages bool    `json:"debug_images"`
}

// DefaultConfig returns a configuration with every tunable at its default. The board
// geometry is left unset.
func DefaultConfig() *Config {
	return &Config{
		Channels:  DefaultChannelNames(),
		Detection: DefaultDetectionConfig(),
		Solver:    DefaultSolverConfig(),
	}
}

// NewConfigFromJSONFile reads a configuration file on top of DefaultConfig.
func NewConfigFromJSONFile(jsonPath string) (*Config, error) {
	//nolint:gosec
	jsonFile, err := os.Open(jsonPath)
	if err != nil {
		return nil, errors.Wrap(err, "error opening JSON file")
	}
	defer utils.UncheckedErrorFunc(jsonFile.Close)
	byteValue, err := io.ReadAll(jsonFile)
	if err != nil {
		return nil, errors.Wrap(err, "error reading JSON data")
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(byteValue, cfg); err != nil {
		return nil, errors.Wrap(err, "error parsing JSON string")
	}
	return cfg, nil
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.SquaresX < 2 {
		return utils.NewConfigValidationError(path, errors.Errorf("squares_x must be at least 2, got %d", cfg.SquaresX))
	}
	if cfg.SquaresY < 2 {
		return utils.NewConfigValidationError(path, errors.Errorf("squares_y must be at least 2, got %d", cfg.SquaresY))
	}
	if !(cfg.EdgeSize > 0) {
		return utils.NewConfigValidationError(path, errors.Errorf("edge_size must be positive, got %v", cfg.EdgeSize))
	}
	if cfg.MaxRMS < 0 {
		return utils.NewConfigValidationError(path, errors.New("max_rms cannot be negative"))
	}
	if cfg.Solver.MaxIterations <= 0 {
		return utils.NewConfigValidationError(path, errors.New("solver max_iterations must be positive"))
	}
	if err := cfg.Channels.Validate(path + ".channels"); err != nil {
		return err
	}
	return cfg.Detection.Validate(path + ".detection")
}

// Target returns the model of the configured board.
func (cfg *Config) Target() (*TargetModel, error) {
	return NewTargetModelFromSquares(cfg.SquaresX, cfg.SquaresY, cfg.EdgeSize)
}
