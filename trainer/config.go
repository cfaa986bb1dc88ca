package trainer

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/photonml/photon/pkg/errors"
)

// Config carries the run settings the checkpoint connector depends on.
type Config struct {
	// MaxEpochs is the epoch ceiling; nil means unbounded.
	MaxEpochs *int `yaml:"max_epochs" toml:"max_epochs"`

	// MaxSteps is the optimizer-step ceiling; nil means unbounded.
	MaxSteps *int `yaml:"max_steps" toml:"max_steps"`

	// AccumulateGradBatches is the gradient accumulation factor; zero is
	// treated as 1.
	AccumulateGradBatches int `yaml:"accumulate_grad_batches" toml:"accumulate_grad_batches"`

	// NumTrainingBatches is the per-epoch training batch count, used to
	// flag mid-epoch resumes.
	NumTrainingBatches int `yaml:"num_training_batches" toml:"num_training_batches"`

	// WeightsSavePath is the directory scanned for rotation checkpoints.
	WeightsSavePath string `yaml:"weights_save_path" toml:"weights_save_path"`

	LogLevel string `yaml:"log_level" toml:"log_level"`
}

// DefaultConfig returns the default run settings.
func DefaultConfig() Config {
	return Config{
		AccumulateGradBatches: 1,
		WeightsSavePath:       "checkpoints",
		LogLevel:              "info",
	}
}

// LoadConfig reads a config file, dispatching on the extension: .yaml/.yml
// or .toml.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading config %s", path)
	}

	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parsing yaml config %s", path)
		}
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parsing toml config %s", path)
		}
	default:
		return cfg, errors.NewValueError("trainer.LoadConfig",
			"config must be a .yaml, .yml or .toml file")
	}

	if cfg.AccumulateGradBatches < 0 {
		return cfg, errors.NewValueError("trainer.LoadConfig",
			"accumulate_grad_batches must not be negative")
	}
	if cfg.WeightsSavePath == "" {
		cfg.WeightsSavePath = "checkpoints"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	return cfg, nil
}
