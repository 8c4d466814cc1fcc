// Package config provides configuration loading and management for the cosmic-ray locator.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Audit policies for frames with a suspicious number of flagged pixels
const (
	AuditPrompt = "prompt"
	AuditKeep   = "keep"
	AuditReset  = "reset"
)

// Replacement policies for writing cleaned copies of the science files
const (
	ReplacePrompt = "prompt"
	ReplaceYes    = "yes"
	ReplaceNo     = "no"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Detection parameters
	Detection struct {
		// PixelClip is the outlier threshold in units of the residual standard deviation
		PixelClip float64 `yaml:"pixelClip"`

		// FrameClip is the multiple of the median flagged count above which a frame is reviewed
		FrameClip float64 `yaml:"frameClip"`

		// NumCores specifies how many goroutines scan the pixel grid
		NumCores int `yaml:"numCores"`

		// MaxPlots bounds the number of per-pixel diagnostic plots
		MaxPlots int `yaml:"maxPlots"`
	} `yaml:"detection"`

	// Input parameters
	Input struct {
		BiasFrame    string `yaml:"biasFrame"`
		BadPixelMask string `yaml:"badPixelMask"`

		// MultiIntegration reads stacked integrations from an image extension
		MultiIntegration bool `yaml:"multiIntegration"`

		// Extension is the EXTNAME holding the integrations in multi-integration mode
		Extension string `yaml:"extension"`
	} `yaml:"input"`

	// Output parameters
	Output struct {
		// WorkDir receives the mask, plots and report
		WorkDir string `yaml:"workDir"`

		// CleanedDir receives cosmic-cleaned copies of the science files
		CleanedDir string `yaml:"cleanedDir"`

		// LedgerPath is the SQLite run ledger; empty disables it
		LedgerPath string `yaml:"ledgerPath"`

		Verbose     bool `yaml:"verbose"`
		SaveCosmics bool `yaml:"saveCosmics"`
		SaveFrames  bool `yaml:"saveFrames"`
		Report      bool `yaml:"report"`
	} `yaml:"output"`

	// Review controls the operator checkpoints
	Review struct {
		Audit   string `yaml:"audit"`
		Replace string `yaml:"replace"`
	} `yaml:"review"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Detection.PixelClip = 5.0
	cfg.Detection.FrameClip = 3.0
	cfg.Detection.NumCores = runtime.NumCPU()
	cfg.Detection.MaxPlots = 20

	cfg.Input.Extension = "SCI"

	cfg.Output.WorkDir = "locate_cosmics"
	cfg.Output.CleanedDir = filepath.Join("..", "science_files_cosmic_cleaned")
	cfg.Output.LedgerPath = filepath.Join("locate_cosmics", "runs.db")
	cfg.Output.Report = true

	cfg.Review.Audit = AuditPrompt
	cfg.Review.Replace = ReplacePrompt

	return cfg
}

// Validate checks value ranges and policy names
func (c *Config) Validate() error {
	if c.Detection.PixelClip <= 0 {
		return fmt.Errorf("pixelClip must be positive, got %g", c.Detection.PixelClip)
	}
	if c.Detection.FrameClip <= 0 {
		return fmt.Errorf("frameClip must be positive, got %g", c.Detection.FrameClip)
	}
	if c.Detection.NumCores < 1 {
		return fmt.Errorf("numCores must be at least 1, got %d", c.Detection.NumCores)
	}
	if c.Detection.MaxPlots < 0 {
		return fmt.Errorf("maxPlots must not be negative, got %d", c.Detection.MaxPlots)
	}
	if c.Input.MultiIntegration && c.Input.Extension == "" {
		return fmt.Errorf("multi-integration input needs an extension name")
	}
	if c.Output.WorkDir == "" {
		return fmt.Errorf("workDir must not be empty")
	}
	switch c.Review.Audit {
	case AuditPrompt, AuditKeep, AuditReset:
	default:
		return fmt.Errorf("unknown audit policy %q (want %s, %s or %s)", c.Review.Audit, AuditPrompt, AuditKeep, AuditReset)
	}
	switch c.Review.Replace {
	case ReplacePrompt, ReplaceYes, ReplaceNo:
	default:
		return fmt.Errorf("unknown replace policy %q (want %s, %s or %s)", c.Review.Replace, ReplacePrompt, ReplaceYes, ReplaceNo)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath == "" {
		return cfg, nil
	}

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
