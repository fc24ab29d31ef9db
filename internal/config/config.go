package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/nekomi2/LiftedGAN/internal/utils"
	"github.com/nekomi2/LiftedGAN/pkg/sweep"
	"github.com/nekomi2/LiftedGAN/pkg/tensor"
)

// EnvPrefix prefixes environment overrides, e.g. LIFTEDGAN_GENERATION_BATCH_SIZE.
const EnvPrefix = "LIFTEDGAN"

// Config holds the application configuration
type Config struct {
	Generation GenerationConfig `json:"generation" mapstructure:"generation"`
	Sweep      SweepConfig      `json:"sweep" mapstructure:"sweep"`
	Backend    BackendConfig    `json:"backend" mapstructure:"backend"`
	Output     OutputConfig     `json:"output" mapstructure:"output"`
}

// GenerationConfig holds sampling and batching settings
type GenerationConfig struct {
	NSamples   int     `json:"n_samples" mapstructure:"n_samples"`
	BatchSize  int     `json:"batch_size" mapstructure:"batch_size"`
	Truncation float64 `json:"truncation" mapstructure:"truncation"`
	// Seed 0 picks a time-based seed at startup.
	Seed     uint64 `json:"seed" mapstructure:"seed"`
	Rounding string `json:"rounding" mapstructure:"rounding"`
}

// SweepConfig holds the lighting sweep in degrees
type SweepConfig struct {
	Min  float64 `json:"min" mapstructure:"min"`
	Max  float64 `json:"max" mapstructure:"max"`
	Step float64 `json:"step" mapstructure:"step"`
}

// BackendConfig selects the model implementation
type BackendConfig struct {
	Kind   string `json:"kind" mapstructure:"kind"`
	URL    string `json:"url" mapstructure:"url"`
	Device string `json:"device" mapstructure:"device"`
}

// OutputConfig holds configuration for artifact generation
type OutputConfig struct {
	Dir      string `json:"dir" mapstructure:"dir"`
	Format   string `json:"format" mapstructure:"format"`
	Size     int    `json:"size" mapstructure:"size"`
	Delay    int    `json:"delay" mapstructure:"delay"`
	Quality  int    `json:"quality" mapstructure:"quality"`
	Lossless bool   `json:"lossless" mapstructure:"lossless"`
	Dither   bool   `json:"dither" mapstructure:"dither"`
}

// Backend kinds.
const (
	BackendSynthetic = "synthetic"
	BackendHTTP      = "http"
	BackendGRPC      = "grpc"
)

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Generation: GenerationConfig{
			NSamples:   100,
			BatchSize:  16,
			Truncation: 0.7,
			Rounding:   tensor.Floor.String(),
		},
		Sweep: SweepConfig{
			Min:  sweep.Default.Min,
			Max:  sweep.Default.Max,
			Step: sweep.Default.Step,
		},
		Backend: BackendConfig{
			Kind:   BackendSynthetic,
			Device: "cuda:0",
		},
		Output: OutputConfig{
			Format:  "gif",
			Delay:   10,
			Quality: 90,
		},
	}
}

// Load reads defaults, then filename if it is not empty, then LIFTEDGAN_*
// environment overrides. The file format follows its extension.
func Load(filename string) (*Config, error) {
	v := newViper(Default())
	if filename != "" {
		v.SetConfigFile(filename)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &config, nil
}

// LoadFromFile loads configuration from a file, with environment overrides applied
func LoadFromFile(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("config file name is empty")
	}
	return Load(filename)
}

// SaveToFile saves configuration to a file; json, yaml and toml are
// chosen by extension
func (c *Config) SaveToFile(filename string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(filename)
	if err := utils.EnsureDir(dir); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	for key, value := range c.settings() {
		v.Set(key, value)
	}
	if err := v.WriteConfigAs(filename); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Generation.NSamples < 0 {
		return fmt.Errorf("generation.n_samples must be non-negative")
	}

	if c.Generation.BatchSize < 1 {
		return fmt.Errorf("generation.batch_size must be positive")
	}

	if !(c.Generation.Truncation >= 0 && c.Generation.Truncation <= 1) {
		return fmt.Errorf("generation.truncation must be between 0 and 1")
	}

	if _, err := tensor.ParseRounding(c.Generation.Rounding); err != nil {
		return fmt.Errorf("generation.rounding: %w", err)
	}

	if err := c.SweepSpec().Validate(); err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	switch c.Backend.Kind {
	case BackendSynthetic, BackendHTTP, BackendGRPC:
	default:
		return fmt.Errorf("backend.kind must be one of synthetic, http, grpc; got %q", c.Backend.Kind)
	}

	switch strings.ToLower(c.Output.Format) {
	case "gif", "png", "jpg", "jpeg", "webp":
	default:
		return fmt.Errorf("output.format must be one of gif, png, jpg, webp; got %q", c.Output.Format)
	}

	if c.Output.Size < 0 {
		return fmt.Errorf("output.size must be non-negative")
	}

	if c.Output.Delay < 0 {
		return fmt.Errorf("output.delay must be non-negative")
	}

	if c.Output.Quality < 0 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 0 and 100")
	}

	return nil
}

// SweepSpec returns the sweep section as a RangeSpec.
func (c *Config) SweepSpec() sweep.RangeSpec {
	return sweep.RangeSpec{Min: c.Sweep.Min, Max: c.Sweep.Max, Step: c.Sweep.Step}
}

// ResolvePath returns explicit when set, otherwise GetConfigPath() if that
// file exists, otherwise "" (defaults and environment only).
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if p := GetConfigPath(); utils.FileExists(p) {
		return p
	}
	return ""
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "liftedgan", "config.json")
}

func newViper(defaults *Config) *viper.Viper {
	v := viper.New()
	for key, value := range defaults.settings() {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// settings flattens c into viper keys.
func (c *Config) settings() map[string]interface{} {
	return map[string]interface{}{
		"generation.n_samples":  c.Generation.NSamples,
		"generation.batch_size": c.Generation.BatchSize,
		"generation.truncation": c.Generation.Truncation,
		"generation.seed":       c.Generation.Seed,
		"generation.rounding":   c.Generation.Rounding,
		"sweep.min":             c.Sweep.Min,
		"sweep.max":             c.Sweep.Max,
		"sweep.step":            c.Sweep.Step,
		"backend.kind":          c.Backend.Kind,
		"backend.url":           c.Backend.URL,
		"backend.device":        c.Backend.Device,
		"output.dir":            c.Output.Dir,
		"output.format":         c.Output.Format,
		"output.size":           c.Output.Size,
		"output.delay":          c.Output.Delay,
		"output.quality":        c.Output.Quality,
		"output.lossless":       c.Output.Lossless,
		"output.dither":         c.Output.Dither,
	}
}
