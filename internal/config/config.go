// Package config loads slitscan settings from defaults, an optional YAML
// file, SLITSCAN_* environment variables and bound command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"slitscan/internal/pipeline"
	"slitscan/internal/seam"
)

// EnvPrefix prefixes every environment override, e.g. SLITSCAN_PIPELINE_FRAME_COUNT.
const EnvPrefix = "SLITSCAN"

type Config struct {
	LogLevel string         `mapstructure:"log_level"`
	Debug    bool           `mapstructure:"debug"`
	Source   string         `mapstructure:"source"`
	Capture  CaptureConfig  `mapstructure:"capture"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Output   OutputConfig   `mapstructure:"output"`
	Seam     SeamConfig     `mapstructure:"seam"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// CaptureConfig sets the live camera resolution. Zero keeps the device
// default.
type CaptureConfig struct {
	Width  int `mapstructure:"width"`
	Height int `mapstructure:"height"`
}

type PipelineConfig struct {
	FrameCount   int           `mapstructure:"frame_count"`
	DisplayFPS   int           `mapstructure:"display_fps"`
	MaxQueueSize int           `mapstructure:"max_queue_size"`
	Midline      string        `mapstructure:"midline"`
	Rotation     int           `mapstructure:"rotation"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
	CancelKey    int           `mapstructure:"cancel_key"`
	Headless     bool          `mapstructure:"headless"`
}

type OutputConfig struct {
	RawDir     string `mapstructure:"raw_dir"`
	CroppedDir string `mapstructure:"cropped_dir"`
}

type SeamConfig struct {
	BorderWidth int     `mapstructure:"border_width"`
	EdgeMargin  int     `mapstructure:"edge_margin"`
	MinScore    float64 `mapstructure:"min_score"`
	MinStdDev   float64 `mapstructure:"min_stddev"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// SetDefaults registers every key so that environment variables and
// Unmarshal see them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("debug", false)
	v.SetDefault("source", "0")

	v.SetDefault("capture.width", 0)
	v.SetDefault("capture.height", 0)

	v.SetDefault("pipeline.frame_count", 0)
	v.SetDefault("pipeline.display_fps", pipeline.DefaultDisplayFPS)
	v.SetDefault("pipeline.max_queue_size", pipeline.DefaultQueueSize)
	v.SetDefault("pipeline.midline", pipeline.MidlineHorizontal.String())
	v.SetDefault("pipeline.rotation", 0)
	v.SetDefault("pipeline.retry_delay", pipeline.DefaultRetryDelay)
	v.SetDefault("pipeline.cancel_key", pipeline.KeyEscape)
	v.SetDefault("pipeline.headless", false)

	v.SetDefault("output.raw_dir", "raw")
	v.SetDefault("output.cropped_dir", "cropped")

	v.SetDefault("seam.border_width", seam.DefaultBorderWidth)
	v.SetDefault("seam.edge_margin", seam.DefaultEdgeMargin)
	v.SetDefault("seam.min_score", seam.DefaultMinScore)
	v.SetDefault("seam.min_stddev", seam.DefaultMinStdDev)

	v.SetDefault("metrics.addr", "")
}

// Load reads the configuration. An explicit file must exist; otherwise
// slitscan.yaml is looked up in the working directory and in
// $HOME/.config/slitscan and is optional.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("slitscan")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "slitscan"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every invalid value at once.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.Capture.Width < 0 || c.Capture.Height < 0 {
		errs = append(errs, fmt.Errorf("capture resolution must not be negative: %dx%d", c.Capture.Width, c.Capture.Height))
	}
	if c.Pipeline.FrameCount < 0 {
		errs = append(errs, fmt.Errorf("pipeline.frame_count must not be negative: %d", c.Pipeline.FrameCount))
	}
	if c.Pipeline.DisplayFPS <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.display_fps must be positive: %d", c.Pipeline.DisplayFPS))
	}
	if c.Pipeline.MaxQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_queue_size must be positive: %d", c.Pipeline.MaxQueueSize))
	}
	if _, err := pipeline.ParseMidline(c.Pipeline.Midline); err != nil {
		errs = append(errs, err)
	}
	if c.Pipeline.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("pipeline.retry_delay must not be negative: %s", c.Pipeline.RetryDelay))
	}
	if c.Pipeline.CancelKey <= 0 || c.Pipeline.CancelKey > 0xff {
		errs = append(errs, fmt.Errorf("pipeline.cancel_key must be a key code in 1..255: %d", c.Pipeline.CancelKey))
	}
	if c.Output.RawDir == "" || c.Output.CroppedDir == "" {
		errs = append(errs, errors.New("output directories must be set"))
	} else if filepath.Clean(c.Output.RawDir) == filepath.Clean(c.Output.CroppedDir) {
		// Both images are named after the same timestamp.
		errs = append(errs, fmt.Errorf("output.raw_dir and output.cropped_dir must differ: %s", c.Output.RawDir))
	}
	if c.Seam.BorderWidth <= 0 {
		errs = append(errs, fmt.Errorf("seam.border_width must be positive: %d", c.Seam.BorderWidth))
	}
	if c.Seam.EdgeMargin < 0 {
		errs = append(errs, fmt.Errorf("seam.edge_margin must not be negative: %d", c.Seam.EdgeMargin))
	}
	if c.Seam.MinScore < -1 || c.Seam.MinScore > 1 {
		errs = append(errs, fmt.Errorf("seam.min_score must be within [-1, 1]: %g", c.Seam.MinScore))
	}
	return errors.Join(errs...)
}

// ProcessOptions returns the per-run pipeline options.
func (c *Config) ProcessOptions() pipeline.ProcessOptions {
	return pipeline.ProcessOptions{
		FrameCount:   c.Pipeline.FrameCount,
		DisplayFPS:   c.Pipeline.DisplayFPS,
		MaxQueueSize: c.Pipeline.MaxQueueSize,
	}
}

// ScannerSettings returns the scanner settings. Call after Validate.
func (c *Config) ScannerSettings() pipeline.Settings {
	midline, _ := pipeline.ParseMidline(c.Pipeline.Midline)
	return pipeline.Settings{
		Midline:    midline,
		Rotation:   c.Pipeline.Rotation,
		RetryDelay: c.Pipeline.RetryDelay,
		CancelKey:  c.Pipeline.CancelKey,
		OutputDir:  c.Output.RawDir,
		Debug:      c.Debug,
	}
}

func (c *Config) SeamOptions() seam.Options {
	return seam.Options{
		BorderWidth: c.Seam.BorderWidth,
		EdgeMargin:  c.Seam.EdgeMargin,
		MinScore:    c.Seam.MinScore,
		MinStdDev:   c.Seam.MinStdDev,
	}
}
