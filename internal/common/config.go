// Package common provides shared configuration, error taxonomy and progress
// counters for the KI7MT AI Lab PFSS tools.
package common

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds common configuration for all applications.
type Config struct {
	DataDir   string `yaml:"data_dir"`
	OutputDir string `yaml:"output_dir"`
	LogLevel  string `yaml:"log_level"`

	ClickHouseHost     string `yaml:"clickhouse_host"`
	ClickHousePort     int    `yaml:"clickhouse_port"`
	ClickHouseDatabase string `yaml:"clickhouse_database"`
	ClickHouseUser     string `yaml:"clickhouse_user"`
	ClickHousePassword string `yaml:"clickhouse_password"`

	Model  ModelConfig  `yaml:"model"`
	Seeds  SeedConfig   `yaml:"seeds"`
	Tracer TracerConfig `yaml:"tracer"`
	Image  ImageConfig  `yaml:"image"`
}

// ModelConfig holds the PFSS input parameters.
type ModelConfig struct {
	NR      int     `yaml:"nr"`      // radial shell count
	RSS     float64 `yaml:"rss"`     // source-surface radius in solar radii
	Workers int     `yaml:"workers"` // solver goroutines, 0 = NumCPU
}

// SeedConfig describes the footpoint grid the tracer starts from.
type SeedConfig struct {
	SinLatMin float64 `yaml:"sin_lat_min"`
	SinLatMax float64 `yaml:"sin_lat_max"`
	LonMinDeg float64 `yaml:"lon_min_deg"`
	LonMaxDeg float64 `yaml:"lon_max_deg"`
	NLat      int     `yaml:"n_lat"`
	NLon      int     `yaml:"n_lon"`
	Radius    float64 `yaml:"radius"` // solar radii, just above the photosphere
}

// TracerConfig tunes the field-line integrator.
type TracerConfig struct {
	StepSize float64 `yaml:"step_size"` // solar radii; 0 picks a default from the grid
	MaxSteps int     `yaml:"max_steps"`
	Workers  int     `yaml:"workers"` // 0 = runtime.NumCPU()
}

// ImageConfig controls the observation image and figure output.
type ImageConfig struct {
	ResampleX    int     `yaml:"resample_x"` // 0 disables resampling
	ResampleY    int     `yaml:"resample_y"`
	FigureWidth  float64 `yaml:"figure_width"`  // inches
	FigureHeight float64 `yaml:"figure_height"` // inches
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir:            getEnv("PFSS_DATA_DIR", "."),
		OutputDir:          getEnv("PFSS_OUTPUT_DIR", "pfss-output"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		ClickHouseHost:     getEnv("CLICKHOUSE_HOST", "localhost"),
		ClickHousePort:     getEnvInt("CLICKHOUSE_PORT", 9000),
		ClickHouseDatabase: getEnv("CLICKHOUSE_DATABASE", "solar"),
		ClickHouseUser:     getEnv("CLICKHOUSE_USER", "default"),
		ClickHousePassword: getEnv("CLICKHOUSE_PASSWORD", ""),
		Model: ModelConfig{
			NR:  25,
			RSS: 2.5,
		},
		Seeds: SeedConfig{
			SinLatMin: 0.35,
			SinLatMax: 0.55,
			LonMinDeg: 60,
			LonMaxDeg: 100,
			NLat:      5,
			NLon:      5,
			Radius:    1.01,
		},
		Tracer: TracerConfig{
			MaxSteps: 10000,
		},
		Image: ImageConfig{
			ResampleX:    512,
			ResampleY:    512,
			FigureWidth:  8,
			FigureHeight: 6,
		},
	}
}

// LoadFile overlays a YAML file onto DefaultConfig. Keys missing from the
// file keep their default (or environment) value.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrInvalidConfig, filepath.Base(path), err)
	}
	return cfg, nil
}

// Validate checks the parameters the solve and trace steps depend on.
// It is cheap and must run before any download or solve.
func (c *Config) Validate() error {
	if c.Model.NR < 1 {
		return fmt.Errorf("%w: radial shell count must be >= 1, got %d", ErrInvalidConfig, c.Model.NR)
	}
	if !(c.Model.RSS > 1) || math.IsInf(c.Model.RSS, 1) {
		return fmt.Errorf("%w: source-surface radius must be > 1 solar radius, got %g", ErrInvalidConfig, c.Model.RSS)
	}

	s := c.Seeds
	if s.NLat < 1 || s.NLon < 1 {
		return fmt.Errorf("%w: seed counts must be >= 1, got %dx%d", ErrInvalidConfig, s.NLat, s.NLon)
	}
	if !finite(s.SinLatMin) || !finite(s.SinLatMax) ||
		s.SinLatMin < -1 || s.SinLatMax > 1 || s.SinLatMin > s.SinLatMax {
		return fmt.Errorf("%w: sine-latitude range [%g, %g] outside [-1, 1]", ErrInvalidConfig, s.SinLatMin, s.SinLatMax)
	}
	if !finite(s.LonMinDeg) || !finite(s.LonMaxDeg) {
		return fmt.Errorf("%w: longitude range [%g, %g] is not finite", ErrInvalidConfig, s.LonMinDeg, s.LonMaxDeg)
	}
	if s.LonMinDeg > s.LonMaxDeg {
		return fmt.Errorf("%w: longitude range [%g, %g] is inverted", ErrInvalidConfig, s.LonMinDeg, s.LonMaxDeg)
	}
	if !(s.Radius >= 1) || s.Radius > c.Model.RSS {
		return fmt.Errorf("%w: seed radius %g must lie in [1, %g]", ErrInvalidConfig, s.Radius, c.Model.RSS)
	}

	if c.Tracer.StepSize < 0 || !finite(c.Tracer.StepSize) {
		return fmt.Errorf("%w: tracer step size must be >= 0", ErrInvalidConfig)
	}
	if c.Tracer.MaxSteps < 1 {
		return fmt.Errorf("%w: tracer max steps must be >= 1", ErrInvalidConfig)
	}
	if c.Image.ResampleX < 0 || c.Image.ResampleY < 0 {
		return fmt.Errorf("%w: negative resample size", ErrInvalidConfig)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ClickHouseAddr returns host:port for the native protocol.
func (c *Config) ClickHouseAddr() string {
	return fmt.Sprintf("%s:%d", c.ClickHouseHost, c.ClickHousePort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
