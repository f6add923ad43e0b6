package plotlod

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gogpu/plotlod/colormap"
	"github.com/gogpu/plotlod/gpu"
	"github.com/gogpu/plotlod/lod"
	"github.com/gogpu/plotlod/plot"
)

// GPU selection modes for Config.GPU.
const (
	GPUAuto = "auto" // open a hardware device, fall back to the CPU
	GPUOff  = "off"  // CPU only
	GPUSoft = "soft" // simulated device, for tests and demos
)

// Config holds the tunables of a Renderer. The zero value is not valid;
// start from DefaultConfig or load a YAML file with LoadConfig.
type Config struct {
	// DirectMax is the largest row count drawn point by point.
	DirectMax int `yaml:"direct_max"`
	// InstancedMax is the largest row count drawn with instancing.
	InstancedMax int `yaml:"instanced_max"`
	// AggregationGridCap caps the bin grid per axis.
	AggregationGridCap [2]uint32 `yaml:"aggregation_grid_cap"`
	// Hysteresis is the fraction of a threshold within which the
	// previous mode is kept.
	Hysteresis float64 `yaml:"hysteresis"`
	// DensityFactor bounds the LTTB target to DensityFactor points per pixel.
	DensityFactor int `yaml:"density_factor"`

	// GPUBudgetBytes is the device memory the buffer pool may hold.
	GPUBudgetBytes uint64 `yaml:"gpu_budget_bytes"`
	// GPU is one of GPUAuto, GPUOff, or GPUSoft.
	GPU string `yaml:"gpu"`

	// AsyncThresholdRows is the row count above which LTTB and binning
	// run on the worker pool.
	AsyncThresholdRows int `yaml:"async_threshold_rows"`
	// Workers sizes the worker pool. Zero means GOMAXPROCS.
	Workers int `yaml:"workers"`

	// ViewportBucket quantizes viewports for cache keys to span/N steps.
	// Zero quantizes to one pixel.
	ViewportBucket int `yaml:"viewport_bucket"`
	// CacheEntries bounds the number of cached frames.
	CacheEntries int `yaml:"cache_entries"`
	// CacheBytes bounds the cached frame memory. Zero is unbounded.
	CacheBytes int64 `yaml:"cache_bytes"`

	// Colormap names a preset (see colormap.Names).
	Colormap string `yaml:"colormap"`
	// Scale is linear, log, or mean.
	Scale string `yaml:"scale"`
	// Badge draws the mode badge onto every frame.
	Badge bool `yaml:"badge"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	th := lod.DefaultThresholds()
	return Config{
		DirectMax:          th.DirectMax,
		InstancedMax:       th.InstancedMax,
		AggregationGridCap: [2]uint32{th.GridCapX, th.GridCapY},
		Hysteresis:         th.Hysteresis,
		DensityFactor:      th.DensityFactor,
		GPUBudgetBytes:     gpu.DefaultBudgetBytes,
		GPU:                GPUAuto,
		AsyncThresholdRows: 1_000_000,
		ViewportBucket:     0,
		CacheEntries:       256,
		CacheBytes:         512 << 20,
		Colormap:           "viridis",
		Scale:              "linear",
		Badge:              true,
	}
}

// ParseConfig reads YAML over DefaultConfig. Keys absent from data keep
// their defaults; unknown keys are rejected.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parse config: %w: %w", plot.ErrConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads a YAML config file over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Thresholds returns the LOD thresholds of c.
func (c Config) Thresholds() lod.Thresholds {
	return lod.Thresholds{
		DirectMax:     c.DirectMax,
		InstancedMax:  c.InstancedMax,
		GridCapX:      c.AggregationGridCap[0],
		GridCapY:      c.AggregationGridCap[1],
		DensityFactor: c.DensityFactor,
		Hysteresis:    c.Hysteresis,
	}
}

// Validate checks c. Errors wrap ErrConfiguration.
func (c Config) Validate() error {
	if err := c.Thresholds().Validate(); err != nil {
		return err
	}
	switch {
	case c.GPUBudgetBytes == 0:
		return fmt.Errorf("gpu_budget_bytes must be positive: %w", plot.ErrConfiguration)
	case c.AsyncThresholdRows < 0:
		return fmt.Errorf("async_threshold_rows %d is negative: %w", c.AsyncThresholdRows, plot.ErrConfiguration)
	case c.Workers < 0:
		return fmt.Errorf("workers %d is negative: %w", c.Workers, plot.ErrConfiguration)
	case c.ViewportBucket < 0:
		return fmt.Errorf("viewport_bucket %d is negative: %w", c.ViewportBucket, plot.ErrConfiguration)
	case c.CacheEntries <= 0:
		return fmt.Errorf("cache_entries must be positive: %w", plot.ErrConfiguration)
	case c.CacheBytes < 0:
		return fmt.Errorf("cache_bytes %d is negative: %w", c.CacheBytes, plot.ErrConfiguration)
	}
	switch c.GPU {
	case GPUAuto, GPUOff, GPUSoft:
	default:
		return fmt.Errorf("gpu %q is not auto, off, or soft: %w", c.GPU, plot.ErrConfiguration)
	}
	if _, err := colormap.ByName(c.Colormap); err != nil {
		return err
	}
	if _, err := colormap.ParseScale(c.Scale); err != nil {
		return err
	}
	return nil
}

// colormap returns the configured colormap with its scale.
func (c Config) colormap() (*colormap.Colormap, error) {
	cm, err := colormap.ByName(c.Colormap)
	if err != nil {
		return nil, err
	}
	scale, err := colormap.ParseScale(c.Scale)
	if err != nil {
		return nil, err
	}
	return cm.WithScale(scale), nil
}
