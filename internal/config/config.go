// Package config handles compiler configuration loading and management.
package config

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/Faultbox/chunkforge/pkg/model"
	"github.com/Faultbox/chunkforge/pkg/vertex"
)

// Config holds all compiler settings.
type Config struct {
	Target    TargetConfig    `yaml:"target"`
	Strips    StripsConfig    `yaml:"strips"`
	Animation AnimationConfig `yaml:"animation"`
	BVH       BVHConfig       `yaml:"bvh"`
	Build     BuildConfig     `yaml:"build"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// TargetConfig describes the runtime the container is built for.
type TargetConfig struct {
	MaxVertexCount int     `yaml:"max_vertex_count"` // Vertex cache slots
	PositionScale  float32 `yaml:"position_scale"`   // World units to fixed point
	NormalFormat   string  `yaml:"normal_format"`    // "565" or "555"
}

// StripsConfig holds strip encoder limits.
type StripsConfig struct {
	Enabled      bool `yaml:"enabled"`
	Buffers      int  `yaml:"buffers"`
	MaxBufferLen int  `yaml:"max_buffer_len"`
	SlotBytes    int  `yaml:"slot_bytes"`
	MinTotal     int  `yaml:"min_total"`
}

// AnimationConfig holds keyframe compression settings.
type AnimationConfig struct {
	SampleRate     float32 `yaml:"sample_rate"`
	TicksPerSecond float32 `yaml:"ticks_per_second"`
	// MaxGlobalMSE and MaxLocalMSE bound the decimation error. Rotation
	// errors are absolute in quaternion units. Translation and scale errors
	// are relative: they are divided by the square of the channel's value
	// range, so 1e-4 on a channel spanning 1000 units allows an absolute
	// MSE of 100.
	MaxGlobalMSE float64 `yaml:"max_global_mse"`
	MaxLocalMSE  float64 `yaml:"max_local_mse"`
	Epsilon      float32 `yaml:"epsilon"`
}

// BVHConfig holds hierarchy construction settings.
type BVHConfig struct {
	Enabled       bool    `yaml:"enabled"`
	MaxLeafPrims  int     `yaml:"max_leaf_prims"`
	Bins          int     `yaml:"bins"`
	TraversalCost float32 `yaml:"traversal_cost"`
}

// BuildConfig holds output and scheduling settings.
type BuildConfig struct {
	Output    string `yaml:"output"`     // Container path; derived from the input when empty
	StreamDir string `yaml:"stream_dir"` // Keyframe stream directory; next to the output when empty
	Workers   int    `yaml:"workers"`    // Parallel objects and channels
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with the settings of the reference runtime.
func Default() *Config {
	return &Config{
		Target: TargetConfig{
			MaxVertexCount: 70,
			PositionScale:  64,
			NormalFormat:   "565",
		},
		Strips: StripsConfig{
			Enabled:      true,
			Buffers:      4,
			MaxBufferLen: 255,
			SlotBytes:    16,
			MinTotal:     12,
		},
		Animation: AnimationConfig{
			SampleRate:     60,
			TicksPerSecond: 60,
			MaxGlobalMSE:   2e-5,
			MaxLocalMSE:    1e-4,
			Epsilon:        1e-5,
		},
		BVH: BVHConfig{
			Enabled:       true,
			MaxLeafPrims:  4,
			Bins:          12,
			TraversalCost: 1,
		},
		Build: BuildConfig{
			Workers: 4,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = fmt.Errorf("%w: invalid configuration", model.ErrInput)

// Validate reports every out-of-range setting.
func (c *Config) Validate() error {
	var err error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			err = multierr.Append(err, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	t := c.Target
	check(t.MaxVertexCount >= 6 && t.MaxVertexCount <= 254 && t.MaxVertexCount%2 == 0,
		"target.max_vertex_count %d must be even and in [6, 254]", t.MaxVertexCount)
	check(t.PositionScale > 0, "target.position_scale must be positive")
	_, ok := vertex.ParseNormalFormat(t.NormalFormat)
	check(ok, "target.normal_format %q", t.NormalFormat)

	if c.Strips.Enabled {
		s := c.Strips
		check(s.Buffers >= 1 && s.Buffers <= 4, "strips.buffers %d must be in [1, 4]", s.Buffers)
		check(s.MaxBufferLen >= 3 && s.MaxBufferLen <= 255, "strips.max_buffer_len %d must be in [3, 255]", s.MaxBufferLen)
		check(s.SlotBytes > 0, "strips.slot_bytes must be positive")
	}

	a := c.Animation
	check(a.SampleRate > 0, "animation.sample_rate must be positive")
	check(a.TicksPerSecond > 0 && a.TicksPerSecond <= 0xFFFF, "animation.ticks_per_second %v out of range", a.TicksPerSecond)
	check(a.MaxGlobalMSE >= 0 && a.MaxLocalMSE >= 0, "animation error bounds must not be negative")

	if c.BVH.Enabled {
		check(c.BVH.MaxLeafPrims >= 1 && c.BVH.MaxLeafPrims <= 15, "bvh.max_leaf_prims %d must be in [1, 15]", c.BVH.MaxLeafPrims)
		check(c.BVH.Bins >= 2, "bvh.bins must be at least 2")
	}
	check(c.Build.Workers >= 1, "build.workers must be at least 1")

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		check(false, "logging.level %q", c.Logging.Level)
	}
	return err
}
