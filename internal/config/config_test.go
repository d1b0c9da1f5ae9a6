package config

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"go.uber.org/multierr"

	"github.com/Faultbox/chunkforge/pkg/model"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Target.MaxVertexCount != 70 {
		t.Errorf("expected max vertex count 70, got %d", cfg.Target.MaxVertexCount)
	}
	if cfg.Target.NormalFormat != "565" {
		t.Errorf("expected normal format 565, got %s", cfg.Target.NormalFormat)
	}
	if !cfg.Strips.Enabled || cfg.Strips.Buffers != 4 || cfg.Strips.MaxBufferLen != 255 {
		t.Errorf("unexpected strip defaults: %+v", cfg.Strips)
	}
	if cfg.Animation.MaxGlobalMSE != 2e-5 || cfg.Animation.MaxLocalMSE != 1e-4 {
		t.Errorf("unexpected animation thresholds: %+v", cfg.Animation)
	}
	if !cfg.BVH.Enabled || cfg.BVH.MaxLeafPrims != 4 {
		t.Errorf("unexpected bvh defaults: %+v", cfg.BVH)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.Logging.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "chunkforge.yaml")

	yamlContent := `
target:
  max_vertex_count: 32
  normal_format: "555"

strips:
  enabled: false

animation:
  sample_rate: 30
  max_local_mse: 0.001

bvh:
  max_leaf_prims: 2

build:
  workers: 8
  output: "out/scene.ckf"

logging:
  level: "debug"
  log_file: "build.log"
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg := Default()
	if err := loadFromFile(cfg, configPath); err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Target.MaxVertexCount != 32 {
		t.Errorf("expected max vertex count 32, got %d", cfg.Target.MaxVertexCount)
	}
	if cfg.Target.PositionScale != 64 {
		t.Errorf("unset keys should keep defaults, got position scale %v", cfg.Target.PositionScale)
	}
	if cfg.Target.NormalFormat != "555" {
		t.Errorf("expected normal format 555, got %s", cfg.Target.NormalFormat)
	}
	if cfg.Strips.Enabled {
		t.Error("expected strips to be disabled")
	}
	if cfg.Animation.SampleRate != 30 || cfg.Animation.MaxLocalMSE != 0.001 {
		t.Errorf("unexpected animation config: %+v", cfg.Animation)
	}
	if cfg.BVH.MaxLeafPrims != 2 {
		t.Errorf("expected max leaf prims 2, got %d", cfg.BVH.MaxLeafPrims)
	}
	if cfg.Build.Workers != 8 || cfg.Build.Output != "out/scene.ckf" {
		t.Errorf("unexpected build config: %+v", cfg.Build)
	}
	if cfg.Logging.LogFile != "build.log" {
		t.Errorf("expected log file 'build.log', got %s", cfg.Logging.LogFile)
	}
}

func TestLoadFromFileInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"syntax", "target:\n  max_vertex_count: not a number\n  invalid syntax here\n"},
		{"unknown key", "target:\n  max_vertex_cnt: 32\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), "invalid.yaml")
			if err := os.WriteFile(configPath, []byte(tt.yaml), 0644); err != nil {
				t.Fatalf("failed to write test config: %v", err)
			}
			if err := loadFromFile(Default(), configPath); err == nil {
				t.Error("expected error loading invalid YAML, got nil")
			}
		})
	}
}

func TestLoadFromFileEmpty(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(configPath, nil, 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	cfg := Default()
	if err := loadFromFile(cfg, configPath); err != nil {
		t.Fatalf("empty file should load: %v", err)
	}
	if cfg.Target.MaxVertexCount != 70 {
		t.Errorf("expected defaults to survive, got %d", cfg.Target.MaxVertexCount)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	cfg := Default()
	if err := loadFromFile(cfg, "/nonexistent/path/chunkforge.yaml"); err == nil {
		t.Error("expected error loading missing file, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   []string
	}{
		{"odd capacity", func(c *Config) { c.Target.MaxVertexCount = 71 }, []string{"max_vertex_count 71"}},
		{"normal format", func(c *Config) { c.Target.NormalFormat = "888" }, []string{`normal_format "888"`}},
		{"disabled strips skip checks", func(c *Config) { c.Strips.Enabled = false; c.Strips.Buffers = 9 }, nil},
		{"leaf size", func(c *Config) { c.BVH.MaxLeafPrims = 16 }, []string{"max_leaf_prims 16"}},
		{"several", func(c *Config) {
			c.Build.Workers = 0
			c.Logging.Level = "loud"
			c.Animation.SampleRate = 0
		}, []string{"sample_rate", "workers", `logging.level "loud"`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if len(tt.want) == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error")
			}
			if got := len(multierr.Errors(err)); got != len(tt.want) {
				t.Errorf("expected %d errors, got %d: %v", len(tt.want), got, err)
			}
			if !errors.Is(err, ErrInvalid) || !errors.Is(err, model.ErrInput) {
				t.Errorf("error should classify as invalid input: %v", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error %q should mention %q", err, w)
				}
			}
		})
	}
}

func TestConfigDir(t *testing.T) {
	dir := ConfigDir()
	if dir == "" {
		t.Error("ConfigDir returned empty string")
	}
	if !filepath.IsAbs(dir) {
		t.Errorf("ConfigDir should return absolute path, got %s", dir)
	}
}

func TestFindConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Chdir(t.TempDir())

	if path := findConfigFile(); path != "" {
		t.Errorf("expected empty path when no config exists, got %s", path)
	}

	if err := os.WriteFile(FileName, []byte("build:\n  workers: 2\n"), 0644); err != nil {
		t.Fatalf("failed to create test config: %v", err)
	}
	if path := findConfigFile(); path == "" {
		t.Error("expected to find chunkforge.yaml in current directory")
	}
}

func TestApplyFlags(t *testing.T) {
	tests := []struct {
		name     string
		setup    func()
		verify   func(*Config)
		teardown func()
	}{
		{
			name:  "debug flag",
			setup: func() { *flagDebug = true },
			verify: func(cfg *Config) {
				if cfg.Logging.Level != "debug" {
					t.Errorf("expected log level 'debug', got %s", cfg.Logging.Level)
				}
			},
			teardown: func() { *flagDebug = false },
		},
		{
			name:  "output flag",
			setup: func() { *flagOutput = "x.ckf" },
			verify: func(cfg *Config) {
				if cfg.Build.Output != "x.ckf" {
					t.Errorf("expected output x.ckf, got %s", cfg.Build.Output)
				}
			},
			teardown: func() { *flagOutput = "" },
		},
		{
			name: "target flags",
			setup: func() {
				*flagMaxVertexCount = 40
				*flagNormalFormat = "555"
			},
			verify: func(cfg *Config) {
				if cfg.Target.MaxVertexCount != 40 || cfg.Target.NormalFormat != "555" {
					t.Errorf("unexpected target config: %+v", cfg.Target)
				}
			},
			teardown: func() {
				*flagMaxVertexCount = 0
				*flagNormalFormat = ""
			},
		},
		{
			name: "disable flags",
			setup: func() {
				*flagNoStrips = true
				*flagNoBVH = true
			},
			verify: func(cfg *Config) {
				if cfg.Strips.Enabled || cfg.BVH.Enabled {
					t.Error("expected strips and bvh to be disabled")
				}
			},
			teardown: func() {
				*flagNoStrips = false
				*flagNoBVH = false
			},
		},
		{
			name:  "workers flag",
			setup: func() { *flagWorkers = 16 },
			verify: func(cfg *Config) {
				if cfg.Build.Workers != 16 {
					t.Errorf("expected 16 workers, got %d", cfg.Build.Workers)
				}
			},
			teardown: func() { *flagWorkers = 0 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			defer tt.teardown()

			cfg := Default()
			applyFlags(cfg)
			tt.verify(cfg)
		})
	}
}

func TestSaveToAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "chunkforge.yaml")
	cfg := Default()
	cfg.Target.MaxVertexCount = 48
	cfg.BVH.Enabled = false

	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}
	loaded := Default()
	if err := loadFromFile(loaded, path); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if *loaded != *cfg {
		t.Errorf("reloaded config differs:\n got %+v\nwant %+v", loaded, cfg)
	}
}

func TestSaveUsesConfigDir(t *testing.T) {
	if runtime.GOOS == "darwin" || runtime.GOOS == "windows" {
		t.Skip("config dir is not taken from XDG_CONFIG_HOME")
	}
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	cfg := Default()
	cfg.Build.Workers = 3
	path, err := cfg.Save()
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	want := filepath.Join(dir, "chunkforge", FileName)
	if path != want {
		t.Errorf("saved to %s, want %s", path, want)
	}
	loaded := Default()
	if err := loadFromFile(loaded, path); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Build.Workers != 3 {
		t.Errorf("expected 3 workers after reload, got %d", loaded.Build.Workers)
	}
}

func TestDump(t *testing.T) {
	var buf bytes.Buffer
	if err := Default().Dump(&buf); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	out := buf.String()
	for _, key := range []string{"max_vertex_count: 70", "normal_format: \"565\"", "max_buffer_len: 255", "level: info"} {
		if !strings.Contains(out, key) {
			t.Errorf("dump should contain %q:\n%s", key, out)
		}
	}
}
