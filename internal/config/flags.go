package config

import "flag"

var (
	flagConfig         = flag.String("config", "", "Path to config file")
	flagDebug          = flag.Bool("debug", false, "Enable debug logging")
	flagOutput         = flag.String("o", "", "Output container path")
	flagWorkers        = flag.Int("workers", 0, "Parallel workers")
	flagMaxVertexCount = flag.Int("max-vertex-count", 0, "Vertex cache slots of the target")
	flagNormalFormat   = flag.String("normal-format", "", "Normal packing: 565 or 555")
	flagNoStrips       = flag.Bool("no-strips", false, "Disable strip encoding")
	flagNoBVH          = flag.Bool("no-bvh", false, "Do not emit a bounding volume hierarchy")
	flagDumpConfig     = flag.Bool("dump-config", false, "Print the effective config and exit")
	flagSaveConfig     = flag.Bool("save-config", false, "Write the effective config to the config file and exit")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// DumpRequested reports whether -dump-config was given.
func DumpRequested() bool {
	return *flagDumpConfig
}

// SaveRequested reports whether -save-config was given.
func SaveRequested() bool {
	return *flagSaveConfig
}

// Args returns the positional arguments.
func Args() []string {
	return flag.Args()
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagOutput != "" {
		cfg.Build.Output = *flagOutput
	}
	if *flagWorkers > 0 {
		cfg.Build.Workers = *flagWorkers
	}
	if *flagMaxVertexCount > 0 {
		cfg.Target.MaxVertexCount = *flagMaxVertexCount
	}
	if *flagNormalFormat != "" {
		cfg.Target.NormalFormat = *flagNormalFormat
	}
	if *flagNoStrips {
		cfg.Strips.Enabled = false
	}
	if *flagNoBVH {
		cfg.BVH.Enabled = false
	}
}
