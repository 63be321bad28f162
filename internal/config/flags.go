package config

import "github.com/spf13/pflag"

// Flags holds command-line overrides. Zero values mean "not set".
type Flags struct {
	Config       string
	Debug        bool
	LODDistance  float32
	CullDistance float32
	Frames       int
	Depth        int
	Loader       string
	Metrics      string
	LogFile      string
}

// Bind registers the override flags on fs.
func (f *Flags) Bind(fs *pflag.FlagSet) {
	fs.StringVar(&f.Config, "config", "", "Path to config file")
	fs.BoolVar(&f.Debug, "debug", false, "Enable debug logging")
	fs.Float32Var(&f.LODDistance, "lod-distance", 0, "Relative screen height for high detail")
	fs.Float32Var(&f.CullDistance, "cull-distance", 0, "Relative screen height below which trees are released")
	fs.IntVar(&f.Frames, "frames", 0, "Number of frames to simulate")
	fs.IntVar(&f.Depth, "depth", 0, "Depth of the generated quadtree")
	fs.StringVar(&f.Loader, "loader", "", "Resource loader: async or default")
	fs.StringVar(&f.Metrics, "metrics", "", "Serve Prometheus metrics on this address")
	fs.StringVar(&f.LogFile, "log-file", "", "Write logs to this file")
}

// apply applies CLI flag overrides to the config.
func (f *Flags) apply(cfg *Config) {
	if f.Debug {
		cfg.Logging.Level = "debug"
	}
	if f.LODDistance > 0 {
		cfg.Streaming.LODDistance = f.LODDistance
	}
	if f.CullDistance > 0 {
		cfg.Streaming.CullDistance = f.CullDistance
	}
	if f.Frames > 0 {
		cfg.Simulation.Frames = f.Frames
	}
	if f.Depth > 0 {
		cfg.Simulation.Depth = f.Depth
	}
	if f.Loader != "" {
		cfg.Loader.Kind = f.Loader
	}
	if f.Metrics != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = f.Metrics
	}
	if f.LogFile != "" {
		cfg.Logging.LogFile = f.LogFile
	}
}
