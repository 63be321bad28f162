// Package config handles streaming configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds all settings for the LOD streaming runtime and its simulator.
type Config struct {
	Streaming  StreamingConfig  `yaml:"streaming"`
	Camera     CameraConfig     `yaml:"camera"`
	Loader     LoaderConfig     `yaml:"loader"`
	Simulation SimulationConfig `yaml:"simulation"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// StreamingConfig holds the LOD thresholds applied to every tree.
type StreamingConfig struct {
	LODDistance  float32 `yaml:"lod_distance"`  // Relative screen height above which a node targets high detail
	CullDistance float32 `yaml:"cull_distance"` // Relative screen height below which a whole tree is released
	StallFrames  int     `yaml:"stall_frames"`  // Frames a transition may stay pending before it is reported
}

// CameraConfig holds projection settings for the driving camera.
type CameraConfig struct {
	FieldOfView      float32 `yaml:"fov"` // Vertical, degrees
	Orthographic     bool    `yaml:"orthographic"`
	OrthographicSize float32 `yaml:"ortho_size"`
	LODBias          float32 `yaml:"lod_bias"`
	Recognized       string  `yaml:"recognized"` // ID of the camera allowed to drive culling
}

// Loader kinds.
const (
	LoaderAsync   = "async"   // Background loads delivered on the next frames
	LoaderDefault = "default" // Every object resident up front, loads complete at once
)

// LoaderConfig holds resource loader settings.
type LoaderConfig struct {
	Kind          string        `yaml:"kind"` // async or default
	MaxConcurrent int           `yaml:"max_concurrent"`
	Latency       time.Duration `yaml:"latency"` // Simulated per-object load time
	Retries       int           `yaml:"retries"`
	CacheSize     int           `yaml:"cache_size"` // Released objects kept resident for instant reuse
}

// SimulationConfig holds settings for the headless frame-loop simulator.
type SimulationConfig struct {
	Frames         int     `yaml:"frames"`
	Trees          int     `yaml:"trees"` // Laid out on a square grid
	FPS            int     `yaml:"fps"`   // 0 runs frames back to back
	Depth          int     `yaml:"depth"`
	ChunkSize      float32 `yaml:"chunk_size"`
	ObjectsPerNode int     `yaml:"objects_per_node"`
	OrbitRadius    float32 `yaml:"orbit_radius"`
	OrbitHeight    float32 `yaml:"orbit_height"`
	OrbitSpeed     float32 `yaml:"orbit_speed"` // Radians per frame
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Streaming: StreamingConfig{
			LODDistance:  0.3,
			CullDistance: 0.01,
			StallFrames:  300,
		},
		Camera: CameraConfig{
			FieldOfView:      60,
			Orthographic:     false,
			OrthographicSize: 5,
			LODBias:          1,
			Recognized:       "main",
		},
		Loader: LoaderConfig{
			Kind:          LoaderAsync,
			MaxConcurrent: 4,
			Latency:       20 * time.Millisecond,
			Retries:       2,
			CacheSize:     64,
		},
		Simulation: SimulationConfig{
			Frames:         600,
			Trees:          4,
			FPS:            60,
			Depth:          3,
			ChunkSize:      30,
			ObjectsPerNode: 2,
			OrbitRadius:    400,
			OrbitHeight:    40,
			OrbitSpeed:     0.01,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Listen:  ":9090",
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}

// Validate checks that the values can drive a streaming runtime.
func (c *Config) Validate() error {
	var errs []error
	if c.Streaming.LODDistance <= 0 {
		errs = append(errs, fmt.Errorf("streaming.lod_distance must be positive, got %v", c.Streaming.LODDistance))
	}
	if c.Streaming.CullDistance < 0 || c.Streaming.CullDistance >= c.Streaming.LODDistance {
		errs = append(errs, fmt.Errorf("streaming.cull_distance must be in [0, lod_distance), got %v", c.Streaming.CullDistance))
	}
	if c.Streaming.StallFrames < 1 {
		errs = append(errs, fmt.Errorf("streaming.stall_frames must be at least 1, got %d", c.Streaming.StallFrames))
	}
	if c.Camera.Orthographic {
		if c.Camera.OrthographicSize <= 0 {
			errs = append(errs, fmt.Errorf("camera.ortho_size must be positive, got %v", c.Camera.OrthographicSize))
		}
	} else if c.Camera.FieldOfView <= 0 || c.Camera.FieldOfView >= 180 {
		errs = append(errs, fmt.Errorf("camera.fov must be in (0, 180), got %v", c.Camera.FieldOfView))
	}
	if c.Camera.LODBias <= 0 {
		errs = append(errs, fmt.Errorf("camera.lod_bias must be positive, got %v", c.Camera.LODBias))
	}
	if c.Loader.Kind != LoaderAsync && c.Loader.Kind != LoaderDefault {
		errs = append(errs, fmt.Errorf("loader.kind must be %q or %q, got %q", LoaderAsync, LoaderDefault, c.Loader.Kind))
	}
	if c.Loader.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("loader.max_concurrent must be at least 1, got %d", c.Loader.MaxConcurrent))
	}
	if c.Loader.Retries < 0 {
		errs = append(errs, fmt.Errorf("loader.retries must not be negative, got %d", c.Loader.Retries))
	}
	if c.Loader.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("loader.cache_size must not be negative, got %d", c.Loader.CacheSize))
	}
	if c.Simulation.Trees < 1 {
		errs = append(errs, fmt.Errorf("simulation.trees must be at least 1, got %d", c.Simulation.Trees))
	}
	if c.Simulation.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("simulation.chunk_size must be positive, got %v", c.Simulation.ChunkSize))
	}
	if c.Simulation.FPS < 0 {
		errs = append(errs, fmt.Errorf("simulation.fps must not be negative, got %d", c.Simulation.FPS))
	}
	if c.Simulation.Depth < 0 {
		errs = append(errs, fmt.Errorf("simulation.depth must not be negative, got %d", c.Simulation.Depth))
	}
	return errors.Join(errs...)
}
