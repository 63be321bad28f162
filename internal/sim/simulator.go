package sim

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/chewxy/math32"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/midgard-hlod/internal/camera"
	"github.com/Faultbox/midgard-hlod/internal/config"
	"github.com/Faultbox/midgard-hlod/internal/hlod"
	"github.com/Faultbox/midgard-hlod/internal/logger"
	"github.com/Faultbox/midgard-hlod/internal/streaming"
	"github.com/Faultbox/midgard-hlod/pkg/math"
)

// Options configures a Simulator beyond the config file.
type Options struct {
	// ConfigPath is watched for edits when set; distance changes apply
	// live.
	ConfigPath string
	Flags      *config.Flags
	// Registry receives every collector. Nil creates a private one.
	Registry *prometheus.Registry
	// Validate audits tree invariants after every frame.
	Validate bool
}

// Report summarizes a run.
type Report struct {
	Frames          int
	Trees           int
	Nodes           int
	FirstLoadFrame  int // -1 if never fully loaded
	LoadedAtEnd     bool
	PeakVisible     int64
	Stalls          int
	InvariantErrors int
	Elapsed         time.Duration
}

// Simulator drives a registry of streaming trees from an orbiting camera.
type Simulator struct {
	cfg  *config.Config
	opts Options
	log  *zap.Logger

	bus         *FrameBus
	registry    *hlod.Registry
	recognizer  *camera.Recognizer
	camera      *camera.OrbitCamera
	trees       []*hlod.Tree
	controllers []*streaming.AsyncController
	promReg     *prometheus.Registry
	visible     atomic.Int64

	reloads chan *config.Config
}

// New builds the world described by cfg: a square grid of quadtree chunks,
// each streamed by its own controller of the configured loader kind.
func New(cfg *config.Config, opts Options) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}

	s := &Simulator{
		cfg:        cfg,
		opts:       opts,
		log:        logger.Named("sim"),
		bus:        NewFrameBus(),
		recognizer: camera.NewRecognizer(cfg.Camera.Recognized),
		promReg:    opts.Registry,
		reloads:    make(chan *config.Config, 1),
	}
	s.registry = hlod.NewRegistry(hlod.RegistryOptions{
		Frames:     s.bus,
		Recognizer: s.recognizer,
		Logger:     logger.Named("hlod"),
	})

	if cfg.Metrics.Enabled {
		opts.Registry.MustRegister(collectors.NewGoCollector())
	}
	treeMetrics := hlod.NewMetrics(opts.Registry)
	loadMetrics := streaming.NewMetrics(opts.Registry)

	sim := cfg.Simulation
	chunk := sim.ChunkSize * float32(int(1)<<sim.Depth)
	side := int(math32.Ceil(math32.Sqrt(float32(sim.Trees))))
	origin := -float32(side-1) * chunk / 2

	for i := 0; i < sim.Trees; i++ {
		gx, gz := i%side, i/side
		name := fmt.Sprintf("chunk-%d-%d", gx, gz)

		placement := math.Translate(origin+float32(gx)*chunk, 0, origin+float32(gz)*chunk)
		tree, ctrl, err := s.buildChunk(name, chunk, placement, treeMetrics, loadMetrics)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.trees = append(s.trees, tree)
		if ctrl != nil {
			s.controllers = append(s.controllers, ctrl)
		}
	}

	s.camera = camera.NewOrbitCamera(cfg.Camera.Recognized)
	s.camera.Radius = sim.OrbitRadius
	s.camera.Height = sim.OrbitHeight
	s.camera.FieldOfView = cfg.Camera.FieldOfView

	s.log.Info("world built",
		zap.Int("trees", len(s.trees)),
		zap.Int("depth", sim.Depth),
		zap.Float32("chunk_size", chunk),
	)
	return s, nil
}

func (s *Simulator) buildChunk(name string, size float32, placement math.Mat4, tm *hlod.Metrics, lm *streaming.Metrics) (*hlod.Tree, *streaming.AsyncController, error) {
	sim := s.cfg.Simulation
	c := hlod.NewContainer()
	bounds := math.NewBounds(math.Vec3{}, math.Vec3{X: size, Y: size / 4, Z: size})
	layout, err := BuildQuadTree(c, bounds, sim.Depth, sim.ObjectsPerNode)
	if err != nil {
		return nil, nil, fmt.Errorf("chunk %s: %w", name, err)
	}

	var (
		ctrl  hlod.ResourceController
		async *streaming.AsyncController
	)
	switch s.cfg.Loader.Kind {
	case config.LoaderDefault:
		ctrl = residentController(name, layout, &s.visible)
	default:
		async, err = streaming.NewAsyncController(streaming.AsyncOptions{
			Name:          name,
			HighCount:     layout.HighCount,
			LowCount:      layout.LowCount,
			Load:          ProxyLoader(name, s.cfg.Loader.Latency, &s.visible),
			MaxConcurrent: s.cfg.Loader.MaxConcurrent,
			Retries:       s.cfg.Loader.Retries,
			RetryDelay:    s.cfg.Loader.Latency,
			CacheSize:     s.cfg.Loader.CacheSize,
			Logger:        logger.Named("streaming"),
			Metrics:       lm,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("chunk %s: %w", name, err)
		}
		ctrl = async
	}

	tree, err := hlod.NewTree(c, layout.Root, ctrl, hlod.NewQuadTreeSpaceManager(s.cfg.Camera.LODBias), hlod.TreeOptions{
		Name:         name,
		LODDistance:  s.cfg.Streaming.LODDistance,
		CullDistance: s.cfg.Streaming.CullDistance,
		StallFrames:  s.cfg.Streaming.StallFrames,
		Transform:    placement,
		Logger:       logger.Named("hlod"),
		Metrics:      tm,
	})
	if err != nil {
		if async != nil {
			async.Close()
		}
		return nil, nil, fmt.Errorf("chunk %s: %w", name, err)
	}
	return tree, async, nil
}

// Trees returns the simulated trees.
func (s *Simulator) Trees() []*hlod.Tree { return s.trees }

// Registry returns the registry driving the trees.
func (s *Simulator) Registry() *hlod.Registry { return s.registry }

// Camera returns the orbiting camera.
func (s *Simulator) Camera() *camera.OrbitCamera { return s.camera }

// Visible returns how many proxies are shown.
func (s *Simulator) Visible() int64 { return s.visible.Load() }

// Start registers every tree with the registry, which subscribes it to
// the frame bus. Run calls it; it only needs calling directly to drive
// frames with Step.
func (s *Simulator) Start() {
	for _, t := range s.trees {
		s.registry.Register(t)
	}
}

// Run registers every tree and runs the frame loop until the configured
// number of frames is done or ctx is cancelled. The metrics server and the
// config watcher, when enabled, run alongside and stop with the loop.
func (s *Simulator) Run(ctx context.Context) (Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.Start()

	g, ctx := errgroup.WithContext(ctx)
	if s.cfg.Metrics.Enabled {
		s.serveMetrics(ctx, g)
	}
	if s.opts.ConfigPath != "" {
		g.Go(func() error {
			return config.Watch(ctx, s.opts.ConfigPath, s.opts.Flags, func(cfg *config.Config) {
				select {
				case s.reloads <- cfg:
				default:
					// A newer edit replaces one the loop has not seen yet.
					select {
					case <-s.reloads:
					default:
					}
					s.reloads <- cfg
				}
			})
		})
	}

	var report Report
	g.Go(func() error {
		defer cancel()
		var err error
		report, err = s.loop(ctx)
		return err
	})

	err := g.Wait()
	return report, err
}

func (s *Simulator) serveMetrics(ctx context.Context, g *errgroup.Group) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{Registry: s.promReg}))
	srv := &http.Server{
		Addr:              s.cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		s.log.Info("serving metrics", zap.String("listen", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func (s *Simulator) loop(ctx context.Context) (Report, error) {
	sim := s.cfg.Simulation
	report := Report{
		Trees:          len(s.trees),
		FirstLoadFrame: -1,
	}
	for _, t := range s.trees {
		report.Nodes += t.NodeCount()
	}

	var tick <-chan time.Time
	if sim.FPS > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(sim.FPS))
		defer ticker.Stop()
		tick = ticker.C
	}

	start := time.Now()
	fpsTimer := start
	frameCount := 0

	s.log.Info("starting frame loop", zap.Int("frames", sim.Frames), zap.Int("fps", sim.FPS))

	for frame := 0; frame < sim.Frames; frame++ {
		select {
		case <-ctx.Done():
			report.Elapsed = time.Since(start)
			return report, ctx.Err()
		case cfg := <-s.reloads:
			s.apply(cfg)
		default:
		}
		if tick != nil {
			select {
			case <-ctx.Done():
				report.Elapsed = time.Since(start)
				return report, ctx.Err()
			case <-tick:
			}
		}

		s.Step()
		report.Frames++

		if report.FirstLoadFrame < 0 && s.registry.IsFullyLoaded() {
			report.FirstLoadFrame = frame
			s.log.Info("world fully loaded", zap.Int("frame", frame))
		}
		if v := s.visible.Load(); v > report.PeakVisible {
			report.PeakVisible = v
		}
		if s.opts.Validate {
			for _, t := range s.trees {
				if err := t.Validate(); err != nil {
					report.InvariantErrors++
					s.log.Error("invariant violated", zap.String("tree", t.Name()), zap.Error(err))
				}
			}
		}

		frameCount++
		if time.Since(fpsTimer) >= time.Second {
			s.log.Debug("fps",
				zap.Int("count", frameCount),
				zap.Float32("progress", s.registry.LoadProgress()),
				zap.Int64("visible", s.visible.Load()),
			)
			frameCount = 0
			fpsTimer = time.Now()
		}
	}

	for _, t := range s.trees {
		report.Stalls += len(t.Diagnostics())
	}
	report.LoadedAtEnd = s.registry.IsFullyLoaded()
	report.Elapsed = time.Since(start)
	s.log.Info("frame loop finished",
		zap.Int("frames", report.Frames),
		zap.Bool("loaded", report.LoadedAtEnd),
		zap.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

// Step advances the camera and publishes one frame.
func (s *Simulator) Step() {
	s.camera.Advance(s.cfg.Simulation.OrbitSpeed)
	view := s.camera.View()
	view.Orthographic = s.cfg.Camera.Orthographic
	view.OrthographicSize = s.cfg.Camera.OrthographicSize
	s.bus.Publish(view)
}

// apply takes the live-tunable part of a reloaded config.
func (s *Simulator) apply(cfg *config.Config) {
	s.cfg.Streaming.LODDistance = cfg.Streaming.LODDistance
	s.cfg.Streaming.CullDistance = cfg.Streaming.CullDistance
	s.cfg.Simulation.OrbitSpeed = cfg.Simulation.OrbitSpeed
	for _, t := range s.trees {
		t.SetDistances(cfg.Streaming.LODDistance, cfg.Streaming.CullDistance)
	}
	s.log.Info("distances updated",
		zap.Float32("lod_distance", cfg.Streaming.LODDistance),
		zap.Float32("cull_distance", cfg.Streaming.CullDistance),
	)
}

// Close stops every tree and releases the loaders.
func (s *Simulator) Close() {
	s.registry.Shutdown()
	for _, c := range s.controllers {
		c.Close()
	}
	s.log.Info("simulator closed")
}
