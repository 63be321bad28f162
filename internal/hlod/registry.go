package hlod

import (
	"slices"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-hlod/internal/camera"
)

// FrameSource delivers one camera view per rendered frame, on the frame
// thread.
type FrameSource interface {
	Subscribe(fn func(camera.View)) (unsubscribe func())
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// Frames drives OnFrame. It is subscribed on the first Register.
	// With no source the host calls OnFrame itself.
	Frames FrameSource
	// Recognizer decides which camera drives streaming. Nil accepts every
	// view.
	Recognizer *camera.Recognizer
	Logger     *zap.Logger
}

// Registry updates every registered tree once per frame from the
// authorized camera. It is owned by the frame thread and is not safe for
// concurrent use.
type Registry struct {
	trees       []*Tree
	frames      FrameSource
	recognizer  *camera.Recognizer
	unsubscribe func()
	log         *zap.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{
		frames:     opts.Frames,
		recognizer: opts.Recognizer,
		log:        log,
	}
}

// Register starts t if needed and adds it to the frame loop. The frame
// source is subscribed once, on the first registration.
func (r *Registry) Register(t *Tree) {
	if r.unsubscribe == nil && r.frames != nil {
		r.unsubscribe = r.frames.Subscribe(r.OnFrame)
		r.log.Debug("subscribed to frame source")
	}
	if slices.Contains(r.trees, t) {
		return
	}
	t.Start()
	r.trees = append(r.trees, t)
	r.log.Info("tree registered", zap.String("tree", t.Name()), zap.Int("trees", len(r.trees)))
}

// Unregister removes t from the frame loop and stops it.
func (r *Registry) Unregister(t *Tree) {
	i := slices.Index(r.trees, t)
	if i < 0 {
		return
	}
	r.trees = slices.Delete(r.trees, i, i+1)
	t.Stop()
	r.log.Info("tree unregistered", zap.String("tree", t.Name()), zap.Int("trees", len(r.trees)))
}

// Trees returns the registered trees.
func (r *Registry) Trees() []*Tree {
	return slices.Clone(r.trees)
}

// OnFrame updates every tree from view unless the camera is not the one
// authorized to drive streaming.
func (r *Registry) OnFrame(view camera.View) {
	if r.recognizer != nil && !r.recognizer.Authorized(view.ID) {
		return
	}
	for _, t := range r.trees {
		t.UpdateCull(view)
	}
}

// IsFullyLoaded reports whether every registered tree is load-done. An
// empty registry is fully loaded.
func (r *Registry) IsFullyLoaded() bool {
	for _, t := range r.trees {
		if !t.IsLoadDone() {
			return false
		}
	}
	return true
}

// LoadProgress returns the fraction of ready nodes across all trees.
func (r *Registry) LoadProgress() float32 {
	var ready, total int
	for _, t := range r.trees {
		rd, tt := t.LoadProgress()
		ready += rd
		total += tt
	}
	if total == 0 {
		return 1
	}
	return float32(ready) / float32(total)
}

// Shutdown unsubscribes from the frame source and stops every tree.
func (r *Registry) Shutdown() {
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
	for _, t := range r.trees {
		t.Stop()
	}
	r.log.Info("registry shut down", zap.Int("trees", len(r.trees)))
	r.trees = nil
}
