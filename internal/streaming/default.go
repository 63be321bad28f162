package streaming

import (
	"context"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-hlod/internal/hlod"
	"github.com/Faultbox/midgard-hlod/internal/logger"
)

// DefaultController serves objects that are already in memory. Every Get
// completes inside the call.
type DefaultController struct {
	high []hlod.Object
	low  []hlod.Object
	log  *zap.Logger
}

// NewDefaultController creates an empty controller.
func NewDefaultController() *DefaultController {
	return &DefaultController{log: logger.Named("streaming")}
}

// AddHighObject registers o and returns its id.
func (c *DefaultController) AddHighObject(o hlod.Object) int {
	c.high = append(c.high, o)
	return len(c.high) - 1
}

// AddLowObject registers o and returns its id.
func (c *DefaultController) AddLowObject(o hlod.Object) int {
	c.low = append(c.low, o)
	return len(c.low) - 1
}

// Install hides every object before the first frame.
func (c *DefaultController) Install() {
	for _, o := range c.high {
		o.SetActive(false)
	}
	for _, o := range c.low {
		o.SetActive(false)
	}
}

func (c *DefaultController) GetHighObject(_ context.Context, req hlod.LoadRequest, onLoaded func(hlod.Object)) {
	c.get(c.high, KindHigh, req, onLoaded)
}

func (c *DefaultController) GetLowObject(_ context.Context, req hlod.LoadRequest, onLoaded func(hlod.Object)) {
	c.get(c.low, KindLow, req, onLoaded)
}

func (c *DefaultController) get(objs []hlod.Object, kind Kind, req hlod.LoadRequest, onLoaded func(hlod.Object)) {
	if req.ID < 0 || req.ID >= len(objs) {
		c.log.Warn("unknown object requested", zap.Stringer("kind", kind), zap.Int("id", req.ID))
		return
	}
	onLoaded(objs[req.ID])
}

func (c *DefaultController) ReleaseHighObject(id int) {
	if id >= 0 && id < len(c.high) {
		c.high[id].SetActive(false)
	}
}

func (c *DefaultController) ReleaseLowObject(id int) {
	if id >= 0 && id < len(c.low) {
		c.low[id].SetActive(false)
	}
}

func (c *DefaultController) HighObjectCount() int { return len(c.high) }
func (c *DefaultController) LowObjectCount() int  { return len(c.low) }
