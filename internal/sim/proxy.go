package sim

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Faultbox/midgard-hlod/internal/hlod"
	"github.com/Faultbox/midgard-hlod/internal/streaming"
)

// Proxy stands in for a renderable mesh. It only remembers whether it is
// shown.
type Proxy struct {
	Tree string
	Key  streaming.Key

	active  bool
	visible *atomic.Int64
}

// SetActive shows or hides the proxy.
func (p *Proxy) SetActive(active bool) {
	if p.active == active {
		return
	}
	p.active = active
	if p.visible == nil {
		return
	}
	if active {
		p.visible.Add(1)
	} else {
		p.visible.Add(-1)
	}
}

// Active reports whether the proxy is shown.
func (p *Proxy) Active() bool { return p.active }

// ProxyLoader returns a load function that takes latency to produce each
// proxy. visible, if set, tracks how many proxies are shown.
func ProxyLoader(tree string, latency time.Duration, visible *atomic.Int64) streaming.LoadFunc {
	return func(ctx context.Context, key streaming.Key) (hlod.Object, error) {
		if latency > 0 {
			t := time.NewTimer(latency)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-t.C:
			}
		}
		return &Proxy{Tree: tree, Key: key, visible: visible}, nil
	}
}

// residentController preloads a proxy for every object of layout, so every
// load completes inside the request.
func residentController(tree string, layout Layout, visible *atomic.Int64) *streaming.DefaultController {
	c := streaming.NewDefaultController()
	for i := 0; i < layout.HighCount; i++ {
		c.AddHighObject(&Proxy{Tree: tree, Key: streaming.Key{Kind: streaming.KindHigh, ID: i}, visible: visible})
	}
	for i := 0; i < layout.LowCount; i++ {
		c.AddLowObject(&Proxy{Tree: tree, Key: streaming.Key{Kind: streaming.KindLow, ID: i}, visible: visible})
	}
	return c
}
