package streaming

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/Faultbox/midgard-hlod/internal/hlod"
	"github.com/Faultbox/midgard-hlod/internal/logger"
)

// ErrNilObject is returned for a load that succeeded without an object.
var ErrNilObject = errors.New("streaming: loader returned nil object")

// LoadFunc produces the object for key. It runs off the frame thread and
// should return promptly once ctx is done.
type LoadFunc func(ctx context.Context, key Key) (hlod.Object, error)

// UnloadFunc disposes of an object evicted from the cache.
type UnloadFunc func(key Key, obj hlod.Object)

// AsyncOptions configures an AsyncController.
type AsyncOptions struct {
	Name      string
	HighCount int
	LowCount  int

	Load   LoadFunc
	Unload UnloadFunc

	// MaxConcurrent bounds loads running at once. Default 4.
	MaxConcurrent int
	// Retries is how many times a failed load is repeated.
	Retries    int
	RetryDelay time.Duration
	// CacheSize is how many released objects stay cached for instant reuse.
	CacheSize int

	Logger  *zap.Logger
	Metrics *Metrics
}

type completion struct {
	ctx      context.Context
	key      Key
	obj      hlod.Object
	onLoaded func(hlod.Object)
}

// AsyncController loads objects on background goroutines and delivers them
// to the tree from Poll, on the frame thread. Cached objects are delivered
// inside the Get call.
type AsyncController struct {
	opts   AsyncOptions
	sem    *semaphore.Weighted
	flight singleflight.Group
	cache  *Cache
	log    *zap.Logger

	mu   sync.Mutex
	done []completion

	inflight atomic.Int64
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewAsyncController creates a controller. Load is required.
func NewAsyncController(opts AsyncOptions) (*AsyncController, error) {
	if opts.Load == nil {
		return nil, errors.New("streaming: load function is required")
	}
	if opts.HighCount < 0 || opts.LowCount < 0 {
		return nil, fmt.Errorf("streaming: negative object count (high %d, low %d)", opts.HighCount, opts.LowCount)
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.Name == "" {
		opts.Name = "async"
	}
	if opts.Logger == nil {
		opts.Logger = logger.Named("streaming")
	}

	c := &AsyncController{
		opts: opts,
		sem:  semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		log:  opts.Logger.With(zap.String("controller", opts.Name)),
	}
	c.cache = NewCache(opts.CacheSize, c.unload)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c, nil
}

func (c *AsyncController) GetHighObject(ctx context.Context, req hlod.LoadRequest, onLoaded func(hlod.Object)) {
	c.get(ctx, Key{Kind: KindHigh, ID: req.ID}, onLoaded)
}

func (c *AsyncController) GetLowObject(ctx context.Context, req hlod.LoadRequest, onLoaded func(hlod.Object)) {
	c.get(ctx, Key{Kind: KindLow, ID: req.ID}, onLoaded)
}

func (c *AsyncController) get(ctx context.Context, key Key, onLoaded func(hlod.Object)) {
	obj, hit := c.cache.Acquire(key)
	c.opts.Metrics.lookup(c.opts.Name, hit)
	if hit {
		onLoaded(obj)
		return
	}
	if c.ctx.Err() != nil {
		return
	}

	c.opts.Metrics.setInflight(c.opts.Name, c.inflight.Add(1))
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		obj, err := c.load(ctx, key)
		if err != nil {
			c.opts.Metrics.setInflight(c.opts.Name, c.inflight.Add(-1))
			if ctx.Err() == nil && c.ctx.Err() == nil {
				c.log.Warn("load failed", zap.Stringer("key", key), zap.Error(err))
			}
			return
		}
		c.mu.Lock()
		c.done = append(c.done, completion{ctx: ctx, key: key, obj: obj, onLoaded: onLoaded})
		c.mu.Unlock()
	}()
}

// load shares one attempt chain between concurrent requests for the same
// key. The chain runs under the controller's lifetime, not the request's,
// so a result nobody waits for anymore still lands in the cache.
func (c *AsyncController) load(ctx context.Context, key Key) (hlod.Object, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, err, _ := c.flight.Do(key.String(), func() (any, error) {
		return c.loadWithRetry(key)
	})
	if err != nil {
		return nil, err
	}
	return v.(hlod.Object), nil
}

func (c *AsyncController) loadWithRetry(key Key) (hlod.Object, error) {
	if err := c.sem.Acquire(c.ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	var lastErr error
	for attempt := 0; attempt <= c.opts.Retries; attempt++ {
		if attempt > 0 {
			c.opts.Metrics.retried(c.opts.Name, key.Kind)
			select {
			case <-c.ctx.Done():
				return nil, c.ctx.Err()
			case <-time.After(c.opts.RetryDelay):
			}
		}

		start := time.Now()
		obj, err := c.opts.Load(c.ctx, key)
		if err == nil && obj == nil {
			err = ErrNilObject
		}
		if err == nil {
			c.opts.Metrics.loaded(c.opts.Name, key.Kind, time.Since(start))
			return obj, nil
		}
		lastErr = err
		c.log.Debug("load attempt failed",
			zap.Stringer("key", key),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if c.ctx.Err() != nil {
			break
		}
	}
	c.opts.Metrics.failed(c.opts.Name, key.Kind)
	return nil, fmt.Errorf("loading %v: %w", key, lastErr)
}

// Poll delivers finished loads. Call it from the frame thread; hlod trees
// do so at the start of every update.
func (c *AsyncController) Poll() {
	c.mu.Lock()
	done := c.done
	c.done = nil
	c.mu.Unlock()

	for _, d := range done {
		c.opts.Metrics.setInflight(c.opts.Name, c.inflight.Add(-1))
		if d.ctx.Err() != nil {
			// Nobody wants it now; keep it for the next request unless a
			// live request already holds the same object.
			if c.cache.Offer(d.key, d.obj) {
				d.obj.SetActive(false)
			}
			c.opts.Metrics.droppedCompletion(c.opts.Name)
			continue
		}
		d.obj.SetActive(false)
		c.cache.Put(d.key, d.obj)
		d.onLoaded(d.obj)
	}
}

func (c *AsyncController) ReleaseHighObject(id int) {
	c.release(Key{Kind: KindHigh, ID: id})
}

func (c *AsyncController) ReleaseLowObject(id int) {
	c.release(Key{Kind: KindLow, ID: id})
}

func (c *AsyncController) release(key Key) {
	if obj, ok := c.cache.Get(key); ok {
		obj.SetActive(false)
	}
	c.cache.Release(key)
}

func (c *AsyncController) HighObjectCount() int { return c.opts.HighCount }
func (c *AsyncController) LowObjectCount() int  { return c.opts.LowCount }

func (c *AsyncController) OnStart() {
	c.log.Debug("controller started", zap.Int("max_concurrent", c.opts.MaxConcurrent))
}

// OnStop moves loads that finished but were never delivered into the cache.
func (c *AsyncController) OnStop() {
	c.mu.Lock()
	done := c.done
	c.done = nil
	c.mu.Unlock()

	for _, d := range done {
		c.opts.Metrics.setInflight(c.opts.Name, c.inflight.Add(-1))
		if c.cache.Offer(d.key, d.obj) {
			d.obj.SetActive(false)
		}
	}
}

// Inflight returns how many loads are started and not yet delivered.
func (c *AsyncController) Inflight() int {
	return int(c.inflight.Load())
}

// Cache returns the object cache.
func (c *AsyncController) Cache() *Cache { return c.cache }

// Close cancels outstanding loads, waits for the loader goroutines and
// unloads every cached object.
func (c *AsyncController) Close() {
	c.cancel()
	c.wg.Wait()
	c.OnStop()
	c.cache.Clear()
	c.log.Debug("controller closed")
}

func (c *AsyncController) unload(key Key, obj hlod.Object) {
	obj.SetActive(false)
	if c.opts.Unload != nil {
		c.opts.Unload(key, obj)
	}
}
