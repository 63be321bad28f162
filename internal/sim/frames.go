package sim

import (
	"slices"

	"github.com/Faultbox/midgard-hlod/internal/camera"
)

type subscriber struct {
	id int
	fn func(camera.View)
}

// FrameBus fans one camera view per frame out to its subscribers, in the
// order they subscribed. It is used from the frame loop only.
type FrameBus struct {
	next int
	subs []subscriber
}

// NewFrameBus creates a bus without subscribers.
func NewFrameBus() *FrameBus {
	return &FrameBus{}
}

// Subscribe adds fn and returns a function that removes it.
func (b *FrameBus) Subscribe(fn func(camera.View)) func() {
	id := b.next
	b.next++
	b.subs = append(b.subs, subscriber{id: id, fn: fn})
	return func() {
		b.subs = slices.DeleteFunc(b.subs, func(s subscriber) bool { return s.id == id })
	}
}

// Publish hands view to every subscriber.
func (b *FrameBus) Publish(view camera.View) {
	for _, s := range slices.Clone(b.subs) {
		s.fn(view)
	}
}

// Len returns the number of subscribers.
func (b *FrameBus) Len() int { return len(b.subs) }
