package hlod

// Hooks are the optional callbacks attached to one state of an FSM.
type Hooks struct {
	// Entering fires once when the state becomes the target.
	Entering func()
	// IsReady is polled by Tick while the state is the pending target.
	// A nil IsReady is always ready.
	IsReady func() bool
	// Entered fires once when the state is committed.
	Entered func()
	// Exited fires once when the committed state is left, before the
	// next state's Entered.
	Exited func()
	// Abandoned fires when the state was the pending target and another
	// target replaced it before it was committed.
	Abandoned func()
}

// FSM is a small state machine with a committed current state and a
// requested target. Transitions are requested with Request and committed
// by Tick once the target's IsReady hook agrees.
type FSM[S comparable] struct {
	current S
	target  S
	hooks   map[S]Hooks
}

// NewFSM creates a machine committed to initial.
func NewFSM[S comparable](initial S) *FSM[S] {
	return &FSM[S]{
		current: initial,
		target:  initial,
		hooks:   make(map[S]Hooks),
	}
}

// On installs the hooks for state s, replacing any previous set.
func (f *FSM[S]) On(s S, h Hooks) {
	f.hooks[s] = h
}

// Current returns the committed state.
func (f *FSM[S]) Current() S { return f.current }

// Target returns the most recently requested state.
func (f *FSM[S]) Target() S { return f.target }

// Pending reports whether a requested transition has not been committed.
func (f *FSM[S]) Pending() bool { return f.current != f.target }

// Request makes s the target. Requesting the current target is a no-op;
// requesting the committed state cancels a pending transition.
func (f *FSM[S]) Request(s S) {
	if f.target == s {
		return
	}
	f.abandonPending()
	f.target = s
	if s != f.current {
		if h := f.hooks[s].Entering; h != nil {
			h()
		}
	}
}

// Ready reports whether the pending target's IsReady hook agrees. It is
// true when nothing is pending.
func (f *FSM[S]) Ready() bool {
	if !f.Pending() {
		return true
	}
	return f.ready(f.target)
}

// Tick commits the pending target if it is ready and reports whether a
// commit happened.
func (f *FSM[S]) Tick() bool {
	if !f.Pending() || !f.ready(f.target) {
		return false
	}
	f.commit()
	return true
}

// Force commits s immediately, skipping its Entering and IsReady hooks.
// Exited and Entered still fire.
func (f *FSM[S]) Force(s S) {
	if f.target != s {
		f.abandonPending()
		f.target = s
	}
	if f.current != s {
		f.commit()
	}
}

func (f *FSM[S]) ready(s S) bool {
	if h := f.hooks[s].IsReady; h != nil {
		return h()
	}
	return true
}

func (f *FSM[S]) abandonPending() {
	if !f.Pending() {
		return
	}
	if h := f.hooks[f.target].Abandoned; h != nil {
		h()
	}
}

func (f *FSM[S]) commit() {
	prev, next := f.current, f.target
	if h := f.hooks[prev].Exited; h != nil {
		h()
	}
	f.current = next
	if h := f.hooks[next].Entered; h != nil {
		h()
	}
}
