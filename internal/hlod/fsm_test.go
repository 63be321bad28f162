package hlod

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type traceFSM struct {
	fsm   *FSM[string]
	trace []string
	ready map[string]bool
}

func newTraceFSM(states ...string) *traceFSM {
	tf := &traceFSM{fsm: NewFSM("idle"), ready: make(map[string]bool)}
	for _, s := range append([]string{"idle"}, states...) {
		s := s
		tf.ready[s] = true
		tf.fsm.On(s, Hooks{
			Entering:  func() { tf.trace = append(tf.trace, "entering "+s) },
			IsReady:   func() bool { return tf.ready[s] },
			Entered:   func() { tf.trace = append(tf.trace, "entered "+s) },
			Exited:    func() { tf.trace = append(tf.trace, "exited "+s) },
			Abandoned: func() { tf.trace = append(tf.trace, "abandoned "+s) },
		})
	}
	return tf
}

func TestFSMRequestTick(t *testing.T) {
	tf := newTraceFSM("load")
	tf.ready["load"] = false

	tf.fsm.Request("load")
	assert.True(t, tf.fsm.Pending())
	assert.False(t, tf.fsm.Ready())
	assert.False(t, tf.fsm.Tick())
	assert.Equal(t, "idle", tf.fsm.Current())

	tf.ready["load"] = true
	assert.True(t, tf.fsm.Tick())
	assert.Equal(t, "load", tf.fsm.Current())
	assert.False(t, tf.fsm.Pending())
	assert.Equal(t, []string{"entering load", "exited idle", "entered load"}, tf.trace)
}

func TestFSMRequestSameTargetIsNoop(t *testing.T) {
	tf := newTraceFSM("load")
	tf.ready["load"] = false

	tf.fsm.Request("load")
	tf.fsm.Request("load")
	tf.fsm.Request("idle")
	tf.fsm.Request("idle")
	assert.Equal(t, []string{"entering load", "abandoned load"}, tf.trace)
	assert.False(t, tf.fsm.Pending())
}

func TestFSMRetargetAbandonsPending(t *testing.T) {
	tf := newTraceFSM("low", "high")
	tf.ready["low"] = false

	tf.fsm.Request("low")
	tf.fsm.Request("high")
	assert.Equal(t, "high", tf.fsm.Target())
	assert.True(t, tf.fsm.Tick())
	assert.Equal(t, []string{
		"entering low",
		"abandoned low",
		"entering high",
		"exited idle",
		"entered high",
	}, tf.trace)
}

func TestFSMForceSkipsReadiness(t *testing.T) {
	tf := newTraceFSM("low", "gone")
	tf.ready["gone"] = false

	tf.fsm.Request("low")
	tf.fsm.Tick()
	tf.trace = nil

	tf.fsm.Force("gone")
	assert.Equal(t, "gone", tf.fsm.Current())
	assert.Equal(t, []string{"exited low", "entered gone"}, tf.trace)

	tf.trace = nil
	tf.fsm.Force("gone")
	assert.Empty(t, tf.trace, "forcing the committed state does nothing")
}

func TestFSMForceAbandonsPending(t *testing.T) {
	tf := newTraceFSM("low")
	tf.ready["low"] = false

	tf.fsm.Request("low")
	tf.fsm.Force("idle")
	assert.Equal(t, []string{"entering low", "abandoned low"}, tf.trace)
	assert.Equal(t, "idle", tf.fsm.Target())
	assert.False(t, tf.fsm.Pending())
}

func TestFSMMissingHooks(t *testing.T) {
	f := NewFSM(StateRelease)
	f.Request(StateLow)
	assert.True(t, f.Ready())
	assert.True(t, f.Tick())
	assert.Equal(t, StateLow, f.Current())
}
