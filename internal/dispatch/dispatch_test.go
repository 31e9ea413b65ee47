package dispatch

import (
	"testing"
	"time"
)

// recordingHandler counts callback invocations and optionally runs a
// hook inside OnReady.
type recordingHandler struct {
	ready    int
	timeouts int
	onReady  func()
}

func (h *recordingHandler) OnReady() {
	h.ready++
	if h.onReady != nil {
		h.onReady()
	}
}

func (h *recordingHandler) OnTimeout() {
	h.timeouts++
}

// TestSignalWakesRun verifies that a signal from another goroutine wakes
// a blocked Run and delivers OnReady on the loop goroutine.
func TestSignalWakesRun(t *testing.T) {
	d := New()
	h := &recordingHandler{}
	id := d.Register(h)

	go func() {
		time.Sleep(10 * time.Millisecond)
		d.Signal(id)
	}()

	if !d.Run(WaitForever) {
		t.Fatal("Run() = false, want true")
	}
	if h.ready != 1 {
		t.Errorf("OnReady calls = %d, want 1", h.ready)
	}
	if h.timeouts != 0 {
		t.Errorf("OnTimeout calls = %d, want 0", h.timeouts)
	}
}

// TestSignalsCoalesce verifies that repeated signals before servicing
// produce a single OnReady.
func TestSignalsCoalesce(t *testing.T) {
	d := New()
	h := &recordingHandler{}
	id := d.Register(h)

	d.Signal(id)
	d.Signal(id)
	d.Signal(id)

	d.Run(0)
	if h.ready != 1 {
		t.Errorf("OnReady calls = %d, want 1", h.ready)
	}
}

// TestDeadlineFires verifies OnTimeout delivery when a deadline elapses
// without a readiness signal.
func TestDeadlineFires(t *testing.T) {
	d := New()
	h := &recordingHandler{}
	id := d.Register(h)

	d.SetDeadline(id, time.Now().Add(5*time.Millisecond))

	d.Run(time.Second)
	if h.timeouts != 1 {
		t.Errorf("OnTimeout calls = %d, want 1", h.timeouts)
	}
	if h.ready != 0 {
		t.Errorf("OnReady calls = %d, want 0", h.ready)
	}
}

// TestDeadlineConsumed verifies a fired deadline does not fire again.
func TestDeadlineConsumed(t *testing.T) {
	d := New()
	h := &recordingHandler{}
	id := d.Register(h)

	d.SetDeadline(id, time.Now().Add(-time.Millisecond))

	d.Run(0)
	d.Run(0)
	if h.timeouts != 1 {
		t.Errorf("OnTimeout calls = %d, want 1", h.timeouts)
	}
}

// TestReadyTakesPrecedenceOverDeadline verifies a source that is both
// pending and expired gets OnReady, not OnTimeout.
func TestReadyTakesPrecedenceOverDeadline(t *testing.T) {
	d := New()
	h := &recordingHandler{}
	id := d.Register(h)

	d.SetDeadline(id, time.Now().Add(-time.Millisecond))
	d.Signal(id)

	d.Run(0)
	if h.ready != 1 {
		t.Errorf("OnReady calls = %d, want 1", h.ready)
	}
	if h.timeouts != 0 {
		t.Errorf("OnTimeout calls = %d, want 0", h.timeouts)
	}
}

// TestClearDeadline verifies a cleared deadline never fires.
func TestClearDeadline(t *testing.T) {
	d := New()
	h := &recordingHandler{}
	id := d.Register(h)

	d.SetDeadline(id, time.Now().Add(-time.Millisecond))
	d.ClearDeadline(id)

	d.Run(0)
	if h.timeouts != 0 {
		t.Errorf("OnTimeout calls = %d, want 0", h.timeouts)
	}
}

// TestDeregisterDuringCallback verifies a handler may deregister another
// source mid-iteration without that source being invoked stale.
func TestDeregisterDuringCallback(t *testing.T) {
	d := New()

	victim := &recordingHandler{}
	first := &recordingHandler{}
	firstID := d.Register(first)
	victimID := d.Register(victim)

	first.onReady = func() {
		d.Deregister(victimID)
	}

	d.Signal(firstID)
	d.Signal(victimID)

	d.Run(0)
	if first.ready != 1 {
		t.Errorf("first OnReady calls = %d, want 1", first.ready)
	}
	if victim.ready != 0 {
		t.Errorf("victim OnReady calls = %d, want 0 after deregistration", victim.ready)
	}
	if d.Len() != 1 {
		t.Errorf("Len() = %d, want 1", d.Len())
	}
}

// TestSelfDeregister verifies a source may deregister itself from its
// own callback.
func TestSelfDeregister(t *testing.T) {
	d := New()
	h := &recordingHandler{}
	id := d.Register(h)
	h.onReady = func() {
		d.Deregister(id)
	}

	d.Signal(id)
	d.Run(0)

	// A later signal to the stale ID is a no-op.
	d.Signal(id)
	d.Run(0)

	if h.ready != 1 {
		t.Errorf("OnReady calls = %d, want 1", h.ready)
	}
	if d.Len() != 0 {
		t.Errorf("Len() = %d, want 0", d.Len())
	}
}

// TestZeroTimeoutPolls verifies Run(0) returns without blocking when
// nothing is ready.
func TestZeroTimeoutPolls(t *testing.T) {
	d := New()
	h := &recordingHandler{}
	d.Register(h)

	done := make(chan struct{})
	go func() {
		d.Run(0)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run(0) blocked")
	}
	if h.ready != 0 || h.timeouts != 0 {
		t.Errorf("callbacks = %d/%d, want 0/0", h.ready, h.timeouts)
	}
}

// TestGlobalTimeoutBoundsWait verifies the global timeout caps the wait
// even when no deadline is armed.
func TestGlobalTimeoutBoundsWait(t *testing.T) {
	d := New()
	d.Register(&recordingHandler{})

	start := time.Now()
	d.Run(20 * time.Millisecond)
	elapsed := time.Since(start)

	if elapsed > time.Second {
		t.Errorf("Run took %v, want roughly the 20ms timeout", elapsed)
	}
}

// TestRegistrationOrder verifies sources are serviced in registration
// order.
func TestRegistrationOrder(t *testing.T) {
	d := New()

	var got []int
	a := &recordingHandler{onReady: func() { got = append(got, 1) }}
	b := &recordingHandler{onReady: func() { got = append(got, 2) }}
	c := &recordingHandler{onReady: func() { got = append(got, 3) }}

	ida := d.Register(a)
	idb := d.Register(b)
	idc := d.Register(c)

	// Signal in reverse order; servicing still follows registration.
	d.Signal(idc)
	d.Signal(idb)
	d.Signal(ida)

	d.Run(0)
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Errorf("service order = %v, want [1 2 3]", got)
	}
}

// TestSignalUnknownID verifies signalling a never-registered ID is a
// no-op.
func TestSignalUnknownID(t *testing.T) {
	d := New()
	d.Signal(ID(42))
	d.Run(0)
}
