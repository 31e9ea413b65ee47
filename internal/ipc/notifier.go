// Package ipc provides the shutdown notifier: a cross-goroutine wakeup
// primitive the dispatch loop can watch as an ordinary event source.
//
// An OS termination signal arrives on a goroutine the reactor knows
// nothing about. Notify bridges the two worlds: it raises a flag and
// rings the dispatch doorbell without blocking and without allocating,
// so the loop's next (or current) wait ends promptly and the main loop
// observes Signaled. This is the daemon's only cancellation mechanism,
// and it is edge-triggered: one notification ends the loop, repeats are
// harmless no-ops.
package ipc

import (
	"sync/atomic"

	"github.com/nerrad567/daliserver/internal/dispatch"
)

// Notifier is a single-use shutdown flag wired into a dispatch queue.
// Create one at startup, register it, and tear it down once at
// shutdown.
type Notifier struct {
	signaled atomic.Bool
	disp     *dispatch.Dispatch
	id       dispatch.ID
	onNotify func()
}

// New creates an unregistered notifier.
func New() *Notifier {
	return &Notifier{}
}

// Register attaches the notifier to a dispatch queue. The optional
// onNotify callback runs on the dispatch goroutine when the
// notification is serviced; it is the place to flip a run flag or log
// the shutdown.
func (n *Notifier) Register(d *dispatch.Dispatch, onNotify func()) {
	n.disp = d
	n.onNotify = onNotify
	n.id = d.Register(n)
}

// Notify requests shutdown. Idempotent, non-blocking, and safe to call
// concurrently with the reactor's wait from any goroutine, including
// the os/signal delivery goroutine.
func (n *Notifier) Notify() {
	if n.signaled.Swap(true) {
		return
	}
	if n.disp != nil {
		n.disp.Signal(n.id)
	}
}

// Signaled reports whether Notify has been called.
func (n *Notifier) Signaled() bool {
	return n.signaled.Load()
}

// Close deregisters the notifier from its dispatch queue.
func (n *Notifier) Close() {
	if n.disp != nil {
		n.disp.Deregister(n.id)
		n.disp = nil
	}
}

// OnReady implements dispatch.Handler. It runs on the dispatch
// goroutine after Notify has rung the doorbell.
func (n *Notifier) OnReady() {
	if n.onNotify != nil {
		n.onNotify()
	}
}

// OnTimeout implements dispatch.Handler. The notifier never arms a
// deadline.
func (n *Notifier) OnTimeout() {}
