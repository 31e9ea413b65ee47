package dispatch

import (
	"sync"
	"time"
)

// WaitForever may be passed to Run to block until a source becomes
// ready, with no global timeout.
const WaitForever time.Duration = -1

// ID identifies a registered event source. IDs are never reused within
// the lifetime of a Dispatch, so a stale ID held after Deregister is a
// harmless no-op rather than a reference to a different source.
type ID uint64

// Handler is the capability set of an event source.
//
// Both methods are invoked on the dispatch goroutine and must not
// block: no synchronous network, disk, or device I/O. Long-running work
// belongs in a separate goroutine that signals readiness back into the
// loop.
type Handler interface {
	// OnReady is called when the source has been signalled ready since
	// the last invocation. Multiple signals coalesce into one call; the
	// handler is expected to drain whatever input it has pending.
	OnReady()

	// OnTimeout is called when the source's deadline elapses without a
	// readiness signal arriving first. The deadline is consumed; the
	// owner re-arms it with SetDeadline if needed.
	OnTimeout()
}

// source is the loop's record of one registered event source.
type source struct {
	handler  Handler
	pending  bool
	deadline time.Time // zero means no deadline armed
}

// Dispatch is a single-threaded reactor. Exactly one goroutine calls
// Run in a loop; all handler callbacks execute on that goroutine, so
// sources may mutate their own state inside callbacks without locking.
//
// Registration, deadlines, and signalling are safe to call from any
// goroutine. Producer goroutines (socket readers, device transfer
// pumps) hand data to their source's own inbox and then call Signal;
// the source's OnReady drains the inbox on the loop goroutine.
type Dispatch struct {
	mu      sync.Mutex
	sources map[ID]*source
	order   []ID // registration order, drives callback ordering
	nextID  ID

	// wake is a capacity-one doorbell. Signal performs a non-blocking
	// send, which makes it safe to call from contexts that must never
	// block (the shutdown notifier's signal path).
	wake chan struct{}
}

// New creates an empty dispatch queue.
func New() *Dispatch {
	return &Dispatch{
		sources: make(map[ID]*source),
		wake:    make(chan struct{}, 1),
	}
}

// Register adds an event source and returns its ID.
//
// The source starts with no deadline and no pending readiness.
func (d *Dispatch) Register(h Handler) ID {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	d.sources[id] = &source{handler: h}
	d.order = append(d.order, id)
	return id
}

// Deregister removes an event source.
//
// Safe to call from inside a handler callback, including the source's
// own: the loop re-resolves every ID immediately before invoking its
// handler, so a source deregistered mid-iteration is never invoked
// stale.
func (d *Dispatch) Deregister(id ID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.sources[id]; !ok {
		return
	}
	delete(d.sources, id)
	for i, o := range d.order {
		if o == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// SetDeadline arms (or re-arms) the source's deadline. The deadline
// fires OnTimeout only if no readiness signal arrives first.
func (d *Dispatch) SetDeadline(id ID, deadline time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if src, ok := d.sources[id]; ok {
		src.deadline = deadline
	}
}

// ClearDeadline disarms the source's deadline.
func (d *Dispatch) ClearDeadline(id ID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if src, ok := d.sources[id]; ok {
		src.deadline = time.Time{}
	}
}

// Signal marks the source ready and wakes the loop.
//
// Safe from any goroutine and never blocks. Repeated signals before the
// loop services the source coalesce into a single OnReady call.
func (d *Dispatch) Signal(id ID) {
	d.mu.Lock()
	src, ok := d.sources[id]
	if ok {
		src.pending = true
	}
	d.mu.Unlock()

	if !ok {
		return
	}

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run performs one dispatch iteration: it blocks until at least one
// source is ready, a source deadline elapses, or timeout expires, then
// invokes the affected handlers on the calling goroutine and returns.
//
// A timeout of zero polls and returns immediately; WaitForever blocks
// until a source becomes ready or a deadline fires. Sources are
// serviced in registration order. The return value is false only on an
// unrecoverable internal failure; a bare timeout is a normal iteration
// and returns true.
func (d *Dispatch) Run(timeout time.Duration) bool {
	wait, alreadyReady := d.computeWait(timeout)

	if !alreadyReady {
		if wait < 0 {
			<-d.wake
		} else if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-d.wake:
				if !timer.Stop() {
					<-timer.C
				}
			case <-timer.C:
			}
		} else {
			// Poll: consume a pending doorbell if one is queued.
			select {
			case <-d.wake:
			default:
			}
		}
	}

	d.service(time.Now())
	return true
}

// computeWait determines how long Run may sleep: the smaller of the
// global timeout and the time until the nearest armed deadline. It also
// reports whether any source is already pending, in which case the loop
// must not sleep at all.
func (d *Dispatch) computeWait(timeout time.Duration) (time.Duration, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	wait := timeout
	now := time.Now()
	for _, src := range d.sources {
		if src.pending {
			return 0, true
		}
		if src.deadline.IsZero() {
			continue
		}
		until := src.deadline.Sub(now)
		if until < 0 {
			until = 0
		}
		if wait < 0 || until < wait {
			wait = until
		}
	}
	return wait, false
}

// service invokes OnReady for every pending source and OnTimeout for
// every source whose deadline has elapsed, in registration order.
//
// The snapshot of IDs is taken up front, but each ID is re-resolved
// with the lock held immediately before its callback runs, so a
// handler that deregisters itself or a later source leaves no stale
// invocation behind.
func (d *Dispatch) service(now time.Time) {
	d.mu.Lock()
	ids := make([]ID, len(d.order))
	copy(ids, d.order)
	d.mu.Unlock()

	for _, id := range ids {
		d.mu.Lock()
		src, ok := d.sources[id]
		if !ok {
			d.mu.Unlock()
			continue
		}

		switch {
		case src.pending:
			src.pending = false
			handler := src.handler
			d.mu.Unlock()
			handler.OnReady()
		case !src.deadline.IsZero() && !src.deadline.After(now):
			src.deadline = time.Time{}
			handler := src.handler
			d.mu.Unlock()
			handler.OnTimeout()
		default:
			d.mu.Unlock()
		}
	}
}

// Len returns the number of registered sources.
func (d *Dispatch) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sources)
}
