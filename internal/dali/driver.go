package dali

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/daliserver/internal/dispatch"
	"github.com/nerrad567/daliserver/internal/frame"
)

// Default driver tunables. Both are configurable; these apply when the
// config leaves them unset.
const (
	// DefaultResponseTimeout bounds how long a request may stay in
	// flight before it retires with ErrTransferTimedOut.
	DefaultResponseTimeout = time.Second

	// DefaultIdlePollInterval bounds the dispatch wait while nothing is
	// in flight, so the driver is re-evaluated even absent hardware
	// events.
	DefaultIdlePollInterval = 100 * time.Millisecond

	// inboxSize is the buffer between the transport pump and the
	// dispatch loop.
	inboxSize = 64
)

// Completion is one finished bus exchange reported by a Transport.
type Completion struct {
	// Frame is the bus frame the completion refers to: the echo of a
	// submitted request, or the sniffed frame for unsolicited traffic.
	Frame frame.BusFrame

	// Response is the single response byte, valid when Err is nil.
	Response byte

	// Err classifies a failed exchange. A completion with Err set
	// retires the in-flight request with an error reply.
	Err error

	// Unsolicited marks bus traffic not correlated to a submitted
	// request (broadcasts from other bus controllers).
	Unsolicited bool
}

// Transport is the boundary to the USB device layer: submit a command,
// receive completions asynchronously. Everything below this line
// (descriptor enumeration, endpoints, report layout) is the transport's
// concern.
type Transport interface {
	// Submit hands one bus frame to the adapter. It must not block;
	// implementations hand off to their own writer goroutine.
	Submit(f frame.BusFrame) error

	// Completions delivers finished exchanges and sniffed bus traffic.
	// The channel is closed when the adapter is lost or the transport
	// is closed.
	Completions() <-chan Completion

	// Close releases the adapter and closes the completions channel.
	Close() error
}

// InbandHandler receives the result of a retired pending request.
// origin is uuid.Nil when the request had no originating connection;
// latency is the time from acceptance to retirement.
type InbandHandler func(err error, f frame.BusFrame, response byte, origin uuid.UUID, latency time.Duration)

// OutbandHandler receives unsolicited bus traffic.
type OutbandHandler func(err error, f frame.BusFrame, response byte)

// Logger is the minimal logging interface the driver needs, satisfied
// by logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config holds driver tunables.
type Config struct {
	// ResponseTimeout is the per-request deadline while in flight.
	ResponseTimeout time.Duration

	// IdlePollInterval bounds the dispatch wait while idle.
	IdlePollInterval time.Duration

	// QueueLimit caps the pending-request queue. Zero means unbounded;
	// when the cap is hit, excess requests retire immediately with
	// ErrQueueFull.
	QueueLimit int
}

// pendingRequest lives in the driver's queue from acceptance until a
// completion, timeout, or hard failure retires it.
type pendingRequest struct {
	frame      frame.BusFrame
	origin     uuid.UUID // uuid.Nil when the request has no origin
	enqueuedAt time.Time
}

// inboxEvent wraps a transport completion for the pump → loop hand-off.
// gone marks the end of the completions stream (adapter lost or
// transport closed).
type inboxEvent struct {
	c    Completion
	gone bool
}

// Stats holds driver counters. Read and written only on the dispatch
// goroutine.
type Stats struct {
	RequestsQueued uint64
	RequestsOK     uint64
	RequestsFailed uint64
	Outband        uint64
	QueueDepth     int
}

// Driver owns the USB connection to the DALI adapter and the
// pending-request queue.
//
// Exactly one request is in flight to the hardware at a time; the queue
// holds any backlog in FIFO order. Completions are demultiplexed into
// inband events (solicited, matched to the head request) and outband
// events (unsolicited broadcasts).
//
// Threading: Queue, Timeout, Stats, and the callbacks all run on the
// dispatch goroutine. The only cross-goroutine traffic is the
// transport's completion pump, which hands events over through a
// buffered inbox and a dispatch signal.
type Driver struct {
	transport Transport
	disp      *dispatch.Dispatch
	id        dispatch.ID
	cfg       Config
	log       Logger

	inbox chan inboxEvent

	queue    []*pendingRequest
	busy     bool
	deadline time.Time
	dead     bool

	inband  InbandHandler
	outband OutbandHandler

	stats Stats
}

// Open creates a driver on top of an already-open transport and
// registers it with the dispatch queue.
func Open(t Transport, d *dispatch.Dispatch, cfg Config) (*Driver, error) {
	if t == nil {
		return nil, ErrNoDevice
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}
	if cfg.IdlePollInterval <= 0 {
		cfg.IdlePollInterval = DefaultIdlePollInterval
	}

	drv := &Driver{
		transport: t,
		disp:      d,
		cfg:       cfg,
		inbox:     make(chan inboxEvent, inboxSize),
	}
	drv.id = d.Register(drv)

	go drv.pump()

	return drv, nil
}

// SetLogger sets the driver's logger. Call before the dispatch loop
// starts.
func (d *Driver) SetLogger(log Logger) {
	d.log = log
}

// SetInbandCallback sets the handler for retired pending requests.
func (d *Driver) SetInbandCallback(cb InbandHandler) {
	d.inband = cb
}

// SetOutbandCallback sets the handler for unsolicited bus traffic.
func (d *Driver) SetOutbandCallback(cb OutbandHandler) {
	d.outband = cb
}

// pump moves transport completions into the dispatch loop. It runs on
// its own goroutine and is the only writer to the inbox.
func (d *Driver) pump() {
	for c := range d.transport.Completions() {
		d.inbox <- inboxEvent{c: c}
		d.disp.Signal(d.id)
	}
	d.inbox <- inboxEvent{gone: true}
	d.disp.Signal(d.id)
}

// Queue appends a request to the pending queue, tagged with the
// originating connection. Never blocks; if the driver is idle the
// request is issued to the hardware immediately.
//
// origin may be uuid.Nil for requests with no reply target.
func (d *Driver) Queue(f frame.BusFrame, origin uuid.UUID) {
	req := &pendingRequest{frame: f, origin: origin, enqueuedAt: time.Now()}

	if d.dead {
		d.retire(req, ErrDeviceLost, 0)
		return
	}
	if d.cfg.QueueLimit > 0 && len(d.queue) >= d.cfg.QueueLimit {
		d.logWarn("request queue full, rejecting frame", "frame", f.String(), "limit", d.cfg.QueueLimit)
		d.retire(req, ErrQueueFull, 0)
		return
	}

	d.queue = append(d.queue, req)
	d.stats.RequestsQueued++
	if !d.busy {
		d.issueNext()
	}
}

// Timeout returns the bound for the next dispatch wait: the time
// remaining until the in-flight deadline, or the idle poll interval
// when nothing is in flight.
func (d *Driver) Timeout() time.Duration {
	if d.busy {
		remaining := time.Until(d.deadline)
		if remaining < 0 {
			remaining = 0
		}
		return remaining
	}
	return d.cfg.IdlePollInterval
}

// Stats returns a copy of the driver counters.
func (d *Driver) Stats() Stats {
	s := d.stats
	s.QueueDepth = len(d.queue)
	return s
}

// Close releases the transport and deregisters from dispatch.
func (d *Driver) Close() error {
	err := d.transport.Close()
	d.disp.Deregister(d.id)
	return err
}

// OnReady implements dispatch.Handler: it drains the completion inbox
// on the dispatch goroutine.
func (d *Driver) OnReady() {
	for {
		select {
		case ev := <-d.inbox:
			if ev.gone {
				d.handleDeviceLost()
			} else {
				d.handleCompletion(ev.c)
			}
		default:
			return
		}
	}
}

// OnTimeout implements dispatch.Handler: the in-flight request's
// deadline elapsed without a completion.
func (d *Driver) OnTimeout() {
	if !d.busy {
		return
	}
	head := d.dequeueHead()
	d.logWarn("request timed out", "frame", head.frame.String(),
		"after", time.Since(head.enqueuedAt).String())
	d.retire(head, ErrTransferTimedOut, 0)
	d.issueNext()
}

// handleCompletion classifies one finished exchange.
//
// Unsolicited traffic is always outband. A solicited completion retires
// the in-flight request. A solicited completion with nothing in flight
// is a reply that arrived after its request already timed out; it is
// dropped rather than misdelivered.
func (d *Driver) handleCompletion(c Completion) {
	if c.Unsolicited {
		d.stats.Outband++
		if d.outband != nil {
			d.outband(c.Err, c.Frame, c.Response)
		}
		return
	}

	if d.busy {
		head := d.dequeueHead()
		d.retire(head, c.Err, c.Response)
		d.issueNext()
		return
	}

	d.logWarn("uncorrelated completion dropped", "frame", c.Frame.String())
}

// handleDeviceLost retires everything with ErrDeviceLost and marks the
// driver dead. The daemon keeps running in network-only mode; whether
// that is acceptable is the orchestrating layer's call.
func (d *Driver) handleDeviceLost() {
	if d.dead {
		return
	}
	d.dead = true
	d.logError("adapter lost, retiring pending requests", ErrDeviceLost)

	d.busy = false
	d.disp.ClearDeadline(d.id)
	pending := d.queue
	d.queue = nil
	for _, req := range pending {
		d.retire(req, ErrDeviceLost, 0)
	}
}

// dequeueHead removes and returns the in-flight request.
func (d *Driver) dequeueHead() *pendingRequest {
	head := d.queue[0]
	d.queue = d.queue[1:]
	d.busy = false
	d.disp.ClearDeadline(d.id)
	return head
}

// retire delivers the final classification for one request through the
// inband callback.
func (d *Driver) retire(req *pendingRequest, err error, response byte) {
	if err != nil {
		d.stats.RequestsFailed++
	} else {
		d.stats.RequestsOK++
	}
	if d.inband != nil {
		d.inband(err, req.frame, response, req.origin, time.Since(req.enqueuedAt))
	}
}

// issueNext issues the head of the queue to the hardware, skipping over
// entries whose submission fails outright. One failed request never
// blocks the rest of the queue.
func (d *Driver) issueNext() {
	for len(d.queue) > 0 {
		head := d.queue[0]
		if err := d.transport.Submit(head.frame); err != nil {
			d.queue = d.queue[1:]
			d.logError("submit failed", err)
			d.retire(head, fmt.Errorf("%w: %w", ErrTransferFailed, err), 0)
			continue
		}
		d.busy = true
		d.deadline = time.Now().Add(d.cfg.ResponseTimeout)
		d.disp.SetDeadline(d.id, d.deadline)
		return
	}
	d.busy = false
	d.disp.ClearDeadline(d.id)
}

func (d *Driver) logWarn(msg string, args ...any) {
	if d.log != nil {
		d.log.Warn(msg, args...)
	}
}

func (d *Driver) logError(msg string, err error) {
	if d.log != nil {
		d.log.Error(msg, "error", err)
	}
}
