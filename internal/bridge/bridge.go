// Package bridge connects the network server to the bus driver.
//
// It owns the three data paths of the daemon:
//
//	request:  client frame → decode → driver queue
//	inband:   retired request → status reply to the originating client
//	outband:  sniffed bus traffic → broadcast to every client
//
// All three run on the dispatch goroutine. The optional mirrors (MQTT,
// traffic log, telemetry) hang off the inband and outband paths through
// non-blocking hand-offs, so a slow broker or database never delays a
// reply.
package bridge

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/daliserver/internal/dali"
	"github.com/nerrad567/daliserver/internal/frame"
	"github.com/nerrad567/daliserver/internal/infrastructure/logging"
	"github.com/nerrad567/daliserver/internal/tracelog"
)

// Replier is the slice of the network server the bridge needs for
// delivering frames back to clients, satisfied by server.Server.
type Replier interface {
	Reply(id uuid.UUID, data []byte)
	Broadcast(data []byte)
}

// Driver is the slice of the bus driver the bridge needs, satisfied by
// dali.Driver. Nil when running without hardware (dry run).
type Driver interface {
	Queue(f frame.BusFrame, origin uuid.UUID)
}

// Recorder persists traffic entries, satisfied by tracelog.Recorder.
type Recorder interface {
	Record(e tracelog.Entry)
}

// Telemetry receives exchange metrics, satisfied by influxdb.Client.
type Telemetry interface {
	WriteExchange(direction string, status string, latency time.Duration)
}

// Bridge wires frames between the network server and the bus driver and
// fans completed exchanges out to the optional mirrors.
type Bridge struct {
	driver Driver
	server Replier
	log    *logging.Logger

	mirror   *mirror
	recorder Recorder
	telem    Telemetry

	dropped uint64
}

// New creates a Bridge. driver may be nil (dry run): client frames are
// then logged and dropped, and clients receive no replies.
func New(driver Driver, logger *logging.Logger) *Bridge {
	return &Bridge{
		driver: driver,
		log:    logger.With("component", "bridge"),
	}
}

// SetServer attaches the network server. Must be called before the
// dispatch loop starts; the server is constructed after the bridge
// because it needs HandleFrame at creation.
func (b *Bridge) SetServer(s Replier) {
	b.server = s
}

// SetMirror attaches an MQTT publisher for bus traffic. pub is the
// publish function; publishes are handed to a background worker and
// dropped when its queue is full.
func (b *Bridge) SetMirror(pub PublishFunc) {
	b.mirror = newMirror(pub, b.log)
}

// SetRecorder attaches the traffic log recorder.
func (b *Bridge) SetRecorder(r Recorder) {
	b.recorder = r
}

// SetTelemetry attaches the telemetry client.
func (b *Bridge) SetTelemetry(t Telemetry) {
	b.telem = t
}

// HandleFrame is the network server's frame callback. It decodes the
// request and queues it on the bus driver, tagged with the originating
// connection so the eventual result can be delivered back.
func (b *Bridge) HandleFrame(frameBytes []byte, conn uuid.UUID) {
	f, err := frame.DecodeRequest(frameBytes)
	if err != nil {
		// The server only delivers complete frames; a short frame here
		// is a framing bug, not client input.
		b.log.Error("dropping malformed request", "error", err, "conn", conn.String())
		return
	}

	if b.driver == nil {
		b.dropped++
		b.log.Debug("dry run, dropping request", "frame", f.String())
		return
	}

	b.log.Debug("request queued", "frame", f.String(), "conn", conn.String())
	b.driver.Queue(f, conn)
}

// HandleInband is the bus driver's inband callback: one pending request
// has retired. The originating client gets a status reply; a closed
// origin makes Reply a silent no-op.
func (b *Bridge) HandleInband(err error, f frame.BusFrame, response byte, origin uuid.UUID, latency time.Duration) {
	status := frame.StatusOK
	if err != nil {
		status = frame.StatusError
		b.log.Warn("request failed", "frame", f.String(), "error", err)
	}

	if origin != uuid.Nil {
		b.server.Reply(origin, frame.EncodeReply(status, response))
	}

	b.mirrorInband(err, f, response, origin, latency)
}

// HandleOutband is the bus driver's outband callback: unsolicited bus
// traffic. Every connected client receives a copy.
func (b *Bridge) HandleOutband(err error, f frame.BusFrame, response byte) {
	if err != nil {
		b.log.Warn("outband traffic with error", "frame", f.String(), "error", err)
		return
	}

	b.log.Debug("bus traffic", "frame", f.String())
	b.server.Broadcast(f.EncodeBroadcast())

	b.mirrorOutband(f, response)
}

// Dropped returns the number of requests dropped in dry run.
func (b *Bridge) Dropped() uint64 {
	return b.dropped
}

// Close stops the mirror worker, if any.
func (b *Bridge) Close() {
	if b.mirror != nil {
		b.mirror.close()
	}
}

// statusLabel maps a retirement error to a short label for mirrors and
// telemetry.
func statusLabel(err error) string {
	switch {
	case err == nil:
		return tracelog.StatusOK
	case errors.Is(err, dali.ErrTransferTimedOut):
		return "timeout"
	case errors.Is(err, dali.ErrNoResponse):
		return "no_response"
	case errors.Is(err, dali.ErrDeviceLost):
		return "device_lost"
	case errors.Is(err, dali.ErrQueueFull):
		return "queue_full"
	case errors.Is(err, dali.ErrTransferFailed):
		return "transfer_failed"
	default:
		return "error"
	}
}
