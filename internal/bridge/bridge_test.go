package bridge

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/daliserver/internal/dali"
	"github.com/nerrad567/daliserver/internal/frame"
	"github.com/nerrad567/daliserver/internal/infrastructure/logging"
	"github.com/nerrad567/daliserver/internal/tracelog"
)

// fakeServer records replies and broadcasts.
type fakeServer struct {
	replies    []fakeReply
	broadcasts [][]byte
}

type fakeReply struct {
	id   uuid.UUID
	data []byte
}

func (f *fakeServer) Reply(id uuid.UUID, data []byte) {
	f.replies = append(f.replies, fakeReply{id: id, data: data})
}

func (f *fakeServer) Broadcast(data []byte) {
	f.broadcasts = append(f.broadcasts, data)
}

// fakeDriver records queued requests.
type fakeDriver struct {
	queued []fakeRequest
}

type fakeRequest struct {
	frame  frame.BusFrame
	origin uuid.UUID
}

func (f *fakeDriver) Queue(fr frame.BusFrame, origin uuid.UUID) {
	f.queued = append(f.queued, fakeRequest{frame: fr, origin: origin})
}

// fakeRecorder collects traffic entries.
type fakeRecorder struct {
	entries []tracelog.Entry
}

func (f *fakeRecorder) Record(e tracelog.Entry) {
	f.entries = append(f.entries, e)
}

// fakeTelemetry collects exchange metrics.
type fakeTelemetry struct {
	exchanges []fakeExchange
}

type fakeExchange struct {
	direction string
	status    string
	latency   time.Duration
}

func (f *fakeTelemetry) WriteExchange(direction, status string, latency time.Duration) {
	f.exchanges = append(f.exchanges, fakeExchange{direction: direction, status: status, latency: latency})
}

func newTestBridge(driver Driver) (*Bridge, *fakeServer) {
	srv := &fakeServer{}
	b := New(driver, logging.Default())
	b.SetServer(srv)
	return b, srv
}

// TestHandleFrameQueuesRequest verifies a client frame reaches the
// driver tagged with its connection.
func TestHandleFrameQueuesRequest(t *testing.T) {
	drv := &fakeDriver{}
	b, _ := newTestBridge(drv)
	defer b.Close()

	conn := uuid.New()
	b.HandleFrame([]byte{0x01, 0xFE}, conn)

	if len(drv.queued) != 1 {
		t.Fatalf("queued = %d requests, want 1", len(drv.queued))
	}
	got := drv.queued[0]
	if got.frame != frame.New(0x01, 0xFE) {
		t.Errorf("frame = %v, want {0x01 0xFE}", got.frame)
	}
	if got.origin != conn {
		t.Errorf("origin = %v, want %v", got.origin, conn)
	}
}

// TestHandleFrameDryRun verifies frames are dropped without a driver.
func TestHandleFrameDryRun(t *testing.T) {
	b, srv := newTestBridge(nil)
	defer b.Close()

	b.HandleFrame([]byte{0x01, 0xFE}, uuid.New())

	if b.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", b.Dropped())
	}
	if len(srv.replies) != 0 {
		t.Errorf("replies = %d, want 0 in dry run", len(srv.replies))
	}
}

// TestHandleInbandSuccess verifies the originating client gets an OK
// reply carrying the response byte.
func TestHandleInbandSuccess(t *testing.T) {
	b, srv := newTestBridge(&fakeDriver{})
	defer b.Close()

	origin := uuid.New()
	b.HandleInband(nil, frame.New(0x01, 0x90), 0xC8, origin, 5*time.Millisecond)

	if len(srv.replies) != 1 {
		t.Fatalf("replies = %d, want 1", len(srv.replies))
	}
	rep := srv.replies[0]
	if rep.id != origin {
		t.Errorf("reply target = %v, want %v", rep.id, origin)
	}
	if rep.data[0] != frame.StatusOK || rep.data[1] != 0xC8 {
		t.Errorf("reply = %v, want [0 200]", rep.data)
	}
}

// TestHandleInbandError verifies a failed request yields an error reply
// with the response byte zeroed.
func TestHandleInbandError(t *testing.T) {
	b, srv := newTestBridge(&fakeDriver{})
	defer b.Close()

	origin := uuid.New()
	b.HandleInband(dali.ErrTransferTimedOut, frame.New(0x01, 0x90), 0xC8, origin, time.Second)

	if len(srv.replies) != 1 {
		t.Fatalf("replies = %d, want 1", len(srv.replies))
	}
	rep := srv.replies[0]
	if rep.data[0] != frame.StatusError || rep.data[1] != 0x00 {
		t.Errorf("reply = %v, want [1 0]", rep.data)
	}
}

// TestHandleInbandNilOrigin verifies a request without an origin
// produces no reply.
func TestHandleInbandNilOrigin(t *testing.T) {
	b, srv := newTestBridge(&fakeDriver{})
	defer b.Close()

	b.HandleInband(nil, frame.New(0x01, 0x90), 0xC8, uuid.Nil, 0)

	if len(srv.replies) != 0 {
		t.Errorf("replies = %d, want 0 for nil origin", len(srv.replies))
	}
}

// TestHandleOutbandBroadcasts verifies unsolicited traffic goes to all
// clients as a raw bus frame.
func TestHandleOutbandBroadcasts(t *testing.T) {
	b, srv := newTestBridge(&fakeDriver{})
	defer b.Close()

	b.HandleOutband(nil, frame.New(0xFF, 0x05), 0)

	if len(srv.broadcasts) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(srv.broadcasts))
	}
	if got := srv.broadcasts[0]; got[0] != 0xFF || got[1] != 0x05 {
		t.Errorf("broadcast = %v, want [255 5]", got)
	}
}

// TestHandleOutbandError verifies errored outband traffic is not
// broadcast.
func TestHandleOutbandError(t *testing.T) {
	b, srv := newTestBridge(&fakeDriver{})
	defer b.Close()

	b.HandleOutband(errors.New("garbled"), frame.New(0xFF, 0x05), 0)

	if len(srv.broadcasts) != 0 {
		t.Errorf("broadcasts = %d, want 0 for errored traffic", len(srv.broadcasts))
	}
}

// TestRecorderMirror verifies completed exchanges reach the traffic log.
func TestRecorderMirror(t *testing.T) {
	b, _ := newTestBridge(&fakeDriver{})
	defer b.Close()

	rec := &fakeRecorder{}
	b.SetRecorder(rec)

	origin := uuid.New()
	b.HandleInband(nil, frame.New(0x01, 0x90), 0xC8, origin, 0)
	b.HandleInband(dali.ErrTransferTimedOut, frame.New(0x02, 0x90), 0, origin, 0)
	b.HandleOutband(nil, frame.New(0xFF, 0x05), 0)

	if len(rec.entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(rec.entries))
	}

	ok := rec.entries[0]
	if ok.Direction != tracelog.DirectionRequest || ok.Status != tracelog.StatusOK {
		t.Errorf("entry = %+v, want ok request", ok)
	}
	if ok.Response == nil || *ok.Response != 0xC8 {
		t.Errorf("Response = %v, want 0xC8", ok.Response)
	}
	if ok.Origin != origin.String() {
		t.Errorf("Origin = %q, want %q", ok.Origin, origin.String())
	}

	failed := rec.entries[1]
	if failed.Status != "timeout" {
		t.Errorf("failed status = %q, want %q", failed.Status, "timeout")
	}
	if failed.Response != nil {
		t.Errorf("failed Response = %v, want nil", failed.Response)
	}

	bus := rec.entries[2]
	if bus.Direction != tracelog.DirectionBus || bus.Origin != "" {
		t.Errorf("bus entry = %+v, want origin-less bus direction", bus)
	}
}

// TestTelemetryMirror verifies exchange metrics carry status and
// latency.
func TestTelemetryMirror(t *testing.T) {
	b, _ := newTestBridge(&fakeDriver{})
	defer b.Close()

	telem := &fakeTelemetry{}
	b.SetTelemetry(telem)

	b.HandleInband(nil, frame.New(0x01, 0x90), 0xC8, uuid.Nil, 7*time.Millisecond)
	b.HandleOutband(nil, frame.New(0xFF, 0x05), 0)

	if len(telem.exchanges) != 2 {
		t.Fatalf("exchanges = %d, want 2", len(telem.exchanges))
	}
	if telem.exchanges[0].status != "ok" || telem.exchanges[0].latency != 7*time.Millisecond {
		t.Errorf("request exchange = %+v", telem.exchanges[0])
	}
	if telem.exchanges[1].direction != tracelog.DirectionBus {
		t.Errorf("bus exchange direction = %q, want %q", telem.exchanges[1].direction, tracelog.DirectionBus)
	}
}

// TestMQTTMirror verifies bus traffic is published as JSON to the event
// topic.
func TestMQTTMirror(t *testing.T) {
	b, _ := newTestBridge(&fakeDriver{})

	var mu sync.Mutex
	var topics []string
	var payloads [][]byte
	b.SetMirror(func(topic string, payload []byte) error {
		mu.Lock()
		defer mu.Unlock()
		topics = append(topics, topic)
		payloads = append(payloads, payload)
		return nil
	})

	b.HandleOutband(nil, frame.New(0xFF, 0x05), 0)

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(topics)
		mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("publish never happened")
		}
		time.Sleep(5 * time.Millisecond)
	}
	b.Close()

	mu.Lock()
	defer mu.Unlock()
	if topics[0] != "daliserver/bus/event" {
		t.Errorf("topic = %q, want %q", topics[0], "daliserver/bus/event")
	}
	var doc map[string]any
	if err := json.Unmarshal(payloads[0], &doc); err != nil {
		t.Fatalf("payload is not valid JSON: %v", err)
	}
	if doc["address"] != float64(0xFF) {
		t.Errorf("address = %v, want 255", doc["address"])
	}
}

// TestStatusLabel verifies error classification for mirrors.
func TestStatusLabel(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, "ok"},
		{"timeout", dali.ErrTransferTimedOut, "timeout"},
		{"no response", dali.ErrNoResponse, "no_response"},
		{"device lost", dali.ErrDeviceLost, "device_lost"},
		{"queue full", dali.ErrQueueFull, "queue_full"},
		{"transfer failed", dali.ErrTransferFailed, "transfer_failed"},
		{"unknown", errors.New("boom"), "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusLabel(tt.err); got != tt.want {
				t.Errorf("statusLabel(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
