package bridge

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/daliserver/internal/frame"
	"github.com/nerrad567/daliserver/internal/infrastructure/logging"
	"github.com/nerrad567/daliserver/internal/infrastructure/mqtt"
	"github.com/nerrad567/daliserver/internal/tracelog"
)

// mirrorQueueSize bounds the publish queue between the dispatch loop
// and the MQTT worker.
const mirrorQueueSize = 128

// PublishFunc publishes one payload to a topic. Satisfied by
// mqtt.Client.PublishDefault.
type PublishFunc func(topic string, payload []byte) error

// publishJob is one queued MQTT publish.
type publishJob struct {
	topic   string
	payload []byte
}

// mirror runs MQTT publishes on a worker goroutine so broker latency
// never reaches the dispatch loop. Jobs are dropped when the queue is
// full.
type mirror struct {
	pub    PublishFunc
	log    *logging.Logger
	topics mqtt.Topics

	queue chan publishJob
	done  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

func newMirror(pub PublishFunc, log *logging.Logger) *mirror {
	m := &mirror{
		pub:   pub,
		log:   log,
		queue: make(chan publishJob, mirrorQueueSize),
		done:  make(chan struct{}),
	}
	m.wg.Add(1)
	go m.worker()
	return m
}

func (m *mirror) worker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case job := <-m.queue:
			if err := m.pub(job.topic, job.payload); err != nil {
				m.log.Debug("mirror publish failed", "topic", job.topic, "error", err)
			}
		}
	}
}

// publish queues one job, dropping it when the worker is backlogged.
func (m *mirror) publish(topic string, payload []byte) {
	select {
	case m.queue <- publishJob{topic: topic, payload: payload}:
	default:
		m.log.Debug("mirror queue full, dropping publish", "topic", topic)
	}
}

func (m *mirror) close() {
	m.once.Do(func() {
		close(m.done)
	})
	m.wg.Wait()
}

// responsePayload is the JSON document published for request results.
type responsePayload struct {
	Address  byte   `json:"address"`
	Command  byte   `json:"command"`
	Response *byte  `json:"response,omitempty"`
	Status   string `json:"status"`
	Origin   string `json:"origin,omitempty"`
}

// eventPayload is the JSON document published for unsolicited traffic.
type eventPayload struct {
	Address byte `json:"address"`
	Command byte `json:"command"`
}

// mirrorInband fans one retired request out to the attached mirrors.
func (b *Bridge) mirrorInband(err error, f frame.BusFrame, response byte, origin uuid.UUID, latency time.Duration) {
	status := statusLabel(err)

	var resp *byte
	if err == nil {
		r := response
		resp = &r
	}

	if b.mirror != nil {
		p := responsePayload{
			Address:  f.Address,
			Command:  f.Command,
			Response: resp,
			Status:   status,
		}
		if origin != uuid.Nil {
			p.Origin = origin.String()
		}
		if payload, merr := json.Marshal(p); merr == nil {
			b.mirror.publish(b.mirror.topics.BusResponse(), payload)
		}
	}

	if b.recorder != nil {
		e := tracelog.Entry{
			Direction: tracelog.DirectionRequest,
			Address:   f.Address,
			Command:   f.Command,
			Response:  resp,
			Status:    status,
		}
		if origin != uuid.Nil {
			e.Origin = origin.String()
		}
		b.recorder.Record(e)
	}

	if b.telem != nil {
		b.telem.WriteExchange(tracelog.DirectionRequest, status, latency)
	}
}

// mirrorOutband fans one unsolicited bus frame out to the attached
// mirrors.
func (b *Bridge) mirrorOutband(f frame.BusFrame, _ byte) {
	if b.mirror != nil {
		p := eventPayload{Address: f.Address, Command: f.Command}
		if payload, merr := json.Marshal(p); merr == nil {
			b.mirror.publish(b.mirror.topics.BusEvent(), payload)
		}
	}

	if b.recorder != nil {
		b.recorder.Record(tracelog.Entry{
			Direction: tracelog.DirectionBus,
			Address:   f.Address,
			Command:   f.Command,
			Status:    tracelog.StatusOK,
		})
	}

	if b.telem != nil {
		b.telem.WriteExchange(tracelog.DirectionBus, tracelog.StatusOK, 0)
	}
}
