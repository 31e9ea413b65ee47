package tracelog

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/daliserver/internal/infrastructure/logging"
)

const (
	// recorderQueueSize is the buffered entry queue between the dispatch
	// loop and the database worker.
	recorderQueueSize = 256

	// insertTimeout bounds a single insert so a wedged database can't
	// hold the worker forever.
	insertTimeout = 5 * time.Second

	// drainTimeout bounds how long Close waits for queued entries to
	// reach the database.
	drainTimeout = 10 * time.Second
)

// Recorder writes traffic entries to the repository from a background
// goroutine. Record never blocks: when the queue is full the entry is
// dropped and counted.
type Recorder struct {
	repo    Repository
	logger  *logging.Logger
	queue   chan Entry
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
}

// NewRecorder creates a Recorder and starts its worker goroutine.
func NewRecorder(repo Repository, logger *logging.Logger) *Recorder {
	r := &Recorder{
		repo:   repo,
		logger: logger.With("component", "tracelog"),
		queue:  make(chan Entry, recorderQueueSize),
		done:   make(chan struct{}),
	}
	r.wg.Add(1)
	go r.worker()
	return r
}

// Record queues an entry for insertion. Safe to call from the dispatch
// loop: it returns immediately whether or not the queue has room.
func (r *Recorder) Record(e Entry) {
	select {
	case r.queue <- e:
	default:
		if r.dropped.Add(1)%100 == 1 {
			r.logger.Warn("traffic log queue full, dropping entries",
				"dropped_total", r.dropped.Load())
		}
	}
}

// Dropped returns the number of entries discarded because the queue was full.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Close stops the worker after draining queued entries, bounded by
// drainTimeout. Record calls after Close are dropped.
func (r *Recorder) Close() {
	r.once.Do(func() {
		close(r.done)
	})
	waited := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-time.After(drainTimeout):
		r.logger.Warn("traffic log drain timed out")
	}
}

// worker drains the queue into the repository until Close, then flushes
// whatever is still buffered.
func (r *Recorder) worker() {
	defer r.wg.Done()
	for {
		select {
		case e := <-r.queue:
			r.insert(e)
		case <-r.done:
			for {
				select {
				case e := <-r.queue:
					r.insert(e)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) insert(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()
	if err := r.repo.Create(ctx, &e); err != nil {
		r.logger.Error("recording traffic entry", "error", err)
	}
}
