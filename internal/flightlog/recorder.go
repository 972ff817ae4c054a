package flightlog

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultQueueSize     = 256
	defaultBatchSize     = 50
	defaultFlushInterval = time.Second
)

// Recorder writes ticks to a Store from a background goroutine. Record never
// blocks: when the queue is full the tick is dropped and counted.
type Recorder struct {
	store   *Store
	session int64
	log     *slog.Logger

	queueSize     int
	batchSize     int
	flushInterval time.Duration

	mu     sync.RWMutex
	closed bool
	ch     chan Tick
	done   chan struct{}

	written atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

type RecorderOption func(*Recorder)

func WithLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if logger != nil {
			r.log = logger
		}
	}
}

func WithQueueSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

func WithBatchSize(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithFlushInterval(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.flushInterval = d
		}
	}
}

// RecorderStats counts ticks by outcome since the recorder started.
type RecorderStats struct {
	Written uint64
	Dropped uint64
	Failed  uint64
}

// NewRecorder starts a writer for an existing session. Call Close to flush
// queued ticks and stop the writer.
func NewRecorder(store *Store, session int64, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:         store,
		session:       session,
		log:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		queueSize:     defaultQueueSize,
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.ch = make(chan Tick, r.queueSize)
	go r.run()
	return r
}

func (r *Recorder) Session() int64 { return r.session }

// Record queues t. It reports false when the tick was dropped.
func (r *Recorder) Record(t Tick) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.dropped.Add(1)
		return false
	}
	select {
	case r.ch <- t:
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Written: r.written.Load(),
		Dropped: r.dropped.Load(),
		Failed:  r.failed.Load(),
	}
}

// Close drains the queue, writes what is left and waits for the writer.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
	r.mu.Unlock()
	<-r.done
	return nil
}

func (r *Recorder) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	batch := make([]Tick, 0, r.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Not tied to the loop context: ticks queued before shutdown are
		// still written.
		if err := r.store.InsertTicks(context.Background(), r.session, batch); err != nil {
			r.failed.Add(uint64(len(batch)))
			r.log.Warn("flightlog write failed", "session", r.session, "ticks", len(batch), "err", err)
		} else {
			r.written.Add(uint64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case t, ok := <-r.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, t)
			if len(batch) >= r.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
