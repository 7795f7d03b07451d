package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/small-frappuccino/aperture/pkg/log"
	"github.com/small-frappuccino/aperture/pkg/store"
	"github.com/small-frappuccino/aperture/pkg/telemetry"
)

// DefaultFlushInterval is how often buffered usage is persisted.
const DefaultFlushInterval = 30 * time.Second

// UsageSink persists a batch of usage events.
type UsageSink interface {
	InsertCommandStats(ctx context.Context, events []store.UsageEvent) error
}

// RecorderState is the flush loop state.
type RecorderState int32

const (
	StateIdle RecorderState = iota
	StateFlushing
	StateStopped
)

func (s RecorderState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFlushing:
		return "flushing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// UsageRecorder buffers usage events and writes them to a UsageSink in
// batches. Delivery is at most once: a batch whose insert fails is dropped
// and counted, never retried.
type UsageRecorder struct {
	sink     UsageSink
	interval time.Duration

	mu  sync.Mutex
	buf []store.UsageEvent

	// flushMu serialises flushes so a batch is never written twice.
	flushMu sync.Mutex
	state   atomic.Int32

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	flushed atomic.Int64
	dropped atomic.Int64
}

// NewUsageRecorder creates a recorder flushing to sink every interval.
func NewUsageRecorder(sink UsageSink, interval time.Duration) *UsageRecorder {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &UsageRecorder{sink: sink, interval: interval}
}

// Add appends an event. It never performs I/O.
func (r *UsageRecorder) Add(e store.UsageEvent) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	r.mu.Lock()
	r.buf = append(r.buf, e)
	r.mu.Unlock()
	telemetry.AddUsageRecorded(1)
}

// Pending reports how many events wait for the next flush.
func (r *UsageRecorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// State reports the flush loop state.
func (r *UsageRecorder) State() RecorderState { return RecorderState(r.state.Load()) }

// Flushed and Dropped report lifetime event totals.
func (r *UsageRecorder) Flushed() int64 { return r.flushed.Load() }
func (r *UsageRecorder) Dropped() int64 { return r.dropped.Load() }

// Flush swaps the buffer for an empty one and writes the swapped batch.
// Events added while the write is in progress land in the new buffer.
// It returns the number of events persisted.
func (r *UsageRecorder) Flush(ctx context.Context) (int, error) {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	batch := r.buf
	r.buf = nil
	r.mu.Unlock()

	if len(batch) == 0 {
		return 0, nil
	}

	if r.state.CompareAndSwap(int32(StateIdle), int32(StateFlushing)) {
		defer r.state.Store(int32(StateIdle))
	}

	batchID := uuid.NewString()
	var err error
	elapsed := telemetry.TimeFunc(telemetry.FlushDuration, func() {
		err = r.sink.InsertCommandStats(ctx, batch)
	})
	if err != nil {
		r.dropped.Add(int64(len(batch)))
		telemetry.AddUsageDropped(len(batch))
		log.DatabaseLogger().Warn("Usage batch dropped",
			"batch", batchID, "events", len(batch), "duration", elapsed, "error", err)
		return 0, err
	}

	r.flushed.Add(int64(len(batch)))
	telemetry.AddUsageFlushed(len(batch))
	log.DatabaseLogger().Debug("Usage batch flushed",
		"batch", batchID, "events", len(batch), "duration", elapsed)
	return len(batch), nil
}

// Start launches the periodic flush loop. Calling it while running is a no-op.
func (r *UsageRecorder) Start() {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.state.Store(int32(StateIdle))
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	go r.loop(r.stopCh, r.doneCh)
}

func (r *UsageRecorder) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.interval)
			_, _ = r.Flush(ctx)
			cancel()
		}
	}
}

// Stop signals the loop, waits for an in-flight flush to finish, drains the
// remaining buffer once and moves to StateStopped. If ctx ends before the
// loop exits, Stop returns ctx.Err(); the loop still exits after its current
// iteration and a later Stop performs the drain.
func (r *UsageRecorder) Stop(ctx context.Context) error {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if !r.running {
		return nil
	}

	close(r.stopCh)
	select {
	case <-r.doneCh:
	case <-ctx.Done():
		// Fresh channel so a second Stop does not close the old one again.
		r.stopCh = make(chan struct{})
		return ctx.Err()
	}
	r.running = false

	_, err := r.Flush(ctx)
	r.state.Store(int32(StateStopped))
	return err
}
