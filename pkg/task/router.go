// Package task runs gateway-driven background work off the event goroutine.
// Tasks that share a key form a lane and run one at a time in dispatch order,
// retries included, so the join and leave of one guild never interleave.
package task

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/small-frappuccino/aperture/pkg/log"
)

// Handler processes one task payload.
type Handler func(ctx context.Context, payload any) error

// Task is one unit of work.
type Task struct {
	Type    string
	Payload any

	// Key selects the lane. Tasks with an empty key share one lane.
	Key string

	// DedupeKey rejects further dispatches with the same key until DedupeTTL
	// has passed or Forget is called.
	DedupeKey string
	DedupeTTL time.Duration

	// MaxAttempts overrides Config.MaxAttempts when positive.
	MaxAttempts int
}

// Config tunes a Router. Zero fields take the value from Defaults.
type Config struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	DedupeTTL      time.Duration
	// QueueSize bounds the tasks waiting in a single lane.
	QueueSize      int
	SweepInterval  time.Duration
	HandlerTimeout time.Duration
}

// Defaults returns the configuration used by the bot.
func Defaults() Config {
	return Config{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		DedupeTTL:      time.Minute,
		QueueSize:      128,
		SweepInterval:  time.Minute,
		HandlerTimeout: 30 * time.Second,
	}
}

// Errors returned by Dispatch.
var (
	ErrRouterClosed    = errors.New("task router is closed")
	ErrUnknownTaskType = errors.New("unknown task type")
	ErrDuplicateTask   = errors.New("duplicate task")
	ErrQueueFull       = errors.New("task lane is full")
)

const sharedLane = "_shared"

// Router dispatches tasks to registered handlers on per-key lanes.
type Router struct {
	cfg Config

	mu       sync.Mutex
	handlers map[string]Handler
	lanes    map[string]*lane
	dedupe   map[string]time.Time // dedupe key -> expiry
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	stop   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup

	executed     atomic.Int64
	failed       atomic.Int64
	deduplicated atomic.Int64
}

// lane is guarded by Router.mu. A lane with no queued task and no runner is
// removed from the map.
type lane struct {
	queue   []Task
	running bool
}

// NewRouter starts a router with cfg.
func NewRouter(cfg Config) *Router {
	def := Defaults()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = max(def.MaxBackoff, cfg.InitialBackoff)
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = def.DedupeTTL
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = def.HandlerTimeout
	}

	r := &Router{
		cfg:      cfg,
		handlers: make(map[string]Handler),
		lanes:    make(map[string]*lane),
		dedupe:   make(map[string]time.Time),
		stop:     make(chan struct{}),
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())

	r.wg.Add(1)
	go r.sweepLoop()
	return r
}

// RegisterHandler binds a handler to a task type, replacing any earlier one.
func (r *Router) RegisterHandler(taskType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[taskType] = h
}

// Dispatch queues t on its lane without blocking.
func (r *Router) Dispatch(ctx context.Context, t Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRouterClosed
	}
	if r.handlers[t.Type] == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTaskType, t.Type)
	}

	key := t.Key
	if key == "" {
		key = sharedLane
	}
	l := r.lanes[key]
	if l != nil && len(l.queue) >= r.cfg.QueueSize {
		return ErrQueueFull
	}

	if t.DedupeKey != "" {
		now := time.Now()
		if expiry, ok := r.dedupe[t.DedupeKey]; ok && now.Before(expiry) {
			r.deduplicated.Add(1)
			return ErrDuplicateTask
		}
		ttl := t.DedupeTTL
		if ttl <= 0 {
			ttl = r.cfg.DedupeTTL
		}
		r.dedupe[t.DedupeKey] = now.Add(ttl)
	}

	if l == nil {
		l = &lane{}
		r.lanes[key] = l
	}
	l.queue = append(l.queue, t)
	if !l.running {
		l.running = true
		r.wg.Add(1)
		go r.runLane(key)
	}
	return nil
}

// Forget drops a dedupe key so the next dispatch carrying it is accepted.
func (r *Router) Forget(dedupeKey string) {
	r.mu.Lock()
	delete(r.dedupe, dedupeKey)
	r.mu.Unlock()
}

// Close rejects new tasks, lets running handlers finish and drops whatever
// is still queued.
func (r *Router) Close() {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		dropped := 0
		for _, l := range r.lanes {
			dropped += len(l.queue)
			l.queue = nil
		}
		r.mu.Unlock()

		close(r.stop)
		r.wg.Wait()
		r.cancel()
		if dropped > 0 {
			log.ApplicationLogger().Warn("Task router closed with queued tasks", "dropped", dropped)
		}
	})
}

// Stats is a point-in-time view of the router.
type Stats struct {
	Lanes        int   `json:"lanes"`
	Queued       int   `json:"queued"`
	DedupeKeys   int   `json:"dedupe_keys"`
	Handlers     int   `json:"handlers"`
	Closed       bool  `json:"closed"`
	Executed     int64 `json:"executed"`
	Failed       int64 `json:"failed"`
	Deduplicated int64 `json:"deduplicated"`
}

func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	queued := 0
	for _, l := range r.lanes {
		queued += len(l.queue)
	}
	return Stats{
		Lanes:        len(r.lanes),
		Queued:       queued,
		DedupeKeys:   len(r.dedupe),
		Handlers:     len(r.handlers),
		Closed:       r.closed,
		Executed:     r.executed.Load(),
		Failed:       r.failed.Load(),
		Deduplicated: r.deduplicated.Load(),
	}
}

func (r *Router) runLane(key string) {
	defer r.wg.Done()
	for {
		r.mu.Lock()
		l := r.lanes[key]
		if r.closed || len(l.queue) == 0 {
			l.running = false
			if len(l.queue) == 0 {
				delete(r.lanes, key)
			}
			r.mu.Unlock()
			return
		}
		t := l.queue[0]
		l.queue[0] = Task{}
		l.queue = l.queue[1:]
		h := r.handlers[t.Type]
		r.mu.Unlock()

		r.run(key, t, h)
	}
}

// run executes t until it succeeds, runs out of attempts or the router
// stops. The lane waits through the backoff.
func (r *Router) run(key string, t Task, h Handler) {
	attempts := t.MaxAttempts
	if attempts <= 0 {
		attempts = r.cfg.MaxAttempts
	}
	for attempt := 1; ; attempt++ {
		err := r.invoke(t, h)
		r.executed.Add(1)
		if err == nil {
			return
		}
		if attempt >= attempts {
			r.failed.Add(1)
			log.ErrorLoggerRaw().Error("Task failed; giving up",
				"type", t.Type, "lane", key, "attempts", attempt, "err", err)
			return
		}

		delay := r.backoff(attempt)
		log.ApplicationLogger().Warn("Task failed, retrying",
			"type", t.Type, "lane", key, "attempt", attempt, "backoff", delay, "err", err)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-r.stop:
			timer.Stop()
			return
		}
	}
}

func (r *Router) invoke(t Task, h Handler) (err error) {
	ctx, cancel := context.WithTimeout(r.ctx, r.cfg.HandlerTimeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task %s panicked: %v", t.Type, p)
		}
	}()
	return h(ctx, t.Payload)
}

// backoff doubles from InitialBackoff per attempt, with 10% jitter, and stays
// within [InitialBackoff, MaxBackoff].
func (r *Router) backoff(attempt int) time.Duration {
	d := r.cfg.InitialBackoff
	for i := 1; i < attempt && d < r.cfg.MaxBackoff; i++ {
		d *= 2
	}
	if delta := int64(d) / 10; delta > 0 {
		d += time.Duration(rand.Int64N(2*delta+1) - delta)
	}
	return min(max(d, r.cfg.InitialBackoff), r.cfg.MaxBackoff)
}

func (r *Router) sweepLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case now := <-ticker.C:
			r.sweep(now)
		}
	}
}

func (r *Router) sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, expiry := range r.dedupe {
		if !now.Before(expiry) {
			delete(r.dedupe, k)
		}
	}
}
