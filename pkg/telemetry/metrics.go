// Package telemetry provides Prometheus metrics, OpenTelemetry tracing and
// correlation-id helpers for the cache subsystem and command pipeline.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// CacheLookups counts KeyedCache lookups by cache name and result (hit, miss).
	CacheLookups *prometheus.CounterVec
	// SetSize tracks the in-memory size of each SetCache.
	SetSize *prometheus.GaugeVec
	// PrefixResolutions counts resolutions by the tier that answered (memory, store, default, direct).
	PrefixResolutions *prometheus.CounterVec

	UsageRecorded prometheus.Counter
	UsageFlushed  prometheus.Counter
	UsageDropped  prometheus.Counter
	FlushDuration prometheus.Observer

	// CommandsInvoked counts accepted command invocations by command name.
	CommandsInvoked *prometheus.CounterVec
	// CommandsRejected counts messages turned away before the handler ran, by reason.
	CommandsRejected *prometheus.CounterVec

	// GatewayEventDuration observes handler latency by gateway event.
	GatewayEventDuration *prometheus.HistogramVec
)

// Init registers metrics with the default registry (idempotent).
func Init() {
	once.Do(func() {
		CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{Name: "aperture_cache_lookups_total", Help: "Keyed cache lookups by cache and result"}, []string{"cache", "result"})
		SetSize = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "aperture_set_cache_size", Help: "Entries held by each set cache"}, []string{"cache"})
		PrefixResolutions = promauto.NewCounterVec(prometheus.CounterOpts{Name: "aperture_prefix_resolutions_total", Help: "Prefix resolutions by answering tier"}, []string{"tier"})
		UsageRecorded = promauto.NewCounter(prometheus.CounterOpts{Name: "aperture_usage_events_recorded_total", Help: "Usage events appended to the buffer"})
		UsageFlushed = promauto.NewCounter(prometheus.CounterOpts{Name: "aperture_usage_events_flushed_total", Help: "Usage events persisted by a flush"})
		UsageDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "aperture_usage_events_dropped_total", Help: "Usage events lost because a flush failed"})
		FlushDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "aperture_usage_flush_duration_seconds", Help: "Usage flush duration seconds", Buckets: prometheus.DefBuckets})
		CommandsInvoked = promauto.NewCounterVec(prometheus.CounterOpts{Name: "aperture_commands_invoked_total", Help: "Accepted command invocations"}, []string{"command"})
		CommandsRejected = promauto.NewCounterVec(prometheus.CounterOpts{Name: "aperture_commands_rejected_total", Help: "Command messages rejected before execution"}, []string{"reason"})
		GatewayEventDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "aperture_gateway_event_duration_seconds", Help: "Gateway event handler duration seconds", Buckets: prometheus.DefBuckets}, []string{"event"})
	})
}

// CacheHit records a keyed cache hit.
func CacheHit(cache string) {
	if CacheLookups != nil {
		CacheLookups.WithLabelValues(cache, "hit").Inc()
	}
}

// CacheMiss records a keyed cache miss.
func CacheMiss(cache string) {
	if CacheLookups != nil {
		CacheLookups.WithLabelValues(cache, "miss").Inc()
	}
}

// SetCacheSize records the current size of a set cache.
func SetCacheSize(cache string, n int) {
	if SetSize != nil {
		SetSize.WithLabelValues(cache).Set(float64(n))
	}
}

// PrefixResolved records which tier answered a prefix resolution.
func PrefixResolved(tier string) {
	if PrefixResolutions != nil {
		PrefixResolutions.WithLabelValues(tier).Inc()
	}
}

func AddUsageRecorded(n int) {
	if UsageRecorded != nil {
		UsageRecorded.Add(float64(n))
	}
}

func AddUsageFlushed(n int) {
	if UsageFlushed != nil {
		UsageFlushed.Add(float64(n))
	}
}

func AddUsageDropped(n int) {
	if UsageDropped != nil {
		UsageDropped.Add(float64(n))
	}
}

// CommandInvoked records an accepted command.
func CommandInvoked(name string) {
	if CommandsInvoked != nil {
		CommandsInvoked.WithLabelValues(name).Inc()
	}
}

// CommandRejected records a rejected command message.
func CommandRejected(reason string) {
	if CommandsRejected != nil {
		CommandsRejected.WithLabelValues(reason).Inc()
	}
}

// ObserveGatewayEvent records how long a gateway handler ran.
func ObserveGatewayEvent(event string, d time.Duration) {
	if GatewayEventDuration != nil {
		GatewayEventDuration.WithLabelValues(event).Observe(d.Seconds())
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a context carrying id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// NewCorrelation returns a context carrying a fresh random correlation id.
func NewCorrelation(ctx context.Context) (context.Context, string) {
	id := uuid.NewString()
	return WithCorrelation(ctx, id), id
}

// GetCorrelation returns the correlation id or an empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns base with a corr attribute when ctx carries one.
func LoggerWithCorr(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	if id := GetCorrelation(ctx); id != "" {
		return base.With(slog.String("corr", id))
	}
	return base
}
