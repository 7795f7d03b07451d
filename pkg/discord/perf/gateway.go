// Package perf times gateway event handlers.
package perf

import (
	"strings"
	"sync"
	"time"

	"github.com/small-frappuccino/aperture/pkg/log"
	"github.com/small-frappuccino/aperture/pkg/telemetry"
	"github.com/small-frappuccino/aperture/pkg/util"
)

const (
	envSlowThresholdMs     = "APERTURE_GATEWAY_SLOW_MS"
	defaultSlowThresholdMs = int64(200)
)

var (
	thresholdOnce sync.Once
	threshold     time.Duration
)

func slowThreshold() time.Duration {
	thresholdOnce.Do(func() {
		ms := util.EnvInt64(envSlowThresholdMs, defaultSlowThresholdMs)
		if ms > 0 {
			threshold = time.Duration(ms) * time.Millisecond
		}
	})
	return threshold
}

// Track starts timing a handler for event. The returned func records the
// duration and logs a warning when it exceeds APERTURE_GATEWAY_SLOW_MS
// (0 disables the warning, the histogram is always fed).
func Track(event string, args ...any) func() {
	name := strings.TrimSpace(event)
	if name == "" {
		name = "unknown"
	}
	start := time.Now()
	return func() {
		d := time.Since(start)
		telemetry.ObserveGatewayEvent(name, d)

		limit := slowThreshold()
		if limit <= 0 || d < limit {
			return
		}
		attrs := append([]any{"event", name, "duration", d, "duration_ms", d.Milliseconds()}, args...)
		log.DiscordLogger().Warn("Slow gateway event handler", attrs...)
	}
}
