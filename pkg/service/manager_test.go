package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/small-frappuccino/aperture/pkg/errors"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func wrapped(rec *recorder, name string, deps []string, prio ServicePriority) *ServiceWrapper {
	return NewServiceWrapper(name, TypeCache, prio, deps,
		func(ctx context.Context) error { rec.add("start:" + name); return nil },
		func(ctx context.Context) error { rec.add("stop:" + name); return nil },
		nil,
	)
}

func TestStartAndStopFollowDependencies(t *testing.T) {
	rec := &recorder{}
	sm := NewServiceManager(apperrors.NewErrorHandler())
	for _, svc := range []Service{
		wrapped(rec, "gateway", []string{"cache"}, PriorityNormal),
		wrapped(rec, "control", nil, PriorityLow),
		wrapped(rec, "cache", nil, PriorityHigh),
	} {
		if err := sm.Register(svc); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	if err := sm.StartAll(); err != nil {
		t.Fatalf("start all: %v", err)
	}
	if got := sm.GetRunningServices(); len(got) != 3 {
		t.Fatalf("expected 3 running services, got %v", got)
	}
	if err := sm.StopAll(); err != nil {
		t.Fatalf("stop all: %v", err)
	}

	events := rec.list()
	index := map[string]int{}
	for i, e := range events {
		index[e] = i
	}
	if index["start:cache"] > index["start:gateway"] {
		t.Fatalf("cache must start before gateway: %v", events)
	}
	if index["stop:gateway"] > index["stop:cache"] {
		t.Fatalf("gateway must stop before cache: %v", events)
	}
	if len(events) != 6 {
		t.Fatalf("expected every service started and stopped once, got %v", events)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	sm := NewServiceManager(nil)
	rec := &recorder{}
	if err := sm.Register(wrapped(rec, "cache", nil, PriorityHigh)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := sm.Register(wrapped(rec, "cache", nil, PriorityHigh)); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestStartOrderDetectsCycles(t *testing.T) {
	sm := NewServiceManager(nil)
	rec := &recorder{}
	_ = sm.Register(wrapped(rec, "a", []string{"b"}, PriorityNormal))
	_ = sm.Register(wrapped(rec, "b", []string{"a"}, PriorityNormal))
	if _, err := sm.calculateStartOrder(); err == nil {
		t.Fatalf("expected circular dependency error")
	}
}

func TestStartFailureStopsStartedServices(t *testing.T) {
	rec := &recorder{}
	sm := NewServiceManager(apperrors.NewErrorHandler())
	_ = sm.Register(wrapped(rec, "cache", nil, PriorityHigh))
	failing := NewServiceWrapper("gateway", TypeGateway, PriorityNormal, []string{"cache"},
		func(ctx context.Context) error { return errors.New("invalid token") },
		nil, nil)
	_ = sm.Register(failing)

	if err := sm.StartAll(); err == nil {
		t.Fatalf("expected start failure")
	}
	info, _ := sm.GetServiceInfo("gateway")
	if info.State != StateError && info.State != StateStopped {
		t.Fatalf("unexpected gateway state %s", info.State)
	}
	events := rec.list()
	if len(events) != 2 || events[1] != "stop:cache" {
		t.Fatalf("expected cache to be stopped after failure, got %v", events)
	}
}

func TestWrapperHealth(t *testing.T) {
	down := errors.New("store unreachable")
	var fail bool
	w := NewServiceWrapper("cache", TypeCache, PriorityHigh, nil, nil, nil,
		func(ctx context.Context) error {
			if fail {
				return down
			}
			return nil
		})

	ctx := context.Background()
	if w.HealthCheck(ctx).Healthy {
		t.Fatalf("a stopped service must not report healthy")
	}
	_ = w.Start(ctx)
	if !w.HealthCheck(ctx).Healthy {
		t.Fatalf("expected healthy after start")
	}
	fail = true
	if h := w.HealthCheck(ctx); h.Healthy || h.Message != down.Error() {
		t.Fatalf("expected check failure to surface, got %+v", h)
	}
}

func TestStopHookErrorIsReported(t *testing.T) {
	w := NewServiceWrapper("cache", TypeCache, PriorityHigh, nil, nil,
		func(ctx context.Context) error { return errors.New("flush failed") }, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = w.Start(ctx)
	if err := w.Stop(ctx); err == nil {
		t.Fatalf("expected stop hook error")
	}
	if w.IsRunning() || w.GetState() != StateStopped {
		t.Fatalf("service must be stopped even when the hook fails")
	}
}

func TestUnhealthyServiceIsRestarted(t *testing.T) {
	rec := &recorder{}
	var broken atomic.Bool
	broken.Store(true)
	svc := NewServiceWrapper("gateway", TypeGateway, PriorityNormal, nil,
		func(ctx context.Context) error { rec.add("start"); return nil },
		func(ctx context.Context) error { rec.add("stop"); return nil },
		func(ctx context.Context) error {
			if broken.CompareAndSwap(true, false) {
				return errors.New("gateway not ready")
			}
			return nil
		},
	)

	sm := NewServiceManager(nil)
	sm.SetHealthInterval(10 * time.Millisecond)
	sm.SetRestartPolicy(1, 0)
	if err := sm.Register(svc); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := sm.StartAll(); err != nil {
		t.Fatalf("start all: %v", err)
	}
	defer sm.StopAll()

	deadline := time.Now().Add(2 * time.Second)
	var info ServiceInfo
	for time.Now().Before(deadline) {
		info = sm.GetAllServices()["gateway"]
		if info.RestartCount == 1 && info.State == StateRunning {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if info.RestartCount != 1 || info.State != StateRunning {
		t.Fatalf("expected one restart back to running, got restarts=%d state=%v", info.RestartCount, info.State)
	}
	if got := rec.list(); len(got) != 3 || got[0] != "start" || got[1] != "stop" || got[2] != "start" {
		t.Fatalf("unexpected lifecycle: %v", got)
	}
}
