package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/aperture/pkg/cache"
	"github.com/small-frappuccino/aperture/pkg/config"
	"github.com/small-frappuccino/aperture/pkg/errors"
	"github.com/small-frappuccino/aperture/pkg/service"
	"github.com/small-frappuccino/aperture/pkg/storage"
	"github.com/small-frappuccino/aperture/pkg/task"
)

func TestFormatStartupMessage(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		appName string
		version string
		want    string
	}{
		{
			name:    "with version",
			appName: "aperture",
			version: "1.0.1-alpha",
			want:    "Starting aperture v1.0.1-alpha...",
		},
		{
			name:    "no version",
			appName: "aperture",
			want:    "Starting aperture...",
		},
		{
			name:    "trims spaces and defaults name",
			appName: "  ",
			version: " 1.0.1-alpha ",
			want:    "Starting aperture v1.0.1-alpha...",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := formatStartupMessage(tc.appName, tc.version)
			if got != tc.want {
				t.Fatalf("formatStartupMessage() mismatch\nwant: %q\ngot:  %q", tc.want, got)
			}
		})
	}
}

func TestBuildServicesWiring(t *testing.T) {
	db := storage.NewStore(filepath.Join(t.TempDir(), "app.db"))
	if err := db.Init(context.Background()); err != nil {
		t.Fatalf("init store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	caches, err := cache.NewManager(newStores(db), cache.Options{DefaultPrefix: "a!"})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	s, err := discordgo.New("Bot test-token")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	tasks := task.NewRouter(task.Defaults())
	t.Cleanup(tasks.Close)

	cfg := config.Defaults("aperture")
	sm := service.NewServiceManager(nil)

	services := buildServices(cfg, db, caches, s, tasks, errors.NewErrorHandler(), sm)
	if len(services) != 2 {
		t.Fatalf("expected cache and gateway without a control address, got %d", len(services))
	}

	cfg.ControlAddr = "127.0.0.1:0"
	services = buildServices(cfg, db, caches, s, tasks, errors.NewErrorHandler(), sm)
	names := map[string][]string{}
	for _, svc := range services {
		names[svc.Name()] = svc.Dependencies()
	}
	if len(names) != 3 {
		t.Fatalf("expected three services, got %v", names)
	}
	for _, dependent := range []string{"gateway", "control"} {
		deps := names[dependent]
		if len(deps) != 1 || deps[0] != "cache" {
			t.Fatalf("%s must depend on cache, got %v", dependent, deps)
		}
	}
}

func TestCacheServiceFillsAndDrains(t *testing.T) {
	db := storage.NewStore(filepath.Join(t.TempDir(), "app.db"))
	ctx := context.Background()
	if err := db.Init(ctx); err != nil {
		t.Fatalf("init store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Prefixes().Save(ctx, 42, "?"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	caches, err := cache.NewManager(newStores(db), cache.Options{DefaultPrefix: "a!"})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	s, _ := discordgo.New("Bot test-token")
	tasks := task.NewRouter(task.Defaults())
	t.Cleanup(tasks.Close)

	services := buildServices(config.Defaults("aperture"), db, caches, s, tasks, errors.NewErrorHandler(), service.NewServiceManager(nil))
	cacheService := services[0]
	if err := cacheService.Start(ctx); err != nil {
		t.Fatalf("start cache service: %v", err)
	}
	if p, ok := caches.Prefixes.Cached(42); !ok || p != "?" {
		t.Fatalf("expected filled prefix, got %q %v", p, ok)
	}
	if h := cacheService.HealthCheck(ctx); !h.Healthy {
		t.Fatalf("expected healthy cache service, got %+v", h)
	}
	if err := cacheService.Stop(ctx); err != nil {
		t.Fatalf("stop cache service: %v", err)
	}
	if caches.Usage.State() != cache.StateStopped {
		t.Fatalf("expected recorder stopped, got %s", caches.Usage.State())
	}
}
