package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/aperture/pkg/cache"
	"github.com/small-frappuccino/aperture/pkg/config"
	"github.com/small-frappuccino/aperture/pkg/control"
	"github.com/small-frappuccino/aperture/pkg/discord/commands"
	"github.com/small-frappuccino/aperture/pkg/discord/events"
	"github.com/small-frappuccino/aperture/pkg/discord/session"
	"github.com/small-frappuccino/aperture/pkg/errors"
	"github.com/small-frappuccino/aperture/pkg/log"
	"github.com/small-frappuccino/aperture/pkg/service"
	"github.com/small-frappuccino/aperture/pkg/storage"
	"github.com/small-frappuccino/aperture/pkg/store"
	"github.com/small-frappuccino/aperture/pkg/task"
	"github.com/small-frappuccino/aperture/pkg/telemetry"
	"github.com/small-frappuccino/aperture/pkg/util"
)

// Run bootstraps the bot and blocks until shutdown.
// appName affects data and log paths; tokenEnv is the environment variable
// containing the bot token. The token is read from the process environment
// first; if empty, $HOME/.local/bin/.env is loaded and the variable re-checked.
func Run(appName, tokenEnv string) error {
	started := time.Now()

	token, loadErr := util.LoadEnvWithLocalBinFallback(tokenEnv)

	cfg, err := config.Load(appName, "")
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if token != "" {
		cfg.Token = token
	}

	// Logger first so subsequent steps can log meaningfully
	if err := log.SetupLogger(log.Options{
		Dir:     cfg.LogDir,
		Level:   cfg.LogLevel,
		Console: cfg.LogConsole,
	}); err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}
	defer log.GlobalLogger.Sync()

	if loadErr != nil && cfg.Token == "" {
		log.ApplicationLogger().Warn("Token lookup failed", "err", loadErr)
	}
	if cfg.Token == "" {
		return fmt.Errorf("%s not set in environment or .env file", tokenEnv)
	}

	log.ApplicationLogger().Info(formatStartupMessage(appName, Version))

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing(appName, Version)
	if err != nil {
		log.ApplicationLogger().Warn("Tracing disabled", "err", err)
		shutdownTracing = func() {}
	}
	defer shutdownTracing()

	// Store
	db := storage.NewStore(cfg.DSN)
	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = db.Init(initCtx)
	initCancel()
	if err != nil {
		return fmt.Errorf("initialize %s store: %w", db.Dialect(), err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.ErrorLoggerRaw().Error("Failed to close store", "err", err)
		}
	}()

	caches, err := cache.NewManager(newStores(db), cache.Options{
		DefaultPrefix:   cfg.DefaultPrefix,
		PrefixCacheSize: cfg.PrefixCache,
		FlushInterval:   cfg.FlushInterval,
	})
	if err != nil {
		return fmt.Errorf("create cache manager: %w", err)
	}

	discordSession, err := session.New(cfg.Token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}

	errorHandler := errors.NewErrorHandler()
	serviceManager := service.NewServiceManager(errorHandler)
	serviceManager.SetShutdownTimeout(cfg.ShutdownTimeout)

	tasks := task.NewRouter(task.Defaults())
	defer tasks.Close()

	services := buildServices(cfg, db, caches, discordSession, tasks, errorHandler, serviceManager)
	for _, svc := range services {
		if err := serviceManager.Register(svc); err != nil {
			return fmt.Errorf("register %s service: %w", svc.Name(), err)
		}
	}

	if err := serviceManager.StartAll(); err != nil {
		return fmt.Errorf("start services: %w", err)
	}

	log.ApplicationLogger().Info("Aperture initialized",
		"app", appName,
		"took", time.Since(started).Round(time.Millisecond))
	log.ApplicationLogger().Info("Running. Press Ctrl+C to stop...", "app", appName)

	err = util.ShutdownOnInterrupt(context.Background(), func() error {
		log.ApplicationLogger().Info("Stopping...", "app", appName)
		// Gateway stops before the cache so no event lands after the final drain.
		return serviceManager.StopAll()
	})
	if err != nil {
		log.ErrorLoggerRaw().Error("Some services failed to stop cleanly", "err", err)
	}
	return nil
}

// newStores binds the cache layer to the tables of db.
func newStores(db *storage.Store) cache.Stores {
	return cache.Stores{
		Prefixes:        db.Prefixes(),
		BlacklistGuilds: db.Flags(store.Guilds, store.Blacklisted),
		BlacklistUsers:  db.Flags(store.Users, store.Blacklisted),
		PremiumGuilds:   db.Flags(store.Guilds, store.Premium),
		PremiumUsers:    db.Flags(store.Users, store.Premium),
		Usage:           db.CommandStats(),
	}
}

// buildServices wires the cache, gateway and control services. The gateway
// and control services depend on the cache service.
func buildServices(
	cfg config.Config,
	db *storage.Store,
	caches *cache.Manager,
	s *discordgo.Session,
	tasks *task.Router,
	errorHandler *errors.ErrorHandler,
	sm *service.ServiceManager,
) []service.Service {
	cacheService := service.NewServiceWrapper(
		"cache",
		service.TypeCache,
		service.PriorityHigh,
		nil,
		func(ctx context.Context) error {
			if !caches.Filled() {
				if err := caches.FillAll(ctx); err != nil {
					return err
				}
			}
			return caches.StartPeriodicTasks()
		},
		caches.StopPeriodicTasks,
		db.Ping,
	)

	lifecycle := events.NewGuildLifecycle(caches, tasks)
	commandHandler := commands.NewCommandHandler(s, caches, db.CommandStats(), cfg, errorHandler)
	var detach []func()

	gatewayService := service.NewServiceWrapper(
		"gateway",
		service.TypeGateway,
		service.PriorityNormal,
		[]string{"cache"},
		func(ctx context.Context) error {
			if len(detach) == 0 {
				if err := commandHandler.SetupCommands(); err != nil {
					return err
				}
				router := commandHandler.GetRouter()
				detach = append(detach,
					lifecycle.Attach(s),
					s.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
						router.SetSelfID(r.User.ID)
						log.DiscordLogger().Info("Authenticated", "user", r.User.Username, "guilds", len(r.Guilds))
					}),
				)
			}
			return session.Open(s)
		},
		func(ctx context.Context) error {
			for _, fn := range detach {
				fn()
			}
			detach = nil
			_ = commandHandler.Shutdown()
			return session.Close(s)
		},
		func(ctx context.Context) error {
			if !s.DataReady {
				return fmt.Errorf("gateway not ready")
			}
			return nil
		},
	)

	services := []service.Service{cacheService, gatewayService}

	if srv := control.NewServer(cfg.ControlAddr, caches, sm.CheckAll, nil); srv != nil {
		services = append(services, service.NewServiceWrapper(
			"control",
			service.TypeControl,
			service.PriorityLow,
			[]string{"cache"},
			func(ctx context.Context) error { return srv.Start() },
			srv.Stop,
			nil,
		))
	}
	return services
}

// formatStartupMessage renders the first log line of a run.
func formatStartupMessage(appName, version string) string {
	appName = strings.TrimSpace(appName)
	version = strings.TrimSpace(version)
	if appName == "" {
		appName = "aperture"
	}
	if version == "" {
		return fmt.Sprintf("Starting %s...", appName)
	}
	return fmt.Sprintf("Starting %s v%s...", appName, version)
}
