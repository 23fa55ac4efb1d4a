package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"livecast/internal/core/domain"
	"livecast/internal/core/services"
	httphandlers "livecast/internal/handlers/http"
	"livecast/internal/infrastructure/distributed"
	"livecast/internal/infrastructure/engine/loopback"
	"livecast/internal/infrastructure/monitoring"
	"livecast/internal/infrastructure/preferences"
	"livecast/internal/infrastructure/status"
	"livecast/pkg/config"
	redislease "livecast/pkg/distributed"
	"livecast/pkg/logger"
	"livecast/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

func loadConfig() (*config.Config, error) {
	paths := []string{
		"configs/livecast.yaml",
		"./configs/livecast.yaml",
		"/etc/livecast/livecast.yaml",
		"livecast.yaml",
	}
	if p := os.Getenv("LIVECAST_CONFIG"); p != "" {
		paths = []string{p}
	}

	var err error
	for _, path := range paths {
		var cfg *config.Config
		if cfg, err = config.Load(path); err == nil {
			return cfg, nil
		}
	}
	return nil, err
}

func main() {
	cfg, cfgErr := loadConfig()
	if cfgErr != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()
	if cfgErr != nil {
		log.Warnw("using default configuration", "error", cfgErr)
	}

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "livecast-broadcaster",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialise tracing", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prefFactory := preferences.NewFactory(ctx, cfg, log)
	prefs := prefFactory.Store()

	var snapshotsDone <-chan struct{}
	if mem := prefFactory.MemoryStore(); mem != nil && cfg.Snapshots.Enabled {
		if snapshotsDone, err = startSnapshots(ctx, cfg, mem, log.Named("snapshots")); err != nil {
			log.Warnw("settings snapshots disabled", "error", err)
		}
	}

	collector := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)

	engineCfg := loopback.DefaultConfig()
	engineCfg.VideoBitrate = cfg.Quality.Initial.Bitrate
	engineCfg.Width = cfg.Quality.Initial.Width
	engineCfg.Height = cfg.Quality.Initial.Height
	engineCfg.FPS = cfg.Quality.Initial.FPS
	engine := loopback.New(engineCfg, log.Named("engine"))

	hub := status.NewHub(status.HubConfig{
		PingInterval:   cfg.Status.PingInterval,
		WriteTimeout:   cfg.Status.WriteTimeout,
		ClientBuffer:   cfg.Status.ClientBuffer,
		AllowedOrigins: cfg.Status.AllowedOrigins,
	}, log.Named("status"))

	instanceID := uuid.NewString()
	var (
		bus   *distributed.EventBus
		lease *redislease.Lease
	)
	if client := prefFactory.RedisClient(); client != nil {
		bus = distributed.NewEventBus(client, instanceID, cfg.Redis.Channel, log.Named("events"))
		go bus.Run(ctx)
		lease = redislease.NewLease(client, cfg.Redis.KeyPrefix+"publisher", instanceID, cfg.Redis.LeaseTTL)
	}
	sink := status.NewFanout(hub, statusSinkOrNil(bus))

	stats := services.NewStatisticsCollector(engine, sink, collector, cfg.Broadcast.StatisticsInterval, log.Named("stats"))
	sampler := services.NewPerformanceSampler(cfg.Quality.HistorySize)
	applier := services.NewConfigApplier(engine, prefs, sink, collector, log.Named("settings"))
	quality := services.NewQualityController(services.QualityConfig{
		Enabled:          cfg.Quality.Enabled,
		TargetFPS:        cfg.Quality.TargetFPS,
		AnalysisInterval: cfg.Quality.AnalysisInterval,
		Hysteresis:       cfg.Quality.Hysteresis,
		HistorySize:      cfg.Quality.HistorySize,
		TrendWindow:      cfg.Quality.TrendWindow,
		Initial: domain.EncoderSettings{
			Bitrate: cfg.Quality.Initial.Bitrate,
			Width:   cfg.Quality.Initial.Width,
			Height:  cfg.Quality.Initial.Height,
			FPS:     cfg.Quality.Initial.FPS,
		},
	}, sampler, applier, collector, log.Named("quality"))
	manager := services.NewConnectionManager(engine, stats, quality, sink, collector, services.ManagerConfig{
		RetryDelay: cfg.Broadcast.RetryDelay,
		MaxRetries: cfg.Broadcast.MaxRetries,
	}, log.Named("connections"))
	session := services.NewSessionController(services.SessionDeps{
		Engine:         engine,
		Network:        engine,
		Manager:        manager,
		Stats:          stats,
		Quality:        quality,
		Sampler:        sampler,
		Applier:        applier,
		Logger:         log.Named("session"),
		Targets:        cfg.Broadcast.Connections,
		RequireNetwork: cfg.Broadcast.RequireNetwork,
		Lease:          leaseOrNil(lease),
	})
	if lease != nil {
		lease.OnLost(func(err error) {
			log.Errorw("publisher lease lost, stopping broadcast", "error", err)
			session.Stop(context.Background())
		})
	}

	health := monitoring.NewHealthChecker()
	health.AddPreferenceStoreCheck(prefs, 30*time.Second, 2*time.Second)
	if client := prefFactory.RedisClient(); client != nil {
		health.AddRedisCheck(client, 30*time.Second, 2*time.Second)
	}
	health.AddCaptureCheck(engine, time.Second)
	health.AddNetworkCheck(engine, time.Second)
	health.StartBackgroundChecks(ctx, func(name string, err error) {
		log.Warnw("health check failed", "check", name, "error", err)
	})

	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.OperatorKey, cfg.Auth.AccessTokenTTL)

	go session.Run(ctx)
	go engine.RunFrames(ctx, session.OnFrameMetrics)
	engine.StartCapture()

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httphandlers.NewRouter(httphandlers.RouterDeps{
		Config:     cfg,
		Controller: session,
		Auth:       authService,
		Health:     health,
		Gatherer:   prometheus.DefaultGatherer,
		StatusFeed: hub,
		Logger:     log.Named("http"),
	})

	srv := &http.Server{
		Addr:         cfg.Control.Address,
		Handler:      router,
		ReadTimeout:  cfg.Control.ReadTimeout,
		WriteTimeout: cfg.Control.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("starting control API", "address", cfg.Control.Address, "targets", len(cfg.Broadcast.Connections))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("control API failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Control.ShutdownTimeout)
	defer shutdownCancel()

	session.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		srv.Close()
	}

	cancel()
	if snapshotsDone != nil {
		<-snapshotsDone
	}
	hub.Close()
	engine.Close()
	if bus != nil {
		bus.Close()
	}
	if err := prefFactory.Close(); err != nil {
		log.Errorw("error closing preference store", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error flushing traces", "error", err)
	}

	log.Info("broadcaster stopped")
}
