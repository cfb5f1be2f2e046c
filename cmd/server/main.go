package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"go.uber.org/zap"

	handlers "MegaBrain/internal/handler"
	"MegaBrain/internal/listeners"
	"MegaBrain/internal/models"
	"MegaBrain/internal/safety"
	"MegaBrain/pkg/cache"
	"MegaBrain/pkg/cluster"
	"MegaBrain/pkg/config"
	"MegaBrain/pkg/graphhopper"
	"MegaBrain/pkg/logger"
	"MegaBrain/pkg/metrics"
	"MegaBrain/pkg/middleware"
	"MegaBrain/pkg/scheduler"
	"MegaBrain/pkg/sse"
	"MegaBrain/pkg/supabase"
	"MegaBrain/pkg/util"
)

func main() {
	if err := config.Load(); err != nil {
		panic(err)
	}
	cfg := config.GlobalConfig

	if err := logger.Init(&cfg.Log, cfg.Mode); err != nil {
		panic(err)
	}
	defer logger.Sync()

	gin.SetMode(cfg.Mode)

	m := metrics.New()

	db, err := util.InitDatabase(os.Stdout, cfg.DBDriver, cfg.DSN)
	if err != nil {
		logger.Fatal("init database failed", zap.Error(err))
	}
	if err := db.Use(metrics.NewGormPlugin(m)); err != nil {
		logger.Warn("gorm metrics plugin not installed", zap.Error(err))
	}
	if err := models.AutoMigrate(db); err != nil {
		logger.Fatal("migrate failed", zap.Error(err))
	}

	authCache, err := cache.NewCacheWithOptions(cfg.Cache, &cache.Options{
		Expiration:      cfg.AuthCacheTTL,
		UseLocalCache:   true,
		LocalExpiration: cfg.AuthCacheTTL / 2,
	})
	if err != nil {
		logger.Fatal("init cache failed", zap.Error(err))
	}
	defer authCache.Close()

	var limiterStore limiter.Store
	if cfg.Cache.Type == "redis" {
		client, err := cache.NewRedisClient(cfg.Cache.Redis)
		if err != nil {
			logger.Fatal("connect redis failed", zap.Error(err))
		}
		defer client.Close()
		if limiterStore, err = middleware.NewRedisStore(client, cfg.Cache.Redis.KeyPrefix); err != nil {
			logger.Fatal("init rate limit store failed", zap.Error(err))
		}
	}

	users := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseAnonKey, cfg.SupabaseServiceKey, cfg.SupabaseTimeout)
	planner := safety.NewPlanner(
		graphhopper.NewClient(cfg.GraphHopperURL, cfg.GraphHopperTimeout),
		models.NewFeatureStore(db),
		safety.Options{MaxDistanceKm: cfg.MaxRouteDistanceKm, WalkingThresholdKm: cfg.WalkingThresholdKm},
		m,
	)
	clusters := cluster.NewService(handlers.NewClusterLoader(db), cluster.ServiceOptions{
		Index:       cluster.DefaultOptions(),
		TTL:         cfg.ClusterCacheTTL,
		CacheSize:   cfg.ClusterCacheSize,
		ReloadBelow: cfg.ClusterMinPoints,
	}, m)

	hub := sse.NewHub(cfg.SSEPingInterval)
	signals := util.Sig()
	listeners.InitGuardianListeners(signals, hub)

	cr := scheduler.NewCron(time.UTC)
	if cfg.SOSSweepSchedule != "" {
		if _, err := cr.AddFunc("sos-sweep", cfg.SOSSweepSchedule, func(ctx context.Context) {
			n, err := models.SweepExpiredSOS(db.WithContext(ctx), time.Now().UTC())
			if err != nil {
				logger.Warn("sos sweep failed", zap.Error(err))
				return
			}
			if n > 0 {
				logger.Info("expired sos shares closed", zap.Int64("count", n))
			}
		}); err != nil {
			logger.Fatal("schedule sos sweep failed", zap.Error(err))
		}
	}
	if cfg.ClusterRefreshSchedule != "" {
		if _, err := cr.AddFunc("cluster-refresh", cfg.ClusterRefreshSchedule, func(ctx context.Context) {
			if err := clusters.Reload(ctx); err != nil {
				logger.Warn("cluster refresh failed", zap.Error(err))
			}
		}); err != nil {
			logger.Fatal("schedule cluster refresh failed", zap.Error(err))
		}
	}
	cr.Start()
	defer cr.Stop()

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:       cfg.RateLimit,
		RouteRates: map[string]string{cfg.APIPrefix + "/get-route": cfg.RouteRateLimit},
		Identifier: cfg.RateLimitIdentifier,
		Exempt: []string{
			cfg.MetricsPath,
			cfg.APIPrefix + "/system/health",
			cfg.APIPrefix + "/guardians/events",
			cfg.APIPrefix + "/guardians/sos",
		},
		AddHeaders: true,
	}, limiterStore).WithObserver(m)

	r := gin.New()
	r.Use(
		logger.GinLogger(),
		logger.GinRecovery(),
		middleware.CORS(cfg.CORSOrigins),
		m.Middleware(),
		middleware.Authenticate(users, middleware.AuthOptions{Cache: authCache, CacheTTL: cfg.AuthCacheTTL, Metrics: m}),
		rateLimiter.Middleware(),
	)

	handlers.NewHandlers(handlers.Options{
		DB:       db,
		Config:   cfg,
		Users:    users,
		Planner:  planner,
		Clusters: clusters,
		Hub:      hub,
		Metrics:  m,
		Signals:  signals,
	}).Register(r)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
}
