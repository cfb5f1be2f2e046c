package config

import (
	"log"
	"os"
	"time"

	"MegaBrain/pkg/cache"
	"MegaBrain/pkg/logger"
	"MegaBrain/pkg/util"
)

type Config struct {
	DBDriver    string `env:"DB_DRIVER"`
	DSN         string `env:"DSN"`
	Log         logger.LogConfig
	Addr        string `env:"ADDR"`
	Mode        string `env:"MODE"`
	APIPrefix   string `env:"API_PREFIX"`
	MetricsPath string `env:"METRICS_PATH"`

	SupabaseURL        string        `env:"SUPABASE_URL"`
	SupabaseAnonKey    string        `env:"SUPABASE_ANON_KEY"`
	SupabaseServiceKey string        `env:"SUPABASE_SERVICE_ROLE_KEY"`
	SupabaseTimeout    time.Duration `env:"SUPABASE_TIMEOUT"`

	GraphHopperURL     string        `env:"GRAPHHOPPER_URL"`
	GraphHopperTimeout time.Duration `env:"GRAPHHOPPER_TIMEOUT"`
	MaxRouteDistanceKm float64       `env:"MAX_ROUTE_DISTANCE_KM"`
	WalkingThresholdKm float64       `env:"WALKING_THRESHOLD_KM"`

	SOSTTLMinutes    int64  `env:"SOS_TTL_MINUTES"`
	SOSSweepSchedule string `env:"SOS_SWEEP_SCHEDULE"`

	Cache        cache.Config
	AuthCacheTTL time.Duration `env:"AUTH_CACHE_TTL"`

	ClusterCacheTTL        time.Duration `env:"CLUSTER_CACHE_TTL"`
	ClusterCacheSize       int           `env:"CLUSTER_CACHE_SIZE"`
	// ClusterMinPoints forces a reload while the index holds fewer points.
	ClusterMinPoints       int           `env:"CLUSTER_MIN_POINTS"`
	ClusterRefreshSchedule string        `env:"CLUSTER_REFRESH_SCHEDULE"`

	// RateLimit uses the ulule formatted rate, e.g. "100-M".
	RateLimit           string `env:"RATE_LIMIT"`
	RateLimitIdentifier string `env:"RATE_LIMIT_IDENTIFIER"`
	// RouteRateLimit is the separate budget of route searches.
	RouteRateLimit string `env:"ROUTE_RATE_LIMIT"`

	CORSOrigins     []string      `env:"CORS_ORIGINS"`
	SSEPingInterval time.Duration `env:"SSE_PING_INTERVAL"`
}

var GlobalConfig *Config

// SOSTTL is the share lifetime, never below one minute.
func (c *Config) SOSTTL() time.Duration {
	m := c.SOSTTLMinutes
	if m < 1 {
		m = 1
	}
	return time.Duration(m) * time.Minute
}

func Load() error {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	if err := util.LoadEnv(env); err != nil {
		log.Printf("Failed to load .env file: %v", err)
	}
	GlobalConfig = FromEnv()
	return nil
}

// FromEnv builds a Config from the current process environment.
func FromEnv() *Config {
	return &Config{
		DBDriver:    util.GetEnvOr("DB_DRIVER", "sqlite"),
		DSN:         util.GetEnvOr("DSN", "file:megabrain.db"),
		Addr:        util.GetEnvOr("ADDR", ":8080"),
		Mode:        util.GetEnvOr("MODE", "debug"),
		APIPrefix:   util.GetEnvOr("API_PREFIX", "/api"),
		MetricsPath: util.GetEnvOr("METRICS_PATH", "/metrics"),
		Log: logger.LogConfig{
			Level:      util.GetEnvOr("LOG_LEVEL", "info"),
			Filename:   util.GetEnv("LOG_FILENAME"),
			MaxSize:    int(util.GetIntEnv("LOG_MAX_SIZE")),
			MaxAge:     int(util.GetIntEnv("LOG_MAX_AGE")),
			MaxBackups: int(util.GetIntEnv("LOG_MAX_BACKUPS")),
		},

		SupabaseURL:        util.GetEnv("SUPABASE_URL"),
		SupabaseAnonKey:    util.GetEnv("SUPABASE_ANON_KEY"),
		SupabaseServiceKey: util.GetEnv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseTimeout:    util.GetDurationEnvOr("SUPABASE_TIMEOUT", 10*time.Second),

		GraphHopperURL:     util.GetEnvOr("GRAPHHOPPER_URL", "http://127.0.0.1:8989/route"),
		GraphHopperTimeout: util.GetDurationEnvOr("GRAPHHOPPER_TIMEOUT", 15*time.Second),
		MaxRouteDistanceKm: util.GetFloatEnvOr("MAX_ROUTE_DISTANCE_KM", 100),
		WalkingThresholdKm: util.GetFloatEnvOr("WALKING_THRESHOLD_KM", 50),

		SOSTTLMinutes:    util.GetIntEnvOr("SOS_TTL_MINUTES", 15),
		SOSSweepSchedule: util.GetEnv("SOS_SWEEP_SCHEDULE"),

		Cache: cache.Config{
			Type: util.GetEnvOr("CACHE_TYPE", "local"),
			Redis: cache.RedisConfig{
				Addr:         util.GetEnvOr("REDIS_ADDR", "localhost:6379"),
				Password:     util.GetEnv("REDIS_PASSWORD"),
				DB:           int(util.GetIntEnv("REDIS_DB")),
				PoolSize:     int(util.GetIntEnvOr("REDIS_POOL_SIZE", 10)),
				MinIdleConns: int(util.GetIntEnvOr("REDIS_MIN_IDLE_CONNS", 2)),
				DialTimeout:  util.GetDurationEnvOr("REDIS_DIAL_TIMEOUT", 5*time.Second),
				ReadTimeout:  util.GetDurationEnvOr("REDIS_READ_TIMEOUT", 3*time.Second),
				WriteTimeout: util.GetDurationEnvOr("REDIS_WRITE_TIMEOUT", 3*time.Second),
				KeyPrefix:    util.GetEnvOr("REDIS_KEY_PREFIX", "megabrain:"),
			},
			Local: cache.LocalConfig{
				MaxSize:           int(util.GetIntEnvOr("LOCAL_CACHE_MAX_SIZE", 10000)),
				DefaultExpiration: util.GetDurationEnvOr("LOCAL_CACHE_DEFAULT_EXPIRATION", 5*time.Minute),
				CleanupInterval:   util.GetDurationEnvOr("LOCAL_CACHE_CLEANUP_INTERVAL", 10*time.Minute),
			},
		},
		AuthCacheTTL: util.GetDurationEnvOr("AUTH_CACHE_TTL", time.Minute),

		ClusterCacheTTL:        util.GetDurationEnvOr("CLUSTER_CACHE_TTL", time.Hour),
		ClusterCacheSize:       int(util.GetIntEnvOr("CLUSTER_CACHE_SIZE", 8)),
		ClusterMinPoints:       int(util.GetIntEnvOr("CLUSTER_MIN_POINTS", 5000)),
		ClusterRefreshSchedule: util.GetEnv("CLUSTER_REFRESH_SCHEDULE"),

		RateLimit:           util.GetEnvOr("RATE_LIMIT", "300-M"),
		RateLimitIdentifier: util.GetEnvOr("RATE_LIMIT_IDENTIFIER", "user"),
		RouteRateLimit:      util.GetEnvOr("ROUTE_RATE_LIMIT", "30-M"),

		CORSOrigins:     util.GetListEnv("CORS_ORIGINS"),
		SSEPingInterval: util.GetDurationEnvOr("SSE_PING_INTERVAL", 25*time.Second),
	}
}
