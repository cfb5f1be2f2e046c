package util

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

// LoadEnv loads .env.<env> first and then .env. Variables already set in the
// process environment are never overridden.
func LoadEnv(env string) error {
	var files []string
	if env != "" {
		if _, err := os.Stat(".env." + env); err == nil {
			files = append(files, ".env."+env)
		}
	}
	if _, err := os.Stat(".env"); err == nil {
		files = append(files, ".env")
	}
	if len(files) == 0 {
		return nil
	}
	return godotenv.Load(files...)
}

func GetEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func GetEnvOr(key, def string) string {
	if v := GetEnv(key); v != "" {
		return v
	}
	return def
}

func GetIntEnv(key string) int64 {
	return cast.ToInt64(GetEnv(key))
}

func GetIntEnvOr(key string, def int64) int64 {
	v := GetEnv(key)
	if v == "" {
		return def
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		return def
	}
	return n
}

func GetFloatEnvOr(key string, def float64) float64 {
	v := GetEnv(key)
	if v == "" {
		return def
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return def
	}
	return f
}

func GetBoolEnv(key string) bool {
	return cast.ToBool(GetEnv(key))
}

// GetDurationEnvOr accepts Go duration strings ("90s", "1h") and bare
// integers, which are read as seconds.
func GetDurationEnvOr(key string, def time.Duration) time.Duration {
	v := GetEnv(key)
	if v == "" {
		return def
	}
	if n, err := cast.ToInt64E(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := cast.ToDurationE(v)
	if err != nil {
		return def
	}
	return d
}

// GetListEnv splits a comma separated value and drops empty items.
func GetListEnv(key string) []string {
	raw := GetEnv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
