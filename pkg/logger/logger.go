package logger

import (
	"os"
	"strings"
	"sync"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig is filled from the LOG_* environment variables.
type LogConfig struct {
	Level      string `env:"LOG_LEVEL"`
	Filename   string `env:"LOG_FILENAME"`
	MaxSize    int    `env:"LOG_MAX_SIZE"`
	MaxAge     int    `env:"LOG_MAX_AGE"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS"`
}

var (
	mu sync.RWMutex
	lg = zap.NewNop()
)

// Init builds the process logger. Without a Filename logs go to stdout; in
// debug mode file output is teed to stdout as well.
func Init(cfg *LogConfig, mode string) error {
	level := new(zapcore.Level)
	if err := level.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil || cfg.Level == "" {
		*level = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "time"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeDuration = zapcore.StringDurationEncoder

	var cores []zapcore.Core
	if cfg.Filename != "" {
		writer := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    orDefault(cfg.MaxSize, 100),
			MaxAge:     orDefault(cfg.MaxAge, 30),
			MaxBackups: orDefault(cfg.MaxBackups, 5),
			LocalTime:  true,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), writer, level))
	}
	if cfg.Filename == "" || mode == "debug" {
		consoleCfg := encCfg
		consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stdout), level))
	}

	l := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
	mu.Lock()
	lg = l
	mu.Unlock()
	return nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// Lg returns the underlying zap logger, without the helper caller skip.
func Lg() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return lg.WithOptions(zap.AddCallerSkip(-1))
}

// SetLogger replaces the process logger. Tests use it with zaptest or
// observer loggers.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	lg = l.WithOptions(zap.AddCallerSkip(1))
}

func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return lg
}

func Debug(msg string, fields ...zap.Field) { current().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { current().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { current().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { current().Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { current().Fatal(msg, fields...) }

func Sync() error { return current().Sync() }
