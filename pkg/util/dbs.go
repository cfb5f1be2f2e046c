package util

import (
	"io"
	"log"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDatabase opens the database selected by driver. Empty driver falls back
// to sqlite, which is what the tests and local runs use.
func InitDatabase(logWriter io.Writer, driver, dsn string) (*gorm.DB, error) {
	cfg := &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	}
	if logWriter != nil {
		cfg.Logger = logger.New(
			log.New(logWriter, "\r\n", log.LstdFlags),
			logger.Config{
				SlowThreshold:             200 * time.Millisecond,
				LogLevel:                  logger.Warn,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		)
	} else {
		cfg.Logger = logger.Default.LogMode(logger.Silent)
	}
	return createDatabaseInstance(cfg, driver, dsn)
}
