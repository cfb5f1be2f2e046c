package metrics

import (
	"time"

	"gorm.io/gorm"
)

const startKey = "metrics:start"

// GormPlugin times every statement into db_query_duration_seconds.
type GormPlugin struct {
	m *Metrics
}

func NewGormPlugin(m *Metrics) *GormPlugin {
	return &GormPlugin{m: m}
}

func (p *GormPlugin) Name() string { return "megabrain:metrics" }

func (p *GormPlugin) Initialize(db *gorm.DB) error {
	before := func(tx *gorm.DB) { tx.InstanceSet(startKey, time.Now()) }
	after := func(operation string) func(*gorm.DB) {
		return func(tx *gorm.DB) {
			v, ok := tx.InstanceGet(startKey)
			if !ok {
				return
			}
			start, ok := v.(time.Time)
			if !ok {
				return
			}
			table := "unknown"
			if tx.Statement != nil && tx.Statement.Table != "" {
				table = tx.Statement.Table
			}
			p.m.RecordDBQuery(operation, table, time.Since(start))
		}
	}

	cb := db.Callback()
	hooks := []struct {
		op     string
		before func(string, func(*gorm.DB)) error
		after  func(string, func(*gorm.DB)) error
	}{
		{"create", cb.Create().Before("gorm:create").Register, cb.Create().After("gorm:create").Register},
		{"query", cb.Query().Before("gorm:query").Register, cb.Query().After("gorm:query").Register},
		{"update", cb.Update().Before("gorm:update").Register, cb.Update().After("gorm:update").Register},
		{"delete", cb.Delete().Before("gorm:delete").Register, cb.Delete().After("gorm:delete").Register},
		{"row", cb.Row().Before("gorm:row").Register, cb.Row().After("gorm:row").Register},
		{"raw", cb.Raw().Before("gorm:raw").Register, cb.Raw().After("gorm:raw").Register},
	}
	for _, h := range hooks {
		if err := h.before("metrics:before_"+h.op, before); err != nil {
			return err
		}
		if err := h.after("metrics:after_"+h.op, after(h.op)); err != nil {
			return err
		}
	}
	return nil
}
