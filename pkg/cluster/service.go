package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"MegaBrain/pkg/logger"
	"MegaBrain/pkg/metrics"
)

// TypeAll selects every point regardless of its type.
const TypeAll = "all"

// Loader fetches the full point set.
type Loader func(ctx context.Context) ([]Point, error)

type ServiceOptions struct {
	Index Options
	// TTL is how long a loaded point set is trusted.
	TTL time.Duration
	// CacheSize bounds how many per-type indexes are kept.
	CacheSize int
	// ReloadBelow forces a reload while fewer points than this are loaded,
	// which catches partial imports.
	ReloadBelow int
}

func DefaultServiceOptions() ServiceOptions {
	return ServiceOptions{Index: DefaultOptions(), TTL: time.Hour, CacheSize: 8, ReloadBelow: 5000}
}

// Service owns the loaded point set and the indexes built from it.
type Service struct {
	load    Loader
	opts    ServiceOptions
	metrics *metrics.Metrics
	now     func() time.Time

	group   singleflight.Group
	indexes *expirable.LRU[string, *Index]

	mu       sync.RWMutex
	points   []Point
	loaded   bool
	loadedAt time.Time
}

func NewService(load Loader, opts ServiceOptions, m *metrics.Metrics) *Service {
	d := DefaultServiceOptions()
	if opts.TTL <= 0 {
		opts.TTL = d.TTL
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = d.CacheSize
	}
	if opts.ReloadBelow < 0 {
		opts.ReloadBelow = 0
	}
	return &Service{
		load:    load,
		opts:    opts,
		metrics: m,
		now:     time.Now,
		indexes: expirable.NewLRU[string, *Index](opts.CacheSize, nil, opts.TTL),
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) stale(force bool) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case force, !s.loaded:
		return true
	case s.now().Sub(s.loadedAt) > s.opts.TTL:
		return true
	default:
		return len(s.points) < s.opts.ReloadBelow
	}
}

// Reload fetches the point set again and drops every built index.
func (s *Service) Reload(ctx context.Context) error {
	_, err, _ := s.group.Do("load", func() (any, error) {
		points, err := s.load(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.points = points
		s.loaded = true
		s.loadedAt = s.now()
		s.mu.Unlock()
		s.indexes.Purge()

		counts := make(map[string]int)
		for _, p := range points {
			counts[p.Type]++
		}
		for kind, n := range counts {
			s.metrics.SetClusterPoints(kind, n)
		}
		logger.Info("cluster points loaded", zap.Int("points", len(points)), zap.Any("byType", counts))
		return nil, nil
	})
	return err
}

// Index returns the index for kind, reloading the point set first when it
// is missing, expired, suspiciously small or force is set. The result is
// nil when there is nothing to cluster.
func (s *Service) Index(ctx context.Context, kind string, force bool) (*Index, error) {
	if kind == "" {
		kind = TypeAll
	}
	if s.stale(force) {
		if err := s.Reload(ctx); err != nil {
			return nil, err
		}
	}
	if idx, ok := s.indexes.Get(kind); ok {
		s.metrics.RecordCacheHit("cluster")
		return idx, nil
	}
	s.metrics.RecordCacheMiss("cluster")

	v, _, _ := s.group.Do("index:"+kind, func() (any, error) {
		s.mu.RLock()
		points := s.points
		s.mu.RUnlock()

		selected := points
		if kind != TypeAll {
			selected = make([]Point, 0, len(points))
			for _, p := range points {
				if p.Type == kind {
					selected = append(selected, p)
				}
			}
		}
		if len(selected) == 0 {
			return (*Index)(nil), nil
		}
		idx := NewIndex(selected, s.opts.Index)
		s.indexes.Add(kind, idx)
		return idx, nil
	})
	return v.(*Index), nil
}

// Clusters is Index followed by a bbox query. An empty point set yields an
// empty slice.
func (s *Service) Clusters(ctx context.Context, bbox [4]float64, zoom int, kind string, force bool) ([]Feature, error) {
	idx, err := s.Index(ctx, kind, force)
	if err != nil {
		return nil, err
	}
	if idx == nil {
		return []Feature{}, nil
	}
	return idx.Clusters(bbox, zoom), nil
}
