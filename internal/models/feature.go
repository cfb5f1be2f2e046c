package models

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"MegaBrain/pkg/geo"
)

// FeatureKind names one kind of safety infrastructure. The values double as
// the cluster "type" property.
type FeatureKind string

const (
	KindSecurityLight FeatureKind = "security_lights"
	KindCCTV          FeatureKind = "cctv"
	KindEmergencyBell FeatureKind = "bells"
	KindSafePath      FeatureKind = "safe_paths"
)

var FeatureKinds = []FeatureKind{KindSecurityLight, KindCCTV, KindEmergencyBell, KindSafePath}

func ParseFeatureKind(s string) (FeatureKind, bool) {
	for _, k := range FeatureKinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

type SecurityLight struct {
	ID        int64    `json:"id" gorm:"primaryKey"`
	Latitude  *float64 `json:"latitude" gorm:"index:idx_light_lat_lng,priority:1"`
	Longitude *float64 `json:"longitude" gorm:"index:idx_light_lat_lng,priority:2"`
	SiDo      string   `json:"si_do" gorm:"size:32"`
	SiGunGu   string   `json:"si_gun_gu" gorm:"size:32"`
	Address   string   `json:"address" gorm:"size:255"`
}

func (SecurityLight) TableName() string { return "security_lights" }

type CCTVInstallation struct {
	ID          int64    `json:"id" gorm:"primaryKey"`
	Latitude    *float64 `json:"latitude" gorm:"index:idx_cctv_lat_lng,priority:1"`
	Longitude   *float64 `json:"longitude" gorm:"index:idx_cctv_lat_lng,priority:2"`
	Address     string   `json:"address" gorm:"size:255"`
	Purpose     string   `json:"purpose" gorm:"size:64"`
	CameraCount int      `json:"camera_count"`
}

func (CCTVInstallation) TableName() string { return "cctv_installations" }

// EmergencyBell lives in safe_return_paths upstream; the table name is kept
// so the data imports unchanged.
type EmergencyBell struct {
	ID        int64    `json:"id" gorm:"primaryKey"`
	Latitude  *float64 `json:"latitude" gorm:"index:idx_bell_lat_lng,priority:1"`
	Longitude *float64 `json:"longitude" gorm:"index:idx_bell_lat_lng,priority:2"`
	Address   string   `json:"address" gorm:"size:255"`
	Location  string   `json:"location" gorm:"size:255"`
}

func (EmergencyBell) TableName() string { return "safe_return_paths" }

type SafeReturnPath struct {
	ID             int64    `json:"id" gorm:"primaryKey"`
	Name           string   `json:"name" gorm:"size:255"`
	StartLatitude  *float64 `json:"start_latitude" gorm:"index:idx_path_start,priority:1"`
	StartLongitude *float64 `json:"start_longitude" gorm:"index:idx_path_start,priority:2"`
	EndLatitude    *float64 `json:"end_latitude" gorm:"index:idx_path_end,priority:1"`
	EndLongitude   *float64 `json:"end_longitude" gorm:"index:idx_path_end,priority:2"`
}

func (SafeReturnPath) TableName() string { return "women_safe_return_paths" }

type featureTable struct {
	table  string
	latCol string
	lngCol string
}

// safe paths are placed at their start point; route scoring uses both ends
// through SafePathEndpointsInBounds
var featureTables = map[FeatureKind]featureTable{
	KindSecurityLight: {"security_lights", "latitude", "longitude"},
	KindCCTV:          {"cctv_installations", "latitude", "longitude"},
	KindEmergencyBell: {"safe_return_paths", "latitude", "longitude"},
	KindSafePath:      {"women_safe_return_paths", "start_latitude", "start_longitude"},
}

// FeaturePoint is one feature reduced to its location.
type FeaturePoint struct {
	ID    int64
	Kind  FeatureKind
	Point geo.Point
}

type pointRow struct {
	ID        int64
	Latitude  float64
	Longitude float64
}

func (t featureTable) pointQuery(db *gorm.DB) *gorm.DB {
	return db.Table(t.table).
		Select(fmt.Sprintf("id, %s AS latitude, %s AS longitude", t.latCol, t.lngCol)).
		Where(fmt.Sprintf("%s IS NOT NULL AND %s IS NOT NULL", t.latCol, t.lngCol))
}

func (t featureTable) inBounds(db *gorm.DB, b geo.BBox) *gorm.DB {
	return db.Where(fmt.Sprintf("%s BETWEEN ? AND ? AND %s BETWEEN ? AND ?", t.latCol, t.lngCol),
		b.MinLat, b.MaxLat, b.MinLng, b.MaxLng)
}

func toPoints(kind FeatureKind, rows []pointRow) []FeaturePoint {
	out := make([]FeaturePoint, 0, len(rows))
	for _, r := range rows {
		out = append(out, FeaturePoint{ID: r.ID, Kind: kind, Point: geo.Point{Latitude: r.Latitude, Longitude: r.Longitude}})
	}
	return out
}

// FeaturePointsInBounds returns the locations of one kind inside b.
func FeaturePointsInBounds(db *gorm.DB, kind FeatureKind, b geo.BBox) ([]FeaturePoint, error) {
	t, ok := featureTables[kind]
	if !ok {
		return nil, fmt.Errorf("unknown feature kind %q", kind)
	}
	var rows []pointRow
	if err := t.inBounds(t.pointQuery(db), b).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return toPoints(kind, rows), nil
}

// EachFeaturePoint streams every located feature of kind in id ordered
// batches.
func EachFeaturePoint(db *gorm.DB, kind FeatureKind, batchSize int, fn func([]FeaturePoint) error) error {
	t, ok := featureTables[kind]
	if !ok {
		return fmt.Errorf("unknown feature kind %q", kind)
	}
	if batchSize <= 0 {
		batchSize = 10000
	}
	var lastID int64
	for {
		var rows []pointRow
		err := t.pointQuery(db).Where("id > ?", lastID).Order("id").Limit(batchSize).Scan(&rows).Error
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		if err := fn(toPoints(kind, rows)); err != nil {
			return err
		}
		if len(rows) < batchSize {
			return nil
		}
		lastID = rows[len(rows)-1].ID
	}
}

// FeatureStore reads safety features for route scoring.
type FeatureStore struct {
	db *gorm.DB
}

func NewFeatureStore(db *gorm.DB) *FeatureStore {
	return &FeatureStore{db: db}
}

// PointsInBounds fetches every kind inside b concurrently.
func (s *FeatureStore) PointsInBounds(ctx context.Context, b geo.BBox) (map[FeatureKind][]FeaturePoint, error) {
	var (
		mu  sync.Mutex
		out = make(map[FeatureKind][]FeaturePoint, len(FeatureKinds))
	)
	g, ctx := errgroup.WithContext(ctx)
	for _, kind := range FeatureKinds {
		g.Go(func() error {
			var (
				pts []FeaturePoint
				err error
			)
			if kind == KindSafePath {
				pts, err = SafePathEndpointsInBounds(s.db.WithContext(ctx), b)
			} else {
				pts, err = FeaturePointsInBounds(s.db.WithContext(ctx), kind, b)
			}
			if err != nil {
				return fmt.Errorf("%s: %w", kind, err)
			}
			mu.Lock()
			out[kind] = pts
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func SecurityLightsInBounds(db *gorm.DB, b geo.BBox) ([]SecurityLight, error) {
	var out []SecurityLight
	t := featureTables[KindSecurityLight]
	err := t.inBounds(db.Model(&SecurityLight{}), b).Find(&out).Error
	return out, err
}

func CCTVInBounds(db *gorm.DB, b geo.BBox) ([]CCTVInstallation, error) {
	var out []CCTVInstallation
	t := featureTables[KindCCTV]
	err := t.inBounds(db.Model(&CCTVInstallation{}), b).Find(&out).Error
	return out, err
}

func EmergencyBellsInBounds(db *gorm.DB, b geo.BBox) ([]EmergencyBell, error) {
	var out []EmergencyBell
	t := featureTables[KindEmergencyBell]
	err := t.inBounds(db.Model(&EmergencyBell{}), b).Find(&out).Error
	return out, err
}

// SafeReturnPathsInBounds matches paths whose start or end lies inside b.
func SafeReturnPathsInBounds(db *gorm.DB, b geo.BBox) ([]SafeReturnPath, error) {
	var out []SafeReturnPath
	err := db.Where(
		"(start_latitude BETWEEN ? AND ? AND start_longitude BETWEEN ? AND ?) OR (end_latitude BETWEEN ? AND ? AND end_longitude BETWEEN ? AND ?)",
		b.MinLat, b.MaxLat, b.MinLng, b.MaxLng,
		b.MinLat, b.MaxLat, b.MinLng, b.MaxLng,
	).Find(&out).Error
	return out, err
}

// SafePathEndpointsInBounds returns both ends of every safe path with either
// end inside b. The two points share the path id, so a route passing both
// still counts the path once.
func SafePathEndpointsInBounds(db *gorm.DB, b geo.BBox) ([]FeaturePoint, error) {
	paths, err := SafeReturnPathsInBounds(db, b)
	if err != nil {
		return nil, err
	}
	out := make([]FeaturePoint, 0, 2*len(paths))
	add := func(id int64, lat, lng *float64) {
		if lat != nil && lng != nil {
			out = append(out, FeaturePoint{ID: id, Kind: KindSafePath, Point: geo.Point{Latitude: *lat, Longitude: *lng}})
		}
	}
	for _, p := range paths {
		add(p.ID, p.StartLatitude, p.StartLongitude)
		add(p.ID, p.EndLatitude, p.EndLongitude)
	}
	return out, nil
}

// FirstFeatures returns up to limit rows of the model's table.
func FirstFeatures[T any](db *gorm.DB, limit int) ([]T, error) {
	var out []T
	err := db.Limit(limit).Find(&out).Error
	return out, err
}

func CountFeatures[T any](db *gorm.DB) (int64, error) {
	var n int64
	err := db.Model(new(T)).Count(&n).Error
	return n, err
}
