package safety

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"MegaBrain/internal/models"
	"MegaBrain/pkg/errors"
	"MegaBrain/pkg/geo"
	"MegaBrain/pkg/graphhopper"
	"MegaBrain/pkg/logger"
	"MegaBrain/pkg/metrics"
)

const (
	ProfileFoot = "foot"
	ProfileCar  = "car"

	DefaultMaxDistanceKm      = 100.0
	DefaultWalkingThresholdKm = 50.0

	// past this share of the limit a missing route is blamed on distance
	farShare = 0.8

	engineErrorMessage = "GraphHopper API 오류"
)

var (
	ErrInvalidPoints   = errors.WithCode(http.StatusBadRequest, "출발지와 도착지 좌표가 필요합니다.")
	ErrDistanceLimit   = errors.WithCode(http.StatusBadRequest, "거리 제한 초과")
	ErrNoRoute         = errors.WithCode(http.StatusNotFound, "경로를 찾을 수 없습니다")
	ErrEngineSemantics = errors.WithCode(http.StatusBadRequest, "GraphHopper 오류")
)

// Engine computes candidate routes.
type Engine interface {
	Route(ctx context.Context, req *graphhopper.Request) (*graphhopper.Response, error)
}

// FeatureSource returns the safety features inside a box, grouped by kind.
type FeatureSource interface {
	PointsInBounds(ctx context.Context, b geo.BBox) (map[models.FeatureKind][]models.FeaturePoint, error)
}

// Weights tune the custom model. Light and CCTV are accepted but have no
// matching road attribute yet.
type Weights struct {
	CCTV       *float64 `json:"cctv"`
	Crime      *float64 `json:"crime"`
	Light      *float64 `json:"light"`
	RoadSafety *float64 `json:"roadSafety"`
}

type RouteRequest struct {
	Start   *geo.Point `json:"start"`
	End     *geo.Point `json:"end"`
	Weights *Weights   `json:"weights"`
}

type Options struct {
	MaxDistanceKm      float64
	WalkingThresholdKm float64
}

// Planner asks the engine for alternatives and ranks them by nearby safety
// infrastructure.
type Planner struct {
	engine   Engine
	features FeatureSource
	opts     Options
	metrics  *metrics.Metrics
}

func NewPlanner(engine Engine, features FeatureSource, opts Options, m *metrics.Metrics) *Planner {
	if opts.MaxDistanceKm <= 0 {
		opts.MaxDistanceKm = DefaultMaxDistanceKm
	}
	if opts.WalkingThresholdKm <= 0 {
		opts.WalkingThresholdKm = DefaultWalkingThresholdKm
	}
	return &Planner{engine: engine, features: features, opts: opts, metrics: m}
}

// ChooseProfile walks short trips and drives the rest.
func (p *Planner) ChooseProfile(distanceKm float64) string {
	if distanceKm > p.opts.WalkingThresholdKm {
		return ProfileCar
	}
	return ProfileFoot
}

// BuildRequest is the engine request for one profile.
func BuildRequest(start, end geo.Point, profile string, w *Weights) *graphhopper.Request {
	primary, service := "0.7", "1.5"
	if w != nil && w.RoadSafety != nil && *w.RoadSafety != 0 {
		primary = strconv.FormatFloat(1 / *w.RoadSafety, 'f', -1, 64)
	}
	if w != nil && w.Crime != nil && *w.Crime != 0 {
		service = strconv.FormatFloat(*w.Crime, 'f', -1, 64)
	}
	influence := 100.0
	return &graphhopper.Request{
		Points:        [][2]float64{{start.Longitude, start.Latitude}, {end.Longitude, end.Latitude}},
		Profile:       profile,
		Locale:        "ko",
		CalcPoints:    true,
		PointsEncoded: false,
		CHDisable:     true,
		CustomModel: &graphhopper.CustomModel{
			Priority: []graphhopper.Statement{
				{If: "road_class == PRIMARY", MultiplyBy: primary},
				{If: "road_class == SERVICE", MultiplyBy: service},
			},
			DistanceInfluence: &influence,
		},
		Algorithm:                  graphhopper.AlgorithmAlternativeRoute,
		AlternativeMaxPaths:        3,
		AlternativeMaxWeightFactor: 1.4,
		AlternativeMaxShareFactor:  0.6,
	}
}

func formatKm(d float64) string {
	return fmt.Sprintf("%.2fkm", d)
}

// Plan returns the engine response with every path scored and sorted.
// Errors are coded and render as the client envelope; anything uncoded is
// an unexpected failure.
func (p *Planner) Plan(ctx context.Context, req RouteRequest) (*graphhopper.Response, error) {
	if req.Start == nil || req.End == nil || !req.Start.Valid() || !req.End.Valid() {
		return nil, ErrInvalidPoints
	}
	start, end := *req.Start, *req.End

	distance := geo.DistanceKm(start, end)
	if distance > p.opts.MaxDistanceKm {
		return nil, ErrDistanceLimit.
			WithDetail(fmt.Sprintf("최대 %.0fkm까지 경로를 검색할 수 있습니다. (현재 %s)", p.opts.MaxDistanceKm, formatKm(distance))).
			WithField("distance", roundKm(distance)).
			WithField("limit", p.opts.MaxDistanceKm)
	}

	profile := p.ChooseProfile(distance)
	resp, profile, err := p.route(ctx, start, end, profile, req.Weights)
	if err != nil {
		return nil, err
	}

	details := map[string]any{
		"start":    start,
		"end":      end,
		"distance": formatKm(distance),
		"profile":  profile,
	}
	if len(resp.Paths) == 0 || resp.Paths[0] == nil {
		msg := "GraphHopper가 해당 좌표 간 경로를 찾을 수 없습니다. 지하철역의 경우 지상 출입구 좌표를 사용해주세요."
		if distance > p.opts.MaxDistanceKm*farShare {
			msg = "거리가 너무 멀어 경로를 찾을 수 없습니다. 더 가까운 목적지를 선택해주세요."
		}
		logger.Warn("routing engine returned no path",
			zap.String("distance", formatKm(distance)), zap.String("profile", profile))
		return nil, ErrNoRoute.WithDetail(msg).WithField("details", details)
	}
	if resp.Message != "" {
		logger.Warn("routing engine message", zap.String("message", resp.Message))
		return nil, ErrEngineSemantics.WithDetail(resp.Message).WithField("details", resp)
	}

	p.score(ctx, resp.Paths)
	return resp, nil
}

func roundKm(d float64) float64 {
	v, _ := strconv.ParseFloat(strconv.FormatFloat(d, 'f', 2, 64), 64)
	return v
}

// route calls the engine, retrying once by car when the walking profile is
// not configured on the server.
func (p *Planner) route(ctx context.Context, start, end geo.Point, profile string, w *Weights) (*graphhopper.Response, string, error) {
	began := time.Now()
	resp, err := p.engine.Route(ctx, BuildRequest(start, end, profile, w))

	var apiErr *graphhopper.APIError
	if err != nil && profile == ProfileFoot && errors.As(err, &apiErr) && apiErr.ProfileMissing(ProfileFoot) {
		p.metrics.RecordRouting(profile, "fallback", time.Since(began))
		logger.Info("foot profile missing, falling back to car")
		profile = ProfileCar
		began = time.Now()
		resp, err = p.engine.Route(ctx, BuildRequest(start, end, profile, w))
	}
	if err != nil {
		if errors.As(err, &apiErr) {
			p.metrics.RecordRouting(profile, "engine_error", time.Since(began))
			logger.Error("routing engine http error", zap.Int("status", apiErr.StatusCode), zap.String("body", apiErr.Body))
			return nil, profile, errors.WithCode(apiErr.StatusCode, engineErrorMessage).
				WithDetail(apiErr.Body).
				WithField("status", apiErr.StatusCode).
				WithContext("profile", profile).
				WithCause(err)
		}
		p.metrics.RecordRouting(profile, "failure", time.Since(began))
		return nil, profile, fmt.Errorf("route request: %w", err)
	}
	p.metrics.RecordRouting(profile, "ok", time.Since(began))
	return resp, profile, nil
}

// score ranks the paths. A feature lookup failure leaves them unscored, the
// route itself is still useful.
func (p *Planner) score(ctx context.Context, paths []*graphhopper.Path) {
	features := map[models.FeatureKind][]models.FeaturePoint{}
	if bounds, ok := searchBounds(paths); ok && p.features != nil {
		found, err := p.features.PointsInBounds(ctx, bounds)
		if err != nil {
			logger.Warn("safety feature lookup failed, paths left unscored", zap.Error(err))
		} else {
			features = found
		}
	}
	rank(paths, features)
	for _, path := range paths {
		if v, ok := path.Annotation("securityScore"); ok {
			p.metrics.ObserveSecurityScore(v.(int))
		}
	}
}
