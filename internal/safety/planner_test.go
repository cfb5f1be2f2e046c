package safety

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MegaBrain/internal/models"
	"MegaBrain/pkg/errors"
	"MegaBrain/pkg/geo"
	"MegaBrain/pkg/graphhopper"
	"MegaBrain/pkg/util"
)

type engineCall struct {
	Profile string `json:"profile"`
}

type fakeEngine struct {
	mu    sync.Mutex
	calls []engineCall
	srv   *httptest.Server
}

// newEngine serves reply for every call; reply receives the 0-based call index.
func newEngine(t *testing.T, reply func(i int, call engineCall) (int, string)) *fakeEngine {
	t.Helper()
	e := &fakeEngine{}
	e.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var call engineCall
		require.NoError(t, json.Unmarshal(body, &call))
		e.mu.Lock()
		i := len(e.calls)
		e.calls = append(e.calls, call)
		e.mu.Unlock()
		status, out := reply(i, call)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, out)
	}))
	t.Cleanup(e.srv.Close)
	return e
}

func (e *fakeEngine) client() *graphhopper.Client {
	return graphhopper.NewClient(e.srv.URL, time.Second)
}

func (e *fakeEngine) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

type fakeFeatures struct {
	points map[models.FeatureKind][]models.FeaturePoint
	err    error
	box    geo.BBox
}

func (f *fakeFeatures) PointsInBounds(_ context.Context, b geo.BBox) (map[models.FeatureKind][]models.FeaturePoint, error) {
	f.box = b
	return f.points, f.err
}

// line is an east-west path of n vertices at lat starting at lng 129.0.
func line(lat float64, n int) string {
	coords := make([]string, n)
	for i := range coords {
		coords[i] = fmt.Sprintf("[%.4f, %.4f]", 129.0+float64(i)*0.001, lat)
	}
	return fmt.Sprintf(`{"distance": 900, "time": 600000, "points": {"type": "LineString", "coordinates": [%s]}, "points_encoded": false}`,
		strings.Join(coords, ","))
}

func pathsBody(paths ...string) string {
	return fmt.Sprintf(`{"hints": {}, "info": {"took": 1}, "paths": [%s]}`, strings.Join(paths, ","))
}

var (
	busanStart = &geo.Point{Latitude: 35.10, Longitude: 129.00}
	busanEnd   = &geo.Point{Latitude: 35.11, Longitude: 129.01}
)

func decode(t *testing.T, resp *graphhopper.Response) map[string]any {
	t.Helper()
	out, err := json.Marshal(resp)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))
	return m
}

func TestPlanScoresZeroWithoutFeatures(t *testing.T) {
	engine := newEngine(t, func(int, engineCall) (int, string) {
		return http.StatusOK, pathsBody(line(35.10, 11), line(35.12, 11))
	})
	features := &fakeFeatures{}
	p := NewPlanner(engine.client(), features, Options{}, nil)

	resp, err := p.Plan(context.Background(), RouteRequest{Start: busanStart, End: busanEnd})
	require.NoError(t, err)
	require.Len(t, resp.Paths, 2)
	for _, path := range resp.Paths {
		score, ok := path.Annotation("securityScore")
		require.True(t, ok)
		assert.Equal(t, 0, score)
	}

	// the lookup box covers both paths plus the margin
	assert.Less(t, features.box.MinLat, 35.10)
	assert.Greater(t, features.box.MaxLat, 35.12)

	body := decode(t, resp)
	assert.Contains(t, body, "hints")
	path := body["paths"].([]any)[0].(map[string]any)
	assert.EqualValues(t, 0, path["securityScore"])
	assert.Equal(t, map[string]any{"cctv": 0.0, "safePath": 0.0, "bell": 0.0, "light": 0.0, "sampled": 3.0}, path["debugInfo"])
}

func TestPlanRanksPathNearCCTVFirst(t *testing.T) {
	engine := newEngine(t, func(int, engineCall) (int, string) {
		return http.StatusOK, pathsBody(line(35.10, 11), line(35.12, 11))
	})
	features := &fakeFeatures{points: map[models.FeatureKind][]models.FeaturePoint{
		models.KindCCTV: {{ID: 1, Kind: models.KindCCTV, Point: geo.Point{Latitude: 35.12, Longitude: 129.005}}},
	}}
	p := NewPlanner(engine.client(), features, Options{}, nil)

	resp, err := p.Plan(context.Background(), RouteRequest{Start: busanStart, End: busanEnd})
	require.NoError(t, err)
	require.Len(t, resp.Paths, 2)

	assert.InDelta(t, 35.12, resp.Paths[0].Geometry[0].Latitude, 1e-9)
	first, _ := resp.Paths[0].Annotation("securityScore")
	second, _ := resp.Paths[1].Annotation("securityScore")
	assert.Equal(t, 50, first)
	assert.Equal(t, 0, second)
}

func TestPlanCountsSafePathByEitherEnd(t *testing.T) {
	db, err := util.InitDatabase(nil, "sqlite", "file::memory:")
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))
	lat, lng := 35.10, 129.005
	farLat, farLng := 35.50, 129.50
	require.NoError(t, db.Create(&models.SafeReturnPath{
		Name:           "ends on the route",
		StartLatitude:  &farLat,
		StartLongitude: &farLng,
		EndLatitude:    &lat,
		EndLongitude:   &lng,
	}).Error)

	engine := newEngine(t, func(int, engineCall) (int, string) {
		return http.StatusOK, pathsBody(line(35.12, 11), line(35.10, 11))
	})
	p := NewPlanner(engine.client(), models.NewFeatureStore(db), Options{}, nil)

	resp, err := p.Plan(context.Background(), RouteRequest{Start: busanStart, End: busanEnd})
	require.NoError(t, err)
	require.Len(t, resp.Paths, 2)

	assert.InDelta(t, 35.10, resp.Paths[0].Geometry[0].Latitude, 1e-9)
	first, _ := resp.Paths[0].Annotation("securityScore")
	second, _ := resp.Paths[1].Annotation("securityScore")
	assert.Equal(t, 30, first)
	assert.Equal(t, 0, second)
}

func TestPlanRejectsLongTripWithoutEngineCall(t *testing.T) {
	engine := newEngine(t, func(int, engineCall) (int, string) {
		return http.StatusOK, pathsBody(line(35.10, 3))
	})
	p := NewPlanner(engine.client(), &fakeFeatures{}, Options{}, nil)

	far := &geo.Point{Latitude: 36.45, Longitude: 129.00}
	_, err := p.Plan(context.Background(), RouteRequest{Start: busanStart, End: far})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, errors.GetCode(err))
	assert.Equal(t, "거리 제한 초과", errors.GetMessage(err))

	var appErr *errors.Error
	require.True(t, errors.As(err, &appErr))
	body := appErr.Envelope()
	assert.EqualValues(t, 100, body["limit"])
	assert.InDelta(t, 150, body["distance"], 1)
	assert.Zero(t, engine.count())
}

func TestPlanFallsBackToCar(t *testing.T) {
	engine := newEngine(t, func(i int, call engineCall) (int, string) {
		if call.Profile == ProfileFoot {
			return http.StatusBadRequest, `{"message": "The requested profile 'foot' does not exist.\nAvailable profiles: [car]"}`
		}
		return http.StatusOK, pathsBody(line(35.10, 6))
	})
	p := NewPlanner(engine.client(), &fakeFeatures{}, Options{}, nil)

	resp, err := p.Plan(context.Background(), RouteRequest{Start: busanStart, End: busanEnd})
	require.NoError(t, err)
	assert.Len(t, resp.Paths, 1)
	require.Equal(t, 2, engine.count())
	assert.Equal(t, ProfileFoot, engine.calls[0].Profile)
	assert.Equal(t, ProfileCar, engine.calls[1].Profile)
}

func TestPlanForwardsEngineStatus(t *testing.T) {
	engine := newEngine(t, func(int, engineCall) (int, string) {
		return http.StatusServiceUnavailable, `{"message": "overloaded"}`
	})
	p := NewPlanner(engine.client(), &fakeFeatures{}, Options{}, nil)

	_, err := p.Plan(context.Background(), RouteRequest{Start: busanStart, End: busanEnd})
	var appErr *errors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, http.StatusServiceUnavailable, appErr.Code)
	body := appErr.Envelope()
	assert.Equal(t, "GraphHopper API 오류", body["error"])
	assert.Equal(t, http.StatusServiceUnavailable, body["status"])
	assert.Contains(t, body["message"], "overloaded")
	assert.Equal(t, 1, engine.count())
}

func TestPlanNoPath(t *testing.T) {
	engine := newEngine(t, func(int, engineCall) (int, string) {
		return http.StatusOK, `{"paths": []}`
	})
	p := NewPlanner(engine.client(), &fakeFeatures{}, Options{}, nil)

	_, err := p.Plan(context.Background(), RouteRequest{Start: busanStart, End: busanEnd})
	var appErr *errors.Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, http.StatusNotFound, appErr.Code)
	assert.Contains(t, appErr.Detail, "지상 출입구")
	details := appErr.Envelope()["details"].(map[string]any)
	assert.Equal(t, ProfileFoot, details["profile"])
	assert.Equal(t, "1.44km", details["distance"])

	// near the limit the message blames the distance
	far := &geo.Point{Latitude: 35.90, Longitude: 129.00}
	_, err = p.Plan(context.Background(), RouteRequest{Start: busanStart, End: far})
	require.True(t, errors.As(err, &appErr))
	assert.Contains(t, appErr.Detail, "거리가 너무 멀어")
	assert.Equal(t, ProfileCar, appErr.Envelope()["details"].(map[string]any)["profile"])
}

func TestPlanEngineMessage(t *testing.T) {
	engine := newEngine(t, func(int, engineCall) (int, string) {
		return http.StatusOK, `{"message": "Point 0 is out of bounds", "paths": [` + line(35.10, 2) + `]}`
	})
	p := NewPlanner(engine.client(), &fakeFeatures{}, Options{}, nil)

	_, err := p.Plan(context.Background(), RouteRequest{Start: busanStart, End: busanEnd})
	assert.Equal(t, http.StatusBadRequest, errors.GetCode(err))
	assert.Equal(t, "GraphHopper 오류", errors.GetMessage(err))
}

func TestPlanKeepsPathsWhenFeaturesFail(t *testing.T) {
	engine := newEngine(t, func(int, engineCall) (int, string) {
		return http.StatusOK, pathsBody(line(35.10, 6))
	})
	p := NewPlanner(engine.client(), &fakeFeatures{err: fmt.Errorf("db down")}, Options{}, nil)

	resp, err := p.Plan(context.Background(), RouteRequest{Start: busanStart, End: busanEnd})
	require.NoError(t, err)
	score, _ := resp.Paths[0].Annotation("securityScore")
	assert.Equal(t, 0, score)
}

func TestPlanInvalidPoints(t *testing.T) {
	p := NewPlanner(nil, nil, Options{}, nil)
	_, err := p.Plan(context.Background(), RouteRequest{Start: busanStart})
	assert.ErrorIs(t, err, ErrInvalidPoints)
}

func TestBuildRequestWeights(t *testing.T) {
	road, crime := 2.0, 3.0
	req := BuildRequest(*busanStart, *busanEnd, ProfileFoot, &Weights{RoadSafety: &road, Crime: &crime})
	assert.Equal(t, "0.5", req.CustomModel.Priority[0].MultiplyBy)
	assert.Equal(t, "3", req.CustomModel.Priority[1].MultiplyBy)
	assert.Equal(t, [2]float64{129.00, 35.10}, req.Points[0])

	req = BuildRequest(*busanStart, *busanEnd, ProfileCar, nil)
	assert.Equal(t, "0.7", req.CustomModel.Priority[0].MultiplyBy)
	assert.Equal(t, "1.5", req.CustomModel.Priority[1].MultiplyBy)
	assert.Equal(t, 3, req.AlternativeMaxPaths)
	assert.True(t, req.CHDisable)
}

func TestChooseProfile(t *testing.T) {
	p := NewPlanner(nil, nil, Options{}, nil)
	assert.Equal(t, ProfileFoot, p.ChooseProfile(3))
	assert.Equal(t, ProfileFoot, p.ChooseProfile(50))
	assert.Equal(t, ProfileCar, p.ChooseProfile(50.1))
}

func TestScorePathCountsFeatureOnce(t *testing.T) {
	geometry := make([]geo.Point, 11)
	for i := range geometry {
		geometry[i] = geo.Point{Latitude: 35.10, Longitude: 129.0 + float64(i)*0.0001}
	}
	features := map[models.FeatureKind][]models.FeaturePoint{
		models.KindSecurityLight: {
			{ID: 1, Point: geo.Point{Latitude: 35.10, Longitude: 129.0005}},
			{ID: 2, Point: geo.Point{Latitude: 35.11, Longitude: 129.0005}},
		},
		models.KindEmergencyBell: {{ID: 3, Point: geo.Point{Latitude: 35.1005, Longitude: 129.0}}},
	}
	info := ScorePath(geometry, features)
	assert.Equal(t, 1, info.Light)
	assert.Equal(t, 1, info.Bell)
	assert.Equal(t, 3, info.Sampled)
	assert.Equal(t, 25, info.Score())
}
