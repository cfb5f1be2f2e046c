package safety

import (
	"sort"

	"MegaBrain/internal/models"
	"MegaBrain/pkg/geo"
	"MegaBrain/pkg/graphhopper"
)

const (
	// SampleStride is how many vertices apart sampled points are.
	SampleStride = 5
	// SearchMarginMeters grows the union bbox before features are fetched.
	SearchMarginMeters = 300.0
)

// Weights per hit. CCTV outranks safe paths, which outrank bells and lights.
const (
	cctvWeight     = 50
	safePathWeight = 30
	bellWeight     = 20
	lightWeight    = 5
)

// Radius in meters within which a sampled vertex counts a feature.
var hitRadius = map[models.FeatureKind]float64{
	models.KindSecurityLight: 50,
	models.KindCCTV:          100,
	models.KindEmergencyBell: 100,
	models.KindSafePath:      100,
}

// DebugInfo is the per-kind breakdown attached to every scored path.
type DebugInfo struct {
	CCTV     int `json:"cctv"`
	SafePath int `json:"safePath"`
	Bell     int `json:"bell"`
	Light    int `json:"light"`
	Sampled  int `json:"sampled"`
}

func (d DebugInfo) Score() int {
	return d.CCTV*cctvWeight + d.SafePath*safePathWeight + d.Bell*bellWeight + d.Light*lightWeight
}

// ScorePath counts the distinct features near the sampled vertices of
// geometry. A feature counts once no matter how many samples pass it.
func ScorePath(geometry []geo.Point, features map[models.FeatureKind][]models.FeaturePoint) DebugInfo {
	samples := geo.Sample(geometry, SampleStride)
	info := DebugInfo{Sampled: len(samples)}
	if len(samples) == 0 {
		return info
	}

	for kind, points := range features {
		radius, ok := hitRadius[kind]
		if !ok || len(points) == 0 {
			continue
		}
		hits := make(map[int64]struct{})
		for _, f := range points {
			for _, s := range samples {
				if geo.WithinMeters(s, f.Point, radius) {
					hits[f.ID] = struct{}{}
					break
				}
			}
		}
		switch kind {
		case models.KindCCTV:
			info.CCTV = len(hits)
		case models.KindSafePath:
			info.SafePath = len(hits)
		case models.KindEmergencyBell:
			info.Bell = len(hits)
		case models.KindSecurityLight:
			info.Light = len(hits)
		}
	}
	return info
}

// searchBounds is the union of every path bbox grown by the search margin.
func searchBounds(paths []*graphhopper.Path) (geo.BBox, bool) {
	var (
		union geo.BBox
		found bool
	)
	for _, p := range paths {
		b, ok := p.Bounds()
		if !ok {
			continue
		}
		if !found {
			union, found = b, true
			continue
		}
		union = union.Union(b)
	}
	if !found {
		return geo.BBox{}, false
	}
	return union.Expand(SearchMarginMeters), true
}

// rank annotates every path and orders them by score, best first. Equal
// scores keep the engine order.
func rank(paths []*graphhopper.Path, features map[models.FeatureKind][]models.FeaturePoint) {
	scores := make(map[*graphhopper.Path]int, len(paths))
	for _, p := range paths {
		info := ScorePath(p.Geometry, features)
		scores[p] = info.Score()
		p.Annotate("securityScore", scores[p])
		p.Annotate("debugInfo", info)
	}
	sort.SliceStable(paths, func(i, j int) bool {
		return scores[paths[i]] > scores[paths[j]]
	})
}
