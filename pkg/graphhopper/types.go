package graphhopper

import (
	"encoding/json"
	"fmt"

	"MegaBrain/pkg/geo"
)

// Request is the POST /route body. Points are [lng, lat] pairs.
type Request struct {
	Points        [][2]float64 `json:"points"`
	Profile       string       `json:"profile"`
	Locale        string       `json:"locale,omitempty"`
	CalcPoints    bool         `json:"calc_points"`
	PointsEncoded bool         `json:"points_encoded"`
	// custom models are ignored by the contraction hierarchy
	CHDisable   bool         `json:"ch.disable"`
	CustomModel *CustomModel `json:"custom_model,omitempty"`

	Algorithm                  string  `json:"algorithm,omitempty"`
	AlternativeMaxPaths        int     `json:"alternative_route.max_paths,omitempty"`
	AlternativeMaxWeightFactor float64 `json:"alternative_route.max_weight_factor,omitempty"`
	AlternativeMaxShareFactor  float64 `json:"alternative_route.max_share_factor,omitempty"`
}

type CustomModel struct {
	Priority          []Statement `json:"priority,omitempty"`
	Speed             []Statement `json:"speed,omitempty"`
	DistanceInfluence *float64    `json:"distance_influence,omitempty"`
}

// Statement is a custom model rule. GraphHopper accepts multiply_by as a
// string expression.
type Statement struct {
	If         string `json:"if,omitempty"`
	ElseIf     string `json:"else_if,omitempty"`
	Else       string `json:"else,omitempty"`
	MultiplyBy string `json:"multiply_by,omitempty"`
	LimitTo    string `json:"limit_to,omitempty"`
}

// AlgorithmAlternativeRoute asks the engine for more than one path.
const AlgorithmAlternativeRoute = "alternative_route"

// Response keeps every field the engine sent so it can be relayed as is.
type Response struct {
	Paths   []*Path
	Message string

	raw map[string]json.RawMessage
}

func (r *Response) UnmarshalJSON(data []byte) error {
	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.raw = raw
	r.Paths = nil
	r.Message = ""
	if msg, ok := raw["message"]; ok {
		if err := json.Unmarshal(msg, &r.Message); err != nil {
			return fmt.Errorf("decode message: %w", err)
		}
	}
	if paths, ok := raw["paths"]; ok && string(paths) != "null" {
		if err := json.Unmarshal(paths, &r.Paths); err != nil {
			return fmt.Errorf("decode paths: %w", err)
		}
	}
	return nil
}

func (r Response) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.raw)+1)
	for k, v := range r.raw {
		out[k] = v
	}
	if r.Paths != nil || r.raw["paths"] != nil {
		paths := r.Paths
		if paths == nil {
			paths = []*Path{}
		}
		out["paths"] = paths
	}
	if r.Message != "" {
		out["message"] = r.Message
	}
	return json.Marshal(out)
}

// Path is one candidate route. Geometry is decoded from either a GeoJSON
// LineString or an encoded polyline; every other member is passed through.
type Path struct {
	Distance float64
	Time     int64
	BBox     []float64
	Geometry []geo.Point

	raw         map[string]json.RawMessage
	annotations map[string]any
}

// NewPath builds a path from a coordinate sequence.
func NewPath(points []geo.Point) *Path {
	coords := make([][]float64, len(points))
	for i, p := range points {
		coords[i] = []float64{p.Longitude, p.Latitude}
	}
	line, _ := json.Marshal(lineString{Type: "LineString", Coordinates: coords})
	p := &Path{Geometry: points, raw: map[string]json.RawMessage{"points": line}}
	if b, ok := geo.BoundsOf(points); ok {
		p.BBox = []float64{b.MinLng, b.MinLat, b.MaxLng, b.MaxLat}
		bbox, _ := json.Marshal(p.BBox)
		p.raw["bbox"] = bbox
	}
	return p
}

type lineString struct {
	Type        string      `json:"type"`
	Coordinates [][]float64 `json:"coordinates"`
}

func (p *Path) UnmarshalJSON(data []byte) error {
	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = Path{raw: raw}
	if v, ok := raw["distance"]; ok {
		_ = json.Unmarshal(v, &p.Distance)
	}
	if v, ok := raw["time"]; ok {
		_ = json.Unmarshal(v, &p.Time)
	}
	if v, ok := raw["bbox"]; ok {
		_ = json.Unmarshal(v, &p.BBox)
	}
	if v, ok := raw["points"]; ok {
		points, err := decodeGeometry(v, raw["points_encoded_multiplier"])
		if err != nil {
			return fmt.Errorf("decode points: %w", err)
		}
		p.Geometry = points
	}
	return nil
}

func decodeGeometry(v, multiplier json.RawMessage) ([]geo.Point, error) {
	var encoded string
	if err := json.Unmarshal(v, &encoded); err == nil {
		scale := 1e5
		if multiplier != nil {
			_ = json.Unmarshal(multiplier, &scale)
		}
		if encoded == "" {
			return nil, nil
		}
		return geo.DecodePolylineWithPrecision(encoded, scale)
	}
	var line lineString
	if err := json.Unmarshal(v, &line); err != nil {
		return nil, err
	}
	points := make([]geo.Point, 0, len(line.Coordinates))
	for _, c := range line.Coordinates {
		if len(c) < 2 {
			continue
		}
		points = append(points, geo.Point{Latitude: c[1], Longitude: c[0]})
	}
	return points, nil
}

// Annotate adds or replaces a member in the relayed JSON.
func (p *Path) Annotate(key string, value any) {
	if p.annotations == nil {
		p.annotations = make(map[string]any)
	}
	p.annotations[key] = value
}

// Annotation returns a value previously set with Annotate.
func (p *Path) Annotation(key string) (any, bool) {
	v, ok := p.annotations[key]
	return v, ok
}

func (p Path) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.raw)+len(p.annotations))
	for k, v := range p.raw {
		out[k] = v
	}
	if _, ok := out["distance"]; !ok && p.Distance != 0 {
		out["distance"] = p.Distance
	}
	if _, ok := out["time"]; !ok && p.Time != 0 {
		out["time"] = p.Time
	}
	for k, v := range p.annotations {
		out[k] = v
	}
	return json.Marshal(out)
}

// Bounds returns the bbox the engine reported, or one computed from the
// geometry. ok is false when neither is available.
func (p *Path) Bounds() (geo.BBox, bool) {
	if len(p.BBox) == 4 {
		return geo.BBox{MinLng: p.BBox[0], MinLat: p.BBox[1], MaxLng: p.BBox[2], MaxLat: p.BBox[3]}, true
	}
	return geo.BoundsOf(p.Geometry)
}
