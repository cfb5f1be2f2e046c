package cluster

import (
	"math"
	"sort"
	"strconv"
)

// Point is one input feature. Type ends up in the GeoJSON properties.
type Point struct {
	ID        int64
	Type      string
	Latitude  float64
	Longitude float64
}

// Options mirror the usual supercluster knobs.
type Options struct {
	Radius    float64 // cluster radius in pixels
	Extent    float64 // tile extent in pixels
	MinZoom   int
	MaxZoom   int
	MinPoints int
}

func DefaultOptions() Options {
	return Options{Radius: 60, Extent: 512, MinZoom: 0, MaxZoom: 18, MinPoints: 2}
}

func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.Radius <= 0 {
		o.Radius = d.Radius
	}
	if o.Extent <= 0 {
		o.Extent = d.Extent
	}
	if o.MaxZoom <= 0 {
		o.MaxZoom = d.MaxZoom
	}
	if o.MinZoom < 0 || o.MinZoom > o.MaxZoom {
		o.MinZoom = 0
	}
	if o.MinPoints < 2 {
		o.MinPoints = d.MinPoints
	}
	return o
}

// node is a point or a cluster in projected [0,1] space.
type node struct {
	x, y      float64
	zoom      int // last zoom this node was processed at
	id        int // source index for leaves, encoded id for clusters
	parent    int
	numPoints int
}

// Index is an immutable hierarchical cluster index over a point set.
type Index struct {
	opts   Options
	points []Point
	trees  [][]node // per zoom, sorted by x
}

// NewIndex clusters points for every zoom from MaxZoom down to MinZoom.
func NewIndex(points []Point, opts Options) *Index {
	opts = opts.normalized()
	idx := &Index{
		opts:   opts,
		points: points,
		trees:  make([][]node, opts.MaxZoom+2),
	}

	leaves := make([]node, 0, len(points))
	for i, p := range points {
		leaves = append(leaves, node{
			x:         lngX(p.Longitude),
			y:         latY(p.Latitude),
			zoom:      math.MaxInt32,
			id:        i,
			parent:    -1,
			numPoints: 1,
		})
	}
	idx.trees[opts.MaxZoom+1] = sortByX(leaves)

	for z := opts.MaxZoom; z >= opts.MinZoom; z-- {
		idx.trees[z] = sortByX(idx.cluster(idx.trees[z+1], z))
	}
	return idx
}

// Len is the number of input points.
func (idx *Index) Len() int { return len(idx.points) }

func (idx *Index) cluster(src []node, zoom int) []node {
	r := idx.opts.Radius / (idx.opts.Extent * math.Pow(2, float64(zoom)))
	grid := newGrid(src, r)
	out := make([]node, 0, len(src))

	for i := range src {
		p := &src[i]
		if p.zoom <= zoom {
			continue
		}
		p.zoom = zoom

		neighbors := grid.within(src, p.x, p.y, r)
		numPoints := p.numPoints
		for _, j := range neighbors {
			if src[j].zoom > zoom {
				numPoints += src[j].numPoints
			}
		}

		if numPoints >= idx.opts.MinPoints {
			wx := p.x * float64(p.numPoints)
			wy := p.y * float64(p.numPoints)
			id := (i << 5) + (zoom + 1) + len(idx.points)
			for _, j := range neighbors {
				b := &src[j]
				if b.zoom <= zoom {
					continue
				}
				b.zoom = zoom
				wx += b.x * float64(b.numPoints)
				wy += b.y * float64(b.numPoints)
				b.parent = id
			}
			p.parent = id
			out = append(out, node{
				x:         wx / float64(numPoints),
				y:         wy / float64(numPoints),
				zoom:      math.MaxInt32,
				id:        id,
				parent:    -1,
				numPoints: numPoints,
			})
			continue
		}

		out = append(out, *p)
		if numPoints > 1 {
			for _, j := range neighbors {
				b := &src[j]
				if b.zoom <= zoom {
					continue
				}
				b.zoom = zoom
				out = append(out, *b)
			}
		}
	}
	return out
}

// Clusters returns the clusters and points inside bbox
// (minLng, minLat, maxLng, maxLat) at zoom.
func (idx *Index) Clusters(bbox [4]float64, zoom int) []Feature {
	minLng := math.Mod(math.Mod(bbox[0]+180, 360)+360, 360) - 180
	minLat := math.Max(-90, math.Min(90, bbox[1]))
	maxLng := 180.0
	if bbox[2] != 180 {
		maxLng = math.Mod(math.Mod(bbox[2]+180, 360)+360, 360) - 180
	}
	maxLat := math.Max(-90, math.Min(90, bbox[3]))

	if bbox[2]-bbox[0] >= 360 {
		minLng, maxLng = -180, 180
	} else if minLng > maxLng {
		east := idx.Clusters([4]float64{minLng, minLat, 180, maxLat}, zoom)
		west := idx.Clusters([4]float64{-180, minLat, maxLng, maxLat}, zoom)
		return append(east, west...)
	}

	tree := idx.trees[idx.limitZoom(zoom)]
	minX, maxX := lngX(minLng), lngX(maxLng)
	minY, maxY := latY(maxLat), latY(minLat)

	start := sort.Search(len(tree), func(i int) bool { return tree[i].x >= minX })
	out := make([]Feature, 0)
	for i := start; i < len(tree) && tree[i].x <= maxX; i++ {
		n := tree[i]
		if n.y < minY || n.y > maxY {
			continue
		}
		out = append(out, idx.feature(n))
	}
	return out
}

func (idx *Index) limitZoom(z int) int {
	if z < idx.opts.MinZoom {
		return idx.opts.MinZoom
	}
	if z > idx.opts.MaxZoom+1 {
		return idx.opts.MaxZoom + 1
	}
	return z
}

func (idx *Index) feature(n node) Feature {
	if n.numPoints > 1 {
		id := n.id
		return Feature{
			Type: "Feature",
			ID:   &id,
			Properties: map[string]any{
				"cluster":                 true,
				"cluster_id":              n.id,
				"point_count":             n.numPoints,
				"point_count_abbreviated": abbreviate(n.numPoints),
			},
			Geometry: Geometry{Type: "Point", Coordinates: [2]float64{xLng(n.x), yLat(n.y)}},
		}
	}
	p := idx.points[n.id]
	return Feature{
		Type: "Feature",
		Properties: map[string]any{
			"cluster": false,
			"id":      p.ID,
			"type":    p.Type,
		},
		Geometry: Geometry{Type: "Point", Coordinates: [2]float64{p.Longitude, p.Latitude}},
	}
}

func abbreviate(n int) any {
	switch {
	case n >= 10000:
		return strconv.Itoa(int(math.Round(float64(n)/1000))) + "k"
	case n >= 1000:
		return strconv.FormatFloat(math.Round(float64(n)/100)/10, 'f', -1, 64) + "k"
	default:
		return n
	}
}

// Feature is a GeoJSON point feature.
type Feature struct {
	Type       string         `json:"type"`
	ID         *int           `json:"id,omitempty"`
	Properties map[string]any `json:"properties"`
	Geometry   Geometry       `json:"geometry"`
}

type Geometry struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

func sortByX(nodes []node) []node {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].x < nodes[j].x })
	return nodes
}

// grid buckets nodes into square cells of side r for radius queries.
type grid struct {
	size  float64
	cells map[[2]int64][]int
}

func newGrid(nodes []node, r float64) *grid {
	g := &grid{size: r, cells: make(map[[2]int64][]int, len(nodes))}
	for i, n := range nodes {
		k := g.key(n.x, n.y)
		g.cells[k] = append(g.cells[k], i)
	}
	return g
}

func (g *grid) key(x, y float64) [2]int64 {
	return [2]int64{int64(math.Floor(x / g.size)), int64(math.Floor(y / g.size))}
}

// within returns the indexes of nodes closer than r to (x, y), self included.
func (g *grid) within(nodes []node, x, y, r float64) []int {
	c := g.key(x, y)
	r2 := r * r
	var out []int
	for dx := int64(-1); dx <= 1; dx++ {
		for dy := int64(-1); dy <= 1; dy++ {
			for _, i := range g.cells[[2]int64{c[0] + dx, c[1] + dy}] {
				ddx, ddy := nodes[i].x-x, nodes[i].y-y
				if ddx*ddx+ddy*ddy <= r2 {
					out = append(out, i)
				}
			}
		}
	}
	return out
}

func lngX(lng float64) float64 {
	return lng/360 + 0.5
}

func latY(lat float64) float64 {
	sin := math.Sin(lat * math.Pi / 180)
	y := 0.5 - 0.25*math.Log((1+sin)/(1-sin))/math.Pi
	return math.Max(0, math.Min(1, y))
}

func xLng(x float64) float64 {
	return (x - 0.5) * 360
}

func yLat(y float64) float64 {
	y2 := (180 - y*360) * math.Pi / 180
	return 360*math.Atan(math.Exp(y2))/math.Pi - 90
}
