package handlers

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"MegaBrain/internal/models"
	"MegaBrain/pkg/cluster"
	"MegaBrain/pkg/logger"
	"MegaBrain/pkg/response"
)

const clusterPageSize = 10000

// NewClusterLoader reads every located feature in pages. A kind that fails
// to load is logged and skipped so the others still cluster.
func NewClusterLoader(db *gorm.DB) cluster.Loader {
	return func(ctx context.Context) ([]cluster.Point, error) {
		var (
			mu     sync.Mutex
			points []cluster.Point
		)
		g, gctx := errgroup.WithContext(ctx)
		for _, kind := range models.FeatureKinds {
			g.Go(func() error {
				var part []cluster.Point
				err := models.EachFeaturePoint(db.WithContext(gctx), kind, clusterPageSize, func(batch []models.FeaturePoint) error {
					for _, f := range batch {
						part = append(part, cluster.Point{
							ID:        f.ID,
							Type:      string(kind),
							Latitude:  f.Point.Latitude,
							Longitude: f.Point.Longitude,
						})
					}
					return nil
				})
				if err != nil {
					logger.Warn("cluster load failed", zap.String("kind", string(kind)), zap.Error(err))
					return nil
				}
				mu.Lock()
				points = append(points, part...)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return points, nil
	}
}

func (h *Handlers) handleClusters(c *gin.Context) {
	bboxStr, zoomStr := c.Query("bbox"), c.Query("zoom")
	if bboxStr == "" || zoomStr == "" {
		response.Fail(c, http.StatusBadRequest, "bbox and zoom parameters are required")
		return
	}

	bbox, zoom, ok := parseClusterQuery(bboxStr, zoomStr)
	if !ok {
		response.Fail(c, http.StatusBadRequest, "Invalid bbox or zoom parameter")
		return
	}

	kind := c.DefaultQuery("type", cluster.TypeAll)
	features, err := h.clusters.Clusters(c.Request.Context(), bbox, zoom, kind, c.Query("force") == "true")
	if err != nil {
		response.Error(c, err, "Internal Server Error")
		return
	}
	response.OK(c, features)
}

func parseClusterQuery(bboxStr, zoomStr string) ([4]float64, int, bool) {
	var bbox [4]float64
	parts := strings.Split(bboxStr, ",")
	if len(parts) != 4 {
		return bbox, 0, false
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || math.IsNaN(v) {
			return bbox, 0, false
		}
		bbox[i] = v
	}
	z, err := strconv.ParseFloat(strings.TrimSpace(zoomStr), 64)
	if err != nil || math.IsNaN(z) || math.IsInf(z, 0) {
		return bbox, 0, false
	}
	return bbox, int(z), true
}
