package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"MegaBrain/internal/models"
	"MegaBrain/pkg/errors"
	"MegaBrain/pkg/geo"
	"MegaBrain/pkg/response"
)

var errBoundsRequired = errors.WithCode(http.StatusBadRequest, "지도 영역 정보가 필요합니다.")

const (
	errFeatureLoad = "서버 오류가 발생했습니다."

	debugSampleSize = 5
	debugListSize   = 100
)

// parseBounds reads swLat, swLng, neLat and neLng. Zero or unparsable values
// count as missing. Corners may come in any order.
func parseBounds(c *gin.Context) (geo.BBox, bool) {
	var vals [4]float64
	for i, key := range []string{"swLat", "swLng", "neLat", "neLng"} {
		v, err := strconv.ParseFloat(c.Query(key), 64)
		if err != nil || v == 0 {
			return geo.BBox{}, false
		}
		vals[i] = v
	}
	return geo.NewBBox(
		geo.Point{Latitude: vals[0], Longitude: vals[1]},
		geo.Point{Latitude: vals[2], Longitude: vals[3]},
	), true
}

func isDebug(c *gin.Context) bool {
	return c.Query("debug") == "true"
}

func withCoordinates(db *gorm.DB) *gorm.DB {
	return db.Where("latitude IS NOT NULL AND longitude IS NOT NULL")
}

// debugCounts reports the table size and a few located rows.
func debugCounts[T any](c *gin.Context, db *gorm.DB) {
	total, err := models.CountFeatures[T](db)
	if err != nil {
		response.Error(c, err, errFeatureLoad)
		return
	}
	sample, err := models.FirstFeatures[T](withCoordinates(db), debugSampleSize)
	if err != nil {
		response.Error(c, err, errFeatureLoad)
		return
	}
	response.OK(c, gin.H{"totalCount": total, "sampleData": sample})
}

func (h *Handlers) handleSecurityLights(c *gin.Context) {
	if isDebug(c) {
		debugCounts[models.SecurityLight](c, h.db)
		return
	}
	bounds, ok := parseBounds(c)
	if !ok {
		response.Error(c, errBoundsRequired, errFeatureLoad)
		return
	}
	lights, err := models.SecurityLightsInBounds(h.db, bounds)
	if err != nil {
		response.Error(c, err, "보안등 정보를 불러오는데 실패했습니다.")
		return
	}
	response.OK(c, gin.H{"securityLights": orEmpty(lights)})
}

func (h *Handlers) handleCCTV(c *gin.Context) {
	if isDebug(c) {
		debugCounts[models.CCTVInstallation](c, h.db)
		return
	}
	bounds, ok := parseBounds(c)
	if !ok {
		response.Error(c, errBoundsRequired, errFeatureLoad)
		return
	}
	cctvs, err := models.CCTVInBounds(h.db, bounds)
	if err != nil {
		response.Error(c, err, "CCTV 정보를 불러오는데 실패했습니다.")
		return
	}
	response.OK(c, gin.H{"cctvs": orEmpty(cctvs)})
}

func (h *Handlers) handleEmergencyBells(c *gin.Context) {
	var (
		bells []models.EmergencyBell
		err   error
	)
	if bounds, ok := parseBounds(c); ok {
		bells, err = models.EmergencyBellsInBounds(h.db, bounds)
	} else if isDebug(c) {
		bells, err = models.FirstFeatures[models.EmergencyBell](h.db, debugListSize)
	}
	if err != nil {
		response.Error(c, err, errFeatureLoad)
		return
	}
	response.OK(c, gin.H{"bells": orEmpty(bells)})
}

func (h *Handlers) handleSafeReturnPaths(c *gin.Context) {
	var (
		paths []models.SafeReturnPath
		err   error
	)
	if bounds, ok := parseBounds(c); ok {
		paths, err = models.SafeReturnPathsInBounds(h.db, bounds)
	} else if isDebug(c) {
		paths, err = models.FirstFeatures[models.SafeReturnPath](h.db, debugListSize)
	}
	if err != nil {
		response.Error(c, err, errFeatureLoad)
		return
	}
	response.OK(c, gin.H{"paths": orEmpty(paths)})
}

func orEmpty[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
