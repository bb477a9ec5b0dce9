package handlers

import (
	"math"
	"net/http"
	"strconv"

	"citysnap-backend/internal/database"
	"citysnap-backend/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
)

type DamageMapHandler struct {
	store database.Store
}

func NewDamageMapHandler(store database.Store) *DamageMapHandler {
	return &DamageMapHandler{store: store}
}

// Locations godoc
// @Summary     Damage map
// @Description GeoJSON FeatureCollection of every report with coordinates.
// @Description With lat, lng and radius_m only reports within radius_m meters are returned.
// @Tags        reports
// @Produce     json
// @Security    Bearer
// @Param       lat      query number false "Center latitude"
// @Param       lng      query number false "Center longitude"
// @Param       radius_m query number false "Radius in meters"
// @Success     200 {object} map[string]interface{}
// @Failure     400 {object} models.ErrorResponse
// @Router      /reports/map [get]
func (h *DamageMapHandler) Locations(c *gin.Context) {
	center, radius, filtered, err := parseRadiusFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid map filter", Message: err.Error()})
		return
	}

	locations, err := h.store.ListReportLocations(c.Request.Context())
	if err != nil {
		respondError(c, err, "failed to list report locations")
		return
	}

	var bound orb.Bound
	if filtered {
		bound = geo.NewBoundAroundPoint(center, radius)
	}

	fc := geojson.NewFeatureCollection()
	for _, loc := range locations {
		point := orb.Point{loc.Longitude, loc.Latitude}
		if filtered && (!bound.Contains(point) || geo.Distance(center, point) > radius) {
			continue
		}

		feature := geojson.NewFeature(point)
		feature.ID = loc.ReportID
		feature.Properties["report_id"] = loc.ReportID
		feature.Properties["user_id"] = loc.UserID
		feature.Properties["location_description"] = loc.LocationDescription
		feature.Properties["details"] = loc.Details
		feature.Properties["photo_url"] = loc.PhotoURL
		feature.Properties["report_date"] = loc.ReportDate.Format("2006-01-02 15:04:05")
		feature.Properties["repair_status"] = loc.RepairStatus
		if loc.AIStatus.Valid {
			feature.Properties["ai_status"] = loc.AIStatus.String
		} else {
			feature.Properties["ai_status"] = nil
		}
		fc.Append(feature)
	}

	c.JSON(http.StatusOK, fc)
}

type filterError string

func (e filterError) Error() string { return string(e) }

// parseRadiusFilter reads lat, lng and radius_m. They must be given together.
func parseRadiusFilter(c *gin.Context) (orb.Point, float64, bool, error) {
	latStr, lngStr, radiusStr := c.Query("lat"), c.Query("lng"), c.Query("radius_m")
	if latStr == "" && lngStr == "" && radiusStr == "" {
		return orb.Point{}, 0, false, nil
	}
	if latStr == "" || lngStr == "" || radiusStr == "" {
		return orb.Point{}, 0, false, filterError("lat, lng and radius_m must be given together")
	}

	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil || math.IsNaN(lat) || lat < -90 || lat > 90 {
		return orb.Point{}, 0, false, filterError("lat must be a number in [-90, 90]")
	}
	lng, err := strconv.ParseFloat(lngStr, 64)
	if err != nil || math.IsNaN(lng) || lng < -180 || lng > 180 {
		return orb.Point{}, 0, false, filterError("lng must be a number in [-180, 180]")
	}
	radius, err := strconv.ParseFloat(radiusStr, 64)
	if err != nil || math.IsNaN(radius) || radius <= 0 {
		return orb.Point{}, 0, false, filterError("radius_m must be a positive number")
	}

	return orb.Point{lng, lat}, radius, true, nil
}
