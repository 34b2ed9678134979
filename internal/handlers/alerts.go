package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/beaconhq/beacon/internal/models"
	"github.com/beaconhq/beacon/internal/services"
	appErrors "github.com/beaconhq/beacon/pkg/errors"
	"github.com/beaconhq/beacon/pkg/geo"
	"github.com/beaconhq/beacon/pkg/response"
)

// AlertHandler exposes the alert lifecycle over HTTP.
type AlertHandler struct {
	alerts *services.AlertService
	claims *services.ClaimService
	geo    *services.GeoService
	audit  *services.AuditTrail
	fanout *services.FanoutService
}

// NewAlertHandler constructs an AlertHandler.
func NewAlertHandler(alerts *services.AlertService, claims *services.ClaimService, geoSvc *services.GeoService, audit *services.AuditTrail, fanout *services.FanoutService) (*AlertHandler, error) {
	if alerts == nil || claims == nil || geoSvc == nil || audit == nil || fanout == nil {
		return nil, errors.New("alert handler: all services are required")
	}
	return &AlertHandler{alerts: alerts, claims: claims, geo: geoSvc, audit: audit, fanout: fanout}, nil
}

type createAlertRequest struct {
	Category    string   `json:"category" validate:"required"`
	Urgency     string   `json:"urgency" validate:"required"`
	Description string   `json:"description" validate:"max=2048"`
	Lat         float64  `json:"lat" validate:"latitude"`
	Lng         float64  `json:"lng" validate:"longitude"`
	Visibility  string   `json:"visibility"`
	MediaRefs   []string `json:"media_refs" validate:"max=10"`
}

// advanceRequest requires the caller's expected version so every external
// transition carries an explicit compare-and-set token.
type advanceRequest struct {
	Target          string `json:"target" validate:"required"`
	ExpectedVersion int64  `json:"expected_version" validate:"required,gt=0"`
}

// POST /api/alerts
func (h *AlertHandler) Create(c *gin.Context) {
	var req createAlertRequest
	if !bindAndValidate(c, &req) {
		return
	}

	alert, err := h.alerts.Create(requestContext(c), services.CreateAlertInput{
		RequesterID: currentUserID(c),
		Category:    models.AlertCategory(strings.ToLower(req.Category)),
		Urgency:     models.AlertUrgency(strings.ToLower(req.Urgency)),
		Description: req.Description,
		Lat:         req.Lat,
		Lng:         req.Lng,
		Visibility:  req.Visibility,
		MediaRefs:   req.MediaRefs,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusCreated, alert)
}

// GET /api/alerts/:id
func (h *AlertHandler) Get(c *gin.Context) {
	alert, err := h.alerts.Get(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	if !h.mayView(c, alert) {
		// Private alerts are indistinguishable from missing ones.
		response.Error(c, appErrors.ErrAlertNotFound)
		return
	}

	response.Success(c, http.StatusOK, alert)
}

// POST /api/alerts/:id/cancel
func (h *AlertHandler) Cancel(c *gin.Context) {
	alert, err := h.alerts.Cancel(requestContext(c), c.Param("id"), currentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, alert)
}

// POST /api/alerts/:id/claim
func (h *AlertHandler) Claim(c *gin.Context) {
	alert, err := h.claims.Claim(requestContext(c), c.Param("id"), currentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, alert)
}

// POST /api/alerts/:id/advance
func (h *AlertHandler) Advance(c *gin.Context) {
	var req advanceRequest
	if !bindAndValidate(c, &req) {
		return
	}

	alert, err := h.alerts.Advance(requestContext(c), services.AdvanceInput{
		AlertID:         c.Param("id"),
		ActorID:         currentUserID(c),
		ActorRole:       currentRole(c),
		Target:          models.AlertStatus(strings.ToLower(req.Target)),
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, alert)
}

// GET /api/alerts/nearby
func (h *AlertHandler) Nearby(c *gin.Context) {
	query := services.NearbyAlertsQuery{
		Centre: geo.Point{
			Lat: parseFloatQuery(c, "lat", 0),
			Lng: parseFloatQuery(c, "lng", 0),
		},
		RadiusKm:       parseFloatQuery(c, "radius_km", 0),
		IncludePrivate: currentRole(c) == models.RoleAdmin,
	}
	if status := strings.TrimSpace(c.Query("status")); status != "" {
		query.Statuses = append(query.Statuses, models.AlertStatus(strings.ToLower(status)))
	}
	if category := strings.TrimSpace(c.Query("category")); category != "" {
		query.Categories = append(query.Categories, models.AlertCategory(strings.ToLower(category)))
	}
	query.Urgency = models.AlertUrgency(strings.ToLower(strings.TrimSpace(c.Query("urgency"))))

	results, err := h.geo.NearbyAlerts(requestContext(c), query)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, results)
}

// GET /api/alerts/:id/audit
func (h *AlertHandler) Audit(c *gin.Context) {
	ctx := requestContext(c)

	alert, err := h.alerts.Get(ctx, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if !h.mayView(c, alert) {
		response.Error(c, appErrors.ErrAlertNotFound)
		return
	}

	records, err := h.audit.List(ctx, alert.ID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, records)
}

// GET /api/alerts/:id/events
func (h *AlertHandler) Events(c *gin.Context) {
	ctx := requestContext(c)

	alert, err := h.alerts.Get(ctx, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if !h.mayView(c, alert) {
		response.Error(c, appErrors.ErrAlertNotFound)
		return
	}

	afterVersion := parseInt64Query(c, "after_version", 0)
	events, err := h.fanout.ListSince(ctx, alert.ID, afterVersion)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, events)
}

// mayView reports whether the caller can see the alert. Public alerts are
// visible to everyone; private ones only to the requester, the claimant and
// admins.
func (h *AlertHandler) mayView(c *gin.Context, alert *models.Alert) bool {
	if alert.Visibility == models.VisibilityPublic {
		return true
	}
	userID := currentUserID(c)
	if userID == alert.RequesterID {
		return true
	}
	if alert.ClaimedBy != nil && *alert.ClaimedBy == userID {
		return true
	}
	return currentRole(c) == models.RoleAdmin
}
