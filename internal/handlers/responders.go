package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/beaconhq/beacon/internal/models"
	"github.com/beaconhq/beacon/internal/services"
	appErrors "github.com/beaconhq/beacon/pkg/errors"
	"github.com/beaconhq/beacon/pkg/geo"
	"github.com/beaconhq/beacon/pkg/response"
)

// ResponderHandler exposes responder duty and location state over HTTP.
type ResponderHandler struct {
	responders *services.ResponderService
	geo        *services.GeoService
}

// NewResponderHandler constructs a ResponderHandler.
func NewResponderHandler(responders *services.ResponderService, geoSvc *services.GeoService) (*ResponderHandler, error) {
	if responders == nil || geoSvc == nil {
		return nil, errors.New("responder handler: all services are required")
	}
	return &ResponderHandler{responders: responders, geo: geoSvc}, nil
}

type dutyRequest struct {
	OnDuty              bool     `json:"on_duty"`
	ServiceRadiusKm     float64  `json:"service_radius_km" validate:"min=0,max=100"`
	PreferredCategories []string `json:"preferred_categories" validate:"max=10"`
}

type locationRequest struct {
	Lat float64 `json:"lat" validate:"latitude"`
	Lng float64 `json:"lng" validate:"longitude"`
}

// POST /api/responders/duty
func (h *ResponderHandler) SetDuty(c *gin.Context) {
	var req dutyRequest
	if !bindAndValidate(c, &req) {
		return
	}

	responder, err := h.responders.SetDuty(requestContext(c), services.DutyInput{
		ResponderID:         currentUserID(c),
		Role:                currentRole(c),
		OnDuty:              req.OnDuty,
		ServiceRadiusKm:     req.ServiceRadiusKm,
		PreferredCategories: req.PreferredCategories,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, responder)
}

// POST /api/responders/location
func (h *ResponderHandler) UpdateLocation(c *gin.Context) {
	var req locationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	responder, applied, err := h.responders.UpdateLocation(requestContext(c), currentUserID(c), geo.Point{
		Lat: req.Lat,
		Lng: req.Lng,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"responder": responder,
		"applied":   applied,
	})
}

// GET /api/responders/me
func (h *ResponderHandler) Me(c *gin.Context) {
	responder, err := h.responders.Get(requestContext(c), currentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, responder)
}

// GET /api/responders/nearby
func (h *ResponderHandler) Nearby(c *gin.Context) {
	if currentRole(c) != models.RoleAdmin {
		// Only dispatch operators may enumerate responders.
		response.Error(c, appErrors.ErrForbidden)
		return
	}

	centre := geo.Point{
		Lat: parseFloatQuery(c, "lat", 0),
		Lng: parseFloatQuery(c, "lng", 0),
	}
	results, err := h.geo.NearbyResponders(requestContext(c), centre, parseFloatQuery(c, "radius_km", 0))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, http.StatusOK, results)
}
