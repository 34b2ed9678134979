package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/beaconhq/beacon/internal/models"
	"github.com/beaconhq/beacon/internal/services"
	"github.com/beaconhq/beacon/pkg/geo"
)

func TestResponderHandlerDutyAndLocation(t *testing.T) {
	fx := newHandlerFixture(t)

	rec := perform(t, fx.responderHandler.SetDuty, http.MethodPost, "/api/responders/duty", gin.H{
		"on_duty":           true,
		"service_radius_km": 8,
	}, "volunteer-1", models.RoleVolunteer, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var responder models.Responder
	decodeData(t, rec, &responder)
	require.True(t, responder.OnDuty)
	require.NotNil(t, responder.OnDutySince)
	require.Equal(t, 8.0, responder.ServiceRadiusKm)

	rec = perform(t, fx.responderHandler.UpdateLocation, http.MethodPost, "/api/responders/location", gin.H{
		"lat": 28.6145,
		"lng": 77.2095,
	}, "volunteer-1", models.RoleVolunteer, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var payload struct {
		Responder models.Responder `json:"responder"`
		Applied   bool             `json:"applied"`
	}
	decodeData(t, rec, &payload)
	require.True(t, payload.Applied)
	require.Equal(t, 28.6145, payload.Responder.Lat)

	rec = perform(t, fx.responderHandler.Me, http.MethodGet, "/api/responders/me", nil, "volunteer-1", models.RoleVolunteer, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	decodeData(t, rec, &responder)
	require.NotNil(t, responder.LastLocationUpdateAt)
}

func TestResponderHandlerLocationValidation(t *testing.T) {
	fx := newHandlerFixture(t)

	rec := perform(t, fx.responderHandler.UpdateLocation, http.MethodPost, "/api/responders/location", gin.H{
		"lat": 200.0,
		"lng": 77.2095,
	}, "volunteer-1", models.RoleVolunteer, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestResponderHandlerLocationUnknownResponder(t *testing.T) {
	fx := newHandlerFixture(t)

	rec := perform(t, fx.responderHandler.UpdateLocation, http.MethodPost, "/api/responders/location", gin.H{
		"lat": 28.6145,
		"lng": 77.2095,
	}, "ghost", models.RoleVolunteer, nil)
	requireErrorCode(t, rec, http.StatusNotFound, "NOT_FOUND")
}

func TestResponderHandlerNearbyRequiresAdmin(t *testing.T) {
	fx := newHandlerFixture(t)

	ctx := context.Background()
	_, err := fx.responders.SetDuty(ctx, services.DutyInput{
		ResponderID: "volunteer-1",
		Role:        models.RoleVolunteer,
		OnDuty:      true,
	})
	require.NoError(t, err)
	_, _, err = fx.responders.UpdateLocation(ctx, "volunteer-1", geo.Point{Lat: 28.6145, Lng: 77.2095})
	require.NoError(t, err)

	rec := perform(t, fx.responderHandler.Nearby, http.MethodGet, "/api/responders/nearby?lat=28.6139&lng=77.2090", nil, "volunteer-1", models.RoleVolunteer, nil)
	requireErrorCode(t, rec, http.StatusForbidden, "FORBIDDEN")

	rec = perform(t, fx.responderHandler.Nearby, http.MethodGet, "/api/responders/nearby?lat=28.6139&lng=77.2090", nil, "ops-1", models.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var results []services.ResponderWithDistance
	decodeData(t, rec, &results)
	require.Len(t, results, 1)
	require.Equal(t, "volunteer-1", results[0].ID)
}
