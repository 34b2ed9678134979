package handlers

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/beaconhq/beacon/internal/models"
	"github.com/beaconhq/beacon/internal/services"
)

func createAlertViaHandler(t *testing.T, fx *handlerFixture, requesterID string, body gin.H) models.Alert {
	t.Helper()

	rec := perform(t, fx.alertHandler.Create, http.MethodPost, "/api/alerts", body, requesterID, "", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var alert models.Alert
	decodeData(t, rec, &alert)
	return alert
}

func TestAlertHandlerCreateAndGet(t *testing.T) {
	fx := newHandlerFixture(t)

	alert := createAlertViaHandler(t, fx, "requester-1", gin.H{
		"category":    "medical",
		"urgency":     "high",
		"description": "chest pain",
		"lat":         28.6139,
		"lng":         77.2090,
	})
	require.Equal(t, models.StatusCreated, alert.Status)
	require.Equal(t, int64(1), alert.Version)
	require.Equal(t, "requester-1", alert.RequesterID)
	require.Equal(t, "r28.6_77.2", alert.RegionTag)

	rec := perform(t, fx.alertHandler.Get, http.MethodGet, "/api/alerts/"+alert.ID, nil, "someone-else", "", idParam(alert.ID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var fetched models.Alert
	decodeData(t, rec, &fetched)
	require.Equal(t, alert.ID, fetched.ID)
}

func TestAlertHandlerCreateValidation(t *testing.T) {
	fx := newHandlerFixture(t)

	rec := perform(t, fx.alertHandler.Create, http.MethodPost, "/api/alerts", gin.H{
		"urgency": "high",
		"lat":     28.6139,
		"lng":     77.2090,
	}, "requester-1", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	rec = perform(t, fx.alertHandler.Create, http.MethodPost, "/api/alerts", gin.H{
		"category": "medical",
		"urgency":  "high",
		"lat":      123.0,
		"lng":      77.2090,
	}, "requester-1", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestAlertHandlerPrivateVisibility(t *testing.T) {
	fx := newHandlerFixture(t)

	alert := createAlertViaHandler(t, fx, "requester-1", gin.H{
		"category":   "harassment",
		"urgency":    "medium",
		"lat":        28.6139,
		"lng":        77.2090,
		"visibility": "private",
	})

	// Strangers cannot tell a private alert from a missing one.
	rec := perform(t, fx.alertHandler.Get, http.MethodGet, "/api/alerts/"+alert.ID, nil, "stranger", "", idParam(alert.ID))
	requireErrorCode(t, rec, http.StatusNotFound, "alert.not_found")

	rec = perform(t, fx.alertHandler.Get, http.MethodGet, "/api/alerts/"+alert.ID, nil, "requester-1", "", idParam(alert.ID))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = perform(t, fx.alertHandler.Get, http.MethodGet, "/api/alerts/"+alert.ID, nil, "ops-1", models.RoleAdmin, idParam(alert.ID))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAlertHandlerCancel(t *testing.T) {
	fx := newHandlerFixture(t)

	alert := createAlertViaHandler(t, fx, "requester-1", gin.H{
		"category": "theft",
		"urgency":  "low",
		"lat":      28.6139,
		"lng":      77.2090,
	})

	rec := perform(t, fx.alertHandler.Cancel, http.MethodPost, "/api/alerts/"+alert.ID+"/cancel", nil, "stranger", "", idParam(alert.ID))
	requireErrorCode(t, rec, http.StatusForbidden, "FORBIDDEN")

	rec = perform(t, fx.alertHandler.Cancel, http.MethodPost, "/api/alerts/"+alert.ID+"/cancel", nil, "requester-1", "", idParam(alert.ID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var cancelled models.Alert
	decodeData(t, rec, &cancelled)
	require.Equal(t, models.StatusCancelled, cancelled.Status)
	require.Equal(t, int64(2), cancelled.Version)
}

func TestAlertHandlerAdvanceAuthorization(t *testing.T) {
	fx := newHandlerFixture(t)

	alert := createAlertViaHandler(t, fx, "requester-1", gin.H{
		"category": "fire",
		"urgency":  "high",
		"lat":      28.6139,
		"lng":      77.2090,
	})

	// Promotion out of the cancellation window is reserved for the sweep and admins.
	rec := perform(t, fx.alertHandler.Advance, http.MethodPost, "/api/alerts/"+alert.ID+"/advance", gin.H{
		"target":           "dispatched",
		"expected_version": alert.Version,
	}, "volunteer-1", models.RoleVolunteer, idParam(alert.ID))
	requireErrorCode(t, rec, http.StatusForbidden, "FORBIDDEN")

	rec = perform(t, fx.alertHandler.Advance, http.MethodPost, "/api/alerts/"+alert.ID+"/advance", gin.H{
		"target":           "dispatched",
		"expected_version": alert.Version,
	}, "ops-1", models.RoleAdmin, idParam(alert.ID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var advanced models.Alert
	decodeData(t, rec, &advanced)
	require.Equal(t, models.StatusDispatched, advanced.Status)

	// A stale expected version is rejected as a retryable conflict.
	rec = perform(t, fx.alertHandler.Advance, http.MethodPost, "/api/alerts/"+alert.ID+"/advance", gin.H{
		"target":           "escalated",
		"expected_version": alert.Version,
	}, "ops-1", models.RoleAdmin, idParam(alert.ID))
	requireErrorCode(t, rec, http.StatusConflict, "alert.version_conflict")
}

func TestAlertHandlerAdvanceRequiresExpectedVersion(t *testing.T) {
	fx := newHandlerFixture(t)

	alert := createAlertViaHandler(t, fx, "requester-1", gin.H{
		"category": "fire",
		"urgency":  "high",
		"lat":      28.6139,
		"lng":      77.2090,
	})

	rec := perform(t, fx.alertHandler.Advance, http.MethodPost, "/api/alerts/"+alert.ID+"/advance", gin.H{
		"target": "dispatched",
	}, "ops-1", models.RoleAdmin, idParam(alert.ID))
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
}

func TestAlertHandlerNearby(t *testing.T) {
	fx := newHandlerFixture(t)

	createAlertViaHandler(t, fx, "requester-1", gin.H{
		"category": "medical",
		"urgency":  "high",
		"lat":      28.6139,
		"lng":      77.2090,
	})
	createAlertViaHandler(t, fx, "requester-2", gin.H{
		"category":   "theft",
		"urgency":    "low",
		"lat":        28.6150,
		"lng":        77.2100,
		"visibility": "private",
	})

	rec := perform(t, fx.alertHandler.Nearby, http.MethodGet, "/api/alerts/nearby?lat=28.6139&lng=77.2090&radius_km=5", nil, "volunteer-1", models.RoleVolunteer, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var results []services.AlertWithDistance
	decodeData(t, rec, &results)
	require.Len(t, results, 1)

	// Admins see private alerts too.
	rec = perform(t, fx.alertHandler.Nearby, http.MethodGet, "/api/alerts/nearby?lat=28.6139&lng=77.2090&radius_km=5", nil, "ops-1", models.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	decodeData(t, rec, &results)
	require.Len(t, results, 2)
}

func TestAlertHandlerAuditAndEvents(t *testing.T) {
	fx := newHandlerFixture(t)

	alert := createAlertViaHandler(t, fx, "requester-1", gin.H{
		"category": "accident",
		"urgency":  "medium",
		"lat":      28.6139,
		"lng":      77.2090,
	})

	rec := perform(t, fx.alertHandler.Cancel, http.MethodPost, "/api/alerts/"+alert.ID+"/cancel", nil, "requester-1", "", idParam(alert.ID))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = perform(t, fx.alertHandler.Audit, http.MethodGet, "/api/alerts/"+alert.ID+"/audit", nil, "requester-1", "", idParam(alert.ID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var records []models.AuditRecord
	decodeData(t, rec, &records)
	require.Len(t, records, 2)
	require.Equal(t, int64(1), records[0].Sequence)
	require.Equal(t, int64(2), records[1].Sequence)

	fx.fanout.Flush()

	rec = perform(t, fx.alertHandler.Events, http.MethodGet, "/api/alerts/"+alert.ID+"/events?after_version=1", nil, "requester-1", "", idParam(alert.ID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var events []models.NotificationEvent
	decodeData(t, rec, &events)
	require.Len(t, events, 1)
	require.Equal(t, int64(2), events[0].AlertVersionAtEmission)
}
