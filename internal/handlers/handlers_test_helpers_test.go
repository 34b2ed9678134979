package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/beaconhq/beacon/internal/cache"
	"github.com/beaconhq/beacon/internal/database"
	"github.com/beaconhq/beacon/internal/middleware"
	"github.com/beaconhq/beacon/internal/models"
	"github.com/beaconhq/beacon/internal/services"
	"github.com/beaconhq/beacon/internal/store"
	"github.com/beaconhq/beacon/pkg/response"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	require.NoError(t, database.AutoMigrate(db))
	return db
}

// handlerFixture wires the full dispatch stack behind the HTTP handlers.
type handlerFixture struct {
	db         *gorm.DB
	alerts     *services.AlertService
	claims     *services.ClaimService
	geo        *services.GeoService
	audit      *services.AuditTrail
	fanout     *services.FanoutService
	responders *services.ResponderService

	alertHandler     *AlertHandler
	responderHandler *ResponderHandler
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := openTestDB(t)

	alertStore, err := store.NewAlertStore(db)
	require.NoError(t, err)

	audit, err := services.NewAuditTrail(db)
	require.NoError(t, err)

	fanout, err := services.NewFanoutService(db, nil)
	require.NoError(t, err)

	alerts, err := services.NewAlertService(alertStore, audit, fanout)
	require.NoError(t, err)

	responders, err := services.NewResponderService(db,
		services.WithLocationSampling(cache.NewDatabaseStore(db), 0))
	require.NoError(t, err)

	geoSvc, err := services.NewGeoService(db, alertStore)
	require.NoError(t, err)

	claims, err := services.NewClaimService(alertStore, alerts, responders, geoSvc)
	require.NoError(t, err)

	alertHandler, err := NewAlertHandler(alerts, claims, geoSvc, audit, fanout)
	require.NoError(t, err)

	responderHandler, err := NewResponderHandler(responders, geoSvc)
	require.NoError(t, err)

	return &handlerFixture{
		db:               db,
		alerts:           alerts,
		claims:           claims,
		geo:              geoSvc,
		audit:            audit,
		fanout:           fanout,
		responders:       responders,
		alertHandler:     alertHandler,
		responderHandler: responderHandler,
	}
}

// perform invokes a handler with an authenticated test context.
func perform(t *testing.T, handler gin.HandlerFunc, method, target string, body any, userID string, role models.ResponderRole, params gin.Params) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Params = params
	c.Request = httptest.NewRequest(method, target, reader)
	c.Request.Header.Set("Content-Type", "application/json")
	if userID != "" {
		c.Set(middleware.CtxUserIDKey, userID)
	}
	if role != "" {
		c.Set(middleware.CtxRoleKey, string(role))
	}

	handler(c)
	return rec
}

// decodeData unmarshals the success envelope's data field into dest.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()

	var payload response.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.True(t, payload.Success, "expected success envelope, got %s", rec.Body.String())

	raw, err := json.Marshal(payload.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, dest))
}

func idParam(id string) gin.Params {
	return gin.Params{gin.Param{Key: "id", Value: id}}
}

func requireErrorCode(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()

	require.Equal(t, status, rec.Code, rec.Body.String())

	var payload response.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.False(t, payload.Success)
	require.NotNil(t, payload.Error)
	require.Equal(t, code, payload.Error.Code)
}
