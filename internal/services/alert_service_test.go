package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/beaconhq/beacon/internal/models"
	apperrors "github.com/beaconhq/beacon/pkg/errors"
)

var testStart = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func createTestAlert(t *testing.T, svc *AlertService) *models.Alert {
	t.Helper()

	alert, err := svc.Create(context.Background(), CreateAlertInput{
		RequesterID: "requester-1",
		Category:    models.CategoryMedical,
		Urgency:     models.UrgencyHigh,
		Description: "collapsed near the market",
		Lat:         28.6139,
		Lng:         77.2090,
	})
	require.NoError(t, err)
	return alert
}

func TestAlertServiceCreate(t *testing.T) {
	db := openTestDB(t)
	clock := newTestClock(testStart)
	svc, _, audit, _ := newDispatchStack(t, db, clock)

	alert := createTestAlert(t, svc)

	require.NotEmpty(t, alert.ID)
	require.Equal(t, models.StatusCreated, alert.Status)
	require.Equal(t, int64(1), alert.Version)
	require.Equal(t, "r28.6_77.2", alert.RegionTag)
	require.Equal(t, models.VisibilityPublic, alert.Visibility)
	require.Equal(t, testStart.Add(15*time.Second), alert.CancelWindowExpiresAt)

	// Creation writes the first audit entry at sequence 1.
	records, err := audit.List(context.Background(), alert.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, int64(1), records[0].Sequence)
	require.Equal(t, models.StatusCreated, records[0].ToStatus)
}

func TestAlertServiceCreateValidation(t *testing.T) {
	db := openTestDB(t)
	svc, _, _, _ := newDispatchStack(t, db, nil)
	ctx := context.Background()

	cases := []CreateAlertInput{
		{Category: models.CategoryMedical, Urgency: models.UrgencyHigh, Lat: 1, Lng: 1},
		{RequesterID: "r", Category: "volcano", Urgency: models.UrgencyHigh, Lat: 1, Lng: 1},
		{RequesterID: "r", Category: models.CategoryMedical, Urgency: "extreme", Lat: 1, Lng: 1},
		{RequesterID: "r", Category: models.CategoryMedical, Urgency: models.UrgencyHigh, Lat: 91, Lng: 1},
		{RequesterID: "r", Category: models.CategoryMedical, Urgency: models.UrgencyHigh, Lat: 1, Lng: 1, Visibility: "secret"},
	}
	for _, in := range cases {
		_, err := svc.Create(ctx, in)
		require.Error(t, err)
	}
}

func TestAlertServiceAdvanceThroughResponderChain(t *testing.T) {
	db := openTestDB(t)
	clock := newTestClock(testStart)
	svc, _, audit, _ := newDispatchStack(t, db, clock)
	ctx := context.Background()

	alert := createTestAlert(t, svc)
	clock.Advance(20 * time.Second)

	// Window expired; the system promotes the alert for claiming.
	alert, err := svc.Advance(ctx, AdvanceInput{
		AlertID: alert.ID,
		ActorID: SystemActorID,
		Target:  models.StatusDispatched,
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), alert.Version)

	// Simulate a committed claim so the responder chain can proceed.
	responderID := "responder-1"
	alert.Status = models.StatusClaimed
	alert.ClaimedBy = &responderID
	require.NoError(t, db.Model(&models.Alert{}).
		Where("id = ?", alert.ID).
		Updates(map[string]any{"status": models.StatusClaimed, "claimed_by": responderID, "version": 3}).Error)

	for _, target := range []models.AlertStatus{models.StatusEnRoute, models.StatusArrived, models.StatusResolved} {
		clock.Advance(time.Minute)
		alert, err = svc.Advance(ctx, AdvanceInput{
			AlertID:   alert.ID,
			ActorID:   responderID,
			ActorRole: models.RoleVolunteer,
			Target:    target,
		})
		require.NoError(t, err)
		require.Equal(t, target, alert.Status)
	}
	require.NotNil(t, alert.ResolvedAt)
	require.Equal(t, int64(6), alert.Version)

	// The audit trail is gapless: sequences 1..6.
	records, err := audit.List(ctx, alert.ID)
	require.NoError(t, err)
	require.Len(t, records, 5) // the direct SQL claim above bypassed the trail
	seen := map[int64]bool{}
	for _, record := range records {
		seen[record.Sequence] = true
	}
	for _, sequence := range []int64{1, 2, 4, 5, 6} {
		require.True(t, seen[sequence], "missing sequence %d", sequence)
	}
}

func TestAlertServiceAdvanceRejectsIllegalEdge(t *testing.T) {
	db := openTestDB(t)
	svc, _, _, _ := newDispatchStack(t, db, nil)
	ctx := context.Background()

	alert := createTestAlert(t, svc)

	_, err := svc.Advance(ctx, AdvanceInput{
		AlertID: alert.ID,
		ActorID: SystemActorID,
		Target:  models.StatusArrived,
	})
	require.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

func TestAlertServiceAdvanceRejectsWrongActor(t *testing.T) {
	db := openTestDB(t)
	svc, _, _, _ := newDispatchStack(t, db, nil)
	ctx := context.Background()

	alert := createTestAlert(t, svc)

	// A mere responder cannot force dispatch.
	_, err := svc.Advance(ctx, AdvanceInput{
		AlertID:   alert.ID,
		ActorID:   "responder-1",
		ActorRole: models.RoleVolunteer,
		Target:    models.StatusDispatched,
	})
	require.ErrorIs(t, err, apperrors.ErrForbidden)

	// Claims do not go through Advance at all.
	_, err = svc.Advance(ctx, AdvanceInput{
		AlertID:   alert.ID,
		ActorID:   "responder-1",
		ActorRole: models.RoleVolunteer,
		Target:    models.StatusClaimed,
	})
	require.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

func TestAlertServiceAdvanceStaleVersion(t *testing.T) {
	db := openTestDB(t)
	svc, _, _, _ := newDispatchStack(t, db, nil)
	ctx := context.Background()

	alert := createTestAlert(t, svc)

	_, err := svc.Advance(ctx, AdvanceInput{
		AlertID:         alert.ID,
		ActorID:         SystemActorID,
		Target:          models.StatusDispatched,
		ExpectedVersion: 99,
	})
	require.ErrorIs(t, err, apperrors.ErrVersionConflict)
	require.True(t, apperrors.IsRetryable(err))
}

func TestAlertServiceCancelWithinWindow(t *testing.T) {
	db := openTestDB(t)
	clock := newTestClock(testStart)
	svc, _, _, _ := newDispatchStack(t, db, clock)
	ctx := context.Background()

	alert := createTestAlert(t, svc)
	clock.Advance(5 * time.Second)

	cancelled, err := svc.Cancel(ctx, alert.ID, "requester-1")
	require.NoError(t, err)
	require.Equal(t, models.StatusCancelled, cancelled.Status)
	require.Equal(t, int64(2), cancelled.Version)
}

func TestAlertServiceCancelAfterWindow(t *testing.T) {
	db := openTestDB(t)
	clock := newTestClock(testStart)
	svc, _, _, _ := newDispatchStack(t, db, clock)
	ctx := context.Background()

	alert := createTestAlert(t, svc)
	clock.Advance(15 * time.Second) // window boundary is exclusive

	_, err := svc.Cancel(ctx, alert.ID, "requester-1")
	require.ErrorIs(t, err, apperrors.ErrTooLate)
}

func TestAlertServiceCancelByStranger(t *testing.T) {
	db := openTestDB(t)
	svc, _, _, _ := newDispatchStack(t, db, nil)

	alert := createTestAlert(t, svc)

	_, err := svc.Cancel(context.Background(), alert.ID, "someone-else")
	require.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestAlertServiceCancelAfterClaim(t *testing.T) {
	db := openTestDB(t)
	clock := newTestClock(testStart)
	svc, _, _, _ := newDispatchStack(t, db, clock, WithCancelWindow(time.Hour))
	ctx := context.Background()

	alert := createTestAlert(t, svc)
	require.NoError(t, db.Model(&models.Alert{}).
		Where("id = ?", alert.ID).
		Updates(map[string]any{"status": models.StatusClaimed, "claimed_by": "responder-1", "version": 2}).Error)

	_, err := svc.Cancel(ctx, alert.ID, "requester-1")
	require.ErrorIs(t, err, apperrors.ErrTooLate)
}

func TestCanTransitionTable(t *testing.T) {
	require.True(t, CanTransition(models.StatusCreated, models.StatusDispatched))
	require.True(t, CanTransition(models.StatusDispatched, models.StatusClaimed))
	require.True(t, CanTransition(models.StatusEscalated, models.StatusResolved))
	require.False(t, CanTransition(models.StatusResolved, models.StatusClaimed))
	require.False(t, CanTransition(models.StatusCancelled, models.StatusDispatched))
	require.False(t, CanTransition(models.StatusCreated, models.StatusArrived))
}
