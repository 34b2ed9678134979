package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/beaconhq/beacon/internal/models"
)

type captureBroadcaster struct {
	mu       sync.Mutex
	failures int
	events   []*models.NotificationEvent
	regions  []string
	targets  [][]string
}

func (b *captureBroadcaster) Publish(event *models.NotificationEvent, regionTag string, targets []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failures > 0 {
		b.failures--
		return errors.New("transport down")
	}
	b.events = append(b.events, event)
	b.regions = append(b.regions, regionTag)
	b.targets = append(b.targets, targets)
	return nil
}

func (b *captureBroadcaster) delivered() []*models.NotificationEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*models.NotificationEvent(nil), b.events...)
}

func testFanoutAlert() *models.Alert {
	alert := &models.Alert{
		RequesterID: "requester-1",
		Category:    models.CategoryFire,
		Urgency:     models.UrgencyHigh,
		Lat:         28.6139,
		Lng:         77.2090,
		RegionTag:   "r28.6_77.2",
		Visibility:  models.VisibilityPublic,
		Status:      models.StatusCreated,
		Version:     1,
	}
	alert.ID = "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"
	return alert
}

func TestFanoutEmitPersistsAndDelivers(t *testing.T) {
	db := openTestDB(t)
	broadcaster := &captureBroadcaster{}
	svc, err := NewFanoutService(db, broadcaster)
	require.NoError(t, err)

	alert := testFanoutAlert()
	event, err := svc.Emit(context.Background(), EmitInput{
		Alert: alert,
		Kind:  models.EventCreated,
	})
	require.NoError(t, err)
	require.NotEmpty(t, event.ID)
	require.Equal(t, int64(1), event.AlertVersionAtEmission)

	svc.Flush()
	delivered := broadcaster.delivered()
	require.Len(t, delivered, 1)
	require.Equal(t, alert.ID, delivered[0].AlertID)
	require.Equal(t, "r28.6_77.2", broadcaster.regions[0])
}

func TestFanoutTargetsRequesterAndCandidates(t *testing.T) {
	db, geoSvc, _ := newGeoFixture(t)
	seedResponderAt(t, db, "candidate-1", 28.6139, 77.2090, true, testStart)
	seedResponderAt(t, db, "off-duty", 28.6139, 77.2090, false, testStart)

	broadcaster := &captureBroadcaster{}
	svc, err := NewFanoutService(db, broadcaster, WithCandidateSource(geoSvc))
	require.NoError(t, err)

	alert := testFanoutAlert()
	_, err = svc.Emit(context.Background(), EmitInput{
		Alert:    alert,
		Kind:     models.EventCreated,
		TargetID: alert.RequesterID,
	})
	require.NoError(t, err)

	svc.Flush()
	require.Len(t, broadcaster.targets, 1)
	require.Equal(t, []string{"requester-1", "candidate-1"}, broadcaster.targets[0])

	// Later lifecycle events go to the requester only; candidates already
	// know the alert from its own stream.
	alert.Status = models.StatusDispatched
	alert.Version = 2
	_, err = svc.Emit(context.Background(), EmitInput{
		Alert:    alert,
		Kind:     models.EventStatusChanged,
		TargetID: alert.RequesterID,
	})
	require.NoError(t, err)

	svc.Flush()
	require.Len(t, broadcaster.targets, 2)
	require.Equal(t, []string{"requester-1"}, broadcaster.targets[1])
}

func TestFanoutRetriesTransientFailures(t *testing.T) {
	db := openTestDB(t)
	broadcaster := &captureBroadcaster{failures: 2}
	svc, err := NewFanoutService(db, broadcaster, WithRetryPolicy(3, time.Millisecond))
	require.NoError(t, err)

	_, err = svc.Emit(context.Background(), EmitInput{
		Alert: testFanoutAlert(),
		Kind:  models.EventCreated,
	})
	require.NoError(t, err)

	svc.Flush()
	require.Len(t, broadcaster.delivered(), 1)
}

func TestFanoutDropsAfterRetryBudget(t *testing.T) {
	db := openTestDB(t)
	broadcaster := &captureBroadcaster{failures: 10}
	svc, err := NewFanoutService(db, broadcaster, WithRetryPolicy(2, time.Millisecond))
	require.NoError(t, err)

	event, err := svc.Emit(context.Background(), EmitInput{
		Alert: testFanoutAlert(),
		Kind:  models.EventCreated,
	})
	require.NoError(t, err)

	svc.Flush()
	require.Empty(t, broadcaster.delivered())

	// The event row survives even when live delivery is dropped.
	events, err := svc.ListSince(context.Background(), event.AlertID, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestFanoutListSinceFiltersByVersion(t *testing.T) {
	db := openTestDB(t)
	svc, err := NewFanoutService(db, nil)
	require.NoError(t, err)

	ctx := context.Background()
	alert := testFanoutAlert()

	for version := int64(1); version <= 3; version++ {
		alert.Version = version
		_, err := svc.Emit(ctx, EmitInput{Alert: alert, Kind: models.EventStatusChanged})
		require.NoError(t, err)
	}

	events, err := svc.ListSince(ctx, alert.ID, 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, int64(2), events[0].AlertVersionAtEmission)
	require.Equal(t, int64(3), events[1].AlertVersionAtEmission)
}
