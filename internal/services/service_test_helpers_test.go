package services

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/beaconhq/beacon/internal/database"
	"github.com/beaconhq/beacon/internal/store"
)

// testClock is a mutable time source shared by the services under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start.UTC()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	// A named in-memory database keeps pooled connections on the same data
	// while isolating tests from each other.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// Serialise writes; shared-cache sqlite does not tolerate concurrent writers.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	require.NoError(t, database.AutoMigrate(db))
	return db
}

// newDispatchStack wires the lifecycle services over a fresh database.
func newDispatchStack(t *testing.T, db *gorm.DB, clock *testClock, opts ...AlertOption) (*AlertService, *store.AlertStore, *AuditTrail, *FanoutService) {
	t.Helper()

	alerts, err := store.NewAlertStore(db)
	require.NoError(t, err)

	audit, err := NewAuditTrail(db)
	require.NoError(t, err)

	fanout, err := NewFanoutService(db, nil)
	require.NoError(t, err)

	if clock != nil {
		opts = append(opts, WithClock(clock.Now))
	}
	svc, err := NewAlertService(alerts, audit, fanout, opts...)
	require.NoError(t, err)

	return svc, alerts, audit, fanout
}
