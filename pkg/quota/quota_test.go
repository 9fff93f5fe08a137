// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

package quota_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"geohub.io/geohub/pkg/metadb"
	"geohub.io/geohub/pkg/quota"
	"geohub.io/geohub/pkg/quota/usagedb"
	"geohub.io/geohub/storage/teststore"
)

func newGuard(t *testing.T, config quota.Config, cap int) (*quota.Guard, *usagedb.DB) {
	db := metadb.New(teststore.New())
	usage, err := usagedb.OpenInMemory()
	require.NoError(t, err)

	require.NoError(t, quota.SeedTier(db, quota.Tier{
		Name:   "free",
		Limits: quota.Limits{Datasets: quota.DatasetLimits{Upload: cap, Download: 100}},
	}))

	return quota.NewGuard(zap.NewNop(), db, usage, config), usage
}

func ingested(t *testing.T, usage *usagedb.DB, uid, uploadID string, at time.Time) {
	_, err := usage.Add(usagedb.Record{
		UID: uid, Event: usagedb.EventDatasetIngested,
		UploadID: uploadID, CreatedAt: at,
	})
	require.NoError(t, err)
}

func TestAdmitBoundary(t *testing.T) {
	ctx := context.Background()
	// cap of 3 admits a user with one prior ingestion (1+1 < 3) and denies
	// a user with two (2+1 >= 3)
	guard, usage := newGuard(t, quota.DefaultConfig(), 3)
	defer func() { require.NoError(t, usage.Close()) }()

	now := time.Now()
	ingested(t, usage, "under", "up-1", now.Add(-time.Hour))
	require.NoError(t, guard.Admit(ctx, "under"))

	ingested(t, usage, "at-cap", "up-2", now.Add(-2*time.Hour))
	ingested(t, usage, "at-cap", "up-3", now.Add(-time.Hour))
	err := guard.Admit(ctx, "at-cap")
	require.Error(t, err)
	assert.True(t, quota.ErrTierLimit.Has(err))

	cap, ok := quota.DeniedCap(err)
	require.True(t, ok)
	assert.Equal(t, 3, cap)
}

func TestRollingWindow(t *testing.T) {
	ctx := context.Background()
	guard, usage := newGuard(t, quota.Config{Window: quota.WindowRolling}, 2)
	defer func() { require.NoError(t, usage.Close()) }()

	now := time.Date(2023, 6, 15, 3, 0, 0, 0, time.UTC)
	guard.SetNowFunc(func() time.Time { return now })

	// yesterday evening is still inside the trailing 24h
	ingested(t, usage, "user", "up-1", now.Add(-10*time.Hour))
	err := guard.Admit(ctx, "user")
	assert.True(t, quota.ErrTierLimit.Has(err))
}

func TestCalendarWindow(t *testing.T) {
	ctx := context.Background()
	guard, usage := newGuard(t, quota.Config{Window: quota.WindowCalendar}, 2)
	defer func() { require.NoError(t, usage.Close()) }()

	now := time.Date(2023, 6, 15, 3, 0, 0, 0, time.UTC)
	guard.SetNowFunc(func() time.Time { return now })

	// yesterday evening is before midnight UTC, so it does not count
	ingested(t, usage, "user", "up-1", now.Add(-10*time.Hour))
	require.NoError(t, guard.Admit(ctx, "user"))

	// one more today reaches the cap
	ingested(t, usage, "user", "up-2", now.Add(-time.Hour))
	err := guard.Admit(ctx, "user")
	assert.True(t, quota.ErrTierLimit.Has(err))
}

func TestCustomTier(t *testing.T) {
	ctx := context.Background()

	db := metadb.New(teststore.New())
	require.NoError(t, quota.SeedTier(db, quota.Tier{
		Name:   "free",
		Limits: quota.Limits{Datasets: quota.DatasetLimits{Upload: 2}},
	}))
	require.NoError(t, quota.SeedTier(db, quota.Tier{
		Name:   "pro",
		Limits: quota.Limits{Datasets: quota.DatasetLimits{Upload: 100}},
	}))
	require.NoError(t, db.Put("users", "alice", quota.User{UID: "alice", Tier: "pro"}))

	usage, err := usagedb.OpenInMemory()
	require.NoError(t, err)
	defer func() { require.NoError(t, usage.Close()) }()

	guard := quota.NewGuard(zap.NewNop(), db, usage, quota.DefaultConfig())

	// two ingestions would exhaust the free tier, but alice is pro
	ingested(t, usage, "alice", "up-1", time.Now().Add(-time.Hour))
	ingested(t, usage, "alice", "up-2", time.Now().Add(-time.Hour))
	require.NoError(t, guard.Admit(ctx, "alice"))
}
