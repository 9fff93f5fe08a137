// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

package usagedb_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geohub.io/geohub/internal/testcontext"
	"geohub.io/geohub/pkg/quota/usagedb"
)

func newDB(t *testing.T) *usagedb.DB {
	db, err := usagedb.OpenInMemory()
	require.NoError(t, err)
	return db
}

func TestAddAndCount(t *testing.T) {
	db := newDB(t)
	defer func() { require.NoError(t, db.Close()) }()

	now := time.Now()

	inserted, err := db.Add(usagedb.Record{
		UID: "user-1", Event: usagedb.EventDatasetIngested,
		UploadID: "up-1", CreatedAt: now,
	})
	require.NoError(t, err)
	assert.True(t, inserted)

	// replaying the same upload id is a no-op
	inserted, err = db.Add(usagedb.Record{
		UID: "user-1", Event: usagedb.EventDatasetIngested,
		UploadID: "up-1", CreatedAt: now,
	})
	require.NoError(t, err)
	assert.False(t, inserted)

	count, err := db.CountSince("user-1", usagedb.EventDatasetIngested, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = db.CountSince("user-1", usagedb.EventDatasetIngested, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	count, err = db.CountSince("user-2", usagedb.EventDatasetIngested, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestFindInRange(t *testing.T) {
	db := newDB(t)
	defer func() { require.NoError(t, db.Close()) }()

	base := time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, at := range []time.Time{base, base.Add(time.Hour), base.Add(48 * time.Hour)} {
		_, err := db.Add(usagedb.Record{
			UID: "user-1", Event: usagedb.EventDatasetIngested,
			UploadID: string(rune('a' + i)), CreatedAt: at,
		})
		require.NoError(t, err)
	}

	records, err := db.FindInRange("user-1", usagedb.EventDatasetIngested,
		base, base.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, base, records[0].CreatedAt)
	assert.Equal(t, base.Add(time.Hour), records[1].CreatedAt)
}

func TestOpenOnDisk(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	db, err := usagedb.Open(ctx.File("usage.db"))
	require.NoError(t, err)

	_, err = db.Add(usagedb.Record{
		UID: "user-1", Event: usagedb.EventDatasetIngested,
		UploadID: "up-disk", CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// reopen and verify the record survived
	db, err = usagedb.Open(ctx.File("usage.db"))
	require.NoError(t, err)
	defer ctx.Check(db.Close)

	count, err := db.CountSince("user-1", usagedb.EventDatasetIngested, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
