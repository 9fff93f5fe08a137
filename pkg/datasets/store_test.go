// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

package datasets_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"geohub.io/geohub/internal/testcontext"
	"geohub.io/geohub/pkg/datasets"
	"geohub.io/geohub/pkg/metadb"
	"geohub.io/geohub/pkg/objectstore/testbackend"
	"geohub.io/geohub/pkg/quota"
	"geohub.io/geohub/pkg/quota/usagedb"
	"geohub.io/geohub/storage/teststore"
)

func newTestStore(t *testing.T) (*datasets.Store, *metadb.DB, *usagedb.DB, *testbackend.Store) {
	db := metadb.New(teststore.New())
	usage, err := usagedb.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = usage.Close() })

	backend := testbackend.New()
	store := datasets.NewStore(zaptest.NewLogger(t), db, usage, backend)
	return store, db, usage, backend
}

func commitRequest(uploadID string) datasets.CommitRequest {
	return datasets.CommitRequest{
		UploadID:    uploadID,
		UID:         "alice",
		DatasetID:   datasets.NewID(),
		Name:        "eurosat-rgb",
		Description: "sentinel-2 rgb patches",
		Tags:        []string{"sentinel"},
		Filename:    "eurosat.zip",
		Checksum:    "abc123",
		Size:        1024,
	}
}

func TestCommitCreatesDataset(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, _, usage, _ := newTestStore(t)

	req := commitRequest("upload-1")
	dataset, err := store.Commit(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, req.DatasetID, dataset.ID)
	assert.Equal(t, "alice", dataset.UID)
	require.Len(t, dataset.Versions, 1)
	assert.Equal(t, 1, dataset.Versions[0].ID)
	assert.Equal(t, "upload-1", dataset.Versions[0].SourceUpload)

	byName, err := store.GetByName(ctx, "eurosat-rgb")
	require.NoError(t, err)
	assert.Equal(t, dataset.ID, byName.ID)

	files, err := store.Files(ctx, dataset.ID)
	require.NoError(t, err)
	require.Len(t, files.Files, 1)
	assert.Equal(t, []int{1}, files.Files[0].Versions)

	count, err := usage.CountSince("alice", usagedb.EventDatasetIngested, dataset.CreatedAt.AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCommitAppendsVersion(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, db, _, _ := newTestStore(t)

	first := commitRequest("upload-1")
	created, err := store.Commit(ctx, first)
	require.NoError(t, err)

	second := commitRequest("upload-2")
	second.DatasetID = datasets.NewID() // ignored, the name resolves to the existing dataset
	second.Checksum = "def456"
	second.Size = 2048

	dataset, err := store.Commit(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, created.ID, dataset.ID)
	assert.Equal(t, 2, dataset.LatestVersion())

	var user quota.User
	require.NoError(t, db.Get("users", "alice", &user))
	assert.Equal(t, int64(2), user.DatasetCount)
}

func TestCommitReplayIsNoop(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, db, _, _ := newTestStore(t)

	req := commitRequest("upload-1")
	_, err := store.Commit(ctx, req)
	require.NoError(t, err)

	// a crash between finalize and acknowledgment replays the same commit
	dataset, err := store.Commit(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, dataset.LatestVersion())

	var user quota.User
	require.NoError(t, db.Get("users", "alice", &user))
	assert.Equal(t, int64(1), user.DatasetCount)

	files, err := store.Files(ctx, dataset.ID)
	require.NoError(t, err)
	require.Len(t, files.Files, 1)
	assert.Equal(t, []int{1}, files.Files[0].Versions)
}

func TestCommitDedupsFileByChecksum(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, _, _, _ := newTestStore(t)

	first := commitRequest("upload-1")
	created, err := store.Commit(ctx, first)
	require.NoError(t, err)

	// the same bytes uploaded again become a new version of the same file
	second := commitRequest("upload-2")
	_, err = store.Commit(ctx, second)
	require.NoError(t, err)

	files, err := store.Files(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, files.Files, 1)
	assert.Equal(t, []int{1, 2}, files.Files[0].Versions)
}

func TestCommitNameTakenByOtherUser(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, _, _, _ := newTestStore(t)

	_, err := store.Commit(ctx, commitRequest("upload-1"))
	require.NoError(t, err)

	req := commitRequest("upload-2")
	req.UID = "bob"
	_, err = store.Commit(ctx, req)
	assert.True(t, datasets.ErrAlreadyExists.Has(err))
}

func TestCommitRejectsInvalidMetadata(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, _, _, _ := newTestStore(t)

	req := commitRequest("upload-1")
	req.Name = "2bad"
	_, err := store.Commit(ctx, req)
	assert.True(t, datasets.ErrNameChars.Has(err))

	req = commitRequest("upload-2")
	req.Description = "tiny"
	_, err = store.Commit(ctx, req)
	assert.True(t, datasets.ErrDescriptionLength.Has(err))
}

func TestEdit(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, _, _, _ := newTestStore(t)

	created, err := store.Commit(ctx, commitRequest("upload-1"))
	require.NoError(t, err)

	edited, err := store.Edit(ctx, created.ID, "alice", "eurosat-v2", "updated description", []string{"rgb"})
	require.NoError(t, err)
	assert.Equal(t, "eurosat-v2", edited.Name)
	assert.Equal(t, "updated description", edited.Description)
	assert.Equal(t, []string{"rgb"}, edited.Tags)

	// old name is released, new name resolves
	_, err = store.GetByName(ctx, "eurosat-rgb")
	assert.True(t, datasets.ErrNotFound.Has(err))
	byName, err := store.GetByName(ctx, "eurosat-v2")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byName.ID)

	// only the owner can edit
	_, err = store.Edit(ctx, created.ID, "bob", "", "hijacked description", nil)
	assert.Error(t, err)
}

func TestEditNameConflict(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, _, _, _ := newTestStore(t)

	first, err := store.Commit(ctx, commitRequest("upload-1"))
	require.NoError(t, err)

	second := commitRequest("upload-2")
	second.Name = "other-name"
	_, err = store.Commit(ctx, second)
	require.NoError(t, err)

	_, err = store.Edit(ctx, first.ID, "alice", "other-name", "", nil)
	assert.True(t, datasets.ErrAlreadyExists.Has(err))
}

func TestDownloadPlan(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, _, _, backend := newTestStore(t)

	created, err := store.Commit(ctx, commitRequest("upload-1"))
	require.NoError(t, err)

	second := commitRequest("upload-2")
	second.DatasetID = created.ID
	second.Checksum = "def456"
	second.Filename = "eurosat-v2.zip"
	_, err = store.Commit(ctx, second)
	require.NoError(t, err)

	for _, checksum := range []string{"abc123", "def456"} {
		data := []byte("payload-" + checksum)
		_, err := backend.PutObject(ctx, datasets.ObjectKey(created.ID, checksum), bytes.NewReader(data), int64(len(data)))
		require.NoError(t, err)
	}

	// version 0 resolves to latest
	plan, err := store.DownloadPlan(ctx, created.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, plan.Version)
	require.Len(t, plan.Files, 1)
	assert.Equal(t, "eurosat-v2.zip", plan.Files[0].Filename)
	assert.NotEmpty(t, plan.Files[0].URL)

	plan, err = store.DownloadPlan(ctx, created.ID, 1)
	require.NoError(t, err)
	require.Len(t, plan.Files, 1)
	assert.Equal(t, "eurosat.zip", plan.Files[0].Filename)

	_, err = store.DownloadPlan(ctx, created.ID, 9)
	assert.True(t, datasets.ErrNotFound.Has(err))

	dataset, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), dataset.Downloads)
}

func TestCreateThenCommit(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, _, _, _ := newTestStore(t)

	created, err := store.Create(ctx, "alice", "eurosat-rgb", "sentinel-2 rgb patches", nil)
	require.NoError(t, err)
	assert.Empty(t, created.Versions)

	// the claimed name cannot be created twice
	_, err = store.Create(ctx, "bob", "eurosat-rgb", "someone else's copy", nil)
	assert.True(t, datasets.ErrAlreadyExists.Has(err))

	// the first ingestion becomes version 1 of the pre-created dataset
	dataset, err := store.Commit(ctx, commitRequest("upload-1"))
	require.NoError(t, err)
	assert.Equal(t, created.ID, dataset.ID)
	assert.Equal(t, 1, dataset.LatestVersion())
}

func TestLike(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, _, _, _ := newTestStore(t)

	created, err := store.Commit(ctx, commitRequest("upload-1"))
	require.NoError(t, err)

	require.NoError(t, store.Like(ctx, created.ID))
	require.NoError(t, store.Like(ctx, created.ID))

	dataset, err := store.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), dataset.Likes)

	assert.True(t, datasets.ErrNotFound.Has(store.Like(ctx, "missing")))
}

func TestListAndGetMissing(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	store, _, _, _ := newTestStore(t)

	_, err := store.Get(ctx, "missing")
	assert.True(t, datasets.ErrNotFound.Has(err))

	created, err := store.Commit(ctx, commitRequest("upload-1"))
	require.NoError(t, err)

	ids, err := store.List(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{created.ID}, ids)
}
