// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

package uploader_test

import (
	"io/ioutil"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"geohub.io/geohub/internal/testcontext"
	"geohub.io/geohub/internal/testrand"
	"geohub.io/geohub/pkg/chunker"
	"geohub.io/geohub/pkg/datasets"
	"geohub.io/geohub/pkg/metadb"
	"geohub.io/geohub/pkg/objectstore/testbackend"
	"geohub.io/geohub/pkg/quota"
	"geohub.io/geohub/pkg/quota/usagedb"
	"geohub.io/geohub/pkg/upload"
	"geohub.io/geohub/pkg/uploader"
	"geohub.io/geohub/storage/teststore"
)

type testEnv struct {
	backend  *testbackend.Store
	service  *upload.Service
	uploader *uploader.Uploader
}

func newTestEnv(t *testing.T) *testEnv {
	db := metadb.New(teststore.New())

	usage, err := usagedb.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = usage.Close() })

	backend := testbackend.New()
	log := zaptest.NewLogger(t)
	store := datasets.NewStore(log, db, usage, backend)
	guard := quota.NewGuard(log, db, usage, quota.DefaultConfig())
	require.NoError(t, quota.SeedTier(db, quota.Tier{
		Name:   "free",
		Limits: quota.Limits{Datasets: quota.DatasetLimits{Upload: 10, Download: 100}},
	}))
	service := upload.NewService(log, db, store, guard, backend, upload.DefaultConfig())

	up := uploader.New(log, service)
	up.RetryBackoff = time.Millisecond
	return &testEnv{backend: backend, service: service, uploader: up}
}

func writeFile(ctx *testcontext.Context, t *testing.T, name string, content []byte) string {
	path := ctx.File("data", name)
	require.NoError(t, ioutil.WriteFile(path, content, 0600))
	return path
}

func options() uploader.Options {
	return uploader.Options{
		Name:        "eurosat-rgb",
		Description: "sentinel-2 rgb patches",
		Tags:        []string{"sentinel"},
	}
}

func TestUpload(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	env := newTestEnv(t)
	content := testrand.Bytes(512 << 10)
	path := writeFile(ctx, t, "eurosat.zip", content)

	var progressed int64
	opts := options()
	opts.Progress = func(n int64) { atomic.AddInt64(&progressed, n) }

	result, err := env.uploader.Upload(ctx, "alice", path, opts)
	require.NoError(t, err)
	assert.Empty(t, result.MissingParts)
	assert.Equal(t, 1, result.Dataset.LatestVersion())
	assert.Equal(t, int64(len(content)), atomic.LoadInt64(&progressed))

	stored, ok := env.backend.Object(datasets.ObjectKey(result.Dataset.ID, chunker.Checksum(content)))
	require.True(t, ok)
	assert.Equal(t, content, stored)
}

func TestUploadRetriesTransientFailures(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	env := newTestEnv(t)
	content := testrand.Bytes(64 << 10)
	path := writeFile(ctx, t, "eurosat.zip", content)

	env.backend.FailPutParts = 2

	result, err := env.uploader.Upload(ctx, "alice", path, options())
	require.NoError(t, err)
	assert.Empty(t, result.MissingParts)
	assert.Equal(t, 1, result.Dataset.LatestVersion())
}

func TestUploadPartialFailureResumes(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	env := newTestEnv(t)
	content := testrand.Bytes(64 << 10)
	path := writeFile(ctx, t, "eurosat.zip", content)

	// more failures than retries: the part is reported missing and the
	// session survives
	env.uploader.MaxRetries = 1
	env.backend.FailPutParts = 10

	result, err := env.uploader.Upload(ctx, "alice", path, options())
	require.Error(t, err)
	assert.Equal(t, []int{1}, result.MissingParts)

	// the rerun resumes the same session and succeeds
	env.backend.FailPutParts = 0
	env.uploader.MaxRetries = 3

	rerun, err := env.uploader.Upload(ctx, "alice", path, options())
	require.NoError(t, err)
	assert.Equal(t, result.UploadID, rerun.UploadID)
	assert.Empty(t, rerun.MissingParts)
	assert.Equal(t, 1, rerun.Dataset.LatestVersion())
}

func TestUploadMissingFile(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	env := newTestEnv(t)
	_, err := env.uploader.Upload(ctx, "alice", ctx.File("data", "nope.zip"), options())
	assert.True(t, uploader.Error.Has(err))
}

func TestUploadEmptyFile(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	env := newTestEnv(t)
	path := writeFile(ctx, t, "empty.zip", nil)

	result, err := env.uploader.Upload(ctx, "alice", path, options())
	require.NoError(t, err)
	assert.Empty(t, result.MissingParts)
	assert.Equal(t, 1, result.Dataset.LatestVersion())
}
