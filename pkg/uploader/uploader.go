// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

// Package uploader implements the client side of chunked ingestion: it
// splits a file into the planned parts and pushes them in parallel.
package uploader

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"geohub.io/geohub/internal/sync2"
	"geohub.io/geohub/pkg/chunker"
	"geohub.io/geohub/pkg/datasets"
	"geohub.io/geohub/pkg/objectstore"
	"geohub.io/geohub/pkg/upload"
)

var mon = monkit.Package()

// Error is the uploader error class.
var Error = errs.Class("uploader error")

// Service is the part of the upload session manager the client talks to.
type Service interface {
	StartOrResume(ctx context.Context, req upload.StartRequest) (upload.Session, error)
	UploadPart(ctx context.Context, uploadID string, partNumber int, data []byte, partChecksum string) error
	Complete(ctx context.Context, uploadID string) (datasets.Dataset, error)
}

// Options carries the dataset metadata of one upload.
type Options struct {
	Name        string
	Description string
	Tags        []string
	// Filename overrides the base name of the uploaded path.
	Filename string
	// Progress is called with the byte count of every stored part.
	Progress func(bytes int64)
}

// Result reports what an upload achieved. MissingParts is empty on full
// success; otherwise the session is resumable and a rerun picks up the
// listed parts.
type Result struct {
	UploadID     string
	Dataset      datasets.Dataset
	MissingParts []int
}

// Uploader pushes files to an upload service in parallel parts.
type Uploader struct {
	log     *zap.Logger
	service Service

	// Transfers bounds how many parts are in flight at once.
	Transfers int
	// MaxRetries bounds attempts per part beyond the first.
	MaxRetries int
	// RetryBackoff is the pause between attempts of one part.
	RetryBackoff time.Duration
	// PartTimeout bounds one attempt of one part.
	PartTimeout time.Duration
}

// New creates an uploader with default tuning.
func New(log *zap.Logger, service Service) *Uploader {
	return &Uploader{
		log:          log,
		service:      service,
		Transfers:    runtime.NumCPU(),
		MaxRetries:   3,
		RetryBackoff: time.Second,
		PartTimeout:  10 * time.Minute,
	}
}

// Upload ingests the file at path as a dataset version. The content is
// checksummed first so that reruns resume the same session, then the missing
// parts are pushed by a bounded worker pool. A part failure never cancels
// the other parts.
func (uploader *Uploader) Upload(ctx context.Context, uid, path string, opts Options) (_ Result, err error) {
	defer mon.Task()(&ctx)(&err)

	checksum, err := chunker.FileChecksum(path)
	if err != nil {
		return Result{}, Error.Wrap(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return Result{}, Error.Wrap(err)
	}
	filename := opts.Filename
	if filename == "" {
		filename = filepath.Base(path)
	}

	session, err := uploader.service.StartOrResume(ctx, upload.StartRequest{
		UID:         uid,
		Name:        opts.Name,
		Description: opts.Description,
		Tags:        opts.Tags,
		Filename:    filename,
		Checksum:    checksum,
		TotalSize:   info.Size(),
	})
	if err != nil {
		return Result{}, err
	}

	missing := session.MissingParts()
	uploader.log.Debug("upload plan",
		zap.String("upload", session.UploadID),
		zap.Int("parts", session.PartCount()),
		zap.Int("missing", len(missing)))

	if len(missing) > 0 {
		failed, err := uploader.pushParts(ctx, session, path, missing, opts.Progress)
		if err != nil {
			return Result{UploadID: session.UploadID, MissingParts: missing}, err
		}
		if len(failed) > 0 {
			return Result{UploadID: session.UploadID, MissingParts: failed},
				Error.New("%d of %d parts failed", len(failed), session.PartCount())
		}
	}

	dataset, err := uploader.service.Complete(ctx, session.UploadID)
	if err != nil {
		return Result{UploadID: session.UploadID}, err
	}
	return Result{UploadID: session.UploadID, Dataset: dataset}, nil
}

// pushParts stores the given parts through a bounded worker pool and
// returns the parts that still failed after retries.
func (uploader *Uploader) pushParts(ctx context.Context, session upload.Session, path string, parts []int, progress func(int64)) ([]int, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { _ = file.Close() }()

	transfers := uploader.Transfers
	if transfers <= 0 {
		transfers = runtime.NumCPU()
	}
	limiter := sync2.NewLimiter(transfers)

	var mu sync.Mutex
	var failed []int

	for _, part := range parts {
		part := part
		started := limiter.Go(ctx, func() {
			if err := uploader.pushPart(ctx, session, file, part, progress); err != nil {
				uploader.log.Warn("part failed",
					zap.String("upload", session.UploadID),
					zap.Int("part", part),
					zap.Error(err))
				mu.Lock()
				failed = append(failed, part)
				mu.Unlock()
			}
		})
		if !started {
			mu.Lock()
			failed = append(failed, part)
			mu.Unlock()
		}
	}
	limiter.Wait()

	sort.Ints(failed)
	return failed, nil
}

// pushPart reads one part's range and uploads it with bounded retries. Both
// transient backend errors and checksum mismatches are retried; a mismatch
// means the read raced a concurrent change of the file, so a fresh read is
// worth a new attempt.
func (uploader *Uploader) pushPart(ctx context.Context, session upload.Session, file *os.File, part int, progress func(int64)) error {
	offset, length, err := chunker.PartRange(session.TotalSize, session.ChunkSize, part)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt <= uploader.MaxRetries; attempt++ {
		if attempt > 0 {
			if !sleep(ctx, uploader.RetryBackoff) {
				return ctx.Err()
			}
		}

		lastErr = uploader.attemptPart(ctx, session, file, part, offset, length)
		if lastErr == nil {
			if progress != nil {
				progress(length)
			}
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (uploader *Uploader) attemptPart(ctx context.Context, session upload.Session, file *os.File, part int, offset, length int64) error {
	if uploader.PartTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, uploader.PartTimeout)
		defer cancel()
	}

	data := make([]byte, length)
	if _, err := file.ReadAt(data, offset); err != nil {
		return Error.Wrap(err)
	}

	return uploader.service.UploadPart(ctx, session.UploadID, part, data, chunker.Checksum(data))
}

func retryable(err error) bool {
	return objectstore.IsTransient(err) || upload.ErrChecksumMismatch.Has(err)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
