// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

package upload

import (
	"context"
	"time"

	"go.uber.org/zap"

	"geohub.io/geohub/internal/sync2"
	"geohub.io/geohub/pkg/utils"
)

// ReapExpired reclaims sessions that have been inactive longer than the
// session TTL, and persisted sessions whose metadata is already durable.
// In-flight backend multiparts of reclaimed sessions are aborted so the
// backend can drop their parts.
func (service *Service) ReapExpired(ctx context.Context, now time.Time) (err error) {
	defer mon.Task()(&ctx)(&err)

	ids, err := service.db.List(sessionsCollection, listLimit)
	if err != nil {
		return Error.Wrap(err)
	}

	var errlist []error
	for _, uploadID := range ids {
		if err := ctx.Err(); err != nil {
			errlist = append(errlist, err)
			break
		}
		if err := service.reap(ctx, uploadID, now); err != nil {
			errlist = append(errlist, err)
		}
	}
	return utils.CombineErrors(errlist...)
}

func (service *Service) reap(ctx context.Context, uploadID string, now time.Time) error {
	unlock := service.lock(uploadID)
	defer unlock()

	session, err := service.get(uploadID)
	if ErrNotFound.Has(err) {
		return nil
	}
	if err != nil {
		return err
	}

	if now.Sub(session.UpdatedAt) < service.config.SessionTTL {
		return nil
	}

	if session.State != StatePersisted && session.BackendID != "" {
		if err := service.backend.AbortMultipart(ctx, session.ObjectKey, session.BackendID); err != nil {
			return Error.Wrap(err)
		}
	}

	key := sessionKey(session.UID, session.DatasetName, session.Checksum)
	var ref sessionRef
	if err := service.db.Get(sessionKeysCollection, key, &ref); err == nil && ref.UploadID == uploadID {
		if err := service.db.Delete(sessionKeysCollection, key); err != nil {
			return Error.Wrap(err)
		}
	}
	if err := service.db.Delete(sessionsCollection, uploadID); err != nil {
		return Error.Wrap(err)
	}

	service.log.Info("upload session reaped",
		zap.String("upload", uploadID),
		zap.String("state", string(session.State)))
	return nil
}

// RunReaper scans for expired sessions on the configured interval until ctx
// is canceled.
func (service *Service) RunReaper(ctx context.Context) error {
	interval := service.config.ReapInterval
	if interval == 0 {
		interval = time.Hour
	}
	cycle := sync2.NewCycle(interval)
	return cycle.Run(ctx, func(ctx context.Context) error {
		if err := service.ReapExpired(ctx, service.now()); err != nil {
			service.log.Error("session reap failed", zap.Error(err))
		}
		return nil
	})
}
