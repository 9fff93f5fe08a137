// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

package upload

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"geohub.io/geohub/pkg/chunker"
	"geohub.io/geohub/pkg/datasets"
	"geohub.io/geohub/pkg/metadb"
	"geohub.io/geohub/pkg/objectstore"
	"geohub.io/geohub/pkg/quota"
)

var mon = monkit.Package()

const (
	sessionsCollection    = "sessions"
	sessionKeysCollection = "sessionkeys"

	listLimit = 1000
)

// DefaultSessionTTL is how long an inactive session survives before the
// reaper reclaims it.
const DefaultSessionTTL = 24 * time.Hour

// Config configures the upload service.
type Config struct {
	// SessionTTL is the inactivity timeout of a session.
	SessionTTL time.Duration
	// ReapInterval is how often the reaper scans for expired sessions.
	ReapInterval time.Duration
}

// DefaultConfig returns the default upload service configuration.
func DefaultConfig() Config {
	return Config{
		SessionTTL:   DefaultSessionTTL,
		ReapInterval: time.Hour,
	}
}

// Service manages resumable upload sessions. Session state is durable in the
// document store, so a restarted process picks up where the last one left
// off. The per-session locks below only serialize writers within a process;
// cross-process safety comes from compare and swap on the session record.
type Service struct {
	log     *zap.Logger
	db      *metadb.DB
	store   *datasets.Store
	guard   *quota.Guard
	backend objectstore.Store
	config  Config

	mu    sync.Mutex
	locks map[string]*sessionLock

	now func() time.Time
}

// NewService creates an upload service.
func NewService(log *zap.Logger, db *metadb.DB, store *datasets.Store, guard *quota.Guard, backend objectstore.Store, config Config) *Service {
	if config.SessionTTL == 0 {
		config.SessionTTL = DefaultSessionTTL
	}
	return &Service{
		log:     log,
		db:      db,
		store:   store,
		guard:   guard,
		backend: backend,
		config:  config,
		locks:   map[string]*sessionLock{},
		now:     time.Now,
	}
}

// SetNowFunc overrides the clock, for tests.
func (service *Service) SetNowFunc(now func() time.Time) { service.now = now }

// sessionLock is a per-session mutex with a waiter count, so the map entry
// can be dropped exactly when the last holder lets go. Deleting the entry
// while a waiter still references the mutex would let a later caller mint a
// second mutex for the same session.
type sessionLock struct {
	sync.Mutex
	refs int
}

func (service *Service) lock(uploadID string) (unlock func()) {
	service.mu.Lock()
	lock, ok := service.locks[uploadID]
	if !ok {
		lock = &sessionLock{}
		service.locks[uploadID] = lock
	}
	lock.refs++
	service.mu.Unlock()

	lock.Lock()
	return func() {
		lock.Unlock()

		service.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(service.locks, uploadID)
		}
		service.mu.Unlock()
	}
}

func sessionKey(uid, name, checksum string) string {
	return uid + ":" + name + ":" + checksum
}

// sessionRef is the index document mapping (uid, name, checksum) to a
// session.
type sessionRef struct {
	UploadID string `json:"upload_id"`
}

// StartRequest asks for a new upload session or the resumption of an
// existing one with the same identity.
type StartRequest struct {
	UID         string
	Name        string
	Description string
	Tags        []string
	Filename    string
	Checksum    string
	TotalSize   int64
}

// StartOrResume returns the session for (uid, name, checksum). A live
// session with that identity is resumed as-is and is not charged against the
// quota again. Otherwise the quota guard must admit the ingestion and a
// fresh session is created with the chunk size the planner picks for the
// total size.
func (service *Service) StartOrResume(ctx context.Context, req StartRequest) (_ Session, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := datasets.ValidateName(req.Name); err != nil {
		return Session{}, err
	}
	if err := datasets.ValidateDescription(req.Description); err != nil {
		return Session{}, err
	}
	if req.TotalSize < 0 {
		return Session{}, Error.New("negative size %d", req.TotalSize)
	}

	key := sessionKey(req.UID, req.Name, req.Checksum)

	var ref sessionRef
	err = service.db.Get(sessionKeysCollection, key, &ref)
	if err == nil {
		session, err := service.get(ref.UploadID)
		if err == nil && session.State != StatePersisted {
			service.log.Info("upload session resumed",
				zap.String("upload", session.UploadID),
				zap.Int("received", len(session.Parts)))
			return session, nil
		}
		if err != nil && !ErrNotFound.Has(err) {
			return Session{}, err
		}
		// persisted or dangling; a fresh session takes over the key
		return service.create(ctx, req, key, true)
	}
	if !metadb.ErrNotFound.Has(err) {
		return Session{}, Error.Wrap(err)
	}

	return service.create(ctx, req, key, false)
}

func (service *Service) create(ctx context.Context, req StartRequest, key string, replaceRef bool) (Session, error) {
	if err := service.guard.Admit(ctx, req.UID); err != nil {
		return Session{}, err
	}

	datasetID, err := service.resolveDataset(ctx, req.UID, req.Name)
	if err != nil {
		return Session{}, err
	}

	now := service.now()
	session := Session{
		UploadID:    datasets.NewID(),
		UID:         req.UID,
		DatasetID:   datasetID,
		DatasetName: req.Name,
		Description: req.Description,
		Tags:        req.Tags,
		Filename:    req.Filename,
		Checksum:    req.Checksum,
		TotalSize:   req.TotalSize,
		ChunkSize:   chunker.Plan(req.TotalSize).Int64(),
		ObjectKey:   datasets.ObjectKey(datasetID, req.Checksum),
		Parts:       map[int]string{},
		State:       StateCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := service.db.ConditionalPut(sessionsCollection, session.UploadID, session); err != nil {
		return Session{}, Error.Wrap(err)
	}

	if replaceRef {
		err = service.db.Put(sessionKeysCollection, key, sessionRef{UploadID: session.UploadID})
	} else {
		err = service.db.ConditionalPut(sessionKeysCollection, key, sessionRef{UploadID: session.UploadID})
	}
	if metadb.ErrAlreadyExists.Has(err) {
		// lost the race; hand the winner's session back
		_ = service.db.Delete(sessionsCollection, session.UploadID)
		var ref sessionRef
		if err := service.db.Get(sessionKeysCollection, key, &ref); err != nil {
			return Session{}, Error.Wrap(err)
		}
		return service.get(ref.UploadID)
	}
	if err != nil {
		return Session{}, Error.Wrap(err)
	}

	backendID, err := service.backend.CreateMultipart(ctx, session.ObjectKey)
	if err != nil {
		return Session{}, Error.Wrap(err)
	}
	err = service.update(session.UploadID, &session, func() error {
		session.BackendID = backendID
		session.UpdatedAt = service.now()
		return nil
	})
	if err != nil {
		return Session{}, err
	}

	service.log.Info("upload session created",
		zap.String("upload", session.UploadID),
		zap.String("dataset", session.DatasetID),
		zap.Int64("size", session.TotalSize),
		zap.Int64("chunk", session.ChunkSize),
		zap.Int("parts", session.PartCount()))
	return session, nil
}

// resolveDataset returns the id an ingestion under name should write to: the
// existing dataset of the same owner, or a fresh id. Names held by other
// users are rejected before any byte moves.
func (service *Service) resolveDataset(ctx context.Context, uid, name string) (string, error) {
	ownerUID, taken, err := service.store.Owner(ctx, name)
	if err != nil {
		return "", err
	}
	if !taken {
		return datasets.NewID(), nil
	}
	if ownerUID != uid {
		return "", datasets.ErrAlreadyExists.New("%q", name)
	}
	existing, err := service.store.GetByName(ctx, name)
	if err != nil {
		return "", err
	}
	return existing.ID, nil
}

// Get returns the session with the given upload id.
func (service *Service) Get(ctx context.Context, uploadID string) (_ Session, err error) {
	defer mon.Task()(&ctx)(&err)
	return service.get(uploadID)
}

func (service *Service) get(uploadID string) (Session, error) {
	var session Session
	if err := service.db.Get(sessionsCollection, uploadID, &session); err != nil {
		if metadb.ErrNotFound.Has(err) {
			return Session{}, ErrNotFound.New("%q", uploadID)
		}
		return Session{}, Error.Wrap(err)
	}
	return session, nil
}

func (service *Service) update(uploadID string, session *Session, modify func() error) error {
	err := service.db.Update(sessionsCollection, uploadID, session, modify)
	if metadb.ErrNotFound.Has(err) {
		return ErrNotFound.New("%q", uploadID)
	}
	return Error.Wrap(err)
}

// UploadPart stores one part of a session. The bytes must match the declared
// checksum and the part's planned length. Re-sending a part that already
// arrived succeeds without a second backend write.
func (service *Service) UploadPart(ctx context.Context, uploadID string, partNumber int, data []byte, partChecksum string) (err error) {
	defer mon.Task()(&ctx)(&err)

	unlock := service.lock(uploadID)
	defer unlock()

	session, err := service.get(uploadID)
	if err != nil {
		return err
	}

	switch session.State {
	case StatePersisted:
		return Error.New("session %q is already persisted", uploadID)
	case StateFinalizing:
		return Error.New("session %q is finalizing", uploadID)
	}

	if chunker.Checksum(data) != partChecksum {
		return ErrChecksumMismatch.New("part %d of %q", partNumber, uploadID)
	}

	_, length, err := chunker.PartRange(session.TotalSize, session.ChunkSize, partNumber)
	if err != nil {
		return Error.Wrap(err)
	}
	if int64(len(data)) != length {
		return Error.New("part %d of %q has %d bytes, want %d", partNumber, uploadID, len(data), length)
	}

	if session.Received(partNumber) {
		return nil
	}

	backendID, err := service.ensureBackend(ctx, &session)
	if err != nil {
		return err
	}

	part, err := service.backend.PutPart(ctx, session.ObjectKey, backendID, partNumber, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Error.Wrap(err)
	}

	return service.update(uploadID, &session, func() error {
		if session.Parts == nil {
			session.Parts = map[int]string{}
		}
		session.Parts[partNumber] = part.ETag
		if session.State == StateCreated {
			session.State = StatePartsPending
		}
		session.UpdatedAt = service.now()
		return nil
	})
}

// ensureBackend creates the backend multipart upload when a crash between
// session creation and the id write left it missing.
func (service *Service) ensureBackend(ctx context.Context, session *Session) (string, error) {
	if session.BackendID != "" {
		return session.BackendID, nil
	}
	backendID, err := service.backend.CreateMultipart(ctx, session.ObjectKey)
	if err != nil {
		return "", Error.Wrap(err)
	}
	err = service.update(session.UploadID, session, func() error {
		if session.BackendID == "" {
			session.BackendID = backendID
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return session.BackendID, nil
}

// Complete assembles the object from the received parts and commits the
// dataset version. All parts must be present. A failure leaves the session
// in the failed state with its parts retained, so the client can retry.
// Completing an already persisted session returns the committed dataset
// again.
func (service *Service) Complete(ctx context.Context, uploadID string) (_ datasets.Dataset, err error) {
	defer mon.Task()(&ctx)(&err)

	unlock := service.lock(uploadID)
	defer unlock()

	session, err := service.get(uploadID)
	if err != nil {
		return datasets.Dataset{}, err
	}

	if session.State != StatePersisted {
		if missing := session.MissingParts(); len(missing) > 0 {
			return datasets.Dataset{}, ErrFinalize.New("session %q is missing parts %v", uploadID, missing)
		}

		err = service.update(uploadID, &session, func() error {
			session.State = StateFinalizing
			session.UpdatedAt = service.now()
			return nil
		})
		if err != nil {
			return datasets.Dataset{}, err
		}

		// the backend assembly already succeeded when the object etag is
		// recorded; a replayed finalize must not complete twice
		if session.ObjectETag == "" {
			ref, err := service.backend.CompleteMultipart(ctx, session.ObjectKey, session.BackendID, session.backendParts())
			if err != nil {
				return datasets.Dataset{}, service.fail(uploadID, &session, err)
			}
			err = service.update(uploadID, &session, func() error {
				session.ObjectETag = ref.ETag
				session.UpdatedAt = service.now()
				return nil
			})
			if err != nil {
				return datasets.Dataset{}, err
			}
		}
	}

	dataset, err := service.store.Commit(ctx, datasets.CommitRequest{
		UploadID:    session.UploadID,
		UID:         session.UID,
		DatasetID:   session.DatasetID,
		Name:        session.DatasetName,
		Description: session.Description,
		Tags:        session.Tags,
		Filename:    session.Filename,
		Checksum:    session.Checksum,
		Size:        session.TotalSize,
	})
	if err != nil {
		return datasets.Dataset{}, service.fail(uploadID, &session, err)
	}

	err = service.update(uploadID, &session, func() error {
		session.State = StatePersisted
		session.UpdatedAt = service.now()
		return nil
	})
	if err != nil {
		return datasets.Dataset{}, err
	}

	service.log.Info("upload session persisted",
		zap.String("upload", session.UploadID),
		zap.String("dataset", dataset.ID))
	return dataset, nil
}

func (service *Service) fail(uploadID string, session *Session, cause error) error {
	err := service.update(uploadID, session, func() error {
		session.State = StateFailed
		session.UpdatedAt = service.now()
		return nil
	})
	if err != nil {
		service.log.Error("failed to mark session failed",
			zap.String("upload", uploadID), zap.Error(err))
	}
	return Error.Wrap(cause)
}

func (session *Session) backendParts() []objectstore.Part {
	parts := make([]objectstore.Part, 0, len(session.Parts))
	for number, etag := range session.Parts {
		_, length, err := chunker.PartRange(session.TotalSize, session.ChunkSize, number)
		if err != nil {
			continue
		}
		parts = append(parts, objectstore.Part{
			Number: number,
			ETag:   etag,
			Size:   length,
		})
	}
	sort.Slice(parts, func(i, k int) bool { return parts[i].Number < parts[k].Number })
	return parts
}

// DirectRequest describes a small-file ingestion that skips sessions.
type DirectRequest struct {
	UID         string
	Name        string
	Description string
	Tags        []string
	Filename    string
	Checksum    string
	Data        []byte
}

// IngestDirect stores a small file in a single write and commits it through
// the same quota, validation and commit pipeline as sessions.
func (service *Service) IngestDirect(ctx context.Context, req DirectRequest) (_ datasets.Dataset, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := datasets.ValidateName(req.Name); err != nil {
		return datasets.Dataset{}, err
	}
	if err := datasets.ValidateDescription(req.Description); err != nil {
		return datasets.Dataset{}, err
	}
	if chunker.Checksum(req.Data) != req.Checksum {
		return datasets.Dataset{}, ErrChecksumMismatch.New("%q", req.Filename)
	}

	if err := service.guard.Admit(ctx, req.UID); err != nil {
		return datasets.Dataset{}, err
	}

	datasetID, err := service.resolveDataset(ctx, req.UID, req.Name)
	if err != nil {
		return datasets.Dataset{}, err
	}

	key := datasets.ObjectKey(datasetID, req.Checksum)
	if _, err := service.backend.PutObject(ctx, key, bytes.NewReader(req.Data), int64(len(req.Data))); err != nil {
		return datasets.Dataset{}, Error.Wrap(err)
	}

	return service.store.Commit(ctx, datasets.CommitRequest{
		UploadID:    datasets.NewID(),
		UID:         req.UID,
		DatasetID:   datasetID,
		Name:        req.Name,
		Description: req.Description,
		Tags:        req.Tags,
		Filename:    req.Filename,
		Checksum:    req.Checksum,
		Size:        int64(len(req.Data)),
	})
}
