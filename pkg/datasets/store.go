// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

package datasets

import (
	"context"
	"time"

	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"geohub.io/geohub/pkg/metadb"
	"geohub.io/geohub/pkg/objectstore"
	"geohub.io/geohub/pkg/quota"
	"geohub.io/geohub/pkg/quota/usagedb"
)

var mon = monkit.Package()

const (
	datasetsCollection = "datasets"
	namesCollection    = "datasetnames"
	filesCollection    = "files"
	usersCollection    = "users"
)

// Store persists dataset, version and file records and commits finalized
// ingestions.
type Store struct {
	log     *zap.Logger
	db      *metadb.DB
	usage   *usagedb.DB
	objects objectstore.Store

	// SignedURLExpiry bounds how long download links stay valid.
	SignedURLExpiry time.Duration

	now func() time.Time
}

// NewStore creates a dataset store.
func NewStore(log *zap.Logger, db *metadb.DB, usage *usagedb.DB, objects objectstore.Store) *Store {
	return &Store{
		log:             log,
		db:              db,
		usage:           usage,
		objects:         objects,
		SignedURLExpiry: time.Hour,
		now:             time.Now,
	}
}

// SetNowFunc overrides the clock, for tests.
func (store *Store) SetNowFunc(now func() time.Time) { store.now = now }

// nameIndex is the document behind the unique name constraint.
type nameIndex struct {
	DatasetID string `json:"dataset_id"`
	UID       string `json:"uid"`
}

// Create registers an empty dataset, claiming its name. The first committed
// ingestion becomes version 1.
func (store *Store) Create(ctx context.Context, uid, name, description string, tags []string) (_ Dataset, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := ValidateName(name); err != nil {
		return Dataset{}, err
	}
	if err := ValidateDescription(description); err != nil {
		return Dataset{}, err
	}

	now := store.now()
	dataset := Dataset{
		ID:          NewID(),
		UID:         uid,
		Name:        name,
		Description: description,
		Tags:        tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = store.db.ConditionalPut(namesCollection, name, nameIndex{
		DatasetID: dataset.ID,
		UID:       uid,
	})
	if metadb.ErrAlreadyExists.Has(err) {
		return Dataset{}, ErrAlreadyExists.New("%q", name)
	}
	if err != nil {
		return Dataset{}, Error.Wrap(err)
	}

	if err := store.db.Put(datasetsCollection, dataset.ID, dataset); err != nil {
		return Dataset{}, Error.Wrap(err)
	}
	return dataset, nil
}

// Get returns a dataset by id.
func (store *Store) Get(ctx context.Context, datasetID string) (_ Dataset, err error) {
	defer mon.Task()(&ctx)(&err)

	var dataset Dataset
	if err := store.db.Get(datasetsCollection, datasetID, &dataset); err != nil {
		if metadb.ErrNotFound.Has(err) {
			return Dataset{}, ErrNotFound.New("%q", datasetID)
		}
		return Dataset{}, Error.Wrap(err)
	}
	return dataset, nil
}

// GetByName returns a dataset by its unique name.
func (store *Store) GetByName(ctx context.Context, name string) (_ Dataset, err error) {
	defer mon.Task()(&ctx)(&err)

	var index nameIndex
	if err := store.db.Get(namesCollection, name, &index); err != nil {
		if metadb.ErrNotFound.Has(err) {
			return Dataset{}, ErrNotFound.New("%q", name)
		}
		return Dataset{}, Error.Wrap(err)
	}
	return store.Get(ctx, index.DatasetID)
}

// Owner returns who holds the given dataset name, when anyone does.
func (store *Store) Owner(ctx context.Context, name string) (uid string, taken bool, err error) {
	defer mon.Task()(&ctx)(&err)

	var index nameIndex
	err = store.db.Get(namesCollection, name, &index)
	if metadb.ErrNotFound.Has(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, Error.Wrap(err)
	}
	return index.UID, true, nil
}

// List returns up to limit dataset ids.
func (store *Store) List(ctx context.Context, limit int) (_ []string, err error) {
	defer mon.Task()(&ctx)(&err)
	return store.db.List(datasetsCollection, limit)
}

// Files returns the file set of a dataset.
func (store *Store) Files(ctx context.Context, datasetID string) (_ FileSet, err error) {
	defer mon.Task()(&ctx)(&err)

	var files FileSet
	if err := store.db.Get(filesCollection, datasetID, &files); err != nil {
		if metadb.ErrNotFound.Has(err) {
			return FileSet{DatasetID: datasetID}, nil
		}
		return FileSet{}, Error.Wrap(err)
	}
	return files, nil
}

// CommitRequest carries everything needed to turn a finalized upload into
// durable dataset metadata. The bytes are already durable in object storage
// when Commit runs.
type CommitRequest struct {
	UploadID    string
	UID         string
	DatasetID   string
	Name        string
	Description string
	Tags        []string
	Filename    string
	Checksum    string
	Size        int64
}

// Commit applies the finalize write: create the dataset with version 1 or
// append version max+1, upsert the file record by checksum, bump the user's
// dataset counter and append the usage record. The sequence is replay-safe
// keyed by upload id, so a crash mid-commit is repaired by running Commit
// again.
func (store *Store) Commit(ctx context.Context, req CommitRequest) (_ Dataset, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := ValidateName(req.Name); err != nil {
		return Dataset{}, err
	}
	if err := ValidateDescription(req.Description); err != nil {
		return Dataset{}, err
	}

	dataset, versionID, err := store.commitVersion(ctx, req)
	if err != nil {
		return Dataset{}, err
	}

	if err := store.upsertFile(dataset.ID, req, versionID); err != nil {
		return Dataset{}, err
	}

	if err := store.recordUsage(dataset.ID, req); err != nil {
		return Dataset{}, err
	}

	store.log.Info("dataset version committed",
		zap.String("dataset", dataset.ID),
		zap.String("name", dataset.Name),
		zap.Int("version", versionID),
		zap.Int64("size", req.Size))
	return dataset, nil
}

// commitVersion creates the dataset or appends the next version. Replayed
// upload ids return the already appended version.
func (store *Store) commitVersion(ctx context.Context, req CommitRequest) (Dataset, int, error) {
	ownerUID, taken, err := store.Owner(ctx, req.Name)
	if err != nil {
		return Dataset{}, 0, err
	}

	if !taken {
		now := store.now()
		dataset := Dataset{
			ID:          req.DatasetID,
			UID:         req.UID,
			Name:        req.Name,
			Description: req.Description,
			Tags:        req.Tags,
			Versions: []Version{{
				ID:           1,
				Size:         req.Size,
				SourceUpload: req.UploadID,
				CreatedAt:    now,
			}},
			CreatedAt: now,
			UpdatedAt: now,
		}

		err := store.db.ConditionalPut(namesCollection, req.Name, nameIndex{
			DatasetID: dataset.ID,
			UID:       req.UID,
		})
		if metadb.ErrAlreadyExists.Has(err) {
			// lost a race; fall through to the existing-dataset path
			return store.appendVersion(req)
		}
		if err != nil {
			return Dataset{}, 0, Error.Wrap(err)
		}

		if err := store.db.Put(datasetsCollection, dataset.ID, dataset); err != nil {
			return Dataset{}, 0, Error.Wrap(err)
		}
		return dataset, 1, nil
	}

	if ownerUID != req.UID {
		return Dataset{}, 0, ErrAlreadyExists.New("%q", req.Name)
	}
	return store.appendVersion(req)
}

func (store *Store) appendVersion(req CommitRequest) (Dataset, int, error) {
	var index nameIndex
	if err := store.db.Get(namesCollection, req.Name, &index); err != nil {
		return Dataset{}, 0, Error.Wrap(err)
	}
	if index.UID != req.UID {
		return Dataset{}, 0, ErrAlreadyExists.New("%q", req.Name)
	}

	var dataset Dataset
	versionID := 0
	err := store.db.Update(datasetsCollection, index.DatasetID, &dataset, func() error {
		for _, version := range dataset.Versions {
			if version.SourceUpload == req.UploadID {
				// already applied
				versionID = version.ID
				return nil
			}
		}
		versionID = dataset.LatestVersion() + 1
		dataset.Versions = append(dataset.Versions, Version{
			ID:           versionID,
			Size:         req.Size,
			SourceUpload: req.UploadID,
			CreatedAt:    store.now(),
		})
		dataset.UpdatedAt = store.now()
		return nil
	})
	if err != nil {
		return Dataset{}, 0, Error.Wrap(err)
	}
	return dataset, versionID, nil
}

// upsertFile adds the version number to an existing file with the same
// checksum and size, or appends a new file record. The bytes of a
// deduplicated file are stored once and referenced twice.
func (store *Store) upsertFile(datasetID string, req CommitRequest, versionID int) error {
	var files FileSet
	modify := func() error {
		files.DatasetID = datasetID
		for i := range files.Files {
			file := &files.Files[i]
			if file.Checksum == req.Checksum && file.Size == req.Size {
				for _, v := range file.Versions {
					if v == versionID {
						return nil
					}
				}
				file.Versions = append(file.Versions, versionID)
				return nil
			}
		}
		files.Files = append(files.Files, File{
			Name:     req.Filename,
			Size:     req.Size,
			Checksum: req.Checksum,
			Versions: []int{versionID},
		})
		return nil
	}

	err := store.db.Update(filesCollection, datasetID, &files, modify)
	if metadb.ErrNotFound.Has(err) {
		files = FileSet{DatasetID: datasetID}
		if err := modify(); err != nil {
			return err
		}
		err = store.db.ConditionalPut(filesCollection, datasetID, files)
		if metadb.ErrAlreadyExists.Has(err) {
			// concurrent first writer; retry as an update
			return Error.Wrap(store.db.Update(filesCollection, datasetID, &files, modify))
		}
	}
	return Error.Wrap(err)
}

// recordUsage appends the ingestion usage record and bumps the owner's
// dataset counter exactly once per upload id.
func (store *Store) recordUsage(datasetID string, req CommitRequest) error {
	inserted, err := store.usage.Add(usagedb.Record{
		UID:       req.UID,
		Event:     usagedb.EventDatasetIngested,
		UploadID:  req.UploadID,
		Payload:   datasetID,
		CreatedAt: store.now(),
	})
	if err != nil {
		return Error.Wrap(err)
	}
	if !inserted {
		return nil
	}

	if err := store.ensureUser(req.UID); err != nil {
		return err
	}
	return Error.Wrap(store.db.IncrementCounter(usersCollection, req.UID, "dataset_count", 1))
}

func (store *Store) ensureUser(uid string) error {
	var user quota.User
	err := store.db.Get(usersCollection, uid, &user)
	if metadb.ErrNotFound.Has(err) {
		err = store.db.ConditionalPut(usersCollection, uid, quota.User{UID: uid})
		if metadb.ErrAlreadyExists.Has(err) {
			return nil
		}
	}
	return Error.Wrap(err)
}

// Edit lets the owner change name, description and tags. Empty fields are
// left untouched.
func (store *Store) Edit(ctx context.Context, datasetID, uid, name, description string, tags []string) (_ Dataset, err error) {
	defer mon.Task()(&ctx)(&err)

	if name != "" {
		if err := ValidateName(name); err != nil {
			return Dataset{}, err
		}
	}
	if description != "" {
		if err := ValidateDescription(description); err != nil {
			return Dataset{}, err
		}
	}

	current, err := store.Get(ctx, datasetID)
	if err != nil {
		return Dataset{}, err
	}
	if current.UID != uid {
		return Dataset{}, Error.New("dataset %q is not owned by %q", datasetID, uid)
	}

	if name != "" && name != current.Name {
		err := store.db.ConditionalPut(namesCollection, name, nameIndex{
			DatasetID: datasetID,
			UID:       uid,
		})
		if metadb.ErrAlreadyExists.Has(err) {
			return Dataset{}, ErrAlreadyExists.New("%q", name)
		}
		if err != nil {
			return Dataset{}, Error.Wrap(err)
		}
		if err := store.db.Delete(namesCollection, current.Name); err != nil {
			return Dataset{}, Error.Wrap(err)
		}
	}

	var dataset Dataset
	err = store.db.Update(datasetsCollection, datasetID, &dataset, func() error {
		if name != "" {
			dataset.Name = name
		}
		if description != "" {
			dataset.Description = description
		}
		if tags != nil {
			dataset.Tags = tags
		}
		dataset.UpdatedAt = store.now()
		return nil
	})
	if err != nil {
		return Dataset{}, Error.Wrap(err)
	}
	return dataset, nil
}

// Like bumps the dataset's like counter.
func (store *Store) Like(ctx context.Context, datasetID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	err = store.db.IncrementCounter(datasetsCollection, datasetID, "likes", 1)
	if metadb.ErrNotFound.Has(err) {
		return ErrNotFound.New("%q", datasetID)
	}
	return Error.Wrap(err)
}

// FilePlan is one downloadable file of a version.
type FilePlan struct {
	Filename string
	Size     int64
	URL      string
}

// Plan describes how to download one version of a dataset.
type Plan struct {
	DatasetID string
	Version   int
	Files     []FilePlan
}

// DownloadPlan resolves a version (latest when version is 0), returns signed
// URLs for its files and bumps the dataset download counter.
func (store *Store) DownloadPlan(ctx context.Context, datasetID string, version int) (_ Plan, err error) {
	defer mon.Task()(&ctx)(&err)

	dataset, err := store.Get(ctx, datasetID)
	if err != nil {
		return Plan{}, err
	}

	if version == 0 {
		version = dataset.LatestVersion()
	}
	if _, ok := dataset.VersionByID(version); !ok {
		return Plan{}, ErrNotFound.New("%q version %d", datasetID, version)
	}

	files, err := store.Files(ctx, datasetID)
	if err != nil {
		return Plan{}, err
	}

	plan := Plan{DatasetID: datasetID, Version: version}
	for _, file := range files.Files {
		for _, v := range file.Versions {
			if v != version {
				continue
			}
			url, err := store.objects.SignedURL(ctx, ObjectKey(datasetID, file.Checksum), store.SignedURLExpiry)
			if err != nil {
				return Plan{}, Error.Wrap(err)
			}
			plan.Files = append(plan.Files, FilePlan{
				Filename: file.Name,
				Size:     file.Size,
				URL:      url,
			})
			break
		}
	}

	if err := store.db.IncrementCounter(datasetsCollection, datasetID, "downloads", 1); err != nil {
		return Plan{}, Error.Wrap(err)
	}
	return plan, nil
}
