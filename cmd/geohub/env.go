// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

package main

import (
	"context"
	"crypto/rand"
	"io/ioutil"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"geohub.io/geohub/pkg/auth"
	"geohub.io/geohub/pkg/datasets"
	"geohub.io/geohub/pkg/metadb"
	"geohub.io/geohub/pkg/objectstore/miniostore"
	"geohub.io/geohub/pkg/process"
	"geohub.io/geohub/pkg/quota"
	"geohub.io/geohub/pkg/quota/usagedb"
	"geohub.io/geohub/pkg/upload"
	"geohub.io/geohub/pkg/utils"
	"geohub.io/geohub/storage/boltdb"
)

func registerStoreFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("endpoint", "127.0.0.1:9000", "object storage endpoint")
	flags.String("access-key", "", "object storage access key")
	flags.String("secret-key", "", "object storage secret key")
	flags.String("bucket", "geohub", "object storage bucket")
	flags.String("region", "us-east-1", "object storage region")
	flags.Bool("secure", false, "use tls for object storage")
	flags.String("token", "", "access token")
}

// env bundles the single node wiring of the hub: bolt for metadata, sqlite
// for the usage log and minio compatible object storage for the bytes.
type env struct {
	log       *zap.Logger
	kv        *boltdb.Client
	usage     *usagedb.DB
	db        *metadb.DB
	store     *datasets.Store
	guard     *quota.Guard
	service   *upload.Service
	uid       string
	closables []func() error
}

func openEnv(ctx context.Context, cmd *cobra.Command) (*env, error) {
	log, err := process.NewLogger()
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	endpoint, _ := flags.GetString("endpoint")
	accessKey, _ := flags.GetString("access-key")
	secretKey, _ := flags.GetString("secret-key")
	bucket, _ := flags.GetString("bucket")
	region, _ := flags.GetString("region")
	secure, _ := flags.GetBool("secure")
	token, _ := flags.GetString("token")

	dir := process.ConfigDir()
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errs.Wrap(err)
	}

	uid, err := authenticate(ctx, dir, token)
	if err != nil {
		return nil, err
	}

	kv, err := boltdb.New(filepath.Join(dir, "metadata.db"), "documents")
	if err != nil {
		return nil, err
	}

	usage, err := usagedb.Open(filepath.Join(dir, "usage.db"))
	if err != nil {
		_ = kv.Close()
		return nil, err
	}

	backend, err := miniostore.New(log, miniostore.Config{
		Endpoint:  endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		Bucket:    bucket,
		Region:    region,
		Secure:    secure,
	})
	if err != nil {
		_ = usage.Close()
		_ = kv.Close()
		return nil, err
	}

	db := metadb.New(kv)
	if err := ensureDefaultTier(db); err != nil {
		_ = usage.Close()
		_ = kv.Close()
		return nil, err
	}

	store := datasets.NewStore(log, db, usage, backend)
	guard := quota.NewGuard(log, db, usage, quota.DefaultConfig())
	service := upload.NewService(log, db, store, guard, backend, upload.DefaultConfig())

	return &env{
		log:     log,
		kv:      kv,
		usage:   usage,
		db:      db,
		store:   store,
		guard:   guard,
		service: service,
		uid:     uid,
		closables: []func() error{
			usage.Close,
			kv.Close,
			log.Sync,
		},
	}, nil
}

func (env *env) close() error {
	var errlist []error
	for _, close := range env.closables {
		if err := close(); err != nil {
			errlist = append(errlist, err)
		}
	}
	return utils.CombineErrors(errlist...)
}

// ensureDefaultTier seeds the free tier on first run.
func ensureDefaultTier(db *metadb.DB) error {
	var tier quota.Tier
	err := db.Get("tiers", "free", &tier)
	if err == nil {
		return nil
	}
	if !metadb.ErrNotFound.Has(err) {
		return err
	}
	return quota.SeedTier(db, quota.Tier{
		Name:   "free",
		Limits: quota.Limits{Datasets: quota.DatasetLimits{Upload: 10, Download: 100}},
	})
}

// authenticate resolves the token flag against the locally stored key. An
// empty token maps to the local user, which keeps single user setups free of
// token juggling.
func authenticate(ctx context.Context, dir, token string) (string, error) {
	if token == "" {
		return "local", nil
	}
	key, err := loadOrCreateKey(filepath.Join(dir, "auth.key"))
	if err != nil {
		return "", err
	}
	return auth.NewTokenAuthenticator(key).Authenticate(ctx, token)
}

func loadOrCreateKey(path string) (*[32]byte, error) {
	var key [32]byte

	data, err := ioutil.ReadFile(path)
	if err == nil {
		if len(data) != len(key) {
			return nil, errs.New("malformed key file %q", path)
		}
		copy(key[:], data)
		return &key, nil
	}
	if !os.IsNotExist(err) {
		return nil, errs.Wrap(err)
	}

	if _, err := rand.Read(key[:]); err != nil {
		return nil, errs.Wrap(err)
	}
	if err := ioutil.WriteFile(path, key[:], 0600); err != nil {
		return nil, errs.Wrap(err)
	}
	return &key, nil
}

// signalContext cancels on interrupt or terminate.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-c:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(c)
	}()

	return ctx, cancel
}
