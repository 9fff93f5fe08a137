// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

// Package quota admits or rejects new ingestion sessions based on the
// caller's tier limits and its recent usage.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"geohub.io/geohub/internal/date"
	"geohub.io/geohub/pkg/metadb"
	"geohub.io/geohub/pkg/quota/usagedb"
)

var mon = monkit.Package()

// Error is the quota error class.
var Error = errs.Class("quota error")

// ErrTierLimit wraps admissions denied because the tier cap is reached.
var ErrTierLimit = errs.Class("tier limit error")

// Window selects how the daily usage window is computed.
type Window string

const (
	// WindowRolling counts usage in the trailing 24 hours.
	WindowRolling Window = "rolling"
	// WindowCalendar counts usage since midnight UTC.
	WindowCalendar Window = "calendar"
)

// Config configures the quota guard.
type Config struct {
	Window      Window
	DefaultTier string
}

// DefaultConfig uses a rolling 24 hour window and the free tier.
func DefaultConfig() Config {
	return Config{Window: WindowRolling, DefaultTier: "free"}
}

// Limits mirrors the numeric caps of a tier.
type Limits struct {
	Datasets DatasetLimits `json:"datasets"`
}

// DatasetLimits caps dataset operations per day.
type DatasetLimits struct {
	Upload   int `json:"upload"`
	Download int `json:"download"`
}

// Tier is a named quota class.
type Tier struct {
	Name   string `json:"name"`
	Limits Limits `json:"limits"`
}

// User is the stored account document.
type User struct {
	UID          string `json:"uid"`
	Tier         string `json:"tier"`
	DatasetCount int64  `json:"dataset_count"`
}

// LimitError carries the numeric cap that denied admission.
type LimitError struct {
	Cap int
}

// Error implements the error interface.
func (e *LimitError) Error() string {
	return fmt.Sprintf("you cannot ingest more than %d datasets per day", e.Cap)
}

// DeniedCap extracts the numeric cap from a tier limit error.
func DeniedCap(err error) (int, bool) {
	for err != nil {
		if limit, ok := err.(*LimitError); ok {
			return limit.Cap, true
		}
		err = errs.Unwrap(err)
	}
	return 0, false
}

// Guard performs admission checks for new ingestion sessions.
type Guard struct {
	log    *zap.Logger
	db     *metadb.DB
	usage  *usagedb.DB
	config Config
	now    func() time.Time
}

// NewGuard creates a quota guard.
func NewGuard(log *zap.Logger, db *metadb.DB, usage *usagedb.DB, config Config) *Guard {
	if config.Window == "" {
		config.Window = WindowRolling
	}
	if config.DefaultTier == "" {
		config.DefaultTier = "free"
	}
	return &Guard{
		log:    log,
		db:     db,
		usage:  usage,
		config: config,
		now:    time.Now,
	}
}

// SetNowFunc overrides the clock, for tests.
func (guard *Guard) SetNowFunc(now func() time.Time) { guard.now = now }

// windowStart returns the instant usage starts counting from.
func (guard *Guard) windowStart(now time.Time) time.Time {
	if guard.config.Window == WindowCalendar {
		return date.StartOfDay(now)
	}
	return date.StartOfRollingWindow(now, 24*time.Hour)
}

// Admit decides whether uid may start a new ingestion session. It runs once
// at session creation; resumed sessions are never re-admitted.
func (guard *Guard) Admit(ctx context.Context, uid string) (err error) {
	defer mon.Task()(&ctx)(&err)

	tier, err := guard.lookupTier(uid)
	if err != nil {
		return err
	}

	cap := tier.Limits.Datasets.Upload
	now := guard.now()
	count, err := guard.usage.CountSince(uid, usagedb.EventDatasetIngested, guard.windowStart(now))
	if err != nil {
		return Error.Wrap(err)
	}

	if count+1 >= cap {
		guard.log.Info("ingestion denied by tier limit",
			zap.String("uid", uid),
			zap.String("tier", tier.Name),
			zap.Int("cap", cap),
			zap.Int("used", count))
		return ErrTierLimit.Wrap(&LimitError{Cap: cap})
	}
	return nil
}

// lookupTier resolves the uid's tier document, falling back to the default
// tier for users without one.
func (guard *Guard) lookupTier(uid string) (Tier, error) {
	tierName := guard.config.DefaultTier

	var user User
	err := guard.db.Get("users", uid, &user)
	switch {
	case err == nil && user.Tier != "":
		tierName = user.Tier
	case err != nil && !metadb.ErrNotFound.Has(err):
		return Tier{}, Error.Wrap(err)
	}

	var tier Tier
	if err := guard.db.Get("tiers", tierName, &tier); err != nil {
		if metadb.ErrNotFound.Has(err) {
			return Tier{}, Error.New("tier %q not configured", tierName)
		}
		return Tier{}, Error.Wrap(err)
	}
	return tier, nil
}

// SeedTier stores a tier definition. Intended for setup and tests.
func SeedTier(db *metadb.DB, tier Tier) error {
	return db.Put("tiers", tier.Name, tier)
}
