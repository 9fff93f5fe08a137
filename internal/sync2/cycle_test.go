// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

package sync2_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"geohub.io/geohub/internal/sync2"
)

func TestCycle(t *testing.T) {
	t.Parallel()

	var count int64
	cycle := sync2.NewCycle(time.Hour)

	done := make(chan error, 1)
	go func() {
		done <- cycle.Run(context.Background(), func(ctx context.Context) error {
			atomic.AddInt64(&count, 1)
			return nil
		})
	}()

	// wait for the immediate first run
	for atomic.LoadInt64(&count) == 0 {
		time.Sleep(time.Millisecond)
	}

	cycle.TriggerWait()
	assert.Equal(t, int64(2), atomic.LoadInt64(&count))

	cycle.Stop()
	require.NoError(t, <-done)
}

func TestCycleCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cycle := sync2.NewCycle(time.Hour)

	done := make(chan error, 1)
	go func() {
		done <- cycle.Run(ctx, func(ctx context.Context) error { return nil })
	}()

	cancel()
	assert.Equal(t, context.Canceled, <-done)
}
