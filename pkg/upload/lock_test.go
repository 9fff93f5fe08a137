// Copyright (C) 2023 Geohub Labs.
// See LICENSE for copying information.

package upload

import (
	"runtime"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLockLifecycle(t *testing.T) {
	service := &Service{locks: map[string]*sessionLock{}}

	var active int32
	unlock := service.lock("upload")
	atomic.AddInt32(&active, 1)

	acquired := make(chan struct{})
	go func() {
		defer close(acquired)
		unlock := service.lock("upload")
		defer unlock()
		if n := atomic.AddInt32(&active, 1); n != 1 {
			t.Errorf("lock held by %d writers at once", n)
		}
		atomic.AddInt32(&active, -1)
	}()

	// wait until the second writer is registered as a waiter
	for {
		service.mu.Lock()
		refs := service.locks["upload"].refs
		service.mu.Unlock()
		if refs == 2 {
			break
		}
		runtime.Gosched()
	}

	// the map entry must survive while a waiter references it, so the
	// waiter wakes on the same mutex any later caller would find
	service.mu.Lock()
	held := service.locks["upload"]
	service.mu.Unlock()
	require.NotNil(t, held)

	atomic.AddInt32(&active, -1)
	unlock()
	<-acquired

	service.mu.Lock()
	remaining := len(service.locks)
	service.mu.Unlock()
	require.Equal(t, 0, remaining, "lock entries should be dropped once released")
}
