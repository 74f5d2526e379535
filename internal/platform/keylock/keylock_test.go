// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package keylock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

/*
TestLocal_MutualExclusion verifies that holders of the same key never overlap.
*/
func TestLocal_MutualExclusion(t *testing.T) {
	locker := NewLocal()

	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), "user-1")
			if !assert.NoError(t, err) {
				return
			}

			current := atomic.AddInt32(&inside, 1)
			for {
				seen := atomic.LoadInt32(&maxInside)
				if current <= seen || atomic.CompareAndSwapInt32(&maxInside, seen, current) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}

	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, locker.size())
}

/*
TestLocal_IndependentKeys ensures distinct keys do not block each other.
*/
func TestLocal_IndependentKeys(t *testing.T) {
	locker := NewLocal()

	unlockA, err := locker.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	unlockB, err := locker.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

/*
TestLocal_ContextCancelled verifies that a waiter gives up cleanly.
*/
func TestLocal_ContextCancelled(t *testing.T) {
	locker := NewLocal()

	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = locker.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	assert.Equal(t, 0, locker.size())

	// Unlocking twice is harmless.
	unlock()
	assert.Equal(t, 0, locker.size())
}

/*
TestKeepAlive_RenewsUntilStopped checks that a held lease keeps being renewed
past several intervals and that renewal ends once the holder releases.
*/
func TestKeepAlive_RenewsUntilStopped(t *testing.T) {
	var renewals atomic.Int32
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		keepAlive(stop, 5*time.Millisecond, func() (bool, error) {
			renewals.Add(1)
			return true, nil
		}, func(err error) { t.Errorf("unexpected report: %v", err) })
	}()

	assert.Eventually(t, func() bool { return renewals.Load() >= 3 }, time.Second, 5*time.Millisecond)
	close(stop)
	<-done

	settled := renewals.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, settled, renewals.Load())
}

/*
TestKeepAlive_LostLeaseStops covers transient failures being retried and a
lost lease ending the loop.
*/
func TestKeepAlive_LostLeaseStops(t *testing.T) {
	var calls atomic.Int32
	var reported []error
	done := make(chan struct{})

	go func() {
		defer close(done)
		keepAlive(make(chan struct{}), time.Millisecond, func() (bool, error) {
			if calls.Add(1) == 1 {
				return true, errors.New("connection reset")
			}
			return false, nil
		}, func(err error) { reported = append(reported, err) })
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("keepAlive did not stop after losing the lease")
	}
	assert.Equal(t, int32(2), calls.Load())
	require.Len(t, reported, 2)
	assert.ErrorIs(t, reported[1], errLeaseLost)
}

/*
TestRedis_RenewalOutpacesLease pins the renewal cadence inside the lease.
*/
func TestRedis_RenewalOutpacesLease(t *testing.T) {
	locker := NewRedis(nil, "lock:", nil)
	assert.Less(t, locker.lease/renewDivisor, locker.lease)
	assert.GreaterOrEqual(t, renewDivisor, 2)
}
