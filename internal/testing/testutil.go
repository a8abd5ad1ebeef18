// Package testing provides test utilities for podwatch: goroutine-safe
// error collection, polling helpers and a fake vantage point.
package testing

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/multierr"
)

// =============================================================================
// Goroutine Errors
// =============================================================================

// GoroutineTest runs goroutines that report failures as errors.
//
// t.Fatal must not be called outside the test goroutine: it only exits the
// calling goroutine. Functions started with Go return an error instead, and
// Wait reports every collected error on the test goroutine.
//
//	gt := testing.NewGoroutineTestWithTimeout(t, 10*time.Second)
//	gt.Go(func() error { return sched.Run(ctx) })
//	...
//	sched.Stop()
//	gt.Wait()
type GoroutineTest struct {
	t      testing.TB
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu  sync.Mutex
	err error
}

// NewGoroutineTest creates a helper without a deadline.
func NewGoroutineTest(t testing.TB) *GoroutineTest {
	ctx, cancel := context.WithCancel(context.Background())
	return &GoroutineTest{t: t, ctx: ctx, cancel: cancel}
}

// NewGoroutineTestWithTimeout creates a helper whose Wait fails when the
// goroutines are still running after timeout.
func NewGoroutineTestWithTimeout(t testing.TB, timeout time.Duration) *GoroutineTest {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return &GoroutineTest{t: t, ctx: ctx, cancel: cancel}
}

// Go runs fn in a goroutine and records its error.
func (gt *GoroutineTest) Go(fn func() error) {
	gt.GoWithContext(func(context.Context) error { return fn() })
}

// GoWithContext runs fn with the helper's context, which is cancelled by
// Cancel, by Wait or when the timeout expires.
func (gt *GoroutineTest) GoWithContext(fn func(ctx context.Context) error) {
	gt.wg.Add(1)
	go func() {
		defer gt.wg.Done()
		if err := fn(gt.ctx); err != nil {
			gt.mu.Lock()
			gt.err = multierr.Append(gt.err, err)
			gt.mu.Unlock()
		}
	}()
}

// Wait blocks until every goroutine returned and fails the test on any
// recorded error.
func (gt *GoroutineTest) Wait() {
	gt.t.Helper()
	defer gt.cancel()

	done := make(chan struct{})
	go func() {
		gt.wg.Wait()
		close(done)
	}()

	var timeout <-chan time.Time
	if deadline, ok := gt.ctx.Deadline(); ok {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-done:
	case <-timeout:
		gt.t.Errorf("goroutines still running at deadline")
		gt.t.FailNow()
		return
	}

	gt.mu.Lock()
	errs := multierr.Errors(gt.err)
	gt.mu.Unlock()

	if len(errs) == 0 {
		return
	}
	gt.t.Errorf("%d goroutine(s) failed:", len(errs))
	for i, err := range errs {
		gt.t.Errorf("  [%d] %v", i+1, err)
	}
	gt.t.FailNow()
}

// Context returns the helper's context.
func (gt *GoroutineTest) Context() context.Context {
	return gt.ctx
}

// Cancel cancels the helper's context.
func (gt *GoroutineTest) Cancel() {
	gt.cancel()
}

// =============================================================================
// Polling
// =============================================================================

// Eventually polls condition every interval until it holds or timeout
// passes.
//
//	err := testing.Eventually(5*time.Second, 10*time.Millisecond, func() bool {
//	    return sched.Stats().Cycles > 0
//	})
func Eventually(timeout, interval time.Duration, condition func() bool) error {
	if condition() {
		return nil
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-deadline.C:
			if condition() {
				return nil
			}
			return fmt.Errorf("condition not met within %v", timeout)
		case <-tick.C:
			if condition() {
				return nil
			}
		}
	}
}
