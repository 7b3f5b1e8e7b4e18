/*
Copyright 2025 The PTU Reconciler Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package retry provides a bounded-retry executor with error-kind
// classification. It is the only place in the system that sleeps; all sleeps
// block the invocation synchronously.
package retry

import (
	"time"

	"k8s.io/klog/v2"
	"k8s.io/utils/clock"

	"github.com/azureops/ptu-reconciler/pkg/cloud"
	"github.com/azureops/ptu-reconciler/pkg/monitor"
)

// Policy governs one executor invocation. Attempt counting is 1-indexed.
type Policy struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
	NonRetryable  []cloud.Kind
}

// DefaultNonRetryable is the canonical set of classifications for which a
// retry is known to be futile.
var DefaultNonRetryable = []cloud.Kind{
	cloud.KindBadRequest,
	cloud.KindAuthentication,
	cloud.KindAuthorization,
	cloud.KindNotFound,
	cloud.KindResourceNotFound,
	cloud.KindQuotaExceeded,
}

// DefaultPolicy returns the standard policy: 3 attempts, 2s initial delay
// doubling up to 30s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   3,
		InitialDelay:  2 * time.Second,
		BackoffFactor: 2,
		MaxDelay:      30 * time.Second,
		NonRetryable:  DefaultNonRetryable,
	}
}

func (p Policy) retryable(err error) bool {
	kind := cloud.KindOf(err)
	for _, k := range p.NonRetryable {
		if kind == k {
			return false
		}
	}
	return true
}

// Executor runs actions under a Policy.
type Executor struct {
	clock clock.Clock
}

// NewExecutor returns an Executor backed by the real clock.
func NewExecutor() *Executor {
	return &Executor{clock: clock.RealClock{}}
}

// NewExecutorWithClock returns an Executor sleeping on the given clock.
func NewExecutorWithClock(c clock.Clock) *Executor {
	return &Executor{clock: c}
}

// Do attempts fn up to policy.MaxAttempts times. Failures matching the
// policy's non-retryable set are returned immediately; otherwise the executor
// sleeps for the current delay, doubles it up to MaxDelay, and retries. When
// attempts are exhausted the last failure is returned unchanged.
func Do[T any](e *Executor, operation string, policy Policy, fn func() (T, error)) (T, error) {
	var zero T
	delay := policy.InitialDelay
	for attempt := 1; ; attempt++ {
		if attempt > 1 {
			klog.InfoS("Retrying operation", "operation", operation, "attempt", attempt)
			monitor.RetryAttempts.WithLabelValues(operation).Inc()
		}
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if !policy.retryable(err) {
			klog.V(3).InfoS("Operation failed with non-retryable classification",
				"operation", operation, "attempt", attempt, "kind", cloud.KindOf(err))
			return zero, err
		}
		if attempt >= policy.MaxAttempts {
			klog.ErrorS(err, "Operation failed after exhausting attempts",
				"operation", operation, "attempts", attempt)
			return zero, err
		}
		klog.V(3).InfoS("Operation failed, backing off",
			"operation", operation, "attempt", attempt, "delay", delay, "error", err)
		e.clock.Sleep(delay)
		delay = time.Duration(float64(delay) * policy.BackoffFactor)
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
}

// DoVoid runs an action that returns no value under the same policy.
func DoVoid(e *Executor, operation string, policy Policy, fn func() error) error {
	_, err := Do(e, operation, policy, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
