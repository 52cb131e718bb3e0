/*
 * Copyright 2026 NetSeer Contributors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package sched runs periodic worker cycles as explicit scheduled tasks.
// Each worker gets its own Runner and cancellation, so shutdown and tests
// can deterministically trigger a single cycle via RunOnce.
package sched

import (
	"context"
	"sync"
	"time"

	"github.com/netseer-io/netseer/pkg/logger"
)

// CycleFunc is one unit of periodic work. A returned error is logged and
// the next cycle proceeds independently; cycles never queue catch-up work.
type CycleFunc func(ctx context.Context) error

// Runner invokes a CycleFunc on a fixed interval with an optional per-cycle
// timeout.
type Runner struct {
	name      string
	interval  time.Duration
	timeout   time.Duration
	fn        CycleFunc
	clock     Clock
	logger    logger.Logger
	reloadCh  chan time.Duration
	done      chan struct{}
	closeOnce sync.Once
}

// NewRunner creates a runner. A nil clock defaults to the real clock. A
// zero timeout disables the per-cycle deadline.
func NewRunner(name string, interval, timeout time.Duration, fn CycleFunc, clock Clock, log logger.Logger) *Runner {
	if clock == nil {
		clock = RealClock{}
	}

	return &Runner{
		name:     name,
		interval: interval,
		timeout:  timeout,
		fn:       fn,
		clock:    clock,
		logger:   log,
		reloadCh: make(chan time.Duration, 1),
		done:     make(chan struct{}),
	}
}

// Start blocks, running one cycle immediately and then one per interval,
// until ctx is canceled or Stop is called.
func (r *Runner) Start(ctx context.Context) error {
	ticker := r.clock.Ticker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Str("task", r.name).Dur("interval", r.interval).Msg("Starting scheduled task")

	if err := r.RunOnce(ctx); err != nil {
		r.logger.Error().Err(err).Str("task", r.name).Msg("Cycle failed")
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
			return nil
		case <-ticker.Chan():
			if err := r.RunOnce(ctx); err != nil {
				r.logger.Error().Err(err).Str("task", r.name).Msg("Cycle failed")
			}
		case newInterval := <-r.reloadCh:
			ticker.Stop()
			ticker = r.clock.Ticker(newInterval)
			r.interval = newInterval
			r.logger.Info().Str("task", r.name).Dur("interval", newInterval).Msg("Interval hot-reloaded")
		}
	}
}

// RunOnce executes a single cycle under the per-cycle timeout. Exposed for
// tests and operator-triggered runs.
func (r *Runner) RunOnce(ctx context.Context) error {
	if r.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	return r.fn(ctx)
}

// SetInterval hot-reloads the tick interval for a running task.
func (r *Runner) SetInterval(d time.Duration) {
	select {
	case r.reloadCh <- d:
	default:
	}
}

// Stop terminates the loop. Safe to call more than once.
func (r *Runner) Stop() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
}
