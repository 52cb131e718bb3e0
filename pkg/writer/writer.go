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

// Package writer drains the ingest queue into the persistence layer. It is
// the single consumer of the queue and the system's only write-contention
// point: syslog and device snapshots both land here.
package writer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/netseer-io/netseer/pkg/db"
	"github.com/netseer-io/netseer/pkg/logger"
	"github.com/netseer-io/netseer/pkg/metrics"
	"github.com/netseer-io/netseer/pkg/models"
	"github.com/netseer-io/netseer/pkg/queue"
	"github.com/netseer-io/netseer/pkg/sched"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 30 * time.Second
	defaultMaxRetries    = 3
	defaultRetryBackoff  = 100 * time.Millisecond
	maxDrain             = 1000
	shutdownDrainTimeout = 10 * time.Second
)

// Config for the batch writer.
type Config struct {
	BatchSize     int             `json:"batch_size"`
	FlushInterval models.Duration `json:"flush_interval"`
	MaxRetries    int             `json:"max_retries"`
	RetryBackoff  models.Duration `json:"retry_backoff"`
}

func (c *Config) Normalize() {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}

	if c.FlushInterval <= 0 {
		c.FlushInterval = models.Duration(defaultFlushInterval)
	}

	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}

	if c.RetryBackoff <= 0 {
		c.RetryBackoff = models.Duration(defaultRetryBackoff)
	}
}

// Writer drains the queue on a depth or time trigger and writes each drain
// as one transaction. Transient failures are retried with exponential
// backoff; an exhausted batch is carried over exactly once before being
// discarded (bounded loss, never an unbounded backlog).
type Writer struct {
	cfg      Config
	queue    *queue.Queue
	store    db.Service
	counters *metrics.Counters
	clock    sched.Clock
	logger   logger.Logger

	carry        []queue.Entry
	carryRetried bool

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a writer. A nil clock defaults to the real clock.
func New(cfg Config, q *queue.Queue, store db.Service, counters *metrics.Counters, clock sched.Clock, log logger.Logger) *Writer {
	cfg.Normalize()

	if clock == nil {
		clock = sched.RealClock{}
	}

	return &Writer{
		cfg:      cfg,
		queue:    q,
		store:    store,
		counters: counters,
		clock:    clock,
		logger:   log,
		done:     make(chan struct{}),
	}
}

// Start blocks on the drain loop until ctx is canceled or Stop is called.
// On shutdown it performs a final drain under its own timeout so queued
// entries are not silently lost.
func (w *Writer) Start(ctx context.Context) error {
	ticker := w.clock.Ticker(time.Duration(w.cfg.FlushInterval))
	defer ticker.Stop()

	w.logger.Info().
		Int("batch_size", w.cfg.BatchSize).
		Dur("flush_interval", time.Duration(w.cfg.FlushInterval)).
		Msg("Starting batch writer")

	for {
		select {
		case <-ctx.Done():
			w.finalDrain()
			return ctx.Err()
		case <-w.done:
			w.finalDrain()
			return nil
		case <-w.queue.Notify():
			if w.queue.Len() >= w.cfg.BatchSize {
				w.Drain(ctx)
			}
		case <-ticker.Chan():
			w.Drain(ctx)
		}
	}
}

// Stop terminates the loop after a final drain. Safe to call repeatedly.
func (w *Writer) Stop() {
	w.closeOnce.Do(func() {
		close(w.done)
	})
}

// Drain pops everything currently queued (bounded) plus any carried-over
// batch and writes it in one transaction. Exposed for deterministic tests.
func (w *Writer) Drain(ctx context.Context) {
	entries := w.carry
	w.carry = nil
	entries = append(entries, w.queue.PopBatch(maxDrain)...)

	if len(entries) == 0 {
		return
	}

	batch := buildBatch(entries)
	start := w.clock.Now()

	err := w.writeWithRetry(ctx, batch)

	elapsed := w.clock.Now().Sub(start)
	w.counters.ObserveBatch(elapsed)

	if err == nil {
		w.carryRetried = false
		w.counters.IncBatchesWritten()
		w.counters.AddRowsWritten(int64(batch.Size()))
		w.counters.MarkWriteSuccess(w.clock.Now())

		w.logger.Debug().
			Int("rows", batch.Size()).
			Dur("elapsed", elapsed).
			Msg("Batch committed")

		return
	}

	w.counters.IncBatchesFailed()

	// Requeue once; a batch that fails its second pass is dropped so a
	// poisoned or persistently failing write cannot grow an unbounded
	// backlog behind it.
	if !w.carryRetried {
		w.carry = entries
		w.carryRetried = true

		w.logger.Warn().Err(err).Int("rows", batch.Size()).Msg("Batch write failed, requeued for one more attempt")

		return
	}

	w.carryRetried = false
	w.counters.IncBatchesDiscarded()
	w.logger.Error().Err(err).Int("rows", batch.Size()).Msg("Batch discarded after repeated write failures")
}

func (w *Writer) writeWithRetry(ctx context.Context, batch *db.Batch) error {
	backoff := time.Duration(w.cfg.RetryBackoff)

	var err error

	for attempt := 1; attempt <= w.cfg.MaxRetries; attempt++ {
		err = w.store.WriteBatch(ctx, batch)
		if err == nil {
			return nil
		}

		if !db.IsTransient(err) || attempt == w.cfg.MaxRetries {
			return err
		}

		w.logger.Warn().Err(err).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("Transient write failure, backing off")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
	}

	return err
}

// finalDrain flushes what remains at shutdown under a fresh timeout, since
// the loop's context is already canceled.
func (w *Writer) finalDrain() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownDrainTimeout)
	defer cancel()

	for w.queue.Len() > 0 || len(w.carry) > 0 {
		before := w.queue.Len() + len(w.carry)

		w.Drain(ctx)

		if w.queue.Len()+len(w.carry) >= before {
			// No forward progress; give up rather than spin.
			return
		}
	}
}

// buildBatch groups entries by table, assigning message IDs here: the batch
// writer is the only creator of SyslogMessage rows. Devices are deduped per
// batch, keeping the latest sighting.
func buildBatch(entries []queue.Entry) *db.Batch {
	batch := &db.Batch{}
	seenDevices := make(map[string]int)

	for _, e := range entries {
		if e.Message != nil {
			if e.Message.ID == "" {
				e.Message.ID = uuid.NewString()
			}

			batch.Messages = append(batch.Messages, e.Message)
		}

		if e.Device != nil {
			if idx, ok := seenDevices[e.Device.MAC]; ok {
				if e.Device.LastSeen.After(batch.Devices[idx].LastSeen) {
					batch.Devices[idx] = e.Device
				}
			} else {
				seenDevices[e.Device.MAC] = len(batch.Devices)
				batch.Devices = append(batch.Devices, e.Device)
			}
		}

		if e.Snapshot != nil {
			batch.Snapshots = append(batch.Snapshots, e.Snapshot)
		}
	}

	return batch
}
