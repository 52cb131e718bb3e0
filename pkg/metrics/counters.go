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

// Package metrics holds the shared ingest counters. A single Counters
// instance is injected into every worker at construction so the health
// probe can take one process-wide snapshot without hidden singletons.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/netseer-io/netseer/pkg/models"
)

// Counters is safe for concurrent use by all workers.
type Counters struct {
	received         atomic.Int64
	parseErrors      atomic.Int64
	dropped          atomic.Int64
	batchesWritten   atomic.Int64
	batchesFailed    atomic.Int64
	batchesDiscarded atomic.Int64
	rowsWritten      atomic.Int64
	poolExhausted    atomic.Int64

	lastBatchNanos atomic.Int64
	lastWriteUnix  atomic.Int64
	lastPollUnix   atomic.Int64
	lastCorrUnix   atomic.Int64
}

func NewCounters() *Counters {
	return &Counters{}
}

func (c *Counters) IncReceived()           { c.received.Add(1) }
func (c *Counters) IncParseErrors()        { c.parseErrors.Add(1) }
func (c *Counters) AddDropped(n int64)     { c.dropped.Add(n) }
func (c *Counters) IncBatchesWritten()     { c.batchesWritten.Add(1) }
func (c *Counters) IncBatchesFailed()      { c.batchesFailed.Add(1) }
func (c *Counters) IncBatchesDiscarded()   { c.batchesDiscarded.Add(1) }
func (c *Counters) AddRowsWritten(n int64) { c.rowsWritten.Add(n) }
func (c *Counters) IncPoolExhausted()      { c.poolExhausted.Add(1) }
func (c *Counters) Dropped() int64         { return c.dropped.Load() }

func (c *Counters) ObserveBatch(d time.Duration) {
	c.lastBatchNanos.Store(int64(d))
}

func (c *Counters) MarkWriteSuccess(t time.Time) { c.lastWriteUnix.Store(t.UnixNano()) }
func (c *Counters) MarkPollSuccess(t time.Time)  { c.lastPollUnix.Store(t.UnixNano()) }
func (c *Counters) MarkCorrelation(t time.Time)  { c.lastCorrUnix.Store(t.UnixNano()) }

func (c *Counters) LastWriteSuccess() time.Time { return unixNano(c.lastWriteUnix.Load()) }
func (c *Counters) LastPollSuccess() time.Time  { return unixNano(c.lastPollUnix.Load()) }

// Snapshot captures every counter at one instant. Queue depth and capacity
// are supplied by the caller because the queue owns them.
func (c *Counters) Snapshot(queueDepth, queueCapacity int) models.MetricsSnapshot {
	return models.MetricsSnapshot{
		QueueDepth:        queueDepth,
		QueueCapacity:     queueCapacity,
		Received:          c.received.Load(),
		ParseErrors:       c.parseErrors.Load(),
		Dropped:           c.dropped.Load(),
		BatchesWritten:    c.batchesWritten.Load(),
		BatchesFailed:     c.batchesFailed.Load(),
		BatchesDiscarded:  c.batchesDiscarded.Load(),
		RowsWritten:       c.rowsWritten.Load(),
		PoolExhausted:     c.poolExhausted.Load(),
		LastBatchDuration: models.Duration(c.lastBatchNanos.Load()),
		LastWriteSuccess:  unixNano(c.lastWriteUnix.Load()),
		LastPollSuccess:   unixNano(c.lastPollUnix.Load()),
		LastCorrelation:   unixNano(c.lastCorrUnix.Load()),
	}
}

func unixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}

	return time.Unix(0, n)
}
