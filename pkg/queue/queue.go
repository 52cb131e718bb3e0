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

// Package queue implements the bounded in-memory ingest queue shared by the
// syslog service, the snapshot collector, and the batch writer. The
// backpressure policy is drop-oldest: producers never block and memory stays
// bounded; sustained overload shows up on the drop counter instead.
package queue

import (
	"sync"

	"github.com/netseer-io/netseer/pkg/models"
)

// Entry is one queued write. Exactly one of Message or Snapshot is set;
// snapshot entries carry the registry upsert for their device alongside.
type Entry struct {
	Message  *models.SyslogMessage
	Device   *models.Device
	Snapshot *models.DeviceSnapshot
}

// Queue is a fixed-capacity FIFO ring. All methods are safe for concurrent
// use. Push never blocks: when the ring is full the oldest entries are
// evicted to make room.
type Queue struct {
	mu       sync.Mutex
	buf      []Entry
	head     int
	count    int
	capacity int
	notify   chan struct{}
}

// New creates a queue with the given capacity. Capacity must be positive.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1
	}

	return &Queue{
		buf:      make([]Entry, capacity),
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Push appends an entry, evicting the oldest entry first if the ring is
// full. It returns the number of entries dropped (0 or 1).
func (q *Queue) Push(e Entry) int {
	q.mu.Lock()

	dropped := 0

	if q.count == q.capacity {
		// Overwrite the oldest slot.
		q.head = (q.head + 1) % q.capacity
		q.count--
		dropped = 1
	}

	tail := (q.head + q.count) % q.capacity
	q.buf[tail] = e
	q.count++

	q.mu.Unlock()

	// Coalesced wake-up for the single consumer.
	select {
	case q.notify <- struct{}{}:
	default:
	}

	return dropped
}

// PopBatch removes and returns up to max entries in arrival order. A max of
// zero or less drains the whole queue.
func (q *Queue) PopBatch(max int) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.count
	if max > 0 && n > max {
		n = max
	}

	if n == 0 {
		return nil
	}

	out := make([]Entry, n)

	for i := 0; i < n; i++ {
		idx := (q.head + i) % q.capacity
		out[i] = q.buf[idx]
		q.buf[idx] = Entry{}
	}

	q.head = (q.head + n) % q.capacity
	q.count -= n

	return out
}

// Len returns the current depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.count
}

// Cap returns the configured capacity.
func (q *Queue) Cap() int {
	return q.capacity
}

// Notify returns a channel that receives a coalesced signal after each
// Push. The batch writer selects on it next to its flush ticker.
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}
