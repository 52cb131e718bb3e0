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

// Package presence derives online/offline state from snapshot history.
// State is always computed on demand, never stored, so a device's presence
// self-corrects as soon as fresh snapshots land.
package presence

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/netseer-io/netseer/pkg/db"
	"github.com/netseer-io/netseer/pkg/logger"
	"github.com/netseer-io/netseer/pkg/models"
	"github.com/netseer-io/netseer/pkg/sched"
)

// staleFactor: a device is offline once its newest sample is older than
// this many poll intervals, which tolerates exactly one missed poll.
const staleFactor = 2

// Tracker answers presence queries and runs a periodic sweep that logs
// state transitions across the whole registry.
type Tracker struct {
	store        db.Service
	clock        sched.Clock
	logger       logger.Logger
	pollInterval atomic.Int64

	// lastState is only touched by RunCycle; cycles never overlap.
	lastState map[string]string
}

// New creates a tracker. A nil clock defaults to the real clock.
func New(store db.Service, pollInterval time.Duration, clock sched.Clock, log logger.Logger) *Tracker {
	if clock == nil {
		clock = sched.RealClock{}
	}

	t := &Tracker{
		store:     store,
		clock:     clock,
		logger:    log,
		lastState: make(map[string]string),
	}
	t.pollInterval.Store(int64(pollInterval))

	return t
}

// SetPollInterval hot-reloads the staleness horizon. Callers reload it
// together with the collector interval so the two stay in lockstep.
func (t *Tracker) SetPollInterval(d time.Duration) {
	t.pollInterval.Store(int64(d))
}

func (t *Tracker) staleAfter() time.Duration {
	return staleFactor * time.Duration(t.pollInterval.Load())
}

// CurrentState computes a device's presence from its newest snapshot: online
// when that sample says online and is fresh, unknown when the device has no
// snapshot history at all, offline otherwise. A stale online sample means
// the collector lost sight of the device, so it reads as offline.
func (t *Tracker) CurrentState(ctx context.Context, mac string) (models.PresenceStatus, error) {
	status := models.PresenceStatus{DeviceMAC: mac, State: models.StateUnknown}

	latest, err := t.store.LatestSnapshot(ctx, mac)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return status, nil
		}

		return status, err
	}

	status.LastSample = latest.SampleTime
	status.State = models.StateOffline

	if latest.IsOnline {
		status.LastOnline = latest.SampleTime

		if t.clock.Now().Sub(latest.SampleTime) <= t.staleAfter() {
			status.State = models.StateOnline
		}
	}

	return status, nil
}

// SweepAll computes presence for every registered device.
func (t *Tracker) SweepAll(ctx context.Context) ([]models.PresenceStatus, error) {
	devices, err := t.store.AllDevices(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]models.PresenceStatus, 0, len(devices))

	for _, dev := range devices {
		status, err := t.CurrentState(ctx, dev.MAC)
		if err != nil {
			return nil, err
		}

		statuses = append(statuses, status)
	}

	return statuses, nil
}

// RunCycle sweeps the registry and logs every state transition since the
// previous sweep. This is where "phone left the house" becomes a log line.
func (t *Tracker) RunCycle(ctx context.Context) error {
	statuses, err := t.SweepAll(ctx)
	if err != nil {
		return err
	}

	current := make(map[string]string, len(statuses))

	for _, status := range statuses {
		current[status.DeviceMAC] = status.State

		prev, known := t.lastState[status.DeviceMAC]
		if known && prev != status.State {
			t.logger.Info().
				Str("mac", status.DeviceMAC).
				Str("from", prev).
				Str("to", status.State).
				Time("last_sample", status.LastSample).
				Msg("Presence transition")
		}
	}

	t.lastState = current

	return nil
}
