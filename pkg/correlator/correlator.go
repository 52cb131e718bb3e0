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

// Package correlator links syslog messages to registry devices with a
// weighted heuristic over IP, hostname, and presence-transition evidence.
// Links are recomputable facts: the same window can be rescored at any time
// and upserts converge to the same rows.
package correlator

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/netseer-io/netseer/pkg/db"
	"github.com/netseer-io/netseer/pkg/logger"
	"github.com/netseer-io/netseer/pkg/metrics"
	"github.com/netseer-io/netseer/pkg/models"
	"github.com/netseer-io/netseer/pkg/sched"
)

const (
	defaultInterval = 5 * time.Minute
	defaultLookback = 15 * time.Minute
	defaultOverlap  = time.Minute
)

// Config for the correlation pass.
type Config struct {
	Interval  models.Duration `json:"interval"`
	Lookback  models.Duration `json:"lookback"`
	Overlap   models.Duration `json:"overlap"`
	Threshold float64         `json:"threshold"`
}

func (c *Config) Normalize() {
	if c.Interval <= 0 {
		c.Interval = models.Duration(defaultInterval)
	}

	if c.Lookback <= 0 {
		c.Lookback = models.Duration(defaultLookback)
	}

	if c.Overlap <= 0 {
		c.Overlap = models.Duration(defaultOverlap)
	}

	if c.Threshold <= 0 || c.Threshold > 1 {
		c.Threshold = DefaultThreshold
	}
}

// Correlator scores recent messages against recent device evidence. Each
// cycle covers (lastRun-overlap, now]; the overlap re-scores the previous
// window's tail so late-arriving snapshots can still upgrade a match.
type Correlator struct {
	cfg       Config
	store     db.Service
	counters  *metrics.Counters
	clock     sched.Clock
	logger    logger.Logger
	threshold atomic.Uint64 // math.Float64bits, hot-reloadable

	// lastRun is only touched by RunCycle; cycles never overlap.
	lastRun time.Time
}

// New creates a correlator. A nil clock defaults to the real clock.
func New(cfg Config, store db.Service, counters *metrics.Counters, clock sched.Clock, log logger.Logger) *Correlator {
	cfg.Normalize()

	if clock == nil {
		clock = sched.RealClock{}
	}

	c := &Correlator{
		cfg:      cfg,
		store:    store,
		counters: counters,
		clock:    clock,
		logger:   log,
	}
	c.threshold.Store(math.Float64bits(cfg.Threshold))

	return c
}

// SetThreshold hot-reloads the confidence floor. Values outside (0,1] are
// ignored.
func (c *Correlator) SetThreshold(v float64) {
	if v > 0 && v <= 1 {
		c.threshold.Store(math.Float64bits(v))
	}
}

func (c *Correlator) currentThreshold() float64 {
	return math.Float64frombits(c.threshold.Load())
}

// RunCycle scores one window of messages and persists, per message, the
// single best device at or above the threshold. A message below threshold
// for every device stays unlinked; a later pass may still claim it.
func (c *Correlator) RunCycle(ctx context.Context) error {
	now := c.clock.Now().UTC()

	since := c.lastRun.Add(-time.Duration(c.cfg.Overlap))
	if c.lastRun.IsZero() {
		since = now.Add(-time.Duration(c.cfg.Lookback))
	}

	messages, err := c.store.MessagesInRange(ctx, since, now)
	if err != nil {
		return err
	}

	if len(messages) == 0 {
		c.lastRun = now
		return nil
	}

	evidence, err := c.gatherEvidence(ctx, since, now)
	if err != nil {
		return err
	}

	var links []*models.SyslogDeviceCorrelation

	for _, msg := range messages {
		if best, confidence := c.bestCandidate(msg, evidence); best != nil {
			links = append(links, &models.SyslogDeviceCorrelation{
				MessageID:  msg.ID,
				DeviceMAC:  best.MAC,
				Confidence: confidence,
				MatchedAt:  now,
			})
		}
	}

	if len(links) > 0 {
		if err := c.store.UpsertCorrelations(ctx, links); err != nil {
			return err
		}

		c.counters.MarkCorrelation(now)
	}

	c.logger.Debug().
		Int("messages", len(messages)).
		Int("linked", len(links)).
		Int("scoring_version", ScoringVersion).
		Time("window_start", since).
		Msg("Correlation cycle complete")

	c.lastRun = now

	return nil
}

// bestCandidate returns the highest-scoring device at or above the
// threshold. Ties go to the device seen most recently.
func (c *Correlator) bestCandidate(msg *models.SyslogMessage, evidence map[string]*DeviceEvidence) (*DeviceEvidence, float64) {
	var (
		best      *DeviceEvidence
		bestScore float64
	)

	threshold := c.currentThreshold()

	for _, ev := range evidence {
		score := Score(msg, ev)
		if score < threshold {
			continue
		}

		if best == nil || score > bestScore ||
			(score == bestScore && ev.LastSeen.After(best.LastSeen)) {
			best = ev
			bestScore = score
		}
	}

	return best, bestScore
}

// gatherEvidence builds the per-device scoring view: registry identity plus
// the window's snapshot-reported IPs and presence transitions. Snapshots are
// read slightly before the window so a transition straddling its start still
// counts.
func (c *Correlator) gatherEvidence(ctx context.Context, since, until time.Time) (map[string]*DeviceEvidence, error) {
	devices, err := c.store.AllDevices(ctx)
	if err != nil {
		return nil, err
	}

	evidence := make(map[string]*DeviceEvidence, len(devices))

	for _, dev := range devices {
		evidence[dev.MAC] = &DeviceEvidence{
			MAC:      dev.MAC,
			Hostname: dev.Nickname,
			LastSeen: dev.LastSeen,
			IPs:      make(map[string]struct{}),
		}
	}

	snapshots, err := c.store.SnapshotsInRange(ctx, since.Add(-transitionProximity), until)
	if err != nil {
		return nil, err
	}

	// SnapshotsInRange orders by device then time, so consecutive rows of
	// one device reveal its transitions.
	var (
		prevMAC    string
		prevOnline bool
	)

	for _, s := range snapshots {
		ev, ok := evidence[s.DeviceMAC]
		if !ok {
			continue
		}

		if s.IPAddress != "" {
			ev.IPs[s.IPAddress] = struct{}{}
		}

		if s.DeviceMAC == prevMAC && s.IsOnline != prevOnline {
			ev.Transitions = append(ev.Transitions, s.SampleTime)
		}

		prevMAC = s.DeviceMAC
		prevOnline = s.IsOnline
	}

	return evidence, nil
}
