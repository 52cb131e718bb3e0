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

// Package collector polls a device enumeration source and feeds registry
// upserts and presence snapshots through the shared ingest queue, so device
// data and syslog share one write path.
package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/netseer-io/netseer/pkg/logger"
	"github.com/netseer-io/netseer/pkg/metrics"
	"github.com/netseer-io/netseer/pkg/models"
	"github.com/netseer-io/netseer/pkg/queue"
	"github.com/netseer-io/netseer/pkg/sched"
)

const defaultPollInterval = time.Minute

// Alias is operator-supplied naming for a device, applied on first sighting.
type Alias struct {
	Nickname string `json:"nickname,omitempty"`
	Location string `json:"location,omitempty"`
}

// Config for the snapshot collector.
type Config struct {
	PollInterval models.Duration  `json:"poll_interval"`
	Source       SourceConfig     `json:"source"`
	Aliases      map[string]Alias `json:"aliases,omitempty"`
}

func (c *Config) Normalize() {
	if c.PollInterval <= 0 {
		c.PollInterval = models.Duration(defaultPollInterval)
	}

	c.Source.Normalize()
}

// Collector runs one enumeration per cycle. All snapshots from a cycle share
// one sample time, so a cycle is an atomic point-in-time view of the network.
type Collector struct {
	source   Source
	queue    *queue.Queue
	counters *metrics.Counters
	clock    sched.Clock
	logger   logger.Logger
	aliases  map[string]Alias

	// lastOnline tracks the previous cycle's view for appear/vanish logging.
	// Only RunCycle touches it, and cycles never overlap.
	lastOnline map[string]bool
}

// New creates a collector. A nil clock defaults to the real clock.
func New(cfg Config, source Source, q *queue.Queue, counters *metrics.Counters, clock sched.Clock, log logger.Logger) *Collector {
	if clock == nil {
		clock = sched.RealClock{}
	}

	return &Collector{
		source:     source,
		queue:      q,
		counters:   counters,
		clock:      clock,
		logger:     log,
		aliases:    cfg.Aliases,
		lastOnline: make(map[string]bool),
	}
}

// RunCycle enumerates the source once and enqueues one device upsert and one
// snapshot per observation. Observations without a parseable MAC are skipped;
// a failed enumeration produces no snapshots at all, never a partial cycle.
func (c *Collector) RunCycle(ctx context.Context) error {
	observations, err := c.source.Enumerate(ctx)
	if err != nil {
		return fmt.Errorf("collector cycle: %w", err)
	}

	sampleTime := c.clock.Now().UTC()
	current := make(map[string]bool, len(observations))

	var dropped int

	for _, obs := range observations {
		mac, err := models.NormalizeMAC(obs.MAC)
		if err != nil {
			if errors.Is(err, models.ErrInvalidMAC) {
				c.logger.Warn().Str("mac", obs.MAC).Msg("Skipping observation with unparseable MAC")
				continue
			}

			return err
		}

		// A source may report the same station on two interfaces; the
		// first row wins so per-device sample times stay unique.
		if _, seen := current[mac]; seen {
			continue
		}

		online := obs.Online == nil || *obs.Online
		current[mac] = online

		device := &models.Device{
			MAC:       mac,
			FirstSeen: sampleTime,
			LastSeen:  sampleTime,
		}

		if alias, ok := c.aliases[mac]; ok {
			device.Nickname = alias.Nickname
			device.Location = alias.Location
		}

		snapshot := &models.DeviceSnapshot{
			DeviceMAC:  mac,
			SampleTime: sampleTime,
			IsOnline:   online,
			RSSI:       obs.RSSI,
			TxRate:     obs.TxRate,
			RxRate:     obs.RxRate,
			Interface:  obs.Interface,
			IPAddress:  obs.IP,
		}

		dropped += c.queue.Push(queue.Entry{Device: device, Snapshot: snapshot})
	}

	if dropped > 0 {
		c.counters.AddDropped(int64(dropped))
	}

	c.logTransitions(current)
	c.lastOnline = current
	c.counters.MarkPollSuccess(sampleTime)

	c.logger.Debug().
		Int("observations", len(observations)).
		Int("devices", len(current)).
		Msg("Collector cycle complete")

	return nil
}

func (c *Collector) logTransitions(current map[string]bool) {
	for mac, online := range current {
		if online && !c.lastOnline[mac] {
			c.logger.Info().Str("mac", mac).Msg("Device appeared")
		}
	}

	for mac, wasOnline := range c.lastOnline {
		if wasOnline && !current[mac] {
			c.logger.Info().Str("mac", mac).Msg("Device vanished")
		}
	}
}
