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

// Package retention evicts rows past their configured age. Eviction is
// per-table and bounded work per run; it never touches the devices registry.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/netseer-io/netseer/pkg/db"
	"github.com/netseer-io/netseer/pkg/logger"
	"github.com/netseer-io/netseer/pkg/models"
	"github.com/netseer-io/netseer/pkg/sched"
)

// Tables eligible for retention policies.
const (
	TableMessages     = "syslog_messages"
	TableSnapshots    = "device_snapshots"
	TableCorrelations = "syslog_device_correlations"
)

const defaultInterval = time.Hour

// Config for the retention evictor. Scheduled eviction stays off unless
// policies are configured; Compact additionally reclaims file space after
// each run and is a separate opt-in because VACUUM briefly blocks readers.
type Config struct {
	Interval models.Duration          `json:"interval"`
	Policies []models.RetentionPolicy `json:"policies,omitempty"`
	Compact  bool                     `json:"compact,omitempty"`
}

func (c *Config) Normalize() {
	if c.Interval <= 0 {
		c.Interval = models.Duration(defaultInterval)
	}
}

// Validate rejects policies naming unknown tables or non-positive ages, so
// a typo in the config fails startup instead of silently evicting nothing.
func (c *Config) Validate() error {
	for _, p := range c.Policies {
		switch p.Table {
		case TableMessages, TableSnapshots, TableCorrelations:
		default:
			return fmt.Errorf("%w: %q", db.ErrUnknownTable, p.Table)
		}

		if p.MaxAge <= 0 {
			return fmt.Errorf("retention policy for %s: max_age must be positive", p.Table)
		}
	}

	return nil
}

// Report summarizes one eviction run.
type Report struct {
	Deleted   map[string]int64 `json:"deleted"`
	Compacted bool             `json:"compacted,omitempty"`
}

// Evictor applies retention policies on a schedule or on demand.
type Evictor struct {
	cfg    Config
	store  db.Service
	clock  sched.Clock
	logger logger.Logger
}

// New creates an evictor. A nil clock defaults to the real clock.
func New(cfg Config, store db.Service, clock sched.Clock, log logger.Logger) *Evictor {
	cfg.Normalize()

	if clock == nil {
		clock = sched.RealClock{}
	}

	return &Evictor{
		cfg:    cfg,
		store:  store,
		clock:  clock,
		logger: log,
	}
}

// Enabled reports whether any policy is configured.
func (e *Evictor) Enabled() bool {
	return len(e.cfg.Policies) > 0
}

// RunCycle applies every configured policy once, then compacts if enabled.
func (e *Evictor) RunCycle(ctx context.Context) error {
	_, err := e.Run(ctx)

	return err
}

// Run applies every policy and returns what was deleted. Each table is its
// own transaction: one failing policy does not roll back the others.
func (e *Evictor) Run(ctx context.Context) (*Report, error) {
	report := &Report{Deleted: make(map[string]int64, len(e.cfg.Policies))}
	now := e.clock.Now().UTC()

	for _, policy := range e.cfg.Policies {
		cutoff := now.Add(-time.Duration(policy.MaxAge))

		deleted, err := e.applyPolicy(ctx, policy, cutoff)
		if err != nil {
			return report, fmt.Errorf("evicting %s: %w", policy.Table, err)
		}

		report.Deleted[policy.Table] += deleted

		if deleted > 0 {
			e.logger.Info().
				Str("table", policy.Table).
				Int64("deleted", deleted).
				Time("cutoff", cutoff).
				Msg("Evicted expired rows")
		}
	}

	if e.cfg.Compact {
		if err := e.store.Compact(ctx); err != nil {
			return report, fmt.Errorf("compacting after eviction: %w", err)
		}

		report.Compacted = true
	}

	return report, nil
}

func (e *Evictor) applyPolicy(ctx context.Context, policy models.RetentionPolicy, cutoff time.Time) (int64, error) {
	switch policy.Table {
	case TableMessages:
		return e.store.DeleteMessagesBefore(ctx, cutoff, policy.PreserveUnresolved)
	case TableSnapshots:
		return e.store.DeleteSnapshotsBefore(ctx, cutoff)
	case TableCorrelations:
		return e.store.DeleteCorrelationsBefore(ctx, cutoff)
	default:
		return 0, fmt.Errorf("%w: %q", db.ErrUnknownTable, policy.Table)
	}
}
