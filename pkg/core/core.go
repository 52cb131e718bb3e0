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

// Package core assembles the pipeline: syslog ingest and the snapshot
// collector feed one bounded queue, a single batch writer drains it into
// SQLite, and the presence, correlation, and retention passes run on their
// own schedules against the store.
package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/netseer-io/netseer/pkg/collector"
	"github.com/netseer-io/netseer/pkg/correlator"
	"github.com/netseer-io/netseer/pkg/db"
	"github.com/netseer-io/netseer/pkg/logger"
	"github.com/netseer-io/netseer/pkg/metrics"
	"github.com/netseer-io/netseer/pkg/presence"
	"github.com/netseer-io/netseer/pkg/queue"
	"github.com/netseer-io/netseer/pkg/retention"
	"github.com/netseer-io/netseer/pkg/sched"
	"github.com/netseer-io/netseer/pkg/syslog"
	"github.com/netseer-io/netseer/pkg/writer"
)

// ErrShutdownTimeout means workers did not drain within the grace period
// and were abandoned.
var ErrShutdownTimeout = errors.New("shutdown grace period exceeded")

// Service owns every component and their lifecycles.
type Service struct {
	cfg      Config
	logger   logger.Logger
	counters *metrics.Counters
	queue    *queue.Queue

	store      db.Service
	ingest     *syslog.Service
	writer     *writer.Writer
	collector  *collector.Collector
	presence   *presence.Tracker
	correlator *correlator.Correlator
	evictor    *retention.Evictor

	collectorRunner  *sched.Runner
	presenceRunner   *sched.Runner
	correlatorRunner *sched.Runner
	retentionRunner  *sched.Runner

	cancel context.CancelFunc
}

// New wires the pipeline. Opening the store, binding the syslog socket, and
// constructing the enumeration source are all startup-fatal.
func New(ctx context.Context, cfg *Config, log logger.Logger) (*Service, error) {
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	counters := metrics.NewCounters()

	store, err := db.New(ctx, &cfg.Database, counters, log)
	if err != nil {
		return nil, err
	}

	q := queue.New(cfg.QueueCapacity)

	ingest, err := syslog.NewService(cfg.Syslog, q, counters, logger.Component(log, "syslog"))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	source, err := collector.NewSource(cfg.Collector.Source)
	if err != nil {
		ingest.Stop()
		_ = store.Close()

		return nil, fmt.Errorf("building enumeration source: %w", err)
	}

	pollInterval := time.Duration(cfg.Collector.PollInterval)

	s := &Service{
		cfg:      *cfg,
		logger:   log,
		counters: counters,
		queue:    q,
		store:    store,
		ingest:   ingest,
	}

	s.writer = writer.New(cfg.Writer, q, store, counters, nil, logger.Component(log, "writer"))
	s.collector = collector.New(cfg.Collector, source, q, counters, nil, logger.Component(log, "collector"))
	s.presence = presence.New(store, pollInterval, nil, logger.Component(log, "presence"))
	s.correlator = correlator.New(cfg.Correlator, store, counters, nil, logger.Component(log, "correlator"))
	s.evictor = retention.New(cfg.Retention, store, nil, logger.Component(log, "retention"))

	schedLog := logger.Component(log, "sched")

	s.collectorRunner = sched.NewRunner("collector", pollInterval, pollInterval, s.collector.RunCycle, nil, schedLog)
	s.presenceRunner = sched.NewRunner("presence", pollInterval, pollInterval, s.presence.RunCycle, nil, schedLog)
	s.correlatorRunner = sched.NewRunner("correlator", time.Duration(cfg.Correlator.Interval), 0, s.correlator.RunCycle, nil, schedLog)

	if s.evictor.Enabled() {
		s.retentionRunner = sched.NewRunner("retention", time.Duration(cfg.Retention.Interval), 0, s.evictor.RunCycle, nil, schedLog)
	}

	return s, nil
}

// Start runs every worker and blocks until ctx is canceled or Stop is
// called, then waits for them to drain within the shutdown grace period.
func (s *Service) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error { return s.ingest.Start(groupCtx) })
	group.Go(func() error { return s.writer.Start(groupCtx) })
	group.Go(func() error { return s.collectorRunner.Start(groupCtx) })
	group.Go(func() error { return s.presenceRunner.Start(groupCtx) })
	group.Go(func() error { return s.correlatorRunner.Start(groupCtx) })

	if s.retentionRunner != nil {
		group.Go(func() error { return s.retentionRunner.Start(groupCtx) })
	}

	s.logger.Info().Msg("All workers started")

	err := s.waitWithGrace(ctx, group)

	s.ingest.Stop()

	if closeErr := s.store.Close(); closeErr != nil {
		s.logger.Error().Err(closeErr).Msg("Closing database")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	s.logger.Info().Msg("Shutdown complete")

	return nil
}

// waitWithGrace waits for the group, but once cancellation is underway it
// only waits the configured grace so a wedged worker cannot hang shutdown.
func (s *Service) waitWithGrace(ctx context.Context, group *errgroup.Group) error {
	done := make(chan error, 1)

	go func() { done <- group.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
	}

	grace := time.NewTimer(time.Duration(s.cfg.ShutdownGrace))
	defer grace.Stop()

	select {
	case err := <-done:
		return err
	case <-grace.C:
		return ErrShutdownTimeout
	}
}

// SyslogAddr reports the bound ingest address, useful when the config
// requested an ephemeral port.
func (s *Service) SyslogAddr() net.Addr {
	return s.ingest.LocalAddr()
}

// Stop initiates shutdown; Start unblocks once workers drain.
func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// ApplyTunables hot-reloads the intervals, correlation threshold, and log
// level, which are safe to change at runtime. Everything else (addresses,
// paths, queue sizing) needs a restart.
func (s *Service) ApplyTunables(cfg *Config) {
	cfg.Normalize()

	if pollInterval := time.Duration(cfg.Collector.PollInterval); pollInterval > 0 {
		s.collectorRunner.SetInterval(pollInterval)
		s.presenceRunner.SetInterval(pollInterval)
		s.presence.SetPollInterval(pollInterval)
	}

	s.correlatorRunner.SetInterval(time.Duration(cfg.Correlator.Interval))
	s.correlator.SetThreshold(cfg.Correlator.Threshold)

	if s.retentionRunner != nil {
		s.retentionRunner.SetInterval(time.Duration(cfg.Retention.Interval))
	}

	if cfg.Logging != nil {
		s.logger.SetDebug(cfg.Logging.Debug)
	}

	s.logger.Info().Msg("Tunables reloaded")
}
