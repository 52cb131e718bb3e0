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

package core

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/netseer-io/netseer/pkg/models"
	"github.com/netseer-io/netseer/pkg/retention"
)

// Read API. Queries go straight to the store; ingestion state never gates
// reads, so a degraded pipeline still serves history.

func (s *Service) Messages(ctx context.Context, filter models.SyslogFilter, page models.Page) ([]*models.SyslogMessage, error) {
	return s.store.ListMessages(ctx, filter, page)
}

func (s *Service) CountMessages(ctx context.Context, filter models.SyslogFilter) (int64, error) {
	return s.store.CountMessages(ctx, filter)
}

func (s *Service) Device(ctx context.Context, mac string) (*models.Device, error) {
	normalized, err := models.NormalizeMAC(mac)
	if err != nil {
		return nil, err
	}

	return s.store.GetDevice(ctx, normalized)
}

func (s *Service) Devices(ctx context.Context, page models.Page) ([]*models.Device, error) {
	return s.store.ListDevices(ctx, page)
}

func (s *Service) Snapshots(ctx context.Context, mac string, since time.Time, page models.Page) ([]*models.DeviceSnapshot, error) {
	normalized, err := models.NormalizeMAC(mac)
	if err != nil {
		return nil, err
	}

	return s.store.ListSnapshots(ctx, normalized, since, page)
}

func (s *Service) Correlations(ctx context.Context, mac string, page models.Page) ([]*models.SyslogDeviceCorrelation, error) {
	normalized, err := models.NormalizeMAC(mac)
	if err != nil {
		return nil, err
	}

	return s.store.ListCorrelations(ctx, normalized, page)
}

// Presence computes one device's current state on demand.
func (s *Service) Presence(ctx context.Context, mac string) (models.PresenceStatus, error) {
	normalized, err := models.NormalizeMAC(mac)
	if err != nil {
		return models.PresenceStatus{}, err
	}

	return s.presence.CurrentState(ctx, normalized)
}

// PresenceAll sweeps the whole registry.
func (s *Service) PresenceAll(ctx context.Context) ([]models.PresenceStatus, error) {
	return s.presence.SweepAll(ctx)
}

// Metrics returns the process-wide counters.
func (s *Service) Metrics() models.MetricsSnapshot {
	return s.counters.Snapshot(s.queue.Len(), s.queue.Cap())
}

// RunRetention applies the configured policies once, outside the schedule.
func (s *Service) RunRetention(ctx context.Context) (*retention.Report, error) {
	return s.evictor.Run(ctx)
}

// Compact reclaims database file space on demand.
func (s *Service) Compact(ctx context.Context) error {
	return s.store.Compact(ctx)
}

// Health probes the store and reports pipeline freshness plus process
// memory. Staleness and queue pressure are reported, not judged; only a
// dead store marks the process unhealthy.
func (s *Service) Health(ctx context.Context) models.HealthStatus {
	status := models.HealthStatus{
		QueueDepth:       s.queue.Len(),
		QueueCapacity:    s.queue.Cap(),
		LastWriteSuccess: s.counters.LastWriteSuccess(),
		LastPollSuccess:  s.counters.LastPollSuccess(),
	}

	if err := s.store.Ping(ctx); err != nil {
		status.Error = err.Error()
	} else {
		status.DBAvailable = true
	}

	status.Healthy = status.DBAvailable

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		status.MemoryUsedPct = vm.UsedPercent
	}

	if proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if info, err := proc.MemoryInfoWithContext(ctx); err == nil {
			status.ProcessRSSBytes = info.RSS
		}
	}

	return status
}
