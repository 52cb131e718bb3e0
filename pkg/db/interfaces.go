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

package db

import (
	"context"
	"time"

	"github.com/netseer-io/netseer/pkg/models"
)

// Batch is one transactional unit of ingested rows. Devices are upserted
// before snapshots so foreign keys hold within the transaction.
type Batch struct {
	Messages  []*models.SyslogMessage
	Devices   []*models.Device
	Snapshots []*models.DeviceSnapshot
}

// Size returns the total row count across all tables.
func (b *Batch) Size() int {
	return len(b.Messages) + len(b.Devices) + len(b.Snapshots)
}

// Empty reports whether the batch carries no rows.
func (b *Batch) Empty() bool {
	return b.Size() == 0
}

// Service is the persistence layer's full surface. Writers use the batch
// and upsert operations; the external query layer only reads.
type Service interface {
	// Writes.
	WriteBatch(ctx context.Context, batch *Batch) error
	UpsertCorrelations(ctx context.Context, rows []*models.SyslogDeviceCorrelation) error

	// Reads (paginated, filterable).
	ListMessages(ctx context.Context, filter models.SyslogFilter, page models.Page) ([]*models.SyslogMessage, error)
	CountMessages(ctx context.Context, filter models.SyslogFilter) (int64, error)
	MessagesInRange(ctx context.Context, since, until time.Time) ([]*models.SyslogMessage, error)
	GetDevice(ctx context.Context, mac string) (*models.Device, error)
	ListDevices(ctx context.Context, page models.Page) ([]*models.Device, error)
	AllDevices(ctx context.Context) ([]*models.Device, error)
	LatestSnapshot(ctx context.Context, mac string) (*models.DeviceSnapshot, error)
	ListSnapshots(ctx context.Context, mac string, since time.Time, page models.Page) ([]*models.DeviceSnapshot, error)
	SnapshotsInRange(ctx context.Context, since, until time.Time) ([]*models.DeviceSnapshot, error)
	ListCorrelations(ctx context.Context, mac string, page models.Page) ([]*models.SyslogDeviceCorrelation, error)

	// Retention.
	DeleteMessagesBefore(ctx context.Context, cutoff time.Time, preserveUnresolved bool) (int64, error)
	DeleteSnapshotsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteCorrelationsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Compact(ctx context.Context) error

	// Operational.
	Ping(ctx context.Context) error
	Close() error
}
