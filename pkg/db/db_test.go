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
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/netseer-io/netseer/pkg/logger"
	"github.com/netseer-io/netseer/pkg/metrics"
	"github.com/netseer-io/netseer/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) Service {
	t.Helper()

	cfg := &Config{Path: filepath.Join(t.TempDir(), "netseer.db")}

	svc, err := New(context.Background(), cfg, metrics.NewCounters(), logger.NewTestLogger())
	require.NoError(t, err)

	t.Cleanup(func() { _ = svc.Close() })

	return svc
}

func testMessage(receivedAt time.Time, sourceIP, text string) *models.SyslogMessage {
	return &models.SyslogMessage{
		ID:         uuid.NewString(),
		ReceivedAt: receivedAt,
		SourceHost: "gateway",
		SourceIP:   sourceIP,
		Facility:   1,
		Severity:   6,
		AppName:    "testapp",
		Message:    text,
		Category:   models.CategorySystem,
	}
}

func testDevice(mac string, seen time.Time) *models.Device {
	return &models.Device{MAC: mac, FirstSeen: seen, LastSeen: seen}
}

func TestOpenValidatesSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "stale.db")

	// A pre-existing database with an incompatible layout must fail fast.
	raw, err := sql.Open("sqlite", "file:"+path)
	require.NoError(t, err)

	_, err = raw.Exec("CREATE TABLE devices (serial TEXT PRIMARY KEY)")
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	_, err = New(ctx, &Config{Path: path}, metrics.NewCounters(), logger.NewTestLogger())
	require.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestOpenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	cfg := &Config{Path: filepath.Join(t.TempDir(), "netseer.db")}

	first, err := New(ctx, cfg, metrics.NewCounters(), logger.NewTestLogger())
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := New(ctx, cfg, metrics.NewCounters(), logger.NewTestLogger())
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestWriteBatchRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := newTestDB(t)

	now := time.Now().UTC().Truncate(time.Microsecond)
	msg := testMessage(now, "192.168.1.50", "hello")

	batch := &Batch{
		Messages:  []*models.SyslogMessage{msg},
		Devices:   []*models.Device{testDevice("aa:bb:cc:dd:ee:ff", now)},
		Snapshots: []*models.DeviceSnapshot{{
			DeviceMAC:  "aa:bb:cc:dd:ee:ff",
			SampleTime: now,
			IsOnline:   true,
			RSSI:       -52,
			IPAddress:  "192.168.1.50",
		}},
	}

	require.NoError(t, svc.WriteBatch(ctx, batch))

	messages, err := svc.ListMessages(ctx, models.SyslogFilter{}, models.Page{})
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, msg.ID, messages[0].ID)
	assert.Equal(t, "hello", messages[0].Message)
	assert.True(t, now.Equal(messages[0].ReceivedAt))

	dev, err := svc.GetDevice(ctx, "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	assert.True(t, now.Equal(dev.FirstSeen))

	snap, err := svc.LatestSnapshot(ctx, "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	assert.True(t, snap.IsOnline)
	assert.Equal(t, -52, snap.RSSI)
	assert.Equal(t, "192.168.1.50", snap.IPAddress)
}

func TestWriteBatchIsAtomic(t *testing.T) {
	ctx := context.Background()
	svc := newTestDB(t)

	now := time.Now().UTC()
	dup := testMessage(now, "10.0.0.1", "first")

	conflicting := *dup
	conflicting.Message = "second with the same id"

	// The duplicate primary key fails the batch; nothing may be visible.
	err := svc.WriteBatch(ctx, &Batch{
		Messages: []*models.SyslogMessage{dup, &conflicting},
	})
	require.Error(t, err)

	count, err := svc.CountMessages(ctx, models.SyslogFilter{})
	require.NoError(t, err)
	assert.Zero(t, count, "no partial batch may be visible after a rollback")
}

func TestDeviceUpsertKeepsFirstSeenAndNickname(t *testing.T) {
	ctx := context.Background()
	svc := newTestDB(t)

	t0 := time.Now().UTC().Add(-time.Hour)
	t1 := t0.Add(30 * time.Minute)

	dev := testDevice("aa:bb:cc:dd:ee:ff", t0)
	dev.Nickname = "laptop"
	require.NoError(t, svc.WriteBatch(ctx, &Batch{Devices: []*models.Device{dev}}))

	later := testDevice("aa:bb:cc:dd:ee:ff", t1)
	require.NoError(t, svc.WriteBatch(ctx, &Batch{Devices: []*models.Device{later}}))

	got, err := svc.GetDevice(ctx, "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	assert.True(t, t0.Equal(got.FirstSeen), "first_seen must survive upserts")
	assert.True(t, t1.Equal(got.LastSeen), "last_seen must advance")
	assert.Equal(t, "laptop", got.Nickname, "operator fields must not be clobbered")
}

func TestListMessagesFilterAndPagination(t *testing.T) {
	ctx := context.Background()
	svc := newTestDB(t)

	base := time.Now().UTC().Add(-time.Hour)

	var batch Batch

	for i := 0; i < 10; i++ {
		m := testMessage(base.Add(time.Duration(i)*time.Minute), "10.0.0.2", fmt.Sprintf("msg %d", i))
		if i%2 == 0 {
			m.Severity = 3
			m.Category = models.CategoryFirewall
		}

		batch.Messages = append(batch.Messages, m)
	}

	require.NoError(t, svc.WriteBatch(ctx, &batch))

	severe := 3
	filtered, err := svc.ListMessages(ctx, models.SyslogFilter{MaxSeverity: &severe}, models.Page{})
	require.NoError(t, err)
	assert.Len(t, filtered, 5)

	byCategory, err := svc.ListMessages(ctx, models.SyslogFilter{Category: models.CategoryFirewall}, models.Page{})
	require.NoError(t, err)
	assert.Len(t, byCategory, 5)

	windowed, err := svc.ListMessages(ctx, models.SyslogFilter{
		Start: base.Add(2 * time.Minute),
		End:   base.Add(5 * time.Minute),
	}, models.Page{})
	require.NoError(t, err)
	assert.Len(t, windowed, 4)

	pageOne, err := svc.ListMessages(ctx, models.SyslogFilter{}, models.Page{Limit: 4})
	require.NoError(t, err)
	require.Len(t, pageOne, 4)
	assert.Equal(t, "msg 9", pageOne[0].Message, "newest first")

	pageThree, err := svc.ListMessages(ctx, models.SyslogFilter{}, models.Page{Limit: 4, Offset: 8})
	require.NoError(t, err)
	assert.Len(t, pageThree, 2)

	count, err := svc.CountMessages(ctx, models.SyslogFilter{Category: models.CategoryFirewall})
	require.NoError(t, err)
	assert.EqualValues(t, 5, count)
}

func TestSnapshotQueries(t *testing.T) {
	ctx := context.Background()
	svc := newTestDB(t)

	base := time.Now().UTC().Add(-time.Hour)
	mac := "aa:bb:cc:dd:ee:ff"

	var batch Batch

	batch.Devices = append(batch.Devices, testDevice(mac, base))

	for i := 0; i < 5; i++ {
		batch.Snapshots = append(batch.Snapshots, &models.DeviceSnapshot{
			DeviceMAC:  mac,
			SampleTime: base.Add(time.Duration(i) * 2 * time.Minute),
			IsOnline:   true,
			IPAddress:  "192.168.1.50",
		})
	}

	require.NoError(t, svc.WriteBatch(ctx, &batch))

	latest, err := svc.LatestSnapshot(ctx, mac)
	require.NoError(t, err)
	assert.True(t, base.Add(8*time.Minute).Equal(latest.SampleTime))

	inRange, err := svc.SnapshotsInRange(ctx, base.Add(time.Minute), base.Add(7*time.Minute))
	require.NoError(t, err)
	assert.Len(t, inRange, 3)

	_, err = svc.LatestSnapshot(ctx, "00:00:00:00:00:01")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpsertCorrelationsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := newTestDB(t)

	now := time.Now().UTC()
	msg := testMessage(now, "192.168.1.50", "hello")
	mac := "aa:bb:cc:dd:ee:ff"

	require.NoError(t, svc.WriteBatch(ctx, &Batch{
		Messages: []*models.SyslogMessage{msg},
		Devices:  []*models.Device{testDevice(mac, now)},
	}))

	row := &models.SyslogDeviceCorrelation{MessageID: msg.ID, DeviceMAC: mac, Confidence: 0.6, MatchedAt: now}

	require.NoError(t, svc.UpsertCorrelations(ctx, []*models.SyslogDeviceCorrelation{row}))
	require.NoError(t, svc.UpsertCorrelations(ctx, []*models.SyslogDeviceCorrelation{row}))

	links, err := svc.ListCorrelations(ctx, mac, models.Page{})
	require.NoError(t, err)
	require.Len(t, links, 1, "upsert must not duplicate")
	assert.InDelta(t, 0.6, links[0].Confidence, 1e-9)

	// A rerun with fresh evidence revises confidence in place.
	row.Confidence = 0.9
	require.NoError(t, svc.UpsertCorrelations(ctx, []*models.SyslogDeviceCorrelation{row}))

	links, err = svc.ListCorrelations(ctx, mac, models.Page{})
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.InDelta(t, 0.9, links[0].Confidence, 1e-9)
}

func TestRetentionDeletes(t *testing.T) {
	ctx := context.Background()
	svc := newTestDB(t)

	now := time.Now().UTC()
	old := now.Add(-8 * 24 * time.Hour)
	cutoff := now.Add(-7 * 24 * time.Hour)
	mac := "aa:bb:cc:dd:ee:ff"

	oldResolved := testMessage(old, "10.0.0.1", "old resolved")
	oldUnresolved := testMessage(old, "10.0.0.1", "old unresolved")
	fresh := testMessage(now, "10.0.0.1", "fresh")

	require.NoError(t, svc.WriteBatch(ctx, &Batch{
		Messages: []*models.SyslogMessage{oldResolved, oldUnresolved, fresh},
		Devices:  []*models.Device{testDevice(mac, old)},
		Snapshots: []*models.DeviceSnapshot{
			{DeviceMAC: mac, SampleTime: old, IsOnline: true},
			{DeviceMAC: mac, SampleTime: now, IsOnline: true},
		},
	}))

	require.NoError(t, svc.UpsertCorrelations(ctx, []*models.SyslogDeviceCorrelation{
		{MessageID: oldResolved.ID, DeviceMAC: mac, Confidence: 0.8, MatchedAt: old},
	}))

	deleted, err := svc.DeleteMessagesBefore(ctx, cutoff, true)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted, "only the old resolved message goes")

	remaining, err := svc.ListMessages(ctx, models.SyslogFilter{}, models.Page{})
	require.NoError(t, err)
	require.Len(t, remaining, 2)

	for _, m := range remaining {
		assert.NotEqual(t, oldResolved.ID, m.ID)
	}

	// Without preservation, age alone decides.
	deleted, err = svc.DeleteMessagesBefore(ctx, cutoff, false)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	deletedSnaps, err := svc.DeleteSnapshotsBefore(ctx, cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deletedSnaps)

	// Devices are durable inventory: still present after eviction.
	_, err = svc.GetDevice(ctx, mac)
	assert.NoError(t, err)
}

func TestSnapshotForeignKeyEnforced(t *testing.T) {
	ctx := context.Background()
	svc := newTestDB(t)

	err := svc.WriteBatch(ctx, &Batch{
		Snapshots: []*models.DeviceSnapshot{{DeviceMAC: "de:ad:be:ef:00:01", SampleTime: time.Now(), IsOnline: true}},
	})
	require.Error(t, err, "snapshots require a registry row in the same batch")
}
