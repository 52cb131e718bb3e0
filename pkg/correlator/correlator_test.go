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

package correlator

import (
	"context"
	"testing"
	"time"

	"github.com/netseer-io/netseer/pkg/db"
	"github.com/netseer-io/netseer/pkg/logger"
	"github.com/netseer-io/netseer/pkg/metrics"
	"github.com/netseer-io/netseer/pkg/models"
	"github.com/netseer-io/netseer/pkg/sched"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scoreTime = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func TestScore(t *testing.T) {
	evidence := &DeviceEvidence{
		MAC:         "aa:bb:cc:dd:ee:ff",
		Hostname:    "nest-thermostat",
		IPs:         map[string]struct{}{"192.168.1.50": {}},
		Transitions: []time.Time{scoreTime.Add(-time.Minute)},
	}

	tests := []struct {
		name string
		msg  models.SyslogMessage
		want float64
	}{
		{
			name: "ip match alone clears the threshold",
			msg:  models.SyslogMessage{SourceIP: "192.168.1.50", ReceivedAt: scoreTime.Add(time.Hour)},
			want: 0.6,
		},
		{
			name: "hostname match alone stays below it",
			msg:  models.SyslogMessage{SourceHost: "nest-thermostat", ReceivedAt: scoreTime.Add(time.Hour)},
			want: 0.3,
		},
		{
			name: "fqdn matches the short registry name",
			msg:  models.SyslogMessage{SourceHost: "NEST-THERMOSTAT.lan", ReceivedAt: scoreTime.Add(time.Hour)},
			want: 0.3,
		},
		{
			name: "hostname plus nearby transition",
			msg:  models.SyslogMessage{SourceHost: "nest-thermostat", ReceivedAt: scoreTime},
			want: 0.4,
		},
		{
			name: "all three signals",
			msg:  models.SyslogMessage{SourceIP: "192.168.1.50", SourceHost: "nest-thermostat", ReceivedAt: scoreTime},
			want: 1.0,
		},
		{
			name: "transition outside the proximity window",
			msg:  models.SyslogMessage{SourceIP: "192.168.1.50", ReceivedAt: scoreTime.Add(10 * time.Minute)},
			want: 0.6,
		},
		{
			name: "nothing matches",
			msg:  models.SyslogMessage{SourceIP: "10.0.0.9", SourceHost: "printer", ReceivedAt: scoreTime.Add(time.Hour)},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Score(&tt.msg, evidence), 1e-9)
		})
	}
}

func TestScoreEmptyFieldsNeverMatch(t *testing.T) {
	// A device with no recorded hostname must not match a message that
	// also lacks one.
	evidence := &DeviceEvidence{MAC: "aa:bb:cc:dd:ee:ff", IPs: map[string]struct{}{}}
	msg := models.SyslogMessage{ReceivedAt: scoreTime}

	assert.Zero(t, Score(&msg, evidence))
}

type fakeStore struct {
	db.Service

	messages  []*models.SyslogMessage
	devices   []*models.Device
	snapshots []*models.DeviceSnapshot

	upserts [][]*models.SyslogDeviceCorrelation
}

func (f *fakeStore) MessagesInRange(_ context.Context, since, until time.Time) ([]*models.SyslogMessage, error) {
	var out []*models.SyslogMessage

	for _, m := range f.messages {
		if m.ReceivedAt.After(since) && !m.ReceivedAt.After(until) {
			out = append(out, m)
		}
	}

	return out, nil
}

func (f *fakeStore) AllDevices(context.Context) ([]*models.Device, error) {
	return f.devices, nil
}

func (f *fakeStore) SnapshotsInRange(_ context.Context, since, until time.Time) ([]*models.DeviceSnapshot, error) {
	var out []*models.DeviceSnapshot

	for _, s := range f.snapshots {
		if !s.SampleTime.Before(since) && !s.SampleTime.After(until) {
			out = append(out, s)
		}
	}

	return out, nil
}

func (f *fakeStore) UpsertCorrelations(_ context.Context, links []*models.SyslogDeviceCorrelation) error {
	f.upserts = append(f.upserts, links)

	return nil
}

type fixedClock struct{ now time.Time }

func (f fixedClock) Now() time.Time { return f.now }

func (f fixedClock) Ticker(d time.Duration) sched.Ticker { return sched.RealClock{}.Ticker(d) }

func TestRunCycleLinksBestCandidate(t *testing.T) {
	now := scoreTime.Add(5 * time.Minute)

	store := &fakeStore{
		messages: []*models.SyslogMessage{
			{ID: "msg-1", ReceivedAt: scoreTime, SourceIP: "192.168.1.50", SourceHost: "nest-thermostat"},
			{ID: "msg-2", ReceivedAt: scoreTime, SourceHost: "unrelated-host"},
		},
		devices: []*models.Device{
			{MAC: "aa:bb:cc:dd:ee:ff", Nickname: "nest-thermostat", LastSeen: now},
			{MAC: "11:22:33:44:55:66", Nickname: "printer", LastSeen: now},
		},
		snapshots: []*models.DeviceSnapshot{
			{DeviceMAC: "aa:bb:cc:dd:ee:ff", SampleTime: scoreTime.Add(-time.Minute), IsOnline: true, IPAddress: "192.168.1.50"},
		},
	}

	c := New(Config{}, store, metrics.NewCounters(), fixedClock{now: now}, logger.NewTestLogger())

	require.NoError(t, c.RunCycle(context.Background()))
	require.Len(t, store.upserts, 1)

	links := store.upserts[0]
	require.Len(t, links, 1, "below-threshold messages stay unlinked")

	link := links[0]
	assert.Equal(t, "msg-1", link.MessageID)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", link.DeviceMAC)
	assert.GreaterOrEqual(t, link.Confidence, 0.6, "ip evidence alone already clears the threshold")
	assert.True(t, link.MatchedAt.Equal(now))
}

func TestRunCycleIsIdempotent(t *testing.T) {
	now := scoreTime.Add(5 * time.Minute)

	store := &fakeStore{
		messages: []*models.SyslogMessage{
			{ID: "msg-1", ReceivedAt: scoreTime, SourceIP: "192.168.1.50"},
		},
		devices: []*models.Device{
			{MAC: "aa:bb:cc:dd:ee:ff", LastSeen: now},
		},
		snapshots: []*models.DeviceSnapshot{
			{DeviceMAC: "aa:bb:cc:dd:ee:ff", SampleTime: scoreTime, IsOnline: true, IPAddress: "192.168.1.50"},
		},
	}

	c := New(Config{Overlap: models.Duration(10 * time.Minute)}, store, metrics.NewCounters(), fixedClock{now: now}, logger.NewTestLogger())

	require.NoError(t, c.RunCycle(context.Background()))
	require.NoError(t, c.RunCycle(context.Background()))

	require.Len(t, store.upserts, 2, "the overlap re-scores the same window")

	for _, links := range store.upserts {
		require.Len(t, links, 1)
		assert.Equal(t, "msg-1", links[0].MessageID)
		assert.Equal(t, "aa:bb:cc:dd:ee:ff", links[0].DeviceMAC)
		assert.InDelta(t, store.upserts[0][0].Confidence, links[0].Confidence, 1e-9,
			"rescoring the same evidence converges to the same link")
	}
}

func TestRunCycleTieBreaksOnRecency(t *testing.T) {
	now := scoreTime.Add(5 * time.Minute)

	// Two devices claim the same IP in the window (DHCP churn); the one
	// seen more recently wins the tie.
	store := &fakeStore{
		messages: []*models.SyslogMessage{
			{ID: "msg-1", ReceivedAt: scoreTime, SourceIP: "192.168.1.50"},
		},
		devices: []*models.Device{
			{MAC: "aa:bb:cc:dd:ee:ff", LastSeen: now.Add(-time.Hour)},
			{MAC: "11:22:33:44:55:66", LastSeen: now},
		},
		snapshots: []*models.DeviceSnapshot{
			{DeviceMAC: "aa:bb:cc:dd:ee:ff", SampleTime: scoreTime.Add(-3 * time.Minute), IsOnline: true, IPAddress: "192.168.1.50"},
			{DeviceMAC: "11:22:33:44:55:66", SampleTime: scoreTime.Add(-time.Minute), IsOnline: true, IPAddress: "192.168.1.50"},
		},
	}

	c := New(Config{}, store, metrics.NewCounters(), fixedClock{now: now}, logger.NewTestLogger())

	require.NoError(t, c.RunCycle(context.Background()))
	require.Len(t, store.upserts, 1)
	require.Len(t, store.upserts[0], 1)
	assert.Equal(t, "11:22:33:44:55:66", store.upserts[0][0].DeviceMAC)
}

func TestSetThresholdReloadsConfidenceFloor(t *testing.T) {
	now := scoreTime.Add(5 * time.Minute)

	// Hostname evidence alone scores 0.3, below the default threshold.
	store := &fakeStore{
		messages: []*models.SyslogMessage{
			{ID: "msg-1", ReceivedAt: scoreTime, SourceHost: "printer"},
		},
		devices: []*models.Device{
			{MAC: "11:22:33:44:55:66", Nickname: "printer", LastSeen: now},
		},
	}

	c := New(Config{Overlap: models.Duration(10 * time.Minute)}, store, metrics.NewCounters(), fixedClock{now: now}, logger.NewTestLogger())

	require.NoError(t, c.RunCycle(context.Background()))
	assert.Empty(t, store.upserts)

	c.SetThreshold(0.3)

	require.NoError(t, c.RunCycle(context.Background()))
	require.Len(t, store.upserts, 1)
	assert.Equal(t, "11:22:33:44:55:66", store.upserts[0][0].DeviceMAC)

	c.SetThreshold(7) // out of range, ignored
	assert.InDelta(t, 0.3, c.currentThreshold(), 1e-9)
}

func TestRunCycleEmptyWindowWritesNothing(t *testing.T) {
	store := &fakeStore{}
	counters := metrics.NewCounters()
	c := New(Config{}, store, counters, fixedClock{now: scoreTime}, logger.NewTestLogger())

	require.NoError(t, c.RunCycle(context.Background()))
	assert.Empty(t, store.upserts)
	assert.True(t, c.lastRun.Equal(scoreTime), "an empty window still advances the cursor")
}

func TestGatherEvidenceDetectsTransitions(t *testing.T) {
	now := scoreTime.Add(5 * time.Minute)

	store := &fakeStore{
		devices: []*models.Device{{MAC: "aa:bb:cc:dd:ee:ff"}},
		snapshots: []*models.DeviceSnapshot{
			{DeviceMAC: "aa:bb:cc:dd:ee:ff", SampleTime: scoreTime.Add(-3 * time.Minute), IsOnline: false},
			{DeviceMAC: "aa:bb:cc:dd:ee:ff", SampleTime: scoreTime.Add(-2 * time.Minute), IsOnline: true},
			{DeviceMAC: "aa:bb:cc:dd:ee:ff", SampleTime: scoreTime.Add(-time.Minute), IsOnline: true},
		},
	}

	c := New(Config{}, store, metrics.NewCounters(), fixedClock{now: now}, logger.NewTestLogger())

	evidence, err := c.gatherEvidence(context.Background(), scoreTime.Add(-10*time.Minute), now)
	require.NoError(t, err)

	ev := evidence["aa:bb:cc:dd:ee:ff"]
	require.NotNil(t, ev)
	require.Len(t, ev.Transitions, 1, "only the offline-to-online flip counts, not steady state")
	assert.True(t, ev.Transitions[0].Equal(scoreTime.Add(-2*time.Minute)))
}
