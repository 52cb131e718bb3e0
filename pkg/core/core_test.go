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
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/netseer-io/netseer/pkg/collector"
	"github.com/netseer-io/netseer/pkg/correlator"
	"github.com/netseer-io/netseer/pkg/db"
	"github.com/netseer-io/netseer/pkg/logger"
	"github.com/netseer-io/netseer/pkg/models"
	"github.com/netseer-io/netseer/pkg/retention"
	"github.com/netseer-io/netseer/pkg/syslog"
	"github.com/netseer-io/netseer/pkg/writer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMAC = "aa:bb:cc:dd:ee:ff"

// enumServer fakes a router API reporting one online device at 127.0.0.1,
// the address test datagrams arrive from.
func enumServer(t *testing.T) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `[{"mac": %q, "ip": "127.0.0.1", "rssi": -55}]`, testMAC)
	}))
	t.Cleanup(server.Close)

	return server
}

func testConfig(t *testing.T, sourceURL string) *Config {
	t.Helper()

	return &Config{
		Database: db.Config{Path: filepath.Join(t.TempDir(), "netseer.db")},
		Syslog:   syslog.Config{ListenAddr: "127.0.0.1:0"},
		Writer: writer.Config{
			BatchSize:     100,
			FlushInterval: models.Duration(200 * time.Millisecond),
		},
		Collector: collector.Config{
			PollInterval: models.Duration(250 * time.Millisecond),
			Source:       collector.SourceConfig{Type: "http", Endpoint: sourceURL},
		},
		Correlator: correlator.Config{
			Interval: models.Duration(300 * time.Millisecond),
		},
	}
}

func startService(t *testing.T, cfg *Config) *Service {
	t.Helper()

	svc, err := New(context.Background(), cfg, logger.NewTestLogger())
	require.NoError(t, err)

	errCh := make(chan error, 1)

	go func() { errCh <- svc.Start(context.Background()) }()

	t.Cleanup(func() {
		svc.Stop()

		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("service did not shut down in time")
		}
	})

	return svc
}

func sendDatagrams(t *testing.T, addr net.Addr, count int) {
	t.Helper()

	conn, err := net.Dial("udp", addr.String())
	require.NoError(t, err)

	defer conn.Close()

	for i := 0; i < count; i++ {
		msg := fmt.Sprintf("<134>Mar 14 09:26:53 laptop sshd[%d]: Accepted publickey for user %d", i, i)
		_, err := conn.Write([]byte(msg))
		require.NoError(t, err)
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	source := enumServer(t)
	cfg := testConfig(t, source.URL)
	svc := startService(t, cfg)

	ctx := context.Background()

	sendDatagrams(t, svc.SyslogAddr(), 150)

	// All 150 land despite spanning more than one batch.
	require.Eventually(t, func() bool {
		count, err := svc.CountMessages(ctx, models.SyslogFilter{})
		return err == nil && count == 150
	}, 10*time.Second, 50*time.Millisecond, "every accepted datagram must be persisted exactly once")

	snap := svc.Metrics()
	assert.EqualValues(t, 150, snap.Received)
	assert.Zero(t, snap.ParseErrors)
	assert.Zero(t, snap.Dropped)
	assert.GreaterOrEqual(t, snap.BatchesWritten, int64(2), "150 messages exceed one batch")

	// The collector registered the enumerated device.
	require.Eventually(t, func() bool {
		_, err := svc.Device(ctx, testMAC)
		return err == nil
	}, 10*time.Second, 50*time.Millisecond)

	dev, err := svc.Device(ctx, testMAC)
	require.NoError(t, err)
	assert.Equal(t, testMAC, dev.MAC)

	status, err := svc.Presence(ctx, testMAC)
	require.NoError(t, err)
	assert.Equal(t, models.StateOnline, status.State)
}

func TestPipelineCorrelatesByIP(t *testing.T) {
	source := enumServer(t)
	cfg := testConfig(t, source.URL)
	svc := startService(t, cfg)

	ctx := context.Background()

	sendDatagrams(t, svc.SyslogAddr(), 3)

	require.Eventually(t, func() bool {
		links, err := svc.Correlations(ctx, testMAC, models.Page{})
		return err == nil && len(links) == 3
	}, 15*time.Second, 100*time.Millisecond, "messages from the device's IP must be linked to it")

	links, err := svc.Correlations(ctx, testMAC, models.Page{})
	require.NoError(t, err)

	for _, link := range links {
		assert.Equal(t, testMAC, link.DeviceMAC)
		assert.GreaterOrEqual(t, link.Confidence, 0.6, "an IP match alone scores 0.6")
		assert.LessOrEqual(t, link.Confidence, 1.0)
	}
}

func TestHealthAndMalformedInput(t *testing.T) {
	source := enumServer(t)
	cfg := testConfig(t, source.URL)
	svc := startService(t, cfg)

	ctx := context.Background()

	health := svc.Health(ctx)
	assert.True(t, health.Healthy)
	assert.True(t, health.DBAvailable)

	conn, err := net.Dial("udp", svc.SyslogAddr().String())
	require.NoError(t, err)

	defer conn.Close()

	_, err = conn.Write([]byte("<999>not a real priority"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return svc.Metrics().ParseErrors == 1
	}, 5*time.Second, 50*time.Millisecond, "malformed datagrams are counted and dropped, never fatal")

	count, err := svc.CountMessages(ctx, models.SyslogFilter{})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRunRetentionOnDemand(t *testing.T) {
	source := enumServer(t)
	cfg := testConfig(t, source.URL)
	cfg.Retention = retention.Config{Policies: []models.RetentionPolicy{
		{Table: retention.TableMessages, MaxAge: models.Duration(time.Nanosecond)},
	}}

	svc := startService(t, cfg)

	ctx := context.Background()

	sendDatagrams(t, svc.SyslogAddr(), 5)

	require.Eventually(t, func() bool {
		count, err := svc.CountMessages(ctx, models.SyslogFilter{})
		return err == nil && count == 5
	}, 10*time.Second, 50*time.Millisecond)

	report, err := svc.RunRetention(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), report.Deleted[retention.TableMessages])

	count, err := svc.CountMessages(ctx, models.SyslogFilter{})
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestConfigValidation(t *testing.T) {
	cfg := &Config{}

	_, err := New(context.Background(), cfg, logger.NewTestLogger())
	assert.ErrorIs(t, err, ErrNoDatabasePath)
}
