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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/netseer-io/netseer/pkg/models"
)

const selectMessageCols = `id, received_at, source_host, source_ip, facility, severity, app_name, message, category`

func buildMessageWhere(filter models.SyslogFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)

	if !filter.Start.IsZero() {
		conds = append(conds, "received_at >= ?")
		args = append(args, filter.Start.UnixNano())
	}

	if !filter.End.IsZero() {
		conds = append(conds, "received_at <= ?")
		args = append(args, filter.End.UnixNano())
	}

	if filter.MaxSeverity != nil {
		conds = append(conds, "severity <= ?")
		args = append(args, *filter.MaxSeverity)
	}

	if filter.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, filter.Category)
	}

	if filter.SourceHost != "" {
		conds = append(conds, "source_host = ?")
		args = append(args, filter.SourceHost)
	}

	if filter.SourceIP != "" {
		conds = append(conds, "source_ip = ?")
		args = append(args, filter.SourceIP)
	}

	if len(conds) == 0 {
		return "", nil
	}

	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanMessage(rows *sql.Rows) (*models.SyslogMessage, error) {
	var (
		m          models.SyslogMessage
		receivedAt int64
	)

	err := rows.Scan(&m.ID, &receivedAt, &m.SourceHost, &m.SourceIP,
		&m.Facility, &m.Severity, &m.AppName, &m.Message, &m.Category)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToScan, err)
	}

	m.ReceivedAt = time.Unix(0, receivedAt).UTC()

	return &m, nil
}

func (d *DB) queryMessages(ctx context.Context, query string, args ...interface{}) ([]*models.SyslogMessage, error) {
	conn, err := d.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}
	defer rows.Close()

	var out []*models.SyslogMessage

	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	return out, nil
}

// ListMessages returns messages matching the filter, newest first.
func (d *DB) ListMessages(ctx context.Context, filter models.SyslogFilter, page models.Page) ([]*models.SyslogMessage, error) {
	page = normalizePage(page)
	where, args := buildMessageWhere(filter)

	query := "SELECT " + selectMessageCols + " FROM syslog_messages" + where +
		" ORDER BY received_at DESC LIMIT ? OFFSET ?"
	args = append(args, page.Limit, page.Offset)

	return d.queryMessages(ctx, query, args...)
}

// CountMessages returns the total matching the filter, for pagination.
func (d *DB) CountMessages(ctx context.Context, filter models.SyslogFilter) (int64, error) {
	conn, err := d.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	where, args := buildMessageWhere(filter)

	var count int64
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM syslog_messages"+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	return count, nil
}

// MessagesInRange returns all messages in (since, until], oldest first.
// Used by the correlator, which bounds its own window.
func (d *DB) MessagesInRange(ctx context.Context, since, until time.Time) ([]*models.SyslogMessage, error) {
	query := "SELECT " + selectMessageCols + " FROM syslog_messages" +
		" WHERE received_at > ? AND received_at <= ? ORDER BY received_at ASC"

	return d.queryMessages(ctx, query, since.UnixNano(), until.UnixNano())
}

func scanDevice(scanner interface{ Scan(dest ...interface{}) error }) (*models.Device, error) {
	var (
		dev                 models.Device
		firstSeen, lastSeen int64
	)

	err := scanner.Scan(&dev.MAC, &firstSeen, &lastSeen, &dev.Nickname, &dev.Location)
	if err != nil {
		return nil, err
	}

	dev.FirstSeen = time.Unix(0, firstSeen).UTC()
	dev.LastSeen = time.Unix(0, lastSeen).UTC()

	return &dev, nil
}

// GetDevice looks up one registry entry by normalized MAC.
func (d *DB) GetDevice(ctx context.Context, mac string) (*models.Device, error) {
	conn, err := d.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	row := conn.QueryRowContext(ctx,
		"SELECT mac, first_seen, last_seen, nickname, location FROM devices WHERE mac = ?", mac)

	dev, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: device %s", ErrNotFound, mac)
		}

		return nil, fmt.Errorf("%w: %w", ErrFailedToScan, err)
	}

	return dev, nil
}

func (d *DB) queryDevices(ctx context.Context, query string, args ...interface{}) ([]*models.Device, error) {
	conn, err := d.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}
	defer rows.Close()

	var out []*models.Device

	for rows.Next() {
		dev, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFailedToScan, err)
		}

		out = append(out, dev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	return out, nil
}

// ListDevices pages through the registry, most recently seen first.
func (d *DB) ListDevices(ctx context.Context, page models.Page) ([]*models.Device, error) {
	page = normalizePage(page)

	return d.queryDevices(ctx,
		"SELECT mac, first_seen, last_seen, nickname, location FROM devices ORDER BY last_seen DESC LIMIT ? OFFSET ?",
		page.Limit, page.Offset)
}

// AllDevices returns the whole registry. The correlator and presence sweep
// need the full inventory; a home-network registry stays small.
func (d *DB) AllDevices(ctx context.Context) ([]*models.Device, error) {
	return d.queryDevices(ctx,
		"SELECT mac, first_seen, last_seen, nickname, location FROM devices ORDER BY mac")
}

const selectSnapshotCols = `device_mac, sample_time, is_online, rssi, tx_rate, rx_rate, interface, ip_address`

func scanSnapshot(rows *sql.Rows) (*models.DeviceSnapshot, error) {
	var (
		s          models.DeviceSnapshot
		sampleTime int64
	)

	err := rows.Scan(&s.DeviceMAC, &sampleTime, &s.IsOnline, &s.RSSI, &s.TxRate, &s.RxRate, &s.Interface, &s.IPAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToScan, err)
	}

	s.SampleTime = time.Unix(0, sampleTime).UTC()

	return &s, nil
}

func (d *DB) querySnapshots(ctx context.Context, query string, args ...interface{}) ([]*models.DeviceSnapshot, error) {
	conn, err := d.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}
	defer rows.Close()

	var out []*models.DeviceSnapshot

	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	return out, nil
}

// LatestSnapshot returns the most recent sample for a device, or ErrNotFound
// when the device has no snapshot history.
func (d *DB) LatestSnapshot(ctx context.Context, mac string) (*models.DeviceSnapshot, error) {
	snapshots, err := d.querySnapshots(ctx,
		"SELECT "+selectSnapshotCols+" FROM device_snapshots WHERE device_mac = ? ORDER BY sample_time DESC LIMIT 1",
		mac)
	if err != nil {
		return nil, err
	}

	if len(snapshots) == 0 {
		return nil, fmt.Errorf("%w: no snapshots for %s", ErrNotFound, mac)
	}

	return snapshots[0], nil
}

// ListSnapshots pages through one device's history since a point in time,
// newest first.
func (d *DB) ListSnapshots(ctx context.Context, mac string, since time.Time, page models.Page) ([]*models.DeviceSnapshot, error) {
	page = normalizePage(page)

	return d.querySnapshots(ctx,
		"SELECT "+selectSnapshotCols+" FROM device_snapshots WHERE device_mac = ? AND sample_time >= ?"+
			" ORDER BY sample_time DESC LIMIT ? OFFSET ?",
		mac, since.UnixNano(), page.Limit, page.Offset)
}

// SnapshotsInRange returns every device's samples in [since, until], ordered
// by device then time. The correlator builds its evidence from this.
func (d *DB) SnapshotsInRange(ctx context.Context, since, until time.Time) ([]*models.DeviceSnapshot, error) {
	return d.querySnapshots(ctx,
		"SELECT "+selectSnapshotCols+" FROM device_snapshots WHERE sample_time >= ? AND sample_time <= ?"+
			" ORDER BY device_mac, sample_time ASC",
		since.UnixNano(), until.UnixNano())
}

// ListCorrelations pages through a device's correlation links, newest first.
func (d *DB) ListCorrelations(ctx context.Context, mac string, page models.Page) ([]*models.SyslogDeviceCorrelation, error) {
	page = normalizePage(page)

	conn, err := d.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	rows, err := conn.QueryContext(ctx,
		"SELECT message_id, device_mac, confidence, matched_at FROM syslog_device_correlations"+
			" WHERE device_mac = ? ORDER BY matched_at DESC LIMIT ? OFFSET ?",
		mac, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}
	defer rows.Close()

	var out []*models.SyslogDeviceCorrelation

	for rows.Next() {
		var (
			c         models.SyslogDeviceCorrelation
			matchedAt int64
		)

		if err := rows.Scan(&c.MessageID, &c.DeviceMAC, &c.Confidence, &matchedAt); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFailedToScan, err)
		}

		c.MatchedAt = time.Unix(0, matchedAt).UTC()
		out = append(out, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	return out, nil
}
