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

	"github.com/netseer-io/netseer/pkg/models"
)

const (
	insertMessageSQL = `INSERT INTO syslog_messages
		(id, received_at, source_host, source_ip, facility, severity, app_name, message, category)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	// Registry entries keep their first_seen forever; last_seen only moves
	// forward. Nickname and location are operator-set and never clobbered.
	upsertDeviceSQL = `INSERT INTO devices (mac, first_seen, last_seen, nickname, location)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (mac) DO UPDATE SET
			last_seen = MAX(devices.last_seen, excluded.last_seen)`

	insertSnapshotSQL = `INSERT INTO device_snapshots
		(device_mac, sample_time, is_online, rssi, tx_rate, rx_rate, interface, ip_address)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	upsertCorrelationSQL = `INSERT INTO syslog_device_correlations
		(message_id, device_mac, confidence, matched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (message_id, device_mac) DO UPDATE SET
			confidence = excluded.confidence,
			matched_at = excluded.matched_at`
)

// WriteBatch persists one batch in a single transaction: all rows become
// visible together or not at all. Insertion order within the batch matches
// slice order, which the writer builds in arrival order.
func (d *DB) WriteBatch(ctx context.Context, batch *Batch) error {
	if batch == nil || batch.Empty() {
		return nil
	}

	return d.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertDevices(ctx, tx, batch.Devices); err != nil {
			return err
		}

		if err := insertSnapshots(ctx, tx, batch.Snapshots); err != nil {
			return err
		}

		return insertMessages(ctx, tx, batch.Messages)
	})
}

func insertDevices(ctx context.Context, tx *sql.Tx, devices []*models.Device) error {
	if len(devices) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, upsertDeviceSQL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToInsert, err)
	}
	defer stmt.Close()

	for _, dev := range devices {
		_, err := stmt.ExecContext(ctx,
			dev.MAC, dev.FirstSeen.UnixNano(), dev.LastSeen.UnixNano(), dev.Nickname, dev.Location)
		if err != nil {
			return fmt.Errorf("%w: device %s: %w", ErrFailedToInsert, dev.MAC, err)
		}
	}

	return nil
}

func insertSnapshots(ctx context.Context, tx *sql.Tx, snapshots []*models.DeviceSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, insertSnapshotSQL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToInsert, err)
	}
	defer stmt.Close()

	for _, s := range snapshots {
		_, err := stmt.ExecContext(ctx,
			s.DeviceMAC, s.SampleTime.UnixNano(), s.IsOnline, s.RSSI, s.TxRate, s.RxRate, s.Interface, s.IPAddress)
		if err != nil {
			return fmt.Errorf("%w: snapshot for %s: %w", ErrFailedToInsert, s.DeviceMAC, err)
		}
	}

	return nil
}

func insertMessages(ctx context.Context, tx *sql.Tx, messages []*models.SyslogMessage) error {
	if len(messages) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, insertMessageSQL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToInsert, err)
	}
	defer stmt.Close()

	for _, m := range messages {
		_, err := stmt.ExecContext(ctx,
			m.ID, m.ReceivedAt.UnixNano(), m.SourceHost, m.SourceIP,
			m.Facility, m.Severity, m.AppName, m.Message, m.Category)
		if err != nil {
			return fmt.Errorf("%w: message %s: %w", ErrFailedToInsert, m.ID, err)
		}
	}

	return nil
}

// UpsertCorrelations writes confidence-scored links in one transaction,
// keyed by (message_id, device_mac) so correlator reruns revise instead of
// duplicating.
func (d *DB) UpsertCorrelations(ctx context.Context, rows []*models.SyslogDeviceCorrelation) error {
	if len(rows) == 0 {
		return nil
	}

	return d.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, upsertCorrelationSQL)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrFailedToInsert, err)
		}
		defer stmt.Close()

		for _, row := range rows {
			_, err := stmt.ExecContext(ctx,
				row.MessageID, row.DeviceMAC, row.Confidence, row.MatchedAt.UnixNano())
			if err != nil {
				return fmt.Errorf("%w: correlation %s/%s: %w",
					ErrFailedToInsert, row.MessageID, row.DeviceMAC, err)
			}
		}

		return nil
	})
}
