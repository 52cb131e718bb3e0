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
	"strings"
)

// Timestamps are stored as integer Unix nanoseconds: comparisons stay exact
// and independent of driver time formatting.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS syslog_messages (
		id          TEXT PRIMARY KEY,
		received_at INTEGER NOT NULL,
		source_host TEXT NOT NULL DEFAULT '',
		source_ip   TEXT NOT NULL DEFAULT '',
		facility    INTEGER NOT NULL,
		severity    INTEGER NOT NULL,
		app_name    TEXT NOT NULL DEFAULT '',
		message     TEXT NOT NULL,
		category    TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_syslog_received_at ON syslog_messages (received_at)`,
	`CREATE INDEX IF NOT EXISTS idx_syslog_source_ip ON syslog_messages (source_ip)`,

	`CREATE TABLE IF NOT EXISTS devices (
		mac        TEXT PRIMARY KEY,
		first_seen INTEGER NOT NULL,
		last_seen  INTEGER NOT NULL,
		nickname   TEXT NOT NULL DEFAULT '',
		location   TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS device_snapshots (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		device_mac  TEXT NOT NULL REFERENCES devices (mac),
		sample_time INTEGER NOT NULL,
		is_online   INTEGER NOT NULL,
		rssi        INTEGER NOT NULL DEFAULT 0,
		tx_rate     REAL NOT NULL DEFAULT 0,
		rx_rate     REAL NOT NULL DEFAULT 0,
		interface   TEXT NOT NULL DEFAULT '',
		ip_address  TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_device_time ON device_snapshots (device_mac, sample_time DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_sample_time ON device_snapshots (sample_time)`,

	`CREATE TABLE IF NOT EXISTS syslog_device_correlations (
		message_id TEXT NOT NULL REFERENCES syslog_messages (id) ON DELETE CASCADE,
		device_mac TEXT NOT NULL REFERENCES devices (mac),
		confidence REAL NOT NULL,
		matched_at INTEGER NOT NULL,
		PRIMARY KEY (message_id, device_mac)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_correlations_device ON syslog_device_correlations (device_mac)`,
}

// expectedColumns is the definition the startup validation checks against.
// A database created by an incompatible version fails fast instead of
// corrupting writes later.
var expectedColumns = map[string][]string{
	"syslog_messages":            {"id", "received_at", "source_host", "source_ip", "facility", "severity", "app_name", "message", "category"},
	"devices":                    {"mac", "first_seen", "last_seen", "nickname", "location"},
	"device_snapshots":           {"id", "device_mac", "sample_time", "is_online", "rssi", "tx_rate", "rx_rate", "interface", "ip_address"},
	"syslog_device_correlations": {"message_id", "device_mac", "confidence", "matched_at"},
}

func (d *DB) initSchema(ctx context.Context) error {
	return d.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range schemaStatements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("%w: %w", ErrFailedToInit, err)
			}
		}

		return nil
	})
}

// validateSchema checks every expected table for the expected column set.
func (d *DB) validateSchema(ctx context.Context) error {
	conn, err := d.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	for table, want := range expectedColumns {
		rows, err := conn.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrFailedToQuery, err)
		}

		got := make(map[string]bool)

		for rows.Next() {
			var (
				cid         int
				name, typ   string
				notNull, pk int
				defaultVal  sql.NullString
			)

			if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
				_ = rows.Close()
				return fmt.Errorf("%w: %w", ErrFailedToScan, err)
			}

			got[name] = true
		}

		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return fmt.Errorf("%w: %w", ErrFailedToQuery, err)
		}

		_ = rows.Close()

		if len(got) == 0 {
			return fmt.Errorf("%w: table %q is missing", ErrSchemaMismatch, table)
		}

		var missing []string

		for _, col := range want {
			if !got[col] {
				missing = append(missing, col)
			}
		}

		if len(missing) > 0 {
			return fmt.Errorf("%w: table %q is missing columns %s",
				ErrSchemaMismatch, table, strings.Join(missing, ", "))
		}
	}

	return nil
}
