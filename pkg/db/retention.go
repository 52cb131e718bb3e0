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
	"time"
)

// DeleteMessagesBefore removes messages older than the cutoff in one
// transaction. With preserveUnresolved, messages that still lack any
// correlation link are kept past the cutoff.
func (d *DB) DeleteMessagesBefore(ctx context.Context, cutoff time.Time, preserveUnresolved bool) (int64, error) {
	query := "DELETE FROM syslog_messages WHERE received_at < ?"
	if preserveUnresolved {
		query += ` AND EXISTS (
			SELECT 1 FROM syslog_device_correlations c WHERE c.message_id = syslog_messages.id)`
	}

	return d.deleteWhere(ctx, query, cutoff.UnixNano())
}

// DeleteSnapshotsBefore removes snapshot rows older than the cutoff.
// Devices themselves are durable inventory and are never deleted.
func (d *DB) DeleteSnapshotsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return d.deleteWhere(ctx, "DELETE FROM device_snapshots WHERE sample_time < ?", cutoff.UnixNano())
}

// DeleteCorrelationsBefore removes correlation links older than the cutoff.
// Links also disappear with their message via ON DELETE CASCADE.
func (d *DB) DeleteCorrelationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return d.deleteWhere(ctx, "DELETE FROM syslog_device_correlations WHERE matched_at < ?", cutoff.UnixNano())
}

func (d *DB) deleteWhere(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var deleted int64

	err := d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrFailedToQuery, err)
		}

		deleted, err = res.RowsAffected()

		return err
	})
	if err != nil {
		return 0, err
	}

	return deleted, nil
}

// Compact reclaims file space. VACUUM can briefly block readers, so it is
// never run inline with eviction; callers opt in explicitly.
func (d *DB) Compact(ctx context.Context) error {
	conn, err := d.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("%w: vacuum: %w", ErrFailedToQuery, err)
	}

	return nil
}
