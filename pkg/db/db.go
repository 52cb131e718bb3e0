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

// Package db is the persistence layer: a pooled, schema-validating SQLite
// store that every writer and reader in the system goes through.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/netseer-io/netseer/pkg/logger"
	"github.com/netseer-io/netseer/pkg/metrics"
	"github.com/netseer-io/netseer/pkg/models"
)

const (
	defaultMaxConns       = 5
	defaultAcquireTimeout = 5 * time.Second
	defaultPageSize       = 100
	maxPageSize           = 1000
)

// Config for the SQLite store.
type Config struct {
	Path           string          `json:"path"`
	MaxConns       int             `json:"max_conns"`
	AcquireTimeout models.Duration `json:"acquire_timeout"`
}

func (c *Config) Normalize() {
	if c.MaxConns <= 0 {
		c.MaxConns = defaultMaxConns
	}

	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = models.Duration(defaultAcquireTimeout)
	}
}

// DB implements Service on SQLite via database/sql. The pool is bounded;
// callers acquiring a connection block with a timeout and get
// ErrPoolExhausted rather than deadlocking.
type DB struct {
	pool           *sql.DB
	acquireTimeout time.Duration
	counters       *metrics.Counters
	logger         logger.Logger
}

// New opens the store, applies pragmas, creates the schema if absent, and
// validates it against the expected definition. Any failure here is an
// irrecoverable startup error.
func New(ctx context.Context, cfg *Config, counters *metrics.Counters, log logger.Logger) (Service, error) {
	cfg.Normalize()

	if cfg.Path == "" {
		return nil, fmt.Errorf("%w: no database path configured", ErrFailedOpenDB)
	}

	pool, err := sql.Open("sqlite", dsn(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedOpenDB, err)
	}

	pool.SetMaxOpenConns(cfg.MaxConns)
	pool.SetMaxIdleConns(cfg.MaxConns)

	d := &DB{
		pool:           pool,
		acquireTimeout: time.Duration(cfg.AcquireTimeout),
		counters:       counters,
		logger:         log,
	}

	if err := d.Ping(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("%w: %w", ErrFailedOpenDB, err)
	}

	if err := d.initSchema(ctx); err != nil {
		_ = pool.Close()
		return nil, err
	}

	if err := d.validateSchema(ctx); err != nil {
		_ = pool.Close()
		return nil, err
	}

	log.Info().Str("path", cfg.Path).Int("max_conns", cfg.MaxConns).Msg("Database opened")

	return d, nil
}

func dsn(path string) string {
	v := url.Values{}
	v.Add("_pragma", "journal_mode(WAL)")
	v.Add("_pragma", "busy_timeout(5000)")
	v.Add("_pragma", "foreign_keys(1)")
	v.Add("_pragma", "synchronous(NORMAL)")

	return "file:" + path + "?" + v.Encode()
}

// acquire checks a connection out of the pool, converting an acquire
// timeout into ErrPoolExhausted so callers can back off and retry.
func (d *DB) acquire(ctx context.Context) (*sql.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, d.acquireTimeout)
	defer cancel()

	conn, err := d.pool.Conn(acquireCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			d.counters.IncPoolExhausted()
			return nil, ErrPoolExhausted
		}

		return nil, err
	}

	return conn, nil
}

// withTx runs fn inside one transaction: commit on nil, rollback on error.
// The transaction is tied to the caller's context, so cancellation during
// shutdown rolls back rather than half-committing.
func (d *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	conn, err := d.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	return nil
}

// Ping verifies pool availability for the health probe.
func (d *DB) Ping(ctx context.Context) error {
	conn, err := d.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	return conn.PingContext(ctx)
}

// Close shuts the pool down.
func (d *DB) Close() error {
	return d.pool.Close()
}

func normalizePage(page models.Page) models.Page {
	if page.Limit <= 0 {
		page.Limit = defaultPageSize
	}

	if page.Limit > maxPageSize {
		page.Limit = maxPageSize
	}

	if page.Offset < 0 {
		page.Offset = 0
	}

	return page
}
