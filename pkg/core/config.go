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
	"errors"
	"time"

	"github.com/netseer-io/netseer/pkg/collector"
	"github.com/netseer-io/netseer/pkg/correlator"
	"github.com/netseer-io/netseer/pkg/db"
	"github.com/netseer-io/netseer/pkg/logger"
	"github.com/netseer-io/netseer/pkg/models"
	"github.com/netseer-io/netseer/pkg/retention"
	"github.com/netseer-io/netseer/pkg/syslog"
	"github.com/netseer-io/netseer/pkg/writer"
)

const (
	defaultQueueCapacity = 10000
	defaultShutdownGrace = 30 * time.Second
)

var ErrNoDatabasePath = errors.New("database path is required")

// Config is the full daemon configuration, loaded from one JSON file.
type Config struct {
	Logging       *logger.Config    `json:"logging,omitempty"`
	Database      db.Config         `json:"database"`
	Syslog        syslog.Config     `json:"syslog"`
	QueueCapacity int               `json:"queue_capacity"`
	Writer        writer.Config     `json:"writer"`
	Collector     collector.Config  `json:"collector"`
	Correlator    correlator.Config `json:"correlator"`
	Retention     retention.Config  `json:"retention"`
	ShutdownGrace models.Duration   `json:"shutdown_grace"`
}

func (c *Config) Normalize() {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = defaultQueueCapacity
	}

	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = models.Duration(defaultShutdownGrace)
	}

	c.Database.Normalize()
	c.Syslog.Normalize()
	c.Writer.Normalize()
	c.Collector.Normalize()
	c.Correlator.Normalize()
	c.Retention.Normalize()
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return ErrNoDatabasePath
	}

	return c.Retention.Validate()
}
