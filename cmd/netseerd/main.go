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

// netseerd is the NetSeer daemon: it ingests syslog over UDP, polls the
// network for device presence, and persists everything to a local SQLite
// store for correlation and retention.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/netseer-io/netseer/pkg/config"
	"github.com/netseer-io/netseer/pkg/core"
	"github.com/netseer-io/netseer/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "netseerd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/netseer/netseerd.json", "Path to the daemon config file")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loader := config.NewConfig(nil)

	var cfg core.Config
	if err := loader.LoadAndValidate(ctx, *configPath, &cfg); err != nil {
		return fmt.Errorf("loading config %s: %w", *configPath, err)
	}

	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}

	svc, err := core.New(ctx, &cfg, log)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		for sig := range sigCh {
			if sig == syscall.SIGHUP {
				var fresh core.Config
				if err := loader.LoadAndValidate(ctx, *configPath, &fresh); err != nil {
					log.Error().Err(err).Msg("Config reload failed, keeping current settings")
					continue
				}

				svc.ApplyTunables(&fresh)

				continue
			}

			log.Info().Str("signal", sig.String()).Msg("Shutting down")
			svc.Stop()

			return
		}
	}()

	return svc.Start(ctx)
}
