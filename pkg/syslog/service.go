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

package syslog

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/netseer-io/netseer/pkg/logger"
	"github.com/netseer-io/netseer/pkg/metrics"
	"github.com/netseer-io/netseer/pkg/queue"
)

const (
	defaultListenAddr = ":5514"
	maxDatagramSize   = 64 * 1024
	readPollInterval  = time.Second
	readErrorBackoff  = 500 * time.Millisecond
	maxReadBackoff    = 10 * time.Second
)

// Config for the ingest service. QueueCapacity sizes the shared queue and
// belongs to the core that owns it; only the listen address matters here.
type Config struct {
	ListenAddr string `json:"listen_addr"`
}

func (c *Config) Normalize() {
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}
}

// Service owns the UDP socket and feeds parsed messages into the bounded
// ingest queue. It applies no retries and never blocks on persistence: the
// queue's drop-oldest policy is the only backpressure.
type Service struct {
	conn      *net.UDPConn
	queue     *queue.Queue
	counters  *metrics.Counters
	logger    logger.Logger
	closeOnce sync.Once
}

// NewService binds the UDP socket. A bind failure is fatal at startup.
func NewService(cfg Config, q *queue.Queue, counters *metrics.Counters, log logger.Logger) (*Service, error) {
	cfg.Normalize()

	addr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid syslog listen address %q: %w", cfg.ListenAddr, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind syslog socket on %q: %w", cfg.ListenAddr, err)
	}

	log.Info().Str("addr", conn.LocalAddr().String()).Msg("Syslog ingest listening")

	return &Service{
		conn:     conn,
		queue:    q,
		counters: counters,
		logger:   log,
	}, nil
}

// LocalAddr reports the bound address, useful when the config requested an
// ephemeral port.
func (s *Service) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Start blocks on the socket read loop until ctx is canceled. Read errors
// mid-run are retried with backoff; they never terminate ingestion.
func (s *Service) Start(ctx context.Context) error {
	buf := make([]byte, maxDatagramSize)
	backoff := readErrorBackoff

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Short deadline so cancellation is observed between datagrams.
		if err := s.conn.SetReadDeadline(time.Now().Add(readPollInterval)); err != nil {
			return fmt.Errorf("failed to set read deadline: %w", err)
		}

		n, remote, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}

			if errors.Is(err, net.ErrClosed) {
				return ctx.Err()
			}

			s.logger.Warn().Err(err).Dur("backoff", backoff).Msg("Syslog read error, backing off")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}

			if backoff *= 2; backoff > maxReadBackoff {
				backoff = maxReadBackoff
			}

			continue
		}

		backoff = readErrorBackoff

		s.handleDatagram(buf[:n], remote)
	}
}

func (s *Service) handleDatagram(raw []byte, remote *net.UDPAddr) {
	s.counters.IncReceived()

	msg, err := Parse(raw, time.Now(), remote.IP.String())
	if err != nil {
		s.counters.IncParseErrors()
		s.logger.Debug().Err(err).Str("remote", remote.String()).Msg("Dropping malformed datagram")

		return
	}

	if dropped := s.queue.Push(queue.Entry{Message: msg}); dropped > 0 {
		s.counters.AddDropped(int64(dropped))
	}
}

// Stop closes the socket, unblocking the read loop.
func (s *Service) Stop() {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
}
