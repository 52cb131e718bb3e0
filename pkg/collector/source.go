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

package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/netseer-io/netseer/pkg/models"
)

var (
	ErrEnumerationFailed = errors.New("device enumeration failed")
	ErrUnknownSourceType = errors.New("unknown enumeration source type")
)

// Source enumerates the devices currently known to the network edge. One
// call returns one point-in-time view; the collector turns it into registry
// upserts and presence snapshots.
type Source interface {
	Enumerate(ctx context.Context) ([]models.DeviceObservation, error)
}

// SourceConfig selects and configures an enumeration backend.
type SourceConfig struct {
	Type string `json:"type"` // "http" or "snmp"

	// http
	Endpoint string          `json:"endpoint,omitempty"`
	Timeout  models.Duration `json:"timeout,omitempty"`

	// snmp
	Target    string `json:"target,omitempty"`
	Port      uint16 `json:"port,omitempty"`
	Community string `json:"community,omitempty"`
}

const defaultSourceTimeout = 10 * time.Second

func (c *SourceConfig) Normalize() {
	if c.Timeout <= 0 {
		c.Timeout = models.Duration(defaultSourceTimeout)
	}

	if c.Port == 0 {
		c.Port = 161
	}

	if c.Community == "" {
		c.Community = "public"
	}
}

// NewSource builds the backend named by the config.
func NewSource(cfg SourceConfig) (Source, error) {
	cfg.Normalize()

	switch cfg.Type {
	case "http":
		return NewHTTPSource(cfg.Endpoint, time.Duration(cfg.Timeout)), nil
	case "snmp":
		return NewSNMPSource(cfg.Target, cfg.Port, cfg.Community, time.Duration(cfg.Timeout)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSourceType, cfg.Type)
	}
}

// HTTPSource polls a JSON endpoint (typically a router or controller API)
// that returns an array of device observations.
type HTTPSource struct {
	endpoint string
	client   *http.Client
}

func NewHTTPSource(endpoint string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSource) Enumerate(ctx context.Context) ([]models.DeviceObservation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEnumerationFailed, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEnumerationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d", ErrEnumerationFailed, s.endpoint, resp.StatusCode)
	}

	var observations []models.DeviceObservation
	if err := json.NewDecoder(resp.Body).Decode(&observations); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %w", ErrEnumerationFailed, err)
	}

	return observations, nil
}

// ipNetToMediaPhysAddress: the ARP table of RFC 1213 / IP-MIB. Each row's
// OID suffix carries the interface index and the IP; the value is the MAC.
const arpTableOID = ".1.3.6.1.2.1.4.22.1.2"

// SNMPSource walks the ARP table of an SNMP-speaking gateway. Presence in
// the table counts as online; signal metrics are not available this way.
type SNMPSource struct {
	target    string
	port      uint16
	community string
	timeout   time.Duration
}

func NewSNMPSource(target string, port uint16, community string, timeout time.Duration) *SNMPSource {
	return &SNMPSource{
		target:    target,
		port:      port,
		community: community,
		timeout:   timeout,
	}
}

func (s *SNMPSource) Enumerate(ctx context.Context) ([]models.DeviceObservation, error) {
	client := &gosnmp.GoSNMP{
		Context:   ctx,
		Target:    s.target,
		Port:      s.port,
		Community: s.community,
		Version:   gosnmp.Version2c,
		Timeout:   s.timeout,
		Retries:   1,
	}

	if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("%w: connecting to %s: %w", ErrEnumerationFailed, s.target, err)
	}
	defer client.Conn.Close()

	pdus, err := client.BulkWalkAll(arpTableOID)
	if err != nil {
		return nil, fmt.Errorf("%w: walking ARP table: %w", ErrEnumerationFailed, err)
	}

	var observations []models.DeviceObservation

	for _, pdu := range pdus {
		raw, ok := pdu.Value.([]byte)
		if !ok || len(raw) != 6 {
			continue
		}

		observations = append(observations, models.DeviceObservation{
			MAC: net.HardwareAddr(raw).String(),
			IP:  arpRowIP(pdu.Name),
		})
	}

	return observations, nil
}

// arpRowIP extracts the IP from an ipNetToMediaPhysAddress row OID, whose
// suffix is <ifIndex>.<a>.<b>.<c>.<d>. Returns "" when the shape is off.
func arpRowIP(oid string) string {
	suffix := strings.TrimPrefix(strings.TrimPrefix(oid, arpTableOID), ".")

	parts := strings.Split(suffix, ".")
	if len(parts) != 5 {
		return ""
	}

	return strings.Join(parts[1:], ".")
}
