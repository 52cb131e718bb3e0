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

// Package syslog ingests router syslog over UDP: a pure datagram parser and
// the socket read loop that feeds the shared ingest queue.
package syslog

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/netseer-io/netseer/pkg/models"
)

const (
	maxPriority  = 191 // facility 23, severity 7
	rfc3164Stamp = "Jan _2 15:04:05"
)

// ParseError is returned for any malformed datagram. The caller logs it and
// drops the datagram; a single bad packet never halts ingestion.
type ParseError struct {
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("syslog parse error: %s", e.Reason)
}

func parseError(reason, raw string) *ParseError {
	if len(raw) > 128 {
		raw = raw[:128]
	}

	return &ParseError{Reason: reason, Raw: raw}
}

// Parse turns one raw datagram into a SyslogMessage. It accepts BSD-style
// framing (<PRI>TIMESTAMP HOST TAG: MSG), RFC 5424 structured lines, and
// bare <PRI>MSG partials. It is a pure function: no I/O, no panics.
func Parse(raw []byte, receivedAt time.Time, sourceIP string) (*models.SyslogMessage, error) {
	line := strings.TrimRight(string(raw), "\r\n\x00")
	if line == "" {
		return nil, parseError("empty datagram", line)
	}

	if line[0] != '<' {
		return nil, parseError("missing priority tag", line)
	}

	end := strings.IndexByte(line, '>')
	if end < 2 || end > 4 {
		return nil, parseError("malformed priority tag", line)
	}

	pri, err := strconv.Atoi(line[1:end])
	if err != nil || pri < 0 || pri > maxPriority {
		return nil, parseError("priority out of range", line)
	}

	msg := &models.SyslogMessage{
		ReceivedAt: receivedAt,
		SourceIP:   sourceIP,
		Facility:   pri >> 3,
		Severity:   pri & 7,
	}

	rest := line[end+1:]
	if rest == "" {
		return nil, parseError("empty message body", line)
	}

	switch {
	case strings.HasPrefix(rest, "1 "):
		err = parseStructured(rest[2:], msg)
	default:
		parseBSD(rest, receivedAt, msg)
	}

	if err != nil {
		return nil, parseError(err.Error(), line)
	}

	if msg.SourceHost == "" {
		msg.SourceHost = sourceIP
	}

	msg.Category = deriveCategory(msg.AppName, msg.Message)

	return msg, nil
}

// parseBSD handles <PRI>Mmm dd hh:mm:ss HOST TAG: MSG. Lines without a
// parseable timestamp degrade to a bare message with the source address as
// host; routers routinely send such partials.
func parseBSD(rest string, receivedAt time.Time, msg *models.SyslogMessage) {
	if len(rest) > len(rfc3164Stamp) {
		if _, err := time.Parse(rfc3164Stamp, rest[:len(rfc3164Stamp)]); err == nil {
			after := strings.TrimLeft(rest[len(rfc3164Stamp):], " ")

			host, tail, ok := strings.Cut(after, " ")
			if ok && host != "" {
				msg.SourceHost = host
				msg.AppName, msg.Message = splitTag(tail)

				return
			}
		}
	}

	msg.Message = rest
}

// parseStructured handles the RFC 5424 shape after the version field:
// TIMESTAMP HOST APP PROCID MSGID STRUCTURED-DATA MSG. Nil fields are "-".
func parseStructured(rest string, msg *models.SyslogMessage) error {
	fields := strings.SplitN(rest, " ", 6)
	if len(fields) < 6 {
		return fmt.Errorf("structured line has %d of 6 header fields", len(fields))
	}

	timestamp, host, app := fields[0], fields[1], fields[2]

	if timestamp != "-" {
		if _, err := time.Parse(time.RFC3339, timestamp); err != nil {
			return fmt.Errorf("bad structured timestamp %q", timestamp)
		}
	}

	if host != "-" {
		msg.SourceHost = host
	}

	if app != "-" {
		msg.AppName = app
	}

	// fields[5] holds STRUCTURED-DATA plus the free-form message.
	body := fields[5]

	if strings.HasPrefix(body, "[") {
		if idx := strings.LastIndexByte(body, ']'); idx >= 0 {
			body = strings.TrimLeft(body[idx+1:], " ")
		}
	} else if body == "-" {
		body = ""
	} else if cut, tail, ok := strings.Cut(body, " "); ok && cut == "-" {
		body = tail
	}

	if body == "" {
		return fmt.Errorf("structured line has no message")
	}

	msg.Message = body

	return nil
}

// splitTag separates "app[pid]: msg" or "app: msg" into app and message.
func splitTag(tail string) (app, message string) {
	tag, rest, ok := strings.Cut(tail, ": ")
	if !ok || strings.ContainsAny(tag, " ") {
		return "", tail
	}

	if idx := strings.IndexByte(tag, '['); idx >= 0 {
		tag = tag[:idx]
	}

	return tag, rest
}

// Format re-serializes a message in BSD style. Parse(Format(m)) preserves
// facility, severity, host, and message verbatim.
func Format(m *models.SyslogMessage) string {
	pri := m.Facility*8 + m.Severity
	stamp := m.ReceivedAt.Format(rfc3164Stamp)

	if m.AppName != "" {
		return fmt.Sprintf("<%d>%s %s %s: %s", pri, stamp, m.SourceHost, m.AppName, m.Message)
	}

	return fmt.Sprintf("<%d>%s %s %s", pri, stamp, m.SourceHost, m.Message)
}

// categoryKeywords maps substrings of the app name (and, failing that, the
// message text) to a derived category tag.
var categoryKeywords = []struct {
	category string
	words    []string
}{
	{models.CategoryDHCP, []string{"dhcp"}},
	{models.CategoryDNS, []string{"dnsmasq", "named", "unbound", "dns"}},
	{models.CategoryWireless, []string{"hostapd", "wpa", "wlan", "wifi", "wireless", "80211"}},
	{models.CategoryFirewall, []string{"firewall", "iptables", "nftables", "ufw", "netfilter"}},
	{models.CategoryAuth, []string{"sshd", "sudo", "login", "pam", "auth"}},
}

func deriveCategory(app, message string) string {
	app = strings.ToLower(app)
	message = strings.ToLower(message)

	for _, k := range categoryKeywords {
		for _, w := range k.words {
			if strings.Contains(app, w) {
				return k.category
			}
		}
	}

	for _, k := range categoryKeywords {
		for _, w := range k.words {
			if strings.Contains(message, w) {
				return k.category
			}
		}
	}

	return models.CategorySystem
}
