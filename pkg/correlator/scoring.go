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

package correlator

import (
	"strings"
	"time"

	"github.com/netseer-io/netseer/pkg/models"
)

// ScoringVersion identifies the weight set below. Bump it when weights
// change so logs from different runs can be compared honestly.
const ScoringVersion = 1

// Evidence weights. IP is the strongest signal a home network offers;
// hostnames are self-reported and reused; a presence transition near the
// message only corroborates.
const (
	ipWeight         = 0.6
	hostnameWeight   = 0.3
	transitionWeight = 0.1

	// DefaultThreshold admits IP-only matches and hostname+transition
	// matches, and rejects hostname-only ones.
	DefaultThreshold = 0.5

	// transitionProximity is how close a presence flip must be to the
	// message to count as corroboration.
	transitionProximity = 2 * time.Minute
)

// DeviceEvidence is everything known about one device inside the scoring
// window, precomputed so each message scores against it in O(1).
type DeviceEvidence struct {
	MAC         string
	Hostname    string
	LastSeen    time.Time
	IPs         map[string]struct{}
	Transitions []time.Time
}

// Score rates how likely the message originated from the device, in [0,1].
// Deterministic: same message and evidence always yield the same score.
func Score(msg *models.SyslogMessage, ev *DeviceEvidence) float64 {
	var score float64

	if msg.SourceIP != "" {
		if _, ok := ev.IPs[msg.SourceIP]; ok {
			score += ipWeight
		}
	}

	if hostnameMatches(msg.SourceHost, ev.Hostname) {
		score += hostnameWeight
	}

	for _, t := range ev.Transitions {
		if absDuration(msg.ReceivedAt.Sub(t)) <= transitionProximity {
			score += transitionWeight
			break
		}
	}

	return score
}

// hostnameMatches compares case-insensitively, also trying the short label
// since syslog senders often report an FQDN while the registry holds a
// bare name.
func hostnameMatches(sourceHost, deviceName string) bool {
	if sourceHost == "" || deviceName == "" {
		return false
	}

	if strings.EqualFold(sourceHost, deviceName) {
		return true
	}

	short, _, found := strings.Cut(sourceHost, ".")

	return found && strings.EqualFold(short, deviceName)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}

	return d
}
