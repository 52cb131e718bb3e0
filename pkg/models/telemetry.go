package models

import (
	"time"
)

// SyslogMessage is a single ingested syslog record. Messages are immutable
// once written: the batch writer creates them and only the retention evictor
// removes them.
type SyslogMessage struct {
	ID         string    `json:"id"`
	ReceivedAt time.Time `json:"received_at"`
	SourceHost string    `json:"source_host"`
	SourceIP   string    `json:"source_ip"`
	Facility   int       `json:"facility"`
	Severity   int       `json:"severity"`
	AppName    string    `json:"app_name,omitempty"`
	Message    string    `json:"message"`
	Category   string    `json:"category,omitempty"`
}

// Severity levels per RFC 3164.
const (
	SeverityEmergency = 0
	SeverityDebug     = 7
	MaxFacility       = 23
)

// SeverityLabel converts a severity number to its conventional name.
func SeverityLabel(severity int) string {
	labels := []string{"emergency", "alert", "critical", "error", "warning", "notice", "info", "debug"}
	if severity >= 0 && severity < len(labels) {
		return labels[severity]
	}

	return "unknown"
}

// Message categories derived by the parser from app names and message text.
const (
	CategoryDHCP     = "dhcp"
	CategoryDNS      = "dns"
	CategoryWireless = "wireless"
	CategoryFirewall = "firewall"
	CategoryAuth     = "auth"
	CategorySystem   = "system"
)

// Device is a durable registry entry keyed by MAC address. Devices are
// created on first sighting and never deleted; every field other than the
// MAC may be unknown.
type Device struct {
	MAC       string    `json:"mac"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	Nickname  string    `json:"nickname,omitempty"`
	Location  string    `json:"location,omitempty"`
}

// DeviceSnapshot is one append-only presence sample for a device. Within a
// single collector run, sample times strictly increase per device.
type DeviceSnapshot struct {
	DeviceMAC  string    `json:"device_mac"`
	SampleTime time.Time `json:"sample_time"`
	IsOnline   bool      `json:"is_online"`
	RSSI       int       `json:"rssi,omitempty"`
	TxRate     float64   `json:"tx_rate,omitempty"`
	RxRate     float64   `json:"rx_rate,omitempty"`
	Interface  string    `json:"interface,omitempty"`
	IPAddress  string    `json:"ip_address,omitempty"`
}

// DeviceObservation is one raw entry from a device enumeration source,
// before normalization into the registry and snapshot tables.
type DeviceObservation struct {
	MAC       string  `json:"mac"`
	IP        string  `json:"ip,omitempty"`
	Hostname  string  `json:"hostname,omitempty"`
	RSSI      int     `json:"rssi,omitempty"`
	TxRate    float64 `json:"tx_rate,omitempty"`
	RxRate    float64 `json:"rx_rate,omitempty"`
	Interface string  `json:"interface,omitempty"`
	Online    *bool   `json:"online,omitempty"`
}

// PresenceStatus is the derived online/offline state of a device. It is
// computed from snapshot history, never stored.
type PresenceStatus struct {
	DeviceMAC  string    `json:"device_mac"`
	State      string    `json:"state"`
	LastSample time.Time `json:"last_sample,omitempty"`
	LastOnline time.Time `json:"last_online,omitempty"`
}

const (
	StateOnline  = "online"
	StateOffline = "offline"
	StateUnknown = "unknown"
)

// SyslogDeviceCorrelation links a syslog message to a device with a
// heuristic confidence in [0,1]. Recomputable: upsert on (message, device).
type SyslogDeviceCorrelation struct {
	MessageID  string    `json:"message_id"`
	DeviceMAC  string    `json:"device_mac"`
	Confidence float64   `json:"confidence"`
	MatchedAt  time.Time `json:"matched_at"`
}

// RetentionPolicy bounds the age of rows in one table. PreserveUnresolved
// keeps rows that still lack a correlation link past the cutoff.
type RetentionPolicy struct {
	Table              string   `json:"table"`
	MaxAge             Duration `json:"max_age"`
	PreserveUnresolved bool     `json:"preserve_unresolved"`
}

// MetricsSnapshot is the process-wide counters view polled by the
// presentation layer.
type MetricsSnapshot struct {
	QueueDepth        int       `json:"queue_depth"`
	QueueCapacity     int       `json:"queue_capacity"`
	Received          int64     `json:"received"`
	ParseErrors       int64     `json:"parse_errors"`
	Dropped           int64     `json:"dropped"`
	BatchesWritten    int64     `json:"batches_written"`
	BatchesFailed     int64     `json:"batches_failed"`
	BatchesDiscarded  int64     `json:"batches_discarded"`
	RowsWritten       int64     `json:"rows_written"`
	PoolExhausted     int64     `json:"pool_exhausted"`
	LastBatchDuration Duration  `json:"last_batch_duration"`
	LastWriteSuccess  time.Time `json:"last_write_success,omitempty"`
	LastPollSuccess   time.Time `json:"last_poll_success,omitempty"`
	LastCorrelation   time.Time `json:"last_correlation,omitempty"`
}

// HealthStatus is the health probe result: storage availability plus
// freshness indicators. Degraded ingestion shows up here as staleness, not
// as an error on read paths.
type HealthStatus struct {
	Healthy          bool      `json:"healthy"`
	DBAvailable      bool      `json:"db_available"`
	QueueDepth       int       `json:"queue_depth"`
	QueueCapacity    int       `json:"queue_capacity"`
	LastWriteSuccess time.Time `json:"last_write_success,omitempty"`
	LastPollSuccess  time.Time `json:"last_poll_success,omitempty"`
	MemoryUsedPct    float64   `json:"memory_used_pct,omitempty"`
	ProcessRSSBytes  uint64    `json:"process_rss_bytes,omitempty"`
	Error            string    `json:"error,omitempty"`
}
