package models

import "time"

// Page bounds a read-API result set. Zero Limit falls back to the store's
// default page size.
type Page struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// SyslogFilter narrows message queries. Zero values are ignored. MaxSeverity
// is an inclusive upper bound on the numeric level (lower = more severe);
// nil disables the bound.
type SyslogFilter struct {
	Start       time.Time `json:"start,omitempty"`
	End         time.Time `json:"end,omitempty"`
	MaxSeverity *int      `json:"max_severity,omitempty"`
	Category    string    `json:"category,omitempty"`
	SourceHost  string    `json:"source_host,omitempty"`
	SourceIP    string    `json:"source_ip,omitempty"`
}
