// Package event defines the on-disk record shapes of the meshlog store and
// the Normalizer that converts raw packet trees into typed Messages.
//
// A Record is one NDJSON line. Records are a tagged union: "rx" and
// "tx_echo" carry a raw packet object, "snapshot*" records carry the device
// identity and its peer-node table. Raw packets are loosely typed key-value
// trees; they are the only place untyped data enters the system, and every
// field access in the Normalizer is explicit about its absence policy.
package event

import (
	"strings"
	"time"
)

// Record type tags.
const (
	TypeRx     = "rx"
	TypeTxEcho = "tx_echo"

	TypeSnapshot         = "snapshot"
	TypeSnapshotStart    = "snapshot_start"
	TypeSnapshotPeriodic = "snapshot_periodic"
	TypeSnapshotConnect  = "snapshot_connect"
)

// Record is a single event as written to (and read from) an hourly log file.
// Exactly one line of NDJSON. Records are immutable once written.
type Record struct {
	Type string `json:"type"`
	TS   string `json:"ts"`

	// Packet is present on rx and tx_echo records.
	Packet map[string]any `json:"packet,omitempty"`

	// MyInfo, Nodes and RadioConfig are present on snapshot* records.
	MyInfo      map[string]any `json:"myInfo,omitempty"`
	Nodes       map[string]any `json:"nodes,omitempty"`
	RadioConfig any            `json:"radioConfig,omitempty"`
}

// IsSnapshot reports whether the record is any snapshot variant.
func (r *Record) IsSnapshot() bool {
	return strings.HasPrefix(r.Type, TypeSnapshot)
}

// IsPacket reports whether the record carries a packet (rx or tx_echo).
func (r *Record) IsPacket() bool {
	return r.Type == TypeRx || r.Type == TypeTxEcho
}

// Time parses the record timestamp. Returns the zero time when the
// timestamp is absent or not parseable; callers treat zero as "no timestamp".
func (r *Record) Time() time.Time {
	return ParseTime(r.TS)
}

// ParseTime parses an ISO-8601 timestamp with timezone, as written by the
// sniffer ("2006-01-02T15:04:05.999999Z07:00" and friends). Returns the zero
// time on failure.
func ParseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// FormatTime renders a timestamp the way records store them.
func FormatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}
