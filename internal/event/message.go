package event

import "time"

// Message is the normalized view of an rx or tx_echo record. All fields are
// best-effort extractions from the raw packet; optional metrics are pointers
// so that absence survives JSON round-trips as null rather than zero.
type Message struct {
	TS        string `json:"ts"`
	EventType string `json:"etype"`

	FromID string `json:"from_id"`
	ToID   string `json:"to_id"`

	App  string  `json:"app"`
	Text *string `json:"text"`

	Channel   *int64   `json:"channel"`
	RxRSSI    *float64 `json:"rxRssi"`
	RxSNR     *float64 `json:"rxSnr"`
	HopLimit  *int64   `json:"hopLimit"`
	HopStart  *int64   `json:"hopStart"`
	RelayNode *int64   `json:"relayNode"`
	Priority  string   `json:"priority,omitempty"`
	PacketID  *int64   `json:"id"`

	Encrypted bool `json:"is_encrypted"`

	// Private and DM are the packet's explicit direct-message hints;
	// nil means the packet did not say either way.
	Private *bool `json:"decoded_isPrivate"`
	DM      *bool `json:"decoded_dm"`

	Telemetry Telemetry `json:"telemetry"`
	Position  *Position `json:"position"`

	// Time is TS parsed to UTC; zero when TS is not parseable.
	Time time.Time `json:"-"`
}

// Telemetry groups the optional metric maps a packet may carry. The maps are
// passed through as decoded; metric names vary by firmware, so no schema is
// imposed beyond the three well-known groups.
type Telemetry struct {
	Device      map[string]any `json:"deviceMetrics,omitempty"`
	Environment map[string]any `json:"environmentMetrics,omitempty"`
	LocalStats  map[string]any `json:"localStats,omitempty"`
}

// Empty reports whether no telemetry group is present.
func (t Telemetry) Empty() bool {
	return t.Device == nil && t.Environment == nil && t.LocalStats == nil
}

// Position is a resolved GPS fix. It exists only when both latitude and
// longitude resolved, either as decimal degrees or integer micro-degrees.
type Position struct {
	Lat        float64  `json:"lat"`
	Lon        float64  `json:"lon"`
	Altitude   *float64 `json:"altitude,omitempty"`
	SatsInView *int64   `json:"satsInView,omitempty"`
}
