package event

import (
	"fmt"
	"strconv"
	"strings"
)

// Well-known port identifiers. Anything else numeric maps to PORT_<n>.
const (
	AppTextMessage = "TEXT_MESSAGE_APP"
	AppPosition    = "POSITION_APP"
	AppTelemetry   = "TELEMETRY_APP"
	AppUnknown     = "UNKNOWN"
)

var portNames = map[int64]string{
	1:  AppTextMessage,
	3:  AppPosition,
	67: AppTelemetry,
}

// Normalize converts an rx or tx_echo record into a Message. It never fails:
// missing or mistyped packet fields resolve to their absent value.
func Normalize(rec *Record) Message {
	pkt := rec.Packet
	decoded := asMap(pkt["decoded"])

	m := Message{
		TS:        rec.TS,
		EventType: rec.Type,
		Time:      rec.Time(),
	}

	m.FromID, m.ToID = packetIDs(pkt)
	m.App = AppName(portnum(decoded))

	if s, ok := decoded["text"].(string); ok {
		m.Text = &s
	}

	m.Channel = asInt(pkt["channel"])
	m.RxRSSI = asFloat(pkt["rxRssi"])
	m.RxSNR = asFloat(pkt["rxSnr"])
	m.HopLimit = asInt(pkt["hopLimit"])
	m.HopStart = asInt(pkt["hopStart"])
	m.RelayNode = asInt(pkt["relayNode"])
	m.PacketID = asInt(pkt["id"])
	if s, ok := pkt["priority"].(string); ok {
		m.Priority = s
	}

	// Encrypted packets carry the ciphertext itself in these fields, so any
	// non-empty value counts.
	m.Encrypted = truthy(pkt["encrypted"]) || truthy(pkt["pkiEncrypted"])

	m.Private = asBoolHint(decoded, "isPrivate")
	m.DM = asBoolHint(decoded, "dm")

	tel := asMap(decoded["telemetry"])
	m.Telemetry = Telemetry{
		Device:      asMap(tel["deviceMetrics"]),
		Environment: asMap(tel["environmentMetrics"]),
		LocalStats:  asMap(tel["localStats"]),
	}

	m.Position = extractPosition(asMap(decoded["position"]))

	return m
}

// AppName classifies a port identifier. Strings pass through, known numeric
// ports map to their symbolic name, unknown numbers become PORT_<n>.
func AppName(portnum any) string {
	switch v := portnum.(type) {
	case string:
		if v != "" {
			return v
		}
	case float64:
		return numericAppName(int64(v))
	case int:
		return numericAppName(int64(v))
	case int64:
		return numericAppName(v)
	}
	return AppUnknown
}

func numericAppName(n int64) string {
	if name, ok := portNames[n]; ok {
		return name
	}
	return fmt.Sprintf("PORT_%d", n)
}

// portnum returns the packet's port identifier, falling back to the
// payloadVariant field some firmware versions emit instead.
func portnum(decoded map[string]any) any {
	if v, ok := decoded["portnum"]; ok {
		return v
	}
	return decoded["payloadVariant"]
}

// packetIDs resolves the from/to node identifiers, preferring the symbolic
// fromId/toId fields and falling back to the numeric from/to envelope fields.
func packetIDs(pkt map[string]any) (fromID, toID string) {
	fromID = stringify(pkt["fromId"])
	toID = stringify(pkt["toId"])
	if fromID == "" {
		if v, ok := pkt["from"]; ok {
			fromID = stringify(v)
		}
	}
	if toID == "" {
		if v, ok := pkt["to"]; ok {
			toID = stringify(v)
		}
	}
	return fromID, toID
}

// extractPosition resolves a position sub-record. Decimal degrees win;
// integer micro-degrees (1e-7 deg) are the fallback. Nil unless both
// coordinates resolve.
func extractPosition(pos map[string]any) *Position {
	if pos == nil {
		return nil
	}

	lat := asFloat(pos["latitude"])
	lon := asFloat(pos["longitude"])
	if lat == nil || lon == nil {
		latI := asFloat(pos["latitudeI"])
		lonI := asFloat(pos["longitudeI"])
		if latI != nil && lonI != nil {
			l1 := *latI / 1e7
			l2 := *lonI / 1e7
			lat, lon = &l1, &l2
		}
	}
	if lat == nil || lon == nil {
		return nil
	}

	out := &Position{Lat: *lat, Lon: *lon}
	if _, ok := pos["altitude"]; ok {
		out.Altitude = asFloat(pos["altitude"])
	}
	if _, ok := pos["satsInView"]; ok {
		out.SatsInView = asInt(pos["satsInView"])
	}
	return out
}

// ----------------------------------------------------------------------------
// Loose-value accessors. JSON decoding yields float64 for all numbers; the
// other branches cover values injected by in-process producers.
// ----------------------------------------------------------------------------

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asFloat(v any) *float64 {
	switch n := v.(type) {
	case float64:
		return &n
	case float32:
		f := float64(n)
		return &f
	case int:
		f := float64(n)
		return &f
	case int64:
		f := float64(n)
		return &f
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return &f
		}
	}
	return nil
}

func asInt(v any) *int64 {
	switch n := v.(type) {
	case float64:
		i := int64(n)
		return &i
	case int:
		i := int64(n)
		return &i
	case int64:
		return &n
	case uint32:
		i := int64(n)
		return &i
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64); err == nil {
			return &i
		}
	}
	return nil
}

// stringify renders an id-ish value as a string; numbers lose any ".0".
func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		if s == float64(int64(s)) {
			return strconv.FormatInt(int64(s), 10)
		}
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// truthy mirrors loose boolean coercion: absent, false, zero, empty string
// and empty containers are false, everything else true.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	default:
		return true
	}
}

// asBoolHint returns the coerced value of an optional boolean hint field,
// or nil when the field is absent or null.
func asBoolHint(m map[string]any, key string) *bool {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	b := truthy(v)
	return &b
}
