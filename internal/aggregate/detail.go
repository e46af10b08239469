package aggregate

import (
	"time"

	"github.com/hfried/meshlog/internal/event"
	"github.com/hfried/meshlog/internal/logstore"
)

// TelemetryPoint is one timestamped telemetry sample; metric names pass
// through from the packet alongside "ts".
type TelemetryPoint map[string]any

// SignalPoint is one timestamped RSSI/SNR pair.
type SignalPoint struct {
	TS     string   `json:"ts"`
	RxRSSI *float64 `json:"rxRssi"`
	RxSNR  *float64 `json:"rxSnr"`
}

// PositionPoint is one timestamped GPS fix.
type PositionPoint struct {
	TS       string   `json:"ts"`
	Lat      float64  `json:"lat"`
	Lon      float64  `json:"lon"`
	Altitude *float64 `json:"altitude"`
}

// Spread is an approximate low/high quantile pair for a signal metric.
type Spread struct {
	P10 float64 `json:"p10"`
	P90 float64 `json:"p90"`
}

// NodeDetail is the drill-down view for a single node.
type NodeDetail struct {
	NodeID     string   `json:"node_id"`
	Name       string   `json:"name"`
	FirstHeard string   `json:"first_heard"`
	LastHeard  string   `json:"last_heard"`
	TotalMsgs  int      `json:"total_msgs"`
	MedianRSSI *float64 `json:"median_rssi"`
	MedianSNR  *float64 `json:"median_snr"`

	RSSISpread *Spread `json:"rssi_spread,omitempty"`
	SNRSpread  *Spread `json:"snr_spread,omitempty"`

	TelemetryDevice []TelemetryPoint `json:"telemetry_device"`
	TelemetryEnv    []TelemetryPoint `json:"telemetry_env"`
	RadioQuality    []SignalPoint    `json:"radio_quality"`
	Positions       []PositionPoint  `json:"positions"`
}

// BuildNodeDetail applies the overview filters, restricts to messages from
// nodeID, and produces the per-message time series in message order.
func BuildNodeDetail(b *logstore.Bundle, nodeID string, includeEncrypted bool, apps []string) NodeDetail {
	msgs := Filter(b.Messages, includeEncrypted, apps)
	msgs = keep(msgs, func(m *event.Message) bool { return m.FromID == nodeID })

	var first, last time.Time
	var rssi, snr []float64

	detail := NodeDetail{
		NodeID:          nodeID,
		Name:            b.DisplayName(nodeID),
		TotalMsgs:       len(msgs),
		TelemetryDevice: []TelemetryPoint{},
		TelemetryEnv:    []TelemetryPoint{},
		RadioQuality:    []SignalPoint{},
		Positions:       []PositionPoint{},
	}

	for i := range msgs {
		m := &msgs[i]
		ts := isoOrEmpty(m.Time)

		if !m.Time.IsZero() {
			if first.IsZero() || m.Time.Before(first) {
				first = m.Time
			}
			if m.Time.After(last) {
				last = m.Time
			}
		}
		if m.RxRSSI != nil {
			rssi = append(rssi, *m.RxRSSI)
		}
		if m.RxSNR != nil {
			snr = append(snr, *m.RxSNR)
		}

		if m.Telemetry.Device != nil {
			detail.TelemetryDevice = append(detail.TelemetryDevice, TelemetryPoint(withTS(m.Telemetry.Device, ts)))
		}
		if m.Telemetry.Environment != nil {
			detail.TelemetryEnv = append(detail.TelemetryEnv, TelemetryPoint(withTS(m.Telemetry.Environment, ts)))
		}

		detail.RadioQuality = append(detail.RadioQuality, SignalPoint{TS: ts, RxRSSI: m.RxRSSI, RxSNR: m.RxSNR})

		if m.Position != nil {
			detail.Positions = append(detail.Positions, PositionPoint{
				TS:       ts,
				Lat:      m.Position.Lat,
				Lon:      m.Position.Lon,
				Altitude: m.Position.Altitude,
			})
		}
	}

	detail.FirstHeard = isoOrEmpty(first)
	detail.LastHeard = isoOrEmpty(last)
	detail.MedianRSSI = Median(rssi)
	detail.MedianSNR = Median(snr)
	detail.RSSISpread = spread(rssi)
	detail.SNRSpread = spread(snr)

	return detail
}

func spread(vals []float64) *Spread {
	lo := quantile(vals, 0.10)
	hi := quantile(vals, 0.90)
	if lo == nil || hi == nil {
		return nil
	}
	return &Spread{P10: *lo, P90: *hi}
}
