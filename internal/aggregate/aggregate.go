// Package aggregate computes the derived views over a loaded Bundle:
// per-node overview summaries and single-node drill-down detail. All results
// are pure functions of the bundle; nothing is cached.
package aggregate

import (
	"sort"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/hfried/meshlog/internal/event"
	"github.com/hfried/meshlog/internal/logstore"
)

// NodeSummary is one overview row.
type NodeSummary struct {
	NodeID      string         `json:"node_id"`
	Name        string         `json:"name"`
	FirstHeard  string         `json:"first_heard"`
	LastHeard   string         `json:"last_heard"`
	TotalMsgs   int            `json:"total_msgs"`
	MedianRSSI  *float64       `json:"median_rssi"`
	MedianSNR   *float64       `json:"median_snr"`
	AppCounts   map[string]int `json:"app_counts"`
	Device      map[string]any `json:"device"`
	Environment map[string]any `json:"environment"`

	lastHeard time.Time
}

// Overview is the response envelope for the overview view.
type Overview struct {
	FilesLoaded   []string      `json:"files_loaded"`
	MyNodeID      string        `json:"my_node_id"`
	AppsAvailable []string      `json:"apps_available"`
	Nodes         []NodeSummary `json:"nodes"`
}

// BuildOverview groups the filtered messages by from-id and summarizes each
// group. Latest telemetry is computed over the unfiltered message set:
// telemetry visibility is not subject to the grouping filters.
func BuildOverview(b *logstore.Bundle, includeEncrypted bool, apps []string) Overview {
	msgs := Filter(b.Messages, includeEncrypted, apps)

	type group struct {
		first, last time.Time
		total       int
		rssi, snr   []float64
		appCounts   map[string]int
	}
	byNode := map[string]*group{}
	var order []string

	for i := range msgs {
		m := &msgs[i]
		if m.FromID == "" {
			continue
		}
		g := byNode[m.FromID]
		if g == nil {
			g = &group{appCounts: map[string]int{}}
			byNode[m.FromID] = g
			order = append(order, m.FromID)
		}

		g.total++
		if !m.Time.IsZero() {
			if g.first.IsZero() || m.Time.Before(g.first) {
				g.first = m.Time
			}
			if m.Time.After(g.last) {
				g.last = m.Time
			}
		}
		if m.RxRSSI != nil {
			g.rssi = append(g.rssi, *m.RxRSSI)
		}
		if m.RxSNR != nil {
			g.snr = append(g.snr, *m.RxSNR)
		}
		app := m.App
		if app == "" {
			app = event.AppUnknown
		}
		g.appCounts[app]++
	}

	devLast, envLast := latestTelemetry(b.Messages)

	rows := make([]NodeSummary, 0, len(byNode))
	for _, nid := range order {
		g := byNode[nid]
		rows = append(rows, NodeSummary{
			NodeID:      nid,
			Name:        b.DisplayName(nid),
			FirstHeard:  isoOrEmpty(g.first),
			LastHeard:   isoOrEmpty(g.last),
			TotalMsgs:   g.total,
			MedianRSSI:  Median(g.rssi),
			MedianSNR:   Median(g.snr),
			AppCounts:   g.appCounts,
			Device:      devLast[nid],
			Environment: envLast[nid],
			lastHeard:   g.last,
		})
	}

	// Last heard descending; rows with no timestamp sort last.
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].lastHeard.After(rows[j].lastHeard)
	})

	return Overview{
		FilesLoaded:   b.FilesLoaded,
		MyNodeID:      b.MyNodeID,
		AppsAvailable: b.AppsAvailable(),
		Nodes:         rows,
	}
}

// Filter drops encrypted messages unless included, then restricts to the
// app-type allow-list when it is non-empty.
func Filter(msgs []event.Message, includeEncrypted bool, apps []string) []event.Message {
	out := msgs
	if !includeEncrypted {
		out = keep(out, func(m *event.Message) bool { return !m.Encrypted })
	}
	if len(apps) > 0 {
		set := map[string]struct{}{}
		for _, a := range apps {
			set[a] = struct{}{}
		}
		out = keep(out, func(m *event.Message) bool {
			_, ok := set[m.App]
			return ok
		})
	}
	return out
}

func keep(msgs []event.Message, pred func(*event.Message) bool) []event.Message {
	out := make([]event.Message, 0, len(msgs))
	for i := range msgs {
		if pred(&msgs[i]) {
			out = append(out, msgs[i])
		}
	}
	return out
}

// Median returns the statistical median: the middle value for odd-sized
// samples, the average of the two middle values for even-sized samples, nil
// for an empty sample. Never zero-filled.
func Median(vals []float64) *float64 {
	if len(vals) == 0 {
		return nil
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	var med float64
	if len(sorted)%2 == 1 {
		med = sorted[mid]
	} else {
		med = (sorted[mid-1] + sorted[mid]) / 2
	}
	return &med
}

// latestTelemetry scans messages in file order and keeps, per node, the last
// device and environment telemetry records seen. Each kept record is a copy
// annotated with the message timestamp under "ts".
func latestTelemetry(msgs []event.Message) (dev, env map[string]map[string]any) {
	dev = map[string]map[string]any{}
	env = map[string]map[string]any{}

	for i := range msgs {
		m := &msgs[i]
		if m.FromID == "" || m.Telemetry.Empty() {
			continue
		}
		ts := isoOrEmpty(m.Time)
		if m.Telemetry.Device != nil {
			dev[m.FromID] = withTS(m.Telemetry.Device, ts)
		}
		if m.Telemetry.Environment != nil {
			env[m.FromID] = withTS(m.Telemetry.Environment, ts)
		}
	}
	return dev, env
}

func withTS(metrics map[string]any, ts string) map[string]any {
	out := make(map[string]any, len(metrics)+1)
	out["ts"] = ts
	for k, v := range metrics {
		out[k] = v
	}
	return out
}

func isoOrEmpty(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return event.FormatTime(t)
}

// quantile computes an approximate quantile over vals with a DDSketch at 1%
// relative accuracy. Returns nil for empty samples or sketch failures.
func quantile(vals []float64, q float64) *float64 {
	if len(vals) == 0 {
		return nil
	}
	sketch, err := ddsketch.NewDefaultDDSketch(0.01)
	if err != nil {
		return nil
	}
	for _, v := range vals {
		sketch.Add(v)
	}
	val, err := sketch.GetValueAtQuantile(q)
	if err != nil {
		return nil
	}
	return &val
}
