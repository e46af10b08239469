package aggregate

import (
	"testing"
	"time"

	"github.com/hfried/meshlog/internal/event"
	"github.com/hfried/meshlog/internal/logstore"
)

func fptr(f float64) *float64 { return &f }

func msg(from, app string, ts time.Time) event.Message {
	return event.Message{
		TS:        event.FormatTime(ts),
		EventType: event.TypeRx,
		FromID:    from,
		App:       app,
		Time:      ts,
	}
}

func bundleOf(msgs ...event.Message) *logstore.Bundle {
	b := logstore.NewBundle()
	b.Messages = msgs
	for _, m := range msgs {
		b.Apps[m.App] = struct{}{}
	}
	return b
}

func TestMedian(t *testing.T) {
	if got := Median(nil); got != nil {
		t.Errorf("Median(nil) = %v", *got)
	}
	if got := Median([]float64{-80, -90, -70}); got == nil || *got != -80 {
		t.Errorf("odd median = %v", got)
	}
	if got := Median([]float64{-80, -90}); got == nil || *got != -85 {
		t.Errorf("even median = %v", got)
	}
	if got := Median([]float64{5}); got == nil || *got != 5 {
		t.Errorf("single median = %v", got)
	}
}

func TestBuildOverviewGrouping(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	m1 := msg("!aa", event.AppTextMessage, t0)
	m1.RxRSSI = fptr(-80)
	m2 := msg("!aa", event.AppTextMessage, t0.Add(time.Minute))
	m2.RxRSSI = fptr(-90)
	m3 := msg("!bb", event.AppPosition, t0.Add(2*time.Minute))
	m3.RxSNR = fptr(4)
	anon := msg("", event.AppUnknown, t0) // no from-id, must not form a group

	ov := BuildOverview(bundleOf(m1, m2, m3, anon), true, nil)
	if len(ov.Nodes) != 2 {
		t.Fatalf("nodes = %d", len(ov.Nodes))
	}

	// Sorted by last heard descending: !bb first.
	if ov.Nodes[0].NodeID != "!bb" || ov.Nodes[1].NodeID != "!aa" {
		t.Errorf("order = %s, %s", ov.Nodes[0].NodeID, ov.Nodes[1].NodeID)
	}

	aa := ov.Nodes[1]
	if aa.TotalMsgs != 2 {
		t.Errorf("total = %d", aa.TotalMsgs)
	}
	if aa.MedianRSSI == nil || *aa.MedianRSSI != -85 {
		t.Errorf("median rssi = %v", aa.MedianRSSI)
	}
	if aa.MedianSNR != nil {
		t.Errorf("median snr should be nil with no samples, got %v", *aa.MedianSNR)
	}
	if aa.AppCounts[event.AppTextMessage] != 2 {
		t.Errorf("app counts = %v", aa.AppCounts)
	}
	if aa.FirstHeard == "" || aa.LastHeard == "" {
		t.Error("heard bounds empty")
	}
}

func TestBuildOverviewTelemetryUnfiltered(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	// Telemetry arrives encrypted; with enc excluded the node still groups by
	// its plaintext traffic and must still show the latest telemetry.
	tele := msg("!aa", event.AppTelemetry, t0)
	tele.Encrypted = true
	tele.Telemetry = event.Telemetry{Device: map[string]any{"batteryLevel": float64(55)}}
	text := msg("!aa", event.AppTextMessage, t0.Add(time.Minute))

	ov := BuildOverview(bundleOf(tele, text), false, nil)
	if len(ov.Nodes) != 1 {
		t.Fatalf("nodes = %d", len(ov.Nodes))
	}
	n := ov.Nodes[0]
	if n.TotalMsgs != 1 {
		t.Errorf("filtered total = %d", n.TotalMsgs)
	}
	if n.Device == nil || n.Device["batteryLevel"] != float64(55) {
		t.Errorf("device telemetry = %v", n.Device)
	}
	if _, ok := n.Device["ts"]; !ok {
		t.Error("telemetry missing ts annotation")
	}
}

func TestBuildOverviewLatestTelemetryWins(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	old := msg("!aa", event.AppTelemetry, t0)
	old.Telemetry = event.Telemetry{Device: map[string]any{"batteryLevel": float64(90)}}
	newer := msg("!aa", event.AppTelemetry, t0.Add(time.Hour))
	newer.Telemetry = event.Telemetry{Device: map[string]any{"batteryLevel": float64(42)}}

	ov := BuildOverview(bundleOf(old, newer), true, nil)
	if got := ov.Nodes[0].Device["batteryLevel"]; got != float64(42) {
		t.Errorf("latest battery = %v", got)
	}
}

func TestFilterComposition(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	enc := msg("!aa", event.AppTextMessage, t0)
	enc.Encrypted = true
	pos := msg("!bb", event.AppPosition, t0)
	txt := msg("!cc", event.AppTextMessage, t0)

	msgs := []event.Message{enc, pos, txt}

	if got := Filter(msgs, true, nil); len(got) != 3 {
		t.Errorf("no-op filter = %d", len(got))
	}
	if got := Filter(msgs, false, nil); len(got) != 2 {
		t.Errorf("enc filter = %d", len(got))
	}
	if got := Filter(msgs, true, []string{event.AppPosition}); len(got) != 1 {
		t.Errorf("app filter = %d", len(got))
	}
	// Filters compose to zero rows without error.
	if got := Filter(msgs, false, []string{"NODEINFO_APP"}); len(got) != 0 {
		t.Errorf("composed filter = %d", len(got))
	}
}

func TestBuildNodeDetailSeries(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	m1 := msg("!aa", event.AppTelemetry, t0)
	m1.RxRSSI = fptr(-70)
	m1.RxSNR = fptr(6)
	m1.Telemetry = event.Telemetry{
		Device:      map[string]any{"batteryLevel": float64(80)},
		Environment: map[string]any{"temperature": 20.5},
	}
	m2 := msg("!aa", event.AppPosition, t0.Add(time.Minute))
	m2.RxRSSI = fptr(-74)
	m2.Position = &event.Position{Lat: 48.1, Lon: 11.5}
	other := msg("!bb", event.AppTextMessage, t0)

	d := BuildNodeDetail(bundleOf(m1, m2, other), "!aa", true, nil)
	if d.TotalMsgs != 2 {
		t.Fatalf("total = %d", d.TotalMsgs)
	}
	if len(d.RadioQuality) != 2 {
		t.Errorf("radio quality points = %d", len(d.RadioQuality))
	}
	if len(d.TelemetryDevice) != 1 || len(d.TelemetryEnv) != 1 {
		t.Errorf("telemetry points = %d/%d", len(d.TelemetryDevice), len(d.TelemetryEnv))
	}
	if len(d.Positions) != 1 || d.Positions[0].Lat != 48.1 {
		t.Errorf("positions = %+v", d.Positions)
	}
	if d.MedianRSSI == nil || *d.MedianRSSI != -72 {
		t.Errorf("median rssi = %v", d.MedianRSSI)
	}
	if d.FirstHeard == "" || d.LastHeard == "" || d.FirstHeard == d.LastHeard {
		t.Errorf("bounds = %q .. %q", d.FirstHeard, d.LastHeard)
	}
}

func TestBuildNodeDetailUnknownNode(t *testing.T) {
	d := BuildNodeDetail(bundleOf(), "!nobody", true, nil)
	if d.TotalMsgs != 0 {
		t.Errorf("total = %d", d.TotalMsgs)
	}
	// Series fields marshal as [] rather than null.
	if d.RadioQuality == nil || d.Positions == nil || d.TelemetryDevice == nil || d.TelemetryEnv == nil {
		t.Error("series slices not initialized")
	}
	if d.MedianRSSI != nil || d.RSSISpread != nil {
		t.Error("stats not nil for empty node")
	}
	if d.Name != "!nobody" {
		t.Errorf("name = %q", d.Name)
	}
}

func TestSpread(t *testing.T) {
	var vals []float64
	for i := 0; i < 100; i++ {
		vals = append(vals, float64(-100+i))
	}
	s := spread(vals)
	if s == nil {
		t.Fatal("spread nil for populated sample")
	}
	// DDSketch is approximate; accept 2% around the exact quantiles.
	if s.P10 > -85 || s.P10 < -95 {
		t.Errorf("p10 = %v", s.P10)
	}
	if s.P90 > -6 || s.P90 < -16 {
		t.Errorf("p90 = %v", s.P90)
	}
	if spread(nil) != nil {
		t.Error("spread of empty sample not nil")
	}
}
