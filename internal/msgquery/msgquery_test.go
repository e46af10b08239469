package msgquery

import (
	"fmt"
	"testing"
	"time"

	"github.com/hfried/meshlog/internal/event"
	"github.com/hfried/meshlog/internal/logstore"
)

func sptr(s string) *string { return &s }
func bptr(b bool) *bool     { return &b }

func textMsg(from, to, text string, ts time.Time) event.Message {
	return event.Message{
		TS:        event.FormatTime(ts),
		EventType: event.TypeRx,
		FromID:    from,
		ToID:      to,
		App:       event.AppTextMessage,
		Text:      sptr(text),
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

func TestIsDirectMessage(t *testing.T) {
	base := textMsg("!aa", "!ME42", "hi", time.Now())

	// Explicit hints win regardless of addressing.
	withDM := base
	withDM.DM = bptr(true)
	if !IsDirectMessage(&withDM, "") {
		t.Error("explicit dm flag ignored")
	}
	withPriv := base
	withPriv.ToID = "^all"
	withPriv.Private = bptr(true)
	if !IsDirectMessage(&withPriv, "!me") {
		t.Error("explicit private flag ignored")
	}

	// Addressing comparison is case-insensitive.
	if !IsDirectMessage(&base, "!me42") {
		t.Error("case-insensitive to-id match failed")
	}
	if IsDirectMessage(&base, "!someoneelse") {
		t.Error("mismatched to-id counted as dm")
	}
	if IsDirectMessage(&base, "") {
		t.Error("dm inferred with no local identity")
	}
}

func TestBuildPipeline(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	m1 := textMsg("!aa", "^all", "hello world", t0)
	m2 := textMsg("!bb", "!me", "Hello there", t0.Add(time.Minute))
	m3 := textMsg("!aa", "!me", "unrelated", t0.Add(2*time.Minute))
	enc := textMsg("!cc", "^all", "secret", t0.Add(3*time.Minute))
	enc.Encrypted = true

	b := bundleOf(m1, m2, m3, enc)

	// Text search is a case-insensitive substring match.
	res := Build(b, Options{IncludeEncrypted: true, TextContains: "HELLO", Limit: 10})
	if len(res.Messages) != 2 {
		t.Fatalf("text search rows = %d", len(res.Messages))
	}

	// From + dm-only compose.
	res = Build(b, Options{IncludeEncrypted: true, FromID: "!aa", DMOnly: true,
		MyNodeID: "!ME", Limit: 10})
	if len(res.Messages) != 1 || res.Messages[0].FromID != "!aa" || !res.Messages[0].IsDM {
		t.Fatalf("composed filter rows = %+v", res.Messages)
	}

	// Encrypted excluded by default semantics.
	res = Build(b, Options{IncludeEncrypted: false, Limit: 10})
	if len(res.Messages) != 3 {
		t.Fatalf("enc-excluded rows = %d", len(res.Messages))
	}

	// Inventories cover the unfiltered bundle.
	res = Build(b, Options{IncludeEncrypted: true, FromID: "!nobody", Limit: 10})
	if len(res.Messages) != 0 {
		t.Errorf("rows = %d", len(res.Messages))
	}
	if len(res.FromIDs) != 3 || len(res.ToIDs) != 2 {
		t.Errorf("inventories = %v / %v", res.FromIDs, res.ToIDs)
	}
}

func TestBuildSortNewestFirst(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	oldest := textMsg("!aa", "^all", "first", t0)
	newest := textMsg("!aa", "^all", "last", t0.Add(time.Hour))
	broken := textMsg("!aa", "^all", "no clock", time.Time{})
	broken.TS = "garbage"

	res := Build(bundleOf(oldest, broken, newest), Options{IncludeEncrypted: true, Limit: 10})
	if len(res.Messages) != 3 {
		t.Fatalf("rows = %d", len(res.Messages))
	}
	if *res.Messages[0].Text != "last" || *res.Messages[1].Text != "first" {
		t.Errorf("order = %q, %q", *res.Messages[0].Text, *res.Messages[1].Text)
	}
	// Unparseable timestamps sort as oldest.
	if *res.Messages[2].Text != "no clock" {
		t.Errorf("broken ts sorted at %q", *res.Messages[2].Text)
	}
}

func TestBuildLimitClamp(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	var msgs []event.Message
	for i := 0; i < 30; i++ {
		msgs = append(msgs, textMsg("!aa", "^all", fmt.Sprintf("m%d", i),
			t0.Add(time.Duration(i)*time.Second)))
	}
	b := bundleOf(msgs...)

	if res := Build(b, Options{IncludeEncrypted: true, Limit: 5}); len(res.Messages) != 5 {
		t.Errorf("limit 5 rows = %d", len(res.Messages))
	}
	// Zero means default floor of one; excessive values clamp to the cap.
	if res := Build(b, Options{IncludeEncrypted: true, Limit: 0}); len(res.Messages) != 1 {
		t.Errorf("limit 0 rows = %d", len(res.Messages))
	}
	if res := Build(b, Options{IncludeEncrypted: true, Limit: 999999}); len(res.Messages) != 30 {
		t.Errorf("oversized limit rows = %d", len(res.Messages))
	}
}

func TestBuildLeavesBundleInFileOrder(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	// File order is oldest-first here, the opposite of the response order.
	// Bundles are shared between concurrent requests and the telemetry
	// aggregation depends on file order, so Build must sort a copy.
	b := bundleOf(
		textMsg("!aa", "^all", "first", t0),
		textMsg("!bb", "^all", "second", t0.Add(time.Minute)),
	)

	res := Build(b, Options{IncludeEncrypted: true, Limit: 10})
	if *res.Messages[0].Text != "second" {
		t.Fatalf("response order = %q", *res.Messages[0].Text)
	}
	if b.Messages[0].FromID != "!aa" || b.Messages[1].FromID != "!bb" {
		t.Fatalf("bundle reordered: %s, %s", b.Messages[0].FromID, b.Messages[1].FromID)
	}
}

func TestBuildNameEnrichment(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	b := bundleOf(textMsg("!aa", "!bb", "yo", t0))
	b.NameMap["!aa"] = logstore.NameInfo{Short: "AL"}
	b.NameMap["!bb"] = logstore.NameInfo{Long: "Bravo Station"}

	res := Build(b, Options{IncludeEncrypted: true, Limit: 10})
	r := res.Messages[0]
	if r.FromName != "AL" {
		t.Errorf("from name = %q", r.FromName)
	}
	if r.ToName != "Bravo Station" {
		t.Errorf("to name = %q", r.ToName)
	}
}
