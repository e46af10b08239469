package logstore

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// writeBucket drops a pre-baked hourly file into the store layout.
func writeBucket(t *testing.T, root, label, bucket, content string) string {
	t.Helper()
	dir := filepath.Join(root, label)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, label+"_"+bucket+".ndjson")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func fixedStore(root string, now time.Time) *Store {
	return &Store{Root: root, Clock: func() time.Time { return now }}
}

func TestLoadEmptyLabel(t *testing.T) {
	s := &Store{Root: t.TempDir()}
	b, err := s.Load("nothing-here", Window{Mode: WindowHours, Hours: 3})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(b.Messages) != 0 || len(b.FilesLoaded) != 0 {
		t.Errorf("expected empty bundle, got %d msgs, files %v",
			len(b.Messages), b.FilesLoaded)
	}
}

func TestLoadHoursWindow(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)

	line := func(ts string) string {
		return `{"type":"rx","ts":"` + ts + `","packet":{"fromId":"!aa","decoded":{"portnum":1,"text":"hi"}}}` + "\n"
	}
	writeBucket(t, root, "m", "2025-03-01_08", line("2025-03-01T08:05:00Z"))
	writeBucket(t, root, "m", "2025-03-01_11", line("2025-03-01T11:05:00Z"))
	writeBucket(t, root, "m", "2025-03-01_12", line("2025-03-01T12:05:00Z"))

	// Cutoff is 12:30 - 2h truncated to 10:00, so 11 and 12 qualify.
	b, err := fixedStore(root, now).Load("m", Window{Mode: WindowHours, Hours: 2})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"m_2025-03-01_11.ndjson", "m_2025-03-01_12.ndjson"}
	if !reflect.DeepEqual(b.FilesLoaded, want) {
		t.Errorf("files = %v, want %v", b.FilesLoaded, want)
	}
	if len(b.Messages) != 2 {
		t.Errorf("messages = %d", len(b.Messages))
	}
}

func TestLoadHoursFallbackToLastFile(t *testing.T) {
	root := t.TempDir()
	// All data is days old; a 1h window still returns the newest bucket.
	writeBucket(t, root, "m", "2025-02-20_09",
		`{"type":"rx","ts":"2025-02-20T09:00:00Z","packet":{"fromId":"!aa"}}`+"\n")
	writeBucket(t, root, "m", "2025-02-21_15",
		`{"type":"rx","ts":"2025-02-21T15:00:00Z","packet":{"fromId":"!bb"}}`+"\n")

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	b, err := fixedStore(root, now).Load("m", Window{Mode: WindowHours, Hours: 1})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(b.FilesLoaded, []string{"m_2025-02-21_15.ndjson"}) {
		t.Errorf("files = %v", b.FilesLoaded)
	}
}

func TestLoadLastFileByModTime(t *testing.T) {
	root := t.TempDir()
	older := writeBucket(t, root, "m", "2025-03-01_11",
		`{"type":"rx","ts":"2025-03-01T11:00:00Z","packet":{"fromId":"!old"}}`+"\n")
	writeBucket(t, root, "m", "2025-03-01_10",
		`{"type":"rx","ts":"2025-03-01T10:00:00Z","packet":{"fromId":"!new"}}`+"\n")

	// The lexicographically later file gets the older mtime; lastfile must
	// pick by modification time, not name.
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(older, past, past); err != nil {
		t.Fatal(err)
	}

	b, err := (&Store{Root: root}).Load("m", Window{Mode: WindowLastFile})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(b.FilesLoaded, []string{"m_2025-03-01_10.ndjson"}) {
		t.Errorf("files = %v", b.FilesLoaded)
	}
	if len(b.Messages) != 1 || b.Messages[0].FromID != "!new" {
		t.Errorf("messages = %+v", b.Messages)
	}
}

func TestLoadSkipsMalformedLines(t *testing.T) {
	root := t.TempDir()
	content := `{"type":"rx","ts":"2025-03-01T10:00:00Z","packet":{"fromId":"!aa"}}
not json at all
{"type":"rx","ts":"2025-03-01T10:01:00Z","packet":{"fromId":"!bb"}}

{"truncated":
`
	writeBucket(t, root, "m", "2025-03-01_10", content)

	b, err := (&Store{Root: root}).Load("m", Window{Mode: WindowLastFile})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(b.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(b.Messages))
	}
}

func TestLoadDerivesIdentity(t *testing.T) {
	root := t.TempDir()
	content := `{"type":"snapshot_start","ts":"2025-03-01T10:00:00Z","myInfo":{"user":{"id":"!me","shortName":"ME"}},"nodes":{"n1":{"user":{"id":"!aa","shortName":"Al","longName":"Alpha"}}}}
{"type":"rx","ts":"2025-03-01T10:01:00Z","packet":{"fromId":"!aa","decoded":{"portnum":1,"text":"x"}}}
{"type":"snapshot_periodic","ts":"2025-03-01T10:30:00Z","myInfo":{"user":{"id":"!other"}},"nodes":{"n1":{"user":{"id":"!aa","shortName":"Al2"}}}}
`
	writeBucket(t, root, "m", "2025-03-01_10", content)

	b, err := (&Store{Root: root}).Load("m", Window{Mode: WindowLastFile})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	// First identity wins; later name updates win.
	if b.MyNodeID != "!me" {
		t.Errorf("MyNodeID = %q", b.MyNodeID)
	}
	if got := b.DisplayName("!aa"); got != "Al2" {
		t.Errorf("DisplayName(!aa) = %q", got)
	}
	if got := b.DisplayName("!unknown"); got != "!unknown" {
		t.Errorf("DisplayName fallthrough = %q", got)
	}
	if got := b.AppsAvailable(); !reflect.DeepEqual(got, []string{"TEXT_MESSAGE_APP"}) {
		t.Errorf("apps = %v", got)
	}
}

func TestLoadIsIdempotent(t *testing.T) {
	root := t.TempDir()
	writeBucket(t, root, "m", "2025-03-01_10",
		`{"type":"rx","ts":"2025-03-01T10:00:00Z","packet":{"fromId":"!aa"}}`+"\n")

	s := &Store{Root: root}
	b1, _ := s.Load("m", Window{Mode: WindowLastFile})
	b2, _ := s.Load("m", Window{Mode: WindowLastFile})
	if len(b1.Messages) != len(b2.Messages) || len(b1.FilesLoaded) != len(b2.FilesLoaded) {
		t.Errorf("repeated loads diverge: %d/%d msgs", len(b1.Messages), len(b2.Messages))
	}
}

func TestParseBucket(t *testing.T) {
	ts, ok := ParseBucket("m_2025-03-01_10.ndjson")
	if !ok {
		t.Fatal("valid bucket rejected")
	}
	if want := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC); !ts.Equal(want) {
		t.Errorf("bucket = %v", ts)
	}
	if _, ok := ParseBucket("m_garbage.ndjson"); ok {
		t.Error("garbage name accepted")
	}
}

func TestLabels(t *testing.T) {
	root := t.TempDir()
	for _, l := range []string{"zeta", "alpha"} {
		if err := os.MkdirAll(filepath.Join(root, l), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(root, "stray.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if got := Labels(root); !reflect.DeepEqual(got, []string{"alpha", "zeta"}) {
		t.Errorf("Labels = %v", got)
	}
	if got := Labels(filepath.Join(root, "missing")); len(got) != 0 {
		t.Errorf("missing root Labels = %v", got)
	}
}
