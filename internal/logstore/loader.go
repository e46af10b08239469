package logstore

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/hfried/meshlog/internal/event"
	"github.com/hfried/meshlog/internal/logging"
)

// MaxLookbackHours bounds the hours(n) window policy.
const MaxLookbackHours = 168

// Window policies.
type WindowMode string

const (
	// WindowHours selects every file whose bucket is within the last N hours.
	WindowHours WindowMode = "hours"
	// WindowLastFile selects the single most recently modified file.
	WindowLastFile WindowMode = "lastfile"
)

// Window specifies which hourly files a load covers.
type Window struct {
	Mode  WindowMode
	Hours int
}

// maxLineSize bounds a single NDJSON line; periodic snapshots embed the full
// peer-node table and can grow large.
const maxLineSize = 16 << 20

var bucketRe = regexp.MustCompile(`_(\d{4}-\d{2}-\d{2})_(\d{2})\.ndjson$`)

// Store reads bundles from a log root. It is stateless: every Load re-scans
// the relevant files from disk, so results are always a pure function of the
// on-disk state at load time.
type Store struct {
	Root string

	// Clock overrides the time source for window cutoffs. Defaults to
	// time.Now.
	Clock func() time.Time

	Logger *slog.Logger
}

func (s *Store) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

func (s *Store) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return logging.Component("logstore")
}

// Load discovers the files satisfying the window policy for label and
// streams them into a Bundle. A label with no directory or no matching files
// yields an empty bundle, not an error. Lines that fail to parse are skipped.
func (s *Store) Load(label string, win Window) (*Bundle, error) {
	b := NewBundle()

	dir := filepath.Join(s.Root, label)
	files, err := filepath.Glob(filepath.Join(dir, label+"_*.ndjson"))
	if err != nil || len(files) == 0 {
		return b, nil
	}
	sort.Strings(files)

	chosen := s.selectFiles(files, win)
	for _, f := range chosen {
		b.FilesLoaded = append(b.FilesLoaded, filepath.Base(f))
	}

	for _, f := range chosen {
		if err := loadFile(f, b); err != nil {
			// Partial corruption degrades to partial data, never a failed load.
			s.log().Warn("skipping unreadable log file", "path", f, "error", err)
		}
	}

	b.deriveIdentity()
	return b, nil
}

// selectFiles applies the window policy. For hours(n) the cutoff is
// now−n hours truncated to the top of the hour; when nothing satisfies it,
// the lexicographically last file is the explicit fallback so that a narrow
// window over old history still returns data.
func (s *Store) selectFiles(files []string, win Window) []string {
	if win.Mode == WindowLastFile {
		latest := files[0]
		var latestMod time.Time
		for _, f := range files {
			info, err := os.Stat(f)
			if err != nil {
				continue
			}
			if mod := info.ModTime(); mod.After(latestMod) {
				latest = f
				latestMod = mod
			}
		}
		return []string{latest}
	}

	hours := win.Hours
	if hours < 1 {
		hours = 1
	}
	if hours > MaxLookbackHours {
		hours = MaxLookbackHours
	}

	cutoff := s.now().UTC().Add(-time.Duration(hours) * time.Hour).Truncate(time.Hour)

	var chosen []string
	for _, f := range files {
		bucket, ok := ParseBucket(filepath.Base(f))
		if ok && !bucket.Before(cutoff) {
			chosen = append(chosen, f)
		}
	}
	if len(chosen) == 0 {
		chosen = files[len(files)-1:]
	}
	return chosen
}

// ParseBucket extracts the hour-bucket timestamp from a log file name.
// Buckets are read back as UTC.
func ParseBucket(name string) (time.Time, bool) {
	m := bucketRe.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02 15", m[1]+" "+m[2])
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// loadFile streams one NDJSON file into the bundle in file order. Blank
// lines and unparseable lines are skipped.
func loadFile(path string, b *Bundle) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64<<10), maxLineSize)

	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}

		var rec event.Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}

		switch {
		case rec.IsSnapshot():
			b.Snapshots = append(b.Snapshots, rec)
		case rec.IsPacket():
			msg := event.Normalize(&rec)
			b.Messages = append(b.Messages, msg)
			b.Apps[msg.App] = struct{}{}
		}
	}
	return sc.Err()
}

// Labels lists the label directories under a root, sorted. A missing root
// yields an empty list.
func Labels(root string) []string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return []string{}
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	if out == nil {
		out = []string{}
	}
	return out
}
