// Package logstore implements the rotating event store: an hourly-bucketed,
// durable NDJSON appender and the window-selecting loader that materializes
// Bundles for the aggregation and query layers.
//
// On-disk layout:
//
//	<root>/<label>/<label>_<YYYY-MM-DD_HH>.ndjson
//
// Files are append-only and never rewritten. At most one Writer per label is
// assumed; there is no cross-process lock, so running two writers against
// the same label is unsupported and may interleave rotations.
package logstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hfried/meshlog/internal/event"
	"github.com/hfried/meshlog/internal/logging"
)

// BucketFormat is the hour-bucket layout embedded in file names.
const BucketFormat = "2006-01-02_15"

// DefaultLabel is used when a writer is created with an empty label.
const DefaultLabel = "meshlog"

// WriterOptions configures a Writer.
type WriterOptions struct {
	// UseUTC selects the clock the hour bucket is computed in. When false,
	// the process-local timezone is used.
	UseUTC bool

	// Clock overrides the time source for records that carry no parseable
	// timestamp. Defaults to time.Now.
	Clock func() time.Time

	Logger *slog.Logger
}

// WriterStats holds writer statistics.
type WriterStats struct {
	RecordsWritten int64
	FilesOpened    int64
	Rotations      int64
	Errors         int64
}

// Writer appends one JSON record per line to the file for the current hour
// bucket, rotating atomically on hour change. Every write flushes and syncs
// so a crash loses at most one line. Safe for concurrent callers; all writes
// are serialized by an internal lock.
type Writer struct {
	mu sync.Mutex

	root  string
	label string
	dir   string

	bucket string
	f      *os.File

	opts  WriterOptions
	log   *slog.Logger
	stats WriterStats
}

// NewWriter creates a writer for one label under root. The label is
// sanitized before any path use.
func NewWriter(root, label string, opts WriterOptions) (*Writer, error) {
	label = SanitizeLabel(label)
	if label == "" {
		label = DefaultLabel
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	dir := filepath.Join(root, label)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create label dir: %w", err)
	}

	log := opts.Logger
	if log == nil {
		log = logging.Component("logstore")
	}

	return &Writer{
		root:  root,
		label: label,
		dir:   dir,
		opts:  opts,
		log:   log,
	}, nil
}

// Label returns the sanitized label the writer appends under.
func (w *Writer) Label() string { return w.label }

// Append writes one record as a single NDJSON line to the file for the
// record's hour bucket, rotating first if the bucket changed. The line is
// flushed and synced before Append returns.
func (w *Writer) Append(rec event.Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		w.mu.Lock()
		w.stats.Errors++
		w.mu.Unlock()
		return fmt.Errorf("encode record: %w", err)
	}

	ts := rec.Time()
	if ts.IsZero() {
		ts = w.opts.Clock()
	}
	bucket := BucketLabel(ts, w.opts.UseUTC)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil || bucket != w.bucket {
		if err := w.rotateLocked(bucket); err != nil {
			w.stats.Errors++
			return fmt.Errorf("rotate to bucket %s: %w", bucket, err)
		}
	}

	if _, err := w.f.Write(append(line, '\n')); err != nil {
		w.stats.Errors++
		return fmt.Errorf("append record: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		w.stats.Errors++
		return fmt.Errorf("sync %s: %w", w.f.Name(), err)
	}

	w.stats.RecordsWritten++
	return nil
}

// rotateLocked closes the current file and opens the one for bucket.
// Caller holds w.mu.
func (w *Writer) rotateLocked(bucket string) error {
	if w.f != nil {
		w.f.Sync()
		w.f.Close()
		w.f = nil
		w.stats.Rotations++
	}

	path := filepath.Join(w.dir, fmt.Sprintf("%s_%s.ndjson", w.label, bucket))

	_, statErr := os.Stat(path)
	fresh := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}

	if fresh {
		w.log.Info("logging to new hourly file", "path", path)
	}

	w.f = f
	w.bucket = bucket
	w.stats.FilesOpened++
	return nil
}

// Close flushes and releases the current file handle. The writer may not be
// reused after Close.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil {
		return nil
	}
	w.f.Sync()
	err := w.f.Close()
	w.f = nil
	w.bucket = ""
	return err
}

// Stats returns a copy of the writer statistics.
func (w *Writer) Stats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// BucketLabel formats the hour bucket for a timestamp in the configured
// clock.
func BucketLabel(t time.Time, useUTC bool) string {
	if useUTC {
		t = t.UTC()
	} else {
		t = t.Local()
	}
	return t.Format(BucketFormat)
}

// SanitizeLabel strips every rune outside the allowed label character set
// (alphanumerics plus -_.+!@:).
func SanitizeLabel(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case strings.ContainsRune("-_.+!@:", r):
			b.WriteRune(r)
		}
	}
	return b.String()
}
