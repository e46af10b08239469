// Package pipeline connects a radio transport to the event store: a single
// consumer drains the transport's packet channel into rx records, and an
// independent fixed-interval task writes device snapshots. Failed writes are
// logged and skipped; the pipeline never terminates the process on I/O
// errors.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hfried/meshlog/internal/event"
	"github.com/hfried/meshlog/internal/logging"
	"github.com/hfried/meshlog/internal/logstore"
	"github.com/hfried/meshlog/internal/radio"
)

// MinSnapshotInterval is the floor for the periodic snapshot cadence.
const MinSnapshotInterval = time.Minute

// Options configures a Pipeline.
type Options struct {
	// SnapshotEvery is the periodic snapshot cadence, floored at
	// MinSnapshotInterval. Default: 30m.
	SnapshotEvery time.Duration

	// UseUTC selects the clock record timestamps are rendered in.
	UseUTC bool

	// Clock overrides the time source. Defaults to time.Now.
	Clock func() time.Time

	Logger *slog.Logger
}

// Stats holds pipeline statistics.
type Stats struct {
	PacketsReceived  atomic.Int64
	RecordsWritten   atomic.Int64
	SnapshotsWritten atomic.Int64
	WriteErrors      atomic.Int64
}

// Pipeline owns the writer and the transport handle for one label and runs
// the ingest loop. One pipeline per label; the writer's lock serializes the
// receive path and the snapshot task.
type Pipeline struct {
	writer *logstore.Writer
	iface  radio.Interface

	opts Options
	log  *slog.Logger

	running atomic.Bool
	wg      sync.WaitGroup

	stats Stats
}

// New creates a pipeline over an open writer and transport.
func New(w *logstore.Writer, iface radio.Interface, opts Options) *Pipeline {
	if opts.SnapshotEvery <= 0 {
		opts.SnapshotEvery = 30 * time.Minute
	}
	if opts.SnapshotEvery < MinSnapshotInterval {
		opts.SnapshotEvery = MinSnapshotInterval
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = logging.Component("pipeline")
	}

	return &Pipeline{
		writer: w,
		iface:  iface,
		opts:   opts,
		log:    log,
	}
}

// Run consumes packets until ctx is cancelled or the transport closes its
// channel. It writes a startup snapshot, then runs the periodic snapshot
// task alongside the receive loop. Run returns after both halves stop; it
// does not close the writer.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return nil
	}
	defer p.running.Store(false)

	p.Snapshot(event.TypeSnapshotStart)

	p.wg.Add(1)
	go p.snapshotLoop(ctx)

	packets := p.iface.Packets()
	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			return ctx.Err()
		case pkt, ok := <-packets:
			if !ok {
				p.log.Info("transport closed packet channel")
				p.wg.Wait()
				return nil
			}
			p.handlePacket(pkt)
		}
	}
}

func (p *Pipeline) handlePacket(pkt map[string]any) {
	p.stats.PacketsReceived.Add(1)

	rec := event.Record{
		Type:   event.TypeRx,
		TS:     p.timestamp(),
		Packet: pkt,
	}
	p.append(rec)
}

// Snapshot writes one snapshot record with the given type tag, capturing the
// transport's current identity and peer table.
func (p *Pipeline) Snapshot(typeTag string) {
	rec := event.Record{
		Type:   typeTag,
		TS:     p.timestamp(),
		MyInfo: p.iface.MyInfo(),
		Nodes:  p.iface.Nodes(),
	}
	if p.append(rec) {
		p.stats.SnapshotsWritten.Add(1)
	}
}

// RecordReply logs an outbound auto-reply as a tx_echo record. The decision
// logic that chose to reply lives outside this package; it calls RecordReply
// after a successful SendText.
func (p *Pipeline) RecordReply(destID, text string, portnum any) {
	rec := event.Record{
		Type: event.TypeTxEcho,
		TS:   p.timestamp(),
		Packet: map[string]any{
			"toId": destID,
			"decoded": map[string]any{
				"portnum": portnum,
				"text":    text,
			},
		},
	}
	p.append(rec)
}

func (p *Pipeline) snapshotLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.opts.SnapshotEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Snapshot(event.TypeSnapshotPeriodic)
		}
	}
}

// append writes one record, downgrading failures to warnings so a full disk
// or permission error does not stop ingestion.
func (p *Pipeline) append(rec event.Record) bool {
	if err := p.writer.Append(rec); err != nil {
		p.stats.WriteErrors.Add(1)
		p.log.Warn("append failed", "type", rec.Type, "error", err)
		return false
	}
	p.stats.RecordsWritten.Add(1)
	return true
}

func (p *Pipeline) timestamp() string {
	t := p.opts.Clock()
	if p.opts.UseUTC {
		t = t.UTC()
	}
	return event.FormatTime(t)
}

// Stats exposes the pipeline counters.
func (p *Pipeline) Stats() *Stats { return &p.stats }
