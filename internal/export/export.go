// Package export writes a loaded window's normalized messages as a Parquet
// file for offline analysis. The NDJSON store itself stays authoritative;
// this is an export target, never a storage tier.
package export

import (
	"fmt"
	"io"

	"github.com/hfried/meshlog/internal/event"
	"github.com/parquet-go/parquet-go"
)

// MessageRow is the flattened Parquet representation of a Message. Optional
// metrics stay optional via pointer fields.
type MessageRow struct {
	TS          string   `parquet:"ts,zstd"`
	TimestampMs int64    `parquet:"timestamp_ms"`
	EventType   string   `parquet:"etype,zstd"`
	FromID      string   `parquet:"from_id,zstd"`
	ToID        string   `parquet:"to_id,zstd"`
	App         string   `parquet:"app,zstd"`
	Text        *string  `parquet:"text,optional,zstd"`
	Channel     *int64   `parquet:"channel,optional"`
	RxRSSI      *float64 `parquet:"rx_rssi,optional"`
	RxSNR       *float64 `parquet:"rx_snr,optional"`
	HopLimit    *int64   `parquet:"hop_limit,optional"`
	Encrypted   bool     `parquet:"is_encrypted"`
	Lat         *float64 `parquet:"lat,optional"`
	Lon         *float64 `parquet:"lon,optional"`
}

// WriteMessages writes the messages to w as Parquet, in input order.
func WriteMessages(w io.Writer, msgs []event.Message) error {
	pw := parquet.NewGenericWriter[MessageRow](w)

	rows := make([]MessageRow, 0, len(msgs))
	for i := range msgs {
		rows = append(rows, toRow(&msgs[i]))
	}

	if len(rows) > 0 {
		if _, err := pw.Write(rows); err != nil {
			return fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

func toRow(m *event.Message) MessageRow {
	row := MessageRow{
		TS:        m.TS,
		EventType: m.EventType,
		FromID:    m.FromID,
		ToID:      m.ToID,
		App:       m.App,
		Text:      m.Text,
		Channel:   m.Channel,
		RxRSSI:    m.RxRSSI,
		RxSNR:     m.RxSNR,
		HopLimit:  m.HopLimit,
		Encrypted: m.Encrypted,
	}
	if !m.Time.IsZero() {
		row.TimestampMs = m.Time.UnixMilli()
	}
	if m.Position != nil {
		row.Lat = &m.Position.Lat
		row.Lon = &m.Position.Lon
	}
	return row
}
