// Package msgquery implements the message listing view: a filter pipeline
// over a loaded Bundle followed by newest-first ordering and a clamped
// limit. Like the aggregate views it is stateless and side-effect free.
package msgquery

import (
	"sort"
	"strings"

	"github.com/hfried/meshlog/internal/aggregate"
	"github.com/hfried/meshlog/internal/event"
	"github.com/hfried/meshlog/internal/logstore"
)

// MaxMessagesReturn caps how many rows a single query may return.
const MaxMessagesReturn = 5000

// DefaultLimit applies when a query does not name a limit.
const DefaultLimit = 1000

// Options are the message query parameters. Filters apply in struct order;
// each is optional.
type Options struct {
	IncludeEncrypted bool
	Apps             []string

	FromID string
	ToID   string

	// DMOnly restricts to inferred direct messages.
	DMOnly bool

	// MyNodeID is the resolved local node id used for DM inference. An
	// explicit caller override takes precedence over the bundle-derived
	// identity; resolve before building options.
	MyNodeID string

	// TextContains restricts to case-insensitive substring matches over the
	// message text.
	TextContains string

	Limit int
}

// Row is one message listing entry, enriched with resolved display names.
type Row struct {
	TS        string   `json:"ts"`
	FromID    string   `json:"from_id"`
	FromName  string   `json:"from_name"`
	ToID      string   `json:"to_id"`
	ToName    string   `json:"to_name"`
	App       string   `json:"app"`
	IsDM      bool     `json:"is_dm"`
	Channel   *int64   `json:"channel"`
	Text      *string  `json:"text"`
	RxRSSI    *float64 `json:"rxRssi"`
	RxSNR     *float64 `json:"rxSnr"`
	HopLimit  *int64   `json:"hopLimit"`
	RelayNode *int64   `json:"relayNode"`
	ID        *int64   `json:"id"`
}

// Result is the response envelope for the messages view. The id and app
// inventories cover the unfiltered bundle so that a narrow filter still
// shows what else the window holds.
type Result struct {
	Messages      []Row    `json:"messages"`
	FromIDs       []string `json:"from_ids"`
	ToIDs         []string `json:"to_ids"`
	AppsAvailable []string `json:"apps_available"`
	MyNodeID      string   `json:"my_node_id"`
}

// Build applies the filter pipeline, sorts newest first, clamps the limit,
// and enriches rows with display names.
func Build(b *logstore.Bundle, o Options) Result {
	msgs := aggregate.Filter(b.Messages, o.IncludeEncrypted, o.Apps)

	if o.FromID != "" {
		msgs = filter(msgs, func(m *event.Message) bool { return m.FromID == o.FromID })
	}
	if o.ToID != "" {
		msgs = filter(msgs, func(m *event.Message) bool { return m.ToID == o.ToID })
	}
	if o.DMOnly {
		msgs = filter(msgs, func(m *event.Message) bool { return IsDirectMessage(m, o.MyNodeID) })
	}
	if o.TextContains != "" {
		needle := strings.ToLower(o.TextContains)
		msgs = filter(msgs, func(m *event.Message) bool {
			return m.Text != nil && strings.Contains(strings.ToLower(*m.Text), needle)
		})
	}

	// Sort a private copy: with no filter step in effect msgs still aliases
	// the bundle's own slice, and bundles are shared across concurrent
	// requests. The bundle must keep file order.
	msgs = append([]event.Message(nil), msgs...)

	// Newest first; a message with no parseable timestamp sorts as the
	// oldest possible instant.
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Time.After(msgs[j].Time)
	})

	limit := o.Limit
	if limit < 1 {
		limit = 1
	}
	if limit > MaxMessagesReturn {
		limit = MaxMessagesReturn
	}
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}

	rows := make([]Row, 0, len(msgs))
	for i := range msgs {
		m := &msgs[i]
		rows = append(rows, Row{
			TS:        m.TS,
			FromID:    m.FromID,
			FromName:  b.DisplayName(m.FromID),
			ToID:      m.ToID,
			ToName:    b.DisplayName(m.ToID),
			App:       m.App,
			IsDM:      IsDirectMessage(m, o.MyNodeID),
			Channel:   m.Channel,
			Text:      m.Text,
			RxRSSI:    m.RxRSSI,
			RxSNR:     m.RxSNR,
			HopLimit:  m.HopLimit,
			RelayNode: m.RelayNode,
			ID:        m.PacketID,
		})
	}

	return Result{
		Messages:      rows,
		FromIDs:       b.FromIDs(),
		ToIDs:         b.ToIDs(),
		AppsAvailable: b.AppsAvailable(),
		MyNodeID:      o.MyNodeID,
	}
}

// IsDirectMessage reports whether a message is addressed to the local node:
// true when the packet carries an explicit private/DM flag, otherwise when
// its to-id equals myNodeID case-insensitively, otherwise false.
func IsDirectMessage(m *event.Message, myNodeID string) bool {
	if m.Private != nil && *m.Private {
		return true
	}
	if m.DM != nil && *m.DM {
		return true
	}
	if myNodeID != "" && m.ToID != "" {
		return strings.EqualFold(m.ToID, myNodeID)
	}
	return false
}

func filter(msgs []event.Message, pred func(*event.Message) bool) []event.Message {
	out := make([]event.Message, 0, len(msgs))
	for i := range msgs {
		if pred(&msgs[i]) {
			out = append(out, msgs[i])
		}
	}
	return out
}
