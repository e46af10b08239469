package logstore

import (
	"sort"

	"github.com/hfried/meshlog/internal/event"
)

// NameInfo is the display-name pair harvested for one node id.
type NameInfo struct {
	Short string `json:"short,omitempty"`
	Long  string `json:"long,omitempty"`
}

// Bundle is the materialized result of loading one label's window: messages
// in file order, raw snapshots, and the identity data derived from them.
// Bundles are query-local and never cached between requests.
type Bundle struct {
	Messages  []event.Message
	Snapshots []event.Record

	// NameMap maps node id to display names; within the loaded window the
	// latest snapshot wins per field.
	NameMap map[string]NameInfo

	// MyNodeID is the local node's identifier, from the first snapshot that
	// carried one. Empty when no snapshot did.
	MyNodeID string

	// Apps is the set of distinct app types observed across all messages.
	Apps map[string]struct{}

	// FilesLoaded lists the selected file names, in load order.
	FilesLoaded []string
}

// NewBundle returns an empty bundle.
func NewBundle() *Bundle {
	return &Bundle{
		NameMap:     map[string]NameInfo{},
		Apps:        map[string]struct{}{},
		FilesLoaded: []string{},
	}
}

// AppsAvailable returns the sorted distinct app types.
func (b *Bundle) AppsAvailable() []string {
	out := make([]string, 0, len(b.Apps))
	for a := range b.Apps {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// DisplayName resolves a node id to its short name, else long name, else the
// id itself.
func (b *Bundle) DisplayName(id string) string {
	if id == "" {
		return ""
	}
	info := b.NameMap[id]
	if info.Short != "" {
		return info.Short
	}
	if info.Long != "" {
		return info.Long
	}
	return id
}

// FromIDs returns the sorted distinct from-ids over all messages.
func (b *Bundle) FromIDs() []string {
	return b.distinctIDs(func(m *event.Message) string { return m.FromID })
}

// ToIDs returns the sorted distinct to-ids over all messages.
func (b *Bundle) ToIDs() []string {
	return b.distinctIDs(func(m *event.Message) string { return m.ToID })
}

func (b *Bundle) distinctIDs(key func(*event.Message) string) []string {
	seen := map[string]struct{}{}
	for i := range b.Messages {
		if id := key(&b.Messages[i]); id != "" {
			seen[id] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// deriveIdentity fills NameMap and MyNodeID from the snapshot sequence.
// Later snapshots overwrite earlier ones per non-empty name field; the first
// non-empty local identity wins.
func (b *Bundle) deriveIdentity() {
	for i := range b.Snapshots {
		s := &b.Snapshots[i]

		if user := userOf(s.MyInfo); user != nil {
			if id := idOf(user); id != "" {
				b.recordNames(id, user)
				if b.MyNodeID == "" {
					b.MyNodeID = id
				}
			}
		}

		for _, nd := range s.Nodes {
			node, ok := nd.(map[string]any)
			if !ok {
				continue
			}
			user, ok := node["user"].(map[string]any)
			if !ok {
				continue
			}
			if id := idOf(user); id != "" {
				b.recordNames(id, user)
			}
		}
	}
}

func (b *Bundle) recordNames(id string, user map[string]any) {
	info := b.NameMap[id]
	if s, ok := user["shortName"].(string); ok && s != "" {
		info.Short = s
	}
	if l, ok := user["longName"].(string); ok && l != "" {
		info.Long = l
	}
	b.NameMap[id] = info
}

func userOf(myInfo map[string]any) map[string]any {
	if myInfo == nil {
		return nil
	}
	user, _ := myInfo["user"].(map[string]any)
	return user
}

func idOf(user map[string]any) string {
	id, _ := user["id"].(string)
	return id
}
