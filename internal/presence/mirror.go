package presence

import (
	"sort"

	"lan_presence/internal/dataType"
	"lan_presence/internal/frame"

	"github.com/puzpuzpuz/xsync/v3"
)

// Mirror is a listener's view of the directory, rebuilt from broadcast
// frames. Frames arrive unordered and may repeat, so a frame only replaces
// the entry for its identity when its lastSeen is strictly newer.
type Mirror struct {
	entries *xsync.MapOf[string, dataType.IdentityRecord]
}

func NewMirror() *Mirror {
	return &Mirror{entries: xsync.NewMapOf[string, dataType.IdentityRecord]()}
}

// Apply merges f and reports whether it changed the view.
func (m *Mirror) Apply(f frame.Frame) bool {
	rec := f.Record()
	applied := false
	m.entries.Compute(rec.Identity, func(old dataType.IdentityRecord, loaded bool) (dataType.IdentityRecord, bool) {
		if loaded && old.LastSeen >= rec.LastSeen {
			return old, false
		}
		applied = true
		return rec, false
	})
	return applied
}

func (m *Mirror) Get(identity string) (dataType.IdentityRecord, bool) {
	return m.entries.Load(identity)
}

// Snapshot returns every known record ordered by identity.
func (m *Mirror) Snapshot() []dataType.IdentityRecord {
	out := make([]dataType.IdentityRecord, 0, m.entries.Size())
	m.entries.Range(func(_ string, rec dataType.IdentityRecord) bool {
		out = append(out, rec)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}
