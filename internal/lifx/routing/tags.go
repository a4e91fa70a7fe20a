package routing

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/gray-logic-lifx/internal/lifx/protocol"
)

// TagEntry names one tag slot on one site.
type TagEntry struct {
	SiteID string
	TagID  int
	Label  string
}

type tagKey struct {
	site string
	id   int
}

// TagTable maps site-scoped tag ids to labels. Labels need not be unique:
// the same label may occupy different slots on different sites.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type TagTable struct {
	mu      sync.RWMutex
	entries map[tagKey]TagEntry
}

// NewTagTable creates an empty table.
func NewTagTable() *TagTable {
	return &TagTable{entries: make(map[tagKey]TagEntry)}
}

// Update names tagID on siteID.
func (t *TagTable) Update(siteID string, tagID int, label string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[tagKey{siteID, tagID}] = TagEntry{SiteID: siteID, TagID: tagID, Label: label}
}

// Delete forgets tagID on siteID.
func (t *TagTable) Delete(siteID string, tagID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, tagKey{siteID, tagID})
}

// Entry returns the entry for one slot.
func (t *TagTable) Entry(siteID string, tagID int) (TagEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[tagKey{siteID, tagID}]
	return e, ok
}

func (t *TagTable) filter(keep func(TagEntry) bool) []TagEntry {
	t.mu.RLock()
	var out []TagEntry
	for _, e := range t.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].SiteID != out[j].SiteID {
			return out[i].SiteID < out[j].SiteID
		}
		return out[i].TagID < out[j].TagID
	})
	return out
}

// EntriesWithLabel returns every slot named label, ordered by site and id.
func (t *TagTable) EntriesWithLabel(label string) []TagEntry {
	return t.filter(func(e TagEntry) bool { return e.Label == label })
}

// EntriesOnSite returns every named slot on siteID.
func (t *TagTable) EntriesOnSite(siteID string) []TagEntry {
	return t.filter(func(e TagEntry) bool { return e.SiteID == siteID })
}

// EntryWithLabel returns the lowest slot on siteID named label.
func (t *TagTable) EntryWithLabel(siteID, label string) (TagEntry, bool) {
	for _, e := range t.EntriesWithLabel(label) {
		if e.SiteID == siteID {
			return e, true
		}
	}
	return TagEntry{}, false
}

// Entries returns every entry ordered by site and id.
func (t *TagTable) Entries() []TagEntry {
	return t.filter(func(TagEntry) bool { return true })
}

// Labels returns the distinct labels, sorted.
func (t *TagTable) Labels() []string {
	t.mu.RLock()
	seen := make(map[string]struct{})
	for _, e := range t.entries {
		seen[e.Label] = struct{}{}
	}
	t.mu.RUnlock()

	labels := make([]string, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// ReserveNextUnused claims the lowest free tag id on siteID for label and
// records it before any network round trip, so a concurrent reservation
// cannot pick the same slot.
//
// Returns:
//   - TagEntry: The reserved slot
//   - error: ErrTagLimitReached if every slot is taken; the table is unchanged
func (t *TagTable) ReserveNextUnused(siteID, label string) (TagEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id := 0; id < protocol.MaxTags; id++ {
		key := tagKey{siteID, id}
		if _, taken := t.entries[key]; taken {
			continue
		}
		e := TagEntry{SiteID: siteID, TagID: id, Label: label}
		t.entries[key] = e
		return e, nil
	}
	return TagEntry{}, fmt.Errorf("%w: site %s", ErrTagLimitReached, siteID)
}

// Load adds entries, overwriting slots that already exist.
func (t *TagTable) Load(entries []TagEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range entries {
		t.entries[tagKey{e.SiteID, e.TagID}] = e
	}
}
