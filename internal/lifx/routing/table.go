package routing

import (
	"slices"
	"sort"
	"sync"
	"time"
)

// DefaultStaleThreshold is how long a device may stay silent before its
// entry is evicted.
const DefaultStaleThreshold = 5 * time.Minute

// Entry is what is known about one device.
type Entry struct {
	SiteID   string
	DeviceID string

	// TagIDs is only meaningful when TagsKnown is true.
	TagIDs    []int
	TagsKnown bool

	LastSeen time.Time
}

// HasTag reports whether the device reported tagID.
func (e Entry) HasTag(tagID int) bool {
	return e.TagsKnown && slices.Contains(e.TagIDs, tagID)
}

// Table maps device ids to entries.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Returned entries are copies.
type Table struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{entries: make(map[string]Entry)}
}

// Update records that deviceID was seen on siteID. A nil tagIDs leaves the
// known tags untouched; a non-nil (possibly empty) slice replaces them.
// LastSeen never moves backwards.
func (t *Table) Update(siteID, deviceID string, tagIDs []int, seen time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[deviceID]
	if !ok {
		e = Entry{DeviceID: deviceID}
	}
	e.SiteID = siteID
	if seen.After(e.LastSeen) {
		e.LastSeen = seen
	}
	if tagIDs != nil {
		e.TagIDs = slices.Clone(tagIDs)
		e.TagsKnown = true
	}
	t.entries[deviceID] = e
}

// Entry returns the entry for deviceID.
func (t *Table) Entry(deviceID string) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[deviceID]
	if ok {
		e.TagIDs = slices.Clone(e.TagIDs)
	}
	return e, ok
}

// SiteIDFor returns the site deviceID was last seen on.
func (t *Table) SiteIDFor(deviceID string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[deviceID]
	return e.SiteID, ok
}

// SiteIDs returns every site with at least one device, sorted.
func (t *Table) SiteIDs() []string {
	t.mu.RLock()
	seen := make(map[string]struct{})
	for _, e := range t.entries {
		seen[e.SiteID] = struct{}{}
	}
	t.mu.RUnlock()

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Entries returns every entry ordered by device id.
func (t *Table) Entries() []Entry {
	t.mu.RLock()
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		e.TagIDs = slices.Clone(e.TagIDs)
		out = append(out, e)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Len returns the number of entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// ClearStaleEntries removes entries not seen within threshold and returns
// how many were removed.
func (t *Table) ClearStaleEntries(threshold time.Duration) int {
	cutoff := time.Now().Add(-threshold)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, e := range t.entries {
		if e.LastSeen.Before(cutoff) {
			delete(t.entries, id)
			removed++
		}
	}
	return removed
}

// Load merges entries, keeping whichever copy of a device was seen last.
func (t *Table) Load(entries []Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range entries {
		if cur, ok := t.entries[e.DeviceID]; ok && !e.LastSeen.After(cur.LastSeen) {
			continue
		}
		e.TagIDs = slices.Clone(e.TagIDs)
		t.entries[e.DeviceID] = e
	}
}
