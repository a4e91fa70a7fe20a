package routing

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-lifx/internal/lifx/protocol"
)

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Manager owns the routing and tag tables.
//
// Thread Safety:
//   - All methods are safe for concurrent use. Each resolution reads each
//     table once, so it sees a consistent snapshot of that table.
type Manager struct {
	table  *Table
	tags   *TagTable
	logger Logger
}

// NewManager creates a manager with empty tables. A nil logger is allowed.
func NewManager(logger Logger) *Manager {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Manager{table: NewTable(), tags: NewTagTable(), logger: logger}
}

// Table returns the device table.
func (m *Manager) Table() *Table {
	return m.table
}

// Tags returns the tag table.
func (m *Manager) Tags() *TagTable {
	return m.tags
}

// ResolveTarget turns t into the paths a message must be written to.
//
// Resolution rules:
//   - Tag: one tagged path per site where the label exists, with only that
//     tag's bit set.
//   - Broadcast: one all-devices path per known site, or the all-zero site
//     path when no site is known yet.
//   - Site only: one all-devices path on that site.
//   - Site and device: one exact path.
//   - Device only: the device's known site, or every known site when the
//     device has not been seen.
//
// Returns:
//   - []protocol.ProtocolPath: At least one path when err is nil
//   - error: ErrInvalidTarget, ErrTagNotFound, ErrUnroutable or
//     protocol.ErrInvalidID
func (m *Manager) ResolveTarget(t Target) ([]protocol.ProtocolPath, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	switch {
	case t.Tag != "":
		entries := m.tags.EntriesWithLabel(t.Tag)
		if t.SiteID != "" {
			entries = filterSite(entries, t.SiteID)
		}
		if len(entries) == 0 {
			return nil, fmt.Errorf("%w: %q", ErrTagNotFound, t.Tag)
		}
		paths := make([]protocol.ProtocolPath, 0, len(entries))
		for _, e := range entries {
			p, err := protocol.NewTagPath(e.SiteID, []int{e.TagID})
			if err != nil {
				return nil, err
			}
			paths = append(paths, p)
		}
		return paths, nil

	case t.Broadcast:
		sites := m.table.SiteIDs()
		if t.SiteID != "" {
			sites = []string{t.SiteID}
		}
		if len(sites) == 0 {
			return []protocol.ProtocolPath{protocol.AllSitesPath()}, nil
		}
		return sitePaths(sites)

	case t.DeviceID == "":
		return sitePaths([]string{t.SiteID})

	case t.SiteID != "":
		p, err := protocol.NewDevicePath(t.SiteID, t.DeviceID)
		if err != nil {
			return nil, err
		}
		return []protocol.ProtocolPath{p}, nil
	}

	sites := m.table.SiteIDs()
	if site, ok := m.table.SiteIDFor(t.DeviceID); ok {
		sites = []string{site}
	}
	if len(sites) == 0 {
		return nil, fmt.Errorf("%w: %s and no site is known", ErrUnroutable, t)
	}
	paths := make([]protocol.ProtocolPath, 0, len(sites))
	for _, site := range sites {
		p, err := protocol.NewDevicePath(site, t.DeviceID)
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func sitePaths(sites []string) ([]protocol.ProtocolPath, error) {
	paths := make([]protocol.ProtocolPath, 0, len(sites))
	for _, site := range sites {
		p, err := protocol.NewTagPath(site, nil)
		if err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, nil
}

func filterSite(entries []TagEntry, siteID string) []TagEntry {
	out := entries[:0:0]
	for _, e := range entries {
		if e.SiteID == siteID {
			out = append(out, e)
		}
	}
	return out
}

// UpdateFromMessage learns from an inbound frame.
//
// Only device-addressed frames from a real site are used. Light state and
// tag reports refresh the device's tags; tag label reports name (or, with
// an empty label, clear) tag slots.
//
// Returns:
//   - uint64: Bitmask of tags the device reported whose labels are unknown,
//     zero if none. The caller should ask for their labels.
func (m *Manager) UpdateFromMessage(msg *protocol.Message, seen time.Time) uint64 {
	if msg.Path == nil || msg.Path.Tagged || msg.Path.IsAllSites() {
		return 0
	}
	deviceID, _ := msg.DeviceID()
	siteID := msg.SiteID()

	var tagIDs []int
	switch p := msg.Payload.(type) {
	case *protocol.LightState:
		tagIDs = protocol.TagIDsFromField(p.Tags)
	case *protocol.StateTags:
		tagIDs = protocol.TagIDsFromField(p.Tags)
	case *protocol.StateTagLabels:
		label := p.Label.String()
		for _, id := range protocol.TagIDsFromField(p.Tags) {
			if label == "" {
				m.tags.Delete(siteID, id)
				m.logger.Debug("tag cleared", "site", siteID, "tag_id", id)
				continue
			}
			m.tags.Update(siteID, id, label)
		}
	}

	m.table.Update(siteID, deviceID, tagIDs, seen)

	var missing uint64
	for _, id := range tagIDs {
		if _, ok := m.tags.Entry(siteID, id); !ok {
			missing |= 1 << uint(id)
		}
	}
	return missing
}

// TagsForDevice returns the labels of the tags deviceID reported.
func (m *Manager) TagsForDevice(deviceID string) []string {
	e, ok := m.table.Entry(deviceID)
	if !ok || !e.TagsKnown {
		return nil
	}
	var labels []string
	for _, id := range e.TagIDs {
		if t, ok := m.tags.Entry(e.SiteID, id); ok {
			labels = append(labels, t.Label)
		}
	}
	return labels
}

// DevicesWithTag returns the ids of devices reporting label on its site.
func (m *Manager) DevicesWithTag(label string) []string {
	var ids []string
	for _, e := range m.table.Entries() {
		for _, tag := range m.tags.EntriesWithLabel(label) {
			if tag.SiteID == e.SiteID && e.HasTag(tag.TagID) {
				ids = append(ids, e.DeviceID)
				break
			}
		}
	}
	return ids
}

// ClearStaleEntries evicts devices silent for longer than threshold.
func (m *Manager) ClearStaleEntries(threshold time.Duration) int {
	n := m.table.ClearStaleEntries(threshold)
	if n > 0 {
		m.logger.Debug("evicted stale routing entries", "count", n)
	}
	return n
}

// Store persists the tables between runs.
type Store interface {
	Load(ctx context.Context) ([]Entry, []TagEntry, error)
	Save(ctx context.Context, entries []Entry, tags []TagEntry) error
}

// LoadCache warms the tables from store. Failures are logged, never
// returned: the tables simply start empty.
func (m *Manager) LoadCache(ctx context.Context, store Store) {
	entries, tags, err := store.Load(ctx)
	if err != nil {
		m.logger.Warn("routing cache unavailable, starting empty", "error", err)
		return
	}
	m.table.Load(entries)
	m.tags.Load(tags)
	m.logger.Info("routing cache loaded", "devices", len(entries), "tags", len(tags))
}

// SaveCache writes the tables to store. Failures are logged.
func (m *Manager) SaveCache(ctx context.Context, store Store) {
	if err := store.Save(ctx, m.table.Entries(), m.tags.Entries()); err != nil {
		m.logger.Warn("routing cache save failed", "error", err)
	}
}
