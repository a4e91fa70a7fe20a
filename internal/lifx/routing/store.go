package routing

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SQLiteStore persists the tables in the routing_entries and tag_entries
// tables created by the routing cache migration.
type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a store on an open, migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Load reads every cached entry.
func (s *SQLiteStore) Load(ctx context.Context) ([]Entry, []TagEntry, error) {
	entries, err := s.loadEntries(ctx)
	if err != nil {
		return nil, nil, err
	}
	tags, err := s.loadTags(ctx)
	if err != nil {
		return nil, nil, err
	}
	return entries, tags, nil
}

func (s *SQLiteStore) loadEntries(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id, site_id, tag_ids, tags_known, last_seen
		FROM routing_entries
		ORDER BY device_id`)
	if err != nil {
		return nil, fmt.Errorf("querying routing entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			tagsJSON string
			known    int
			lastSeen string
		)
		if err := rows.Scan(&e.DeviceID, &e.SiteID, &tagsJSON, &known, &lastSeen); err != nil {
			return nil, fmt.Errorf("scanning routing entry: %w", err)
		}
		if err := json.Unmarshal([]byte(tagsJSON), &e.TagIDs); err != nil {
			return nil, fmt.Errorf("decoding tag ids of %s: %w", e.DeviceID, err)
		}
		e.TagsKnown = known != 0
		if e.LastSeen, err = time.Parse(time.RFC3339Nano, lastSeen); err != nil {
			return nil, fmt.Errorf("parsing last_seen of %s: %w", e.DeviceID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating routing entries: %w", err)
	}
	return entries, nil
}

func (s *SQLiteStore) loadTags(ctx context.Context) ([]TagEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT site_id, tag_id, label
		FROM tag_entries
		ORDER BY site_id, tag_id`)
	if err != nil {
		return nil, fmt.Errorf("querying tag entries: %w", err)
	}
	defer rows.Close()

	var tags []TagEntry
	for rows.Next() {
		var t TagEntry
		if err := rows.Scan(&t.SiteID, &t.TagID, &t.Label); err != nil {
			return nil, fmt.Errorf("scanning tag entry: %w", err)
		}
		tags = append(tags, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tag entries: %w", err)
	}
	return tags, nil
}

// Save replaces the cached contents in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, entries []Entry, tags []TagEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning cache transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if _, err := tx.ExecContext(ctx, `DELETE FROM routing_entries`); err != nil {
		return fmt.Errorf("clearing routing entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tag_entries`); err != nil {
		return fmt.Errorf("clearing tag entries: %w", err)
	}

	for _, e := range entries {
		ids := e.TagIDs
		if ids == nil {
			ids = []int{}
		}
		tagsJSON, err := json.Marshal(ids)
		if err != nil {
			return fmt.Errorf("encoding tag ids of %s: %w", e.DeviceID, err)
		}
		known := 0
		if e.TagsKnown {
			known = 1
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO routing_entries (device_id, site_id, tag_ids, tags_known, last_seen)
			VALUES (?, ?, ?, ?, ?)`,
			e.DeviceID, e.SiteID, string(tagsJSON), known, e.LastSeen.UTC().Format(time.RFC3339Nano),
		); err != nil {
			return fmt.Errorf("inserting routing entry %s: %w", e.DeviceID, err)
		}
	}

	for _, t := range tags {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tag_entries (site_id, tag_id, label)
			VALUES (?, ?, ?)`,
			t.SiteID, t.TagID, t.Label,
		); err != nil {
			return fmt.Errorf("inserting tag %s/%d: %w", t.SiteID, t.TagID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing cache: %w", err)
	}
	return nil
}
