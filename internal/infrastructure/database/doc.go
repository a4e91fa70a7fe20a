// Package database opens the SQLite file that backs the routing cache.
//
// The cache lets a restarted service route to known devices and tags
// before discovery has finished. Losing the file only costs a slower
// start, so the package keeps things simple:
//   - one connection, WAL mode, a busy timeout
//   - forward migrations embedded in the binary, each in its own transaction
//   - file permissions of 0600
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Cache.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
