// Package routing keeps the address book used to turn caller intent into
// wire paths.
//
// Table maps device ids to the site they were last heard on (and the tags
// they report). TagTable maps site-scoped tag ids to labels. Manager owns
// both, updates them from inbound frames and resolves a Target into one or
// more protocol paths.
//
// Both tables are plain in-memory maps guarded by their own mutex; staleness
// eviction is driven by the owner's timer, not by the tables. An optional
// Store persists them between runs as a warm-start cache.
package routing
