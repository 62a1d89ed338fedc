// Package sqlite implements store.Store on SQLite through database/sql and
// the pure-Go modernc.org/sqlite driver. Suitable for embedded and edge
// deployments, CLI tools, and standalone applications.
//
//	store, err := sqlite.Open("sdlq.db")
//	if err != nil { ... }
//	defer store.Close()
//	store.Migrate(ctx)
//
// New wraps a caller-owned *sql.DB instead; the store then never closes it.
package sqlite
