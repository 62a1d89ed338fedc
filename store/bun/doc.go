// Package bunstore implements store.Store using the Bun ORM with PostgreSQL
// dialect. It shares the table layout of the postgres package, so either
// backend can read letters the other wrote. Migrate applies the embedded
// *.tx.up.sql files with github.com/uptrace/bun/migrate, keeping history in
// the sdlq_bun_migrations table.
//
// The caller owns the *bun.DB lifecycle; bunstore never closes it. Pass the
// db handle through the constructor:
//
//	import (
//	    "github.com/uptrace/bun"
//	    "github.com/uptrace/bun/dialect/pgdialect"
//	    "github.com/uptrace/bun/driver/pgdriver"
//	    bunstore "github.com/xraph/sdlq/store/bun"
//	)
//
//	sqldb := sql.OpenDB(pgdriver.NewConnector(...))
//	db := bun.NewDB(sqldb, pgdialect.New())
//	store := bunstore.New(db)
//	store.Migrate(ctx)
package bunstore
