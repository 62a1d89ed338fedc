// Package mongo implements store.Store on MongoDB using the official v2
// driver. Each letter is one document; a unique (sequence_id, seq_index)
// index enforces per-sequence ordering.
//
// The caller owns the *mongo.Client lifecycle; the store never closes it.
// Pass a database handle through the constructor:
//
//	import (
//	    mongod "go.mongodb.org/mongo-driver/v2/mongo"
//	    "github.com/xraph/sdlq/store/mongo"
//	)
//
//	client, _ := mongod.Connect(options.Client().ApplyURI(dsn))
//	store := mongo.New(client.Database("sdlq"))
//	store.Migrate(ctx)
package mongo
