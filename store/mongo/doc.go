// Package mongo implements store.Store on the official MongoDB driver.
// Suitable for distributed deployments requiring horizontal scaling and
// flexible schema evolution.
//
// Every state transition is expressed as a conditional update whose filter
// encodes the transition's precondition, so concurrent workers race inside
// the database rather than on a stale read.
//
// The caller owns the *mongo.Client lifecycle -- this package never
// disconnects it. Pass the client through the constructor:
//
//	import (
//	    mongod "go.mongodb.org/mongo-driver/v2/mongo"
//	    "github.com/intent-solutions-io/durable/store/mongo"
//	)
//
//	client, _ := mongod.Connect(options.Client().ApplyURI(uri))
//	store := mongo.New(client, "durable")
//	store.Migrate(ctx)
package mongo
