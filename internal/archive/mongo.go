package archive

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	defaultMongoDatabase = "consultd"
	mongoCollection      = "consultations"
)

// MongoArchive stores one document per record in the consultations
// collection.
type MongoArchive struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// ConnectMongo connects to uri and pings the server.
func ConnectMongo(ctx context.Context, uri, database string) (*MongoArchive, error) {
	if database == "" {
		database = defaultMongoDatabase
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}
	return &MongoArchive{client: client, coll: client.Database(database).Collection(mongoCollection)}, nil
}

// Archive replaces or inserts r.
func (a *MongoArchive) Archive(ctx context.Context, r Record) error {
	_, err := a.coll.ReplaceOne(ctx, bson.M{"_id": r.ID}, r, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("archiving %s: %w", r.ID, err)
	}
	return nil
}

// Get loads an archived record.
func (a *MongoArchive) Get(ctx context.Context, id string) (Record, error) {
	var r Record
	if err := a.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&r); err != nil {
		return Record{}, fmt.Errorf("loading %s: %w", id, err)
	}
	return r, nil
}

// Close disconnects the client.
func (a *MongoArchive) Close(ctx context.Context) error {
	return a.client.Disconnect(ctx)
}
