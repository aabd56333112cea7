package store

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Documents wraps a document database behind the small surface the
// toolkit's consumers use. Query richness stays with the client library.
type Documents struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewDocuments wraps an existing client.
func NewDocuments(client *mongo.Client, database string) *Documents {
	return &Documents{client: client, db: client.Database(database)}
}

// DialDocuments connects to the document database at uri.
func DialDocuments(ctx context.Context, uri, database string) (*Documents, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("store: connect documents: %w", err)
	}
	return NewDocuments(client, database), nil
}

// Collection returns a collection handle for pass-through operations.
func (d *Documents) Collection(name string) *mongo.Collection {
	return d.db.Collection(name)
}

// InsertOne stores a document.
func (d *Documents) InsertOne(ctx context.Context, collection string, doc any) (any, error) {
	res, err := d.db.Collection(collection).InsertOne(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("store: insert into %s: %w", collection, err)
	}
	return res.InsertedID, nil
}

// FindOne decodes the first document matching filter into out.
func (d *Documents) FindOne(ctx context.Context, collection string, filter, out any) error {
	if err := d.db.Collection(collection).FindOne(ctx, filter).Decode(out); err != nil {
		return fmt.Errorf("store: find in %s: %w", collection, err)
	}
	return nil
}

// Close disconnects from the database.
func (d *Documents) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}
