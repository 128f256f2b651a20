package mongodriver

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ErrNoDocuments is returned when a single-document operation matched
// nothing.
var ErrNoDocuments = mongo.ErrNoDocuments

// Conn runs operations against one database.
type Conn struct {
	db     *mongo.Database
	client *mongo.Client
}

// Query runs an aggregation and returns a cursor over its documents.
// Disk use is always allowed: joins built from several stages can exceed
// the server's in-memory stage limit.
func (c *Conn) Query(ctx context.Context, collection string, pipeline []bson.D) (*Rows, error) {
	cursor, err := c.db.Collection(collection).Aggregate(ctx, pipeline,
		options.Aggregate().SetAllowDiskUse(true))
	if err != nil {
		return nil, fmt.Errorf("mongodriver: aggregate %s: %w", collection, err)
	}
	return NewRows(cursor), nil
}

// Aggregate runs an aggregation and returns every document.
func (c *Conn) Aggregate(ctx context.Context, collection string, pipeline []bson.D) ([]bson.Raw, error) {
	rows, err := c.Query(ctx, collection, pipeline)
	if err != nil {
		return nil, err
	}
	defer rows.Close(ctx)

	var docs []bson.Raw
	for rows.Next(ctx) {
		docs = append(docs, rows.Raw())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mongodriver: aggregate %s: %w", collection, err)
	}
	return docs, nil
}

// UpsertOne sets the fields of the document matching filter, creating it
// when missing.
func (c *Conn) UpsertOne(ctx context.Context, collection string, filter, set bson.D) error {
	res := c.db.Collection(collection).FindOneAndUpdate(ctx, filter,
		bson.D{{Key: "$set", Value: set}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After))
	if err := res.Err(); err != nil {
		return fmt.Errorf("mongodriver: upsert %s: %w", collection, err)
	}
	return nil
}

// DeleteOne removes the first document matching filter and reports how
// many were removed.
func (c *Conn) DeleteOne(ctx context.Context, collection string, filter bson.D) (int64, error) {
	res, err := c.db.Collection(collection).DeleteOne(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("mongodriver: delete %s: %w", collection, err)
	}
	return res.DeletedCount, nil
}

// InsertMany inserts docs in order.
func (c *Conn) InsertMany(ctx context.Context, collection string, docs []any) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}
	res, err := c.db.Collection(collection).InsertMany(ctx, docs)
	if err != nil {
		return 0, fmt.Errorf("mongodriver: insert %s: %w", collection, err)
	}
	return len(res.InsertedIDs), nil
}

// Database returns the underlying database handle.
func (c *Conn) Database() *mongo.Database {
	return c.db
}

// IsNotFound reports whether err means no document matched.
func IsNotFound(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}
