package mongodriver

import (
	"context"
	"encoding/json"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Rows iterates over the documents of a query.
type Rows struct {
	cursor *mongo.Cursor
	closed bool
}

// NewRows creates a new Rows from a MongoDB cursor.
func NewRows(cursor *mongo.Cursor) *Rows {
	return &Rows{cursor: cursor}
}

// Next moves to the next document.
func (r *Rows) Next(ctx context.Context) bool {
	if r.closed || r.cursor == nil {
		return false
	}
	return r.cursor.Next(ctx)
}

// Decode unmarshals the current document into v.
func (r *Rows) Decode(v any) error {
	return r.cursor.Decode(v)
}

// Raw returns a copy of the current document.
func (r *Rows) Raw() bson.Raw {
	return append(bson.Raw(nil), r.cursor.Current...)
}

// JSON renders the current document as relaxed extended JSON.
func (r *Rows) JSON() (json.RawMessage, error) {
	return bson.MarshalExtJSON(r.cursor.Current, false, false)
}

// Err returns the error that stopped the iteration, if any.
func (r *Rows) Err() error {
	if r.cursor == nil {
		return nil
	}
	return r.cursor.Err()
}

// Close closes the rows iterator.
func (r *Rows) Close(ctx context.Context) error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.cursor != nil {
		return r.cursor.Close(ctx)
	}
	return nil
}

// ReadJSON drains rows into a JSON array and closes them.
func ReadJSON(ctx context.Context, rows *Rows) (json.RawMessage, error) {
	defer rows.Close(ctx)

	docs := make([]json.RawMessage, 0)
	for rows.Next(ctx) {
		doc, err := rows.JSON()
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return json.Marshal(docs)
}
