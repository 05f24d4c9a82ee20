package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Document is the stored form of a session. Modified is nil until the
// session is first updated after creation.
type Document struct {
	ID       string     `bson:"_id"`
	Modified *time.Time `bson:"modified"`
	Data     string     `bson:"data"`
}

// Collection is the subset of a document collection the store needs
type Collection interface {
	// FindOne returns the document for id, or false if there is none
	FindOne(ctx context.Context, id string) (Document, bool, error)

	// Count returns how many documents have the given id
	Count(ctx context.Context, id string) (int64, error)

	// InsertOne inserts doc and returns how many documents were inserted
	InsertOne(ctx context.Context, doc Document) (int64, error)

	// UpdateOne sets data and modified on the document for id and returns the
	// matched and modified counts
	UpdateOne(ctx context.Context, id, data string, modified time.Time) (matched, changed int64, err error)

	// DeleteOne deletes the document for id and returns how many were deleted
	DeleteOne(ctx context.Context, id string) (int64, error)

	// DeleteModifiedBefore deletes every document whose modified time is set
	// and earlier than cutoff, returning how many were deleted
	DeleteModifiedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// MongoCollection adapts a MongoDB collection to Collection
type MongoCollection struct {
	coll *mongo.Collection
}

var _ Collection = (*MongoCollection)(nil)

// NewMongoCollection wraps coll
func NewMongoCollection(coll *mongo.Collection) *MongoCollection {
	return &MongoCollection{coll: coll}
}

func byID(id string) bson.D {
	return bson.D{{Key: "_id", Value: id}}
}

// EnsureIndexes creates the index collection sweeps filter on
func (m *MongoCollection) EnsureIndexes(ctx context.Context) error {
	_, err := m.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "modified", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create modified index: %w", err)
	}

	return nil
}

func (m *MongoCollection) FindOne(ctx context.Context, id string) (Document, bool, error) {
	var doc Document

	err := m.coll.FindOne(ctx, byID(id)).Decode(&doc)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return Document{}, false, nil
	case err != nil:
		return Document{}, false, err
	}

	return doc, true, nil
}

func (m *MongoCollection) Count(ctx context.Context, id string) (int64, error) {
	return m.coll.CountDocuments(ctx, byID(id))
}

func (m *MongoCollection) InsertOne(ctx context.Context, doc Document) (int64, error) {
	res, err := m.coll.InsertOne(ctx, doc)
	if err != nil {
		return 0, err
	}

	if res.InsertedID == nil {
		return 0, nil
	}

	return 1, nil
}

func (m *MongoCollection) UpdateOne(ctx context.Context, id, data string, modified time.Time) (int64, int64, error) {
	res, err := m.coll.UpdateOne(ctx, byID(id), bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "modified", Value: modified},
			{Key: "data", Value: data},
		}},
	})
	if err != nil {
		return 0, 0, err
	}

	return res.MatchedCount, res.ModifiedCount, nil
}

func (m *MongoCollection) DeleteOne(ctx context.Context, id string) (int64, error) {
	res, err := m.coll.DeleteOne(ctx, byID(id))
	if err != nil {
		return 0, err
	}

	return res.DeletedCount, nil
}

func (m *MongoCollection) DeleteModifiedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := m.coll.DeleteMany(ctx, bson.D{
		{Key: "modified", Value: bson.D{{Key: "$lt", Value: cutoff}}},
	})
	if err != nil {
		return 0, err
	}

	return res.DeletedCount, nil
}
