package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Ensure MongoStore implements Store interface
var _ Store = (*MongoStore)(nil)

// MongoConfig holds the connection settings for a MongoDB document backend.
type MongoConfig struct {
	URI      string `json:"uri"`
	Database string `json:"database"`
}

// MongoStore implements the document side of the Store interface on MongoDB
// and delegates object operations to an inner object store (filesystem or S3).
// Unlike the JSON-per-object backends, document filters and ordering are
// pushed down to the server.
type MongoStore struct {
	client  *mongo.Client
	db      *mongo.Database
	objects Store
}

// NewMongoStore connects to MongoDB and returns a store that keeps documents
// in the given database. objectStore handles PutObject/GetObject/DeleteObject;
// it must not be nil.
func NewMongoStore(config MongoConfig, objectStore Store) (*MongoStore, error) {
	if config.URI == "" {
		return nil, fmt.Errorf("mongo uri cannot be empty")
	}
	if config.Database == "" {
		return nil, fmt.Errorf("mongo database cannot be empty")
	}
	if objectStore == nil {
		return nil, fmt.Errorf("mongo store requires an object store for blob operations")
	}

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err = client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("mongodb ping failed: %w", err)
	}

	return &MongoStore{
		client:  client,
		db:      client.Database(config.Database),
		objects: objectStore,
	}, nil
}

func (m *MongoStore) PutObject(ctx context.Context, path string, data []byte, contentType string, tags map[string]string) (string, error) {
	return m.objects.PutObject(ctx, path, data, contentType, tags)
}

func (m *MongoStore) GetObject(ctx context.Context, path string) ([]byte, error) {
	return m.objects.GetObject(ctx, path)
}

func (m *MongoStore) DeleteObject(ctx context.Context, path string) error {
	return m.objects.DeleteObject(ctx, path)
}

func (m *MongoStore) PutDocument(ctx context.Context, collection, id string, fields Document) error {
	doc := bson.M{"_id": id}
	for k, v := range fields {
		doc[k] = v
	}

	_, err := m.db.Collection(collection).ReplaceOne(ctx,
		bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to store document %s/%s: %w", collection, id, err)
	}
	return nil
}

func (m *MongoStore) GetDocument(ctx context.Context, collection, id string) (Document, error) {
	var raw bson.M
	err := m.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to retrieve document %s/%s: %w", collection, id, err)
	}
	return fromBSON(raw), nil
}

func (m *MongoStore) QueryDocuments(ctx context.Context, collection string, q Query) ([]Document, error) {
	filter := bson.M{}
	for _, f := range q.Filters {
		var op string
		switch f.Op {
		case "==", "":
			op = "$eq"
		case "!=":
			op = "$ne"
		case ">=":
			op = "$gte"
		case "<=":
			op = "$lte"
		case ">":
			op = "$gt"
		case "<":
			op = "$lt"
		default:
			return nil, fmt.Errorf("unsupported filter operator %q", f.Op)
		}
		filter[f.Field] = bson.M{op: f.Value}
	}

	opts := options.Find()
	if q.OrderBy != "" {
		dir := 1
		if q.Descending {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: q.OrderBy, Value: dir}})
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cursor, err := m.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection %q: %w", collection, err)
	}
	defer cursor.Close(ctx)

	var docs []Document
	for cursor.Next(ctx) {
		var raw bson.M
		if err = cursor.Decode(&raw); err != nil {
			continue // skip undecodable records rather than failing the whole query
		}
		docs = append(docs, fromBSON(raw))
	}
	if err = cursor.Err(); err != nil {
		return nil, fmt.Errorf("cursor error on collection %q: %w", collection, err)
	}
	return docs, nil
}

func (m *MongoStore) DeleteDocument(ctx context.Context, collection, id string) error {
	_, err := m.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete document %s/%s: %w", collection, id, err)
	}
	return nil
}

func (m *MongoStore) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("mongodb connectivity check failed: %w", err)
	}
	return m.objects.Ping()
}

func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	err := m.client.Disconnect(ctx)
	if objErr := m.objects.Close(); err == nil {
		err = objErr
	}
	return err
}

func (m *MongoStore) GetType() string { return string(StoreTypeMongo) }

// fromBSON converts a decoded BSON map into a Document, normalizing the _id
// field away and BSON-specific types into their JSON-compatible equivalents.
func fromBSON(raw bson.M) Document {
	doc := make(Document, len(raw))
	for k, v := range raw {
		if k == "_id" {
			continue
		}
		switch t := v.(type) {
		case primitive.DateTime:
			doc[k] = t.Time().UTC().Format(time.RFC3339Nano)
		case bson.M:
			doc[k] = map[string]interface{}(fromBSON(t))
		case bson.A:
			arr := make([]interface{}, len(t))
			copy(arr, t)
			doc[k] = arr
		default:
			doc[k] = v
		}
	}
	return doc
}
