package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Document is a decoded snapshot together with its id and timestamps.
type Document[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
}

// QueryBuilder customises Firestore queries before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// ClientSource supplies the Firestore client; *Provider satisfies it.
type ClientSource interface {
	Client(ctx context.Context) (*firestore.Client, error)
}

// BaseRepository provides typed helpers around a single collection. T must be
// a struct carrying `firestore` tags.
type BaseRepository[T any] struct {
	source     ClientSource
	collection string
}

// NewBaseRepository constructs a BaseRepository bound to a collection.
func NewBaseRepository[T any](source ClientSource, collection string) *BaseRepository[T] {
	return &BaseRepository[T]{
		source:     source,
		collection: strings.TrimSpace(collection),
	}
}

// Add inserts value as a new document with a store-assigned id.
func (r *BaseRepository[T]) Add(ctx context.Context, value T) (string, error) {
	coll, err := r.collectionRef(ctx)
	if err != nil {
		return "", err
	}
	ref, _, err := coll.Add(ctx, value)
	if err != nil {
		return "", WrapError(r.op("add"), err)
	}
	return ref.ID, nil
}

// Query executes a collection query and returns the decoded documents.
func (r *BaseRepository[T]) Query(ctx context.Context, build QueryBuilder) ([]Document[T], error) {
	coll, err := r.collectionRef(ctx)
	if err != nil {
		return nil, err
	}

	query := coll.Query
	if build != nil {
		query = build(query)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var docs []Document[T]
	for {
		snapshot, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, WrapError(r.op("query"), err)
		}
		doc, err := decode[T](snapshot)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (r *BaseRepository[T]) collectionRef(ctx context.Context) (*firestore.CollectionRef, error) {
	if r == nil || r.source == nil {
		return nil, WrapError(r.op("collection"), errors.New("firestore: client source is nil"))
	}
	if r.collection == "" {
		return nil, WrapError(r.op("collection"), errors.New("firestore: collection name is required"))
	}
	client, err := r.source.Client(ctx)
	if err != nil {
		return nil, WrapError(r.op("client"), err)
	}
	return client.Collection(r.collection), nil
}

func (r *BaseRepository[T]) op(action string) string {
	name := "firestore"
	if r != nil && r.collection != "" {
		name = r.collection
	}
	return fmt.Sprintf("%s.%s", name, action)
}

func decode[T any](snapshot *firestore.DocumentSnapshot) (Document[T], error) {
	var value T
	if err := snapshot.DataTo(&value); err != nil {
		return Document[T]{}, fmt.Errorf("firestore: decode document %s: %w", snapshot.Ref.ID, err)
	}
	return Document[T]{
		ID:         snapshot.Ref.ID,
		Data:       value,
		CreateTime: snapshot.CreateTime,
	}, nil
}
