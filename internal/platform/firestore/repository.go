package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Document pairs a decoded entity with its document ID.
type Document[T any] struct {
	ID   string
	Data T
}

// QueryBuilder customises Firestore queries before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// BaseRepository provides typed access to one collection. T is the Firestore document shape,
// usually a struct with firestore tags; conversion to domain types is left to the caller.
type BaseRepository[T any] struct {
	provider   *Provider
	collection string
}

// NewBaseRepository constructs a BaseRepository bound to a collection path. Subcollections
// are addressed with slash separated paths such as "orders/<id>/carrierEvents".
func NewBaseRepository[T any](provider *Provider, collection string) *BaseRepository[T] {
	return &BaseRepository[T]{provider: provider, collection: strings.Trim(collection, "/ ")}
}

// Get fetches and decodes one document.
func (r *BaseRepository[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	doc, err := r.DocumentRef(ctx, id)
	if err != nil {
		return zero, err
	}
	snap, err := doc.Get(ctx)
	if err != nil {
		return zero, WrapError(r.op("get"), err)
	}
	return decode[T](snap)
}

// Set replaces the document under id.
func (r *BaseRepository[T]) Set(ctx context.Context, id string, value T) error {
	doc, err := r.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := doc.Set(ctx, value); err != nil {
		return WrapError(r.op("set"), err)
	}
	return nil
}

// Create writes the document only if id is unused; an existing document yields a conflict.
func (r *BaseRepository[T]) Create(ctx context.Context, id string, value T) error {
	doc, err := r.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := doc.Create(ctx, value); err != nil {
		return WrapError(r.op("create"), err)
	}
	return nil
}

// Delete removes the document. Deleting a missing document is not an error.
func (r *BaseRepository[T]) Delete(ctx context.Context, id string) error {
	doc, err := r.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := doc.Delete(ctx); err != nil {
		return WrapError(r.op("delete"), err)
	}
	return nil
}

// Query executes a collection query and returns the decoded documents.
func (r *BaseRepository[T]) Query(ctx context.Context, build QueryBuilder) ([]Document[T], error) {
	coll, err := r.CollectionRef(ctx)
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
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return docs, nil
		}
		if err != nil {
			return nil, WrapError(r.op("query"), err)
		}
		data, err := decode[T](snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, Document[T]{ID: snap.Ref.ID, Data: data})
	}
}

// TxGet reads one document inside a transaction. found is false when the document is missing.
func (r *BaseRepository[T]) TxGet(ctx context.Context, tx *firestore.Transaction, id string) (value T, found bool, err error) {
	doc, err := r.DocumentRef(ctx, id)
	if err != nil {
		return value, false, err
	}
	snap, err := tx.Get(doc)
	if err != nil {
		if kindOf(err) == kindNotFound {
			return value, false, nil
		}
		return value, false, err
	}
	value, err = decode[T](snap)
	return value, err == nil, err
}

// TxQuery runs a collection query inside a transaction. Transactions require every read to
// happen before the first write.
func (r *BaseRepository[T]) TxQuery(ctx context.Context, tx *firestore.Transaction, build QueryBuilder) ([]Document[T], error) {
	coll, err := r.CollectionRef(ctx)
	if err != nil {
		return nil, err
	}
	query := coll.Query
	if build != nil {
		query = build(query)
	}
	snaps, err := tx.Documents(query).GetAll()
	if err != nil {
		return nil, WrapError(r.op("tx_query"), err)
	}
	docs := make([]Document[T], 0, len(snaps))
	for _, snap := range snaps {
		data, err := decode[T](snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, Document[T]{ID: snap.Ref.ID, Data: data})
	}
	return docs, nil
}

// CollectionRef exposes the collection for batch writes and custom queries.
func (r *BaseRepository[T]) CollectionRef(ctx context.Context) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("firestore: provider is nil")
	}
	if r.collection == "" {
		return nil, errors.New("firestore: collection name is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(r.collection), nil
}

// DocumentRef exposes the document reference for transactions.
func (r *BaseRepository[T]) DocumentRef(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(r.op("document"), errors.New("firestore: document id is required"))
	}
	coll, err := r.CollectionRef(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

func (r *BaseRepository[T]) op(action string) string {
	return fmt.Sprintf("%s.%s", r.collection, action)
}

func decode[T any](snap *firestore.DocumentSnapshot) (T, error) {
	var target T
	if err := snap.DataTo(&target); err != nil {
		return target, fmt.Errorf("firestore: decode document %s: %w", snap.Ref.ID, err)
	}
	return target, nil
}
