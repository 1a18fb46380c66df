package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Collection is a typed view over a Firestore collection. Reads and writes go through
// the transaction on ctx when one is active.
type Collection[T any] struct {
	provider *Provider
	name     string
}

// NewCollection binds a typed collection helper to the provider.
func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{provider: provider, name: strings.TrimSpace(name)}
}

// Name returns the collection name, used to label errors.
func (c *Collection[T]) Name() string {
	return c.name
}

// Ref returns the document reference for id.
func (c *Collection[T]) Ref(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("firestore: document id is required")
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name).Doc(id), nil
}

// Get fetches and decodes a document.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var out T
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return out, err
	}
	var snap *firestore.DocumentSnapshot
	if tx, ok := TxFromContext(ctx); ok {
		snap, err = tx.Get(ref)
	} else {
		snap, err = ref.Get(ctx)
	}
	if err != nil {
		return out, err
	}
	err = snap.DataTo(&out)
	return out, err
}

// Create writes a new document and fails with AlreadyExists when it is present.
func (c *Collection[T]) Create(ctx context.Context, id string, value T) error {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return err
	}
	if tx, ok := TxFromContext(ctx); ok {
		return tx.Create(ref, value)
	}
	_, err = ref.Create(ctx, value)
	return err
}

// Set overwrites the document.
func (c *Collection[T]) Set(ctx context.Context, id string, value T) error {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return err
	}
	if tx, ok := TxFromContext(ctx); ok {
		return tx.Set(ref, value)
	}
	_, err = ref.Set(ctx, value)
	return err
}

// Update applies field updates; the document must exist.
func (c *Collection[T]) Update(ctx context.Context, id string, updates []firestore.Update) error {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return err
	}
	if tx, ok := TxFromContext(ctx); ok {
		return tx.Update(ref, updates)
	}
	_, err = ref.Update(ctx, updates)
	return err
}

// Query runs build against the collection and decodes every result.
func (c *Collection[T]) Query(ctx context.Context, build func(firestore.Query) firestore.Query) ([]T, error) {
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	query := client.Collection(c.name).Query
	if build != nil {
		query = build(query)
	}

	var iter *firestore.DocumentIterator
	if tx, ok := TxFromContext(ctx); ok {
		iter = tx.Documents(query)
	} else {
		iter = query.Documents(ctx)
	}
	defer iter.Stop()

	var out []T
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		var value T
		if err := snap.DataTo(&value); err != nil {
			return nil, err
		}
		out = append(out, value)
	}
}
