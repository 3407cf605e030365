package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// QueryBuilder customises Firestore queries before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// Collection gives typed access to one collection. Documents are stored as T with Firestore's native
// struct encoding. Calls made with a unit-of-work context read through the transaction and see the
// writes buffered earlier in the same unit.
type Collection[T any] struct {
	provider *Provider
	name     string
}

// NewCollection binds a typed collection to the provider.
func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{provider: provider, name: strings.TrimSpace(name)}
}

// Get loads the document by id.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	ref, err := c.ref(ctx, id)
	if err != nil {
		return zero, err
	}

	var snap *firestore.DocumentSnapshot
	if state, ok := currentTx(ctx); ok {
		if pending, buffered := state.writes[ref.Path]; buffered {
			if pending.delete {
				return zero, NotFound(c.op("get"), "document %s deleted in transaction", id)
			}
			if value, ok := pending.data.(T); ok {
				return value, nil
			}
		}
		snap, err = state.tx.Get(ref)
	} else {
		snap, err = ref.Get(ctx)
	}
	if err != nil {
		return zero, WrapError(c.op("get"), err)
	}

	var value T
	if err := snap.DataTo(&value); err != nil {
		return zero, fmt.Errorf("firestore: decode %s/%s: %w", c.name, id, err)
	}
	return value, nil
}

// Exists reports whether the document is present.
func (c *Collection[T]) Exists(ctx context.Context, id string) (bool, error) {
	_, err := c.Get(ctx, id)
	if err == nil {
		return true, nil
	}
	var repoErr *Error
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return false, nil
	}
	return false, err
}

// Set upserts the document. Inside a unit of work the write is buffered until commit.
func (c *Collection[T]) Set(ctx context.Context, id string, value T) error {
	ref, err := c.ref(ctx, id)
	if err != nil {
		return err
	}
	if state, ok := currentTx(ctx); ok {
		state.put(ref, value, false)
		return nil
	}
	_, err = ref.Set(ctx, value)
	return WrapError(c.op("set"), err)
}

// Delete removes the document. Missing documents are not an error.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	ref, err := c.ref(ctx, id)
	if err != nil {
		return err
	}
	if state, ok := currentTx(ctx); ok {
		state.put(ref, nil, true)
		return nil
	}
	_, err = ref.Delete(ctx)
	return WrapError(c.op("delete"), err)
}

// Query runs a query and decodes every result. Inside a unit of work the query runs in the
// transaction, so it reflects committed state only.
func (c *Collection[T]) Query(ctx context.Context, build QueryBuilder) ([]T, error) {
	coll, err := c.collection(ctx)
	if err != nil {
		return nil, err
	}
	query := coll.Query
	if build != nil {
		query = build(query)
	}

	var iter *firestore.DocumentIterator
	if state, ok := currentTx(ctx); ok {
		iter = state.tx.Documents(query)
	} else {
		iter = query.Documents(ctx)
	}
	defer iter.Stop()

	var out []T
	for {
		snap, err := iter.Next()
		if isDone(err) {
			break
		}
		if err != nil {
			return nil, WrapError(c.op("query"), err)
		}
		var value T
		if err := snap.DataTo(&value); err != nil {
			return nil, fmt.Errorf("firestore: decode %s/%s: %w", c.name, snap.Ref.ID, err)
		}
		out = append(out, value)
	}
	return out, nil
}

func (c *Collection[T]) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	if c == nil || c.provider == nil {
		return nil, WrapError("firestore.collection", errors.New("firestore: provider is nil"))
	}
	if c.name == "" {
		return nil, WrapError("firestore.collection", errors.New("firestore: collection name is required"))
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name), nil
}

func (c *Collection[T]) ref(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(c.op("document"), errors.New("firestore: document id is required"))
	}
	coll, err := c.collection(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

func (c *Collection[T]) op(action string) string {
	return fmt.Sprintf("%s.%s", c.name, action)
}

func isDone(err error) bool {
	return errors.Is(err, iterator.Done)
}
