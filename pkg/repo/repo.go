// Package repo defines the generic Repository interface and list options.
package repo

import "context"

// Repository is a generic keyed store with idempotent writes.
type Repository[T any, ID comparable] interface {
	Get(ctx context.Context, id ID) (T, error)
	List(ctx context.Context, opts ListOpts) ([]T, error)
	Upsert(ctx context.Context, entities []T) error
	Delete(ctx context.Context, id ID) error
}

// ListOpts controls pagination and ordering for List operations.
type ListOpts struct {
	Offset int
	Limit  int
	// OrderBy names a property to sort by, descending. Empty keeps store order.
	OrderBy string
}
