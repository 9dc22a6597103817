package querycache

import "context"

// Transport is the collaborator that performs the authoritative calls for one
// resource family. Implementations should wrap failures in *Error so the
// engine can classify them; unwrapped errors are treated as network failures.
//
// The engine never retries: a failed read leaves the entry stale with its
// last error recorded, a failed write is rolled back and surfaced.
type Transport[T any] interface {
	List(ctx context.Context) ([]T, error)
	Search(ctx context.Context, term string) ([]T, error)
	GetByID(ctx context.Context, id string) (T, error)
	Create(ctx context.Context, item T) (T, error)
	Update(ctx context.Context, id string, item T) (T, error)
	Remove(ctx context.Context, id string) error
}
