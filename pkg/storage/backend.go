// Package storage abstracts where run artifacts live: tombstones, the
// history ledger, and audit records all go through BlobStore.
package storage

import "context"

// BlobStore is the storage backend interface.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}
