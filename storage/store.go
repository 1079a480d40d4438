package storage

import "context"

// Update describes a change to one key of the store. Value is the raw JSON
// now held at Key, or nil when the key was deleted.
type Update struct {
	Key   []byte
	Value []byte
}

type Store interface {
	Set(ctx context.Context, key []byte, value interface{}) error
	Get(ctx context.Context, key []byte) ([]byte, error)
	Delete(ctx context.Context, key []byte) error

	Restore(values []byte) error
	Backup() ([]byte, error)

	ListenToUpdates() <-chan *Update

	Close() error
}
