package domain

import "context"

// KeyValueStore is the device-local persistence used for transcripts and
// speech preferences. Get returns ErrNotFound for a missing key.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
