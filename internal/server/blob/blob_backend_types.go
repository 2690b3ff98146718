package blob

import (
	"context"
	"errors"
)

var (
	ErrNotFound   = errors.New("blob not found")
	ErrCorrupt    = errors.New("blob content does not match its id")
	ErrInvalidKey = errors.New("invalid key")
)

// Backend stores chunk bodies by chunk id. Implementations must make Put
// atomic: a concurrent Get sees either nothing or the whole body.
type Backend interface {
	Get(ctx context.Context, id string) ([]byte, error)
	Put(ctx context.Context, id string, data []byte) error
	Exists(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string) error
	Name() string
}

// shardKey spreads ids over two levels of 1 character directories
func shardKey(id string) string {
	return id[:1] + "/" + id[1:2] + "/" + id
}
