package blob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cooklang/cooksync/internal/chunker"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// BlobService is the content addressed chunk store of the server. Every put
// is verified against its id and storing an id twice is a no-op.
type BlobService struct {
	backend Backend
	// ids recently confirmed to be stored
	known *expirable.LRU[string, struct{}]
}

func NewBlobService(backend Backend, ttl time.Duration) *BlobService {
	if ttl <= 0 {
		ttl = DefaultExistsCacheTTL
	}
	return &BlobService{
		backend: backend,
		known:   expirable.NewLRU[string, struct{}](DefaultExistsCacheSize, nil, ttl),
	}
}

// NewBlobServiceWithConfig builds the backend the config selects
func NewBlobServiceWithConfig(ctx context.Context, cfg *Config) (*BlobService, error) {
	var backend Backend
	var err error

	switch cfg.Backend {
	case BackendS3:
		backend, err = NewS3BackendWithConfig(ctx, &cfg.S3)
	default:
		backend, err = NewDiskBackend(cfg.Dir)
	}
	if err != nil {
		return nil, fmt.Errorf("blob backend %s: %w", cfg.Backend, err)
	}

	slog.Info("blob service", "backend", backend.Name())
	return NewBlobService(backend, cfg.CacheTTL), nil
}

func (b *BlobService) Backend() Backend {
	return b.backend
}

func validateID(id string) error {
	if id == "" || !chunker.IsValidID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, id)
	}
	return nil
}

// Put stores data under id after checking that data hashes to id
func (b *BlobService) Put(ctx context.Context, id string, data []byte) error {
	if err := validateID(id); err != nil {
		return err
	}
	if got := chunker.HashChunk(data); got != id {
		return fmt.Errorf("%w: got %s want %s", ErrCorrupt, got, id)
	}
	if b.known.Contains(id) {
		return nil
	}

	exists, err := b.backend.Exists(ctx, id)
	if err != nil {
		return fmt.Errorf("blob exists %s: %w", id, err)
	}
	if !exists {
		if err := b.backend.Put(ctx, id, data); err != nil {
			return fmt.Errorf("blob put %s: %w", id, err)
		}
	}
	b.known.Add(id, struct{}{})
	return nil
}

func (b *BlobService) Get(ctx context.Context, id string) ([]byte, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	data, err := b.backend.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			b.known.Remove(id)
		}
		return nil, err
	}
	if chunker.HashChunk(data) != id {
		slog.Error("blob corrupt in store", "id", id, "backend", b.backend.Name())
		return nil, fmt.Errorf("%w: %s", ErrCorrupt, id)
	}
	b.known.Add(id, struct{}{})
	return data, nil
}

func (b *BlobService) Exists(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return true, nil
	}
	if err := validateID(id); err != nil {
		return false, err
	}
	if b.known.Contains(id) {
		return true, nil
	}
	ok, err := b.backend.Exists(ctx, id)
	if err != nil {
		return false, err
	}
	if ok {
		b.known.Add(id, struct{}{})
	}
	return ok, nil
}

// Missing returns the ids of ids that are not stored, each once, in order
func (b *BlobService) Missing(ctx context.Context, ids []string) ([]string, error) {
	seen := mapset.NewThreadUnsafeSet[string]()
	missing := make([]string, 0)
	for _, id := range ids {
		if id == "" || !seen.Add(id) {
			continue
		}
		ok, err := b.Exists(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}
