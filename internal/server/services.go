package server

import (
	"context"
	"fmt"

	"github.com/cooklang/cooksync/internal/server/auth"
	"github.com/cooklang/cooksync/internal/server/blob"
	"github.com/cooklang/cooksync/internal/server/metadata"
)

type Services struct {
	Blob     *blob.BlobService
	Journal  *metadata.Journal
	Notifier *metadata.Notifier
	Auth     *auth.AuthService
}

func NewServices(ctx context.Context, config *Config) (*Services, error) {
	quota, err := config.QuotaBytes()
	if err != nil {
		return nil, err
	}

	blobSvc, err := blob.NewBlobServiceWithConfig(ctx, &config.Blob)
	if err != nil {
		return nil, err
	}

	journal, err := metadata.NewJournal(config.DBPath, metadata.WithQuota(quota))
	if err != nil {
		return nil, err
	}

	return &Services{
		Blob:     blobSvc,
		Journal:  journal,
		Notifier: metadata.NewNotifier(),
		Auth:     auth.NewAuthService(&config.Auth),
	}, nil
}

func (s *Services) Shutdown(ctx context.Context) error {
	if err := s.Journal.Close(); err != nil {
		return fmt.Errorf("close journal: %w", err)
	}
	return nil
}
