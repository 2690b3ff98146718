package blob

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cooklang/cooksync/internal/utils"
)

type DiskBackend struct {
	dir string
}

func NewDiskBackend(dir string) (*DiskBackend, error) {
	dir, err := utils.ResolvePath(dir)
	if err != nil {
		return nil, err
	}
	if err := utils.EnsureDir(dir); err != nil {
		return nil, err
	}
	return &DiskBackend{dir: dir}, nil
}

func (d *DiskBackend) Name() string {
	return BackendDisk
}

func (d *DiskBackend) path(id string) string {
	return filepath.Join(d.dir, filepath.FromSlash(shardKey(id)))
}

func (d *DiskBackend) Get(ctx context.Context, id string) ([]byte, error) {
	data, err := os.ReadFile(d.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (d *DiskBackend) Put(ctx context.Context, id string, data []byte) error {
	return utils.WriteFileAtomic(d.path(id), bytes.NewReader(data), 0o644)
}

func (d *DiskBackend) Exists(ctx context.Context, id string) (bool, error) {
	_, err := os.Stat(d.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (d *DiskBackend) Delete(ctx context.Context, id string) error {
	err := os.Remove(d.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

var _ Backend = (*DiskBackend)(nil)
