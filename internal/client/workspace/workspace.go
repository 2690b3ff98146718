package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cooklang/cooksync/internal/utils"
	"github.com/gofrs/flock"
)

const (
	MetadataDir  = ".cooksync"
	chunksDir    = "chunks"
	logsDir      = "logs"
	registryFile = "registry.db"
	lockFile     = "cooksync.lock"
	logFile      = "cooksync.log"
)

var (
	ErrWorkspaceLocked = errors.New("workspace locked by another process")
	ErrNotADirectory   = errors.New("sync root is not a directory")
)

// Workspace is a sync root and the metadata directory inside it
type Workspace struct {
	Root         string
	MetadataDir  string
	ChunksDir    string
	LogsDir      string
	RegistryPath string
	LogPath      string

	flock *flock.Flock
}

func NewWorkspace(rootDir string) (*Workspace, error) {
	root, err := utils.ResolvePath(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", rootDir, err)
	}

	meta := filepath.Join(root, MetadataDir)
	logs := filepath.Join(meta, logsDir)

	return &Workspace{
		Root:         root,
		MetadataDir:  meta,
		ChunksDir:    filepath.Join(meta, chunksDir),
		LogsDir:      logs,
		RegistryPath: filepath.Join(meta, registryFile),
		LogPath:      filepath.Join(logs, logFile),
		flock:        flock.New(filepath.Join(meta, lockFile)),
	}, nil
}

func (w *Workspace) Lock() error {
	if err := utils.EnsureDir(w.MetadataDir); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.MetadataDir, err)
	}

	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock workspace: %w", err)
	}
	if !locked {
		return ErrWorkspaceLocked
	}

	return nil
}

func (w *Workspace) Unlock() error {
	// a lock held by another process is not ours to remove
	if !w.flock.Locked() {
		return nil
	}

	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock workspace: %w", err)
	}

	return os.Remove(w.flock.Path())
}

// Setup creates the root and metadata layout and takes the workspace lock
func (w *Workspace) Setup() error {
	if info, err := os.Stat(w.Root); err == nil && !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotADirectory, w.Root)
	}

	if err := w.Lock(); err != nil {
		return err
	}

	for _, dir := range []string{w.Root, w.MetadataDir, w.ChunksDir, w.LogsDir} {
		if err := utils.EnsureDir(dir); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	slog.Info("workspace", "root", w.Root)
	return nil
}

// AbsPath maps a synced path onto the local filesystem
func (w *Workspace) AbsPath(rel string) (string, error) {
	return utils.JoinSlash(w.Root, rel)
}

// RelPath returns the synced path of a file under the root
func (w *Workspace) RelPath(abs string) (string, error) {
	return utils.RelSlash(w.Root, abs)
}

func (w *Workspace) IsValidPath(rel string) bool {
	return IsValidPath(rel)
}
