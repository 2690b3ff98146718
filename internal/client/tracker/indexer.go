package tracker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cooklang/cooksync/internal/client/registry"
	"github.com/cooklang/cooksync/internal/utils"
)

const (
	DefaultRescanInterval = 61 * time.Second
	defaultSettleDelay    = 100 * time.Millisecond
	changeBufferSize      = 128
)

var ErrRootMissing = errors.New("sync root missing")

type statEntry struct {
	size    int64
	modTime time.Time
	hash    string
}

type diskFile struct {
	rel     string
	size    int64
	modTime time.Time
	hash    string
}

// unreadable holds the files and directories a walk could not look into.
// Their registry rows are left alone until they can be read again.
type unreadable []string

func (u unreadable) covers(rel string) bool {
	for _, p := range u {
		if rel == p || strings.HasPrefix(rel, p+"/") {
			return true
		}
	}
	return false
}

// Indexer compares the tree on disk with the registry, records every
// difference as a pending row and emits it as a ChangeEvent.
type Indexer struct {
	root     string
	registry *registry.Registry
	ignore   *IgnoreList
	watcher  *Watcher

	rescanInterval time.Duration
	settleDelay    time.Duration

	// held for a whole scan, shared with whoever writes into the tree
	fsLock sync.Locker

	statMu    sync.Mutex
	statCache map[string]statEntry

	changes chan ChangeEvent
}

type IndexerOption func(*Indexer)

func WithRescanInterval(d time.Duration) IndexerOption {
	return func(i *Indexer) { i.rescanInterval = d }
}

func WithIgnoreList(l *IgnoreList) IndexerOption {
	return func(i *Indexer) { i.ignore = l }
}

func WithLocker(l sync.Locker) IndexerOption {
	return func(i *Indexer) { i.fsLock = l }
}

// WithWatcher replaces the notify based watcher. Pass nil to rely on rescans only.
func WithWatcher(w *Watcher) IndexerOption {
	return func(i *Indexer) { i.watcher = w }
}

func NewIndexer(root string, reg *registry.Registry, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		root:           filepath.Clean(root),
		registry:       reg,
		rescanInterval: DefaultRescanInterval,
		settleDelay:    defaultSettleDelay,
		fsLock:         &sync.Mutex{},
		statCache:      make(map[string]statEntry),
		changes:        make(chan ChangeEvent, changeBufferSize),
	}
	idx.watcher = NewWatcher(idx.root)
	for _, opt := range opts {
		opt(idx)
	}
	if idx.ignore == nil {
		idx.ignore = NewIgnoreList(idx.root)
		idx.ignore.Load()
	}
	return idx
}

// Changes is consumed by the sync engine. Each event is delivered once.
func (i *Indexer) Changes() <-chan ChangeEvent {
	return i.changes
}

// IgnoreOnce suppresses the watcher event caused by writing path
func (i *Indexer) IgnoreOnce(rel string) {
	if i.watcher == nil {
		return
	}
	abs, err := utils.JoinSlash(i.root, rel)
	if err != nil {
		return
	}
	i.watcher.IgnoreOnce(abs)
}

func (i *Indexer) checkRoot() error {
	info, err := os.Stat(i.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrRootMissing, i.root)
		}
		return fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrRootMissing, i.root)
	}
	return nil
}

// Run scans once, then keeps watching until ctx is done. It returns
// ErrRootMissing as soon as the root disappears.
func (i *Indexer) Run(ctx context.Context) error {
	if err := i.checkRoot(); err != nil {
		return err
	}

	var watched <-chan string
	if i.watcher != nil {
		i.watcher.SetFilter(func(path string) bool {
			rel, err := utils.RelSlash(i.root, path)
			return err != nil || i.ignore.ShouldIgnore(rel)
		})
		if err := i.watcher.Start(ctx); err != nil {
			slog.Warn("indexer watcher unavailable, rescans only", "error", err)
		} else {
			defer i.watcher.Stop()
			watched = i.watcher.Events()
		}
	}

	if err := i.scanAndEmit(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(i.rescanInterval)
	defer ticker.Stop()

	// coalesces a burst of settled paths into one scan
	settle := time.NewTimer(time.Hour)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case path, ok := <-watched:
			if !ok {
				watched = nil
				continue
			}
			slog.Debug("indexer change", "path", path)
			settle.Reset(i.settleDelay)

		case <-settle.C:
			if err := i.scanAndEmit(ctx); err != nil {
				return err
			}

		case <-ticker.C:
			if err := i.scanAndEmit(ctx); err != nil {
				return err
			}
		}
	}
}

func (i *Indexer) scanAndEmit(ctx context.Context) error {
	events, err := i.Scan(ctx)
	if err != nil {
		if errors.Is(err, ErrRootMissing) || errors.Is(err, context.Canceled) {
			return err
		}
		// registry trouble is retried on the next scan
		slog.Error("indexer scan", "error", err)
		return nil
	}

	for _, ev := range events {
		select {
		case i.changes <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Scan walks the tree once and records every change in the registry
func (i *Indexer) Scan(ctx context.Context) ([]ChangeEvent, error) {
	i.fsLock.Lock()
	defer i.fsLock.Unlock()

	if err := i.checkRoot(); err != nil {
		return nil, err
	}

	start := time.Now()
	onDisk, skipped, err := i.walk(ctx)
	if err != nil {
		return nil, err
	}

	live, err := i.registry.NonDeleted(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]*registry.FileRecord, len(live))
	for _, rec := range live {
		known[rec.Path] = rec
	}

	now := time.Now()
	var (
		created  []diskFile
		modified []diskFile
		deleted  []*registry.FileRecord
	)

	for rel, f := range onDisk {
		rec, ok := known[rel]
		if !ok {
			created = append(created, f)
			continue
		}
		if rec.Size == f.size && rec.ModifiedAt.Equal(f.modTime) {
			continue
		}
		if rec.Hash == f.hash {
			continue
		}
		modified = append(modified, f)
	}
	for rel, rec := range known {
		if _, ok := onDisk[rel]; ok || !i.ignore.ShouldSync(rel) {
			continue
		}
		if skipped.covers(rel) {
			continue
		}
		deleted = append(deleted, rec)
	}

	events, rows, tombs := pairRenames(created, deleted, now)
	for _, f := range modified {
		events = append(events, ChangeEvent{Kind: EventModified, Path: f.rel, Hash: f.hash, Size: f.size, ModifiedAt: f.modTime, ObservedAt: now})
		rows = append(rows, newRecord(f))
	}

	if len(tombs) > 0 {
		if err := i.registry.Delete(ctx, tombs...); err != nil {
			return nil, err
		}
	}
	if len(rows) > 0 {
		if err := i.registry.Create(ctx, rows...); err != nil {
			return nil, err
		}
	}

	if len(events) > 0 {
		slog.Info("indexer scan", "changes", len(events), "files", len(onDisk), "took", time.Since(start))
	}
	return events, nil
}

// pairRenames turns a delete and a create of identical content into one rename
func pairRenames(created []diskFile, deleted []*registry.FileRecord, now time.Time) ([]ChangeEvent, []*registry.FileRecord, []*registry.FileRecord) {
	type key struct {
		hash string
		size int64
	}

	gone := make(map[key][]*registry.FileRecord)
	for _, rec := range deleted {
		k := key{rec.Hash, rec.Size}
		gone[k] = append(gone[k], rec)
	}

	var (
		events []ChangeEvent
		rows   []*registry.FileRecord
		tombs  []*registry.FileRecord
	)
	for _, f := range created {
		k := key{f.hash, f.size}
		if olds := gone[k]; len(olds) > 0 {
			old := olds[0]
			gone[k] = olds[1:]
			events = append(events, ChangeEvent{Kind: EventRenamed, Path: f.rel, OldPath: old.Path, Hash: f.hash, Size: f.size, ModifiedAt: f.modTime, ObservedAt: now})
			tombs = append(tombs, tombstone(old.Path))
			rows = append(rows, newRecord(f))
			continue
		}
		events = append(events, ChangeEvent{Kind: EventCreated, Path: f.rel, Hash: f.hash, Size: f.size, ModifiedAt: f.modTime, ObservedAt: now})
		rows = append(rows, newRecord(f))
	}
	for _, olds := range gone {
		for _, old := range olds {
			events = append(events, ChangeEvent{Kind: EventDeleted, Path: old.Path, ObservedAt: now})
			tombs = append(tombs, tombstone(old.Path))
		}
	}
	return events, rows, tombs
}

func newRecord(f diskFile) *registry.FileRecord {
	return &registry.FileRecord{
		Path:       f.rel,
		Hash:       f.hash,
		Size:       f.size,
		ModifiedAt: f.modTime,
	}
}

func tombstone(path string) *registry.FileRecord {
	return &registry.FileRecord{Path: path, Deleted: true, ModifiedAt: time.Now()}
}

func (i *Indexer) walk(ctx context.Context) (map[string]diskFile, unreadable, error) {
	files := make(map[string]diskFile)
	var skipped unreadable
	skip := func(path string) {
		if rel, err := utils.RelSlash(i.root, path); err == nil {
			skipped = append(skipped, rel)
		}
	}

	err := filepath.WalkDir(i.root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == i.root {
				return err
			}
			if errors.Is(err, fs.ErrPermission) {
				slog.Warn("indexer skip", "path", path, "reason", "permission denied")
				skip(path)
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if path == i.root {
			return nil
		}

		rel, err := utils.RelSlash(i.root, path)
		if err != nil {
			return nil
		}
		if i.ignore.ShouldIgnore(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || d.Type()&fs.ModeSymlink != 0 || !d.Type().IsRegular() {
			return nil
		}
		if !i.ignore.Included(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				slog.Warn("indexer skip", "path", rel, "error", err)
				skipped = append(skipped, rel)
			}
			return nil
		}

		hash, err := i.hash(path, rel, info)
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				slog.Warn("indexer skip", "path", rel, "reason", "permission denied")
				skipped = append(skipped, rel)
			} else if !errors.Is(err, fs.ErrNotExist) {
				slog.Warn("indexer hash", "path", rel, "error", err)
				skipped = append(skipped, rel)
			}
			return nil
		}

		files[rel] = diskFile{rel: rel, size: info.Size(), modTime: info.ModTime(), hash: hash}
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %s", ErrRootMissing, i.root)
		}
		return nil, nil, err
	}

	i.pruneStatCache(files)
	return files, skipped, nil
}

// hash reuses the cached hash while size and mtime are unchanged
func (i *Indexer) hash(path, rel string, info fs.FileInfo) (string, error) {
	i.statMu.Lock()
	entry, ok := i.statCache[rel]
	i.statMu.Unlock()
	if ok && entry.size == info.Size() && entry.modTime.Equal(info.ModTime()) {
		return entry.hash, nil
	}

	hash, err := utils.FileHash(path)
	if err != nil {
		return "", err
	}

	i.statMu.Lock()
	i.statCache[rel] = statEntry{size: info.Size(), modTime: info.ModTime(), hash: hash}
	i.statMu.Unlock()
	return hash, nil
}

func (i *Indexer) pruneStatCache(seen map[string]diskFile) {
	i.statMu.Lock()
	defer i.statMu.Unlock()
	for rel := range i.statCache {
		if _, ok := seen[rel]; !ok {
			delete(i.statCache, rel)
		}
	}
}
