package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cooklang/cooksync/internal/client/registry"
	"github.com/cooklang/cooksync/internal/queue"
	"github.com/cooklang/cooksync/internal/syncmsg"
	"github.com/cooklang/cooksync/internal/utils"
	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/errgroup"
)

func (se *SyncEngine) downloadPass(ctx context.Context) error {
	cursor, err := se.registry.Cursor(ctx)
	if err != nil {
		return &SyncError{Kind: KindLocalIO, Op: "cursor", Err: err}
	}

	list, err := retry(ctx, se.cfg.Retry, "list", func() (*syncmsg.ListResponse, error) {
		return se.remote.List(ctx, cursor)
	})
	if err != nil {
		return newSyncError("list", "", "", err)
	}
	if len(list.Records) == 0 {
		return nil
	}

	records := orderDownloads(list.Records)
	slog.Debug("sync download pass", "cursor", cursor, "latest", list.Latest, "records", len(records))

	fetchErr := se.fetchChunks(ctx, records)
	if isFatal(fetchErr) {
		return newSyncError("download chunks", "", "", fetchErr)
	}
	if fetchErr != nil {
		slog.Warn("sync chunk prefetch incomplete", "error", fetchErr)
	}

	results := make(map[int64]error, len(records))
	var errs []error
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := se.applyRemote(ctx, rec, fetchErr)
		results[rec.JID] = err
		if err != nil {
			if isFatal(err) {
				return err
			}
			errs = append(errs, err)
		}
	}

	next := advanceCursor(cursor, list, results)
	if next != cursor {
		if err := se.registry.SetCursor(ctx, next); err != nil {
			errs = append(errs, &SyncError{Kind: KindLocalIO, Op: "cursor", Err: err})
		}
	}
	return errors.Join(errs...)
}

// orderDownloads puts deletions first and smaller files before larger ones
func orderDownloads(recs []*syncmsg.RemoteRecord) []*syncmsg.RemoteRecord {
	pq := queue.NewPriorityQueue[*syncmsg.RemoteRecord]()
	for _, rec := range recs {
		prio := 0
		if !rec.Deleted {
			prio = 1 + int(min(rec.Size>>10, 1<<30))
		}
		pq.Enqueue(rec, prio)
	}
	return pq.DequeueAll()
}

// advanceCursor moves past every journal entry that was applied or halted,
// stopping at the first one that has to be retried
func advanceCursor(cursor int64, list *syncmsg.ListResponse, results map[int64]error) int64 {
	jids := make([]int64, 0, len(results))
	for jid := range results {
		jids = append(jids, jid)
	}
	sort.Slice(jids, func(i, j int) bool { return jids[i] < jids[j] })

	next := cursor
	for _, jid := range jids {
		err := results[jid]
		if err != nil {
			var serr *SyncError
			if !errors.As(err, &serr) || !serr.Kind.Permanent() {
				return next
			}
		}
		next = jid
	}
	return max(next, list.Latest)
}

// fetchChunks pulls every chunk the records need and the local store lacks.
// Chunks are saved as they arrive so an interrupted fetch resumes where it
// stopped.
func (se *SyncEngine) fetchChunks(ctx context.Context, records []*syncmsg.RemoteRecord) error {
	want := mapset.NewThreadUnsafeSet[string]()
	for _, rec := range records {
		if rec.Deleted || se.states.Halted(rec.Path) {
			continue
		}
		want.Append(se.chunker.Missing(rec.ChunkIDs)...)
	}
	if want.Cardinality() == 0 {
		return nil
	}

	ids := want.ToSlice()
	sort.Strings(ids)
	slog.Debug("sync fetching chunks", "count", len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(se.cfg.Workers)
	for start := 0; start < len(ids); start += se.cfg.BatchChunks {
		batch := ids[start:min(start+se.cfg.BatchChunks, len(ids))]
		g.Go(func() error {
			return retryErr(gctx, se.cfg.Retry, "download chunks", func() error {
				missing := se.chunker.Missing(batch)
				if len(missing) == 0 {
					return nil
				}
				return se.remote.DownloadChunks(gctx, missing, se.chunker.SaveChunk)
			})
		})
	}
	err := g.Wait()
	if err == nil || isFatal(err) || ctx.Err() != nil {
		return err
	}

	left := se.chunker.Missing(ids)
	if len(left) == 0 {
		return nil
	}
	slog.Info("sync fetching chunks one by one", "count", len(left), "error", err)
	return se.fetchSingly(ctx, left)
}

// fetchSingly downloads the chunks a batch did not deliver one at a time.
// Partial bodies stay in PartDir so the next attempt resumes them.
func (se *SyncEngine) fetchSingly(ctx context.Context, ids []string) error {
	if err := utils.EnsureDir(se.cfg.PartDir); err != nil {
		return &SyncError{Kind: KindLocalIO, Op: "download chunk", Err: err}
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(se.cfg.Workers)
	for _, id := range ids {
		g.Go(func() error {
			part := filepath.Join(se.cfg.PartDir, id+".part")
			err := retryErr(gctx, se.cfg.Retry, "download chunk", func() error {
				data, err := se.remote.FetchChunk(gctx, id, part)
				if err != nil {
					return err
				}
				return se.chunker.SaveChunk(id, data)
			})
			if err == nil {
				return nil
			}
			if isFatal(err) {
				return err
			}
			mu.Lock()
			errs = append(errs, fmt.Errorf("chunk %s: %w", id, err))
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return errors.Join(errs...)
}

// applyRemote brings one remote version onto disk, resolving it against any
// local change the path has
func (se *SyncEngine) applyRemote(ctx context.Context, rec *syncmsg.RemoteRecord, fetchErr error) error {
	p := rec.Path
	if se.states.Halted(p) {
		return nil
	}

	acked, err := se.registry.Acknowledged(ctx, p)
	if err != nil {
		return se.fail("inspect", p, rec.Hash, err, StateRemoteDirty)
	}
	if acked != nil && acked.Version() >= rec.JID {
		return nil
	}

	se.fsLock.Lock()
	defer se.fsLock.Unlock()

	local, err := se.localVersion(ctx, p)
	if err != nil {
		return se.fail("inspect", p, rec.Hash, err, StateRemoteDirty)
	}

	if local != nil {
		if se.states.Get(p) != StateLocalDirty {
			if err := se.states.Ensure(p, StateRemoteDirty); err != nil {
				return nil
			}
		}
		if err := se.states.Transition(p, StateConflict); err != nil {
			return se.fail("conflict", p, rec.Hash, err, StateRemoteDirty)
		}
		return se.resolveConflict(ctx, ConflictCase{Path: p, Local: local, Remote: rec}, fetchErr)
	}

	if err := se.states.Ensure(p, StateRemoteDirty); err != nil {
		return nil
	}
	if err := se.states.Transition(p, StateDownloading); err != nil {
		return se.fail("download", p, rec.Hash, err, StateRemoteDirty)
	}
	if err := se.writeRemote(ctx, rec, fetchErr); err != nil {
		return se.fail("download", p, rec.Hash, err, StateRemoteDirty)
	}
	_ = se.states.Transition(p, StateUnchanged)

	slog.Info("sync downloaded", "path", p, "jid", rec.JID, "deleted", rec.Deleted, "origin", rec.Origin)
	return nil
}

// localVersion returns the local version of path that the server has not
// seen, or nil when the disk matches the last acknowledged version. Edits
// the tracker has not indexed yet are recorded here.
func (se *SyncEngine) localVersion(ctx context.Context, p string) (*registry.FileRecord, error) {
	latest, err := se.registry.Latest(ctx, p)
	if err != nil {
		return nil, err
	}
	if latest != nil && !latest.Acknowledged() {
		return latest, nil
	}

	full, err := utils.JoinSlash(se.root, p)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		if latest == nil || latest.Deleted {
			return nil, nil
		}
		return &registry.FileRecord{Path: p, Deleted: true, ModifiedAt: time.Now()}, nil
	}
	if err != nil {
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", p)
	}

	if latest != nil && !latest.Deleted && info.Size() == latest.Size && info.ModTime().Equal(latest.ModifiedAt) {
		return nil, nil
	}

	hash, err := utils.FileHash(full)
	if err != nil {
		return nil, err
	}
	if latest != nil && !latest.Deleted && hash == latest.Hash {
		return nil, nil
	}

	rec := &registry.FileRecord{Path: p, Hash: hash, Size: info.Size(), ModifiedAt: info.ModTime()}
	if err := se.registry.Create(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (se *SyncEngine) resolveConflict(ctx context.Context, c ConflictCase, fetchErr error) error {
	p, rec := c.Path, c.Remote
	d := se.resolver.Resolve(c)
	slog.Info("sync conflict", "path", p, "action", d.Action, "reason", d.Reason, "local", shortHash(c.Local.Hash), "remote", shortHash(rec.Hash))

	marker := &registry.ConflictMarker{
		Path:       p,
		LocalHash:  c.Local.Hash,
		RemoteHash: rec.Hash,
		RemoteJID:  rec.JID,
		Resolution: d.Action.resolution(),
	}

	switch d.Action {
	case ActionConverged:
		if err := se.registry.Create(ctx, remoteRecord(rec)); err != nil {
			return se.fail("conflict", p, rec.Hash, err, StateRemoteDirty)
		}
		_ = se.states.Transition(p, StateUnchanged)
		return nil

	case ActionKeepRemote:
		if err := se.writeRemote(ctx, rec, fetchErr); err != nil {
			return se.fail("conflict", p, rec.Hash, err, StateRemoteDirty)
		}

	case ActionKeepLocal:
		// acknowledge the remote version, then queue the local one on top of it
		again := *c.Local
		again.ID, again.JID = 0, nil
		if err := se.registry.Create(ctx, remoteRecord(rec)); err != nil {
			return se.fail("conflict", p, rec.Hash, err, StateRemoteDirty)
		}
		if err := se.registry.Create(ctx, &again); err != nil {
			return se.fail("conflict", p, rec.Hash, err, StateRemoteDirty)
		}

	case ActionKeepBoth:
		copyPath := se.freeCopyPath(d.CopyPath)
		marker.CopyPath = copyPath
		if err := se.preserveLocal(ctx, c.Local, copyPath); err != nil {
			return se.fail("conflict", p, rec.Hash, err, StateRemoteDirty)
		}
		if err := se.writeRemote(ctx, rec, fetchErr); err != nil {
			return se.fail("conflict", p, rec.Hash, err, StateRemoteDirty)
		}
		_ = se.states.Ensure(copyPath, StateLocalDirty)
	}

	if err := se.registry.RecordConflict(ctx, marker); err != nil {
		slog.Error("sync record conflict", "path", p, "error", err)
	}
	_ = se.states.Transition(p, StateUnchanged)
	if d.Action == ActionKeepLocal {
		_ = se.states.Ensure(p, StateLocalDirty)
	}
	if d.Action == ActionKeepLocal || d.Action == ActionKeepBoth {
		se.TriggerUpload()
	}
	return nil
}

// preserveLocal moves the local version aside and queues it for upload
func (se *SyncEngine) preserveLocal(ctx context.Context, local *registry.FileRecord, copyPath string) error {
	src, err := utils.JoinSlash(se.root, local.Path)
	if err != nil {
		return err
	}
	dst, err := utils.JoinSlash(se.root, copyPath)
	if err != nil {
		return err
	}

	se.ignoreOnce(local.Path)
	se.ignoreOnce(copyPath)
	if err := os.Rename(src, dst); err != nil {
		return err
	}

	info, err := os.Stat(dst)
	if err != nil {
		return err
	}
	return se.registry.Create(ctx, &registry.FileRecord{
		Path:       copyPath,
		Hash:       local.Hash,
		Size:       info.Size(),
		ModifiedAt: info.ModTime(),
	})
}

// freeCopyPath returns p, or p with a counter when p is taken
func (se *SyncEngine) freeCopyPath(p string) string {
	candidate := p
	for i := 2; se.chunker.Exists(candidate); i++ {
		candidate = fmt.Sprintf("%s-%d", p, i)
	}
	return candidate
}

// writeRemote applies rec to disk and acknowledges it in the registry.
// The caller holds fsLock.
func (se *SyncEngine) writeRemote(ctx context.Context, rec *syncmsg.RemoteRecord, fetchErr error) error {
	se.ignoreOnce(rec.Path)

	if rec.Deleted {
		if err := se.chunker.Delete(rec.Path); err != nil {
			return err
		}
		return se.registry.Create(ctx, remoteRecord(rec))
	}

	if missing := se.chunker.Missing(rec.ChunkIDs); len(missing) > 0 {
		if fetchErr != nil {
			return fmt.Errorf("%d chunks unavailable: %w", len(missing), fetchErr)
		}
		return fmt.Errorf("%d chunks unavailable", len(missing))
	}

	if err := se.chunker.Save(rec.Path, rec.ChunkIDs, rec.Hash); err != nil {
		return err
	}

	full, err := utils.JoinSlash(se.root, rec.Path)
	if err != nil {
		return err
	}
	if !rec.ModifiedAt.IsZero() {
		if err := os.Chtimes(full, rec.ModifiedAt, rec.ModifiedAt); err != nil {
			slog.Warn("sync set mtime", "path", rec.Path, "error", err)
		}
	}

	row := remoteRecord(rec)
	if info, err := os.Stat(full); err == nil {
		row.ModifiedAt = info.ModTime()
	}
	return se.registry.Create(ctx, row)
}

func remoteRecord(rec *syncmsg.RemoteRecord) *registry.FileRecord {
	return &registry.FileRecord{
		JID:        registry.JID(rec.JID),
		Path:       rec.Path,
		Deleted:    rec.Deleted,
		Size:       rec.Size,
		Hash:       rec.Hash,
		ModifiedAt: rec.ModifiedAt,
	}
}
