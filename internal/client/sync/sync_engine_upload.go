package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"github.com/cooklang/cooksync/internal/client/registry"
	"github.com/cooklang/cooksync/internal/queue"
	"github.com/cooklang/cooksync/internal/syncmsg"
	"github.com/cooklang/cooksync/internal/utils"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
)

// uploadPass publishes every pending row and returns how many it tried
func (se *SyncEngine) uploadPass(ctx context.Context) (int, error) {
	pending, err := se.registry.UpdatedLocally(ctx)
	if err != nil {
		return 0, &SyncError{Kind: KindLocalIO, Op: "pending", Err: err}
	}

	pq := queue.NewPriorityQueue[*registry.FileRecord]()
	for _, row := range pending {
		if se.states.Halted(row.Path) {
			continue
		}
		prio := 0
		if !row.Deleted {
			prio = 1 + int(min(row.Size>>10, 1<<30))
		}
		pq.Enqueue(row, prio)
	}
	rows := pq.DequeueAll()
	if len(rows) == 0 {
		return 0, nil
	}
	slog.Debug("sync upload pass", "pending", len(rows))

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(se.cfg.Workers)
	for _, row := range rows {
		g.Go(func() error {
			err := se.uploadPath(gctx, row)
			if err == nil {
				return nil
			}
			if isFatal(err) {
				return err
			}
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return len(rows), err
	}
	return len(rows), errors.Join(errs...)
}

func (se *SyncEngine) uploadPath(ctx context.Context, row *registry.FileRecord) error {
	p := row.Path
	if err := se.states.Ensure(p, StateLocalDirty); err != nil {
		return nil
	}

	acked, err := se.registry.Acknowledged(ctx, p)
	if err != nil {
		return se.fail("inspect", p, row.Hash, err, StateLocalDirty)
	}
	var base int64
	if acked != nil {
		base = acked.Version()
	}

	if err := se.states.Transition(p, StateUploading); err != nil {
		return se.fail("upload", p, row.Hash, err, StateLocalDirty)
	}

	if row.Deleted {
		if acked == nil || acked.Deleted {
			// the server never had it or already dropped it
			return se.acknowledge(ctx, row, base)
		}
		return se.commit(ctx, row, &syncmsg.CommitRequest{
			Path:       p,
			Deleted:    true,
			ModifiedAt: row.ModifiedAt,
			BaseJID:    base,
		})
	}

	chunks, err := se.chunker.Hashify(p)
	if errors.Is(err, fs.ErrNotExist) {
		// gone since indexing, the next scan records the delete
		_ = se.states.Transition(p, StateLocalDirty)
		return nil
	}
	if err != nil {
		return se.fail("hashify", p, row.Hash, err, StateLocalDirty)
	}

	if chunks.Hash != row.Hash {
		fresh := &registry.FileRecord{Path: p, Hash: chunks.Hash, Size: chunks.Size, ModifiedAt: row.ModifiedAt}
		if full, err := utils.JoinSlash(se.root, p); err == nil {
			if info, err := os.Stat(full); err == nil {
				fresh.ModifiedAt = info.ModTime()
			}
		}
		if err := se.registry.Create(ctx, fresh); err != nil {
			return se.fail("upload", p, row.Hash, err, StateLocalDirty)
		}
		row = fresh
	}

	if acked != nil && !acked.Deleted && acked.Hash == row.Hash {
		return se.acknowledge(ctx, row, base)
	}

	return se.commit(ctx, row, &syncmsg.CommitRequest{
		Path:       p,
		ChunkIDs:   chunks.ChunkIDs,
		Hash:       chunks.Hash,
		Size:       chunks.Size,
		ModifiedAt: row.ModifiedAt,
		BaseJID:    base,
	})
}

// commit publishes req, uploading whatever chunks the server asks for
func (se *SyncEngine) commit(ctx context.Context, row *registry.FileRecord, req *syncmsg.CommitRequest) error {
	p := row.Path

	weight := min(max(row.Size, 1), se.cfg.MaxUploadBytes)
	if err := se.uploadSem.Acquire(ctx, weight); err != nil {
		return err
	}
	defer se.uploadSem.Release(weight)

	doCommit := func() (*syncmsg.CommitResponse, error) {
		return se.remote.Commit(ctx, req)
	}

	resp, err := retry(ctx, se.cfg.Retry, "commit", doCommit)
	if err == nil && len(resp.NeedChunks) > 0 {
		err = se.sendChunks(ctx, resp.NeedChunks)
		if err == nil {
			resp, err = retry(ctx, se.cfg.Retry, "commit", doCommit)
		}
		if err == nil && !resp.Committed() {
			for _, id := range resp.NeedChunks {
				se.sent.Remove(id)
			}
			err = fmt.Errorf("server still missing %d chunks", len(resp.NeedChunks))
		}
	}

	if IsKind(err, KindConflict) {
		// the path moved on the server; the download pass resolves it
		slog.Info("sync upload conflict", "path", p, "base", req.BaseJID)
		_ = se.states.Transition(p, StateRemoteDirty)
		se.TriggerDownload()
		return nil
	}
	if err != nil {
		return se.fail("upload", p, row.Hash, err, StateLocalDirty)
	}

	if err := se.acknowledge(ctx, row, resp.JID); err != nil {
		return err
	}
	slog.Info("sync uploaded", "path", p, "jid", resp.JID, "deleted", req.Deleted, "size", humanize.Bytes(uint64(max(req.Size, 0))))
	return nil
}

// sendChunks uploads the requested chunks in batches bounded by BatchChunks
// and BatchBytes. Workers committing files that share content wait here so
// each chunk goes out once.
func (se *SyncEngine) sendChunks(ctx context.Context, ids []string) error {
	se.sentMu.Lock()
	defer se.sentMu.Unlock()

	batch := make(map[string][]byte)
	var size int64
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := retryErr(ctx, se.cfg.Retry, "upload chunks", func() error {
			return se.remote.UploadChunks(ctx, batch)
		})
		if err != nil {
			return err
		}
		for id := range batch {
			se.sent.Add(id, struct{}{})
		}
		batch, size = make(map[string][]byte), 0
		return nil
	}

	for _, id := range ids {
		if _, dup := batch[id]; dup || se.sent.Contains(id) {
			continue
		}
		data, err := se.chunker.ReadChunk(id)
		if err != nil {
			return err
		}
		if len(batch) >= se.cfg.BatchChunks || (len(batch) > 0 && size+int64(len(data)) > se.cfg.BatchBytes) {
			if err := flush(); err != nil {
				return err
			}
		}
		batch[id] = data
		size += int64(len(data))
	}
	return flush()
}

func (se *SyncEngine) acknowledge(ctx context.Context, row *registry.FileRecord, jid int64) error {
	if err := se.registry.UpdateJID(ctx, row, jid); err != nil {
		return se.fail("acknowledge", row.Path, row.Hash, err, StateLocalDirty)
	}
	_ = se.states.Transition(row.Path, StateUnchanged)
	return nil
}
