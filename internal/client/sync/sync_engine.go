package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/cooklang/cooksync/internal/chunker"
	"github.com/cooklang/cooksync/internal/client/registry"
	"github.com/cooklang/cooksync/internal/client/tracker"
	"github.com/cooklang/cooksync/internal/syncmsg"
	"github.com/cooklang/cooksync/internal/utils"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultDownloadInterval = 23 * time.Second
	DefaultUploadInterval   = 47 * time.Second
	DefaultPollTimeout      = 30 * time.Second
	DefaultWorkers          = 4
	DefaultMaxUploadBytes   = 64 << 20
	DefaultBatchChunks      = 128
	// well below the server's multipart body limit
	DefaultBatchBytes       = 32 << 20

	sentChunksCacheSize = 8192
)

var ErrSyncAlreadyRunning = errors.New("sync already running")

type Config struct {
	DownloadInterval time.Duration
	UploadInterval   time.Duration
	PollTimeout      time.Duration
	Workers          int
	MaxUploadBytes   int64
	BatchChunks      int
	BatchBytes       int64
	// where interrupted single chunk downloads are kept
	PartDir          string
	ConflictSkew     time.Duration
	DownloadOnly     bool
	Retry            RetryConfig
}

func DefaultConfig() Config {
	return Config{
		DownloadInterval: DefaultDownloadInterval,
		UploadInterval:   DefaultUploadInterval,
		PollTimeout:      DefaultPollTimeout,
		Workers:          DefaultWorkers,
		MaxUploadBytes:   DefaultMaxUploadBytes,
		BatchChunks:      DefaultBatchChunks,
		BatchBytes:       DefaultBatchBytes,
		ConflictSkew:     DefaultConflictSkew,
		Retry:            DefaultRetryConfig(),
	}
}

// Tracker is the change tracker as the engine drives it
type Tracker interface {
	Run(ctx context.Context) error
	Scan(ctx context.Context) ([]tracker.ChangeEvent, error)
	Changes() <-chan tracker.ChangeEvent
	IgnoreOnce(rel string)
}

type Option func(*SyncEngine)

func WithConfig(cfg Config) Option {
	return func(se *SyncEngine) { se.cfg = cfg }
}

func WithTracker(t Tracker) Option {
	return func(se *SyncEngine) { se.tracker = t }
}

func WithListener(l StatusListener) Option {
	return func(se *SyncEngine) { se.status = newStatusReporter(l) }
}

// WithFSLock shares the lock the tracker holds while scanning, so remote
// writes and their registry rows land between scans
func WithFSLock(l sync.Locker) Option {
	return func(se *SyncEngine) { se.fsLock = l }
}

// SyncEngine reconciles one root with the server. Passes are serialized;
// network work inside a pass runs on a bounded pool.
type SyncEngine struct {
	root      string
	cfg       Config
	registry  *registry.Registry
	chunker   *chunker.Chunker
	remote    Remote
	tracker   Tracker
	resolver  *Resolver
	states    *PathStates
	status    *statusReporter
	fsLock    sync.Locker
	uploadSem *semaphore.Weighted

	// chunks this process already handed to the server
	sentMu sync.Mutex
	sent   *lru.Cache[string, struct{}]

	passMu      sync.Mutex
	downloadNow chan struct{}
	uploadNow   chan struct{}
}

func NewSyncEngine(root string, reg *registry.Registry, ch *chunker.Chunker, remote Remote, opts ...Option) (*SyncEngine, error) {
	if reg == nil || ch == nil || remote == nil {
		return nil, fmt.Errorf("sync engine: registry, chunker and remote are required")
	}

	se := &SyncEngine{
		root:        root,
		cfg:         DefaultConfig(),
		registry:    reg,
		chunker:     ch,
		remote:      remote,
		states:      NewPathStates(),
		status:      newStatusReporter(nil),
		fsLock:      &sync.Mutex{},
		downloadNow: make(chan struct{}, 1),
		uploadNow:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(se)
	}

	if se.cfg.Workers <= 0 {
		se.cfg.Workers = DefaultWorkers
	}
	if se.cfg.MaxUploadBytes <= 0 {
		se.cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if se.cfg.BatchChunks <= 0 {
		se.cfg.BatchChunks = DefaultBatchChunks
	}
	if se.cfg.BatchBytes <= 0 {
		se.cfg.BatchBytes = DefaultBatchBytes
	}
	if se.cfg.PartDir == "" {
		se.cfg.PartDir = filepath.Join(root, tracker.MetadataDir, "chunks", "partial")
	}
	se.uploadSem = semaphore.NewWeighted(se.cfg.MaxUploadBytes)
	sent, err := lru.New[string, struct{}](sentChunksCacheSize)
	if err != nil {
		return nil, err
	}
	se.sent = sent
	se.resolver = NewResolver(se.cfg.ConflictSkew, utils.ShortHWID())
	return se, nil
}

// Run syncs until ctx is cancelled. It returns early on errors that no
// retry can fix: rejected credentials or a vanished root.
func (se *SyncEngine) Run(ctx context.Context) error {
	slog.Info("sync start", "root", se.root, "downloadOnly", se.cfg.DownloadOnly, "workers", se.cfg.Workers)
	defer slog.Info("sync stopped", "root", se.root)

	if err := se.DownloadOnce(ctx); isFatal(err) {
		return filterCancel(ctx, err)
	}
	if err := se.UploadOnce(ctx); isFatal(err) {
		return filterCancel(ctx, err)
	}

	notes, err := se.remote.Notifications(ctx)
	if err != nil {
		if isFatal(err) {
			return filterCancel(ctx, newSyncError("events", "", "", err))
		}
		slog.Warn("sync notifications unavailable, long polling instead", "error", err)
		notes = nil
	}

	g, gctx := errgroup.WithContext(ctx)

	if se.tracker != nil && !se.cfg.DownloadOnly {
		g.Go(func() error {
			if err := se.tracker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return &SyncError{Kind: KindLocalIO, Op: "track", Path: se.root, Err: err}
			}
			return nil
		})
	}

	g.Go(func() error { return se.downloadLoop(gctx, notes) })

	if !se.cfg.DownloadOnly {
		g.Go(func() error { return se.uploadLoop(gctx) })
	}

	if notes == nil {
		g.Go(func() error { return se.pollLoop(gctx) })
	}

	return filterCancel(ctx, g.Wait())
}

func (se *SyncEngine) downloadLoop(ctx context.Context, notes <-chan *syncmsg.Message) error {
	timer := time.NewTimer(se.cfg.DownloadInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-notes:
			if !ok {
				notes = nil
				continue
			}
			upd, isUpdate := msg.Data.(*syncmsg.MetadataUpdated)
			if !isUpdate || upd.Origin == se.remote.ClientID() {
				continue
			}
			slog.Debug("sync remote update", "jid", upd.JID, "origin", upd.Origin)

		case <-se.downloadNow:
		case <-timer.C:
		}

		if err := se.DownloadOnce(ctx); err != nil {
			if isFatal(err) {
				return err
			}
			slog.Error("sync download", "error", err)
		}
		resetTimer(timer, se.cfg.DownloadInterval)
	}
}

func (se *SyncEngine) uploadLoop(ctx context.Context) error {
	timer := time.NewTimer(se.cfg.UploadInterval)
	defer timer.Stop()

	var changes <-chan tracker.ChangeEvent
	if se.tracker != nil {
		changes = se.tracker.Changes()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			slog.Debug("sync local change", "event", ev.String())
			se.markLocalDirty(ev)
			// a burst of events becomes one pass
			drain(changes, se.markLocalDirty)

		case <-se.uploadNow:
		case <-timer.C:
		}

		if err := se.UploadOnce(ctx); err != nil {
			if isFatal(err) {
				return err
			}
			slog.Error("sync upload", "error", err)
		}
		resetTimer(timer, se.cfg.UploadInterval)
	}
}

func (se *SyncEngine) pollLoop(ctx context.Context) error {
	for {
		updated, err := se.WaitRemoteUpdate(ctx, se.cfg.PollTimeout)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case isFatal(err):
			return err
		case err != nil:
			slog.Warn("sync poll", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(se.cfg.DownloadInterval):
			}
		case updated:
			se.TriggerDownload()
		}
	}
}

func (se *SyncEngine) markLocalDirty(ev tracker.ChangeEvent) {
	if err := se.states.Ensure(ev.Path, StateLocalDirty); err != nil {
		slog.Debug("sync change ignored", "path", ev.Path, "error", err)
	}
}

func drain(ch <-chan tracker.ChangeEvent, fn func(tracker.ChangeEvent)) {
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			fn(ev)
		default:
			return
		}
	}
}

// TriggerDownload asks the running engine for a download pass
func (se *SyncEngine) TriggerDownload() {
	select {
	case se.downloadNow <- struct{}{}:
	default:
	}
}

// TriggerUpload asks the running engine for an upload pass
func (se *SyncEngine) TriggerUpload() {
	select {
	case se.uploadNow <- struct{}{}:
	default:
	}
}

// DownloadOnce applies every remote change made since the last pass
func (se *SyncEngine) DownloadOnce(ctx context.Context) error {
	se.passMu.Lock()
	defer se.passMu.Unlock()

	se.status.set(StatusDownloading)
	err := se.downloadPass(ctx)
	se.finish(err)
	return err
}

// UploadOnce indexes the root and publishes local changes. It runs two
// passes so rows created by the first (conflict copies, edits made while
// uploading) go out too.
func (se *SyncEngine) UploadOnce(ctx context.Context) error {
	if se.cfg.DownloadOnly {
		return nil
	}

	se.passMu.Lock()
	defer se.passMu.Unlock()

	if se.tracker != nil {
		se.status.set(StatusIndexing)
		events, err := se.tracker.Scan(ctx)
		if err != nil {
			err = &SyncError{Kind: KindLocalIO, Op: "index", Path: se.root, Err: err}
			se.finish(err)
			return err
		}
		for _, ev := range events {
			se.markLocalDirty(ev)
		}
	}

	se.status.set(StatusUploading)
	var errs []error
	for pass := 0; pass < 2; pass++ {
		n, err := se.uploadPass(ctx)
		if err != nil {
			errs = append(errs, err)
			if isFatal(err) {
				break
			}
		}
		if n == 0 {
			break
		}
	}

	err := errors.Join(errs...)
	se.finish(err)
	return err
}

// WaitRemoteUpdate blocks until the server reports a change by another
// client or timeout passes
func (se *SyncEngine) WaitRemoteUpdate(ctx context.Context, timeout time.Duration) (bool, error) {
	updated, err := se.remote.Poll(ctx, timeout)
	if err != nil {
		return false, newSyncError("poll", "", "", err)
	}
	return updated, nil
}

func (se *SyncEngine) finish(err error) {
	if err != nil {
		se.status.set(StatusError)
	} else {
		se.status.set(StatusIdle)
	}
	se.status.complete(err)
}

// Status is the current engine activity
func (se *SyncEngine) Status() Status {
	return se.status.get()
}

// Paths lists every path that is not in sync
func (se *SyncEngine) Paths() []PathStatus {
	return se.states.Snapshot()
}

// Resume clears a halted path. The next download pass lists the whole
// journal again so remote versions skipped while halted are picked up.
func (se *SyncEngine) Resume(ctx context.Context, path string) error {
	if !se.states.Resume(path) {
		return nil
	}
	if err := se.registry.SetCursor(ctx, 0); err != nil {
		return err
	}
	se.TriggerDownload()
	se.TriggerUpload()
	return nil
}

func (se *SyncEngine) ignoreOnce(path string) {
	if se.tracker != nil {
		se.tracker.IgnoreOnce(path)
	}
}

// fail records a path failure. Permanent kinds halt the path, the others
// leave it dirty for the next pass.
func (se *SyncEngine) fail(op, path, lastHash string, err error, fallback PathState) error {
	serr := newSyncError(op, path, lastHash, err)
	if serr.Kind.Permanent() {
		se.states.Halt(path, serr)
		slog.Error("sync halted", "path", path, "kind", serr.Kind, "hash", lastHash, "error", err)
		return serr
	}
	if terr := se.states.Ensure(path, fallback); terr != nil {
		slog.Debug("sync state", "path", path, "error", terr)
	}
	slog.Warn("sync failed", "op", op, "path", path, "kind", serr.Kind, "error", err)
	return serr
}

func isFatal(err error) bool {
	return err != nil && (IsKind(err, KindPermanentAuth) || errors.Is(err, context.Canceled) || errors.Is(err, tracker.ErrRootMissing))
}

func filterCancel(ctx context.Context, err error) error {
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
