package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/cooklang/cooksync/internal/chunker"
	"github.com/cooklang/cooksync/internal/client/config"
	"github.com/cooklang/cooksync/internal/client/registry"
	"github.com/cooklang/cooksync/internal/client/sync"
	"github.com/cooklang/cooksync/internal/client/tracker"
	"github.com/cooklang/cooksync/internal/client/workspace"
	"github.com/cooklang/cooksync/internal/syncsdk"
)

const (
	chunkCacheEntries = 16384
	chunkCacheBytes   = 64 << 20
)

// Client owns one sync root: its lock, registry, chunk store and engine
type Client struct {
	config    *config.Config
	workspace *workspace.Workspace
	registry  *registry.Registry
	chunker   *chunker.Chunker
	sdk       *syncsdk.SyncSDK
	indexer   *tracker.Indexer
	engine    *sync.SyncEngine

	closeOnce gosync.Once
}

// Option customizes the engine the client builds
type Option func(*options)

type options struct {
	remote   sync.Remote
	listener sync.StatusListener
	watch    bool
}

// WithRemote replaces the server connection, used by tests
func WithRemote(r sync.Remote) Option {
	return func(o *options) { o.remote = r }
}

func WithStatusListener(l sync.StatusListener) Option {
	return func(o *options) { o.listener = l }
}

// WithoutWatcher disables filesystem notifications, leaving periodic rescans
func WithoutWatcher() Option {
	return func(o *options) { o.watch = false }
}

// New locks the workspace and opens its stores. Close releases them.
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	o := &options{watch: true}
	for _, opt := range opts {
		opt(o)
	}

	ws, err := workspace.NewWorkspace(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	if err := ws.Setup(); err != nil {
		return nil, err
	}

	c := &Client{config: cfg, workspace: ws}
	if err := c.open(o); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) open(o *options) error {
	c.registry = registry.New(c.workspace.RegistryPath, c.config.Namespace)
	if err := c.registry.Open(); err != nil {
		return fmt.Errorf("failed to open registry: %w", err)
	}

	mem, err := chunker.NewInMemoryCache(chunkCacheEntries, chunkCacheBytes)
	if err != nil {
		return err
	}
	disk, err := chunker.NewDiskCache(c.workspace.ChunksDir)
	if err != nil {
		return fmt.Errorf("failed to open chunk cache: %w", err)
	}
	c.chunker = chunker.New(c.workspace.Root, chunker.NewLayeredCache(mem, disk))

	remote := o.remote
	if remote == nil {
		c.sdk, err = syncsdk.New(&syncsdk.Config{
			BaseURL: c.config.ServerURL,
			Token:   c.config.Token,
		})
		if err != nil {
			return fmt.Errorf("failed to create sdk: %w", err)
		}
		remote = sync.NewRemote(c.sdk)
	}

	ignore := tracker.NewIgnoreList(c.workspace.Root, c.config.Include...)
	ignore.Load()

	fsLock := &gosync.Mutex{}
	idxOpts := []tracker.IndexerOption{tracker.WithIgnoreList(ignore), tracker.WithLocker(fsLock)}
	if o.watch {
		idxOpts = append(idxOpts, tracker.WithWatcher(tracker.NewWatcher(c.workspace.Root)))
	} else {
		idxOpts = append(idxOpts, tracker.WithWatcher(nil))
	}
	c.indexer = tracker.NewIndexer(c.workspace.Root, c.registry, idxOpts...)

	engineCfg := sync.DefaultConfig()
	engineCfg.DownloadOnly = c.config.DownloadOnly
	if c.config.Workers > 0 {
		engineCfg.Workers = c.config.Workers
	}
	if c.config.DownloadInterval > 0 {
		engineCfg.DownloadInterval = c.config.DownloadInterval
	}
	if c.config.UploadInterval > 0 {
		engineCfg.UploadInterval = c.config.UploadInterval
	}

	engineOpts := []sync.Option{
		sync.WithConfig(engineCfg),
		sync.WithTracker(c.indexer),
		sync.WithFSLock(fsLock),
	}
	if o.listener != nil {
		engineOpts = append(engineOpts, sync.WithListener(o.listener))
	}

	c.engine, err = sync.NewSyncEngine(c.workspace.Root, c.registry, c.chunker, remote, engineOpts...)
	return err
}

// Start syncs until ctx is cancelled or a failure no retry can fix
func (c *Client) Start(ctx context.Context) error {
	slog.Info("cooksync client start", "datadir", c.workspace.Root, "server", c.config.ServerURL, "downloadOnly", c.config.DownloadOnly)
	defer slog.Info("cooksync client stop")

	err := c.engine.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// DownloadOnce applies pending remote changes and returns
func (c *Client) DownloadOnce(ctx context.Context) error {
	return c.engine.DownloadOnce(ctx)
}

// UploadOnce publishes pending local changes and returns
func (c *Client) UploadOnce(ctx context.Context) error {
	return c.engine.UploadOnce(ctx)
}

// WaitRemoteUpdate blocks until another client commits or timeout passes
func (c *Client) WaitRemoteUpdate(ctx context.Context, timeout time.Duration) (bool, error) {
	return c.engine.WaitRemoteUpdate(ctx, timeout)
}

func (c *Client) Status() sync.Status {
	return c.engine.Status()
}

// Resume clears a path halted by a permanent error
func (c *Client) Resume(ctx context.Context, path string) error {
	return c.engine.Resume(ctx, path)
}

// Resync forgets the journal cursor, then runs a full download and upload
// pass. Paths halted in an earlier run are picked up again.
func (c *Client) Resync(ctx context.Context) error {
	if err := c.registry.SetCursor(ctx, 0); err != nil {
		return err
	}
	if err := c.engine.DownloadOnce(ctx); err != nil {
		return err
	}
	return c.engine.UploadOnce(ctx)
}

// Report summarizes local sync state, including paths the engine holds
func (c *Client) Report(ctx context.Context) (*Report, error) {
	r, err := buildReport(ctx, c.workspace.Root, c.registry)
	if err != nil {
		return nil, err
	}
	r.Engine = c.engine.Status()
	r.Paths = c.engine.Paths()
	return r, nil
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.sdk != nil {
			c.sdk.Close()
		}
		if c.registry != nil {
			if err := c.registry.Close(); err != nil && !errors.Is(err, registry.ErrNotOpen) {
				slog.Warn("registry close", "error", err)
			}
		}
		if err := c.workspace.Unlock(); err != nil {
			slog.Warn("workspace unlock", "error", err)
		}
	})
}
