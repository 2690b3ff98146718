package client

import (
	"context"
	"fmt"

	"github.com/cooklang/cooksync/internal/client/registry"
	"github.com/cooklang/cooksync/internal/client/sync"
	"github.com/cooklang/cooksync/internal/client/workspace"
	"github.com/cooklang/cooksync/internal/utils"
)

// Report is a snapshot of a root's sync state
type Report struct {
	Root      string
	Files     int
	Bytes     int64
	Pending   []*registry.FileRecord
	Cursor    int64
	LatestJID int64
	Conflicts []*registry.ConflictMarker
	Engine    sync.Status
	Paths     []sync.PathStatus
}

// ReadReport inspects a root without locking it, so it works next to a
// running client
func ReadReport(ctx context.Context, dataDir string, namespace int64) (*Report, error) {
	ws, err := workspace.NewWorkspace(dataDir)
	if err != nil {
		return nil, err
	}
	if !utils.FileExists(ws.RegistryPath) {
		return nil, fmt.Errorf("%s has never been synced", ws.Root)
	}

	reg := registry.New(ws.RegistryPath, namespace)
	if err := reg.Open(); err != nil {
		return nil, err
	}
	defer reg.Close()

	return buildReport(ctx, ws.Root, reg)
}

func buildReport(ctx context.Context, root string, reg *registry.Registry) (*Report, error) {
	r := &Report{Root: root, Engine: sync.StatusIdle}

	manifest, err := reg.Manifest(ctx)
	if err != nil {
		return nil, err
	}
	for _, rec := range manifest.Records {
		r.Files++
		r.Bytes += rec.Size
	}

	if r.Pending, err = reg.UpdatedLocally(ctx); err != nil {
		return nil, err
	}
	if r.Cursor, err = reg.Cursor(ctx); err != nil {
		return nil, err
	}
	if r.LatestJID, err = reg.LatestJID(ctx); err != nil {
		return nil, err
	}
	if r.Conflicts, err = reg.Conflicts(ctx); err != nil {
		return nil, err
	}
	return r, nil
}
