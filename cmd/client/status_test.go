package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/cooklang/cooksync/internal/client"
	"github.com/cooklang/cooksync/internal/client/registry"
	"github.com/cooklang/cooksync/internal/client/sync"
	"github.com/stretchr/testify/assert"
)

func TestRenderReport_InSync(t *testing.T) {
	var out bytes.Buffer
	renderReport(&out, &client.Report{Root: "/recipes", Files: 3, Bytes: 2048, Cursor: 9, LatestJID: 9, Engine: sync.StatusIdle})

	got := stripANSI(out.String())
	assert.Contains(t, got, "/recipes")
	assert.Contains(t, got, "2.0 KiB")
	assert.Contains(t, got, "9 / 9")
	assert.Contains(t, got, "everything is in sync")
}

func TestRenderReport_Problems(t *testing.T) {
	var out bytes.Buffer
	renderReport(&out, &client.Report{
		Root:   "/recipes",
		Engine: sync.StatusError,
		Pending: []*registry.FileRecord{
			{Path: "soup.cook", Size: 10, ModifiedAt: time.Now()},
			{Path: "old.cook", Deleted: true, ModifiedAt: time.Now()},
		},
		Paths: []sync.PathStatus{
			{Path: "huge.cook", State: sync.StateHalted, Err: errors.New("quota exceeded")},
		},
		Conflicts: []*registry.ConflictMarker{
			{Path: "pie.cook", Resolution: registry.ResolutionKeepBoth, CopyPath: "pie.conflict.cook"},
		},
	})

	got := stripANSI(out.String())
	assert.Contains(t, got, "soup.cook")
	assert.Contains(t, got, "old.cook (deleted)")
	assert.Contains(t, got, "quota exceeded")
	assert.Contains(t, got, "pie.conflict.cook")
	assert.NotContains(t, got, "everything is in sync")
}

func TestStatusCommand_NeverSynced(t *testing.T) {
	dir := t.TempDir()
	out, code := runCLI(t, "status", "--config", dir+"/none.json", "--datadir", dir)
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "never been synced")
}
