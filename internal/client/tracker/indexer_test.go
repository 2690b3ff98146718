package tracker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cooklang/cooksync/internal/client/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupIndexer(t *testing.T) (string, *registry.Registry, *Indexer) {
	t.Helper()
	root := t.TempDir()
	reg := registry.New(":memory:", 1)
	require.NoError(t, reg.Open())
	t.Cleanup(func() { reg.Close() })
	return root, reg, NewIndexer(root, reg, WithWatcher(nil))
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func kinds(events []ChangeEvent) map[string]EventKind {
	out := make(map[string]EventKind, len(events))
	for _, ev := range events {
		out[ev.Path] = ev.Kind
	}
	return out
}

func TestIndexer_ScanCreated(t *testing.T) {
	ctx := context.Background()
	root, reg, idx := setupIndexer(t)

	writeFile(t, root, "soups/tomato.cook", "@tomatoes{2}\n")
	writeFile(t, root, "bread.cook", "@flour{500%g}\n")
	writeFile(t, root, ".cooksync/registry.db", "not synced")

	events, err := idx.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]EventKind{
		"soups/tomato.cook": EventCreated,
		"bread.cook":        EventCreated,
	}, kinds(events))

	pending, err := reg.UpdatedLocally(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	// nothing changed, nothing emitted
	events, err = idx.Scan(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestIndexer_ScanModifiedAndTouched(t *testing.T) {
	ctx := context.Background()
	root, reg, idx := setupIndexer(t)

	writeFile(t, root, "a.cook", "one\n")
	_, err := idx.Scan(ctx)
	require.NoError(t, err)

	// same content, new mtime: no event
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, "a.cook"), future, future))
	events, err := idx.Scan(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)

	writeFile(t, root, "a.cook", "one\ntwo\n")
	events, err = idx.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventModified, events[0].Kind)
	assert.Equal(t, int64(8), events[0].Size)

	latest, err := reg.Latest(ctx, "a.cook")
	require.NoError(t, err)
	assert.Equal(t, events[0].Hash, latest.Hash)
}

func TestIndexer_ScanDeleted(t *testing.T) {
	ctx := context.Background()
	root, reg, idx := setupIndexer(t)

	writeFile(t, root, "a.cook", "one\n")
	_, err := idx.Scan(ctx)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "a.cook")))
	events, err := idx.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventDeleted, events[0].Kind)

	latest, err := reg.Latest(ctx, "a.cook")
	require.NoError(t, err)
	assert.True(t, latest.Deleted)
}

func TestIndexer_ScanRenamed(t *testing.T) {
	ctx := context.Background()
	root, reg, idx := setupIndexer(t)

	writeFile(t, root, "old.cook", "same content\n")
	writeFile(t, root, "other.cook", "other\n")
	_, err := idx.Scan(ctx)
	require.NoError(t, err)

	require.NoError(t, os.Rename(filepath.Join(root, "old.cook"), filepath.Join(root, "new.cook")))
	events, err := idx.Scan(ctx)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventRenamed, events[0].Kind)
	assert.Equal(t, "new.cook", events[0].Path)
	assert.Equal(t, "old.cook", events[0].OldPath)

	live, err := reg.NonDeleted(ctx)
	require.NoError(t, err)
	paths := []string{}
	for _, r := range live {
		paths = append(paths, r.Path)
	}
	assert.ElementsMatch(t, []string{"new.cook", "other.cook"}, paths)
}

func TestIndexer_SkipsSymlinks(t *testing.T) {
	ctx := context.Background()
	root, _, idx := setupIndexer(t)

	writeFile(t, root, "a.cook", "one\n")
	require.NoError(t, os.Symlink(filepath.Join(root, "a.cook"), filepath.Join(root, "link.cook")))

	events, err := idx.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]EventKind{"a.cook": EventCreated}, kinds(events))
}

func TestIndexer_IncludeGlobs(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	reg := registry.New(":memory:", 1)
	require.NoError(t, reg.Open())
	defer reg.Close()

	ignore := NewIgnoreList(root, "**/*.cook")
	ignore.Load()
	idx := NewIndexer(root, reg, WithWatcher(nil), WithIgnoreList(ignore))

	writeFile(t, root, "a.cook", "one\n")
	writeFile(t, root, "photo.jpg", "jpg")

	events, err := idx.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]EventKind{"a.cook": EventCreated}, kinds(events))
}

func TestIndexer_PermissionErrorsSkipped(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	ctx := context.Background()
	root, _, idx := setupIndexer(t)

	writeFile(t, root, "ok.cook", "fine\n")
	writeFile(t, root, "locked/secret.cook", "secret\n")
	writeFile(t, root, "unreadable.cook", "nope\n")
	require.NoError(t, os.Chmod(filepath.Join(root, "locked"), 0o000))
	require.NoError(t, os.Chmod(filepath.Join(root, "unreadable.cook"), 0o000))
	t.Cleanup(func() {
		os.Chmod(filepath.Join(root, "locked"), 0o755)
		os.Chmod(filepath.Join(root, "unreadable.cook"), 0o644)
	})

	events, err := idx.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]EventKind{"ok.cook": EventCreated}, kinds(events))
}

func TestIndexer_UnreadableKeepsIndexedFiles(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	ctx := context.Background()
	root, reg, idx := setupIndexer(t)

	writeFile(t, root, "private/secret.cook", "secret\n")
	writeFile(t, root, "private/deeper/stew.cook", "stew\n")
	writeFile(t, root, "locked.cook", "locked\n")
	writeFile(t, root, "open.cook", "open\n")
	_, err := idx.Scan(ctx)
	require.NoError(t, err)

	require.NoError(t, os.Chmod(filepath.Join(root, "private"), 0o000))
	require.NoError(t, os.Chmod(filepath.Join(root, "locked.cook"), 0o000))
	t.Cleanup(func() {
		os.Chmod(filepath.Join(root, "private"), 0o755)
		os.Chmod(filepath.Join(root, "locked.cook"), 0o644)
	})
	// touch so the hash cache cannot answer for it
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, "locked.cook"), future, future))
	require.NoError(t, os.Remove(filepath.Join(root, "open.cook")))

	events, err := idx.Scan(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]EventKind{"open.cook": EventDeleted}, kinds(events))

	live, err := reg.NonDeleted(ctx)
	require.NoError(t, err)
	var paths []string
	for _, rec := range live {
		paths = append(paths, rec.Path)
	}
	assert.ElementsMatch(t, []string{"private/secret.cook", "private/deeper/stew.cook", "locked.cook"}, paths)
}

func TestUnreadable_Covers(t *testing.T) {
	u := unreadable{"private", "a/b.cook"}
	assert.True(t, u.covers("private"))
	assert.True(t, u.covers("private/x/y.cook"))
	assert.True(t, u.covers("a/b.cook"))
	assert.False(t, u.covers("privateer.cook"))
	assert.False(t, u.covers("a/b.cook.bak"))
	assert.False(t, u.covers("a"))
}

func TestIndexer_MissingRoot(t *testing.T) {
	reg := registry.New(":memory:", 1)
	require.NoError(t, reg.Open())
	defer reg.Close()

	idx := NewIndexer(filepath.Join(t.TempDir(), "gone"), reg, WithWatcher(nil))

	_, err := idx.Scan(context.Background())
	assert.ErrorIs(t, err, ErrRootMissing)
	assert.ErrorIs(t, idx.Run(context.Background()), ErrRootMissing)
}

func TestIndexer_RunEmitsOnRescan(t *testing.T) {
	root, reg, _ := setupIndexer(t)
	idx := NewIndexer(root, reg, WithWatcher(nil), WithRescanInterval(20*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- idx.Run(ctx) }()

	writeFile(t, root, "late.cook", "late\n")

	select {
	case ev := <-idx.Changes():
		assert.Equal(t, "late.cook", ev.Path)
		assert.Equal(t, EventCreated, ev.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for change")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestIndexer_RootRemovedWhileRunning(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "recipes")
	require.NoError(t, os.Mkdir(root, 0o755))

	reg := registry.New(":memory:", 1)
	require.NoError(t, reg.Open())
	defer reg.Close()

	idx := NewIndexer(root, reg, WithWatcher(nil), WithRescanInterval(20*time.Millisecond))
	done := make(chan error, 1)
	go func() { done <- idx.Run(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.RemoveAll(root))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrRootMissing)
	case <-time.After(2 * time.Second):
		t.Fatal("indexer kept running without root")
	}
}
