package client

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cooklang/cooksync/internal/client/config"
	"github.com/cooklang/cooksync/internal/client/workspace"
	"github.com/cooklang/cooksync/internal/server"
	"github.com/cooklang/cooksync/internal/server/auth"
	"github.com/cooklang/cooksync/internal/server/blob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	url string
	srv *server.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	s, err := server.New(ctx, &server.Config{
		HTTP:   server.HTTPConfig{Addr: "127.0.0.1:0"},
		Auth:   auth.Config{Enabled: true, TokenIssuer: "test", TokenSecret: "0123456789abcdef-test"},
		Blob:   blob.Config{Backend: blob.BackendDisk, Dir: t.TempDir()},
		DBPath: ":memory:",
	})
	require.NoError(t, err)

	hs := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		hs.Close()
		cancel()
		s.Stop(context.Background())
	})
	return &testServer{url: hs.URL, srv: s}
}

func (ts *testServer) newClient(t *testing.T, user, dir string) *Client {
	t.Helper()
	token, err := ts.srv.Services().Auth.IssueToken(context.Background(), user, 1, time.Hour)
	require.NoError(t, err)

	cfg := &config.Config{DataDir: dir, ServerURL: ts.url, Token: token}
	require.NoError(t, cfg.Validate())

	c, err := New(cfg, WithoutWatcher())
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func writeRecipe(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestClient_SyncsThroughServer(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	dirA, dirB := t.TempDir(), t.TempDir()
	a := ts.newClient(t, "alice", dirA)
	b := ts.newClient(t, "alice", dirB)

	writeRecipe(t, dirA, "Soups/lentil.cook", ">> servings: 4\nCook @lentils{200%g} for ~{20%minutes}.\n")
	writeRecipe(t, dirA, "pancakes.cook", "Mix @flour{125%g} and @milk{250%ml}.\n")
	require.NoError(t, a.UploadOnce(ctx))

	require.NoError(t, b.DownloadOnce(ctx))
	got, err := os.ReadFile(filepath.Join(dirB, "Soups", "lentil.cook"))
	require.NoError(t, err)
	assert.Equal(t, ">> servings: 4\nCook @lentils{200%g} for ~{20%minutes}.\n", string(got))
	assert.FileExists(t, filepath.Join(dirB, "pancakes.cook"))

	// edit on b flows back to a
	writeRecipe(t, dirB, "pancakes.cook", "Mix @flour{125%g}, @egg{1} and @milk{250%ml}.\n")
	require.NoError(t, b.UploadOnce(ctx))
	require.NoError(t, a.DownloadOnce(ctx))
	got, err = os.ReadFile(filepath.Join(dirA, "pancakes.cook"))
	require.NoError(t, err)
	assert.Contains(t, string(got), "@egg{1}")

	// delete on a removes it from b
	require.NoError(t, os.Remove(filepath.Join(dirA, "Soups", "lentil.cook")))
	require.NoError(t, a.UploadOnce(ctx))
	require.NoError(t, b.DownloadOnce(ctx))
	assert.NoFileExists(t, filepath.Join(dirB, "Soups", "lentil.cook"))

	report, err := b.Report(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Files)
	assert.Empty(t, report.Pending)
	assert.Empty(t, report.Conflicts)
}

func TestClient_OtherUsersDoNotSeeFiles(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	dirA, dirB := t.TempDir(), t.TempDir()
	a := ts.newClient(t, "alice", dirA)
	b := ts.newClient(t, "bob", dirB)

	writeRecipe(t, dirA, "private.cook", "@secret sauce{}\n")
	require.NoError(t, a.UploadOnce(ctx))
	require.NoError(t, b.DownloadOnce(ctx))
	assert.NoFileExists(t, filepath.Join(dirB, "private.cook"))
}

func TestClient_WorkspaceLocked(t *testing.T) {
	ts := newTestServer(t)
	dir := t.TempDir()
	ts.newClient(t, "alice", dir)

	token, err := ts.srv.Services().Auth.IssueToken(context.Background(), "alice", 1, time.Hour)
	require.NoError(t, err)
	cfg := &config.Config{DataDir: dir, ServerURL: ts.url, Token: token}
	require.NoError(t, cfg.Validate())

	_, err = New(cfg, WithoutWatcher())
	assert.ErrorIs(t, err, workspace.ErrWorkspaceLocked)
}

func TestReadReport(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	dir := t.TempDir()

	c := ts.newClient(t, "alice", dir)
	writeRecipe(t, dir, "tea.cook", "Steep @tea{1%bag}.\n")
	require.NoError(t, c.UploadOnce(ctx))

	// readable while the client still holds the lock
	report, err := ReadReport(ctx, dir, config.DefaultNamespace)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Files)
	assert.Positive(t, report.LatestJID)

	_, err = ReadReport(ctx, t.TempDir(), config.DefaultNamespace)
	assert.Error(t, err)
}

func TestClient_Resync(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	dirA, dirB := t.TempDir(), t.TempDir()
	a := ts.newClient(t, "alice", dirA)
	b := ts.newClient(t, "alice", dirB)

	writeRecipe(t, dirA, "bread.cook", "Knead @flour{500%g} with @water{300%ml}.\n")
	require.NoError(t, a.UploadOnce(ctx))
	require.NoError(t, b.DownloadOnce(ctx))

	// replays the journal from jid 0 and lands on the same cursor
	require.NoError(t, b.Resync(ctx))
	assert.FileExists(t, filepath.Join(dirB, "bread.cook"))

	report, err := b.Report(ctx)
	require.NoError(t, err)
	assert.Positive(t, report.Cursor)
	assert.Equal(t, report.LatestJID, report.Cursor)
}
