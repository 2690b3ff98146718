package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormPath(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty-is-local-dir", "", "."},
		{"unix-relative", "./soups/../soups/tomato.cook", "soups/tomato.cook"},
		{"unix-absolute", "/var/lib/recipes/a.cook", "var/lib/recipes/a.cook"},
		{"windows-relative", "\\Recipes\\Soups\\leek.cook", "Recipes/Soups/leek.cook"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.expected, NormPath(c.input))
		})
	}
}

func TestIsValidPath(t *testing.T) {
	valid := []string{"a.cook", "soups/tomato.cook", "config/aisle.conf", ".shopping-list"}
	invalid := []string{"", "/abs.cook", "../up.cook", "soups/../../x", "./a.cook", "a//b.cook", "win\\path.cook", ".cooksync", ".cooksync/registry.db"}

	for _, p := range valid {
		assert.True(t, IsValidPath(p), p)
	}
	for _, p := range invalid {
		assert.False(t, IsValidPath(p), p)
	}
}

func TestWorkspaceSetup_CreatesLayout(t *testing.T) {
	root := filepath.Join(t.TempDir(), "recipes")

	w, err := NewWorkspace(root)
	require.NoError(t, err)

	require.NoError(t, w.Setup())
	t.Cleanup(func() { _ = w.Unlock() })

	for _, dir := range []string{w.Root, w.MetadataDir, w.ChunksDir, w.LogsDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err, dir)
		assert.True(t, info.IsDir(), dir)
	}
	assert.Equal(t, filepath.Join(w.Root, ".cooksync", "registry.db"), w.RegistryPath)
}

func TestWorkspace_LockIsExclusive(t *testing.T) {
	root := t.TempDir()

	first, err := NewWorkspace(root)
	require.NoError(t, err)
	require.NoError(t, first.Setup())

	second, err := NewWorkspace(root)
	require.NoError(t, err)
	assert.ErrorIs(t, second.Setup(), ErrWorkspaceLocked)

	// releasing the lock lets the next process in
	require.NoError(t, first.Unlock())
	require.NoError(t, second.Setup())
	require.NoError(t, second.Unlock())

	// unlocking without holding the lock is a no-op
	assert.NoError(t, first.Unlock())
}

func TestWorkspace_RootIsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	w, err := NewWorkspace(file)
	require.NoError(t, err)
	assert.ErrorIs(t, w.Setup(), ErrNotADirectory)
}

func TestWorkspace_Paths(t *testing.T) {
	w, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)

	abs, err := w.AbsPath("soups/leek.cook")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(w.Root, "soups", "leek.cook"), abs)

	rel, err := w.RelPath(abs)
	require.NoError(t, err)
	assert.Equal(t, "soups/leek.cook", rel)

	_, err = w.AbsPath("../escape.cook")
	assert.Error(t, err)
}
