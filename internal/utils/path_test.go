package utils

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantError bool
	}{
		{name: "empty path", input: "", wantError: true},
		{name: "relative path", input: "./test", wantError: false},
		{name: "absolute path", input: "/tmp/test", wantError: false},
		{name: "home path", input: "~/recipes", wantError: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ResolvePath(tt.input)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, filepath.IsAbs(result))
		})
	}
}

func TestRelSlash(t *testing.T) {
	root := t.TempDir()

	rel, err := RelSlash(root, filepath.Join(root, "breakfast", "pancakes.cook"))
	require.NoError(t, err)
	assert.Equal(t, "breakfast/pancakes.cook", rel)

	_, err = RelSlash(root, filepath.Dir(root))
	assert.ErrorIs(t, err, ErrPathOutsideRoot)
}

func TestJoinSlash(t *testing.T) {
	root := t.TempDir()

	abs, err := JoinSlash(root, "breakfast/pancakes.cook")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "breakfast", "pancakes.cook"), abs)

	for _, bad := range []string{"", "../etc/passwd", "a/../../b", "/etc/passwd"} {
		_, err := JoinSlash(root, bad)
		assert.Error(t, err, bad)
	}
}

func TestEnsureParent(t *testing.T) {
	root := t.TempDir()
	target := filepath.Join(root, "a", "b", "c.txt")

	require.NoError(t, EnsureParent(target))
	assert.True(t, DirExists(filepath.Join(root, "a", "b")))
	assert.False(t, FileExists(target))
}
