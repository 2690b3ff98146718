package sync

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathStates_Transitions(t *testing.T) {
	tests := []struct {
		name  string
		steps []PathState
		ok    bool
	}{
		{"upload", []PathState{StateLocalDirty, StateUploading, StateUnchanged}, true},
		{"download", []PathState{StateRemoteDirty, StateDownloading, StateUnchanged}, true},
		{"conflict from local", []PathState{StateLocalDirty, StateConflict, StateUnchanged}, true},
		{"conflict from remote", []PathState{StateRemoteDirty, StateConflict, StateUnchanged}, true},
		{"upload rejected", []PathState{StateLocalDirty, StateUploading, StateRemoteDirty}, true},
		{"skip dirty", []PathState{StateUploading}, false},
		{"conflict must settle", []PathState{StateLocalDirty, StateConflict, StateLocalDirty}, false},
		{"download to local dirty", []PathState{StateRemoteDirty, StateDownloading, StateLocalDirty}, false},
		{"conflict retried", []PathState{StateLocalDirty, StateConflict, StateRemoteDirty}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps := NewPathStates()
			var err error
			for _, s := range tt.steps {
				if err = ps.Transition("a.cook", s); err != nil {
					break
				}
			}
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
			}
		})
	}
}

func TestPathStates_UnchangedIsForgotten(t *testing.T) {
	ps := NewPathStates()
	require.NoError(t, ps.Transition("a.cook", StateLocalDirty))
	assert.Len(t, ps.Snapshot(), 1)

	require.NoError(t, ps.Transition("a.cook", StateUnchanged))
	assert.Empty(t, ps.Snapshot())
	assert.Equal(t, StateUnchanged, ps.Get("a.cook"))
}

func TestPathStates_EnsureGoesThroughUnchanged(t *testing.T) {
	ps := NewPathStates()
	require.NoError(t, ps.Transition("a.cook", StateRemoteDirty))
	require.NoError(t, ps.Ensure("a.cook", StateLocalDirty))
	assert.Equal(t, StateLocalDirty, ps.Get("a.cook"))

	// already there
	require.NoError(t, ps.Ensure("a.cook", StateLocalDirty))
}

func TestPathStates_EnsureLeavesBusyPathsAlone(t *testing.T) {
	tests := []struct {
		name  string
		steps []PathState
		to    PathState
	}{
		{"downloading", []PathState{StateRemoteDirty, StateDownloading}, StateLocalDirty},
		{"in conflict", []PathState{StateLocalDirty, StateConflict}, StateLocalDirty},
		{"uploading", []PathState{StateLocalDirty, StateUploading}, StateDownloading},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps := NewPathStates()
			for _, s := range tt.steps {
				require.NoError(t, ps.Transition("a.cook", s))
			}
			assert.ErrorIs(t, ps.Ensure("a.cook", tt.to), ErrInvalidTransition)
			assert.Equal(t, tt.steps[len(tt.steps)-1], ps.Get("a.cook"))
		})
	}

	// direct edges still apply
	ps := NewPathStates()
	require.NoError(t, ps.Transition("a.cook", StateLocalDirty))
	require.NoError(t, ps.Transition("a.cook", StateUploading))
	require.NoError(t, ps.Ensure("a.cook", StateRemoteDirty))
	assert.Equal(t, StateRemoteDirty, ps.Get("a.cook"))
}

func TestPathStates_HaltAndResume(t *testing.T) {
	ps := NewPathStates()
	require.NoError(t, ps.Transition("a.cook", StateLocalDirty))
	require.NoError(t, ps.Transition("a.cook", StateUploading))

	cause := errors.New("quota")
	ps.Halt("a.cook", cause)
	assert.True(t, ps.Halted("a.cook"))
	assert.ErrorIs(t, ps.Ensure("a.cook", StateLocalDirty), ErrInvalidTransition)

	snap := ps.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, StateHalted, snap[0].State)
	assert.Equal(t, cause, snap[0].Err)

	assert.True(t, ps.Resume("a.cook"))
	assert.False(t, ps.Resume("a.cook"))
	assert.Equal(t, StateUnchanged, ps.Get("a.cook"))
}

func TestPathStates_SnapshotSorted(t *testing.T) {
	ps := NewPathStates()
	for _, p := range []string{"c.cook", "a.cook", "b.cook"} {
		require.NoError(t, ps.Transition(p, StateLocalDirty))
	}
	var paths []string
	for _, st := range ps.Snapshot() {
		paths = append(paths, st.Path)
	}
	assert.Equal(t, []string{"a.cook", "b.cook", "c.cook"}, paths)
}
