package sync

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// PathState is where a single path is in its sync cycle
type PathState uint8

const (
	StateUnchanged PathState = iota
	StateLocalDirty
	StateRemoteDirty
	StateUploading
	StateDownloading
	StateConflict
	StateHalted
)

func (s PathState) String() string {
	switch s {
	case StateUnchanged:
		return "unchanged"
	case StateLocalDirty:
		return "local-dirty"
	case StateRemoteDirty:
		return "remote-dirty"
	case StateUploading:
		return "uploading"
	case StateDownloading:
		return "downloading"
	case StateConflict:
		return "conflict"
	case StateHalted:
		return "halted"
	default:
		return fmt.Sprintf("PathState(%d)", s)
	}
}

// every state may move to StateHalted, that edge is not listed
var transitions = map[PathState][]PathState{
	StateUnchanged:   {StateLocalDirty, StateRemoteDirty},
	StateLocalDirty:  {StateLocalDirty, StateUploading, StateConflict, StateUnchanged},
	StateRemoteDirty: {StateRemoteDirty, StateDownloading, StateConflict, StateUnchanged},
	StateUploading:   {StateUnchanged, StateLocalDirty, StateRemoteDirty},
	StateDownloading: {StateUnchanged, StateRemoteDirty},
	StateConflict:    {StateUnchanged, StateRemoteDirty},
	StateHalted:      {},
}

func canTransition(from, to PathState) bool {
	if to == StateHalted {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// PathStatus is a snapshot of one path
type PathStatus struct {
	Path      string
	State     PathState
	Err       error
	UpdatedAt time.Time
}

// PathStates holds the state machine of every path that is not unchanged
type PathStates struct {
	mu    sync.Mutex
	paths map[string]*PathStatus
}

func NewPathStates() *PathStates {
	return &PathStates{paths: make(map[string]*PathStatus)}
}

func (p *PathStates) Get(path string) PathState {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.paths[path]; ok {
		return st.State
	}
	return StateUnchanged
}

// Transition moves path to the given state or fails with ErrInvalidTransition
func (p *PathStates) Transition(path string, to PathState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transition(path, to)
}

func (p *PathStates) transition(path string, to PathState) error {
	from := StateUnchanged
	if st, ok := p.paths[path]; ok {
		from = st.State
	}
	if !canTransition(from, to) {
		return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, path, from, to)
	}

	if to == StateUnchanged {
		delete(p.paths, path)
		return nil
	}
	p.paths[path] = &PathStatus{Path: path, State: to, UpdatedAt: time.Now()}
	return nil
}

func dirty(s PathState) bool {
	return s == StateLocalDirty || s == StateRemoteDirty
}

// Ensure moves path into state to. One dirty state may turn into the other
// through Unchanged. Paths in flight, in conflict or halted keep their state.
func (p *PathStates) Ensure(path string, to PathState) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	from := StateUnchanged
	if st, ok := p.paths[path]; ok {
		from = st.State
	}
	if from == to && dirty(to) {
		return nil
	}
	err := p.transition(path, to)
	if err == nil || !dirty(from) || !dirty(to) {
		return err
	}
	if err := p.transition(path, StateUnchanged); err != nil {
		return err
	}
	return p.transition(path, to)
}

// Halt parks path after a permanent error
func (p *PathStates) Halt(path string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paths[path] = &PathStatus{Path: path, State: StateHalted, Err: err, UpdatedAt: time.Now()}
}

func (p *PathStates) Halted(path string) bool {
	return p.Get(path) == StateHalted
}

// Resume clears a halted path so the next pass picks it up again
func (p *PathStates) Resume(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.paths[path]; ok && st.State == StateHalted {
		delete(p.paths, path)
		return true
	}
	return false
}

// Snapshot lists every tracked path sorted by path
func (p *PathStates) Snapshot() []PathStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]PathStatus, 0, len(p.paths))
	for _, st := range p.paths {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
