package tracker

import (
	"fmt"
	"time"
)

type EventKind uint8

const (
	EventCreated EventKind = iota + 1
	EventModified
	EventDeleted
	EventRenamed
)

func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventModified:
		return "modified"
	case EventDeleted:
		return "deleted"
	case EventRenamed:
		return "renamed"
	default:
		return fmt.Sprintf("EventKind(%d)", k)
	}
}

// ChangeEvent is a settled change of one path. OldPath is set for renames only.
// Hash and Size describe the file after the change and are empty for deletes.
type ChangeEvent struct {
	Kind       EventKind
	Path       string
	OldPath    string
	Hash       string
	Size       int64
	ModifiedAt time.Time
	ObservedAt time.Time
}

func (e ChangeEvent) String() string {
	if e.Kind == EventRenamed {
		return fmt.Sprintf("%s %s -> %s", e.Kind, e.OldPath, e.Path)
	}
	return fmt.Sprintf("%s %s", e.Kind, e.Path)
}
