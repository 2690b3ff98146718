package registry

import (
	"sort"
	"time"
)

// FileRecord is one row of the append-only registry. The latest row per path
// is the current local view of that path; rows carrying a JID were
// acknowledged by the server under that journal id.
type FileRecord struct {
	ID          int64
	JID         *int64
	Deleted     bool
	Path        string
	Size        int64
	Hash        string
	ModifiedAt  time.Time
	NamespaceID int64
}

// Acknowledged reports whether the server confirmed this row
func (r *FileRecord) Acknowledged() bool {
	return r.JID != nil
}

// Version is the journal id of an acknowledged row, 0 otherwise
func (r *FileRecord) Version() int64 {
	if r.JID == nil {
		return 0
	}
	return *r.JID
}

func JID(v int64) *int64 {
	return &v
}

// SyncManifest maps path to the last reconciled record
type SyncManifest struct {
	Records map[string]*FileRecord
}

func NewSyncManifest() *SyncManifest {
	return &SyncManifest{Records: make(map[string]*FileRecord)}
}

func (m *SyncManifest) Get(path string) (*FileRecord, bool) {
	r, ok := m.Records[path]
	return r, ok
}

func (m *SyncManifest) Len() int {
	return len(m.Records)
}

// Paths returns the manifest paths sorted
func (m *SyncManifest) Paths() []string {
	paths := make([]string, 0, len(m.Records))
	for p := range m.Records {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Resolution is how a conflict was settled
type Resolution string

const (
	ResolutionKeepLocal  Resolution = "keep_local"
	ResolutionKeepRemote Resolution = "keep_remote"
	ResolutionKeepBoth   Resolution = "keep_both"
)

// ConflictMarker records a conflict so it can be inspected later
type ConflictMarker struct {
	ID         int64
	Path       string
	LocalHash  string
	RemoteHash string
	RemoteJID  int64
	Resolution Resolution
	CopyPath   string
	CreatedAt  time.Time
}
