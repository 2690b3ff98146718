package sync

import (
	"path"
	"strings"
	"time"

	"github.com/cooklang/cooksync/internal/client/registry"
	"github.com/cooklang/cooksync/internal/syncmsg"
)

const (
	DefaultConflictSkew = 2 * time.Second
	conflictTimeLayout  = "20060102150405"
	conflictTag         = ".conflict-"
)

// ConflictCase is a path both sides changed since the last sync
type ConflictCase struct {
	Path   string
	Local  *registry.FileRecord
	Remote *syncmsg.RemoteRecord
}

type Action uint8

const (
	// both sides hold the same content
	ActionConverged Action = iota + 1
	ActionKeepLocal
	ActionKeepRemote
	ActionKeepBoth
)

func (a Action) String() string {
	switch a {
	case ActionConverged:
		return "converged"
	case ActionKeepLocal:
		return "keep-local"
	case ActionKeepRemote:
		return "keep-remote"
	case ActionKeepBoth:
		return "keep-both"
	default:
		return "unknown"
	}
}

func (a Action) resolution() registry.Resolution {
	switch a {
	case ActionKeepLocal:
		return registry.ResolutionKeepLocal
	case ActionKeepRemote:
		return registry.ResolutionKeepRemote
	default:
		return registry.ResolutionKeepBoth
	}
}

// Decision is the outcome for one ConflictCase. CopyPath is where the local
// version goes for ActionKeepBoth.
type Decision struct {
	Action   Action
	CopyPath string
	Reason   string
}

// Resolver settles conflicts. The same case always gets the same decision.
type Resolver struct {
	Skew   time.Duration
	Device string
}

func NewResolver(skew time.Duration, device string) *Resolver {
	if skew < 0 {
		skew = DefaultConflictSkew
	}
	return &Resolver{Skew: skew, Device: device}
}

func (r *Resolver) Resolve(c ConflictCase) Decision {
	local, remote := c.Local, c.Remote

	switch {
	case local.Deleted && remote.Deleted:
		return Decision{Action: ActionConverged, Reason: "both deleted"}
	case !local.Deleted && !remote.Deleted && local.Hash == remote.Hash:
		return Decision{Action: ActionConverged, Reason: "same content"}
	case remote.Deleted:
		return Decision{Action: ActionKeepLocal, Reason: "local edit beats remote delete"}
	case local.Deleted:
		return Decision{Action: ActionKeepRemote, Reason: "remote edit beats local delete"}
	}

	delta := local.ModifiedAt.Sub(remote.ModifiedAt)
	switch {
	case delta > r.Skew:
		return Decision{Action: ActionKeepLocal, Reason: "local is newer"}
	case -delta > r.Skew:
		return Decision{Action: ActionKeepRemote, Reason: "remote is newer"}
	}

	return Decision{
		Action:   ActionKeepBoth,
		CopyPath: ConflictPath(c.Path, r.Device, local.ModifiedAt),
		Reason:   "concurrent edits",
	}
}

// ConflictPath names the preserved copy: dir/name.conflict-<device>-<time>.ext
func ConflictPath(p, device string, t time.Time) string {
	dir, file := path.Split(p)
	ext := path.Ext(file)
	base := strings.TrimSuffix(file, ext)
	if base == "" {
		// dot files like ".aisle" have no extension to keep
		base, ext = file, ""
	}
	if device == "" {
		device = "local"
	}
	return dir + base + conflictTag + device + "-" + t.UTC().Format(conflictTimeLayout) + ext
}

// IsConflictPath reports whether p is a preserved conflict copy
func IsConflictPath(p string) bool {
	return strings.Contains(path.Base(p), conflictTag)
}
