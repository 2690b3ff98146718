package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/cooklang/cooksync/internal/chunker"
	"github.com/cooklang/cooksync/internal/syncsdk"
)

// ErrorKind groups sync failures by how the engine reacts to them
type ErrorKind uint8

const (
	KindTransientNetwork ErrorKind = iota + 1
	KindPermanentAuth
	KindPermanentQuota
	KindConflict
	KindLocalIO
	KindCorruption
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransientNetwork:
		return "transient-network"
	case KindPermanentAuth:
		return "permanent-auth"
	case KindPermanentQuota:
		return "permanent-quota"
	case KindConflict:
		return "conflict"
	case KindLocalIO:
		return "local-io"
	case KindCorruption:
		return "corruption"
	default:
		return fmt.Sprintf("ErrorKind(%d)", k)
	}
}

// Retryable kinds go through backoff, the others halt the path
func (k ErrorKind) Retryable() bool {
	return k == KindTransientNetwork
}

// Permanent kinds are surfaced and stop the path until it is resumed
func (k ErrorKind) Permanent() bool {
	return k == KindPermanentAuth || k == KindPermanentQuota || k == KindCorruption
}

var ErrInvalidTransition = errors.New("invalid state transition")

// SyncError carries enough context to resolve a failure by hand
type SyncError struct {
	Kind     ErrorKind
	Op       string
	Path     string
	LastHash string
	Err      error
}

func (e *SyncError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Kind, e.Err)
	}
	if e.LastHash == "" {
		return fmt.Sprintf("%s %s [%s]: %v", e.Op, e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s@%s [%s]: %v", e.Op, e.Path, shortHash(e.LastHash), e.Kind, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

func newSyncError(op, path, lastHash string, err error) *SyncError {
	var se *SyncError
	if errors.As(err, &se) {
		return se
	}
	return &SyncError{Kind: Classify(err), Op: op, Path: path, LastHash: lastHash, Err: err}
}

// Classify maps an error from any layer onto the taxonomy
func Classify(err error) ErrorKind {
	var se *SyncError
	switch {
	case errors.As(err, &se):
		return se.Kind
	case errors.Is(err, syncsdk.ErrUnauthorized):
		return KindPermanentAuth
	case errors.Is(err, syncsdk.ErrQuotaExceeded):
		return KindPermanentQuota
	case errors.Is(err, syncsdk.ErrConflict):
		return KindConflict
	case errors.Is(err, syncsdk.ErrCorruptChunk),
		errors.Is(err, syncsdk.ErrChunkNotFound),
		errors.Is(err, syncsdk.ErrInvalidRequest),
		errors.Is(err, chunker.ErrCorruptChunk),
		errors.Is(err, chunker.ErrCorruptFile),
		errors.Is(err, chunker.ErrInvalidID):
		return KindCorruption
	case syncsdk.IsTemporary(err),
		errors.Is(err, context.DeadlineExceeded):
		return KindTransientNetwork
	}

	// filesystem and registry failures
	return KindLocalIO
}

// IsKind reports whether err classifies as kind
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && Classify(err) == kind
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
