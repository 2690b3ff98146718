package metadata

import (
	"errors"
	"fmt"
)

var (
	ErrConflict      = errors.New("path changed since base jid")
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrInvalidPath   = errors.New("invalid path")
)

// Scope is the slice of the journal one token can see
type Scope struct {
	User      string
	Namespace int64
}

func (s Scope) String() string {
	return fmt.Sprintf("%s/%d", s.User, s.Namespace)
}

// ConflictError carries the version the path is actually at
type ConflictError struct {
	Path      string
	BaseJID   int64
	LatestJID int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: base jid %d, latest %d", e.Path, e.BaseJID, e.LatestJID)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

type QuotaError struct {
	Used  int64
	Need  int64
	Quota int64
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("used %d + %d bytes over quota of %d", e.Used, e.Need, e.Quota)
}

func (e *QuotaError) Unwrap() error { return ErrQuotaExceeded }
