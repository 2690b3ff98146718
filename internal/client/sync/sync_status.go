package sync

import (
	"log/slog"
	"sync"
)

// Status is the engine wide activity reported to listeners
type Status string

const (
	StatusIdle        Status = "idle"
	StatusIndexing    Status = "indexing"
	StatusDownloading Status = "downloading"
	StatusUploading   Status = "uploading"
	StatusError       Status = "error"
)

// StatusListener is notified of engine activity. Calls come from engine
// goroutines and must not block.
type StatusListener interface {
	OnStatusChanged(status Status)
	OnComplete(ok bool, message string)
}

// ListenerFuncs adapts plain functions to StatusListener, nil fields are skipped
type ListenerFuncs struct {
	StatusChanged func(Status)
	Complete      func(bool, string)
}

func (f ListenerFuncs) OnStatusChanged(s Status) {
	if f.StatusChanged != nil {
		f.StatusChanged(s)
	}
}

func (f ListenerFuncs) OnComplete(ok bool, msg string) {
	if f.Complete != nil {
		f.Complete(ok, msg)
	}
}

type statusReporter struct {
	mu       sync.Mutex
	current  Status
	listener StatusListener
}

func newStatusReporter(l StatusListener) *statusReporter {
	return &statusReporter{current: StatusIdle, listener: l}
}

func (r *statusReporter) set(s Status) {
	r.mu.Lock()
	changed := r.current != s
	r.current = s
	r.mu.Unlock()

	if !changed {
		return
	}
	slog.Debug("sync status", "status", s)
	if r.listener != nil {
		r.listener.OnStatusChanged(s)
	}
}

func (r *statusReporter) get() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *statusReporter) complete(err error) {
	if r.listener == nil {
		return
	}
	if err != nil {
		r.listener.OnComplete(false, err.Error())
		return
	}
	r.listener.OnComplete(true, "sync complete")
}
