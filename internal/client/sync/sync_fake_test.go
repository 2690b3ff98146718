package sync

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cooklang/cooksync/internal/chunker"
	"github.com/cooklang/cooksync/internal/syncmsg"
	"github.com/cooklang/cooksync/internal/syncsdk"
)

// fakeServer is an in-memory journal and chunk store shared by fake remotes
type fakeServer struct {
	mu      sync.Mutex
	chunks  map[string][]byte
	journal []*syncmsg.RemoteRecord

	quota     int64
	listErr   error
	uploaded  map[string]int
	batches   []int
	commits   int
	downloads int
	fetches   int

	// the next n calls fail with a network error
	listFlaky   int
	commitFlaky int
	// batch downloads fail, single chunk fetches still work
	batchDown   bool
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		chunks:   make(map[string][]byte),
		uploaded: make(map[string]int),
	}
}

func (s *fakeServer) remote(id string) *fakeRemote {
	return &fakeRemote{srv: s, id: id}
}

func (s *fakeServer) latest(path string) *syncmsg.RemoteRecord {
	for i := len(s.journal) - 1; i >= 0; i-- {
		if s.journal[i].Path == path {
			return s.journal[i]
		}
	}
	return nil
}

func (s *fakeServer) Latest(path string) *syncmsg.RemoteRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest(path)
}

func (s *fakeServer) JournalLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.journal)
}

func (s *fakeServer) Uploaded(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploaded[id]
}

func (s *fakeServer) TotalUploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.uploaded {
		n += c
	}
	return n
}

func (s *fakeServer) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

func (s *fakeServer) Batches() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.batches...)
}

func (s *fakeServer) Fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

func (s *fakeServer) SetFlaky(list, commit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listFlaky, s.commitFlaky = list, commit
}

func (s *fakeServer) SetBatchDownloadBroken(broken bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchDown = broken
}

func flaky(n *int, op string) error {
	if *n <= 0 {
		return nil
	}
	*n--
	return &syncsdk.NetworkError{Op: op, Err: fmt.Errorf("connection reset")}
}

func (s *fakeServer) SetListErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr = err
}

// commitAs writes straight into the journal, bypassing chunk checks
func (s *fakeServer) commitAs(origin string, rec syncmsg.RemoteRecord, content []byte) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if content != nil {
		id := chunker.HashChunk(content)
		s.chunks[id] = content
		rec.ChunkIDs = []string{id}
	}
	rec.JID = int64(len(s.journal) + 1)
	rec.Origin = origin
	s.journal = append(s.journal, &rec)
	return rec.JID
}

type fakeRemote struct {
	srv *fakeServer
	id  string
}

func (r *fakeRemote) ClientID() string { return r.id }

func (r *fakeRemote) List(ctx context.Context, jid int64) (*syncmsg.ListResponse, error) {
	s := r.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	if err := flaky(&s.listFlaky, "metadata list"); err != nil {
		return nil, err
	}

	byPath := make(map[string]*syncmsg.RemoteRecord)
	for _, rec := range s.journal {
		if rec.JID > jid {
			byPath[rec.Path] = rec
		}
	}
	out := make([]*syncmsg.RemoteRecord, 0, len(byPath))
	for _, rec := range byPath {
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JID < out[j].JID })
	return &syncmsg.ListResponse{Records: out, Latest: int64(len(s.journal))}, nil
}

func (r *fakeRemote) Commit(ctx context.Context, req *syncmsg.CommitRequest) (*syncmsg.CommitResponse, error) {
	s := r.srv
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := flaky(&s.commitFlaky, "metadata commit"); err != nil {
		return nil, err
	}
	if cur := s.latest(req.Path); cur != nil && cur.JID > req.BaseJID {
		return nil, fmt.Errorf("commit %s: %w", req.Path, syncsdk.ErrConflict)
	}
	if s.quota > 0 && req.Size > s.quota {
		return nil, fmt.Errorf("commit %s: %w", req.Path, syncsdk.ErrQuotaExceeded)
	}

	var need []string
	for _, id := range req.ChunkIDs {
		if _, ok := s.chunks[id]; !ok && id != "" {
			need = append(need, id)
		}
	}
	if len(need) > 0 {
		return &syncmsg.CommitResponse{NeedChunks: need}, nil
	}

	s.commits++
	rec := &syncmsg.RemoteRecord{
		JID:        int64(len(s.journal) + 1),
		Path:       req.Path,
		Deleted:    req.Deleted,
		ChunkIDs:   req.ChunkIDs,
		Hash:       req.Hash,
		Size:       req.Size,
		ModifiedAt: req.ModifiedAt,
		Origin:     r.id,
	}
	s.journal = append(s.journal, rec)
	return &syncmsg.CommitResponse{JID: rec.JID}, nil
}

func (r *fakeRemote) UploadChunks(ctx context.Context, chunks map[string][]byte) error {
	s := r.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, len(chunks))
	for id, data := range chunks {
		if chunker.HashChunk(data) != id {
			return fmt.Errorf("chunk %s: %w", id, syncsdk.ErrCorruptChunk)
		}
		s.uploaded[id]++
		s.chunks[id] = data
	}
	return nil
}

func (r *fakeRemote) DownloadChunks(ctx context.Context, ids []string, fn func(string, []byte) error) error {
	s := r.srv
	s.mu.Lock()
	if s.batchDown {
		s.mu.Unlock()
		return &syncsdk.NetworkError{Op: "chunk batch download", Err: fmt.Errorf("unexpected EOF")}
	}
	found := make(map[string][]byte, len(ids))
	var missing []string
	for _, id := range ids {
		if data, ok := s.chunks[id]; ok {
			found[id] = data
		} else {
			missing = append(missing, id)
		}
	}
	s.downloads += len(found)
	s.mu.Unlock()

	for id, data := range found {
		if err := fn(id, data); err != nil {
			return err
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%v: %w", missing, syncsdk.ErrChunkNotFound)
	}
	return nil
}

func (r *fakeRemote) FetchChunk(ctx context.Context, id, partPath string) ([]byte, error) {
	s := r.srv
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.chunks[id]
	if !ok {
		return nil, fmt.Errorf("chunk %s: %w", id, syncsdk.ErrChunkNotFound)
	}
	s.fetches++
	return data, nil
}

func (r *fakeRemote) Poll(ctx context.Context, timeout time.Duration) (bool, error) {
	start := r.srv.JournalLen()
	deadline := time.After(timeout)
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline:
			return false, nil
		case <-tick.C:
			s := r.srv
			s.mu.Lock()
			for _, rec := range s.journal[start:] {
				if rec.Origin != r.id {
					s.mu.Unlock()
					return true, nil
				}
			}
			s.mu.Unlock()
		}
	}
}

func (r *fakeRemote) Notifications(ctx context.Context) (<-chan *syncmsg.Message, error) {
	return nil, nil
}
