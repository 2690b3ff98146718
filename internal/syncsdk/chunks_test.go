package syncsdk

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cooklang/cooksync/internal/chunker"
	"github.com/cooklang/cooksync/internal/syncmsg"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChunkServer is an in-memory chunk store speaking the chunk routes
type fakeChunkServer struct {
	mu      sync.Mutex
	chunks  map[string][]byte
	puts    atomic.Int64
	corrupt bool
}

func newFakeChunkServer() *fakeChunkServer {
	return &fakeChunkServer{chunks: make(map[string][]byte)}
}

func (f *fakeChunkServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chunks/upload", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeAPIError(w, 400, syncmsg.CodeInvalidRequest, err.Error())
			return
		}
		var stored []string
		for id, files := range r.MultipartForm.File {
			fh, _ := files[0].Open()
			data, _ := io.ReadAll(fh)
			fh.Close()
			if chunker.HashChunk(data) != id {
				writeAPIError(w, 400, syncmsg.CodeChunkCorrupt, "mismatch")
				return
			}
			f.store(id, data)
			stored = append(stored, id)
		}
		writeJSON(w, 200, &syncmsg.UploadResponse{Stored: stored})
	})
	mux.HandleFunc("POST /api/v1/chunks/download", func(w http.ResponseWriter, r *http.Request) {
		var req syncmsg.DownloadRequest
		json.NewDecoder(r.Body).Decode(&req)

		mw := multipart.NewWriter(w)
		w.Header().Set("Content-Type", "multipart/mixed; boundary="+mw.Boundary())
		for _, id := range req.IDs {
			f.mu.Lock()
			data, ok := f.chunks[id]
			f.mu.Unlock()
			if !ok {
				continue
			}
			if f.corrupt {
				data = append([]byte("x"), data...)
			}
			h := textproto.MIMEHeader{}
			h.Set(syncmsg.HeaderChunkID, id)
			h.Set("Content-Type", "application/octet-stream")
			pw, _ := mw.CreatePart(h)
			pw.Write(data)
		}
		mw.Close()
	})
	mux.HandleFunc("POST /api/v1/chunks/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			writeAPIError(w, 401, syncmsg.CodeAuthInvalidCredentials, "bad token")
			return
		}
		data, _ := io.ReadAll(r.Body)
		f.store(r.PathValue("id"), data)
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("GET /api/v1/chunks/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		data, ok := f.chunks[r.PathValue("id")]
		f.mu.Unlock()
		if !ok {
			writeAPIError(w, 404, syncmsg.CodeChunkNotFound, "no such chunk")
			return
		}
		if rng := r.Header.Get("Range"); rng != "" {
			from, _ := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(rng, "bytes="), "-"))
			if from >= len(data) {
				w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
				return
			}
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", from, len(data)-1, len(data)))
			w.WriteHeader(http.StatusPartialContent)
			w.Write(data[from:])
			return
		}
		w.Write(data)
	})
	return mux
}

func (f *fakeChunkServer) store(id string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts.Add(1)
	f.chunks[id] = append([]byte(nil), data...)
}

func TestChunks_UploadOnce(t *testing.T) {
	fake := newFakeChunkServer()
	sdk := newTestSDK(t, fake.handler())
	ctx := context.Background()

	data := []byte("@eggs{3}\n")
	id := chunker.HashChunk(data)

	require.NoError(t, sdk.Chunks.Upload(ctx, id, data))
	require.NoError(t, sdk.Chunks.Upload(ctx, id, data))
	require.NoError(t, sdk.Chunks.UploadBatch(ctx, map[string][]byte{id: data}))

	assert.Equal(t, int64(1), fake.puts.Load())
	assert.Equal(t, int64(1), sdk.Chunks.Sent())
	assert.True(t, sdk.Chunks.Acknowledged(id))
}

func TestChunks_UploadRejectsMismatch(t *testing.T) {
	fake := newFakeChunkServer()
	sdk := newTestSDK(t, fake.handler())

	err := sdk.Chunks.Upload(context.Background(), chunker.HashChunk([]byte("a")), []byte("b"))
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, int64(0), fake.puts.Load())

	err = sdk.Chunks.UploadBatch(context.Background(), map[string][]byte{"nothex!!!!": []byte("b")})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestChunks_BatchRoundTrip(t *testing.T) {
	fake := newFakeChunkServer()
	sdk := newTestSDK(t, fake.handler())
	ctx := context.Background()

	batch := map[string][]byte{}
	for _, line := range []string{"one\n", "two\n", "three\n"} {
		batch[chunker.HashChunk([]byte(line))] = []byte(line)
	}
	require.NoError(t, sdk.Chunks.UploadBatch(ctx, batch))
	assert.Equal(t, int64(3), fake.puts.Load())

	ids := make([]string, 0, len(batch))
	for id := range batch {
		ids = append(ids, id)
	}
	ids = append(ids, "", ids[0])

	got := map[string][]byte{}
	err := sdk.Chunks.DownloadBatch(ctx, ids, func(id string, data []byte) error {
		got[id] = data
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, batch, got)
}

func TestChunks_DownloadBatchMissingAndCorrupt(t *testing.T) {
	fake := newFakeChunkServer()
	sdk := newTestSDK(t, fake.handler())
	ctx := context.Background()

	data := []byte("kept\n")
	id := chunker.HashChunk(data)
	fake.store(id, data)
	missing := chunker.HashChunk([]byte("never uploaded"))

	var delivered []string
	err := sdk.Chunks.DownloadBatch(ctx, []string{id, missing}, func(id string, _ []byte) error {
		delivered = append(delivered, id)
		return nil
	})
	assert.ErrorIs(t, err, ErrChunkNotFound)
	assert.Equal(t, []string{id}, delivered, "chunks before the failure are delivered")

	fake.corrupt = true
	err = sdk.Chunks.DownloadBatch(ctx, []string{id}, func(string, []byte) error { return nil })
	assert.ErrorIs(t, err, ErrCorruptChunk)
}

func TestChunks_DownloadNotFound(t *testing.T) {
	sdk := newTestSDK(t, newFakeChunkServer().handler())

	part := filepath.Join(t.TempDir(), "x.part")
	_, err := sdk.Chunks.DownloadResumable(context.Background(), chunker.HashChunk([]byte("x")), part)
	assert.ErrorIs(t, err, ErrChunkNotFound)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.NoFileExists(t, part)

	data, err := sdk.Chunks.DownloadResumable(context.Background(), "", part)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestChunks_DownloadResumable(t *testing.T) {
	fake := newFakeChunkServer()
	sdk := newTestSDK(t, fake.handler())

	data := []byte(strings.Repeat("binary block ", 1000))
	id := chunker.HashChunk(data)
	fake.store(id, data)

	part := filepath.Join(t.TempDir(), id+".part")
	require.NoError(t, os.WriteFile(part, data[:4000], 0o644))

	got, err := sdk.Chunks.DownloadResumable(context.Background(), id, part)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.NoFileExists(t, part)
}

func TestChunks_DownloadResumableStartsOverOnGarbage(t *testing.T) {
	fake := newFakeChunkServer()
	sdk := newTestSDK(t, fake.handler())

	data := []byte("short chunk")
	id := chunker.HashChunk(data)
	fake.store(id, data)

	part := filepath.Join(t.TempDir(), id+".part")
	require.NoError(t, os.WriteFile(part, []byte(strings.Repeat("z", 64)), 0o644))

	got, err := sdk.Chunks.DownloadResumable(context.Background(), id, part)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestChunks_NetworkError(t *testing.T) {
	sdk, err := New(&Config{BaseURL: "http://127.0.0.1:1", Token: "t"})
	require.NoError(t, err)
	defer sdk.Close()

	data := []byte("x")
	err = sdk.Chunks.Upload(context.Background(), chunker.HashChunk(data), data)
	var netErr *NetworkError
	require.ErrorAs(t, err, &netErr)
	assert.True(t, IsTemporary(err))
	assert.False(t, sdk.Chunks.Acknowledged(chunker.HashChunk(data)))
}
