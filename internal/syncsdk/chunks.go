package syncsdk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"sync/atomic"

	"github.com/cooklang/cooksync/internal/chunker"
	"github.com/cooklang/cooksync/internal/syncmsg"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/imroc/req/v3"
)

const ackedChunksCacheSize = 100_000

// ChunksAPI moves content addressed chunks. Chunks the server acknowledged
// during this session are remembered and never sent again.
type ChunksAPI struct {
	client *req.Client
	acked  *lru.Cache[string, struct{}]
	sent   atomic.Int64
}

func newChunksAPI(client *req.Client) (*ChunksAPI, error) {
	acked, err := lru.New[string, struct{}](ackedChunksCacheSize)
	if err != nil {
		return nil, err
	}
	return &ChunksAPI{client: client, acked: acked}, nil
}

// Acknowledged reports whether the server already confirmed id
func (c *ChunksAPI) Acknowledged(id string) bool {
	return id == "" || c.acked.Contains(id)
}

// Sent is the number of chunk bodies put on the wire so far
func (c *ChunksAPI) Sent() int64 {
	return c.sent.Load()
}

func validateChunk(id string, data []byte) error {
	if !chunker.IsValidID(id) {
		return &ValidationError{Field: "chunk id", Reason: fmt.Sprintf("%q is malformed", id)}
	}
	if got := chunker.HashChunk(data); got != id {
		return &ValidationError{Field: "chunk " + id, Reason: "content does not match id " + got}
	}
	return nil
}

// Upload stores one chunk
func (c *ChunksAPI) Upload(ctx context.Context, id string, data []byte) error {
	if c.Acknowledged(id) {
		return nil
	}
	if err := validateChunk(id, data); err != nil {
		return err
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetContentType("application/octet-stream").
		SetBodyBytes(data).
		Post(v1ChunkPath)
	c.sent.Add(1)

	if err := handleAPIError(resp, err, "chunk upload"); err != nil {
		return err
	}
	c.acked.Add(id, struct{}{})
	return nil
}

// UploadBatch stores many chunks in one multipart request
func (c *ChunksAPI) UploadBatch(ctx context.Context, chunks map[string][]byte) error {
	r := c.client.R().SetContext(ctx)

	pending := make([]string, 0, len(chunks))
	for id, data := range chunks {
		if c.Acknowledged(id) {
			continue
		}
		if err := validateChunk(id, data); err != nil {
			return err
		}
		r.SetFileBytes(id, id, data)
		pending = append(pending, id)
	}
	if len(pending) == 0 {
		return nil
	}

	var result syncmsg.UploadResponse
	resp, err := r.SetSuccessResult(&result).Post(v1ChunksUpload)
	c.sent.Add(int64(len(pending)))

	if err := handleAPIError(resp, err, "chunk batch upload"); err != nil {
		return err
	}
	for _, id := range pending {
		c.acked.Add(id, struct{}{})
	}
	slog.Debug("chunks uploaded", "count", len(pending), "stored", len(result.Stored))
	return nil
}

// DownloadResumable fetches a chunk into partPath, continuing from whatever
// partPath already holds. The part file is removed once the chunk is complete.
// The empty id is the empty chunk and needs no request.
func (c *ChunksAPI) DownloadResumable(ctx context.Context, id, partPath string) ([]byte, error) {
	if id == "" {
		return []byte{}, nil
	}
	if !chunker.IsValidID(id) {
		return nil, &ValidationError{Field: "chunk id", Reason: fmt.Sprintf("%q is malformed", id)}
	}

	var offset int64
	if info, err := os.Stat(partPath); err == nil {
		offset = info.Size()
	}

	r := c.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		DisableAutoReadResponse()
	if offset > 0 {
		r.SetHeader("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := r.Get(v1ChunkPath)
	if err := transportError(resp, err); err != nil {
		return nil, &NetworkError{Op: "chunk download", Err: err}
	}
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	switch resp.StatusCode {
	case http.StatusPartialContent:
		flags |= os.O_APPEND
	case http.StatusOK:
		flags |= os.O_TRUNC
	case http.StatusRequestedRangeNotSatisfiable:
		// part is already complete or bigger than the chunk, start over
		os.Remove(partPath)
		return c.DownloadResumable(ctx, id, partPath)
	default:
		return nil, decodeErrorBody(resp, "chunk download")
	}

	f, err := os.OpenFile(partPath, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open part file: %w", err)
	}
	_, copyErr := io.Copy(f, resp.Body)
	if err := f.Close(); err != nil && copyErr == nil {
		copyErr = err
	}
	if copyErr != nil {
		// keep what arrived for the next attempt
		return nil, &NetworkError{Op: "chunk download", Err: copyErr}
	}

	data, err := os.ReadFile(partPath)
	if err != nil {
		return nil, fmt.Errorf("read part file: %w", err)
	}
	if chunker.HashChunk(data) != id {
		os.Remove(partPath)
		return nil, fmt.Errorf("chunk %s: %w", id, ErrCorruptChunk)
	}
	os.Remove(partPath)
	c.acked.Add(id, struct{}{})
	return data, nil
}

// DownloadBatch fetches many chunks in one request. fn runs for each chunk as
// its part arrives, so chunks received before a failure are not lost.
func (c *ChunksAPI) DownloadBatch(ctx context.Context, ids []string, fn func(id string, data []byte) error) error {
	want := make(map[string]struct{}, len(ids))
	request := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if !chunker.IsValidID(id) {
			return &ValidationError{Field: "chunk id", Reason: fmt.Sprintf("%q is malformed", id)}
		}
		if _, dup := want[id]; dup {
			continue
		}
		want[id] = struct{}{}
		request = append(request, id)
	}
	if len(request) == 0 {
		return nil
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(&syncmsg.DownloadRequest{IDs: request}).
		DisableAutoReadResponse().
		Post(v1ChunksDownload)
	if err := transportError(resp, err); err != nil {
		return &NetworkError{Op: "chunk batch download", Err: err}
	}
	defer resp.Body.Close()

	if resp.IsErrorState() {
		return decodeErrorBody(resp, "chunk batch download")
	}

	mediaType, params, err := mime.ParseMediaType(resp.GetHeader("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return fmt.Errorf("chunk batch download: unexpected content type %q", resp.GetHeader("Content-Type"))
	}

	mr := multipart.NewReader(resp.Body, params["boundary"])
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return &NetworkError{Op: "chunk batch download", Err: err}
		}

		id := part.Header.Get(syncmsg.HeaderChunkID)
		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return &NetworkError{Op: "chunk batch download", Err: err}
		}
		if _, ok := want[id]; !ok {
			slog.Warn("chunk batch download unexpected part", "id", id)
			continue
		}
		if chunker.HashChunk(data) != id {
			return fmt.Errorf("chunk %s: %w", id, ErrCorruptChunk)
		}

		delete(want, id)
		c.acked.Add(id, struct{}{})
		if err := fn(id, data); err != nil {
			return err
		}
	}

	if len(want) > 0 {
		missing := make([]string, 0, len(want))
		for id := range want {
			missing = append(missing, id)
		}
		return fmt.Errorf("chunk batch download %v: %w", missing, ErrChunkNotFound)
	}
	return nil
}
