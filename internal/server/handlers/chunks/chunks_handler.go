package chunks

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/cooklang/cooksync/internal/server/blob"
	"github.com/cooklang/cooksync/internal/server/handlers/api"
	"github.com/cooklang/cooksync/internal/server/metadata"
	"github.com/cooklang/cooksync/internal/syncmsg"
	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
)

const (
	MaxChunkSize     = 8 << 20
	MaxBatchBodySize = 128 << 20
	MaxBatchIDs      = 1024
)

// ChunksHandler serves the shared chunk store. A user sees only the chunks
// they uploaded; anything else answers as not found.
type ChunksHandler struct {
	blob    *blob.BlobService
	journal *metadata.Journal
}

func New(blob *blob.BlobService, journal *metadata.Journal) *ChunksHandler {
	return &ChunksHandler{blob: blob, journal: journal}
}

// abortBlobError maps a blob service error to an api answer
func abortBlobError(ctx *gin.Context, id string, err error) {
	switch {
	case errors.Is(err, blob.ErrInvalidKey):
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
	case errors.Is(err, blob.ErrCorrupt):
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeChunkCorrupt, err)
	case errors.Is(err, blob.ErrNotFound):
		api.AbortWithError(ctx, http.StatusNotFound, api.CodeChunkNotFound, fmt.Errorf("chunk %s not found", id))
	default:
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeChunkPut, fmt.Errorf("chunk %s: %w", id, err))
	}
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("chunk larger than %s", humanize.IBytes(uint64(limit)))
	}
	return data, nil
}

// Upload stores the request body as chunk :id
func (h *ChunksHandler) Upload(ctx *gin.Context) {
	id := ctx.Param("id")

	data, err := readLimited(ctx.Request.Body, MaxChunkSize)
	if err != nil {
		api.AbortWithError(ctx, http.StatusRequestEntityTooLarge, api.CodeInvalidRequest, err)
		return
	}

	if err := h.blob.Put(ctx.Request.Context(), id, data); err != nil {
		abortBlobError(ctx, id, err)
		return
	}
	if err := h.journal.GrantChunks(ctx.Request.Context(), api.User(ctx), id); err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		return
	}

	ctx.PureJSON(http.StatusOK, &syncmsg.UploadResponse{Stored: []string{id}})
}

// Download serves chunk :id, honoring Range
func (h *ChunksHandler) Download(ctx *gin.Context) {
	id := ctx.Param("id")

	granted, err := h.journal.GrantedChunks(ctx.Request.Context(), api.User(ctx), []string{id})
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		return
	}
	if !granted.Contains(id) {
		abortBlobError(ctx, id, blob.ErrNotFound)
		return
	}

	data, err := h.blob.Get(ctx.Request.Context(), id)
	if errors.Is(err, blob.ErrCorrupt) {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		return
	}
	if err != nil {
		abortBlobError(ctx, id, err)
		return
	}

	ctx.Header("Content-Type", "application/octet-stream")
	ctx.Header("ETag", `"`+id+`"`)
	http.ServeContent(ctx.Writer, ctx.Request, id, time.Time{}, bytes.NewReader(data))
}

// UploadBatch stores every part of a multipart form. The form name of a
// part is its chunk id.
func (h *ChunksHandler) UploadBatch(ctx *gin.Context) {
	ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, MaxBatchBodySize)

	mr, err := ctx.Request.MultipartReader()
	if err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("multipart body expected: %w", err))
		return
	}

	stored := make([]string, 0)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("read part: %w", err))
			return
		}

		id := part.FormName()
		data, err := readLimited(part, MaxChunkSize)
		part.Close()
		if err != nil {
			api.AbortWithError(ctx, http.StatusRequestEntityTooLarge, api.CodeInvalidRequest, fmt.Errorf("chunk %s: %w", id, err))
			return
		}

		if err := h.blob.Put(ctx.Request.Context(), id, data); err != nil {
			abortBlobError(ctx, id, err)
			return
		}
		stored = append(stored, id)
	}

	if err := h.journal.GrantChunks(ctx.Request.Context(), api.User(ctx), stored...); err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		return
	}

	slog.Debug("chunks stored", "user", api.User(ctx), "count", len(stored))
	ctx.PureJSON(http.StatusOK, &syncmsg.UploadResponse{Stored: stored})
}

// DownloadBatch answers a JSON list of ids with a multipart/mixed body, one
// part per stored chunk. Unknown and ungranted ids are left out and the
// client reports them.
func (h *ChunksHandler) DownloadBatch(ctx *gin.Context) {
	var req syncmsg.DownloadRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}
	if len(req.IDs) > MaxBatchIDs {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest,
			fmt.Errorf("at most %d ids per request, got %d", MaxBatchIDs, len(req.IDs)))
		return
	}

	granted, err := h.journal.GrantedChunks(ctx.Request.Context(), api.User(ctx), req.IDs)
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		return
	}

	mw := multipart.NewWriter(ctx.Writer)
	ctx.Header("Content-Type", "multipart/mixed; boundary="+mw.Boundary())
	ctx.Status(http.StatusOK)

	for _, id := range req.IDs {
		if !granted.Contains(id) {
			continue
		}
		data, err := h.blob.Get(ctx.Request.Context(), id)
		if errors.Is(err, blob.ErrNotFound) || errors.Is(err, blob.ErrInvalidKey) || errors.Is(err, blob.ErrCorrupt) {
			continue
		}
		if err != nil {
			// the status line is gone, a truncated body is all the client gets
			slog.Error("chunk batch download", "id", id, "error", err)
			ctx.Error(err)
			return
		}

		header := textproto.MIMEHeader{}
		header.Set("Content-Type", "application/octet-stream")
		header.Set(syncmsg.HeaderChunkID, id)
		pw, err := mw.CreatePart(header)
		if err != nil {
			ctx.Error(err)
			return
		}
		if _, err := pw.Write(data); err != nil {
			ctx.Error(err)
			return
		}
	}

	if err := mw.Close(); err != nil {
		ctx.Error(err)
	}
}
