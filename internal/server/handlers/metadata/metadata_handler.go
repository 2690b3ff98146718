package metadata

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cooklang/cooksync/internal/chunker"
	"github.com/cooklang/cooksync/internal/server/blob"
	"github.com/cooklang/cooksync/internal/server/handlers/api"
	"github.com/cooklang/cooksync/internal/server/metadata"
	"github.com/cooklang/cooksync/internal/syncmsg"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gin-gonic/gin"
)

const (
	DefaultPollSeconds = 30
	MaxPollSeconds     = 300
)

type MetadataHandler struct {
	journal  *metadata.Journal
	blob     *blob.BlobService
	notifier *metadata.Notifier
}

func New(journal *metadata.Journal, blob *blob.BlobService, notifier *metadata.Notifier) *MetadataHandler {
	return &MetadataHandler{
		journal:  journal,
		blob:     blob,
		notifier: notifier,
	}
}

func scopeOf(ctx *gin.Context) metadata.Scope {
	return metadata.Scope{User: api.User(ctx), Namespace: api.Namespace(ctx)}
}

// List answers with the latest record of every path changed after ?jid
func (h *MetadataHandler) List(ctx *gin.Context) {
	after, err := strconv.ParseInt(ctx.DefaultQuery("jid", "0"), 10, 64)
	if err != nil || after < 0 {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("invalid jid %q", ctx.Query("jid")))
		return
	}

	records, latest, err := h.journal.List(ctx.Request.Context(), scopeOf(ctx), after)
	if err != nil {
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		return
	}

	ctx.PureJSON(http.StatusOK, &syncmsg.ListResponse{Records: records, Latest: latest})
}

// Commit publishes a new version of a path. Chunks the store does not hold
// yet, or the user never uploaded, are returned as need_chunks and nothing
// is written.
func (h *MetadataHandler) Commit(ctx *gin.Context) {
	var req syncmsg.CommitRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, err)
		return
	}
	if !metadata.ValidPath(req.Path) {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidPath, fmt.Errorf("invalid path %q", req.Path))
		return
	}
	if !req.Deleted {
		if req.Hash == "" {
			api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, errors.New("hash is required"))
			return
		}
		for _, id := range req.ChunkIDs {
			if !chunker.IsValidID(id) {
				api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("invalid chunk id %q", id))
				return
			}
		}

		missing, err := h.blob.Missing(ctx.Request.Context(), req.ChunkIDs)
		if err != nil {
			api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
			return
		}
		ungranted, err := h.journal.Ungranted(ctx.Request.Context(), api.User(ctx), req.ChunkIDs)
		if err != nil {
			api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
			return
		}
		missing = mergeIDs(missing, ungranted)
		if len(missing) > 0 {
			ctx.PureJSON(http.StatusOK, &syncmsg.CommitResponse{NeedChunks: missing})
			return
		}
	}

	scope := scopeOf(ctx)
	origin := ctx.GetHeader(syncmsg.HeaderClientID)

	jid, err := h.journal.Commit(ctx.Request.Context(), scope, &req, origin)
	switch {
	case errors.Is(err, metadata.ErrConflict):
		api.AbortWithError(ctx, http.StatusConflict, api.CodeConflict, err)
		return
	case errors.Is(err, metadata.ErrQuotaExceeded):
		api.AbortWithError(ctx, http.StatusInsufficientStorage, api.CodeQuotaExceeded, err)
		return
	case errors.Is(err, metadata.ErrInvalidPath):
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidPath, err)
		return
	case err != nil:
		api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
		return
	}

	h.notifier.Publish(metadata.Update{Scope: scope, JID: jid, Origin: origin})
	slog.Info("metadata commit", "user", scope.User, "path", req.Path, "jid", jid, "deleted", req.Deleted, "origin", origin)
	ctx.PureJSON(http.StatusOK, &syncmsg.CommitResponse{JID: jid})
}

// mergeIDs appends the ids of b not already in a
func mergeIDs(a, b []string) []string {
	seen := mapset.NewThreadUnsafeSet(a...)
	for _, id := range b {
		if seen.Add(id) {
			a = append(a, id)
		}
	}
	return a
}

// Poll waits up to ?seconds for a commit by another client of the same user
func (h *MetadataHandler) Poll(ctx *gin.Context) {
	seconds, err := strconv.Atoi(ctx.DefaultQuery("seconds", strconv.Itoa(DefaultPollSeconds)))
	if err != nil || seconds <= 0 {
		api.AbortWithError(ctx, http.StatusBadRequest, api.CodeInvalidRequest, fmt.Errorf("invalid seconds %q", ctx.Query("seconds")))
		return
	}
	seconds = min(seconds, MaxPollSeconds)

	scope := scopeOf(ctx)
	self := ctx.GetHeader(syncmsg.HeaderClientID)

	updates, cancel := h.notifier.Subscribe(scope)
	defer cancel()

	timer := time.NewTimer(time.Duration(seconds) * time.Second)
	defer timer.Stop()

	for {
		select {
		case u := <-updates:
			if self != "" && u.Origin == self {
				continue
			}
			ctx.PureJSON(http.StatusOK, &syncmsg.PollResponse{Updated: true, Latest: u.JID})
			return

		case <-timer.C:
			latest, err := h.journal.LatestJID(ctx.Request.Context(), scope)
			if err != nil {
				api.AbortWithError(ctx, http.StatusInternalServerError, api.CodeInternalError, err)
				return
			}
			ctx.PureJSON(http.StatusOK, &syncmsg.PollResponse{Updated: false, Latest: latest})
			return

		case <-ctx.Request.Context().Done():
			return
		}
	}
}
