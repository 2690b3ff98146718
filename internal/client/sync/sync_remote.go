package sync

import (
	"context"
	"time"

	"github.com/cooklang/cooksync/internal/syncmsg"
	"github.com/cooklang/cooksync/internal/syncsdk"
)

// Remote is the server as the engine sees it
type Remote interface {
	ClientID() string
	List(ctx context.Context, jid int64) (*syncmsg.ListResponse, error)
	Commit(ctx context.Context, req *syncmsg.CommitRequest) (*syncmsg.CommitResponse, error)
	UploadChunks(ctx context.Context, chunks map[string][]byte) error
	DownloadChunks(ctx context.Context, ids []string, fn func(id string, data []byte) error) error
	// FetchChunk downloads one chunk, resuming from partPath
	FetchChunk(ctx context.Context, id, partPath string) ([]byte, error)
	Poll(ctx context.Context, timeout time.Duration) (bool, error)
	// Notifications connects the push channel. A nil channel means polling only.
	Notifications(ctx context.Context) (<-chan *syncmsg.Message, error)
}

type sdkRemote struct {
	sdk *syncsdk.SyncSDK
}

// NewRemote exposes a SyncSDK as a Remote
func NewRemote(sdk *syncsdk.SyncSDK) Remote {
	return &sdkRemote{sdk: sdk}
}

func (r *sdkRemote) ClientID() string {
	return r.sdk.ClientID()
}

func (r *sdkRemote) List(ctx context.Context, jid int64) (*syncmsg.ListResponse, error) {
	return r.sdk.Metadata.List(ctx, jid)
}

func (r *sdkRemote) Commit(ctx context.Context, req *syncmsg.CommitRequest) (*syncmsg.CommitResponse, error) {
	return r.sdk.Metadata.Commit(ctx, req)
}

// UploadChunks sends a lone chunk as a plain body and anything more as one
// multipart batch
func (r *sdkRemote) UploadChunks(ctx context.Context, chunks map[string][]byte) error {
	if len(chunks) == 1 {
		for id, data := range chunks {
			return r.sdk.Chunks.Upload(ctx, id, data)
		}
	}
	return r.sdk.Chunks.UploadBatch(ctx, chunks)
}

func (r *sdkRemote) DownloadChunks(ctx context.Context, ids []string, fn func(string, []byte) error) error {
	return r.sdk.Chunks.DownloadBatch(ctx, ids, fn)
}

func (r *sdkRemote) FetchChunk(ctx context.Context, id, partPath string) ([]byte, error) {
	return r.sdk.Chunks.DownloadResumable(ctx, id, partPath)
}

func (r *sdkRemote) Poll(ctx context.Context, timeout time.Duration) (bool, error) {
	return r.sdk.Metadata.Poll(ctx, timeout)
}

func (r *sdkRemote) Notifications(ctx context.Context) (<-chan *syncmsg.Message, error) {
	if err := r.sdk.Events.Connect(ctx); err != nil {
		return nil, err
	}
	return r.sdk.Events.Get(), nil
}
