package syncmsg

import "time"

const (
	HeaderClientID = "X-CookSync-Client"
	HeaderDeviceID = "X-CookSync-Device"
	HeaderVersion  = "X-CookSync-Version"
	HeaderChunkID  = "X-Chunk-ID"
)

const (
	// generic
	CodeInvalidRequest = "E_INVALID_REQUEST"
	CodeRateLimited    = "E_RATE_LIMITED"
	CodeInternalError  = "E_INTERNAL_ERROR"
	CodeUnknownError   = "E_UNKNOWN_ERR"

	// auth
	CodeAuthInvalidCredentials = "E_AUTH_INVALID_CREDENTIALS"

	// chunks
	CodeChunkNotFound = "E_CHUNK_NOT_FOUND"
	CodeChunkCorrupt  = "E_CHUNK_CORRUPT"
	CodeChunkPut      = "E_CHUNK_PUT_FAILED"

	// metadata
	CodeConflict      = "E_CONFLICT"
	CodeQuotaExceeded = "E_QUOTA_EXCEEDED"
	CodeInvalidPath   = "E_INVALID_PATH"
)

// ErrorResponse is the body of every non 2xx answer
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

// RemoteRecord is one row of the server journal
type RemoteRecord struct {
	JID        int64     `json:"jid"`
	Path       string    `json:"path"`
	Deleted    bool      `json:"deleted"`
	ChunkIDs   []string  `json:"chunk_ids"`
	Hash       string    `json:"hash"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
	Origin     string    `json:"origin,omitempty"`
}

type ListResponse struct {
	Records []*RemoteRecord `json:"records"`
	Latest  int64           `json:"latest_jid"`
}

// CommitRequest publishes a new version of a path. BaseJID is the version the
// client last saw for the path, 0 when it never saw one.
type CommitRequest struct {
	Path       string    `json:"path"`
	Deleted    bool      `json:"deleted"`
	ChunkIDs   []string  `json:"chunk_ids"`
	Hash       string    `json:"hash"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
	BaseJID    int64     `json:"base_jid"`
}

// CommitResponse carries either the new JID or the chunks the server is missing
type CommitResponse struct {
	JID        int64    `json:"jid,omitempty"`
	NeedChunks []string `json:"need_chunks,omitempty"`
}

func (r *CommitResponse) Committed() bool {
	return r.JID > 0 && len(r.NeedChunks) == 0
}

type PollResponse struct {
	Updated bool  `json:"updated"`
	Latest  int64 `json:"latest_jid"`
}

type DownloadRequest struct {
	IDs []string `json:"ids"`
}

type UploadResponse struct {
	Stored []string `json:"stored"`
}
