package syncsdk

import (
	"net/http"

	"github.com/cooklang/cooksync/internal/syncmsg"
	"github.com/cooklang/cooksync/internal/utils"
	"github.com/cooklang/cooksync/internal/version"
	"github.com/imroc/req/v3"
)

const (
	v1ChunkPath      = "/api/v1/chunks/{id}"
	v1ChunksUpload   = "/api/v1/chunks/upload"
	v1ChunksDownload = "/api/v1/chunks/download"
	v1MetadataList   = "/api/v1/metadata/list"
	v1MetadataCommit = "/api/v1/metadata/commit"
	v1MetadataPoll   = "/api/v1/metadata/poll"
	v1Events         = "/api/v1/events"
)

func newHTTPClient(cfg *Config) *req.Client {
	return req.C().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetUserAgent(version.UserAgent()).
		SetCommonBearerAuthToken(cfg.Token).
		SetCommonHeader(syncmsg.HeaderVersion, version.Version).
		SetCommonHeader(syncmsg.HeaderDeviceID, utils.HWID).
		SetCommonHeader(syncmsg.HeaderClientID, cfg.ClientID).
		SetCommonErrorResult(&APIError{}).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)
}

// authHeaders are the headers the websocket dial needs, req does not apply them there
func authHeaders(cfg *Config) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+cfg.Token)
	h.Set("User-Agent", version.UserAgent())
	h.Set(syncmsg.HeaderVersion, version.Version)
	h.Set(syncmsg.HeaderDeviceID, utils.HWID)
	h.Set(syncmsg.HeaderClientID, cfg.ClientID)
	return h
}
