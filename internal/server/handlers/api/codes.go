package api

import "github.com/cooklang/cooksync/internal/syncmsg"

// codes shared with the client sdk
const (
	CodeInvalidRequest = syncmsg.CodeInvalidRequest
	CodeRateLimited    = syncmsg.CodeRateLimited
	CodeInternalError  = syncmsg.CodeInternalError

	CodeAuthInvalidCredentials = syncmsg.CodeAuthInvalidCredentials

	CodeChunkNotFound = syncmsg.CodeChunkNotFound
	CodeChunkCorrupt  = syncmsg.CodeChunkCorrupt
	CodeChunkPut      = syncmsg.CodeChunkPut

	CodeConflict      = syncmsg.CodeConflict
	CodeQuotaExceeded = syncmsg.CodeQuotaExceeded
	CodeInvalidPath   = syncmsg.CodeInvalidPath
)
