package middlewares

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

// chunk bodies are served as stored, Range requests need exact offsets
var excludedPathsRegex = []string{
	`^/api/v1/chunks/.+`,
	`^/api/v1/events`,
}

func GZIP() gin.HandlerFunc {
	return gzip.Gzip(
		gzip.BestSpeed,
		gzip.WithExcludedPaths([]string{"/healthz"}),
		gzip.WithExcludedPathsRegexs(excludedPathsRegex),
	)
}
