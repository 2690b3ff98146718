package server

import (
	"net/http"

	"github.com/cooklang/cooksync/internal/server/handlers/api"
	"github.com/cooklang/cooksync/internal/server/handlers/chunks"
	"github.com/cooklang/cooksync/internal/server/handlers/metadata"
	"github.com/cooklang/cooksync/internal/server/handlers/ws"
	"github.com/cooklang/cooksync/internal/server/middlewares"
	"github.com/cooklang/cooksync/internal/version"
	"github.com/gin-gonic/gin"
)

func SetupRoutes(config *Config, svc *Services, hub *ws.WebsocketHub) (http.Handler, error) {
	r := gin.New()
	r.MaxMultipartMemory = 8 << 20 // 8 MiB

	chunksH := chunks.New(svc.Blob, svc.Journal)
	metadataH := metadata.New(svc.Journal, svc.Blob, svc.Notifier)

	rateLimit, err := middlewares.RateLimiter(config.RateLimit)
	if err != nil {
		return nil, err
	}

	r.Use(middlewares.Logger())
	r.Use(gin.Recovery())
	r.Use(middlewares.Secure(config.HTTP.TLS()))
	r.Use(middlewares.CORS())
	r.Use(middlewares.GZIP())

	r.GET("/", IndexHandler)
	r.GET("/healthz", HealthHandler)

	v1 := r.Group("/api/v1")
	v1.Use(rateLimit)
	v1.Use(middlewares.JWTAuth(svc.Auth))
	{
		v1.POST("/chunks/upload", chunksH.UploadBatch)
		v1.POST("/chunks/download", chunksH.DownloadBatch)
		v1.POST("/chunks/:id", chunksH.Upload)
		v1.GET("/chunks/:id", chunksH.Download)

		v1.GET("/metadata/list", metadataH.List)
		v1.POST("/metadata/commit", metadataH.Commit)
		v1.GET("/metadata/poll", metadataH.Poll)

		v1.GET("/events", hub.WebsocketHandler)
	}

	r.NoRoute(func(c *gin.Context) {
		c.PureJSON(http.StatusNotFound, api.APIError{Code: api.CodeInvalidRequest, Message: "not found"})
	})

	r.NoMethod(func(c *gin.Context) {
		c.PureJSON(http.StatusMethodNotAllowed, api.APIError{Code: api.CodeInvalidRequest, Message: "method not allowed"})
	})

	return r.Handler(), nil
}

func IndexHandler(ctx *gin.Context) {
	ctx.String(http.StatusOK, version.DetailedWithApp())
}

func HealthHandler(ctx *gin.Context) {
	ctx.PureJSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
