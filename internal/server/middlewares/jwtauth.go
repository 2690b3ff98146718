package middlewares

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cooklang/cooksync/internal/server/auth"
	"github.com/cooklang/cooksync/internal/server/handlers/api"
	"github.com/gin-gonic/gin"
)

const (
	bearerPrefix = "Bearer "
	authHeader   = "Authorization"
)

var (
	errMissingHeader = errors.New("authorization header is missing")
	errHeaderFormat  = errors.New("authorization header format must be Bearer {token}")
)

// JWTAuth validates the bearer token and stores its subject and namespace
// in the request context. With auth disabled every request runs as
// auth.AnonymousUser.
func JWTAuth(authService *auth.AuthService) gin.HandlerFunc {
	if !authService.IsEnabled() {
		slog.Warn("auth middleware disabled, all requests share one user", "user", auth.AnonymousUser)
		return func(ctx *gin.Context) {
			ctx.Set(api.UserKey, auth.AnonymousUser)
			ctx.Next()
		}
	}

	return func(ctx *gin.Context) {
		value := ctx.GetHeader(authHeader)
		if value == "" {
			api.AbortWithError(ctx, http.StatusUnauthorized, api.CodeAuthInvalidCredentials, errMissingHeader)
			return
		}

		token, ok := strings.CutPrefix(value, bearerPrefix)
		if !ok || token == "" {
			api.AbortWithError(ctx, http.StatusUnauthorized, api.CodeAuthInvalidCredentials, errHeaderFormat)
			return
		}

		claims, err := authService.ValidateAccessToken(ctx, token)
		if err != nil {
			api.AbortWithError(ctx, http.StatusUnauthorized, api.CodeAuthInvalidCredentials, err)
			return
		}

		ctx.Set(api.UserKey, claims.Subject)
		ctx.Set(api.NamespaceKey, claims.Namespace)
		ctx.Next()
	}
}
