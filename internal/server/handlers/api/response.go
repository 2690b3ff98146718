package api

import "github.com/gin-gonic/gin"

func AbortWithError(ctx *gin.Context, status int, code string, err error) {
	ctx.Abort()
	ctx.Error(err)
	ctx.PureJSON(status, APIError{
		Code:    code,
		Message: err.Error(),
	})
}

// User is the authenticated user of the request, set by the auth middleware
func User(ctx *gin.Context) string {
	return ctx.GetString(UserKey)
}

// Namespace is the journal namespace of the request, 1 when the token has none
func Namespace(ctx *gin.Context) int64 {
	if ns := ctx.GetInt64(NamespaceKey); ns > 0 {
		return ns
	}
	return 1
}

const (
	UserKey      = "user"
	NamespaceKey = "namespace"
)
