package middlewares

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cooklang/cooksync/internal/server/auth"
	"github.com/cooklang/cooksync/internal/server/handlers/api"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuthRouter(svc *auth.AuthService) *gin.Engine {
	r := gin.New()
	r.Use(JWTAuth(svc))
	r.GET("/whoami", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"user": api.User(ctx), "ns": api.Namespace(ctx)})
	})
	return r
}

func TestJWTAuth(t *testing.T) {
	cfg := &auth.Config{Enabled: true, TokenIssuer: "test", TokenSecret: "0123456789abcdef-secret", TokenExpiry: time.Hour}
	svc := auth.NewAuthService(cfg)
	router := newAuthRouter(svc)

	token, err := svc.IssueToken(context.Background(), "alice", 3, 0)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
		{"bad token", "Bearer abc.def.ghi", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)

			if tt.status == http.StatusUnauthorized {
				var body api.APIError
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.Equal(t, api.CodeAuthInvalidCredentials, body.Code)
				assert.NotEmpty(t, body.Message)
			}
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.JSONEq(t, `{"user":"alice","ns":3}`, w.Body.String())
}

func TestJWTAuth_Disabled(t *testing.T) {
	router := newAuthRouter(auth.NewAuthService(&auth.Config{}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user":"local","ns":1}`, w.Body.String())
}

func TestRateLimiter(t *testing.T) {
	limit, err := RateLimiter("2-M")
	require.NoError(t, err)

	r := gin.New()
	r.Use(limit)
	r.GET("/", func(ctx *gin.Context) { ctx.Status(http.StatusNoContent) })

	codes := make([]int, 0, 3)
	for range 3 {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, w.Code)
		if w.Code == http.StatusTooManyRequests {
			assert.Contains(t, w.Body.String(), api.CodeRateLimited)
		}
	}
	assert.Equal(t, []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}, codes)
}

func TestRateLimiter_BadRate(t *testing.T) {
	_, err := RateLimiter("lots")
	assert.Error(t, err)
}
