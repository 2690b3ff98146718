package syncsdk

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cooklang/cooksync/internal/syncmsg"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

func newTestSDK(t *testing.T, handler http.Handler) *SyncSDK {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	sdk, err := New(&Config{BaseURL: srv.URL, Token: "test-token", ClientID: "client-a"})
	require.NoError(t, err)
	t.Cleanup(sdk.Close)
	return sdk
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, &syncmsg.ErrorResponse{Code: code, Message: msg})
}
