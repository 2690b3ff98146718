package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cooklang/cooksync/internal/server/auth"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRoot() *cobra.Command {
	cmd := &cobra.Command{Use: "cooksync-server"}
	cmd.PersistentFlags().StringP("config", "f", "", "")
	cmd.PersistentFlags().StringP("data-dir", "d", "", "")
	cmd.Flags().StringP("bind", "b", "", "")
	cmd.Flags().StringP("cert", "c", "", "")
	cmd.Flags().StringP("key", "k", "", "")
	return cmd
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigEnv(t *testing.T) {
	t.Setenv("COOKSYNC_HTTP_ADDR", ":8080")
	t.Setenv("COOKSYNC_DATA_DIR", "/srv/cooksync")
	t.Setenv("COOKSYNC_QUOTA", "1GiB")
	t.Setenv("COOKSYNC_AUTH_ENABLED", "true")
	t.Setenv("COOKSYNC_AUTH_TOKEN_SECRET", "0123456789abcdef-env")
	t.Setenv("COOKSYNC_AUTH_TOKEN_EXPIRY", "24h")
	t.Setenv("COOKSYNC_BLOB_BACKEND", "s3")
	t.Setenv("COOKSYNC_BLOB_S3_BUCKET_NAME", "recipes")
	t.Setenv("COOKSYNC_BLOB_S3_REGION", "eu-west-1")
	t.Setenv("COOKSYNC_BLOB_S3_ACCESS_KEY", "access")
	t.Setenv("COOKSYNC_BLOB_S3_SECRET_KEY", "secret")

	cfg, err := loadConfig(newTestRoot())
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "/srv/cooksync", cfg.DataDir)
	assert.Equal(t, filepath.Join("/srv/cooksync", "journal.db"), cfg.DBPath)
	assert.Equal(t, "1GiB", cfg.Quota)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, auth.DefaultTokenIssuer, cfg.Auth.TokenIssuer)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenExpiry)
	assert.Equal(t, "s3", cfg.Blob.Backend)
	assert.Equal(t, "recipes", cfg.Blob.S3.BucketName)
	assert.Equal(t, "eu-west-1", cfg.Blob.S3.Region)
	assert.Empty(t, cfg.Blob.Dir)
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
data_dir: /var/lib/cooksync
rate_limit: 60-M

http:
  addr: 0.0.0.0:443
  cert_file: cert.pem
  key_file: key.pem

auth:
  enabled: true
  token_issuer: https://sync.example.com
  token_secret: 0123456789abcdef-yaml

blob:
  backend: disk
  cache_ttl: 1m
`)
	cmd := newTestRoot()
	require.NoError(t, cmd.PersistentFlags().Set("config", path))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "0.0.0.0:443", cfg.HTTP.Addr)
	assert.True(t, cfg.HTTP.TLS())
	assert.Equal(t, "60-M", cfg.RateLimit)
	assert.Equal(t, "https://sync.example.com", cfg.Auth.TokenIssuer)
	assert.Equal(t, auth.DefaultTokenExpiry, cfg.Auth.TokenExpiry)
	assert.Equal(t, filepath.Join("/var/lib/cooksync", "chunks"), cfg.Blob.Dir)
	assert.Equal(t, time.Minute, cfg.Blob.CacheTTL)
}

func TestLoadConfigFlagsBeatFile(t *testing.T) {
	path := writeConfig(t, "config.json", `{"data_dir": "/from/file", "http": {"addr": "127.0.0.1:1"}}`)

	cmd := newTestRoot()
	require.NoError(t, cmd.PersistentFlags().Set("config", path))
	require.NoError(t, cmd.PersistentFlags().Set("data-dir", "/from/flag"))
	require.NoError(t, cmd.Flags().Set("bind", "127.0.0.1:2"))

	cfg, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "/from/flag", cfg.DataDir)
	assert.Equal(t, "127.0.0.1:2", cfg.HTTP.Addr)
}

func TestLoadConfigMissingFile(t *testing.T) {
	cmd := newTestRoot()
	require.NoError(t, cmd.PersistentFlags().Set("config", filepath.Join(t.TempDir(), "nope.yaml")))

	_, err := loadConfig(cmd)
	assert.Error(t, err)
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("COOKSYNC_AUTH_ENABLED", "true")
	t.Setenv("COOKSYNC_AUTH_TOKEN_SECRET", "0123456789abcdef-token")

	root := newTestRoot()
	root.AddCommand(newTokenCmd())

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"token", "alice", "--namespace", "4", "--expiry", "1h"})
	require.NoError(t, root.ExecuteContext(context.Background()))

	claims, err := auth.ParseClaims(strings.TrimSpace(out.String()), "0123456789abcdef-token", auth.DefaultTokenIssuer)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, int64(4), claims.Namespace)
	assert.WithinDuration(t, time.Now().Add(time.Hour), claims.ExpiresAt.Time, 5*time.Second)
}

func TestTokenCommand_AuthDisabled(t *testing.T) {
	t.Setenv("COOKSYNC_AUTH_ENABLED", "false")

	root := newTestRoot()
	root.AddCommand(newTokenCmd())
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"token", "alice"})
	assert.Error(t, root.ExecuteContext(context.Background()))
}
