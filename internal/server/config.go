package server

import (
	"fmt"
	"path/filepath"

	"github.com/cooklang/cooksync/internal/server/auth"
	"github.com/cooklang/cooksync/internal/server/blob"
	"github.com/dustin/go-humanize"
)

const (
	DefaultAddr      = "127.0.0.1:8000"
	DefaultRateLimit = "1200-M"
)

type Config struct {
	HTTP    HTTPConfig  `mapstructure:"http"`
	Auth    auth.Config `mapstructure:"auth"`
	Blob    blob.Config `mapstructure:"blob"`
	DataDir string      `mapstructure:"data_dir"`
	DBPath  string      `mapstructure:"db_path"`
	// per user limit over live files, humanized ("5GiB"), empty for none
	Quota     string `mapstructure:"quota"`
	RateLimit string `mapstructure:"rate_limit"`
}

type HTTPConfig struct {
	Addr     string `mapstructure:"addr"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

func (c *HTTPConfig) TLS() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

func (c *HTTPConfig) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("http `addr` is required")
	}
	if (c.CertFile == "") != (c.KeyFile == "") {
		return fmt.Errorf("http `cert_file` and `key_file` must be set together")
	}
	return nil
}

// QuotaBytes parses Quota, 0 means unlimited
func (c *Config) QuotaBytes() (int64, error) {
	if c.Quota == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(c.Quota)
	if err != nil {
		return 0, fmt.Errorf("invalid `quota` %q: %w", c.Quota, err)
	}
	return int64(n), nil
}

// Normalize fills paths derived from DataDir
func (c *Config) Normalize() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultAddr
	}
	if c.RateLimit == "" {
		c.RateLimit = DefaultRateLimit
	}
	if c.DataDir == "" {
		return
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "journal.db")
	}
	if (c.Blob.Backend == "" || c.Blob.Backend == blob.BackendDisk) && c.Blob.Dir == "" {
		c.Blob.Dir = filepath.Join(c.DataDir, "chunks")
	}
}

func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Blob.Validate(); err != nil {
		return err
	}
	if c.DBPath == "" {
		return fmt.Errorf("`db_path` or `data_dir` is required")
	}
	if _, err := c.QuotaBytes(); err != nil {
		return err
	}
	return nil
}
