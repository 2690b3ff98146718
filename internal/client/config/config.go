package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/cooklang/cooksync/internal/client/tracker"
	"github.com/cooklang/cooksync/internal/utils"
	"github.com/goccy/go-json"
	"github.com/spf13/viper"
)

var (
	home, _           = os.UserHomeDir()
	DefaultConfigPath = filepath.Join(home, ".cooksync", "config.json")
	DefaultDataDir    = filepath.Join(home, "Recipes")
	DefaultServerURL  = "http://localhost:8000"
	DefaultNamespace  = int64(1)
)

var (
	ErrNoDataDir   = errors.New("data dir is required")
	ErrNoServerURL = errors.New("server url is required")
	ErrNoToken     = errors.New("token is required, mint one with `cooksync-server token`")
)

type Config struct {
	DataDir      string   `json:"data_dir" mapstructure:"data_dir"`
	ServerURL    string   `json:"server_url" mapstructure:"server_url"`
	Token        string   `json:"token,omitempty" mapstructure:"token"`
	Namespace    int64    `json:"namespace_id,omitempty" mapstructure:"namespace_id"`
	Include      []string `json:"include,omitempty" mapstructure:"include"`
	DownloadOnly bool     `json:"download_only,omitempty" mapstructure:"download_only"`
	Workers      int      `json:"workers,omitempty" mapstructure:"workers"`

	DownloadInterval time.Duration `json:"-" mapstructure:"download_interval"`
	UploadInterval   time.Duration `json:"-" mapstructure:"upload_interval"`

	Path string `json:"-" mapstructure:"-"`
}

// Validate normalizes paths and checks everything a sync run needs
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return ErrNoDataDir
	}
	dataDir, err := utils.ResolvePath(c.DataDir)
	if err != nil {
		return fmt.Errorf("data dir: %w", err)
	}
	c.DataDir = dataDir

	if c.Path != "" {
		p, err := utils.ResolvePath(c.Path)
		if err != nil {
			return fmt.Errorf("config path: %w", err)
		}
		c.Path = p
	}

	if c.ServerURL == "" {
		return ErrNoServerURL
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("server url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server url %q: must be an http(s) url", c.ServerURL)
	}

	if c.Token == "" {
		return ErrNoToken
	}
	if c.Namespace <= 0 {
		c.Namespace = DefaultNamespace
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}

	return tracker.ValidateIncludes(c.Include)
}

func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	// holds the token
	return os.WriteFile(path, data, 0o600)
}

// LoadClientConfig reads a JSON config file. COOKSYNC_ environment
// variables override values from the file.
func LoadClientConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix("COOKSYNC")
	v.AutomaticEnv()
	for _, key := range []string{"data_dir", "server_url", "token", "namespace_id", "include", "download_only", "workers", "download_interval", "upload_interval"} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config parse '%s': %w", path, err)
	}
	cfg.Path = path
	return &cfg, nil
}
