package blob

import (
	"fmt"
	"net/url"
	"time"
)

const (
	BackendDisk = "disk"
	BackendS3   = "s3"

	DefaultExistsCacheSize = 100_000
	DefaultExistsCacheTTL  = 10 * time.Minute
)

type Config struct {
	Backend  string        `mapstructure:"backend"`
	Dir      string        `mapstructure:"dir"`
	S3       S3Config      `mapstructure:"s3"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendDisk, "":
		if c.Dir == "" {
			return fmt.Errorf("blob `dir` is required for the disk backend")
		}
	case BackendS3:
		if err := c.S3.Validate(); err != nil {
			return fmt.Errorf("blob s3: %w", err)
		}
	default:
		return fmt.Errorf("blob `backend` must be %q or %q, got %q", BackendDisk, BackendS3, c.Backend)
	}
	return nil
}

type S3Config struct {
	BucketName    string `mapstructure:"bucket_name"`
	Region        string `mapstructure:"region"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	Endpoint      string `mapstructure:"endpoint"`
	Prefix        string `mapstructure:"prefix"`
	UseAccelerate bool   `mapstructure:"use_accelerate"`
}

func (c *S3Config) Validate() error {
	if c.BucketName == "" {
		return fmt.Errorf("bucket_name required")
	}
	if c.Region == "" {
		return fmt.Errorf("region required")
	}
	if c.AccessKey == "" {
		return fmt.Errorf("access_key required")
	}
	if c.SecretKey == "" {
		return fmt.Errorf("secret_key required")
	}
	if c.Endpoint != "" {
		u, err := url.Parse(c.Endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid endpoint URL %q", c.Endpoint)
		}
	}
	return nil
}
