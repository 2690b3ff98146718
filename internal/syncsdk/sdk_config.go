package syncsdk

import (
	"net/url"
	"time"
)

const (
	DefaultBaseURL = "https://sync.cooklang.org"
	DefaultTimeout = 60 * time.Second
)

// Config is the configuration for the SyncSDK
type Config struct {
	BaseURL  string        // BaseURL is required
	Token    string        // Token is required, a JWT minted by the server
	ClientID string        // ClientID identifies this installation, generated when empty
	Timeout  time.Duration // Timeout per request, DefaultTimeout when zero
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrNoServerURL
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{Field: "base_url", Reason: "must be an http(s) url"}
	}
	if c.Token == "" {
		return ErrNoToken
	}
	return nil
}
