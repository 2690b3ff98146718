package syncsdk

import (
	"github.com/google/uuid"
	"github.com/imroc/req/v3"
)

// SyncSDK is the client for the sync server API
type SyncSDK struct {
	client   *req.Client
	config   *Config
	Chunks   *ChunksAPI
	Metadata *MetadataAPI
	Events   *EventsAPI
}

// New creates a new SyncSDK client
func New(cfg *Config) (*SyncSDK, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := *cfg
	if c.ClientID == "" {
		c.ClientID = uuid.NewString()
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}

	client := newHTTPClient(&c)
	chunks, err := newChunksAPI(client)
	if err != nil {
		return nil, err
	}

	return &SyncSDK{
		client:   client,
		config:   &c,
		Chunks:   chunks,
		Metadata: newMetadataAPI(client),
		Events:   newEventsAPI(&c),
	}, nil
}

// ClientID identifies this installation to the server
func (s *SyncSDK) ClientID() string {
	return s.config.ClientID
}

func (s *SyncSDK) BaseURL() string {
	return s.config.BaseURL
}

// Close terminates all connections and cleans up resources
func (s *SyncSDK) Close() {
	s.Events.Close()
	s.client.GetClient().CloseIdleConnections()
}
