package ws

import (
	"github.com/cooklang/cooksync/internal/server/metadata"
)

type ClientInfo struct {
	User     string
	Scope    metadata.Scope
	ClientID string
	IPAddr   string
	Version  string
}
