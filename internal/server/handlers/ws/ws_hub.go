package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/cooklang/cooksync/internal/server/handlers/api"
	"github.com/cooklang/cooksync/internal/server/metadata"
	"github.com/cooklang/cooksync/internal/syncmsg"
	"github.com/cooklang/cooksync/internal/version"
	"github.com/gin-gonic/gin"
)

const maxMessageSize = 64 * 1024

var errHubStopped = errors.New("wshub stopped")

// WebsocketHub tells connected devices about commits made by other devices of
// the same user
type WebsocketHub struct {
	notifier *metadata.Notifier
	clients  map[string]*WebsocketClient // ConnID -> client
	register chan *WebsocketClient
	done     chan struct{}
	stopOnce sync.Once

	wg sync.WaitGroup
	mu sync.RWMutex
}

func NewHub(notifier *metadata.Notifier) *WebsocketHub {
	return &WebsocketHub{
		notifier: notifier,
		clients:  make(map[string]*WebsocketClient),
		register: make(chan *WebsocketClient),
		done:     make(chan struct{}),
	}
}

func (h *WebsocketHub) Run(ctx context.Context) {
	slog.Info("wshub started")
	defer slog.Info("wshub stopped")

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ConnID] = client
			slog.Debug("wshub registered", "connId", client.ConnID, "user", client.Info.User, "client", client.Info.ClientID, "active", len(h.clients))
			h.mu.Unlock()

			h.wg.Add(1)
			client.Start(ctx)
			go h.forward(client)

		case <-h.done:
			return

		case <-ctx.Done():
			return
		}
	}
}

// forward pushes metadata updates of the client's scope until it disconnects
func (h *WebsocketHub) forward(client *WebsocketClient) {
	updates, cancel := h.notifier.Subscribe(client.Info.Scope)
	defer func() {
		cancel()
		h.mu.Lock()
		delete(h.clients, client.ConnID)
		slog.Debug("wshub removed", "connId", client.ConnID, "user", client.Info.User, "active", len(h.clients))
		h.mu.Unlock()
		h.wg.Done()
	}()

	for {
		select {
		case <-client.Closed:
			return
		case u := <-updates:
			if u.Origin != "" && u.Origin == client.Info.ClientID {
				continue
			}
			client.Send(syncmsg.NewMetadataUpdated(u.JID, u.Origin))
		}
	}
}

func (h *WebsocketHub) ActiveClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *WebsocketHub) Shutdown(ctx context.Context) {
	h.stopOnce.Do(func() { close(h.done) })

	h.mu.RLock()
	for _, client := range h.clients {
		client.Close()
	}
	h.mu.RUnlock()

	waited := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		slog.Info("wshub shutdown")
	case <-ctx.Done():
		slog.Warn("wshub shutdown timed out", "active", h.ActiveClients())
	}
}

// WebsocketHandler upgrades the request and registers the device with the hub
func (h *WebsocketHub) WebsocketHandler(ctx *gin.Context) {
	user := api.User(ctx)
	if user == "" {
		api.AbortWithError(ctx, http.StatusUnauthorized, api.CodeAuthInvalidCredentials, fmt.Errorf("user missing"))
		return
	}

	conn, err := websocket.Accept(ctx.Writer, ctx.Request, nil)
	if err != nil {
		// Accept already wrote the response
		ctx.Abort()
		ctx.Error(fmt.Errorf("websocket accept failed: %w", err))
		return
	}
	conn.SetReadLimit(maxMessageSize)

	client := NewWebsocketClient(conn, &ClientInfo{
		User:     user,
		Scope:    metadata.Scope{User: user, Namespace: api.Namespace(ctx)},
		ClientID: ctx.GetHeader(syncmsg.HeaderClientID),
		IPAddr:   ctx.ClientIP(),
		Version:  ctx.GetHeader(syncmsg.HeaderVersion),
	})
	client.Send(syncmsg.NewSystemMessage(version.Version, "ok"))

	select {
	case h.register <- client:
	case <-h.done:
		client.closeConnection(websocket.StatusGoingAway, errHubStopped.Error())
	}
}
