package syncsdk

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/cooklang/cooksync/internal/syncmsg"
)

const (
	eventsBufferSize        = 16
	eventsReconnectDelay    = 1 * time.Second
	eventsMaxReconnectDelay = 30 * time.Second
	eventsReconnectTimeout  = 10 * time.Second
	wsClientMaxMessageSize  = 64 * 1024
)

// EventsAPI keeps a websocket open to the server and forwards its
// notifications. It reconnects on its own until Close.
type EventsAPI struct {
	config    *Config
	wsClient  *wsClient
	messages  chan *syncmsg.Message
	ctx       context.Context
	cancel    context.CancelFunc
	mu        sync.RWMutex
	connected bool
}

func newEventsAPI(cfg *Config) *EventsAPI {
	ctx, cancel := context.WithCancel(context.Background())
	return &EventsAPI{
		config:   cfg,
		ctx:      ctx,
		cancel:   cancel,
		messages: make(chan *syncmsg.Message, eventsBufferSize),
	}
}

// Connect opens the websocket. Failing to connect the first time is an error,
// later disconnects are retried in the background.
func (e *EventsAPI) Connect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.connected && e.wsClient != nil {
		return nil
	}

	ws, err := e.connectLocked(ctx)
	if err != nil {
		return fmt.Errorf("sdk: events: %w", err)
	}
	go e.manageConnection(ws)
	return nil
}

func (e *EventsAPI) IsConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

// Get returns the channel of received notifications
func (e *EventsAPI) Get() <-chan *syncmsg.Message {
	return e.messages
}

func (e *EventsAPI) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancel()
	if e.wsClient != nil {
		e.wsClient.Close()
		e.wsClient = nil
	}
	e.connected = false
	slog.Info("events closed")
}

func (e *EventsAPI) connectLocked(ctx context.Context) (*wsClient, error) {
	if e.wsClient != nil {
		e.wsClient.Close()
		e.wsClient = nil
		e.connected = false
	}

	wsURL, err := eventsURL(e.config.BaseURL)
	if err != nil {
		return nil, err
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: authHeaders(e.config),
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == 401 || resp.StatusCode == 403) {
			return nil, fmt.Errorf("dial %s: %w", wsURL, ErrUnauthorized)
		}
		return nil, &NetworkError{Op: "events dial", Err: err}
	}
	conn.SetReadLimit(wsClientMaxMessageSize)

	ws := newWSClient(conn)
	ws.Start(e.ctx)

	e.wsClient = ws
	e.connected = true
	slog.Info("events connected", "url", wsURL)
	return ws, nil
}

func (e *EventsAPI) manageConnection(ws *wsClient) {
	go e.consumeMessages(ws)

	select {
	case <-ws.closed:
		e.mu.Lock()
		if e.wsClient == ws {
			e.wsClient = nil
			e.connected = false
		}
		e.mu.Unlock()

		select {
		case <-e.ctx.Done():
		default:
			slog.Info("events disconnected, will reconnect")
			e.reconnectWithBackoff()
		}

	case <-e.ctx.Done():
	}
}

func (e *EventsAPI) consumeMessages(ws *wsClient) {
	for {
		select {
		case <-e.ctx.Done():
			return
		case msg, ok := <-ws.msgRx:
			if !ok {
				return
			}
			select {
			case e.messages <- msg:
			default:
				// one pending notification is as good as many
				slog.Debug("events buffer full, dropped", "type", msg.Type)
			}
		}
	}
}

func (e *EventsAPI) reconnectWithBackoff() {
	delay := eventsReconnectDelay

	for attempt := 1; ; attempt++ {
		select {
		case <-e.ctx.Done():
			return
		case <-time.After(delay):
		}

		slog.Debug("events reconnect", "attempt", attempt, "delay", delay)

		ctx, cancel := context.WithTimeout(e.ctx, eventsReconnectTimeout)
		e.mu.Lock()
		ws, err := e.connectLocked(ctx)
		e.mu.Unlock()
		cancel()

		if err == nil {
			go e.manageConnection(ws)
			return
		}

		delay = min(delay*2, eventsMaxReconnectDelay)
		jitter := 0.75 + rand.Float64()*0.5
		delay = time.Duration(float64(delay) * jitter)
	}
}

func eventsURL(baseURL string) (string, error) {
	full, err := url.JoinPath(baseURL, v1Events)
	if err != nil {
		return "", fmt.Errorf("events url: %w", err)
	}
	return toWebsocketURL(full), nil
}

// toWebsocketURL converts an HTTP URL to a WebSocket URL
func toWebsocketURL(u string) string {
	if strings.HasPrefix(u, "https://") {
		return "wss://" + u[8:]
	} else if strings.HasPrefix(u, "http://") {
		return "ws://" + u[7:]
	}
	return u
}
