package syncsdk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/cooklang/cooksync/internal/syncmsg"
)

const (
	wsClientChannelSize = 64
	wsClientPingPeriod  = 15 * time.Second
	wsClientPingTimeout = 5 * time.Second
)

// wsClient reads notifications from one websocket connection and keeps it alive
type wsClient struct {
	conn      *websocket.Conn
	msgRx     chan *syncmsg.Message
	closed    chan struct{}
	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		conn:    conn,
		msgRx:   make(chan *syncmsg.Message, wsClientChannelSize),
		closed:  make(chan struct{}),
		closing: make(chan struct{}),
	}
}

func (c *wsClient) Start(ctx context.Context) {
	c.wg.Add(2)
	go c.readLoop(ctx)
	go c.pingLoop(ctx)
}

func (c *wsClient) Close() {
	c.closeConnection(websocket.StatusNormalClosure, "shutdown")
}

func (c *wsClient) closeConnection(status websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.closing)
		c.conn.Close(status, reason)
		go func() {
			c.wg.Wait()
			close(c.msgRx)
			close(c.closed)
		}()
	})
}

func (c *wsClient) readLoop(ctx context.Context) {
	defer func() {
		c.wg.Done()
		c.closeConnection(websocket.StatusNormalClosure, "shutdown")
	}()

	for {
		typ, raw, err := c.conn.Read(ctx)
		if err != nil {
			if !isWSExpectedCloseError(err) {
				slog.Warn("socket RECV", "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		msg, err := syncmsg.Unmarshal(raw)
		if err != nil {
			slog.Warn("socket RECV decode", "error", err)
			continue
		}

		select {
		case <-c.closing:
			return
		case c.msgRx <- msg:
		default:
			slog.Warn("socket RECV buffer full", "dropped", msg.Type)
		}
	}
}

func (c *wsClient) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(wsClientPingPeriod)
	defer func() {
		ticker.Stop()
		c.wg.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			c.closeConnection(websocket.StatusGoingAway, "cancelled")
			return
		case <-c.closing:
			return
		case <-ticker.C:
			ctxPing, cancel := context.WithTimeout(ctx, wsClientPingTimeout)
			err := c.conn.Ping(ctxPing)
			cancel()
			if err != nil {
				slog.Warn("socket PING", "error", err)
				c.closeConnection(websocket.StatusGoingAway, "ping failed")
				return
			}
		}
	}
}

// isWSExpectedCloseError returns true if the error is an expected connection closure
func isWSExpectedCloseError(err error) bool {
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
		websocket.CloseStatus(err) == websocket.StatusGoingAway {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, net.ErrClosed)
}
