package ws

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/cooklang/cooksync/internal/syncmsg"
	"github.com/google/uuid"
)

const (
	writeTimeout   = 20 * time.Second
	shutdownReason = "shutdown"
	clientTxSize   = 32
)

// WebsocketClient is one connected device. The server only pushes, anything
// the device sends is read and dropped so control frames get handled.
type WebsocketClient struct {
	ConnID string
	Info   *ClientInfo
	MsgTx  chan *syncmsg.Message
	Closed chan struct{}

	conn      *websocket.Conn
	wsDone    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewWebsocketClient(conn *websocket.Conn, info *ClientInfo) *WebsocketClient {
	return &WebsocketClient{
		ConnID: uuid.NewString()[:8],
		Info:   info,
		MsgTx:  make(chan *syncmsg.Message, clientTxSize),
		Closed: make(chan struct{}),
		wsDone: make(chan struct{}),
		conn:   conn,
	}
}

func (c *WebsocketClient) Start(ctx context.Context) {
	slog.Debug("wsclient start", "connId", c.ConnID)
	c.wg.Add(2)
	go c.writeLoop(ctx)
	go c.readLoop(ctx)
}

func (c *WebsocketClient) Close() {
	c.closeConnection(websocket.StatusNormalClosure, shutdownReason)
}

// Send queues msg, dropping it when the client is not keeping up
func (c *WebsocketClient) Send(msg *syncmsg.Message) bool {
	select {
	case <-c.wsDone:
		return false
	default:
	}
	select {
	case c.MsgTx <- msg:
		return true
	default:
		slog.Warn("wsclient send buffer full", "connId", c.ConnID, "user", c.Info.User)
		return false
	}
}

func (c *WebsocketClient) closeConnection(status websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.wsDone)
		c.conn.Close(status, reason)

		go func() {
			c.wg.Wait()
			close(c.Closed)
			slog.Debug("wsclient closed", "connId", c.ConnID)
		}()
	})
}

func (c *WebsocketClient) readLoop(ctx context.Context) {
	defer func() {
		c.wg.Done()
		c.closeConnection(websocket.StatusNormalClosure, shutdownReason)
	}()

	for {
		_, _, err := c.conn.Read(ctx)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				// closed by either side
			} else if status := websocket.CloseStatus(err); status != websocket.StatusNormalClosure &&
				status != websocket.StatusGoingAway && status != websocket.StatusNoStatusRcvd {
				slog.Warn("wsclient reader", "error", err, "connId", c.ConnID)
			}
			return
		}
	}
}

func (c *WebsocketClient) writeLoop(ctx context.Context) {
	defer func() {
		c.wg.Done()
		c.closeConnection(websocket.StatusNormalClosure, shutdownReason)
	}()

	for {
		select {
		case msg := <-c.MsgTx:
			ctxWrite, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(ctxWrite, c.conn, msg)
			cancel()
			if err != nil {
				slog.Error("wsclient writer", "connId", c.ConnID, "msgId", msg.Id, "msgType", msg.Type, "error", err)
				return
			}
			slog.Debug("wsclient writer", "connId", c.ConnID, "msgId", msg.Id, "msgType", msg.Type)

		case <-c.wsDone:
			return

		case <-ctx.Done():
			return
		}
	}
}
