package ws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/makroumprog/gaze-navigate-click-zoom/internal/shared/id"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/shared/types"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/shared/utils"
)

// conn is one agent connection. Only writePump writes data frames.
type conn struct {
	hub     *Hub
	socket  *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	ctx     context.Context
	cancel  context.CancelFunc

	// Set from the hello before the connection is attached.
	tab id.TabID

	closeOnce sync.Once
}

func newConn(h *Hub, socket *websocket.Conn, base context.Context) *conn {
	ctx, cancel := context.WithCancel(base)
	return &conn{
		hub:     h,
		socket:  socket,
		send:    make(chan []byte, sendQueueSize),
		limiter: rate.NewLimiter(h.msgRate, h.msgBurst),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (c *conn) run() {
	defer c.close()

	hello, helloID, err := c.readHello()
	if err != nil {
		c.hub.logger.Debug("Agent handshake failed", zap.Error(err))
		return
	}
	c.tab = hello.TabID

	if err := c.hub.attach(c, hello); err != nil {
		c.hub.logger.Warn("Agent registration failed", zap.Error(err))
		return
	}
	defer c.hub.detach(c)

	c.hub.logger.Info("Agent connected",
		zap.String("tab_id", hello.TabID.String()),
		zap.String("session_id", hello.SessionID.String()),
		zap.String("url", hello.URL))

	go c.writePump()
	c.reply(helloID, types.Ack{Success: true})
	c.readPump()

	c.hub.logger.Info("Agent disconnected", zap.String("tab_id", c.tab.String()))
}

func (c *conn) readHello() (types.Hello, string, error) {
	var hello types.Hello

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(helloWait))
	_, data, err := c.socket.ReadMessage()
	if err != nil {
		return hello, "", err
	}

	var env types.Envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return hello, "", err
	}
	if env.Type != types.MsgHello {
		return hello, "", errHelloExpected
	}
	if err := decode(env.Payload, &hello); err != nil {
		return hello, "", err
	}
	if err := utils.ValidateTabInfo(hello.TabID.String(), hello.URL, hello.Title); err != nil {
		return hello, "", fmt.Errorf("%w: %v", errBadHello, err)
	}
	c.hub.metrics.RecordWSMessage("in", env.Type)
	return hello, env.ID, nil
}

func (c *conn) readPump() {
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		return c.socket.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("WebSocket read error", zap.String("tab_id", c.tab.String()), zap.Error(err))
			}
			return
		}
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))

		var env types.Envelope
		if err := sonic.Unmarshal(data, &env); err != nil {
			c.replyError("", ErrBadPayload)
			continue
		}
		c.hub.metrics.RecordWSMessage("in", env.Type)

		if !c.limiter.Allow() {
			c.replyError(env.ID, ErrRateLimited)
			continue
		}
		c.handle(env)
	}
}

func (c *conn) handle(env types.Envelope) {
	ctx, cancel := context.WithTimeout(c.ctx, c.hub.requestTimeout)
	defer cancel()

	var (
		reply interface{}
		err   error
	)
	if c.hub.tracer == nil {
		reply, err = c.hub.dispatch(ctx, c.tab, env)
	} else {
		tags := map[string]string{"tab_id": c.tab.String(), "request_id": env.ID}
		err = c.hub.tracer.Trace(ctx, "ws."+env.Type, tags, func(ctx context.Context) error {
			var derr error
			reply, derr = c.hub.dispatch(ctx, c.tab, env)
			return derr
		})
	}
	if err != nil {
		c.replyError(env.ID, err)
		return
	}
	c.reply(env.ID, reply)
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.TextMessage, data); err != nil {
				c.hub.logger.Debug("WebSocket write failed", zap.String("tab_id", c.tab.String()), zap.Error(err))
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

// enqueue queues env without blocking.
func (c *conn) enqueue(env types.Envelope) error {
	data, err := sonic.Marshal(env)
	if err != nil {
		return err
	}
	select {
	case <-c.ctx.Done():
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- data:
		c.hub.metrics.RecordWSMessage("out", env.Type)
		return nil
	default:
		return ErrSlowConsumer
	}
}

func (c *conn) reply(reqID string, v interface{}) {
	payload, err := sonic.Marshal(v)
	if err != nil {
		c.replyError(reqID, err)
		return
	}
	if err := c.enqueue(types.Envelope{ID: reqID, Type: types.MsgReply, Payload: payload}); err != nil {
		c.hub.logger.Debug("Reply dropped", zap.String("tab_id", c.tab.String()), zap.Error(err))
	}
}

func (c *conn) replyError(reqID string, cause error) {
	if err := c.enqueue(types.Envelope{ID: reqID, Type: types.MsgError, Error: cause.Error()}); err != nil {
		c.hub.logger.Debug("Error reply dropped", zap.String("tab_id", c.tab.String()), zap.Error(err))
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.socket.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = c.socket.Close()
	})
}
