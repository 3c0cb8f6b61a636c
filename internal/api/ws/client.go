package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/makroumprog/gaze-navigate-click-zoom/internal/domain/settings"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/infrastructure/logging"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/infrastructure/tracing"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/shared/types"
)

// ErrClientClosed is returned by calls on a closed client.
var ErrClientClosed = errors.New("coordinator connection closed")

// RemoteError is an error reply from the coordinator.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "coordinator: " + e.Message
}

// ClientOptions configures Dial.
type ClientOptions struct {
	RequestTimeout time.Duration
	Header         http.Header
	Logger         *logging.Logger
}

// Client is the agent side of the hub protocol. It implements
// agent.Coordinator and settings.Reader.
type Client struct {
	socket     *websocket.Conn
	timeout    time.Duration
	logger     *logging.Logger
	directives chan types.Directive
	done       chan struct{}

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan types.Envelope // Protected by mu
	closed  bool                           // Protected by mu
	err     error                          // Protected by mu
}

// Dial connects to the hub at url and announces the tab with hello. It
// returns once the coordinator has registered the tab. A trace carried by
// ctx is continued by every request the hub serves on this connection.
func Dial(ctx context.Context, url string, hello types.Hello, opts ClientOptions) (*Client, error) {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}

	header := opts.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	tracing.InjectHeader(ctx, header)

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	socket, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial coordinator: %w", err)
	}

	c := &Client{
		socket:     socket,
		timeout:    opts.RequestTimeout,
		logger:     opts.Logger.Named("ws-client").With(zap.String("tab_id", hello.TabID.String())),
		directives: make(chan types.Directive, sendQueueSize),
		done:       make(chan struct{}),
		pending:    make(map[string]chan types.Envelope),
	}
	go c.readLoop()

	if err := c.call(ctx, types.MsgHello, hello, nil); err != nil {
		c.Close()
		return nil, fmt.Errorf("hello: %w", err)
	}
	return c, nil
}

// Directives delivers coordinator directives. It is closed when the
// connection ends. Directives are dropped if the reader falls behind.
func (c *Client) Directives() <-chan types.Directive {
	return c.directives
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, if it has.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) ReportCameraStatus(ctx context.Context, req types.CameraStatusReport) (types.CameraStatusReply, error) {
	var reply types.CameraStatusReply
	err := c.call(ctx, types.MsgReportCameraStatus, req, &reply)
	return reply, err
}

func (c *Client) CheckStatus(ctx context.Context, req types.StatusQuery) (types.StatusReply, error) {
	var reply types.StatusReply
	err := c.call(ctx, types.MsgCheckStatus, req, &reply)
	return reply, err
}

func (c *Client) Heartbeat(ctx context.Context, req types.Heartbeat) (types.HeartbeatReply, error) {
	var reply types.HeartbeatReply
	err := c.call(ctx, types.MsgHeartbeat, req, &reply)
	return reply, err
}

func (c *Client) NotifyFocusChange(ctx context.Context, req types.FocusChange) (types.Ack, error) {
	var reply types.Ack
	err := c.call(ctx, types.MsgNotifyFocusChange, req, &reply)
	return reply, err
}

// Get reads settings through the coordinator.
func (c *Client) Get(ctx context.Context, keys ...string) (settings.Values, error) {
	var values settings.Values
	err := c.call(ctx, types.MsgGetSettings, getSettingsRequest{Keys: keys}, &values)
	return values, err
}

// Close ends the connection and waits for the reader to stop.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.socket.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	c.writeMu.Unlock()

	err := c.socket.Close()
	<-c.done
	return err
}

func (c *Client) call(ctx context.Context, msgType string, req, reply interface{}) error {
	payload, err := sonic.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msgType, err)
	}

	reqID := uuid.NewString()
	ch := make(chan types.Envelope, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.pending[reqID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, reqID)
		c.mu.Unlock()
	}()

	if err := c.write(types.Envelope{ID: reqID, Type: msgType, Payload: payload}); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	select {
	case env := <-ch:
		if env.Type == types.MsgError {
			return &RemoteError{Message: env.Error}
		}
		if reply != nil && len(env.Payload) > 0 {
			if err := sonic.Unmarshal(env.Payload, reply); err != nil {
				return fmt.Errorf("decode %s reply: %w", msgType, err)
			}
		}
		return nil
	case <-c.done:
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) write(env types.Envelope) error {
	data, err := sonic.Marshal(env)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.socket.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", env.Type, err)
	}
	return nil
}

func (c *Client) readLoop() {
	var readErr error
	defer func() {
		c.mu.Lock()
		c.closed = true
		c.err = readErr
		c.mu.Unlock()
		close(c.directives)
		close(c.done)
	}()

	for {
		_, data, err := c.socket.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				readErr = err
			}
			return
		}

		var env types.Envelope
		if err := sonic.Unmarshal(data, &env); err != nil {
			c.logger.Debug("Malformed envelope from coordinator", zap.Error(err))
			continue
		}

		switch env.Type {
		case types.MsgDirective:
			var d types.Directive
			if err := sonic.Unmarshal(env.Payload, &d); err != nil {
				c.logger.Debug("Malformed directive", zap.Error(err))
				continue
			}
			select {
			case c.directives <- d:
			default:
				c.logger.Warn("Directive dropped, reader is behind", zap.String("action", string(d.Action)))
			}

		case types.MsgReply, types.MsgError:
			c.mu.Lock()
			ch := c.pending[env.ID]
			c.mu.Unlock()
			if ch == nil {
				if env.Type == types.MsgError {
					c.logger.Debug("Unsolicited error from coordinator", zap.String("error", env.Error))
				}
				continue
			}
			select {
			case ch <- env:
			default:
			}
		}
	}
}
