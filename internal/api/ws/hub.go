package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/makroumprog/gaze-navigate-click-zoom/internal/domain/coordinator"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/domain/settings"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/infrastructure/logging"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/infrastructure/monitoring"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/infrastructure/resilience"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/infrastructure/tracing"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/shared/id"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/shared/types"
)

var (
	ErrNotConnected  = errors.New("tab not connected")
	ErrSlowConsumer  = errors.New("tab send queue full")
	ErrConnClosed    = errors.New("connection closed")
	ErrRateLimited   = errors.New("rate limit exceeded")
	ErrUnknownType   = errors.New("unknown message type")
	ErrBadPayload    = errors.New("malformed payload")
	ErrNoSettings    = errors.New("settings store not configured")
	errHelloExpected = errors.New("first message must be hello")
	errBadHello      = errors.New("invalid hello")
)

const (
	sendQueueSize  = 64
	writeWait      = 5 * time.Second
	helloWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10

	defaultMessagesPerSecond = 50
	defaultRequestTimeout    = 2 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // Agents connect from arbitrary page origins
	},
}

// Hub terminates agent WebSocket connections. It routes agent requests to the
// registry and implements coordinator.Dispatcher for directives.
type Hub struct {
	registry       *coordinator.Registry
	settings       settings.Store
	breakers       *resilience.Group
	logger         *logging.Logger
	metrics        *monitoring.Metrics
	tracer         *tracing.Tracer
	msgRate        rate.Limit
	msgBurst       int
	requestTimeout time.Duration

	mu    sync.RWMutex
	conns map[id.TabID]*conn // Protected by mu
}

// NewHub creates a hub serving registry. store may be nil.
func NewHub(registry *coordinator.Registry, store settings.Store) *Hub {
	return &Hub{
		registry: registry,
		settings: store,
		breakers: resilience.NewGroup(resilience.Settings{
			Timeout: 10 * time.Second,
			ReadyToTrip: func(c resilience.Counts) bool {
				return c.ConsecutiveFailures >= 3
			},
		}),
		logger:         logging.NewNop(),
		msgRate:        defaultMessagesPerSecond,
		msgBurst:       defaultMessagesPerSecond,
		requestTimeout: defaultRequestTimeout,
		conns:          make(map[id.TabID]*conn),
	}
}

// WithLogger sets the hub logger
func (h *Hub) WithLogger(logger *logging.Logger) *Hub {
	h.logger = logger.Named("ws")
	return h
}

// WithMetrics adds metrics tracking to the hub
func (h *Hub) WithMetrics(metrics *monitoring.Metrics) *Hub {
	h.metrics = metrics
	return h
}

// WithTracer runs every agent request inside a span.
func (h *Hub) WithTracer(tracer *tracing.Tracer) *Hub {
	h.tracer = tracer
	return h
}

// WithRateLimit caps inbound messages per connection per second.
func (h *Hub) WithRateLimit(perSecond int) *Hub {
	if perSecond > 0 {
		h.msgRate = rate.Limit(perSecond)
		h.msgBurst = perSecond
	}
	return h
}

// WithRequestTimeout bounds each registry call made for an agent.
func (h *Hub) WithRequestTimeout(d time.Duration) *Hub {
	if d > 0 {
		h.requestTimeout = d
	}
	return h
}

// HandleConnection upgrades the request and serves one agent until it leaves.
func (h *Hub) HandleConnection(c *gin.Context) {
	socket, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	// The request context ends with the handler; keep only the trace.
	base := tracing.ContextFromHeader(context.Background(), c.Request.Header)
	newConn(h, socket, base).run()
}

// Send implements coordinator.Dispatcher. Sends never block: a full queue is
// a failure, and repeated failures open the tab's breaker.
func (h *Hub) Send(ctx context.Context, tab id.TabID, d types.Directive) error {
	h.mu.RLock()
	c := h.conns[tab]
	h.mu.RUnlock()
	if c == nil {
		return fmt.Errorf("%w: %s", ErrNotConnected, tab)
	}

	payload, err := sonic.Marshal(d)
	if err != nil {
		return fmt.Errorf("encode directive: %w", err)
	}
	return h.breakers.Execute(tab.String(), func() error {
		return c.enqueue(types.Envelope{Type: types.MsgDirective, Payload: payload})
	})
}

// Connections returns the number of attached agents.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Breakers reports directive breaker states by tab.
func (h *Hub) Breakers() map[string]resilience.State {
	return h.breakers.States()
}

// Close drops every connection.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.close()
	}
}

// attach registers c as the live connection for its tab, replacing any
// earlier connection from the same tab.
func (h *Hub) attach(c *conn, hello types.Hello) error {
	err := h.registry.RegisterTab(types.TabInfo{
		TabID:     hello.TabID,
		SessionID: hello.SessionID,
		URL:       hello.URL,
		Title:     hello.Title,
	})
	if err != nil {
		return err
	}

	h.mu.Lock()
	prev := h.conns[hello.TabID]
	h.conns[hello.TabID] = c
	h.mu.Unlock()

	h.breakers.Forget(hello.TabID.String())
	h.metrics.IncWSConnections()
	if prev != nil {
		h.logger.Info("Tab reconnected, dropping previous connection",
			zap.String("tab_id", hello.TabID.String()))
		prev.close()
	}
	return nil
}

// detach forgets the tab when c is still its live connection.
func (h *Hub) detach(c *conn) {
	h.mu.Lock()
	current := h.conns[c.tab] == c
	if current {
		delete(h.conns, c.tab)
	}
	h.mu.Unlock()

	h.metrics.DecWSConnections()
	if current {
		h.breakers.Forget(c.tab.String())
		h.registry.NotifyTabClosed(c.tab)
	}
}

// dispatch runs one agent request. The connection's tab overrides any tab ID
// in the payload.
func (h *Hub) dispatch(ctx context.Context, tab id.TabID, env types.Envelope) (interface{}, error) {
	switch env.Type {
	case types.MsgReportCameraStatus:
		var req types.CameraStatusReport
		if err := decode(env.Payload, &req); err != nil {
			return nil, err
		}
		req.TabID = tab
		reply, err := h.registry.ReportCameraStatus(ctx, req)
		return reply, err

	case types.MsgCheckStatus:
		var req types.StatusQuery
		if err := decode(env.Payload, &req); err != nil {
			return nil, err
		}
		req.TabID = tab
		reply, err := h.registry.CheckStatus(ctx, req)
		return reply, err

	case types.MsgHeartbeat:
		var req types.Heartbeat
		if err := decode(env.Payload, &req); err != nil {
			return nil, err
		}
		req.TabID = tab
		reply, err := h.registry.Heartbeat(ctx, req)
		return reply, err

	case types.MsgNotifyFocusChange:
		var req types.FocusChange
		if err := decode(env.Payload, &req); err != nil {
			return nil, err
		}
		req.TabID = tab
		reply, err := h.registry.NotifyFocusChange(ctx, req)
		return reply, err

	case types.MsgGetSettings:
		if h.settings == nil {
			return nil, ErrNoSettings
		}
		var req getSettingsRequest
		if err := decode(env.Payload, &req); err != nil {
			return nil, err
		}
		values, err := h.settings.Get(ctx, req.Keys...)
		return values, err

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

type getSettingsRequest struct {
	Keys []string `json:"keys,omitempty"`
}

func decode(payload json.RawMessage, v interface{}) error {
	if len(payload) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}
