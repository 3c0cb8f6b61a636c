package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/makroumprog/gaze-navigate-click-zoom/internal/api/ws"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/domain/coordinator"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/domain/settings"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/infrastructure/logging"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/infrastructure/monitoring"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/shared/id"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/shared/types"
	"github.com/makroumprog/gaze-navigate-click-zoom/internal/shared/utils"
)

const (
	serviceName    = "gazetech-coordinator"
	serviceVersion = "0.3.0"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	registry  *coordinator.Registry
	hub       *ws.Hub
	store     settings.Store
	metrics   *monitoring.Metrics
	logger    *logging.Logger
	bodies    *utils.JSONSizeValidator
	logBodies *utils.JSONSizeValidator
}

// NewHandlers creates a new handler set. hub and store may be nil.
func NewHandlers(registry *coordinator.Registry, hub *ws.Hub, store settings.Store) *Handlers {
	return &Handlers{
		registry:  registry,
		hub:       hub,
		store:     store,
		logger:    logging.NewNop(),
		bodies:    utils.NewJSONSizeValidator(utils.MaxSettingsSize),
		logBodies: utils.DefaultJSONValidator(),
	}
}

// WithMetrics adds metrics reporting to the handlers
func (h *Handlers) WithMetrics(metrics *monitoring.Metrics) *Handlers {
	h.metrics = metrics
	return h
}

// WithLogger sets the handler logger
func (h *Handlers) WithLogger(logger *logging.Logger) *Handlers {
	h.logger = logger.Named("http")
	return h
}

// Root handles health check
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": serviceName,
		"version": serviceVersion,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	connections := 0
	breakers := map[string]string{}
	if h.hub != nil {
		connections = h.hub.Connections()
		for tab, state := range h.hub.Breakers() {
			breakers[tab] = state.String()
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         "healthy",
		"uptime_seconds": h.metrics.UptimeSeconds(),
		"connections":    connections,
		"breakers":       breakers,
		"settings":       gin.H{"configured": h.store != nil},
	})
}

// Status returns the shared camera state
func (h *Handlers) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":                 h.registry.Snapshot(),
		"broadcast_interval_ms": h.registry.BroadcastInterval().Milliseconds(),
	})
}

// ListTabs lists every registered tab
func (h *Handlers) ListTabs(c *gin.Context) {
	tabs := h.registry.Tabs()

	c.JSON(http.StatusOK, gin.H{
		"tabs":  tabs,
		"count": len(tabs),
	})
}

// FocusTab records that a tab gained focus
func (h *Handlers) FocusTab(c *gin.Context) {
	h.focusChange(c, true)
}

// BlurTab records that a tab lost focus
func (h *Handlers) BlurTab(c *gin.Context) {
	h.focusChange(c, false)
}

func (h *Handlers) focusChange(c *gin.Context, focused bool) {
	tabID, ok := tabParam(c)
	if !ok {
		return
	}

	ack, err := h.registry.NotifyFocusChange(c.Request.Context(), types.FocusChange{
		TabID:   tabID,
		Focused: focused,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": ack.Success,
		"tab_id":  tabID,
		"focused": focused,
	})
}

// CloseTab forgets a tab
func (h *Handlers) CloseTab(c *gin.Context) {
	tabID, ok := tabParam(c)
	if !ok {
		return
	}

	_, known := h.registry.Tab(tabID)
	h.registry.NotifyTabClosed(tabID)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"tab_id":  tabID,
		"known":   known,
	})
}

// GetSettings returns the requested settings, or all of them without ?keys=
func (h *Handlers) GetSettings(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "settings store not configured"})
		return
	}

	values, err := h.store.Get(c.Request.Context(), splitKeys(c.Query("keys"))...)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, values)
}

// UpdateSettings merges a partial settings object and tells every tab
func (h *Handlers) UpdateSettings(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "settings store not configured"})
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if err := h.bodies.ValidateJSON(body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var partial settings.Values
	if err := sonic.Unmarshal(body, &partial); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Settings must be a JSON object"})
		return
	}

	ctx := c.Request.Context()
	values, err := h.store.Set(ctx, partial)
	switch {
	case errors.Is(err, settings.ErrUnknownKey), errors.Is(err, settings.ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.logger.Error("Failed to save settings", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	notified := h.registry.Broadcast(ctx, types.Directive{Action: types.ActionSettingsUpdated})
	h.logger.Info("Settings updated",
		zap.Strings("keys", partial.Keys()),
		zap.Int("tabs_notified", notified))

	c.JSON(http.StatusOK, values)
}

func tabParam(c *gin.Context) (id.TabID, bool) {
	raw := c.Param("id")
	if err := utils.ValidateID(raw, "tab_id", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return id.TabID(raw), true
}

func splitKeys(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			keys = append(keys, p)
		}
	}
	return keys
}
