package http

import (
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxLogBatch = 200

// AgentLogEntry is one log line forwarded by a tab agent
type AgentLogEntry struct {
	ID        string                 `json:"id"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context"`
	Timestamp string                 `json:"timestamp"`
}

// AgentLogBatch is a batch of log lines from one tab
type AgentLogBatch struct {
	Source  string          `json:"source"` // "agent"
	TabID   string          `json:"tabId"`
	Entries []AgentLogEntry `json:"entries"`
}

// StreamLogs ingests agent logs into the coordinator log
func (h *Handlers) StreamLogs(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}
	if err := h.logBodies.ValidateSize(body); err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
		return
	}

	var req AgentLogBatch
	if err := sonic.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid log request format"})
		return
	}

	if req.Source != "agent" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid log source"})
		return
	}
	if len(req.Entries) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No log entries provided"})
		return
	}
	if len(req.Entries) > maxLogBatch {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Too many log entries"})
		return
	}

	logger := h.logger.Logger.Named("agent").With(zap.String("tab_id", req.TabID))
	for _, entry := range req.Entries {
		logAgentEntry(logger, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"entries_received":  len(req.Entries),
		"entries_processed": len(req.Entries),
		"timestamp":         time.Now().Unix(),
	})
}

func logAgentEntry(logger *zap.Logger, entry AgentLogEntry) {
	fields := make([]zap.Field, 0, len(entry.Context)+3)
	fields = append(fields,
		zap.String("agent_log_id", entry.ID),
		zap.String("source", "agent"),
		zap.String("agent_timestamp", entry.Timestamp),
	)

	for key, value := range entry.Context {
		switch v := value.(type) {
		case string:
			fields = append(fields, zap.String(key, v))
		case float64:
			fields = append(fields, zap.Float64(key, v))
		case bool:
			fields = append(fields, zap.Bool(key, v))
		default:
			fields = append(fields, zap.Any(key, v))
		}
	}

	switch entry.Level {
	case "error":
		logger.Error(entry.Message, fields...)
	case "warn":
		logger.Warn(entry.Message, fields...)
	case "debug", "verbose":
		logger.Debug(entry.Message, fields...)
	default:
		logger.Info(entry.Message, fields...)
	}
}
