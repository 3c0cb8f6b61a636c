package http

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap/zapcore"
)

// LogShipper is a zapcore.Core that queues an agent's log entries and posts
// them to the coordinator's /logs endpoint in batches. Tee it next to the
// agent's normal core.
type LogShipper struct {
	client *resty.Client
	tabID  string
	level  zapcore.LevelEnabler
	fields []zapcore.Field
	queue  *logQueue
}

// logQueue is shared by every core derived through With.
type logQueue struct {
	mu      sync.Mutex
	entries []AgentLogEntry // Protected by mu
	dropped int             // Protected by mu
}

// NewLogShipper ships entries at or above level for tabID to the coordinator
// at baseURL.
func NewLogShipper(baseURL, tabID string, level zapcore.LevelEnabler) *LogShipper {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(5*time.Second).
		SetHeader("User-Agent", "GazeTech-Agent/1.0").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)

	return &LogShipper{
		client: client,
		tabID:  tabID,
		level:  level,
		queue:  &logQueue{},
	}
}

// Enabled implements zapcore.Core.
func (s *LogShipper) Enabled(lvl zapcore.Level) bool {
	return s.level.Enabled(lvl)
}

// With implements zapcore.Core.
func (s *LogShipper) With(fields []zapcore.Field) zapcore.Core {
	clone := *s
	clone.fields = append(append([]zapcore.Field(nil), s.fields...), fields...)
	return &clone
}

// Check implements zapcore.Core.
func (s *LogShipper) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if s.Enabled(ent.Level) {
		return ce.AddCore(ent, s)
	}
	return ce
}

// Write queues one entry. The oldest entries are dropped once a full batch is
// waiting.
func (s *LogShipper) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range s.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	if ent.LoggerName != "" {
		enc.AddString("logger", ent.LoggerName)
	}

	entry := AgentLogEntry{
		ID:        uuid.NewString(),
		Level:     ent.Level.String(),
		Message:   ent.Message,
		Context:   enc.Fields,
		Timestamp: ent.Time.UTC().Format(time.RFC3339Nano),
	}

	q := s.queue
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) >= maxLogBatch {
		q.entries = q.entries[1:]
		q.dropped++
	}
	q.entries = append(q.entries, entry)
	return nil
}

// Sync implements zapcore.Core by flushing the queue.
func (s *LogShipper) Sync() error {
	return s.Flush(context.Background())
}

// Pending returns the number of queued entries.
func (s *LogShipper) Pending() int {
	s.queue.mu.Lock()
	defer s.queue.mu.Unlock()
	return len(s.queue.entries)
}

// Flush posts the queued entries. Entries that fail to send are lost.
func (s *LogShipper) Flush(ctx context.Context) error {
	q := s.queue
	q.mu.Lock()
	entries := q.entries
	dropped := q.dropped
	q.entries, q.dropped = nil, 0
	q.mu.Unlock()

	if len(entries) == 0 {
		return nil
	}
	if dropped > 0 {
		entries[0].Context = withDropped(entries[0].Context, dropped)
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(AgentLogBatch{Source: "agent", TabID: s.tabID, Entries: entries}).
		Post("/logs")
	if err != nil {
		return fmt.Errorf("ship logs: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("ship logs: %s", resp.Status())
	}
	return nil
}

// Run flushes every interval until ctx is cancelled, then flushes once more.
func (s *LogShipper) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = s.Flush(final)
			cancel()
			return
		case <-ticker.C:
			_ = s.Flush(ctx)
		}
	}
}

func withDropped(ctx map[string]interface{}, dropped int) map[string]interface{} {
	if ctx == nil {
		ctx = make(map[string]interface{}, 1)
	}
	ctx["dropped_before"] = dropped
	return ctx
}
