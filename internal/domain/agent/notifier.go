package agent

import (
	"go.uber.org/zap"

	"github.com/makroumprog/gaze-navigate-click-zoom/internal/infrastructure/logging"
)

// Notifier surfaces user-visible camera state.
type Notifier interface {
	// PermissionHelp shows a dismissible notice explaining how to grant access.
	PermissionHelp(err error)
	// Restoring shows a transient "restoring camera" toast.
	Restoring(attempt int)
	// StatusIndicator turns the tracking indicator on or off.
	StatusIndicator(active bool)
}

// LogNotifier writes notices to the log.
type LogNotifier struct {
	logger *logging.Logger
}

// NewLogNotifier creates a notifier over logger.
func NewLogNotifier(logger *logging.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notice")}
}

func (n *LogNotifier) PermissionHelp(err error) {
	n.logger.Warn("Camera access denied; grant permission and retry", zap.Error(err))
}

func (n *LogNotifier) Restoring(attempt int) {
	n.logger.Info("Restoring camera", zap.Int("attempt", attempt))
}

func (n *LogNotifier) StatusIndicator(active bool) {
	n.logger.Debug("Status indicator", zap.Bool("active", active))
}
