package micdrop

import (
	"sync/atomic"

	"github.com/gen2brain/beeep"
	"go.uber.org/zap"
)

// Notifier provides generic notification sending
type Notifier interface {
	Notify(title string, message string)
}

// ToastNotifier provides toast notifications through the desktop notification daemon
type ToastNotifier struct {
	logger   *zap.SugaredLogger
	disabled atomic.Bool
}

func NewToastNotifier(logger *zap.SugaredLogger) (*ToastNotifier, error) {
	logger = logger.Named("notifier")
	tn := &ToastNotifier{logger: logger}

	logger.Debug("Created toast notifier instance")

	return tn, nil
}

// SetEnabled toggles delivery, disabled notifications are only logged
func (tn *ToastNotifier) SetEnabled(enabled bool) {
	tn.disabled.Store(!enabled)
}

// Notify sends a toast notification
func (tn *ToastNotifier) Notify(title string, message string) {
	if tn.disabled.Load() {
		tn.logger.Debugw("Notifications disabled, not sending", "title", title, "message", message)
		return
	}

	tn.logger.Infow("Sending toast notification", "title", title, "message", message)

	if err := beeep.Notify(title, message, ""); err != nil {
		tn.logger.Errorw("Failed to send toast notification", "error", err)
	}
}
