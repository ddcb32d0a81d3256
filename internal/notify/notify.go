// internal/notify/notify.go
package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/drmweyers/FitnessMealPlanner-sub005/internal/config"
)

// Level is the urgency of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Field is a labelled value shown with a notification.
type Field struct {
	Title string
	Value string
}

// Notification is a message for the humans watching the fixer.
type Notification struct {
	Title   string
	Message string
	Level   Level
	Fields  []Field
	URL     string
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// New returns a Slack notifier when a webhook is configured. Notifications are
// always logged as well.
func New(cfg config.NotifyConfig, logger *zap.Logger) Notifier {
	log := NewLogNotifier(logger)
	if cfg.SlackWebhookURL == "" {
		return log
	}
	return NewMulti(log, NewSlackNotifier(cfg.SlackWebhookURL, cfg.Channel))
}

// Multi sends to every notifier and joins their errors.
type Multi struct {
	notifiers []Notifier
}

// NewMulti creates a fan-out notifier.
func NewMulti(notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers}
}

func (m *Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) error { return nil }

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("notify")}
}

func (l *LogNotifier) Notify(_ context.Context, n Notification) error {
	fields := []zap.Field{zap.String("message", n.Message)}
	for _, f := range n.Fields {
		fields = append(fields, zap.String(f.Title, f.Value))
	}
	if n.URL != "" {
		fields = append(fields, zap.String("url", n.URL))
	}
	switch n.Level {
	case LevelError:
		l.logger.Error(n.Title, fields...)
	case LevelWarning:
		l.logger.Warn(n.Title, fields...)
	default:
		l.logger.Info(n.Title, fields...)
	}
	return nil
}
