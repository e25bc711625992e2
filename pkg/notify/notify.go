// Package notify delivers job lifecycle notifications. The webhook
// channel posts a JSON payload to each configured URL; the email channel
// is a logical send operation behind an interface so any mail provider
// can back it.
package notify

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vortexdata/vortex/pkg/logger"
)

// Event is the notification payload.
type Event struct {
	JobID     string    `json:"jobId"`
	JobName   string    `json:"jobName"`
	TenantID  string    `json:"tenantId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Notifier delivers one event over one channel.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Config selects the channels for one job.
type Config struct {
	WebhookURLs     []string `json:"webhook_urls,omitempty" yaml:"webhook_urls,omitempty"`
	EmailRecipients []string `json:"email_recipients,omitempty" yaml:"email_recipients,omitempty"`
}

// Multi fans one event out to every notifier. Delivery is attempted on
// all channels even when an earlier one fails; the errors are joined.
type Multi struct {
	notifiers []Notifier
}

// NewMulti builds a fan-out notifier.
func NewMulti(notifiers ...Notifier) *Multi {
	return &Multi{notifiers: notifiers}
}

// Notify delivers the event on every channel.
func (m *Multi) Notify(ctx context.Context, event Event) error {
	var failures []string
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, event); err != nil {
			failures = append(failures, err.Error())
		}
	}
	if len(failures) > 0 {
		return &deliveryError{channels: failures}
	}
	return nil
}

type deliveryError struct {
	channels []string
}

func (e *deliveryError) Error() string {
	return "notification delivery failed: " + strings.Join(e.channels, "; ")
}

// LogNotifier writes events to the structured log. It is the default
// channel when no webhook or email configuration exists.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates the log channel.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: logger.Get().With(zap.String("component", "notifier"))}
}

// Notify logs the event.
func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	n.logger.Info("job notification",
		zap.String("job_id", event.JobID),
		zap.String("job_name", event.JobName),
		zap.String("tenant_id", event.TenantID),
		zap.String("status", event.Status),
		zap.Time("timestamp", event.Timestamp),
		zap.String("message", event.Message))
	return nil
}
