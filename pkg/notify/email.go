package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vortexdata/vortex/pkg/logger"
)

// EmailSender is the external mail collaborator. No wire format is
// mandated here; SMTP, an API provider or a test double all fit.
type EmailSender interface {
	Send(ctx context.Context, recipients []string, subject, body string) error
}

// EmailNotifier renders events into mail and hands them to the sender.
type EmailNotifier struct {
	recipients []string
	sender     EmailSender
}

// NewEmailNotifier builds the email channel.
func NewEmailNotifier(recipients []string, sender EmailSender) *EmailNotifier {
	return &EmailNotifier{recipients: recipients, sender: sender}
}

// Notify sends the event to the configured recipients.
func (n *EmailNotifier) Notify(ctx context.Context, event Event) error {
	if len(n.recipients) == 0 {
		return nil
	}
	subject := fmt.Sprintf("[vortex] job %s: %s", event.JobName, event.Status)
	body := fmt.Sprintf("Job %s (%s) for tenant %s entered status %s at %s.\n\n%s",
		event.JobName, event.JobID, event.TenantID, event.Status,
		event.Timestamp.Format("2006-01-02 15:04:05 MST"), event.Message)
	return n.sender.Send(ctx, n.recipients, subject, body)
}

// LogEmailSender is the default sender; it logs the mail instead of
// delivering it.
type LogEmailSender struct {
	logger *zap.Logger
}

// NewLogEmailSender creates the logging sender.
func NewLogEmailSender() *LogEmailSender {
	return &LogEmailSender{logger: logger.Get().With(zap.String("component", "email"))}
}

// Send logs the message.
func (s *LogEmailSender) Send(ctx context.Context, recipients []string, subject, body string) error {
	s.logger.Info("email notification",
		zap.Strings("recipients", recipients),
		zap.String("subject", subject))
	return nil
}
