// Package notifier implements the best-effort operator-alert collaborator
// consumed by the scheduler (§6 Notifier contract): immediate fatal
// alerts and debounced workload-drain notifications. Ported from the
// original pipeline's NotificationSystem, trimmed to the channels that
// translate to a headless Go service (log + email); desktop toast/sound
// are native-OS concerns the original only attempted best-effort too.
package notifier

import (
	"context"
	"fmt"
	"net/smtp"
	"time"

	"github.com/naonao34567890/orcapipe/internal/common"
)

const pollInterval = 5 * time.Second

// Notifier implements interfaces.Notifier.
type Notifier struct {
	mail   common.MailConfig
	logger *common.Logger
}

// New creates a Notifier. mail may be its zero value to disable email.
func New(mail common.MailConfig, logger *common.Logger) *Notifier {
	return &Notifier{mail: mail, logger: logger}
}

// SendError is a best-effort immediate alert for fatal outcomes.
func (n *Notifier) SendError(message string) {
	n.logger.Error().Msg("ALERT: " + message)
	n.sendMail("orcapipe ERROR", message)
}

// WatchPendingCount polls countFn roughly every 5 seconds and emits a
// notification on a downward crossing of threshold — prior poll above
// threshold, current poll at or below it — debounced by
// debounceSeconds. It blocks until ctx is cancelled.
func (n *Notifier) WatchPendingCount(ctx context.Context, countFn func() int, threshold int, debounceSeconds int) {
	debounce := time.Duration(debounceSeconds) * time.Second
	var lastNotified time.Time
	prior := countFn()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := countFn()
			crossed := prior > threshold && current <= threshold
			if crossed && time.Since(lastNotified) > debounce {
				message := fmt.Sprintf("orcapipe workload drained to %d pending (threshold %d)", current, threshold)
				n.logger.Info().Int("pending", current).Int("threshold", threshold).Msg(message)
				n.sendMail("orcapipe workload drained", message)
				lastNotified = time.Now()
			}
			prior = current
		}
	}
}

// sendMail is a best-effort SMTP notification; failures are logged, never fatal.
func (n *Notifier) sendMail(subject, body string) {
	if n.mail.User == "" || n.mail.AppPassword == "" || n.mail.Recipient == "" {
		return
	}

	msg := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		n.mail.User, n.mail.Recipient, subject, body))

	auth := smtp.PlainAuth("", n.mail.User, n.mail.AppPassword, "smtp.gmail.com")
	err := smtp.SendMail("smtp.gmail.com:587", auth, n.mail.User, []string{n.mail.Recipient}, msg)
	if err != nil {
		n.logger.Warn().Err(err).Msg("Failed to send email notification")
		return
	}
	n.logger.Debug().Msg("Email notification sent")
}
