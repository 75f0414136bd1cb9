package mailer

import (
	"context"

	"github.com/snackychef/auth-service/internal/util"
)

// LogSender writes messages to the log instead of delivering them. Used
// in development when SMTP is not configured.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, to, subject, htmlBody string) error {
	util.Info("email (not delivered, SMTP unconfigured)",
		util.String("to", to),
		util.String("subject", subject),
		util.String("body", htmlBody))
	return nil
}
