// Package mailer delivers validation codes to users out-of-band.
package mailer

import (
	"context"
	"log/slog"
)

// Mailer sends a validation code to a registered email address.
type Mailer interface {
	SendValidationCode(ctx context.Context, to, name, code string) error
}

// Log is a development fallback used when SMTP is not configured. It writes
// the code to the log instead of sending it. The code itself is not a
// long-lived secret, but this must never be enabled in production.
type Log struct {
	Logger *slog.Logger
}

func (l *Log) SendValidationCode(_ context.Context, to, name, code string) error {
	l.Logger.Info("validation code issued (smtp disabled)",
		"to", to, "name", name, "code", code)
	return nil
}
