// Package mailer is the boundary to the email-delivery collaborator.
//
// How confirmation mail actually reaches an inbox is outside this
// service's scope — deployments plug in their provider behind the
// Mailer interface. The shipped implementation writes the confirmation
// link to the log, which is exactly what local development needs.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
)

// Mailer delivers account emails.
type Mailer interface {
	SendConfirmation(ctx context.Context, email, name, confirmURL string) error
}

// LogMailer logs confirmation links instead of sending them.
type LogMailer struct {
	logger *slog.Logger
}

var _ Mailer = (*LogMailer)(nil)

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) SendConfirmation(ctx context.Context, email, name, confirmURL string) error {
	if _, err := url.Parse(confirmURL); err != nil {
		return fmt.Errorf("mailer: bad confirmation URL: %w", err)
	}
	m.logger.Info("confirmation email",
		slog.String("to", email),
		slog.String("name", name),
		slog.String("url", confirmURL),
	)
	return nil
}
