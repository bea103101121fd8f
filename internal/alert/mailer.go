// Package alert emails operators when a lead gets stuck: delivery
// failed past the retry budget and the dispatch loop gave up.
package alert

import (
	"context"
	"fmt"
	"net"
	"time"

	gomail "github.com/wneessen/go-mail"

	"autotext_backend/internal/events"
	"autotext_backend/platform/config"
	"autotext_backend/platform/logger"
)

type Mailer struct {
	host     string
	port     int
	username string
	password string
	from     string
	to       string
	log      *logger.Logger
}

// NewMailer returns nil when alerting is not configured; a nil Mailer
// is safe to subscribe and simply does nothing.
func NewMailer(cfg config.AlertConfig, log *logger.Logger) *Mailer {
	if !cfg.IsAlertEnabled() {
		return nil
	}
	return &Mailer{
		host:     cfg.GetAlertSMTPHost(),
		port:     cfg.GetAlertSMTPPort(),
		username: cfg.GetAlertSMTPUsername(),
		password: cfg.GetAlertSMTPPassword(),
		from:     cfg.GetAlertFromAddress(),
		to:       cfg.GetAlertToAddress(),
		log:      log,
	}
}

// Subscribe attaches the mailer to the event bus.
func (m *Mailer) Subscribe(bus events.Bus) {
	bus.Subscribe(events.SendFailed{}.EventName(), events.HandlerFunc(func(ctx context.Context, e events.Event) error {
		failed, ok := e.(events.SendFailed)
		if !ok {
			return nil
		}
		return m.sendFailureAlert(ctx, failed)
	}))
}

func (m *Mailer) sendFailureAlert(ctx context.Context, e events.SendFailed) error {
	if m == nil {
		return nil
	}

	subject := fmt.Sprintf("Follow-up stuck: lead %s needs attention", e.LeadID)
	body := fmt.Sprintf(
		"Outbound SMS for lead %s (%s, stage %q) failed %d times.\n\nLast error: %s\n\nThe lead stays approved and will not be retried automatically.",
		e.LeadID, e.Phone, e.Stage, e.Attempts, e.Reason,
	)

	if err := m.send(ctx, subject, body); err != nil {
		m.log.Error("alert email failed", "lead_id", e.LeadID.String(), "error", err)
		return err
	}
	return nil
}

func (m *Mailer) send(ctx context.Context, subject, body string) error {
	msg := gomail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return fmt.Errorf("alert from: %w", err)
	}
	if err := msg.To(m.to); err != nil {
		return fmt.Errorf("alert to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextPlain, body)

	client, err := gomail.NewClient(m.host,
		gomail.WithPort(m.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(m.username),
		gomail.WithPassword(m.password),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15*time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	)
	if err != nil {
		return fmt.Errorf("alert smtp client: %w", err)
	}

	return client.DialAndSendWithContext(ctx, msg)
}
