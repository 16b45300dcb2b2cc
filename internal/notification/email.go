package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/smukkama/aqi-monitor/internal/protocol"
	"github.com/smukkama/aqi-monitor/pkg/config"
)

// EmailSink delivers messages over SMTP
type EmailSink struct {
	config   *config.SMTPConfig
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	now      func() time.Time
}

// NewEmailSink creates a new email sink
func NewEmailSink(cfg *config.SMTPConfig) *EmailSink {
	return &EmailSink{config: cfg, sendMail: smtp.SendMail, now: time.Now}
}

// Enabled reports whether SMTP credentials are present
func (e *EmailSink) Enabled() bool {
	return e.config.Username != "" && e.config.Password != ""
}

func (e *EmailSink) Deliver(ctx context.Context, msg Message) error {
	if !e.Enabled() {
		return ErrNotConfigured
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	message := e.compose(subject(msg), stripMarkdown(msg.Text))
	auth := smtp.PlainAuth("", e.config.Username, e.config.Password, e.config.Host)
	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)

	// net/smtp has no context support; run it aside so ctx still bounds the wait.
	done := make(chan error, 1)
	go func() {
		done <- e.sendMail(addr, auth, e.config.From, []string{e.config.To}, []byte(message))
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send email: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to send email: %w", ctx.Err())
	}
}

func (e *EmailSink) compose(subject, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.config.From)
	fmt.Fprintf(&b, "To: %s\r\n", e.config.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", e.now().Format(time.RFC1123Z))
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.String()
}

// TestConnection dials the SMTP server
func (e *EmailSink) TestConnection() error {
	if e.config.Username == "" {
		return ErrNotConfigured
	}

	addr := fmt.Sprintf("%s:%d", e.config.Host, e.config.Port)
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()
	return nil
}

func subject(msg Message) string {
	switch msg.Kind {
	case protocol.KindAlert:
		return fmt.Sprintf("🚨 Air Quality Alert - %s", msg.Location)
	case protocol.KindDailyReport:
		return fmt.Sprintf("📊 Daily Air Quality Report - %s", msg.Location)
	case protocol.KindForecast:
		return fmt.Sprintf("🔮 Air Quality Forecast - %s", msg.Location)
	default:
		return "AQI Monitor Notification"
	}
}

// stripMarkdown drops the Telegram emphasis markers for plain text mail
func stripMarkdown(s string) string {
	return strings.ReplaceAll(s, "*", "")
}
