package utils

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/cppla/jellyfish/config"
)

// ErrMailerNotConfigured is returned when no SMTP host or sender is set.
var ErrMailerNotConfigured = errors.New("smtp not configured")

const resetMailSubject = "Change password"

// MailSender delivers an HTML body to one recipient.
type MailSender interface {
	Send(ctx context.Context, to, html string) error
}

// SMTPMailer sends HTML mail through an SMTP relay.
type SMTPMailer struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	TLS      bool
	Subject  string
}

func NewSMTPMailer(cfg config.AppConfig) *SMTPMailer {
	return &SMTPMailer{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
		TLS:      cfg.SMTPTLS,
		Subject:  resetMailSubject,
	}
}

// Send delivers html to a single recipient.
func (m *SMTPMailer) Send(ctx context.Context, to, html string) error {
	if m.Host == "" || m.From == "" {
		return ErrMailerNotConfigured
	}
	addr := net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
	auth := smtp.PlainAuth("", m.Username, m.Password, m.Host)
	msg := m.buildMessage(to, html)

	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(15 * time.Second)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)
	c, err := smtp.NewClient(conn, m.Host)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer c.Close()
	// plain SMTP without TLS is not recommended
	if ok, _ := c.Extension("STARTTLS"); ok && m.TLS {
		if err := c.StartTLS(&tls.Config{ServerName: m.Host}); err != nil {
			return err
		}
	}
	if m.Username != "" {
		if err := c.Auth(auth); err != nil {
			return err
		}
	}
	if err := c.Mail(m.From); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	wc, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := wc.Write(msg); err != nil {
		_ = wc.Close()
		return err
	}
	if err := wc.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func (m *SMTPMailer) buildMessage(to, html string) []byte {
	fromName := m.FromName
	if fromName == "" {
		fromName = "Jellyfish"
	}
	subject := m.Subject
	if subject == "" {
		subject = resetMailSubject
	}
	headers := [][2]string{
		{"From", fmt.Sprintf("%s <%s>", mime.BEncoding.Encode("UTF-8", fromName), m.From)},
		{"To", to},
		{"Subject", mime.BEncoding.Encode("UTF-8", subject)},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/html; charset=UTF-8"},
	}
	var msg strings.Builder
	for _, h := range headers {
		msg.WriteString(h[0] + ": " + h[1] + "\r\n")
	}
	msg.WriteString("\r\n")
	msg.WriteString(html)
	return []byte(msg.String())
}

// defaultSendTimeout bounds one delivery attempt including dial, auth and DATA.
const defaultSendTimeout = 20 * time.Second

// BreakerMailer stops calling a failing relay for a while instead of stalling every reset request.
type BreakerMailer struct {
	next    MailSender
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
}

func NewBreakerMailer(next MailSender, log *zap.Logger) *BreakerMailer {
	if log == nil {
		log = zap.NewNop()
	}
	st := gobreaker.Settings{
		Name:        "smtp",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("mail circuit breaker state changed", zap.String("name", name), zap.Stringer("from", from), zap.Stringer("to", to))
		},
		IsSuccessful: func(err error) bool {
			// misconfiguration is not an outage
			return err == nil || errors.Is(err, ErrMailerNotConfigured)
		},
	}
	return &BreakerMailer{next: next, cb: gobreaker.NewCircuitBreaker(st), timeout: defaultSendTimeout}
}

// WithTimeout overrides the per-send deadline.
func (b *BreakerMailer) WithTimeout(d time.Duration) *BreakerMailer {
	if d > 0 {
		b.timeout = d
	}
	return b
}

// Send gives up with context.DeadlineExceeded once the timeout passes, even if
// the underlying sender ignores ctx. Timeouts count as breaker failures.
func (b *BreakerMailer) Send(ctx context.Context, to, html string) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	_, err := b.cb.Execute(func() (interface{}, error) {
		done := make(chan error, 1)
		go func() { done <- b.next.Send(ctx, to, html) }()
		select {
		case err := <-done:
			return nil, err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	return err
}

// State exposes the breaker state for health reporting.
func (b *BreakerMailer) State() gobreaker.State {
	return b.cb.State()
}
