package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/securewatch/securewatch/internal/circuitbreaker"
	"github.com/securewatch/securewatch/internal/incidents"
	"github.com/securewatch/securewatch/internal/retry"
)

// SMTPConfig holds relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Enabled reports whether enough is configured to send mail.
func (c SMTPConfig) Enabled() bool {
	return c.Host != "" && c.From != ""
}

func (c SMTPConfig) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SMTPMailer sends HTML incident email through an SMTP relay.
type SMTPMailer struct {
	cfg         SMTPConfig
	breaker     *circuitbreaker.Breaker
	policy      retry.Policy
	dialTimeout time.Duration
}

// NewSMTPMailer creates a mailer. breaker may be shared with other
// destinations; it is keyed by relay address.
func NewSMTPMailer(cfg SMTPConfig, breaker *circuitbreaker.Breaker) *SMTPMailer {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if breaker == nil {
		breaker = circuitbreaker.New(5, time.Minute)
	}
	return &SMTPMailer{
		cfg:         cfg,
		breaker:     breaker,
		policy:      retry.Default,
		dialTimeout: 10 * time.Second,
	}
}

// SendIncident renders and sends the email, retrying transient SMTP failures.
// 5xx replies from the relay are not retried.
func (m *SMTPMailer) SendIncident(ctx context.Context, to string, rec *incidents.Record, kind Kind) error {
	msg, err := buildMessage(m.cfg.From, to, rec, kind)
	if err != nil {
		return err
	}
	key := "smtp://" + m.cfg.addr()
	return m.breaker.Execute(key, func() error {
		return retry.Do(ctx, m.policy, func(ctx context.Context) error {
			err := m.send(ctx, to, msg)
			var tpErr *textproto.Error
			if errors.As(err, &tpErr) && tpErr.Code >= 500 {
				return retry.Permanent(err)
			}
			return err
		})
	})
}

func (m *SMTPMailer) send(ctx context.Context, to string, msg []byte) error {
	dialer := &net.Dialer{Timeout: m.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", m.cfg.addr())
	if err != nil {
		return fmt.Errorf("connect smtp relay: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer func() { _ = client.Close() }()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	if m.cfg.Username != "" {
		auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(m.cfg.From); err != nil {
		return fmt.Errorf("smtp sender: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp recipient: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	_ = client.Quit() // message already accepted
	return nil
}

var emailTemplate = template.Must(template.New("incident").Parse(`<html>
  <body style="font-family: Arial, sans-serif;">
    <div style="padding: 20px; border: 1px solid #eee; border-radius: 10px;">
      <h2 style="color: {{.Color}};">SecureWatch Notification</h2>
      <p>{{.Intro}}</p>
      <ul>
        <li><strong>Result:</strong> {{.Reason}}</li>
        <li><strong>Location:</strong> {{.Location}}</li>
        <li><strong>IP:</strong> {{.IP}}</li>
        <li><strong>Time:</strong> {{.Time}}</li>
        <li><strong>Status:</strong> <span style="color:{{.Color}}; font-weight:bold;">{{.Status}}</span></li>
      </ul>
      <p style="color:#666; font-size: 12px;">Incident {{.ID}}</p>
    </div>
  </body>
</html>
`))

type emailView struct {
	Color, Intro, Reason, Location, IP, Time, Status, ID string
}

func subjectFor(rec *incidents.Record, kind Kind) string {
	if kind == KindSafeLogin {
		return "New Login: SecureWatch Access Granted"
	}
	return "Security Alert: " + string(rec.Reason)
}

func buildMessage(from, to string, rec *incidents.Record, kind Kind) ([]byte, error) {
	view := emailView{
		Color:    "#d9534f",
		Intro:    "Suspicious login attempt blocked.",
		Reason:   string(rec.Reason),
		Location: rec.Location,
		IP:       rec.IP,
		Time:     rec.Time,
		Status:   "BLOCKED",
		ID:       rec.ID,
	}
	if kind == KindSafeLogin {
		view.Color = "#05cd99"
		view.Intro = "A new login was detected on your account."
		view.Status = "SUCCESS"
	}

	var body bytes.Buffer
	if err := emailTemplate.Execute(&body, view); err != nil {
		return nil, fmt.Errorf("render email: %w", err)
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subjectFor(rec, kind)))
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&msg, "X-SecureWatch-Incident: %s\r\n", rec.ID)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(strings.ReplaceAll(body.String(), "\n", "\r\n"))
	return []byte(msg.String()), nil
}
