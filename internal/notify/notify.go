package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	_ "embed"
	"fmt"
	"html/template"
	"internship-reporter/internal/components/assert"
	"internship-reporter/internal/components/telemetry"
	"internship-reporter/internal/portal"
	"net"
	"net/smtp"
	"time"

	"github.com/jordan-wright/email"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("internship-reporter/notify")

const (
	report_email_push = "email.push"
	report_log_push   = "log.push"
)

// implicitTlsPort is the SMTPS port, every other port is spoken to in plain
// SMTP (with STARTTLS when the server offers it).
const implicitTlsPort = 465

const defaultTimeout = 30 * time.Second

//go:embed template.html
var templateHtml string

var bodyTemplate = template.Must(template.New("notification").Parse(templateHtml))

// Render returns the HTML body of the notification email.
func Render(n portal.Notification) ([]byte, error) {
	buff := bytes.NewBuffer(nil)
	err := bodyTemplate.Execute(buff, n)
	if err != nil {
		return nil, err
	}
	return buff.Bytes(), nil
}

type SmtpConfig struct {
	Server   string
	Port     int
	Sender   string
	Password string
	Receiver string
	// Timeout bounds a whole delivery, from dialing to QUIT.
	Timeout time.Duration
}

func (c SmtpConfig) addr() string {
	return net.JoinHostPort(c.Server, fmt.Sprint(c.Port))
}

func (c SmtpConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return defaultTimeout
	}
	return c.Timeout
}

// Email pushes notifications to a single receiver over SMTP.
type Email struct {
	config SmtpConfig
	tel    telemetry.API
}

func NewEmail(config SmtpConfig, tel telemetry.API) Email {
	assert.NotEmptyStr(config.Server)
	assert.NotEmptyStr(config.Receiver)
	assert.NotNil(tel)
	return Email{
		config: config,
		tel:    telemetry.NewScopedAPI("notify", tel),
	}
}

func (e Email) message(n portal.Notification) (*email.Email, error) {
	body, err := Render(n)
	if err != nil {
		return nil, err
	}

	mail := email.NewEmail()
	mail.From = e.config.Sender
	mail.To = []string{e.config.Receiver}
	mail.Subject = n.Title
	mail.HTML = body
	mail.Text = []byte(fmt.Sprintf("%s\n\n%s\n\n%s", n.Title, n.Content, n.URL))
	return mail, nil
}

// send speaks SMTP itself instead of going through mail.Send, which dials
// without a deadline and ignores ctx. A silent server would otherwise hold
// the cycle forever.
func (e Email) send(ctx context.Context, mail *email.Email) error {
	raw, err := mail.Bytes()
	if err != nil {
		return err
	}

	deadline := time.Now().Add(e.config.timeout())
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	dialer := net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "tcp", e.config.addr())
	if err != nil {
		return err
	}
	defer conn.Close()
	err = conn.SetDeadline(deadline)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	tlsConfig := &tls.Config{ServerName: e.config.Server}
	implicitTls := e.config.Port == implicitTlsPort
	if implicitTls {
		conn = tls.Client(conn, tlsConfig)
	}

	client, err := smtp.NewClient(conn, e.config.Server)
	if err != nil {
		return fmt.Errorf("greeting: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok && !implicitTls {
		err = client.StartTLS(tlsConfig)
		if err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	// servers that do not offer AUTH (relays, local test servers) are
	// spoken to without it
	if ok, _ := client.Extension("AUTH"); ok && e.config.Password != "" {
		auth := smtp.PlainAuth("", e.config.Sender, e.config.Password, e.config.Server)
		err = client.Auth(auth)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	err = client.Mail(e.config.Sender)
	if err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, to := range mail.To {
		err = client.Rcpt(to)
		if err != nil {
			return fmt.Errorf("rcpt to %s: %w", to, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	_, err = w.Write(raw)
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	err = w.Close()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	return client.Quit()
}

// Push sends the notification. Failures are reported and swallowed, a
// notification never changes the outcome of what it is about.
func (e Email) Push(ctx context.Context, n portal.Notification) {
	ctx, span := tracer.Start(ctx, "Push")
	defer span.End()

	mail, err := e.message(n)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to render email")
		e.tel.ReportBroken(report_email_push, fmt.Errorf("render: %w", err))
		return
	}

	err = e.send(ctx, mail)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send email")
		e.tel.ReportBroken(report_email_push, err, e.config.Receiver)
		return
	}
	e.tel.ReportDebug(report_email_push, "sent", n.Title, "to", e.config.Receiver)
}

// Log only reports notifications, it is used when no receiver is configured.
type Log struct {
	tel telemetry.API
}

func NewLog(tel telemetry.API) Log {
	assert.NotNil(tel)
	return Log{tel: telemetry.NewScopedAPI("notify", tel)}
}

func (l Log) Push(_ context.Context, n portal.Notification) {
	l.tel.ReportWarning(report_log_push, "no email receiver configured", n.Title, n.Content)
}
