package delivery

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"os"
	"strings"
	"time"

	"github.com/driphub/driphub/internal/config"
	"github.com/driphub/driphub/internal/models"
)

// Message is a fully resolved outbound email.
type Message struct {
	FromName  string
	FromEmail string
	To        string
	Subject   string
	HTMLBody  string
	TextBody  string
}

// Transport attempts delivery of one message and returns the transport
// message identifier. How it authenticates or connects is its own business.
type Transport interface {
	Send(ctx context.Context, msg Message) (messageID string, err error)
}

// SMTPTransport delivers through a single SMTP relay.
type SMTPTransport struct {
	addr     string
	host     string
	username string
	password string
	hello    string
	timeout  time.Duration
}

func NewSMTPTransport(cfg config.SMTPConfig, timeout time.Duration) *SMTPTransport {
	hello := cfg.Hello
	if hello == "" {
		hello, _ = os.Hostname()
	}
	return &SMTPTransport{
		addr:     net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		host:     cfg.Host,
		username: cfg.Username,
		password: cfg.Password,
		hello:    hello,
		timeout:  timeout,
	}
}

func (t *SMTPTransport) Send(ctx context.Context, msg Message) (string, error) {
	deadline := time.Now().Add(t.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	conn, err := net.DialTimeout("tcp", t.addr, t.timeout)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", t.addr, err)
	}
	conn.SetDeadline(deadline)

	client, err := smtp.NewClient(conn, t.host)
	if err != nil {
		conn.Close()
		return "", err
	}
	defer client.Close()

	if err := t.initClient(client); err != nil {
		return "", err
	}

	if err := client.Mail(msg.FromEmail); err != nil {
		return "", err
	}
	if err := client.Rcpt(msg.To); err != nil {
		return "", err
	}

	messageID := fmt.Sprintf("<%s@%s>", models.NewID("msg"), t.host)

	w, err := client.Data()
	if err != nil {
		return "", err
	}
	if _, err := w.Write(buildMIME(msg, messageID)); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	if err := client.Quit(); err != nil {
		return "", err
	}
	return messageID, nil
}

// initClient says hello, upgrades to tls if available and authenticates.
func (t *SMTPTransport) initClient(client *smtp.Client) error {
	if err := client.Hello(t.hello); err != nil {
		return err
	}

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: t.host}); err != nil {
			return err
		}
	}

	if t.username != "" {
		auth := smtp.PlainAuth("", t.username, t.password, t.host)
		if err := client.Auth(auth); err != nil {
			return err
		}
	}
	return nil
}

func buildMIME(msg Message, messageID string) []byte {
	// Display name and subject may carry non-ASCII text and must be
	// RFC 2047 encoded; QEncoding leaves plain ASCII values untouched.
	from := msg.FromEmail
	if msg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", msg.FromName), msg.FromEmail)
	}

	const boundary = "driphub-alt-boundary"

	lines := []string{
		"From: " + from,
		"To: " + msg.To,
		"Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject),
		"Message-ID: " + messageID,
		"Date: " + time.Now().UTC().Format(time.RFC1123Z),
		"MIME-Version: 1.0",
		"Content-Type: multipart/alternative; boundary=" + boundary,
		"",
		"--" + boundary,
		"Content-Type: text/plain; charset=utf-8",
		"",
		msg.TextBody,
		"",
		"--" + boundary,
		"Content-Type: text/html; charset=utf-8",
		"",
		msg.HTMLBody,
		"",
		"--" + boundary + "--",
		"",
	}
	return []byte(strings.Join(lines, "\r\n"))
}
