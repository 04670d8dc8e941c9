// Package outbound builds and dispatches reply mail over SMTP, gated by the
// mailbox automation approval state.
package outbound

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/yuin/goldmark"
)

// SMTPConfig carries one mailbox's outbound connection parameters with the
// password already unsealed.
type SMTPConfig struct {
	Host     string
	Port     int
	UseTLS   bool
	Username string
	Password string
	AuthType string // plain (default) or login
}

// Mail is one outbound message. Body is treated as markdown; the HTML
// alternative is rendered from it.
type Mail struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Sender delivers one mail. Implementations must respect ctx cancellation
// at least between protocol steps.
type Sender interface {
	Send(ctx context.Context, cfg SMTPConfig, mail *Mail) error
}

// SMTPSender is the production Sender backed by net/smtp.
type SMTPSender struct {
	dialTimeout time.Duration
	sendTimeout time.Duration
}

func NewSMTPSender(dialTimeout, sendTimeout time.Duration) *SMTPSender {
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	if sendTimeout <= 0 {
		sendTimeout = 60 * time.Second
	}
	return &SMTPSender{dialTimeout: dialTimeout, sendTimeout: sendTimeout}
}

// Send dials, authenticates and transmits the message. Implicit TLS is used
// on port 465, STARTTLS on other ports when TLS is requested.
func (s *SMTPSender) Send(ctx context.Context, cfg SMTPConfig, mail *Mail) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	client, conn, err := s.dial(cfg)
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	defer client.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(s.sendTimeout))
	}

	if cfg.Username != "" && cfg.Password != "" {
		auth := s.authFor(cfg)
		if err := client.Auth(auth); err != nil {
			// Some servers only advertise LOGIN.
			if cfg.AuthType == "" {
				if retryErr := client.Auth(&loginAuth{username: cfg.Username, password: cfg.Password}); retryErr == nil {
					err = nil
				}
			}
			if err != nil {
				return fmt.Errorf("smtp auth: %w", err)
			}
		}
	}

	if err := client.Mail(mail.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(mail.To); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	payload, err := BuildMessage(mail)
	if err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp close data: %w", err)
	}
	return client.Quit()
}

func (s *SMTPSender) dial(cfg SMTPConfig) (*smtp.Client, net.Conn, error) {
	addr := cfg.Host + ":" + strconv.Itoa(cfg.Port)
	tlsConfig := &tls.Config{ServerName: cfg.Host}

	if cfg.UseTLS && cfg.Port == 465 {
		conn, err := tls.DialWithDialer(&net.Dialer{Timeout: s.dialTimeout}, "tcp", addr, tlsConfig)
		if err != nil {
			return nil, nil, err
		}
		client, err := smtp.NewClient(conn, cfg.Host)
		if err != nil {
			conn.Close()
			return nil, nil, err
		}
		return client, conn, nil
	}

	conn, err := net.DialTimeout("tcp", addr, s.dialTimeout)
	if err != nil {
		return nil, nil, err
	}
	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if cfg.UseTLS {
		if err := client.StartTLS(tlsConfig); err != nil {
			client.Close()
			return nil, nil, err
		}
	}
	return client, conn, nil
}

func (s *SMTPSender) authFor(cfg SMTPConfig) smtp.Auth {
	if cfg.AuthType == "login" {
		return &loginAuth{username: cfg.Username, password: cfg.Password}
	}
	return smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
}

// BuildMessage renders the RFC822 payload: a multipart/alternative body with
// the markdown source as text/plain and its rendering as text/html.
func BuildMessage(mail *Mail) ([]byte, error) {
	if mail.From == "" || mail.To == "" {
		return nil, errors.New("mail requires sender and recipient")
	}

	var html bytes.Buffer
	if err := goldmark.Convert([]byte(mail.Body), &html); err != nil {
		return nil, fmt.Errorf("render html body: %w", err)
	}

	var buf bytes.Buffer
	mp := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "From: %s\r\n", mail.From)
	fmt.Fprintf(&buf, "To: %s\r\n", mail.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mail.Subject)
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%q\r\n", mp.Boundary())
	fmt.Fprintf(&buf, "\r\n")

	if err := writePart(mp, "text/plain; charset=utf-8", mail.Body); err != nil {
		return nil, err
	}
	if err := writePart(mp, "text/html; charset=utf-8", html.String()); err != nil {
		return nil, err
	}
	if err := mp.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writePart(mp *multipart.Writer, contentType, body string) error {
	header := map[string][]string{
		"Content-Type":              {contentType},
		"Content-Transfer-Encoding": {"quoted-printable"},
	}
	part, err := mp.CreatePart(header)
	if err != nil {
		return err
	}
	qp := quotedprintable.NewWriter(part)
	if _, err := qp.Write([]byte(body)); err != nil {
		return err
	}
	return qp.Close()
}

// loginAuth implements SMTP LOGIN authentication.
type loginAuth struct {
	username, password string
}

func (a *loginAuth) Start(_ *smtp.ServerInfo) (string, []byte, error) {
	return "LOGIN", []byte{}, nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if more {
		switch string(fromServer) {
		case "Username:":
			return []byte(a.username), nil
		case "Password:":
			return []byte(a.password), nil
		default:
			return nil, fmt.Errorf("unexpected server challenge: %s", fromServer)
		}
	}
	return nil, nil
}
