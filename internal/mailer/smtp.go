package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// SMTP sends validation emails over plain SMTP with STARTTLS, or implicit
// TLS when the port is 465.
type SMTP struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	CodeTTL  time.Duration
}

func (m *SMTP) SendValidationCode(ctx context.Context, to, name, code string) error {
	msg := m.buildMessage(to, name, code)
	addr := net.JoinHostPort(m.Host, strconv.Itoa(m.Port))
	auth := smtp.PlainAuth("", m.Username, m.Password, m.Host)

	if m.Port == 465 {
		return m.sendTLS(addr, auth, to, msg)
	}

	c, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("smtp dial: %w", err)
	}
	defer c.Close()
	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: m.Host}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}
	return m.submit(c, auth, to, msg)
}

func (m *SMTP) sendTLS(addr string, auth smtp.Auth, to, msg string) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: m.Host})
	if err != nil {
		return fmt.Errorf("smtp tls dial: %w", err)
	}
	defer conn.Close()
	c, err := smtp.NewClient(conn, m.Host)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	defer c.Close()
	return m.submit(c, auth, to, msg)
}

func (m *SMTP) submit(c *smtp.Client, auth smtp.Auth, to, msg string) error {
	if err := c.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := c.Mail(m.From); err != nil {
		return fmt.Errorf("smtp mail: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt: %w", err)
	}
	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := wc.Write([]byte(msg)); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("smtp close: %w", err)
	}
	return c.Quit()
}

func (m *SMTP) buildMessage(to, name, code string) string {
	minutes := int(m.CodeTTL.Minutes())
	var b strings.Builder
	fmt.Fprintf(&b, "From: Stockdash <%s>\r\n", m.From)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	b.WriteString("Subject: Verify Your Email\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	fmt.Fprintf(&b, `<h1>Hello %s,</h1>
<p>Thank you for registering. Please use the following code to verify your email:</p>
<h2 style="background-color: #f5f5f5; padding: 10px; text-align: center; font-size: 24px;">%s</h2>
<p>This code will expire in %d minutes.</p>
`, name, code, minutes)
	return b.String()
}
