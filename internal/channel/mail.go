package channel

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"giftminder/internal/compose"
	"giftminder/internal/domain"
	"giftminder/internal/notifyerr"
)

// MailDriver sends reminders over SMTP with implicit TLS (port 465 style).
type MailDriver struct {
	host     string
	port     int
	username string
	password string
	from     string
}

func NewMail(host string, port int, username, password, from string) *MailDriver {
	return &MailDriver{host: host, port: port, username: username, password: password, from: from}
}

func (d *MailDriver) Channel() domain.Channel { return domain.ChannelMail }

func (d *MailDriver) Send(ctx context.Context, target Target, p compose.Payload) (DeliveryResult, error) {
	to := strings.TrimSpace(target.Address)
	var problems []string
	if to == "" {
		problems = append(problems, "recipient address is empty")
	} else if !strings.Contains(to, "@") {
		problems = append(problems, fmt.Sprintf("recipient %q is not a mail address", to))
	}
	if p.Headline == "" {
		problems = append(problems, "payload headline is empty")
	}
	if len(problems) > 0 {
		return DeliveryResult{}, &notifyerr.ValidationError{Channel: domain.ChannelMail, Errors: problems}
	}

	msg := []byte(
		fmt.Sprintf("From: %s\r\n", d.from) +
			fmt.Sprintf("To: %s\r\n", to) +
			fmt.Sprintf("Subject: %s\r\n", p.Headline) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/plain; charset=\"utf-8\"\r\n" +
			"\r\n" +
			p.Body + "\r\n",
	)

	if err := d.deliver(ctx, to, msg); err != nil {
		return DeliveryResult{}, err
	}
	return DeliveryResult{Channel: domain.ChannelMail, Recipient: to, At: time.Now()}, nil
}

func (d *MailDriver) deliver(ctx context.Context, to string, msg []byte) error {
	addr := net.JoinHostPort(d.host, fmt.Sprintf("%d", d.port))

	// Implicit TLS from the first byte; the ctx deadline bounds the dial.
	dialer := &tls.Dialer{Config: &tls.Config{ServerName: d.host}}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &notifyerr.DeliveryError{Channel: domain.ChannelMail, Recipient: to, Err: err}
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, d.host)
	if err != nil {
		return &notifyerr.DeliveryError{Channel: domain.ChannelMail, Recipient: to, Err: err}
	}
	defer client.Quit()

	if d.username != "" {
		auth := smtp.PlainAuth("", d.username, d.password, d.host)
		if err := client.Auth(auth); err != nil {
			return &notifyerr.DeliveryError{Channel: domain.ChannelMail, Recipient: to, Err: err}
		}
	}
	if err := client.Mail(d.from); err != nil {
		return &notifyerr.DeliveryError{Channel: domain.ChannelMail, Recipient: to, Err: err}
	}
	if err := client.Rcpt(to); err != nil {
		// A rejected recipient will not start working on retry.
		return &notifyerr.DeliveryError{Channel: domain.ChannelMail, Recipient: to, Err: err, Permanent: true}
	}
	w, err := client.Data()
	if err != nil {
		return &notifyerr.DeliveryError{Channel: domain.ChannelMail, Recipient: to, Err: err}
	}
	if _, err := w.Write(msg); err != nil {
		return &notifyerr.DeliveryError{Channel: domain.ChannelMail, Recipient: to, Err: err}
	}
	if err := w.Close(); err != nil {
		return &notifyerr.DeliveryError{Channel: domain.ChannelMail, Recipient: to, Err: err}
	}
	return nil
}
