// Package email delivers notifications over SMTP.
package email

import (
	"context"

	"gopkg.in/mail.v2"

	"github.com/statsor/notify/internal/channel"
)

// Client sends notification emails. It implements channel.Sender; the
// recipient id is used as the destination address.
type Client struct {
	smtpHost string
	smtpPort int
	username string
	password string
	from     string
}

// NewClient creates a new email client.
func NewClient(smtpHost string, smtpPort int, username, password, from string) *Client {
	return &Client{
		smtpHost: smtpHost,
		smtpPort: smtpPort,
		username: username,
		password: password,
		from:     from,
	}
}

// Send delivers one message. The SMTP dial has no context support; the
// dispatcher bounds the call with its own timeout.
func (c *Client) Send(_ context.Context, msg channel.Message) error {
	message := mail.NewMessage()

	message.SetHeader("From", c.from)
	message.SetHeader("To", msg.RecipientID)
	message.SetHeader("Subject", msg.Title)
	message.SetHeader("X-Tracking-ID", msg.TrackingID.String())

	message.SetBody("text/plain", msg.Body)

	dialer := mail.NewDialer(c.smtpHost, c.smtpPort, c.username, c.password)

	return dialer.DialAndSend(message)
}
