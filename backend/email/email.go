package email

import (
	"context"
	"fmt"
	"html"

	"github.com/apex/log"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Message is one outbound notification. ImageURL, when set, is appended
// to the HTML body as a link.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
	ImageURL string
}

// Sender delivers notifications.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

type Config struct {
	APIKey    string
	FromName  string
	FromEmail string
	// Host overrides the SendGrid API host.
	Host string
}

type SendGridSender struct {
	cfg Config
}

func NewSendGridSender(cfg Config) *SendGridSender {
	return &SendGridSender{cfg: cfg}
}

// newClient returns a fresh client per message: sendgrid.Client keeps the
// request body on itself and is not safe for concurrent sends.
func (s *SendGridSender) newClient() *sendgrid.Client {
	request := sendgrid.GetRequest(s.cfg.APIKey, "/v3/mail/send", s.cfg.Host)
	request.Method = "POST"
	return &sendgrid.Client{Request: request}
}

func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("email to %q: empty recipient", msg.Subject)
	}
	from := mail.NewEmail(s.cfg.FromName, s.cfg.FromEmail)
	to := mail.NewEmail(msg.To, msg.To)

	htmlContent := withImageLink(msg.HTMLBody, msg.ImageURL)
	plainTextContent := msg.TextBody
	if plainTextContent == "" {
		plainTextContent = msg.Subject
	}
	if msg.ImageURL != "" {
		plainTextContent += "\n\nView detection image: " + msg.ImageURL
	}

	message := mail.NewV3Mail()
	message.SetFrom(from)
	message.Subject = msg.Subject

	p := mail.NewPersonalization()
	p.AddTos(to)
	message.AddPersonalizations(p)

	message.AddContent(mail.NewContent("text/plain", plainTextContent))
	message.AddContent(mail.NewContent("text/html", htmlContent))

	response, err := s.newClient().SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send email to %s: %w", msg.To, err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("failed to send email to %s: status %d: %s", msg.To, response.StatusCode, response.Body)
	}
	log.Infof("Email %q sent to %s, status %d", msg.Subject, msg.To, response.StatusCode)
	return nil
}

func withImageLink(body, imageURL string) string {
	if imageURL == "" {
		return body
	}
	return body + fmt.Sprintf(`<p><a href="%s" target="_blank">View detection image</a></p>`, html.EscapeString(imageURL))
}

// LogSender only logs messages. Used when no SendGrid key is configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, msg Message) error {
	log.WithFields(log.Fields{
		"to":        msg.To,
		"subject":   msg.Subject,
		"has_image": msg.ImageURL != "",
	}).Info("Email delivery disabled, dropping message")
	return nil
}
