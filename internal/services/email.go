package services

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"mime"
	"net/mail"
	"net/smtp"
	"strings"
	"time"

	"advisorcrm/internal/config"

	"github.com/google/uuid"
)

// EmailSender delivers one email message.
type EmailSender interface {
	SendEmail(ctx context.Context, msg *EmailMessage) error
}

// EmailService sends mail through an SMTP relay
type EmailService struct {
	cfg      config.MailConfig
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// EmailMessage represents an email to send. From falls back to the
// configured sender. At least one of Text or HTML must be set.
type EmailMessage struct {
	From    string
	To      []string
	CC      []string
	Subject string
	Text    string
	HTML    string
}

// NewEmailService creates a new email service
func NewEmailService(cfg config.MailConfig) *EmailService {
	return &EmailService{cfg: cfg, sendMail: smtp.SendMail}
}

// SendEmail validates the message and hands it to the SMTP relay
func (s *EmailService) SendEmail(ctx context.Context, msg *EmailMessage) error {
	if s.cfg.SMTPHost == "" {
		return fmt.Errorf("%w: SMTP not configured", ErrExternalAPI)
	}
	if len(msg.To) == 0 {
		return validationError("at least one recipient is required")
	}
	if strings.TrimSpace(msg.Subject) == "" {
		return validationError("subject is required")
	}
	if strings.TrimSpace(msg.Text) == "" && strings.TrimSpace(msg.HTML) == "" {
		return validationError("message body is required")
	}

	from := s.cfg.FromEmail
	if strings.TrimSpace(msg.From) != "" {
		from = strings.TrimSpace(msg.From)
	}
	fromAddr, err := mail.ParseAddress(from)
	if err != nil {
		return validationError("invalid sender %q", from)
	}
	if fromAddr.Name == "" && from == s.cfg.FromEmail {
		fromAddr.Name = s.cfg.FromName
	}

	recipients := make([]string, 0, len(msg.To)+len(msg.CC))
	to, err := parseAddressList(msg.To)
	if err != nil {
		return err
	}
	cc, err := parseAddressList(msg.CC)
	if err != nil {
		return err
	}
	for _, a := range append(to, cc...) {
		recipients = append(recipients, a.Address)
	}

	raw := buildMessage(fromAddr, to, cc, msg.Subject, msg.Text, msg.HTML)

	if err := ctx.Err(); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	var auth smtp.Auth
	if s.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	}

	if err := s.sendMail(addr, auth, fromAddr.Address, recipients, raw); err != nil {
		return fmt.Errorf("%w: failed to send email: %v", ErrExternalAPI, err)
	}
	return nil
}

func parseAddressList(in []string) ([]*mail.Address, error) {
	out := make([]*mail.Address, 0, len(in))
	for _, raw := range in {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		a, err := mail.ParseAddress(raw)
		if err != nil {
			return nil, validationError("invalid address %q", raw)
		}
		out = append(out, a)
	}
	return out, nil
}

func joinAddresses(list []*mail.Address) string {
	parts := make([]string, len(list))
	for i, a := range list {
		parts[i] = a.String()
	}
	return strings.Join(parts, ", ")
}

// buildMessage renders an RFC 5322 message with CRLF line endings. When both
// bodies are present they go out as multipart/alternative.
func buildMessage(from *mail.Address, to, cc []*mail.Address, subject, text, html string) []byte {
	var msg bytes.Buffer
	header := func(k, v string) {
		msg.WriteString(k + ": " + v + "\r\n")
	}

	header("From", from.String())
	header("To", joinAddresses(to))
	if len(cc) > 0 {
		header("Cc", joinAddresses(cc))
	}
	header("Subject", mime.QEncoding.Encode("utf-8", stripCRLF(subject)))
	header("Date", time.Now().Format(time.RFC1123Z))
	header("Message-ID", fmt.Sprintf("<%s@advisorcrm>", uuid.New().String()))
	header("MIME-Version", "1.0")

	switch {
	case text != "" && html != "":
		boundary := "alt-" + uuid.New().String()
		header("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", boundary))
		msg.WriteString("\r\n")
		writePart(&msg, boundary, "text/plain; charset=UTF-8", text)
		writePart(&msg, boundary, "text/html; charset=UTF-8", html)
		msg.WriteString("--" + boundary + "--\r\n")
	case html != "":
		header("Content-Type", "text/html; charset=UTF-8")
		msg.WriteString("\r\n" + crlf(html))
	default:
		header("Content-Type", "text/plain; charset=UTF-8")
		msg.WriteString("\r\n" + crlf(text))
	}

	return msg.Bytes()
}

func writePart(msg *bytes.Buffer, boundary, contentType, body string) {
	msg.WriteString("--" + boundary + "\r\n")
	msg.WriteString("Content-Type: " + contentType + "\r\n\r\n")
	msg.WriteString(crlf(body) + "\r\n")
}

func crlf(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\n", "\r\n")
}

func stripCRLF(s string) string {
	return strings.NewReplacer("\r", "", "\n", " ").Replace(s)
}

// SIPReminderData feeds the SIP reminder templates
type SIPReminderData struct {
	ClientName  string
	AdvisorName string
	DueDate     time.Time
}

func (d SIPReminderData) Subject() string {
	return fmt.Sprintf("SIP reminder: instalment due on %s", d.DueDate.Format("02 Jan 2006"))
}

func (d SIPReminderData) Text() string {
	return fmt.Sprintf("Hello %s,\n\nThis is a reminder that your SIP instalment is due on %s. "+
		"Please keep sufficient balance in your linked bank account.\n\nRegards,\n%s",
		d.ClientName, d.DueDate.Format("02 Jan 2006"), d.AdvisorName)
}

var sipReminderTemplate = template.Must(template.New("sip_reminder").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>SIP Reminder</title>
    <style>
        body { font-family: 'Helvetica Neue', Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background: #0f766e; color: white; padding: 24px; border-radius: 8px 8px 0 0; }
        .content { background: #f9fafb; padding: 24px; border: 1px solid #e5e7eb; }
        .due { font-size: 22px; font-weight: bold; color: #0f766e; margin: 16px 0; }
    </style>
</head>
<body>
    <div class="header"><h2>SIP Reminder</h2></div>
    <div class="content">
        <p>Hello {{.ClientName}},</p>
        <p>Your next SIP instalment is due on</p>
        <div class="due">{{.DueDate.Format "02 Jan 2006"}}</div>
        <p>Please keep sufficient balance in your linked bank account.</p>
        <p>Regards,<br>{{.AdvisorName}}</p>
    </div>
</body>
</html>`))

func (d SIPReminderData) HTML() (string, error) {
	var buf bytes.Buffer
	if err := sipReminderTemplate.Execute(&buf, d); err != nil {
		return "", fmt.Errorf("failed to render reminder: %w", err)
	}
	return buf.String(), nil
}
