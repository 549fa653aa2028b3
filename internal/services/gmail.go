package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/mail"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GmailService reads and sends mail on behalf of the signed-in advisor using
// the Google access token the dashboard holds.
type GmailService struct {
	endpoint string
}

// GmailMessage is the inbox summary returned to the dashboard
type GmailMessage struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	From     string `json:"from"`
	Subject  string `json:"subject"`
	Date     string `json:"date"`
	Snippet  string `json:"snippet"`
}

// NewGmailService creates a Gmail client factory. An empty endpoint uses
// Google's default.
func NewGmailService(endpoint string) *GmailService {
	return &GmailService{endpoint: endpoint}
}

func (s *GmailService) service(ctx context.Context, accessToken string) (*gmail.Service, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, validationError("access_token is required")
	}

	opts := []option.ClientOption{
		option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})),
	}
	if s.endpoint != "" {
		opts = append(opts, option.WithEndpoint(s.endpoint))
	}

	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return svc, nil
}

// ListInbox returns the most recent INBOX messages
func (s *GmailService) ListInbox(ctx context.Context, accessToken string, maxResults int64) ([]GmailMessage, error) {
	if maxResults <= 0 || maxResults > 100 {
		maxResults = 10
	}

	svc, err := s.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	list, err := svc.Users.Messages.List("me").LabelIds("INBOX").MaxResults(maxResults).Context(ctx).Do()
	if err != nil {
		return nil, gmailError("list messages", err)
	}

	messages := make([]GmailMessage, 0, len(list.Messages))
	for _, m := range list.Messages {
		full, err := svc.Users.Messages.Get("me", m.Id).
			Format("metadata").
			MetadataHeaders("From", "Subject", "Date").
			Context(ctx).Do()
		if err != nil {
			return nil, gmailError("get message", err)
		}

		msg := GmailMessage{ID: full.Id, ThreadID: full.ThreadId, Snippet: full.Snippet}
		if full.Payload != nil {
			for _, h := range full.Payload.Headers {
				switch strings.ToLower(h.Name) {
				case "from":
					msg.From = h.Value
				case "subject":
					msg.Subject = h.Value
				case "date":
					msg.Date = h.Value
				}
			}
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// Send sends a plain-text message and returns the Gmail message id
func (s *GmailService) Send(ctx context.Context, accessToken, to, subject, body string) (string, error) {
	raw, err := buildRawMessage(to, subject, body)
	if err != nil {
		return "", err
	}

	svc, err := s.service(ctx, accessToken)
	if err != nil {
		return "", err
	}

	sent, err := svc.Users.Messages.Send("me", &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}).Context(ctx).Do()
	if err != nil {
		return "", gmailError("send message", err)
	}
	return sent.Id, nil
}

// buildRawMessage renders the RFC 2822 message Gmail expects in Message.Raw.
// Gmail fills in From for the authenticated account.
func buildRawMessage(to, subject, body string) ([]byte, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(to))
	if err != nil {
		return nil, validationError("invalid recipient %q", to)
	}
	if strings.TrimSpace(subject) == "" {
		return nil, validationError("subject is required")
	}
	if strings.TrimSpace(body) == "" {
		return nil, validationError("body is required")
	}

	var msg bytes.Buffer
	msg.WriteString("To: " + addr.String() + "\r\n")
	msg.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", stripCRLF(subject)) + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(crlf(body))
	return msg.Bytes(), nil
}

// gmailError maps an expired or revoked Google token to ErrInvalidToken and
// everything else to ErrExternalAPI.
func gmailError(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusUnauthorized {
		return fmt.Errorf("%w: gmail %s: %s", ErrInvalidToken, op, apiErr.Message)
	}
	return fmt.Errorf("%w: gmail %s: %v", ErrExternalAPI, op, err)
}
