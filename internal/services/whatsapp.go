package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"advisorcrm/internal/config"
)

// WhatsAppSender delivers a WhatsApp text and returns the provider message id.
type WhatsAppSender interface {
	SendWhatsApp(ctx context.Context, from, to, body string) (string, error)
}

// WhatsAppService sends WhatsApp messages through the Twilio Messages API
type WhatsAppService struct {
	cfg        config.TwilioConfig
	httpClient *http.Client
}

// twilioMessage is the subset of the Twilio message resource we read back
type twilioMessage struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

func NewWhatsAppService(cfg config.TwilioConfig) *WhatsAppService {
	return &WhatsAppService{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// SendWhatsApp posts one message. from falls back to the configured sender.
func (s *WhatsAppService) SendWhatsApp(ctx context.Context, from, to, body string) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", validationError("message is required")
	}
	to = normalizePhone(to)
	if !strings.HasPrefix(to, "+") {
		return "", validationError("invalid phone number %q", to)
	}
	if strings.TrimSpace(from) == "" {
		from = s.cfg.From
	}
	if from == "" {
		return "", validationError("sender number is required")
	}

	form := url.Values{}
	form.Set("To", whatsappAddress(to))
	form.Set("From", whatsappAddress(normalizePhone(from)))
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json",
		strings.TrimRight(s.cfg.APIURL, "/"), url.PathEscape(s.cfg.AccountSID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(s.cfg.AccountSID, s.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: twilio request failed: %v", ErrExternalAPI, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: failed to read twilio response: %v", ErrExternalAPI, err)
	}

	if resp.StatusCode >= 400 {
		var apiErr twilioError
		if json.Unmarshal(payload, &apiErr) == nil && apiErr.Message != "" {
			return "", fmt.Errorf("%w: twilio %d: %s (code %d)", ErrExternalAPI, resp.StatusCode, apiErr.Message, apiErr.Code)
		}
		return "", fmt.Errorf("%w: twilio returned status %d", ErrExternalAPI, resp.StatusCode)
	}

	var msg twilioMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return "", fmt.Errorf("%w: failed to decode twilio response: %v", ErrExternalAPI, err)
	}
	if msg.ErrorCode != nil {
		return "", fmt.Errorf("%w: twilio error %d: %s", ErrExternalAPI, *msg.ErrorCode, msg.ErrorMessage)
	}

	return msg.SID, nil
}

func whatsappAddress(phone string) string {
	if strings.HasPrefix(phone, "whatsapp:") {
		return phone
	}
	return "whatsapp:" + phone
}

// LogWhatsAppService is used in development when no Twilio account is set
type LogWhatsAppService struct{}

func NewLogWhatsAppService() *LogWhatsAppService {
	return &LogWhatsAppService{}
}

func (s *LogWhatsAppService) SendWhatsApp(ctx context.Context, from, to, body string) (string, error) {
	log.Printf("[WHATSAPP] (not configured) to=%s from=%s body=%q", normalizePhone(to), from, body)
	return "", nil
}
