package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Ulrichjack/institut-app-backend/pkg/config"
)

const maxErrorBody = 512

// WhatsAppSender posts text messages to a WhatsApp Business style HTTP API.
type WhatsAppSender struct {
	cfg    config.WhatsAppConfig
	client *http.Client
}

// NewWhatsAppSender constructs the sender. A nil client uses http.DefaultClient;
// per-call timeouts come from the context.
func NewWhatsAppSender(cfg config.WhatsAppConfig, client *http.Client) *WhatsAppSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &WhatsAppSender{cfg: cfg, client: client}
}

type whatsAppText struct {
	Body string `json:"body"`
}

type whatsAppPayload struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Text             whatsAppText `json:"text"`
}

// Send implements Sender.
func (s *WhatsAppSender) Send(ctx context.Context, destination string, content Content) error {
	if s.cfg.APIURL == "" {
		return errors.New("whatsapp api url not configured")
	}
	to := strings.TrimPrefix(NormalizePhone(destination), "+")
	if to == "" {
		return errors.New("empty whatsapp destination")
	}

	payload, err := json.Marshal(whatsAppPayload{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             whatsAppText{Body: content.Body},
	})
	if err != nil {
		return fmt.Errorf("marshal whatsapp payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.APIURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build whatsapp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.APIToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("whatsapp api status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
