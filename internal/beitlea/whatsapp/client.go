// Package whatsapp implements the WhatsApp Business Cloud API channel: the
// inbound webhook, the outbound message client, and phone number handling.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultGraphURL      = "https://graph.facebook.com/v17.0"
	defaultClientTimeout = 15 * time.Second
)

// ClientConfig configures the outbound WhatsApp client.
type ClientConfig struct {
	// AccessToken is the Cloud API bearer token.
	AccessToken string

	// PhoneNumberID identifies the business phone number messages are sent
	// from.
	PhoneNumberID string

	// BaseURL overrides the Graph API endpoint, used by tests. Defaults to
	// the public endpoint when empty.
	BaseURL string

	// Timeout bounds each API call. Defaults to 15 s.
	Timeout time.Duration
}

// Client sends messages through the WhatsApp Business Cloud API.
type Client struct {
	httpClient  *http.Client
	accessToken string
	baseURL     string
	phoneID     string
}

// NewClient returns a Client ready for concurrent use.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGraphURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultClientTimeout
	}
	return &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		accessToken: cfg.AccessToken,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		phoneID:     cfg.PhoneNumberID,
	}
}

// Contact is the person shared via SendContactCard.
type Contact struct {
	Name  string
	Phone string
}

// SendText delivers a plain text message to the given recipient. The
// recipient is a normalized phone number; the API accepts it with or without
// the plus sign.
func (c *Client) SendText(ctx context.Context, to, body string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                strings.TrimPrefix(to, "+"),
		"type":              "text",
		"text": map[string]any{
			"preview_url": false,
			"body":        body,
		},
	}
	return c.post(ctx, payload)
}

// SendContactCard shares a contact entry with the recipient, used to point
// unregistered users at a human.
func (c *Client) SendContactCard(ctx context.Context, to string, contact Contact) error {
	first, last := splitName(contact.Name)
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                strings.TrimPrefix(to, "+"),
		"type":              "contacts",
		"contacts": []map[string]any{
			{
				"name": map[string]any{
					"formatted_name": contact.Name,
					"first_name":     first,
					"last_name":      last,
				},
				"phones": []map[string]any{
					{
						"phone": contact.Phone,
						"type":  "CELL",
						"wa_id": digitsOnly(contact.Phone),
					},
				},
			},
		},
	}
	return c.post(ctx, payload)
}

// MarkRead flags an inbound message as read, which shows the user the double
// blue check. Failures here are cosmetic and safe to ignore.
func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        messageID,
	}
	return c.post(ctx, payload)
}

func (c *Client) post(ctx context.Context, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("whatsapp: encode payload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("whatsapp: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("whatsapp: api status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// splitName derives first and last name fields from a display name; the API
// requires at least a first name alongside the formatted name.
func splitName(name string) (first, last string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
