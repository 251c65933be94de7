// Package sheets talks to the Google Apps Script web app that fronts the
// organization's spreadsheet. The script exposes a single POST endpoint
// multiplexed by an "action" field: "read_user" looks a person up in the
// registry sheet, "write_structured" appends a submitted request row.
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 10 * time.Second

// Config configures the bridge client.
type Config struct {
	// URL is the deployed Apps Script web app endpoint.
	URL string

	// Token is a shared secret the script checks before serving, optional.
	Token string

	// Timeout bounds each call. Defaults to 10 s.
	Timeout time.Duration
}

// Client is the Apps Script bridge. Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	url        string
	token      string
}

// New returns a bridge client for the given endpoint.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		url:        cfg.URL,
		token:      cfg.Token,
	}
}

// User is a registry sheet entry.
type User struct {
	Name     string `json:"name"`
	Language string `json:"language"`
}

// Inquiry is one confirmed request, appended as a row to the requests sheet.
type Inquiry struct {
	ID          string    `json:"id"`
	Identifier  string    `json:"phone"`
	DisplayName string    `json:"name"`
	Request     string    `json:"request"`
	CreatedAt   time.Time `json:"timestamp"`
}

// LookupUser fetches the registry entry for a phone number. The second return
// value reports whether the number is registered.
func (c *Client) LookupUser(ctx context.Context, phone string) (User, bool, error) {
	payload := map[string]any{
		"action": "read_user",
		"token":  c.token,
		"phone":  phone,
	}

	var result struct {
		Found bool   `json:"found"`
		Name  string `json:"name"`
		Lang  string `json:"language"`
		Error string `json:"error"`
	}
	if err := c.call(ctx, payload, &result); err != nil {
		return User{}, false, err
	}
	if result.Error != "" {
		return User{}, false, fmt.Errorf("sheets: read_user: %s", result.Error)
	}
	if !result.Found {
		return User{}, false, nil
	}
	return User{Name: result.Name, Language: result.Lang}, true, nil
}

// SubmitInquiry appends the confirmed request to the requests sheet.
func (c *Client) SubmitInquiry(ctx context.Context, inquiry Inquiry) error {
	payload := map[string]any{
		"action": "write_structured",
		"token":  c.token,
		"row":    inquiry,
	}

	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := c.call(ctx, payload, &result); err != nil {
		return err
	}
	if result.Error != "" {
		return fmt.Errorf("sheets: write_structured: %s", result.Error)
	}
	if !result.OK {
		return fmt.Errorf("sheets: write_structured: endpoint did not acknowledge")
	}
	return nil
}

func (c *Client) call(ctx context.Context, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sheets: encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sheets: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sheets: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sheets: endpoint status %d: %s", resp.StatusCode, snippet)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("sheets: decode response: %w", err)
	}
	return nil
}
