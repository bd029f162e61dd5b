package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"wakeline/internal/content"
	"wakeline/internal/logs"
	"wakeline/pkg/models"
)

// Client talks to the server's device endpoints. It implements
// ReceiptSender, ContentFetcher and DebugReporter.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) SendReceipt(ctx context.Context, r models.DeliveryReceipt) error {
	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := c.post(ctx, "/voip/acknowledge", r, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("acknowledge rejected: %s", resp.Error)
	}
	return nil
}

func (c *Client) FetchContent(ctx context.Context, callUUID, userID string) (content.Content, error) {
	var resp struct {
		Success bool            `json:"success"`
		Error   string          `json:"error"`
		Content content.Content `json:"content"`
	}
	req := map[string]string{"callUUID": callUUID, "userId": userID}
	if err := c.post(ctx, "/voip/session/prompts", req, &resp); err != nil {
		return content.Content{}, err
	}
	if !resp.Success || (len(resp.Content.Prompts) == 0 && resp.Content.Script == "") {
		return content.Content{}, fmt.Errorf("%w: %s", content.ErrUnavailable, resp.Error)
	}
	return resp.Content, nil
}

// SendDebugEvent posts one diagnostic event to /debug/voip.
func (c *Client) SendDebugEvent(ctx context.Context, e logs.DebugEvent) error {
	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}
	if err := c.post(ctx, "/debug/voip", e, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("debug event rejected: %s", resp.Error)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("POST %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
