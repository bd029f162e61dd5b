// Package content fetches the deferred call content a device asks for after
// the user answers. The text itself comes from an external service.
package content

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"wakeline/pkg/models"
)

var ErrUnavailable = errors.New("content service unavailable")

// Content is opaque to the pipeline and passed through to the device.
type Content struct {
	CallUUID    string          `json:"callUUID"`
	UserID      string          `json:"userId"`
	CallType    models.CallType `json:"callType"`
	Script      string          `json:"script,omitempty"`
	Prompts     []string        `json:"prompts"`
	GeneratedAt time.Time       `json:"generatedAt"`
}

type Generator interface {
	Generate(ctx context.Context, userID string, callType models.CallType, callUUID string) (Content, error)
}

// HTTPGenerator posts the request to the content service.
type HTTPGenerator struct {
	url        string
	httpClient *http.Client
}

func NewHTTPGenerator(url string, client *http.Client) *HTTPGenerator {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &HTTPGenerator{url: url, httpClient: client}
}

type generateRequest struct {
	UserID   string          `json:"userId"`
	CallType models.CallType `json:"callType"`
	CallUUID string          `json:"callUUID"`
}

func (g *HTTPGenerator) Generate(ctx context.Context, userID string, callType models.CallType, callUUID string) (Content, error) {
	body, err := json.Marshal(generateRequest{UserID: userID, CallType: callType, CallUUID: callUUID})
	if err != nil {
		return Content{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return Content{}, fmt.Errorf("build content request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return Content{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Content{}, fmt.Errorf("read content response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Content{}, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, string(raw))
	}

	var c Content
	if err := json.Unmarshal(raw, &c); err != nil {
		return Content{}, fmt.Errorf("decode content response: %w", err)
	}
	if len(c.Prompts) == 0 && c.Script == "" {
		return Content{}, fmt.Errorf("%w: empty content", ErrUnavailable)
	}
	c.CallUUID, c.UserID, c.CallType = callUUID, userID, callType
	if c.GeneratedAt.IsZero() {
		c.GeneratedAt = time.Now().UTC()
	}
	return c, nil
}

var fallbackPrompts = map[models.CallType][]string{
	models.CallTypeDailyReckoning: {
		"Did you do what you said you would do today?",
		"What got in the way?",
		"What will you do differently tomorrow?",
	},
	models.CallTypeOnboarding: {
		"Tell me what you want to hold yourself to.",
		"Why does it matter to you?",
	},
	models.CallTypeFirstCall: {
		"This is your first accountability call. What did you commit to?",
	},
}

// Static serves fixed prompts when no content service is configured.
type Static struct{}

func (Static) Generate(_ context.Context, userID string, callType models.CallType, callUUID string) (Content, error) {
	prompts, ok := fallbackPrompts[callType]
	if !ok {
		prompts = fallbackPrompts[models.CallTypeDailyReckoning]
	}
	return Content{
		CallUUID:    callUUID,
		UserID:      userID,
		CallType:    callType,
		Prompts:     append([]string(nil), prompts...),
		GeneratedAt: time.Now().UTC(),
	}, nil
}
