package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"wakeline/pkg/models"
)

// ExpoRelay sends high priority data pushes through the Expo push API.
type ExpoRelay struct {
	httpClient  *http.Client
	url         string
	accessToken string
	title       string
	body        string
	channelID   string
}

type ExpoOptions struct {
	URL         string
	AccessToken string
	Title       string
	Body        string
	ChannelID   string
	HTTPClient  *http.Client
}

func NewExpoRelay(opts ExpoOptions) *ExpoRelay {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &ExpoRelay{
		httpClient:  client,
		url:         opts.URL,
		accessToken: opts.AccessToken,
		title:       opts.Title,
		body:        opts.Body,
		channelID:   opts.ChannelID,
	}
}

type expoMessage struct {
	To               string         `json:"to"`
	Title            string         `json:"title"`
	Body             string         `json:"body"`
	Data             map[string]any `json:"data"`
	Sound            *string        `json:"sound"`
	Priority         string         `json:"priority"`
	ChannelID        string         `json:"channelId,omitempty"`
	ContentAvailable bool           `json:"_contentAvailable"`
}

type expoTicket struct {
	Status  string `json:"status"`
	ID      string `json:"id"`
	Message string `json:"message"`
	Details struct {
		Error string `json:"error"`
	} `json:"details"`
}

type expoResponse struct {
	Data   []expoTicket `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// relayData flattens the payload into the data map both relays carry.
func relayData(p models.WakePayload) map[string]any {
	metadata := p.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	data := map[string]any{
		"callUUID": p.CallUUID,
		"uuid":     p.CallUUID,
		"userId":   p.UserID,
		"callType": string(p.CallType),
		"type":     string(p.Type),
		"urgency":  string(p.Urgency),
		"handle":   p.Handle,
		"caller":   p.Caller,
		"metadata": metadata,
	}
	if p.AttemptNumber > 0 {
		data["attemptNumber"] = p.AttemptNumber
	}
	if p.RetryReason != "" {
		data["retryReason"] = string(p.RetryReason)
	}
	if p.Message != "" {
		data["message"] = p.Message
	}
	return data
}

func (r *ExpoRelay) Send(ctx context.Context, deviceToken string, p models.WakePayload) (string, error) {
	msg := expoMessage{
		To:               deviceToken,
		Title:            r.title,
		Body:             r.body,
		Data:             relayData(p),
		Sound:            nil,
		Priority:         "high",
		ChannelID:        r.channelID,
		ContentAvailable: true,
	}

	body, err := json.Marshal([]expoMessage{msg})
	if err != nil {
		return "", fmt.Errorf("marshal expo message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build expo request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if r.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.accessToken)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("expo request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read expo response: %w", err)
	}

	var parsed expoResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		if resp.StatusCode >= 300 {
			return "", fmt.Errorf("expo http %d", resp.StatusCode)
		}
		return "", fmt.Errorf("decode expo response: %w", err)
	}

	if len(parsed.Errors) > 0 {
		return "", rejected(parsed.Errors[0].Code + ": " + parsed.Errors[0].Message)
	}
	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("expo http %d", resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		return "", rejected(fmt.Sprintf("http %d", resp.StatusCode))
	}
	if len(parsed.Data) == 0 {
		return "", fmt.Errorf("expo response carried no ticket")
	}

	ticket := parsed.Data[0]
	if ticket.Status != "ok" {
		reason := ticket.Message
		if ticket.Details.Error != "" {
			reason = ticket.Details.Error + ": " + reason
		}
		return "", rejected(reason)
	}
	return ticket.ID, nil
}
