package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// HTTPClient talks to the SMS gateway's REST API.
type HTTPClient struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *HTTPClient) Send(ctx context.Context, to, text string) (string, error) {
	body, err := json.Marshal(map[string]string{"to": to, "text": text})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", &Error{Transient: true, Msg: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", statusError(resp.StatusCode)
	}

	var out struct {
		MessageID string `json:"message_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &Error{Transient: true, Msg: "invalid send response: " + err.Error()}
	}
	if out.MessageID == "" {
		return "", &Error{Transient: false, Msg: "provider returned empty message id"}
	}
	return out.MessageID, nil
}

func (c *HTTPClient) PollStatus(ctx context.Context, providerMessageID string) (DeliveryState, error) {
	url := fmt.Sprintf("%s/messages/%s/status", c.BaseURL, providerMessageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return StateUnknown, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return StateUnknown, &Error{Transient: true, Msg: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return StateFailed, nil
	}
	if resp.StatusCode >= 300 {
		return StateUnknown, statusError(resp.StatusCode)
	}

	var out struct {
		DeliveryStatus string `json:"delivery_status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return StateUnknown, &Error{Transient: true, Msg: "invalid status response: " + err.Error()}
	}
	return mapDeliveryStatus(out.DeliveryStatus), nil
}

// mapDeliveryStatus normalizes the gateway's vocabulary onto ours.
func mapDeliveryStatus(s string) DeliveryState {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "delivered", "delivrd", "completed", "ok":
		return StateDelivered
	case "failed", "failure", "undelivered", "expired", "rejected", "error":
		return StateFailed
	case "sent", "queued", "accepted", "submitted", "enroute":
		return StatePending
	default:
		return StateUnknown
	}
}

func statusError(status int) error {
	return &Error{
		Status:    status,
		Transient: status >= 500 || status == http.StatusTooManyRequests,
		Msg:       http.StatusText(status),
	}
}
