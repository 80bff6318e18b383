package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/anclora/whatsapp-pipeline/internal/event"
	"github.com/anclora/whatsapp-pipeline/internal/queue"
)

// ErrorClass groups gateway failures by how the queue should react.
type ErrorClass string

const (
	// ClassThrottled means the gateway is rate limiting us. Retryable.
	ClassThrottled ErrorClass = "throttled"
	// ClassInvalidRecipient means the number cannot receive messages.
	// Never retryable.
	ClassInvalidRecipient ErrorClass = "invalid_recipient"
	// ClassUnavailable covers gateway 5xx and transport errors. Retryable.
	ClassUnavailable ErrorClass = "gateway_unavailable"
)

// SendError is a classified delivery failure.
type SendError struct {
	Class      ErrorClass
	StatusCode int
	Detail     string
}

func (e *SendError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("gateway %s (status %d): %s", e.Class, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("gateway %s: %s", e.Class, e.Detail)
}

// Permanent reports whether retrying can ever succeed.
func (e *SendError) Permanent() bool {
	return e.Class == ClassInvalidRecipient
}

// Client delivers rendered messages through the WhatsApp gateway HTTP API.
type Client struct {
	baseURL  string
	apiKey   string
	instance string
	http     *http.Client
	logger   zerolog.Logger
}

func NewClient(baseURL, apiKey, instance string, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:  baseURL,
		apiKey:   apiKey,
		instance: instance,
		http:     &http.Client{Timeout: 15 * time.Second},
		logger:   logger.With().Str("component", "gateway").Logger(),
	}
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type sendMediaRequest struct {
	Number    string `json:"number"`
	MediaType string `json:"mediatype"`
	Media     string `json:"media"`
	Caption   string `json:"caption,omitempty"`
}

type sendResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
}

// Send performs one delivery attempt and returns the gateway message id.
func (c *Client) Send(ctx context.Context, job *queue.Job) (string, error) {
	var (
		path    string
		payload any
	)
	switch job.Message.Kind {
	case event.KindText:
		path = fmt.Sprintf("%s/message/sendText/%s", c.baseURL, c.instance)
		payload = sendTextRequest{Number: job.ContactID, Text: job.Message.Text}
	default:
		path = fmt.Sprintf("%s/message/sendMedia/%s", c.baseURL, c.instance)
		payload = sendMediaRequest{
			Number:    job.ContactID,
			MediaType: string(job.Message.Kind),
			Media:     job.Message.MediaURL,
			Caption:   job.Message.Caption,
		}
	}

	// Typing indicator ahead of the first text attempt only; retries go
	// straight to the send.
	if job.Message.Kind == event.KindText && job.Attempt == 1 {
		go func() {
			presenceCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			c.SendPresence(presenceCtx, job.ContactID, 1200*time.Millisecond)
		}()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode send request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &SendError{Class: ClassUnavailable, Detail: err.Error()}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 300 {
		return "", classify(resp.StatusCode, string(respBody))
	}

	var out sendResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		// Success status with an unparseable body still counts as sent.
		c.logger.Warn().Err(err).Msg("unparseable gateway response body")
	}
	return out.Key.ID, nil
}

// SendPresence signals a typing indicator before a reply. Best effort, a
// failure never blocks the actual send.
func (c *Client) SendPresence(ctx context.Context, contactID string, delay time.Duration) {
	payload := map[string]any{
		"number":   contactID,
		"presence": "composing",
		"delay":    delay.Milliseconds(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	path := fmt.Sprintf("%s/chat/sendPresence/%s", c.baseURL, c.instance)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("contact_id", contactID).Msg("presence update failed")
		return
	}
	resp.Body.Close()
}

func classify(status int, detail string) *SendError {
	switch {
	case status == http.StatusTooManyRequests:
		return &SendError{Class: ClassThrottled, StatusCode: status, Detail: detail}
	case status == http.StatusBadRequest || status == http.StatusNotFound:
		return &SendError{Class: ClassInvalidRecipient, StatusCode: status, Detail: detail}
	default:
		return &SendError{Class: ClassUnavailable, StatusCode: status, Detail: detail}
	}
}
