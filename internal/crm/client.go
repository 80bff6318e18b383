package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ConversionRecord is the upsert payload sent to the CRM. IdempotencyKey is
// (contact, event type, occurrence window), so re-sending the same conversion
// never creates a duplicate record.
type ConversionRecord struct {
	ContactID      string    `json:"contact_id"`
	EventType      string    `json:"event_type"`
	Value          float64   `json:"value,omitempty"`
	State          string    `json:"conversation_state"`
	OccurredAt     time.Time `json:"occurred_at"`
	IdempotencyKey string    `json:"-"`
}

// Client talks to the agency CRM's REST API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// UpsertConversion writes one conversion record. The CRM deduplicates on the
// Idempotency-Key header.
func (c *Client) UpsertConversion(ctx context.Context, rec ConversionRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode conversion: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rest/conversions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build conversion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Idempotency-Key", rec.IdempotencyKey)
	return c.do(req)
}

// FlagHandoff marks a contact as waiting for a human agent.
func (c *Client) FlagHandoff(ctx context.Context, contactID string) error {
	body, err := json.Marshal(map[string]any{"needs_agent": true, "flagged_at": time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode handoff: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.baseURL+"/rest/contacts/"+contactID, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build handoff request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	return c.do(req)
}

func (c *Client) do(req *http.Request) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("crm responded %d", resp.StatusCode)
	}
	return nil
}
